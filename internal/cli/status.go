package cli

import (
	"github.com/spf13/cobra"

	"github.com/tOgg1/hostdeck/internal/models"
)

var (
	statusServers []string
	statusAll     bool
)

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringArrayVarP(&statusServers, "server", "s", nil, "server name, id or id prefix (repeatable)")
	statusCmd.Flags().BoolVar(&statusAll, "all", false, "probe every stored server")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Probe server health",
	Long: `Probe uptime, CPU, memory, disk, load and network counters.

An unreachable server is reported offline rather than failing the command.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), appConfig)
		if err != nil {
			return err
		}
		defer a.Close()

		targets, err := resolveServerIDs(cmd.Context(), a.store, a.contexts(), statusServers, statusAll)
		if err != nil {
			return err
		}
		probed := a.prober.ProbeAll(cmd.Context(), serverIDs(targets))

		statuses := make([]models.ServerStatus, 0, len(targets))
		for _, s := range targets {
			statuses = append(statuses, probed[s.ID])
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			return writeJSON(out, statuses)
		}

		names := nameIndex(targets)
		rows := make([][]string, 0, len(statuses))
		for _, st := range statuses {
			detail := st.Uptime
			if !st.Online {
				detail = st.Error
			}
			rows = append(rows, []string{
				names[st.ID],
				onlineLabel(st.Online),
				percentLabel(st.CPUPercent, st.Online),
				percentLabel(st.MemoryPercent, st.Online),
				percentLabel(st.DiskPercent, st.Online),
				st.LoadAverage,
				truncate(detail, 48),
			})
		}
		return writeTable(out, []string{"SERVER", "STATE", "CPU", "MEM", "DISK", "LOAD", "UPTIME"}, rows)
	},
}
