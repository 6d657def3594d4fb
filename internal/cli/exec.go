package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tOgg1/hostdeck/internal/models"
)

var (
	execServers []string
	execAll     bool
	execQuiet   bool
)

func init() {
	rootCmd.AddCommand(execCmd)
	execCmd.Flags().StringArrayVarP(&execServers, "server", "s", nil, "server name, id or id prefix (repeatable)")
	execCmd.Flags().BoolVar(&execAll, "all", false, "run on every stored server")
	execCmd.Flags().BoolVarP(&execQuiet, "quiet", "q", false, "print only the result table, not command output")
}

var execCmd = &cobra.Command{
	Use:   "exec [flags] -- <command>",
	Short: "Run a shell command on one or more servers",
	Long: `Run a shell command on the selected servers concurrently.

Each host succeeds or fails on its own. The exit status is 3 when at least
one host failed.`,
	Example: `  hostdeck exec -s web1 -- uptime
  hostdeck exec -s web1 -s web2 -- 'df -h /'
  hostdeck exec --all -- systemctl is-active nginx`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		command := strings.TrimSpace(strings.Join(args, " "))
		if command == "" {
			return fmt.Errorf("command must not be empty")
		}

		a, err := openApp(cmd.Context(), appConfig)
		if err != nil {
			return err
		}
		defer a.Close()

		targets, err := resolveServerIDs(cmd.Context(), a.store, a.contexts(), execServers, execAll)
		if err != nil {
			return err
		}

		var results []models.CommandResult
		if len(targets) == 1 {
			results = []models.CommandResult{a.executor.RunOne(cmd.Context(), targets[0].ID, command)}
		} else {
			batch := a.executor.RunBatch(cmd.Context(), serverIDs(targets), command)
			for _, s := range targets {
				results = append(results, batch[s.ID])
			}
		}

		failed := 0
		for _, r := range results {
			if !r.Success {
				failed++
			}
		}

		out := cmd.OutOrStdout()
		if jsonOutput {
			if err := writeJSON(out, results); err != nil {
				return err
			}
			return hostFailures(failed, len(results))
		}

		if !execQuiet {
			for _, r := range results {
				fmt.Fprintf(out, "%s %s\n", paint(headStyle, "==> "+r.ServerName), okFail(r.Success))
				if r.Stdout != "" {
					fmt.Fprint(out, ensureNewline(r.Stdout))
				}
				if r.Stderr != "" {
					fmt.Fprint(out, paint(warnStyle, ensureNewline(r.Stderr)))
				}
			}
			fmt.Fprintln(out)
		}

		sort.SliceStable(results, func(i, j int) bool { return !results[i].Success && results[j].Success })
		rows := make([][]string, 0, len(results))
		for _, r := range results {
			code := "-"
			if r.ExitCode != nil {
				code = itoa(*r.ExitCode)
			}
			rows = append(rows, []string{
				r.ServerName, okFail(r.Success), code, string(r.ErrorKind), itoa(int(r.ExecutionTimeMs)) + "ms",
			})
		}
		if err := writeTable(out, []string{"SERVER", "RESULT", "EXIT", "ERROR", "TIME"}, rows); err != nil {
			return err
		}
		return hostFailures(failed, len(results))
	},
}

func ensureNewline(s string) string {
	if strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}
