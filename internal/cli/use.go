package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var useClear bool

func init() {
	rootCmd.AddCommand(useCmd)
	useCmd.Flags().BoolVar(&useClear, "clear", false, "clear the selection")
}

var useCmd = &cobra.Command{
	Use:   "use [server]",
	Short: "Select the default server for exec, status and transfers",
	Long: `Select the server used when --server is omitted. Without arguments the
current selection is shown.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), appConfig)
		if err != nil {
			return err
		}
		defer a.Close()

		contexts := a.contexts()
		out := cmd.OutOrStdout()

		if useClear {
			if err := contexts.Clear(); err != nil {
				return err
			}
			fmt.Fprintln(out, "Selection cleared")
			return nil
		}

		current, err := contexts.Load()
		if err != nil {
			return err
		}
		if len(args) == 0 {
			if jsonOutput {
				return writeJSON(out, current)
			}
			fmt.Fprintln(out, current.String())
			return nil
		}

		s, err := findServer(cmd.Context(), a.store, args[0])
		if err != nil {
			return err
		}
		current.SetServer(s.ID, s.DisplayName())
		if err := contexts.Save(current); err != nil {
			return err
		}
		fmt.Fprintf(out, "Using %s (%s)\n", s.DisplayName(), shortID(s.ID))
		return nil
	},
}
