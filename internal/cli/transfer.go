package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tOgg1/hostdeck/internal/models"
)

var (
	transferServers []string
	transferAll     bool
	downloadDest    string
)

func init() {
	rootCmd.AddCommand(uploadCmd, downloadCmd)
	for _, c := range []*cobra.Command{uploadCmd, downloadCmd} {
		c.Flags().StringArrayVarP(&transferServers, "server", "s", nil, "server name, id or id prefix (repeatable)")
		c.Flags().BoolVar(&transferAll, "all", false, "use every stored server")
	}
	downloadCmd.Flags().StringVarP(&downloadDest, "dest", "d", ".", "local destination directory")
}

var uploadCmd = &cobra.Command{
	Use:   "upload <local-file> <remote-path>",
	Short: "Upload a file to one or more servers",
	Long: `Upload a local file. A remote path ending in "/" is treated as a
directory and the local file name is appended.`,
	Example: `  hostdeck upload -s web1 ./app.conf /etc/app/
  hostdeck upload --all ./motd /etc/motd`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		local, remote := args[0], args[1]
		f, err := os.Open(local)
		if err != nil {
			return err
		}
		defer f.Close()
		if info, err := f.Stat(); err != nil {
			return err
		} else if info.IsDir() {
			return fmt.Errorf("%s is a directory", local)
		}

		a, err := openApp(cmd.Context(), appConfig)
		if err != nil {
			return err
		}
		defer a.Close()

		targets, err := resolveServerIDs(cmd.Context(), a.store, a.contexts(), transferServers, transferAll)
		if err != nil {
			return err
		}
		name := filepath.Base(local)
		var results []models.TransferResult
		if len(targets) == 1 {
			results = []models.TransferResult{a.transfers.Upload(cmd.Context(), targets[0].ID, name, f, remote)}
		} else {
			batch := a.transfers.UploadBatch(cmd.Context(), serverIDs(targets), name, f, remote)
			for _, s := range targets {
				results = append(results, batch[s.ID])
			}
		}
		return reportTransfers(cmd, results)
	},
}

var downloadCmd = &cobra.Command{
	Use:   "download <remote-path>",
	Short: "Download a file from one or more servers",
	Long: `Download a remote file into --dest. Each copy is named
"<server name>_<file name>" so several servers never collide.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := os.MkdirAll(downloadDest, 0o755); err != nil {
			return err
		}

		a, err := openApp(cmd.Context(), appConfig)
		if err != nil {
			return err
		}
		defer a.Close()

		targets, err := resolveServerIDs(cmd.Context(), a.store, a.contexts(), transferServers, transferAll)
		if err != nil {
			return err
		}
		batch := a.transfers.DownloadBatch(cmd.Context(), serverIDs(targets), args[0], downloadDest)
		results := make([]models.TransferResult, 0, len(targets))
		for _, s := range targets {
			results = append(results, batch[s.ID])
		}
		return reportTransfers(cmd, results)
	},
}

func reportTransfers(cmd *cobra.Command, results []models.TransferResult) error {
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

	rows := make([][]string, 0, len(results))
	for _, r := range results {
		rows = append(rows, []string{r.ServerName, okFail(r.Success), r.ResolvedRemotePath, truncate(r.Message, 60)})
	}
	if err := writeTable(out, []string{"SERVER", "RESULT", "PATH", "MESSAGE"}, rows); err != nil {
		return err
	}
	return hostFailures(failed, len(results))
}
