package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tOgg1/hostdeck/internal/inventory"
	"github.com/tOgg1/hostdeck/internal/models"
)

var (
	addName     string
	addHost     string
	addPort     int
	addUser     string
	addAuthType string
	addKeyPath  string
	addPassword bool

	exportOutput string
)

func init() {
	rootCmd.AddCommand(serversCmd)
	serversCmd.AddCommand(serversListCmd, serversAddCmd, serversRmCmd, serversExportCmd, serversImportCmd)

	serversAddCmd.Flags().StringVar(&addName, "name", "", "display name")
	serversAddCmd.Flags().StringVar(&addHost, "host", "", "IP address or hostname (required)")
	serversAddCmd.Flags().IntVar(&addPort, "port", models.DefaultSSHPort, "SSH port")
	serversAddCmd.Flags().StringVar(&addUser, "user", "root", "SSH login user")
	serversAddCmd.Flags().StringVar(&addAuthType, "auth", string(models.AuthTypePassword), "auth type: password or key")
	serversAddCmd.Flags().StringVar(&addKeyPath, "key", "", "private key path (with --auth key)")
	serversAddCmd.Flags().BoolVar(&addPassword, "password-stdin", false, "read the password from stdin instead of prompting")
	_ = serversAddCmd.MarkFlagRequired("host")

	serversExportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "write to file instead of stdout")
}

var serversCmd = &cobra.Command{
	Use:     "servers",
	Aliases: []string{"server"},
	Short:   "Manage stored servers",
}

var serversListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List stored servers",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), appConfig)
		if err != nil {
			return err
		}
		defer a.Close()

		servers, err := a.store.List(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			redacted := make([]models.Server, len(servers))
			for i, s := range servers {
				redacted[i] = s.Redacted()
			}
			return writeJSON(out, redacted)
		}
		if len(servers) == 0 {
			fmt.Fprintln(out, "No servers registered. Add one with 'hostdeck servers add --host <ip>'.")
			return nil
		}

		table := make([][]string, 0, len(servers))
		for _, s := range servers {
			cred := s.KeyPath
			if s.AuthType == models.AuthTypePassword {
				cred = "********"
			}
			table = append(table, []string{
				shortID(s.ID), s.DisplayName(), s.User + "@" + s.Addr(), string(s.AuthType), cred,
			})
		}
		return writeTable(out, []string{"ID", "NAME", "ADDRESS", "AUTH", "CREDENTIAL"}, table)
	},
}

var serversAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a server",
	Long: `Add a server to the credential store.

Password servers prompt for the password (or read it from stdin with
--password-stdin). The password is encrypted before it is written.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		server := models.Server{
			Name:     strings.TrimSpace(addName),
			Host:     strings.TrimSpace(addHost),
			Port:     addPort,
			User:     addUser,
			AuthType: models.AuthType(addAuthType),
			KeyPath:  addKeyPath,
		}
		if server.Name == "" {
			server.Name = server.Host
		}
		if server.AuthType == models.AuthTypePassword {
			pw, err := readSecret(cmd, "Password for "+server.User+"@"+server.Host+": ", addPassword)
			if err != nil {
				return err
			}
			server.Password = pw
		}
		check := server
		check.ID = "new"
		if err := check.Validate(); err != nil {
			return err
		}

		a, err := openApp(cmd.Context(), appConfig)
		if err != nil {
			return err
		}
		defer a.Close()

		stored, ok := a.store.Insert(cmd.Context(), server)
		if !ok {
			return fmt.Errorf("could not save server (see log)")
		}
		if jsonOutput {
			return writeJSON(cmd.OutOrStdout(), stored.Redacted())
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Added %s (%s)\n", stored.DisplayName(), stored.ID)
		return nil
	},
}

var serversRmCmd = &cobra.Command{
	Use:     "rm <server>...",
	Aliases: []string{"remove", "delete"},
	Short:   "Remove servers",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), appConfig)
		if err != nil {
			return err
		}
		defer a.Close()

		for _, ref := range args {
			s, err := findServer(cmd.Context(), a.store, ref)
			if err != nil {
				return err
			}
			if !a.store.Delete(cmd.Context(), s.ID) {
				return fmt.Errorf("could not remove %s (see log)", s.DisplayName())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s (%s)\n", s.DisplayName(), shortID(s.ID))
		}
		return nil
	},
}

var serversExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export servers as YAML",
	Long: `Export every server as a YAML inventory. Passwords stay encrypted, so the
file can only be imported by an installation with the same encryption key.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), appConfig)
		if err != nil {
			return err
		}
		defer a.Close()

		var out io.Writer = cmd.OutOrStdout()
		if exportOutput != "" {
			f, err := os.OpenFile(exportOutput, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
			if err != nil {
				return err
			}
			defer f.Close()
			out = f
		}
		return inventory.Export(cmd.Context(), a.store, out)
	},
}

var serversImportCmd = &cobra.Command{
	Use:   "import <file|->",
	Short: "Import servers from a YAML inventory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var in io.Reader = cmd.InOrStdin()
		if args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			in = f
		}
		doc, err := inventory.Parse(in)
		if err != nil {
			return err
		}

		a, err := openApp(cmd.Context(), appConfig)
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := inventory.Import(cmd.Context(), a.store, doc)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			return writeJSON(out, report)
		}
		fmt.Fprintf(out, "Imported: %d added, %d updated, %d skipped\n", report.Added, report.Updated, len(report.Skipped))
		for _, s := range report.Skipped {
			fmt.Fprintf(out, "  %s #%d %s: %s\n", paint(warnStyle, "skipped"), s.Index, s.Name, s.Reason)
		}
		return nil
	},
}

// readSecret prompts on a terminal without echo, or reads one line from
// stdin when fromStdin is set or stdin is not a terminal.
func readSecret(cmd *cobra.Command, prompt string, fromStdin bool) (string, error) {
	if f, ok := cmd.InOrStdin().(*os.File); ok && !fromStdin && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(cmd.ErrOrStderr(), prompt)
		raw, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(raw), nil
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
