package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tOgg1/hostdeck/internal/auth"
)

var hashStdin bool

func init() {
	rootCmd.AddCommand(hashPasswordCmd)
	hashPasswordCmd.Flags().BoolVar(&hashStdin, "stdin", false, "read the password from stdin")
}

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password",
	Short: "Print a bcrypt hash for auth.admin_password_hash",
	Long: `Prompt for a password and print its bcrypt hash. Put the result in
auth.admin_password_hash (or HOSTDECK_AUTH_ADMIN_PASSWORD_HASH) so the
plaintext never sits in the config file.`,
	Args: cobra.NoArgs,
	// Hashing needs no config; skip loading it so a broken config can be fixed.
	PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		pw, err := readSecret(cmd, "Password: ", hashStdin)
		if err != nil {
			return err
		}
		hash, err := auth.HashPassword(pw)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}
