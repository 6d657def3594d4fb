// Package cli implements the hostdeck command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/tOgg1/hostdeck/internal/config"
	"github.com/tOgg1/hostdeck/internal/logging"
)

// Exit codes.
const (
	ExitSuccess     = 0
	ExitError       = 1
	ExitConfigError = 2
	// ExitHostFailure means the command ran but at least one host failed.
	ExitHostFailure = 3
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Global flags.
var (
	cfgFile    string
	envFile    string
	jsonOutput bool
	noColor    bool
	logLevel   string
)

var appConfig *config.Config

var rootCmd = &cobra.Command{
	Use:   "hostdeck",
	Short: "Manage a fleet of servers over SSH",
	Long: `hostdeck stores server credentials (encrypted at rest), runs commands on
one server or many, moves files, and probes health metrics.

Run "hostdeck serve" for the HTTP API, or use the subcommands directly.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: search ~/.config/hostdeck, .)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file read before environment variables (empty disables)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "write JSON output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level")
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)
}

// SetVersion is called from main with build-time values.
func SetVersion(v, c, d string) {
	version, commit, date = v, c, d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	return ExecuteContext(context.Background(), os.Args[1:], os.Stdout, os.Stderr)
}

// ExecuteContext runs the command tree with explicit args and writers.
func ExecuteContext(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}

	var exitErr *exitCodeError
	if errors.As(err, &exitErr) {
		if exitErr.Err != nil {
			fmt.Fprintf(stderr, "error: %v\n", exitErr.Err)
		}
		return exitErr.Code
	}
	fmt.Fprintf(stderr, "error: %v\n", err)
	return ExitError
}

// exitCodeError carries a specific exit code out of a command.
type exitCodeError struct {
	Code int
	Err  error
}

func (e *exitCodeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *exitCodeError) Unwrap() error {
	return e.Err
}

// hostFailures reports partial failure without printing an extra error line.
func hostFailures(failed, total int) error {
	if failed == 0 {
		return nil
	}
	return &exitCodeError{Code: ExitHostFailure, Err: fmt.Errorf("%d of %d hosts failed", failed, total)}
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	loader := config.NewLoader()
	if cfgFile != "" {
		loader.SetConfigFile(cfgFile)
	}
	loader.SetEnvFile(envFile)
	if logLevel != "" {
		loader.Set("logging.level", logLevel)
	}

	cfg, err := loader.Load()
	if err != nil {
		return &exitCodeError{Code: ExitConfigError, Err: err}
	}
	if err := cfg.Validate(); err != nil {
		return &exitCodeError{Code: ExitConfigError, Err: fmt.Errorf("invalid config: %w", err)}
	}

	logCfg := logging.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		Output:       cmd.ErrOrStderr(),
		EnableCaller: cfg.Logging.EnableCaller,
		NoColor:      noColor,
	}
	if cfg.Logging.File != "" {
		f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return &exitCodeError{Code: ExitConfigError, Err: fmt.Errorf("open log file: %w", err)}
		}
		logCfg.Output = f
		logCfg.Format = "json"
	}
	logging.Init(logCfg)

	appConfig = cfg
	return nil
}
