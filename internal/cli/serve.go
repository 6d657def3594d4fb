package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tOgg1/hostdeck/internal/api"
	"github.com/tOgg1/hostdeck/internal/auth"
	"github.com/tOgg1/hostdeck/internal/logging"
	"github.com/tOgg1/hostdeck/internal/status"
)

const tokenSweepInterval = 5 * time.Minute

var (
	serveHost string
	servePort int
	noPoll    bool
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveHost, "host", "", "override http.host")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "override http.port")
	serveCmd.Flags().BoolVar(&noPoll, "no-poll", false, "disable the background status poller")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Run the HTTP API until SIGINT or SIGTERM.

Every endpoint except /api/health and /api/auth/login needs a bearer token
from POST /api/auth/login.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := appConfig
		if serveHost != "" {
			cfg.HTTP.Host = serveHost
		}
		if servePort != 0 {
			cfg.HTTP.Port = servePort
		}
		logger := logging.Component("serve")

		authenticator, err := auth.New(cfg.Auth)
		if err != nil {
			return &exitCodeError{Code: ExitConfigError, Err: err}
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := openApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := a.Close(); err != nil {
				logger.Warn().Err(err).Msg("shutdown cleanup")
			}
		}()

		poller := status.NewPoller(a.pollerConfig(), a.prober, a.sessions, a.publisher)
		if cfg.Status.PollEnabled && !noPoll {
			if err := poller.Start(ctx); err != nil {
				return err
			}
			defer func() {
				if err := poller.Stop(); err != nil && !errors.Is(err, status.ErrPollerNotRunning) {
					logger.Warn().Err(err).Msg("stop poller")
				}
			}()
		}

		go sweepTokens(ctx, authenticator)

		server := api.New(cfg.HTTP, api.Deps{
			Auth:      authenticator,
			Store:     a.store,
			Sessions:  a.sessions,
			Executor:  a.executor,
			Transfers: a.transfers,
			Prober:    a.prober,
			Status:    poller,
			Commands:  a.commands,
			History:   a.history,
			Events:    a.events,
			Publisher: a.publisher,
		})
		logger.Info().
			Str("addr", server.Addr()).
			Bool("poller", poller.IsRunning()).
			Str("servers", a.store.Path()).
			Msg("starting hostdeck")
		return server.Run(ctx)
	},
}

func sweepTokens(ctx context.Context, a *auth.Authenticator) {
	ticker := time.NewTicker(tokenSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Sweep()
		}
	}
}
