package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/tOgg1/hostdeck/internal/config"
	"github.com/tOgg1/hostdeck/internal/db"
	"github.com/tOgg1/hostdeck/internal/events"
	"github.com/tOgg1/hostdeck/internal/executor"
	"github.com/tOgg1/hostdeck/internal/logging"
	"github.com/tOgg1/hostdeck/internal/secrets"
	"github.com/tOgg1/hostdeck/internal/session"
	"github.com/tOgg1/hostdeck/internal/ssh"
	"github.com/tOgg1/hostdeck/internal/status"
	"github.com/tOgg1/hostdeck/internal/store"
	"github.com/tOgg1/hostdeck/internal/transfer"
)

// app is the in-process core shared by every subcommand.
type app struct {
	cfg       *config.Config
	db        *db.DB
	store     *store.Store
	publisher *events.InMemoryPublisher
	history   *db.HistoryRepository
	commands  *db.CommandRepository
	events    *db.EventRepository
	sessions  *session.Registry
	executor  *executor.Executor
	transfers *transfer.Manager
	prober    *status.Prober
}

// openApp wires the store, database, registry and operation managers.
func openApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if cfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	logger := logging.Component("cli")
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}
	if cfg.UsingDefaultKey() {
		logger.Warn().Msg("no encryption key configured; stored secrets use the built-in default key")
	}

	cipher, err := secrets.NewCipher(cfg.EffectiveEncryptionKey())
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}

	database, err := db.Open(db.Config{Path: cfg.DatabasePath(), BusyTimeoutMs: cfg.Database.BusyTimeoutMs})
	if err != nil {
		return nil, err
	}
	if _, err := database.MigrateUp(ctx); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	eventRepo := db.NewEventRepository(database)
	publisher := events.NewInMemoryPublisher(events.WithRepository(eventRepo))

	servers, err := store.Open(cfg.ServersPath(), cipher, store.WithPublisher(publisher))
	if err != nil {
		_ = database.Close()
		return nil, err
	}

	history := db.NewHistoryRepository(database, cfg.Database.HistoryLimit)
	registry := session.NewRegistry(servers, ssh.NewNativeDialer(logging.Component("ssh")),
		session.WithPublisher(publisher),
		session.WithDefaults(session.DefaultsFromConfig(cfg.SSH)),
		session.WithCipher(cipher),
	)

	return &app{
		cfg:       cfg,
		db:        database,
		store:     servers,
		publisher: publisher,
		history:   history,
		commands:  db.NewCommandRepository(database),
		events:    eventRepo,
		sessions:  registry,
		executor: executor.New(registry,
			executor.WithHistory(history),
			executor.WithPublisher(publisher),
			executor.WithMaxParallel(cfg.Executor.MaxParallel),
			executor.WithTimeout(cfg.Executor.CommandTimeout),
		),
		transfers: transfer.New(registry,
			transfer.WithHistory(history),
			transfer.WithPublisher(publisher),
			transfer.WithStagingDir(cfg.Transfer.StagingDir),
			transfer.WithTimeout(cfg.Transfer.Timeout),
			transfer.WithMaxParallel(cfg.Executor.MaxParallel),
		),
		prober: status.NewProber(registry,
			status.WithPublisher(publisher),
			status.WithTimeout(cfg.Status.ProbeTimeout),
			status.WithMaxParallel(cfg.Executor.MaxParallel),
		),
	}, nil
}

// Close tears down sessions before the database.
func (a *app) Close() error {
	return errors.Join(a.sessions.DisposeAll(), a.db.Close())
}

func (a *app) pollerConfig() status.PollerConfig {
	return status.PollerConfig{
		Interval:           a.cfg.Status.PollInterval,
		HistorySize:        a.cfg.Status.HistorySize,
		MaxConcurrentPolls: a.cfg.Executor.MaxParallel,
	}
}

// contexts returns the store for the "hostdeck use" selection.
func (a *app) contexts() *config.ContextStore {
	return config.NewContextStore(filepath.Join(a.cfg.Global.ConfigDir, "context.yaml"))
}
