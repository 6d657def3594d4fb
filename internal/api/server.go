// Package api serves the hostdeck HTTP API.
package api

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/tOgg1/hostdeck/internal/auth"
	"github.com/tOgg1/hostdeck/internal/config"
	"github.com/tOgg1/hostdeck/internal/db"
	"github.com/tOgg1/hostdeck/internal/events"
	"github.com/tOgg1/hostdeck/internal/inventory"
	"github.com/tOgg1/hostdeck/internal/logging"
	"github.com/tOgg1/hostdeck/internal/models"
	"github.com/tOgg1/hostdeck/internal/session"
	"github.com/tOgg1/hostdeck/internal/transfer"
)

// ServerStore is the credential store surface used by the API. It has no
// decrypted listing.
type ServerStore interface {
	inventory.Store
	Save(ctx context.Context, servers []models.Server) bool
	Insert(ctx context.Context, server models.Server) (models.Server, bool)
	Delete(ctx context.Context, id string) bool
}

// Sessions is the session registry surface used by the API.
type Sessions interface {
	Connect(ctx context.Context, server models.Server) (*session.Session, error)
	Dispose(serverID string) error
	DisposeAll() error
	Connected() []string
}

// Executor runs commands.
type Executor interface {
	RunOne(ctx context.Context, serverID, command string) models.CommandResult
	RunBatch(ctx context.Context, serverIDs []string, command string) map[string]models.CommandResult
}

// Transfers moves files.
type Transfers interface {
	Upload(ctx context.Context, serverID, fileName string, src io.Reader, remotePath string) models.TransferResult
	UploadBatch(ctx context.Context, serverIDs []string, fileName string, src io.Reader, remotePath string) map[string]models.TransferResult
	Download(ctx context.Context, serverID, remotePath string) (*transfer.Download, error)
}

// Prober probes one server on demand.
type Prober interface {
	Probe(ctx context.Context, serverID string) models.ServerStatus
}

// StatusSource exposes the background poller's view.
type StatusSource interface {
	Snapshot() []models.ServerStatus
	History(serverID string) []models.StatusSample
	Observe(status models.ServerStatus)
	Forget(serverID string)
}

// Commands is the command library.
type Commands interface {
	List(ctx context.Context) ([]models.Command, error)
	ReplaceAll(ctx context.Context, cmds []models.Command) error
}

// History persists command executions and file operations.
type History interface {
	ListExecutions(ctx context.Context, limit int) ([]models.CommandExecution, error)
	AppendExecution(ctx context.Context, exec *models.CommandExecution) error
	ReplaceExecutions(ctx context.Context, entries []models.CommandExecution) error
	ClearExecutions(ctx context.Context) error
	ListFileOperations(ctx context.Context, limit int) ([]models.FileOperation, error)
	AppendFileOperation(ctx context.Context, op *models.FileOperation) error
	ReplaceFileOperations(ctx context.Context, entries []models.FileOperation) error
	ClearFileOperations(ctx context.Context) error
}

// EventLog queries persisted events.
type EventLog interface {
	Query(ctx context.Context, q db.EventQuery) (*db.EventPage, error)
}

// Deps are the collaborators behind the routes. Status, Commands, History,
// Events and Publisher may be nil; their routes then report 503 or degrade.
type Deps struct {
	Auth      *auth.Authenticator
	Store     ServerStore
	Sessions  Sessions
	Executor  Executor
	Transfers Transfers
	Prober    Prober
	Status    StatusSource
	Commands  Commands
	History   History
	Events    EventLog
	Publisher *events.InMemoryPublisher
}

// Server wraps the HTTP listener and its routes.
type Server struct {
	cfg        config.HTTPConfig
	deps       Deps
	logger     zerolog.Logger
	httpServer *http.Server
	handler    http.Handler
}

// New builds a Server. Nothing listens until Run.
func New(cfg config.HTTPConfig, deps Deps) *Server {
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logging.Component("api"),
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	var handler http.Handler = mux
	if deps.Auth != nil {
		handler = deps.Auth.Middleware(
			[]string{"/api/health", "/api/auth/login"},
			[]string{"/api/download", "/api/status/stream"},
		)(handler)
	}
	s.handler = s.recoverer(s.requestLogger(s.cors(handler)))

	s.httpServer = &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Addr is the configured listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.httpServer.Addr).Msg("api listening")
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.logger.Info().Msg("api shutting down")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.HandleFunc("POST /api/auth/logout", s.handleLogout)

	mux.HandleFunc("POST /api/connect", s.handleConnect)
	mux.HandleFunc("GET /api/status/stream", s.handleStatusStream)
	mux.HandleFunc("GET /api/status/{id}", s.handleStatus)
	mux.HandleFunc("GET /api/status/{id}/history", s.handleStatusHistory)
	mux.HandleFunc("POST /api/execute", s.handleExecute)
	mux.HandleFunc("POST /api/batch-execute", s.handleBatchExecute)
	mux.HandleFunc("POST /api/disconnect/{id}", s.handleDisconnect)
	mux.HandleFunc("POST /api/disconnect-all", s.handleDisconnectAll)

	mux.HandleFunc("POST /api/upload", s.handleUpload)
	mux.HandleFunc("GET /api/download", s.handleDownload)

	mux.HandleFunc("GET /api/servers", s.handleListServers)
	mux.HandleFunc("POST /api/servers", s.handleSaveServers)
	mux.HandleFunc("POST /api/servers/add", s.handleAddServer)
	mux.HandleFunc("PUT /api/servers/{id}", s.handleUpdateServer)
	mux.HandleFunc("DELETE /api/servers/{id}", s.handleDeleteServer)
	mux.HandleFunc("GET /api/export", s.handleExport)
	mux.HandleFunc("POST /api/import", s.handleImport)

	mux.HandleFunc("GET /api/commands", s.handleListCommands)
	mux.HandleFunc("POST /api/commands", s.handleSaveCommands)
	mux.HandleFunc("GET /api/command-history", s.handleListExecutions)
	mux.HandleFunc("POST /api/command-history", s.handleSaveExecutions)
	mux.HandleFunc("POST /api/command-history/add", s.handleAddExecution)
	mux.HandleFunc("DELETE /api/command-history", s.handleClearExecutions)
	mux.HandleFunc("GET /api/file-operations", s.handleListFileOperations)
	mux.HandleFunc("POST /api/file-operations", s.handleSaveFileOperations)
	mux.HandleFunc("POST /api/file-operations/add", s.handleAddFileOperation)
	mux.HandleFunc("DELETE /api/file-operations", s.handleClearFileOperations)
	mux.HandleFunc("GET /api/events", s.handleEvents)
}
