// Package session keeps at most one live SSH connection per server.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/tOgg1/hostdeck/internal/config"
	"github.com/tOgg1/hostdeck/internal/events"
	"github.com/tOgg1/hostdeck/internal/logging"
	"github.com/tOgg1/hostdeck/internal/models"
	"github.com/tOgg1/hostdeck/internal/secrets"
	"github.com/tOgg1/hostdeck/internal/ssh"
	"github.com/tOgg1/hostdeck/internal/store"
)

// Session is a live connection to one server. It is owned by the Registry;
// callers re-resolve it through Ensure for every operation.
type Session struct {
	ssh.Executor

	ServerID   string
	ServerName string
	Host       string
	CreatedAt  time.Time
}

// doner is implemented by executors that signal connection loss.
type doner interface {
	Done() <-chan struct{}
}

// Registry maps server ids to live sessions.
type Registry struct {
	servers   store.ServerStore
	dialer    ssh.Dialer
	defaults  ssh.ConnectionOptions
	cipher    *secrets.Cipher
	publisher events.Publisher
	logger    zerolog.Logger
	now       func() time.Time

	group singleflight.Group

	mu       sync.Mutex
	sessions map[string]*Session
}

// Option configures a Registry.
type Option func(*Registry)

// WithPublisher emits session lifecycle events.
func WithPublisher(pub events.Publisher) Option {
	return func(r *Registry) { r.publisher = pub }
}

// WithLogger overrides the component logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// WithDefaults sets the transport options every dial starts from (timeouts,
// keepalive, host key checking, agent use).
func WithDefaults(opts ssh.ConnectionOptions) Option {
	return func(r *Registry) { r.defaults = opts }
}

// WithCipher decrypts inline passwords handed to Connect. Values that are
// not ciphertext under this key are dialed as given.
func WithCipher(c *secrets.Cipher) Option {
	return func(r *Registry) { r.cipher = c }
}

// DefaultsFromConfig maps the ssh config section onto dial options.
func DefaultsFromConfig(cfg config.SSHConfig) ssh.ConnectionOptions {
	return ssh.ConnectionOptions{
		Timeout:        cfg.ConnectTimeout,
		KeepAlive:      cfg.KeepAliveInterval,
		KnownHostsPath: cfg.KnownHostsPath,
		UseAgent:       cfg.UseAgent,
	}
}

// NewRegistry creates an empty registry. servers is consulted only when a
// session has to be created.
func NewRegistry(servers store.ServerStore, dialer ssh.Dialer, opts ...Option) *Registry {
	r := &Registry{
		servers:  servers,
		dialer:   dialer,
		logger:   logging.Component("session"),
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Ensure returns the live session for serverID, dialing one if needed.
// Concurrent calls for the same id share a single dial. Errors are
// *ssh.ConnectError and leave nothing registered.
func (r *Registry) Ensure(ctx context.Context, serverID string) (*Session, error) {
	if s := r.live(serverID); s != nil {
		return s, nil
	}
	return r.single(ctx, serverID, func(dialCtx context.Context) (*Session, error) {
		server, err := r.servers.Get(dialCtx, serverID, true)
		if err != nil {
			kind := ssh.ConnectConfig
			if errors.Is(err, store.ErrServerNotFound) {
				kind = ssh.ConnectNotFound
			}
			return nil, &ssh.ConnectError{ServerID: serverID, Kind: kind, Err: err}
		}
		return r.open(dialCtx, server)
	})
}

// Connect establishes a session from inline credentials. An existing live
// session for server.ID is returned unchanged.
func (r *Registry) Connect(ctx context.Context, server models.Server) (*Session, error) {
	if server.ID == "" {
		return nil, &ssh.ConnectError{Kind: ssh.ConnectConfig, Err: models.ErrInvalidServerID}
	}
	if s := r.live(server.ID); s != nil {
		return s, nil
	}
	if server.AuthType == models.AuthTypePassword && r.cipher != nil {
		server.Password = r.cipher.Decrypt(server.Password).Value
	}
	return r.single(ctx, server.ID, func(dialCtx context.Context) (*Session, error) {
		return r.open(dialCtx, server)
	})
}

// single collapses concurrent dials for one id. The dial outlives a caller
// that gives up; its result is still registered for the next caller.
func (r *Registry) single(ctx context.Context, serverID string, dial func(context.Context) (*Session, error)) (*Session, error) {
	ch := r.group.DoChan(serverID, func() (any, error) {
		if s := r.live(serverID); s != nil {
			return s, nil
		}
		return dial(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Session), nil
	case <-ctx.Done():
		return nil, ssh.NewConnectError(serverID, ctx.Err())
	}
}

func (r *Registry) open(ctx context.Context, server models.Server) (*Session, error) {
	opts, err := r.dialOptions(server)
	if err != nil {
		return nil, r.failed(ctx, server, ssh.NewConnectError(server.ID, err))
	}

	start := r.now()
	exec, err := r.dialer.Dial(ctx, opts)
	if err != nil {
		return nil, r.failed(ctx, server, ssh.NewConnectError(server.ID, err))
	}

	sess := &Session{
		Executor:   exec,
		ServerID:   server.ID,
		ServerName: server.DisplayName(),
		Host:       server.Host,
		CreatedAt:  r.now(),
	}

	r.mu.Lock()
	if existing := r.sessions[server.ID]; existing != nil && existing.Alive() {
		r.mu.Unlock()
		_ = exec.Close()
		return existing, nil
	}
	r.sessions[server.ID] = sess
	r.mu.Unlock()

	logger := logging.WithServer(r.logger, server.ID)
	logger.Info().
		Str("host", server.Addr()).
		Dur("took", r.now().Sub(start)).
		Msg("session opened")
	r.emit(ctx, models.EventTypeSessionOpened, server.ID, models.SessionPayload{
		ServerName: sess.ServerName,
		Host:       server.Addr(),
	})

	if d, ok := exec.(doner); ok {
		go r.watch(sess, d.Done())
	}
	return sess, nil
}

func (r *Registry) dialOptions(server models.Server) (ssh.ConnectionOptions, error) {
	if server.Host == "" {
		return ssh.ConnectionOptions{}, ssh.ErrMissingHost
	}

	opts := r.defaults
	opts.Host = server.Host
	opts.Port = server.Port
	opts.User = server.User

	switch server.AuthType {
	case models.AuthTypePassword:
		if server.Password == "" {
			return opts, models.ErrMissingSecret
		}
		opts.Password = server.Password
		opts.UseAgent = false
	case models.AuthTypeKey:
		if server.KeyPath == "" {
			return opts, models.ErrMissingKeyPath
		}
		opts.KeyPath = server.KeyPath
	default:
		return opts, fmt.Errorf("%w: %q", models.ErrInvalidAuthType, server.AuthType)
	}
	return opts, nil
}

func (r *Registry) failed(ctx context.Context, server models.Server, err *ssh.ConnectError) error {
	if errors.Is(err.Err, models.ErrMissingSecret) || errors.Is(err.Err, models.ErrMissingKeyPath) ||
		errors.Is(err.Err, models.ErrInvalidAuthType) {
		err.Kind = ssh.ConnectConfig
	}

	logger := logging.WithServer(r.logger, server.ID)
	logger.Warn().
		Str("host", server.Addr()).
		Str("kind", string(err.Kind)).
		Str("error", logging.Redact(err.Err.Error())).
		Msg("session failed")
	r.emit(ctx, models.EventTypeSessionFailed, server.ID, models.SessionPayload{
		ServerName: server.DisplayName(),
		Host:       server.Addr(),
		Kind:       string(err.Kind),
		Error:      logging.Redact(err.Err.Error()),
	})
	return err
}

// live returns the registered session if its connection is still usable,
// evicting it otherwise.
func (r *Registry) live(serverID string) *Session {
	r.mu.Lock()
	sess := r.sessions[serverID]
	if sess == nil {
		r.mu.Unlock()
		return nil
	}
	if sess.Alive() {
		r.mu.Unlock()
		return sess
	}
	delete(r.sessions, serverID)
	r.mu.Unlock()

	r.closed(sess, "connection lost")
	return nil
}

func (r *Registry) watch(sess *Session, done <-chan struct{}) {
	<-done

	r.mu.Lock()
	current := r.sessions[sess.ServerID]
	if current != sess {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, sess.ServerID)
	r.mu.Unlock()

	r.closed(sess, "connection lost")
}

func (r *Registry) closed(sess *Session, reason string) {
	_ = sess.Close()
	logger := logging.WithServer(r.logger, sess.ServerID)
	logger.Info().Str("reason", reason).Msg("session closed")
	r.emit(context.Background(), models.EventTypeSessionClosed, sess.ServerID, models.SessionPayload{
		ServerName: sess.ServerName,
		Host:       sess.Host,
		Reason:     reason,
	})
}

// Dispose closes and forgets the session for serverID. Absent ids succeed.
func (r *Registry) Dispose(serverID string) error {
	r.mu.Lock()
	sess := r.sessions[serverID]
	delete(r.sessions, serverID)
	r.mu.Unlock()

	if sess == nil {
		return nil
	}
	err := sess.Close()
	logger := logging.WithServer(r.logger, serverID)
	logger.Info().Str("reason", "disconnect").Msg("session closed")
	r.emit(context.Background(), models.EventTypeSessionClosed, serverID, models.SessionPayload{
		ServerName: sess.ServerName,
		Host:       sess.Host,
		Reason:     "disconnect",
	})
	return err
}

// DisposeAll closes every session. It is called at shutdown.
func (r *Registry) DisposeAll() error {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	var errs []error
	for id, sess := range sessions {
		if err := sess.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", id, err))
		}
	}
	if len(sessions) > 0 {
		r.logger.Info().Int("count", len(sessions)).Msg("all sessions closed")
	}
	return errors.Join(errs...)
}

// Connected returns the ids with a live session, sorted.
func (r *Registry) Connected() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id, sess := range r.sessions {
		if sess.Alive() {
			ids = append(ids, id)
		}
	}
	r.mu.Unlock()

	sort.Strings(ids)
	return ids
}

// Has reports whether serverID has a live session.
func (r *Registry) Has(serverID string) bool {
	return r.live(serverID) != nil
}

func (r *Registry) emit(ctx context.Context, eventType models.EventType, serverID string, payload any) {
	events.Emit(ctx, r.publisher, events.New(eventType, models.EntityTypeSession, serverID, payload))
}
