// Package store persists server records with secrets encrypted at rest.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tOgg1/hostdeck/internal/events"
	"github.com/tOgg1/hostdeck/internal/logging"
	"github.com/tOgg1/hostdeck/internal/models"
	"github.com/tOgg1/hostdeck/internal/secrets"
)

// ErrServerNotFound is returned when a server id is unknown.
var ErrServerNotFound = errors.New("server not found")

// ServerStore is the subset of the store the session registry depends on.
type ServerStore interface {
	Get(ctx context.Context, id string, decrypt bool) (models.Server, error)
}

// Store is the credential store backed by a JSON file.
//
// Mutations are serialized by a single writer lock and persisted with a
// temp-file rename, so a crash never leaves a half-written file.
type Store struct {
	path      string
	cipher    *secrets.Cipher
	publisher events.Publisher
	logger    zerolog.Logger
	now       func() time.Time

	mu      sync.RWMutex
	servers []models.Server
}

// Option configures a Store.
type Option func(*Store)

// WithPublisher emits server.added/updated/removed events.
func WithPublisher(pub events.Publisher) Option {
	return func(s *Store) { s.publisher = pub }
}

// WithLogger overrides the component logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// Open loads the store at path, creating its directory when missing.
func Open(path string, cipher *secrets.Cipher, opts ...Option) (*Store, error) {
	if cipher == nil {
		return nil, errors.New("store requires a cipher")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("ensure data directory: %w", err)
	}

	s := &Store{
		path:   path,
		cipher: cipher,
		logger: logging.Component("store"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// List returns every record with secrets exactly as stored.
func (s *Store) List(ctx context.Context) ([]models.Server, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return cloneServers(s.servers), nil
}

// ListDecrypted returns every record with plaintext secrets.
// Only the session layer should call it.
func (s *Store) ListDecrypted(ctx context.Context) ([]models.Server, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := cloneServers(s.servers)
	for i := range out {
		out[i].Password = s.reveal(out[i])
	}
	return out, nil
}

// Get returns one record, decrypting its secret when asked.
func (s *Store) Get(ctx context.Context, id string, decrypt bool) (models.Server, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return models.Server{}, fmt.Errorf("%w: %s", ErrServerNotFound, id)
	}
	server := s.servers[idx]
	if decrypt {
		server.Password = s.reveal(server)
	}
	return server, nil
}

// Save replaces the whole collection. Plaintext secrets are encrypted;
// already-encrypted ones are kept as-is.
func (s *Store) Save(ctx context.Context, servers []models.Server) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]models.Server, 0, len(servers))
	for _, server := range servers {
		sealed, err := s.seal(server)
		if err != nil {
			s.logger.Error().Err(err).Str("server_id", server.ID).Msg("encrypt server secret")
			return false
		}
		next = append(next, sealed)
	}

	if err := s.commit(next); err != nil {
		return false
	}
	s.emit(ctx, models.EventTypeServerUpdated, "")
	return true
}

// Add appends one record, assigning an id and creation time when missing.
func (s *Store) Add(ctx context.Context, server models.Server) bool {
	_, ok := s.Insert(ctx, server)
	return ok
}

// Insert is Add that also returns the stored record (secret encrypted).
func (s *Store) Insert(ctx context.Context, server models.Server) (models.Server, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if server.ID == "" {
		server.ID = uuid.NewString()
	}
	if server.CreatedAt.IsZero() {
		server.CreatedAt = s.now().UTC()
	}
	if s.indexOf(server.ID) >= 0 {
		s.logger.Warn().Str("server_id", server.ID).Msg("add rejected: duplicate id")
		return models.Server{}, false
	}

	sealed, err := s.seal(server)
	if err != nil {
		s.logger.Error().Err(err).Str("server_id", server.ID).Msg("encrypt server secret")
		return models.Server{}, false
	}

	next := append(cloneServers(s.servers), sealed)
	if err := s.commit(next); err != nil {
		return models.Server{}, false
	}
	s.emit(ctx, models.EventTypeServerAdded, sealed.ID)
	return sealed, true
}

// Update replaces the record with id wholesale. The id is preserved.
func (s *Store) Update(ctx context.Context, id string, server models.Server) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return false
	}

	server.ID = id
	if server.CreatedAt.IsZero() {
		server.CreatedAt = s.servers[idx].CreatedAt
	}
	sealed, err := s.seal(server)
	if err != nil {
		s.logger.Error().Err(err).Str("server_id", id).Msg("encrypt server secret")
		return false
	}

	next := cloneServers(s.servers)
	next[idx] = sealed
	if err := s.commit(next); err != nil {
		return false
	}
	s.emit(ctx, models.EventTypeServerUpdated, id)
	return true
}

// Delete removes the record with id.
func (s *Store) Delete(ctx context.Context, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return false
	}

	next := make([]models.Server, 0, len(s.servers)-1)
	next = append(next, s.servers[:idx]...)
	next = append(next, s.servers[idx+1:]...)
	if err := s.commit(next); err != nil {
		return false
	}
	s.emit(ctx, models.EventTypeServerRemoved, id)
	return true
}

// seal encrypts the password field exactly once, whatever the auth type.
func (s *Store) seal(server models.Server) (models.Server, error) {
	if server.Password == "" {
		return server, nil
	}
	enc, err := s.cipher.EncryptOnce(server.Password)
	if err != nil {
		return server, err
	}
	server.Password = enc
	return server, nil
}

func (s *Store) reveal(server models.Server) string {
	if server.Password == "" {
		return ""
	}
	res := s.cipher.Decrypt(server.Password)
	if res.Outcome == secrets.Verbatim && secrets.IsEncrypted(server.Password) {
		s.logger.Warn().Str("server_id", server.ID).Err(res.Err).Msg("stored secret did not decrypt; using it verbatim")
	}
	return res.Value
}

func (s *Store) indexOf(id string) int {
	for i := range s.servers {
		if s.servers[i].ID == id {
			return i
		}
	}
	return -1
}

// commit persists next and swaps it in only when the write succeeded.
func (s *Store) commit(next []models.Server) error {
	if err := s.persist(next); err != nil {
		s.logger.Error().Err(err).Str("path", s.path).Msg("persist servers")
		return err
	}
	s.servers = next
	return nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.servers = []models.Server{}
			return nil
		}
		return fmt.Errorf("read servers: %w", err)
	}

	if len(data) == 0 {
		s.servers = []models.Server{}
		return nil
	}

	var servers []models.Server
	if err := json.Unmarshal(data, &servers); err != nil {
		return fmt.Errorf("parse servers: %w", err)
	}
	s.servers = servers
	return nil
}

func (s *Store) persist(servers []models.Server) error {
	data, err := json.MarshalIndent(servers, "", "  ")
	if err != nil {
		return fmt.Errorf("encode servers: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp servers file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp servers file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp servers file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("chmod temp servers file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace servers file: %w", err)
	}
	return nil
}

func (s *Store) emit(ctx context.Context, eventType models.EventType, id string) {
	events.Emit(ctx, s.publisher, events.New(eventType, models.EntityTypeServer, id, nil))
}

func cloneServers(in []models.Server) []models.Server {
	out := make([]models.Server, len(in))
	copy(out, in)
	return out
}
