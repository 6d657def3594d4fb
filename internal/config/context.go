package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Context is the CLI selection used when a command omits --server.
type Context struct {
	ServerID   string    `yaml:"server,omitempty"`
	ServerName string    `yaml:"server_name,omitempty"`
	UpdatedAt  time.Time `yaml:"updated_at,omitempty"`
}

// IsEmpty returns true if no server is selected.
func (c *Context) IsEmpty() bool {
	return c.ServerID == ""
}

// SetServer selects a server.
func (c *Context) SetServer(id, name string) {
	c.ServerID = id
	c.ServerName = name
	c.UpdatedAt = time.Now()
}

// Clear removes the selection.
func (c *Context) Clear() {
	c.ServerID = ""
	c.ServerName = ""
	c.UpdatedAt = time.Now()
}

func (c *Context) String() string {
	if c.IsEmpty() {
		return "(no server selected)"
	}
	if c.ServerName != "" {
		return fmt.Sprintf("server:%s", c.ServerName)
	}
	return fmt.Sprintf("server:%s", shortID(c.ServerID))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// ContextStore manages loading and saving context.
type ContextStore struct {
	path string
	mu   sync.RWMutex
}

// NewContextStore creates a new context store.
// If path is empty, uses ~/.config/hostdeck/context.yaml.
func NewContextStore(path string) *ContextStore {
	if path == "" {
		homeDir, _ := os.UserHomeDir()
		path = filepath.Join(homeDir, ".config", "hostdeck", "context.yaml")
	}
	return &ContextStore{path: path}
}

// Path returns the context file path.
func (s *ContextStore) Path() string {
	return s.path
}

// Load reads the context from disk.
// Returns an empty context if the file doesn't exist.
func (s *ContextStore) Load() (*Context, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := &Context{}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return ctx, nil
		}
		return nil, fmt.Errorf("failed to read context file: %w", err)
	}

	if err := yaml.Unmarshal(data, ctx); err != nil {
		return nil, fmt.Errorf("failed to parse context file: %w", err)
	}

	return ctx, nil
}

// Save writes the context to disk.
func (s *ContextStore) Save(ctx *Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create context directory: %w", err)
	}

	data, err := yaml.Marshal(ctx)
	if err != nil {
		return fmt.Errorf("failed to serialize context: %w", err)
	}

	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write context file: %w", err)
	}

	return nil
}

// Clear removes the context file.
func (s *ContextStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove context file: %w", err)
	}
	return nil
}
