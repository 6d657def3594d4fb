// Package config handles hostdeck configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultEncryptionKey is the fallback secret used when none is configured.
// Records written with it are readable by anyone holding the binary.
const DefaultEncryptionKey = "default-encryption-key"

// Config is the root configuration structure for hostdeck.
type Config struct {
	// Global settings
	Global GlobalConfig `yaml:"global" mapstructure:"global"`

	// HTTP API settings
	HTTP HTTPConfig `yaml:"http" mapstructure:"http"`

	// Auth settings for the HTTP API
	Auth AuthConfig `yaml:"auth" mapstructure:"auth"`

	// Security settings for secrets at rest
	Security SecurityConfig `yaml:"security" mapstructure:"security"`

	// SSH transport settings
	SSH SSHConfig `yaml:"ssh" mapstructure:"ssh"`

	// Command execution settings
	Executor ExecutorConfig `yaml:"executor" mapstructure:"executor"`

	// File transfer settings
	Transfer TransferConfig `yaml:"transfer" mapstructure:"transfer"`

	// Status probing settings
	Status StatusConfig `yaml:"status" mapstructure:"status"`

	// Database settings
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`

	// Logging settings
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
}

// GlobalConfig contains global hostdeck settings.
type GlobalConfig struct {
	// DataDir is where hostdeck stores servers.json and the history database.
	DataDir string `yaml:"data_dir" mapstructure:"data_dir"`

	// ConfigDir is where config files are stored (default: ~/.config/hostdeck).
	ConfigDir string `yaml:"config_dir" mapstructure:"config_dir"`
}

// HTTPConfig contains API listener settings.
type HTTPConfig struct {
	// Host is the bind address.
	Host string `yaml:"host" mapstructure:"host"`

	// Port is the listen port.
	Port int `yaml:"port" mapstructure:"port"`

	// AllowedOrigins restricts websocket and CORS origins. Empty allows all.
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`

	// MaxUploadMB caps multipart upload bodies.
	MaxUploadMB int64 `yaml:"max_upload_mb" mapstructure:"max_upload_mb"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// AuthConfig contains admin credentials and token settings.
type AuthConfig struct {
	AdminUsername string `yaml:"admin_username" mapstructure:"admin_username"`

	// AdminPasswordHash is a bcrypt hash (see `hostdeck hash-password`).
	AdminPasswordHash string `yaml:"admin_password_hash" mapstructure:"admin_password_hash"`

	// AdminPassword is a plaintext fallback, accepted with a warning.
	AdminPassword string `yaml:"admin_password" mapstructure:"admin_password"`

	// TokenTTL is how long an issued bearer token stays valid.
	TokenTTL time.Duration `yaml:"token_ttl" mapstructure:"token_ttl"`

	// LoginRate is the sustained login attempts per second.
	LoginRate float64 `yaml:"login_rate" mapstructure:"login_rate"`

	// LoginBurst is the login attempt burst size.
	LoginBurst int `yaml:"login_burst" mapstructure:"login_burst"`
}

// SecurityConfig contains the encryption settings for stored secrets.
type SecurityConfig struct {
	// EncryptionKey is padded or truncated to 32 bytes.
	EncryptionKey string `yaml:"encryption_key" mapstructure:"encryption_key"`
}

// SSHConfig contains SSH transport settings.
type SSHConfig struct {
	ConnectTimeout time.Duration `yaml:"connect_timeout" mapstructure:"connect_timeout"`

	// KeepAliveInterval is how often live sessions are pinged. Zero disables.
	KeepAliveInterval time.Duration `yaml:"keepalive_interval" mapstructure:"keepalive_interval"`

	// KnownHostsPath enables host key verification when set. Empty accepts
	// any host key.
	KnownHostsPath string `yaml:"known_hosts_path" mapstructure:"known_hosts_path"`

	// UseAgent lets key-auth servers fall back to SSH_AUTH_SOCK.
	UseAgent bool `yaml:"use_agent" mapstructure:"use_agent"`
}

// ExecutorConfig contains command execution settings.
type ExecutorConfig struct {
	// MaxParallel bounds concurrent per-host tasks. Zero means unbounded.
	MaxParallel int `yaml:"max_parallel" mapstructure:"max_parallel"`

	CommandTimeout time.Duration `yaml:"command_timeout" mapstructure:"command_timeout"`
}

// TransferConfig contains file transfer settings.
type TransferConfig struct {
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`

	// StagingDir holds temporary upload/download files (default: os temp dir).
	StagingDir string `yaml:"staging_dir" mapstructure:"staging_dir"`
}

// StatusConfig contains status probe and poller settings.
type StatusConfig struct {
	ProbeTimeout time.Duration `yaml:"probe_timeout" mapstructure:"probe_timeout"`

	// PollInterval is how often connected servers are probed in the background.
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`

	// HistorySize is the number of samples kept per server.
	HistorySize int `yaml:"history_size" mapstructure:"history_size"`

	// PollEnabled toggles the background poller in `serve`.
	PollEnabled bool `yaml:"poll_enabled" mapstructure:"poll_enabled"`
}

// DatabaseConfig contains database settings.
type DatabaseConfig struct {
	// Path is the SQLite database file path.
	Path string `yaml:"path" mapstructure:"path"`

	// BusyTimeout is how long to wait for a locked database (milliseconds).
	BusyTimeoutMs int `yaml:"busy_timeout_ms" mapstructure:"busy_timeout_ms"`

	// HistoryLimit caps rows kept per history table. Zero keeps everything.
	HistoryLimit int `yaml:"history_limit" mapstructure:"history_limit"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `yaml:"level" mapstructure:"level"`

	// Format is the output format (json, console).
	Format string `yaml:"format" mapstructure:"format"`

	// File is an optional log file path.
	File string `yaml:"file" mapstructure:"file"`

	// EnableCaller adds caller information to logs.
	EnableCaller bool `yaml:"enable_caller" mapstructure:"enable_caller"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Global: GlobalConfig{
			DataDir:   filepath.Join(homeDir, ".local", "share", "hostdeck"),
			ConfigDir: filepath.Join(homeDir, ".config", "hostdeck"),
		},
		HTTP: HTTPConfig{
			Host:            "0.0.0.0",
			Port:            3001,
			MaxUploadMB:     512,
			ShutdownTimeout: 10 * time.Second,
		},
		Auth: AuthConfig{
			AdminUsername: "admin",
			TokenTTL:      24 * time.Hour,
			LoginRate:     1,
			LoginBurst:    5,
		},
		SSH: SSHConfig{
			ConnectTimeout:    15 * time.Second,
			KeepAliveInterval: 30 * time.Second,
			UseAgent:          true,
		},
		Executor: ExecutorConfig{
			MaxParallel:    16,
			CommandTimeout: 5 * time.Minute,
		},
		Transfer: TransferConfig{
			Timeout: 10 * time.Minute,
		},
		Status: StatusConfig{
			ProbeTimeout: 20 * time.Second,
			PollInterval: 30 * time.Second,
			HistorySize:  60,
			PollEnabled:  true,
		},
		Database: DatabaseConfig{
			BusyTimeoutMs: 5000,
			HistoryLimit:  1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	var errs []error

	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("http.port must be between 1 and 65535"))
	}
	if c.Executor.MaxParallel < 0 {
		errs = append(errs, fmt.Errorf("executor.max_parallel must not be negative"))
	}
	if c.Executor.CommandTimeout <= 0 {
		errs = append(errs, fmt.Errorf("executor.command_timeout must be positive"))
	}
	if c.Transfer.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("transfer.timeout must be positive"))
	}
	if c.SSH.ConnectTimeout <= 0 {
		errs = append(errs, fmt.Errorf("ssh.connect_timeout must be positive"))
	}
	if c.Status.ProbeTimeout <= 0 {
		errs = append(errs, fmt.Errorf("status.probe_timeout must be positive"))
	}
	if c.Status.PollEnabled && c.Status.PollInterval < time.Second {
		errs = append(errs, fmt.Errorf("status.poll_interval must be at least 1s"))
	}
	if c.Status.HistorySize < 1 {
		errs = append(errs, fmt.Errorf("status.history_size must be at least 1"))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, fmt.Errorf("auth.token_ttl must be positive"))
	}
	if c.Auth.LoginBurst < 1 {
		errs = append(errs, fmt.Errorf("auth.login_burst must be at least 1"))
	}
	if c.Database.HistoryLimit < 0 {
		errs = append(errs, fmt.Errorf("database.history_limit must not be negative"))
	}

	return errors.Join(errs...)
}

// EnsureDirectories creates required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Global.DataDir,
		c.Global.ConfigDir,
	}
	if c.Transfer.StagingDir != "" {
		dirs = append(dirs, c.Transfer.StagingDir)
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// ServersPath returns the credential store file path.
func (c *Config) ServersPath() string {
	return filepath.Join(c.Global.DataDir, "servers.json")
}

// DatabasePath returns the full database path.
func (c *Config) DatabasePath() string {
	if c.Database.Path != "" {
		return c.Database.Path
	}
	return filepath.Join(c.Global.DataDir, "hostdeck.db")
}

// ListenAddr returns host:port for the HTTP server.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

// UsingDefaultKey reports whether secrets fall back to DefaultEncryptionKey.
func (c *Config) UsingDefaultKey() bool {
	return c.Security.EncryptionKey == "" || c.Security.EncryptionKey == DefaultEncryptionKey
}

// EffectiveEncryptionKey returns the configured key or the default.
func (c *Config) EffectiveEncryptionKey() string {
	if c.Security.EncryptionKey == "" {
		return DefaultEncryptionKey
	}
	return c.Security.EncryptionKey
}
