// Package models defines the core domain types for hostdeck.
package models

import (
	"net"
	"strconv"
	"strings"
	"time"
)

// AuthType selects how a server is authenticated.
type AuthType string

const (
	AuthTypePassword AuthType = "password"
	AuthTypeKey      AuthType = "key"
)

// DefaultSSHPort is used when a server record carries no port.
const DefaultSSHPort = 22

// Server is the identity and connection material for one remote host.
//
// The JSON field names match the persisted servers.json layout.
type Server struct {
	// ID is the opaque, immutable identifier.
	ID string `json:"id" yaml:"id"`

	// Name is the display alias.
	Name string `json:"name" yaml:"name"`

	// Host is the IP address or hostname.
	Host string `json:"ip" yaml:"host"`

	// Port is the SSH port (defaults to 22 when unset).
	Port int `json:"port,omitempty" yaml:"port,omitempty"`

	// User is the SSH login user.
	User string `json:"user" yaml:"user"`

	// AuthType decides whether Password or KeyPath is authoritative.
	AuthType AuthType `json:"authType" yaml:"auth_type"`

	// Password holds the password secret, encrypted at rest.
	Password string `json:"password,omitempty" yaml:"password,omitempty"`

	// KeyPath is the path to a private key file, read at connect time.
	KeyPath string `json:"keyPath,omitempty" yaml:"key_path,omitempty"`

	// CreatedAt is when the record was first added.
	CreatedAt time.Time `json:"createdAt" yaml:"created_at"`
}

// Validate checks if the server record is usable for connecting.
func (s *Server) Validate() error {
	validation := &ValidationErrors{}
	if strings.TrimSpace(s.ID) == "" {
		validation.Add("id", ErrInvalidServerID)
	}
	if strings.TrimSpace(s.Name) == "" {
		validation.Add("name", ErrInvalidServerName)
	}
	if strings.TrimSpace(s.Host) == "" {
		validation.Add("ip", ErrInvalidHost)
	}
	if strings.TrimSpace(s.User) == "" {
		validation.Add("user", ErrInvalidUser)
	}
	if s.Port < 0 || s.Port > 65535 {
		validation.Add("port", ErrInvalidPort)
	}
	switch s.AuthType {
	case AuthTypePassword:
		if s.Password == "" {
			validation.Add("password", ErrMissingSecret)
		}
	case AuthTypeKey:
		if strings.TrimSpace(s.KeyPath) == "" {
			validation.Add("keyPath", ErrMissingKeyPath)
		}
	default:
		validation.Add("authType", ErrInvalidAuthType)
	}
	return validation.Err()
}

// Addr returns host:port, applying the default SSH port.
func (s Server) Addr() string {
	port := s.Port
	if port <= 0 {
		port = DefaultSSHPort
	}
	return net.JoinHostPort(s.Host, strconv.Itoa(port))
}

// DisplayName returns Name, falling back to the host.
func (s Server) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Host
}

// Redacted returns a copy safe to hand to generic listings and logs.
func (s Server) Redacted() Server {
	if s.Password != "" {
		s.Password = "********"
	}
	return s
}
