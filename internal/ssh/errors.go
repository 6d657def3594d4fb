package ssh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

var (
	ErrPassphraseRequired  = errors.New("passphrase required for private key")
	ErrSSHAgentUnavailable = errors.New("ssh agent not available")
	ErrMissingHost         = errors.New("ssh host is required")
	ErrNoAuthMethods       = errors.New("no authentication methods available")
	ErrClosed              = errors.New("ssh connection closed")
)

// ExecError wraps command failures with exit details.
// ExitCode is -1 when the remote side never reported a status.
type ExecError struct {
	Command  string
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	Err      error
}

func (e *ExecError) Error() string {
	if e.ExitCode < 0 {
		return fmt.Sprintf("ssh command failed: %s: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("ssh command failed (exit=%d): %s", e.ExitCode, e.Command)
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

// Exited reports whether the remote command ran and returned a status.
func (e *ExecError) Exited() bool {
	return e.ExitCode >= 0
}

// ConnectKind classifies why a session could not be established.
type ConnectKind string

const (
	ConnectAuth        ConnectKind = "auth"
	ConnectUnreachable ConnectKind = "unreachable"
	ConnectTimeout     ConnectKind = "timeout"
	ConnectKey         ConnectKind = "key"
	ConnectHostKey     ConnectKind = "host_key"
	ConnectNotFound    ConnectKind = "not_found"
	ConnectConfig      ConnectKind = "config"
	ConnectUnknown     ConnectKind = "unknown"
)

// ConnectError reports a failed session establishment.
type ConnectError struct {
	ServerID string
	Kind     ConnectKind
	Err      error
}

func (e *ConnectError) Error() string {
	if e.ServerID == "" {
		return fmt.Sprintf("connection failed (%s): %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("connection failed for %s (%s): %v", e.ServerID, e.Kind, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// NewConnectError classifies err and wraps it. An existing *ConnectError is
// re-tagged with serverID but keeps its kind.
func NewConnectError(serverID string, err error) *ConnectError {
	var existing *ConnectError
	if errors.As(err, &existing) {
		return &ConnectError{ServerID: serverID, Kind: existing.Kind, Err: existing.Err}
	}
	return &ConnectError{ServerID: serverID, Kind: Classify(err), Err: err}
}

// Classify maps a dial or handshake error to a ConnectKind.
func Classify(err error) ConnectKind {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrMissingHost), errors.Is(err, ErrNoAuthMethods):
		return ConnectConfig
	case errors.Is(err, ErrPassphraseRequired):
		return ConnectKey
	case errors.Is(err, context.DeadlineExceeded):
		return ConnectTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ConnectTimeout
	}
	var keyErr *keyError
	if errors.As(err, &keyErr) {
		return ConnectKey
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unable to authenticate"),
		strings.Contains(msg, "no supported methods remain"),
		strings.Contains(msg, "permission denied"):
		return ConnectAuth
	case strings.Contains(msg, "knownhosts"),
		strings.Contains(msg, "host key mismatch"),
		strings.Contains(msg, "key is unknown"):
		return ConnectHostKey
	case strings.Contains(msg, "i/o timeout"),
		strings.Contains(msg, "timed out"):
		return ConnectTimeout
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "no route to host"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "network is unreachable"),
		strings.Contains(msg, "connection reset"):
		return ConnectUnreachable
	}
	return ConnectUnknown
}

// keyError marks failures to read or parse a private key.
type keyError struct {
	path string
	err  error
}

func (e *keyError) Error() string {
	return fmt.Sprintf("private key %s: %v", e.path, e.err)
}

func (e *keyError) Unwrap() error {
	return e.err
}
