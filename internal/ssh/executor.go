// Package ssh provides the SSH transport hostdeck runs remote commands over.
package ssh

import (
	"context"
	"io"
	"time"
)

// Executor is a live connection to one remote host.
//
// A non-zero remote exit status is reported as *ExecError carrying the exit
// code and captured output; any other error means the command could not run.
type Executor interface {
	// Exec runs a command and returns its stdout and stderr output.
	Exec(ctx context.Context, cmd string) (stdout, stderr []byte, err error)

	// ExecInteractive runs a command, streaming stdin to the remote process.
	ExecInteractive(ctx context.Context, cmd string, stdin io.Reader) error

	// ExecStream runs a command, streaming its stdout into w.
	ExecStream(ctx context.Context, cmd string, w io.Writer) error

	// Alive reports whether the underlying connection is still usable.
	Alive() bool

	// Close releases the connection.
	Close() error
}

// Dialer opens connections.
type Dialer interface {
	Dial(ctx context.Context, opts ConnectionOptions) (Executor, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, opts ConnectionOptions) (Executor, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context, opts ConnectionOptions) (Executor, error) {
	return f(ctx, opts)
}

// ConnectionOptions configures how an SSH connection is established.
type ConnectionOptions struct {
	// Host is the target host name or IP.
	Host string

	// Port is the SSH port (defaults to 22 when unset).
	Port int

	// User is the SSH username.
	User string

	// Password enables password and keyboard-interactive auth.
	Password string

	// KeyPath is an optional path to a private key.
	KeyPath string

	// Passphrase unlocks an encrypted private key.
	Passphrase string

	// PassphrasePrompt is asked for a passphrase when the key needs one and
	// Passphrase is empty.
	PassphrasePrompt PassphrasePrompt

	// UseAgent adds SSH_AUTH_SOCK signers as a fallback auth method.
	UseAgent bool

	// KnownHostsPath enables host key verification against an OpenSSH
	// known_hosts file. Empty accepts any host key.
	KnownHostsPath string

	// Timeout bounds TCP connect plus handshake.
	Timeout time.Duration

	// KeepAlive is the interval between keepalive requests. Zero disables them.
	KeepAlive time.Duration
}
