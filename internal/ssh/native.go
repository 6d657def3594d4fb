package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	xssh "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const (
	defaultDialTimeout      = 15 * time.Second
	defaultKeepAliveTimeout = 10 * time.Second
)

// NativeDialer dials with golang.org/x/crypto/ssh.
type NativeDialer struct {
	logger zerolog.Logger
}

// NewNativeDialer creates a NativeDialer.
func NewNativeDialer(logger zerolog.Logger) *NativeDialer {
	return &NativeDialer{logger: logger}
}

// Dial implements Dialer.
func (d *NativeDialer) Dial(ctx context.Context, opts ConnectionOptions) (Executor, error) {
	return DialNative(ctx, opts, d.logger)
}

// NativeExecutor is an Executor over one x/crypto/ssh client connection.
// Each command runs in its own SSH session channel.
type NativeExecutor struct {
	client *xssh.Client
	agent  *AgentConnection
	addr   string
	logger zerolog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// DialNative connects and authenticates within opts.Timeout.
func DialNative(ctx context.Context, opts ConnectionOptions, logger zerolog.Logger) (*NativeExecutor, error) {
	if opts.Host == "" {
		return nil, ErrMissingHost
	}

	config, agentConn, err := buildClientConfig(opts)
	if err != nil {
		return nil, err
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	config.Timeout = timeout

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	addr := targetAddr(opts)
	client, err := dialClient(dialCtx, addr, config)
	if err != nil {
		_ = agentConn.Close()
		return nil, err
	}

	e := &NativeExecutor{
		client: client,
		agent:  agentConn,
		addr:   addr,
		logger: logger.With().Str("addr", addr).Logger(),
		done:   make(chan struct{}),
	}
	go e.watch()
	if opts.KeepAlive > 0 {
		go e.keepAlive(opts.KeepAlive)
	}
	return e, nil
}

func dialClient(ctx context.Context, addr string, config *xssh.ClientConfig) (*xssh.Client, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	// The handshake does not watch ctx; closing the socket unblocks it.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })

	c, chans, reqs, err := xssh.NewClientConn(conn, addr, config)
	stop()
	if err != nil {
		_ = conn.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %v", ctxErr, err)
		}
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})

	return xssh.NewClient(c, chans, reqs), nil
}

func buildClientConfig(opts ConnectionOptions) (*xssh.ClientConfig, *AgentConnection, error) {
	var (
		methods   []xssh.AuthMethod
		keyErr    error
		agentConn *AgentConnection
	)

	if opts.KeyPath != "" {
		signer, err := LoadPrivateKey(opts.KeyPath, opts.Passphrase, opts.PassphrasePrompt)
		if err != nil {
			keyErr = err
		} else {
			methods = append(methods, xssh.PublicKeys(signer))
		}
	}

	if opts.Password != "" {
		password := opts.Password
		methods = append(methods,
			xssh.Password(password),
			xssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		)
	}

	if opts.UseAgent {
		if conn, err := ConnectAgent(); err == nil {
			agentConn = conn
			methods = append(methods, conn.AuthMethod())
		}
	}

	if len(methods) == 0 {
		if keyErr != nil {
			return nil, nil, keyErr
		}
		return nil, nil, ErrNoAuthMethods
	}
	if keyErr != nil && agentConn == nil {
		return nil, nil, keyErr
	}

	hostKeyCallback := xssh.InsecureIgnoreHostKey()
	if opts.KnownHostsPath != "" {
		cb, err := knownhosts.New(opts.KnownHostsPath)
		if err != nil {
			_ = agentConn.Close()
			return nil, nil, fmt.Errorf("load known_hosts: %w", err)
		}
		hostKeyCallback = cb
	}

	return &xssh.ClientConfig{
		User:            opts.User,
		Auth:            methods,
		HostKeyCallback: hostKeyCallback,
	}, agentConn, nil
}

func targetAddr(opts ConnectionOptions) string {
	port := opts.Port
	if port <= 0 {
		port = 22
	}
	return net.JoinHostPort(opts.Host, strconv.Itoa(port))
}

// Addr returns the dialed host:port.
func (e *NativeExecutor) Addr() string {
	return e.addr
}

// Exec runs a command and returns its stdout and stderr output.
func (e *NativeExecutor) Exec(ctx context.Context, cmd string) ([]byte, []byte, error) {
	var stdout bytes.Buffer
	stderr, err := e.run(ctx, cmd, nil, &stdout)
	return stdout.Bytes(), stderr, wrapExecError(err, cmd, stdout.Bytes(), stderr)
}

// ExecInteractive runs a command, streaming stdin to the remote process.
func (e *NativeExecutor) ExecInteractive(ctx context.Context, cmd string, stdin io.Reader) error {
	var stdout bytes.Buffer
	stderr, err := e.run(ctx, cmd, stdin, &stdout)
	return wrapExecError(err, cmd, stdout.Bytes(), stderr)
}

// ExecStream runs a command, streaming its stdout into w.
func (e *NativeExecutor) ExecStream(ctx context.Context, cmd string, w io.Writer) error {
	stderr, err := e.run(ctx, cmd, nil, w)
	return wrapExecError(err, cmd, nil, stderr)
}

func (e *NativeExecutor) run(ctx context.Context, cmd string, stdin io.Reader, stdout io.Writer) ([]byte, error) {
	if !e.Alive() {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	session, err := e.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	defer session.Close()

	var stderr bytes.Buffer
	session.Stdin = stdin
	session.Stdout = stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(cmd) }()

	select {
	case err = <-done:
		return stderr.Bytes(), err
	case <-ctx.Done():
		_ = session.Signal(xssh.SIGKILL)
		_ = session.Close()
		<-done
		return stderr.Bytes(), ctx.Err()
	}
}

func wrapExecError(err error, cmd string, stdout, stderr []byte) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrClosed) {
		return err
	}

	var exitErr *xssh.ExitError
	if errors.As(err, &exitErr) {
		return &ExecError{
			Command:  cmd,
			ExitCode: exitErr.ExitStatus(),
			Stdout:   stdout,
			Stderr:   stderr,
			Err:      err,
		}
	}
	return &ExecError{
		Command:  cmd,
		ExitCode: -1,
		Stdout:   stdout,
		Stderr:   stderr,
		Err:      err,
	}
}

// Alive reports whether the connection is still open.
func (e *NativeExecutor) Alive() bool {
	select {
	case <-e.done:
		return false
	default:
		return true
	}
}

// Done is closed when the connection ends.
func (e *NativeExecutor) Done() <-chan struct{} {
	return e.done
}

// Close releases the connection.
func (e *NativeExecutor) Close() error {
	var err error
	e.closeOnce.Do(func() {
		err = e.client.Close()
		_ = e.agent.Close()
		close(e.done)
	})
	return err
}

func (e *NativeExecutor) watch() {
	err := e.client.Wait()
	if e.Alive() {
		e.logger.Debug().Err(err).Msg("ssh connection ended")
	}
	_ = e.Close()
}

func (e *NativeExecutor) keepAlive(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.done:
			return
		case <-ticker.C:
		}

		reply := make(chan error, 1)
		go func() {
			_, _, err := e.client.SendRequest("keepalive@openssh.com", true, nil)
			reply <- err
		}()

		timer := time.NewTimer(defaultKeepAliveTimeout)
		select {
		case err := <-reply:
			timer.Stop()
			if err != nil {
				e.logger.Warn().Err(err).Msg("keepalive failed; closing connection")
				_ = e.Close()
				return
			}
		case <-timer.C:
			e.logger.Warn().Msg("keepalive timed out; closing connection")
			_ = e.Close()
			return
		case <-e.done:
			timer.Stop()
			return
		}
	}
}
