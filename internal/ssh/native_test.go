package ssh

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/tOgg1/hostdeck/internal/testutil"
)

func dialTest(t *testing.T, opts ConnectionOptions) *NativeExecutor {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	exec, err := DialNative(ctx, opts, zerolog.Nop())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = exec.Close() })
	return exec
}

func serverOptions(srv *testutil.SSHServer) ConnectionOptions {
	return ConnectionOptions{
		Host:     srv.Host(),
		Port:     srv.Port(),
		User:     testutil.SSHUser,
		Password: testutil.SSHPassword,
		Timeout:  5 * time.Second,
	}
}

func TestNativeExecutorExec(t *testing.T) {
	srv := testutil.NewSSHServer(t, testutil.ScriptHandler(map[string]testutil.Reply{
		"echo hi": {Stdout: "hi\n"},
		"false":   {Stderr: "nope\n", Code: 3},
		"uptime":  {Stdout: " 10:00:00 up 3 days,  2:11,  1 user\n"},
	}))
	exec := dialTest(t, serverOptions(srv))

	stdout, stderr, err := exec.Exec(context.Background(), "echo hi")
	require.NoError(t, err)
	assert.Equal(t, "hi\n", string(stdout))
	assert.Empty(t, stderr)

	stdout, stderr, err = exec.Exec(context.Background(), "false")
	require.Error(t, err)
	var execErr *ExecError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, 3, execErr.ExitCode)
	assert.True(t, execErr.Exited())
	assert.Equal(t, "nope\n", string(stderr))
	assert.Equal(t, "nope\n", string(execErr.Stderr))
	assert.Empty(t, stdout)

	// The connection is reused for later commands.
	stdout, _, err = exec.Exec(context.Background(), "uptime")
	require.NoError(t, err)
	assert.Contains(t, string(stdout), "up 3 days")
	assert.Equal(t, 1, srv.Connections())
}

func TestNativeExecutorInteractiveStdin(t *testing.T) {
	received := make(chan []byte, 1)
	srv := testutil.NewSSHServer(t, func(cmd string, stdin io.Reader, _, _ io.Writer) int {
		data, _ := io.ReadAll(stdin)
		received <- data
		return 0
	})
	exec := dialTest(t, serverOptions(srv))

	payload := bytes.Repeat([]byte("hostdeck"), 64*1024)
	err := exec.ExecInteractive(context.Background(), "cat > /tmp/x", bytes.NewReader(payload))
	require.NoError(t, err)

	select {
	case got := <-received:
		assert.Equal(t, payload, got)
	case <-time.After(5 * time.Second):
		t.Fatal("server never received stdin")
	}
}

func TestNativeExecutorStream(t *testing.T) {
	payload := strings.Repeat("0123456789", 100*1024)
	srv := testutil.NewSSHServer(t, func(_ string, _ io.Reader, stdout, _ io.Writer) int {
		_, _ = io.WriteString(stdout, payload)
		return 0
	})
	exec := dialTest(t, serverOptions(srv))

	var buf bytes.Buffer
	require.NoError(t, exec.ExecStream(context.Background(), "cat /var/log/big", &buf))
	assert.Equal(t, len(payload), buf.Len())
}

func TestNativeExecutorContextCancel(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	srv := testutil.NewSSHServer(t, func(string, io.Reader, io.Writer, io.Writer) int {
		select {
		case <-release:
		case <-time.After(10 * time.Second):
		}
		return 0
	})
	exec := dialTest(t, serverOptions(srv))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, _, err := exec.Exec(ctx, "sleep 60")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatalf("cancel took too long: %s", time.Since(start))
	}
	assert.True(t, exec.Alive(), "a cancelled command must not kill the connection")
}

func TestNativeExecutorClose(t *testing.T) {
	srv := testutil.NewSSHServer(t, testutil.ScriptHandler(nil))
	exec := dialTest(t, serverOptions(srv))

	require.True(t, exec.Alive())
	require.NoError(t, exec.Close())
	assert.False(t, exec.Alive())
	require.NoError(t, exec.Close())

	_, _, err := exec.Exec(context.Background(), "echo hi")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestNativeExecutorDetectsDroppedConnection(t *testing.T) {
	srv := testutil.NewSSHServer(t, testutil.ScriptHandler(nil))
	exec := dialTest(t, serverOptions(srv))

	// Closing the client transport from underneath simulates a dropped link.
	_ = exec.client.Conn.Close()

	select {
	case <-exec.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("executor did not notice the closed connection")
	}
	assert.False(t, exec.Alive())
}

func TestDialNativeWrongPassword(t *testing.T) {
	srv := testutil.NewSSHServer(t, testutil.ScriptHandler(nil))
	opts := serverOptions(srv)
	opts.Password = "wrong"

	_, err := DialNative(context.Background(), opts, zerolog.Nop())
	require.Error(t, err)
	assert.Equal(t, ConnectAuth, Classify(err))
}

func TestDialNativeRefused(t *testing.T) {
	testutil.SkipIfNoNetwork(t)
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	require.NoError(t, listener.Close())

	_, err = DialNative(context.Background(), ConnectionOptions{
		Host:     "127.0.0.1",
		Port:     port,
		User:     "root",
		Password: "x",
		Timeout:  2 * time.Second,
	}, zerolog.Nop())
	require.Error(t, err)
	assert.Equal(t, ConnectUnreachable, Classify(err))
}

func TestDialNativeHandshakeTimeout(t *testing.T) {
	testutil.SkipIfNoNetwork(t)
	// A listener that accepts but never speaks SSH.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	accepted := make(chan net.Conn, 4)
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				close(accepted)
				return
			}
			accepted <- conn
		}
	}()
	t.Cleanup(func() {
		_ = listener.Close()
		for conn := range accepted {
			_ = conn.Close()
		}
	})

	_, err = DialNative(context.Background(), ConnectionOptions{
		Host:     "127.0.0.1",
		Port:     listener.Addr().(*net.TCPAddr).Port,
		User:     "root",
		Password: "x",
		Timeout:  200 * time.Millisecond,
	}, zerolog.Nop())
	require.Error(t, err)
	assert.Equal(t, ConnectTimeout, Classify(err))
}

func TestDialNativeKeyAuth(t *testing.T) {
	srv := testutil.NewSSHServer(t, testutil.ScriptHandler(map[string]testutil.Reply{
		"whoami": {Stdout: "tester\n"},
	}))
	keyPath, pub := testutil.WriteKey(t, t.TempDir(), "")
	srv.Authorize(pub)

	exec := dialTest(t, ConnectionOptions{
		Host:    srv.Host(),
		Port:    srv.Port(),
		User:    testutil.SSHUser,
		KeyPath: keyPath,
		Timeout: 5 * time.Second,
	})
	stdout, _, err := exec.Exec(context.Background(), "whoami")
	require.NoError(t, err)
	assert.Equal(t, "tester\n", string(stdout))
}

func TestDialNativeMissingKeyFile(t *testing.T) {
	_, err := DialNative(context.Background(), ConnectionOptions{
		Host:    "127.0.0.1",
		User:    "root",
		KeyPath: filepath.Join(t.TempDir(), "absent"),
	}, zerolog.Nop())
	require.Error(t, err)
	assert.Equal(t, ConnectKey, Classify(err))
}

func TestDialNativeNoAuthMethods(t *testing.T) {
	_, err := DialNative(context.Background(), ConnectionOptions{Host: "127.0.0.1", User: "root"}, zerolog.Nop())
	assert.ErrorIs(t, err, ErrNoAuthMethods)

	_, err = DialNative(context.Background(), ConnectionOptions{User: "root", Password: "x"}, zerolog.Nop())
	assert.ErrorIs(t, err, ErrMissingHost)
}

func TestDialNativeKnownHosts(t *testing.T) {
	srv := testutil.NewSSHServer(t, testutil.ScriptHandler(nil))
	dir := t.TempDir()

	good := filepath.Join(dir, "known_hosts")
	line := knownhosts.Line([]string{srv.Addr}, srv.HostKey())
	require.NoError(t, os.WriteFile(good, []byte(line+"\n"), 0o600))

	opts := serverOptions(srv)
	opts.KnownHostsPath = good
	exec := dialTest(t, opts)
	assert.True(t, exec.Alive())

	_, otherKey := testutil.WriteKey(t, t.TempDir(), "")
	bad := filepath.Join(dir, "known_hosts_bad")
	line = knownhosts.Line([]string{srv.Addr}, otherKey)
	require.NoError(t, os.WriteFile(bad, []byte(line+"\n"), 0o600))

	opts.KnownHostsPath = bad
	_, err := DialNative(context.Background(), opts, zerolog.Nop())
	require.Error(t, err)
	assert.Equal(t, ConnectHostKey, Classify(err))
}

func TestNativeDialerImplementsDialer(t *testing.T) {
	srv := testutil.NewSSHServer(t, testutil.ScriptHandler(map[string]testutil.Reply{"true": {}}))

	var dialer Dialer = NewNativeDialer(zerolog.Nop())
	exec, err := dialer.Dial(context.Background(), serverOptions(srv))
	require.NoError(t, err)
	defer exec.Close()

	_, _, err = exec.Exec(context.Background(), "true")
	assert.NoError(t, err)
}
