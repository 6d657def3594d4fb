package executor

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tOgg1/hostdeck/internal/events"
	"github.com/tOgg1/hostdeck/internal/models"
	"github.com/tOgg1/hostdeck/internal/session"
	"github.com/tOgg1/hostdeck/internal/ssh"
)

// scriptedExecutor answers Exec from a function.
type scriptedExecutor struct {
	exec func(ctx context.Context, cmd string) ([]byte, []byte, error)
}

func (s *scriptedExecutor) Exec(ctx context.Context, cmd string) ([]byte, []byte, error) {
	return s.exec(ctx, cmd)
}
func (s *scriptedExecutor) ExecInteractive(context.Context, string, io.Reader) error { return nil }
func (s *scriptedExecutor) ExecStream(context.Context, string, io.Writer) error { return nil }
func (s *scriptedExecutor) Alive() bool { return true }
func (s *scriptedExecutor) Close() error { return nil }

type fakeResolver struct {
	sessions map[string]*session.Session
	failures map[string]error
	delay    time.Duration
}

func (r *fakeResolver) Ensure(ctx context.Context, id string) (*session.Session, error) {
	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return nil, ssh.NewConnectError(id, ctx.Err())
		}
	}
	if err, ok := r.failures[id]; ok {
		return nil, err
	}
	if sess, ok := r.sessions[id]; ok {
		return sess, nil
	}
	return nil, &ssh.ConnectError{ServerID: id, Kind: ssh.ConnectNotFound, Err: errors.New("server not found")}
}

func okExecutor(out string) *scriptedExecutor {
	return &scriptedExecutor{exec: func(context.Context, string) ([]byte, []byte, error) {
		return []byte(out), nil, nil
	}}
}

func newSession(id, name string, exec ssh.Executor) *session.Session {
	return &session.Session{Executor: exec, ServerID: id, ServerName: name}
}

type memoryHistory struct {
	mu      sync.Mutex
	entries []*models.CommandExecution
}

func (m *memoryHistory) AppendExecution(_ context.Context, exec *models.CommandExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, exec)
	return nil
}

func TestRunOneSuccess(t *testing.T) {
	resolver := &fakeResolver{sessions: map[string]*session.Session{
		"web": newSession("web", "web-1", okExecutor("hello\n")),
	}}
	history := &memoryHistory{}
	exec := New(resolver, WithHistory(history))

	result := exec.RunOne(context.Background(), "web", "echo hello")
	assert.True(t, result.Success)
	assert.Equal(t, "hello\n", result.Stdout)
	assert.Equal(t, "web-1", result.ServerName)
	require.NotNil(t, result.ExitCode)
	assert.Equal(t, 0, *result.ExitCode)
	assert.Equal(t, models.ErrorKindNone, result.ErrorKind)

	require.Len(t, history.entries, 1)
	assert.Equal(t, "echo hello", history.entries[0].Command)
	assert.Equal(t, []string{"web"}, history.entries[0].ServerIDs)
	assert.Equal(t, 1, history.entries[0].Succeeded())
}

func TestRunOneNonZeroExitIsData(t *testing.T) {
	failing := &scriptedExecutor{exec: func(_ context.Context, cmd string) ([]byte, []byte, error) {
		stderr := []byte("ls: cannot access '/nope'\n")
		return nil, stderr, &ssh.ExecError{Command: cmd, ExitCode: 2, Stderr: stderr}
	}}
	resolver := &fakeResolver{sessions: map[string]*session.Session{"web": newSession("web", "web-1", failing)}}

	result := New(resolver).RunOne(context.Background(), "web", "ls /nope")
	assert.False(t, result.Success)
	require.NotNil(t, result.ExitCode)
	assert.Equal(t, 2, *result.ExitCode)
	assert.Equal(t, "ls: cannot access '/nope'\n", result.Stderr)
	assert.Equal(t, models.ErrorKindNone, result.ErrorKind)
}

func TestRunOneConnectFailure(t *testing.T) {
	resolver := &fakeResolver{failures: map[string]error{
		"web": &ssh.ConnectError{ServerID: "web", Kind: ssh.ConnectAuth, Err: errors.New("unable to authenticate")},
	}}

	result := New(resolver).RunOne(context.Background(), "web", "uptime")
	assert.False(t, result.Success)
	assert.Empty(t, result.Stdout)
	assert.Nil(t, result.ExitCode)
	assert.Equal(t, models.ErrorKindConnect, result.ErrorKind)
	assert.Equal(t, "connection failed: auth: unable to authenticate", result.Stderr)
}

func TestRunOneTransportFailure(t *testing.T) {
	broken := &scriptedExecutor{exec: func(_ context.Context, cmd string) ([]byte, []byte, error) {
		return nil, nil, &ssh.ExecError{Command: cmd, ExitCode: -1, Err: errors.New("channel closed")}
	}}
	resolver := &fakeResolver{sessions: map[string]*session.Session{"web": newSession("web", "web", broken)}}

	result := New(resolver).RunOne(context.Background(), "web", "uptime")
	assert.False(t, result.Success)
	assert.Nil(t, result.ExitCode)
	assert.Equal(t, models.ErrorKindExec, result.ErrorKind)
	assert.True(t, strings.HasPrefix(result.Stderr, "execution failed: "), result.Stderr)
}

func TestRunOneTimeout(t *testing.T) {
	hanging := &scriptedExecutor{exec: func(ctx context.Context, _ string) ([]byte, []byte, error) {
		<-ctx.Done()
		return []byte("partial"), nil, ctx.Err()
	}}
	resolver := &fakeResolver{sessions: map[string]*session.Session{"web": newSession("web", "web", hanging)}}

	result := New(resolver, WithTimeout(30*time.Millisecond)).RunOne(context.Background(), "web", "sleep 100")
	assert.False(t, result.Success)
	assert.Equal(t, models.ErrorKindTimeout, result.ErrorKind)
	assert.Equal(t, "partial", result.Stdout)
	assert.Contains(t, result.Stderr, "timeout after 30ms")
}

func TestRunOneConnectTimeout(t *testing.T) {
	resolver := &fakeResolver{delay: time.Second}

	result := New(resolver, WithTimeout(20*time.Millisecond)).RunOne(context.Background(), "web", "uptime")
	assert.Equal(t, models.ErrorKindTimeout, result.ErrorKind)
	assert.Equal(t, "timeout after 20ms", result.Stderr)
}

func TestRunBatchIndependentFailures(t *testing.T) {
	resolver := &fakeResolver{
		sessions: map[string]*session.Session{
			"a": newSession("a", "alpha", okExecutor("a-out")),
			"c": newSession("c", "gamma", okExecutor("c-out")),
		},
		failures: map[string]error{
			"b": &ssh.ConnectError{ServerID: "b", Kind: ssh.ConnectUnreachable, Err: errors.New("connection refused")},
		},
	}
	history := &memoryHistory{}
	pub := events.NewInMemoryPublisher()
	var batchEvents []*models.Event
	require.NoError(t, pub.Subscribe("batch", events.Filter{EventTypes: []models.EventType{models.EventTypeBatchExecuted}}, func(ev *models.Event) {
		batchEvents = append(batchEvents, ev)
	}))

	results := New(resolver, WithHistory(history), WithPublisher(pub), WithMaxParallel(2)).
		RunBatch(context.Background(), []string{"a", "b", "c", "a"}, "hostname")

	require.Len(t, results, 3)
	assert.True(t, results["a"].Success)
	assert.Equal(t, "a-out", results["a"].Stdout)
	assert.True(t, results["c"].Success)
	assert.False(t, results["b"].Success)
	assert.Equal(t, models.ErrorKindConnect, results["b"].ErrorKind)
	assert.Contains(t, results["b"].Stderr, "connection refused")

	require.Len(t, history.entries, 1)
	assert.Equal(t, []string{"a", "b", "c"}, history.entries[0].ServerIDs)
	assert.Equal(t, 2, history.entries[0].Succeeded())
	require.Len(t, batchEvents, 1)
}

func TestRunBatchSlowHostDoesNotDelayOthers(t *testing.T) {
	slow := &scriptedExecutor{exec: func(ctx context.Context, _ string) ([]byte, []byte, error) {
		<-ctx.Done()
		return nil, nil, ctx.Err()
	}}
	resolver := &fakeResolver{sessions: map[string]*session.Session{
		"slow": newSession("slow", "slow", slow),
		"fast": newSession("fast", "fast", okExecutor("ok")),
	}}

	start := time.Now()
	results := New(resolver, WithTimeout(100*time.Millisecond)).RunBatch(context.Background(), []string{"slow", "fast"}, "x")
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.True(t, results["fast"].Success)
	assert.Equal(t, models.ErrorKindTimeout, results["slow"].ErrorKind)
}

func TestRunBatchEmpty(t *testing.T) {
	results := New(&fakeResolver{}).RunBatch(context.Background(), nil, "uptime")
	assert.Empty(t, results)
}
