package status

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tOgg1/hostdeck/internal/events"
	"github.com/tOgg1/hostdeck/internal/models"
	"github.com/tOgg1/hostdeck/internal/session"
	"github.com/tOgg1/hostdeck/internal/ssh"
	"github.com/tOgg1/hostdeck/internal/testutil"
)

type mapResolver struct {
	sessions map[string]*session.Session
}

func (r *mapResolver) Ensure(_ context.Context, id string) (*session.Session, error) {
	if sess, ok := r.sessions[id]; ok {
		return sess, nil
	}
	return nil, &ssh.ConnectError{ServerID: id, Kind: ssh.ConnectUnreachable, Err: errors.New("connection refused")}
}

// replyExecutor answers commands from a table; unknown commands exit 127.
type replyExecutor struct {
	replies map[string]string
	broken  map[string]error
}

func (r *replyExecutor) Exec(_ context.Context, cmd string) ([]byte, []byte, error) {
	if err, ok := r.broken[cmd]; ok {
		return nil, nil, err
	}
	out, ok := r.replies[cmd]
	if !ok {
		return nil, []byte("not found"), &ssh.ExecError{Command: cmd, ExitCode: 127}
	}
	return []byte(out), nil, nil
}
func (r *replyExecutor) ExecInteractive(context.Context, string, io.Reader) error { return nil }
func (r *replyExecutor) ExecStream(context.Context, string, io.Writer) error { return nil }
func (r *replyExecutor) Alive() bool { return true }
func (r *replyExecutor) Close() error { return nil }

func healthyReplies() map[string]string {
	return map[string]string{
		CmdUptime:  sampleUptime,
		CmdDisk:    sampleDF,
		CmdMemory:  sampleFree,
		CmdLoad:    sampleLoadavg,
		CmdCPU:     "cpu  50 0 50 100\n",
		CmdNetwork: sampleNetDev,
	}
}

func TestProbeOverRealSSH(t *testing.T) {
	script := make(map[string]testutil.Reply)
	for cmd, out := range healthyReplies() {
		script[cmd] = testutil.Reply{Stdout: out}
	}
	srv := testutil.NewSSHServer(t, testutil.ScriptHandler(script))

	exec, err := ssh.DialNative(context.Background(), ssh.ConnectionOptions{
		Host:     srv.Host(),
		Port:     srv.Port(),
		User:     testutil.SSHUser,
		Password: testutil.SSHPassword,
		Timeout:  5 * time.Second,
	}, zerolog.Nop())
	require.NoError(t, err)
	defer exec.Close()

	prober := NewProber(&mapResolver{sessions: map[string]*session.Session{
		"web": {Executor: exec, ServerID: "web"},
	}})

	st := prober.Probe(context.Background(), "web")
	require.True(t, st.Online, st.Error)
	assert.Equal(t, "3 days", st.Uptime)
	assert.Equal(t, 50, st.CPUPercent)
	assert.Equal(t, 50, st.MemoryPercent)
	assert.Equal(t, 44, st.DiskPercent)
	assert.Equal(t, "0.52 0.58 0.59", st.LoadAverage)
	require.NotNil(t, st.Network)
	assert.Equal(t, int64(1024), st.Network.DownKB)
	assert.Equal(t, int64(2048), st.Network.UpKB)
	require.NotNil(t, st.MemoryDetails)
	assert.Equal(t, int64(7954), st.MemoryDetails.TotalMB)
	assert.False(t, st.LastCheck.IsZero())

	// All six metrics run sequentially on one connection.
	assert.Len(t, srv.Commands(), len(metrics))
	assert.Equal(t, 1, srv.Connections())
}

func TestProbeOmitsUnparseableMetric(t *testing.T) {
	replies := healthyReplies()
	replies[CmdDisk] = "weird output"
	delete(replies, CmdNetwork)

	prober := NewProber(&mapResolver{sessions: map[string]*session.Session{
		"web": {Executor: &replyExecutor{replies: replies}, ServerID: "web"},
	}})

	st := prober.Probe(context.Background(), "web")
	assert.True(t, st.Online)
	assert.Zero(t, st.DiskPercent)
	assert.Nil(t, st.DiskDetails)
	assert.Nil(t, st.Network)
	assert.Equal(t, 50, st.MemoryPercent)
	assert.Equal(t, "3 days", st.Uptime)
}

func TestProbeOffline(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	prober := NewProber(&mapResolver{})
	prober.now = func() time.Time { return now }

	st := prober.Probe(context.Background(), "gone")
	assert.False(t, st.Online)
	assert.Equal(t, "gone", st.ID)
	assert.Equal(t, now, st.LastCheck)
	assert.Zero(t, st.CPUPercent)
	assert.Nil(t, st.Network)
	assert.Contains(t, st.Error, "connection refused")
}

func TestProbeTransportFailureMarksOffline(t *testing.T) {
	exec := &replyExecutor{
		replies: healthyReplies(),
		broken:  map[string]error{CmdMemory: &ssh.ExecError{Command: CmdMemory, ExitCode: -1, Err: errors.New("EOF")}},
	}
	prober := NewProber(&mapResolver{sessions: map[string]*session.Session{
		"web": {Executor: exec, ServerID: "web"},
	}})

	st := prober.Probe(context.Background(), "web")
	assert.False(t, st.Online)
	assert.Contains(t, st.Error, "memory")
	assert.Empty(t, st.Uptime)
}

func TestProbeAllPublishesEvents(t *testing.T) {
	pub := events.NewInMemoryPublisher()
	ch, cancel, err := pub.SubscribeChan("probe", events.Filter{EventTypes: []models.EventType{models.EventTypeStatusProbed}}, 10)
	require.NoError(t, err)
	defer cancel()

	prober := NewProber(&mapResolver{sessions: map[string]*session.Session{
		"a": {Executor: &replyExecutor{replies: healthyReplies()}, ServerID: "a"},
		"b": {Executor: &replyExecutor{replies: healthyReplies()}, ServerID: "b"},
	}}, WithPublisher(pub), WithMaxParallel(1))

	got := prober.ProbeAll(context.Background(), []string{"a", "b", "c"})
	require.Len(t, got, 3)
	assert.True(t, got["a"].Online)
	assert.True(t, got["b"].Online)
	assert.False(t, got["c"].Online)

	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		select {
		case ev := <-ch:
			seen[ev.EntityID] = true
		case <-time.After(time.Second):
			t.Fatal("missing status.probed event")
		}
	}
	assert.Len(t, seen, 3)
}
