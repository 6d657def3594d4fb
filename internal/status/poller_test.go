package status

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tOgg1/hostdeck/internal/events"
	"github.com/tOgg1/hostdeck/internal/models"
	"github.com/tOgg1/hostdeck/internal/session"
)

type staticConnected struct {
	mu  sync.Mutex
	ids []string
}

func (s *staticConnected) Connected() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ids...)
}

func (s *staticConnected) set(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = ids
}

// closingConnected lists its ids once and then reports nothing, as if the
// session closed right after a tick.
type closingConnected struct {
	calls atomic.Int32
	ids   []string
}

func (c *closingConnected) Connected() []string {
	if c.calls.Add(1) == 1 {
		return c.ids
	}
	return nil
}

type countingResolver struct {
	mapResolver
	ensures atomic.Int32
}

func (r *countingResolver) Ensure(ctx context.Context, id string) (*session.Session, error) {
	r.ensures.Add(1)
	return r.mapResolver.Ensure(ctx, id)
}

func TestDefaultPollerConfig(t *testing.T) {
	config := DefaultPollerConfig()

	if config.Interval <= 0 {
		t.Error("expected positive Interval")
	}
	if config.HistorySize <= 0 {
		t.Error("expected positive HistorySize")
	}
	if config.MaxConcurrentPolls <= 0 {
		t.Error("expected positive MaxConcurrentPolls")
	}
}

func TestPollerShouldPoll(t *testing.T) {
	p := NewPoller(PollerConfig{Interval: 100 * time.Millisecond}, nil, nil, nil)
	now := time.Now()

	tests := []struct {
		name       string
		id         string
		lastPolled time.Time
		polling    bool
		expect     bool
	}{
		{name: "never polled", id: "s1", expect: true},
		{name: "recently polled", id: "s2", lastPolled: now.Add(-50 * time.Millisecond), expect: false},
		{name: "poll due", id: "s3", lastPolled: now.Add(-150 * time.Millisecond), expect: true},
		{name: "poll in flight", id: "s4", lastPolled: now.Add(-time.Hour), polling: true, expect: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.lastPolled.IsZero() {
				p.states[tt.id] = &serverPollState{lastPolledAt: tt.lastPolled, polling: tt.polling}
			}

			got := p.shouldPoll(tt.id, now)
			if got != tt.expect {
				t.Errorf("shouldPoll() = %v, want %v", got, tt.expect)
			}
		})
	}
}

func TestPollerStartStop(t *testing.T) {
	prober := NewProber(&mapResolver{})
	p := NewPoller(PollerConfig{Interval: time.Hour}, prober, &staticConnected{}, nil)

	require.NoError(t, p.Start(context.Background()))
	assert.True(t, p.IsRunning())
	assert.ErrorIs(t, p.Start(context.Background()), ErrPollerAlreadyRunning)

	require.NoError(t, p.Stop())
	assert.False(t, p.IsRunning())
	assert.ErrorIs(t, p.Stop(), ErrPollerNotRunning)
	assert.ErrorIs(t, p.PollNow("x"), ErrPollerNotRunning)
}

func TestPollerSkipsSessionClosedSinceTick(t *testing.T) {
	resolver := &countingResolver{}
	p := NewPoller(PollerConfig{Interval: time.Hour}, NewProber(resolver), &closingConnected{ids: []string{"web"}}, nil)

	p.pollTick(context.Background())
	p.wg.Wait()

	assert.Zero(t, resolver.ensures.Load(), "closed session must not be redialed")
	_, ok := p.Latest("web")
	assert.False(t, ok)
	assert.False(t, p.state("web").polling)
}

func TestPollerCollectsHistory(t *testing.T) {
	prober := NewProber(&mapResolver{sessions: map[string]*session.Session{
		"web": {Executor: &replyExecutor{replies: healthyReplies()}, ServerID: "web"},
	}})
	connected := &staticConnected{ids: []string{"web"}}
	p := NewPoller(PollerConfig{Interval: 10 * time.Millisecond, HistorySize: 3}, prober, connected, nil)

	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	require.Eventually(t, func() bool { return len(p.History("web")) == 3 }, 5*time.Second, 10*time.Millisecond)

	// History stays bounded.
	time.Sleep(300 * time.Millisecond)
	assert.Len(t, p.History("web"), 3)

	latest, ok := p.Latest("web")
	require.True(t, ok)
	assert.True(t, latest.Online)
	assert.Equal(t, 50, latest.CPUPercent)
	assert.Len(t, p.Snapshot(), 1)
}

func TestPollerMarksDisconnectedOffline(t *testing.T) {
	pub := events.NewInMemoryPublisher()
	var mu sync.Mutex
	var transitions []models.EventType
	require.NoError(t, pub.Subscribe("t", events.Filter{EventTypes: []models.EventType{
		models.EventTypeServerOnline, models.EventTypeServerOffline,
	}}, func(ev *models.Event) {
		mu.Lock()
		transitions = append(transitions, ev.Type)
		mu.Unlock()
	}))

	prober := NewProber(&mapResolver{sessions: map[string]*session.Session{
		"web": {Executor: &replyExecutor{replies: healthyReplies()}, ServerID: "web"},
	}})
	connected := &staticConnected{ids: []string{"web"}}
	p := NewPoller(PollerConfig{Interval: time.Hour}, prober, connected, pub)

	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	require.Eventually(t, func() bool {
		st, ok := p.Latest("web")
		return ok && st.Online
	}, 5*time.Second, 10*time.Millisecond)

	connected.set()
	require.Eventually(t, func() bool {
		st, ok := p.Latest("web")
		return ok && !st.Online
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []models.EventType{models.EventTypeServerOnline, models.EventTypeServerOffline}, transitions)
}

func TestObserveOnlyPublishesTransitions(t *testing.T) {
	pub := events.NewInMemoryPublisher()
	count := 0
	require.NoError(t, pub.Subscribe("t", events.Filter{}, func(*models.Event) { count++ }))

	p := NewPoller(PollerConfig{}, nil, nil, pub)
	now := time.Now()

	p.Observe(models.ServerStatus{ID: "a", Online: false, LastCheck: now})
	assert.Equal(t, 0, count, "first offline observation is not a transition")

	p.Observe(models.ServerStatus{ID: "a", Online: true, LastCheck: now})
	p.Observe(models.ServerStatus{ID: "a", Online: true, LastCheck: now})
	assert.Equal(t, 1, count)

	p.Observe(models.ServerStatus{ID: "a", Online: false, LastCheck: now})
	assert.Equal(t, 2, count)

	p.Forget("a")
	_, ok := p.Latest("a")
	assert.False(t, ok)
}
