package status

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tOgg1/hostdeck/internal/events"
	"github.com/tOgg1/hostdeck/internal/logging"
	"github.com/tOgg1/hostdeck/internal/models"
)

// Poller errors.
var (
	ErrPollerAlreadyRunning = errors.New("poller already running")
	ErrPollerNotRunning     = errors.New("poller not running")
)

// PollerConfig contains configuration for the status poller.
type PollerConfig struct {
	// Interval is how often each connected server is probed.
	// Default: 30s
	Interval time.Duration

	// HistorySize is how many samples are kept per server.
	// Default: 60
	HistorySize int

	// MaxConcurrentPolls limits concurrent probes.
	// Default: 16
	MaxConcurrentPolls int
}

// DefaultPollerConfig returns sensible defaults.
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		Interval:           30 * time.Second,
		HistorySize:        60,
		MaxConcurrentPolls: DefaultMaxParallel,
	}
}

// ConnectedLister reports which servers currently have a live session.
type ConnectedLister interface {
	Connected() []string
}

type serverPollState struct {
	latest       models.ServerStatus
	history      []models.StatusSample
	lastPolledAt time.Time
	polling      bool
}

// Poller probes connected servers in the background and keeps the latest
// snapshot plus a bounded history per server.
type Poller struct {
	config    PollerConfig
	prober    *Prober
	sessions  ConnectedLister
	publisher events.Publisher
	logger    zerolog.Logger
	now       func() time.Time

	mu      sync.RWMutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	pollSem chan struct{}
	states  map[string]*serverPollState
}

// NewPoller creates a Poller. publisher may be nil.
func NewPoller(config PollerConfig, prober *Prober, sessions ConnectedLister, publisher events.Publisher) *Poller {
	defaults := DefaultPollerConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.HistorySize <= 0 {
		config.HistorySize = defaults.HistorySize
	}
	if config.MaxConcurrentPolls <= 0 {
		config.MaxConcurrentPolls = defaults.MaxConcurrentPolls
	}

	return &Poller{
		config:    config,
		prober:    prober,
		sessions:  sessions,
		publisher: publisher,
		logger:    logging.Component("status-poller"),
		now:       time.Now,
		pollSem:   make(chan struct{}, config.MaxConcurrentPolls),
		states:    make(map[string]*serverPollState),
	}
}

// Start begins the polling loop.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return ErrPollerAlreadyRunning
	}

	p.ctx, p.cancel = context.WithCancel(ctx)
	p.running = true

	p.logger.Info().
		Dur("interval", p.config.Interval).
		Int("history_size", p.config.HistorySize).
		Int("max_concurrent", p.config.MaxConcurrentPolls).
		Msg("status poller starting")

	p.wg.Add(1)
	go p.runLoop(p.ctx)

	return nil
}

// Stop halts the polling loop and waits for in-flight probes.
func (p *Poller) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return ErrPollerNotRunning
	}

	p.logger.Info().Msg("status poller stopping")
	p.cancel()
	p.running = false
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info().Msg("status poller stopped")
	return nil
}

// IsRunning returns true if the poller is running.
func (p *Poller) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

func (p *Poller) runLoop(ctx context.Context) {
	defer p.wg.Done()

	// Tick faster than the interval so newly connected servers are picked up
	// promptly; pollTick skips servers polled recently.
	tick := min(max(p.config.Interval/4, 100*time.Millisecond), time.Second)
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	p.pollTick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollTick(ctx)
		}
	}
}

func (p *Poller) pollTick(ctx context.Context) {
	connected := p.sessions.Connected()
	live := make(map[string]struct{}, len(connected))
	now := p.now()

	for _, id := range connected {
		live[id] = struct{}{}
		if p.shouldPoll(id, now) {
			p.pollServer(ctx, id)
		}
	}

	// Servers whose session went away are marked offline without dialing.
	p.mu.RLock()
	var gone []string
	for id, st := range p.states {
		if _, ok := live[id]; !ok && st.latest.Online && !st.polling {
			gone = append(gone, id)
		}
	}
	p.mu.RUnlock()

	for _, id := range gone {
		p.Observe(models.ServerStatus{ID: id, Online: false, LastCheck: now, Error: "session closed"})
	}
}

func (p *Poller) shouldPoll(serverID string, now time.Time) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	st, ok := p.states[serverID]
	if !ok {
		return true
	}
	if st.polling {
		return false
	}
	return now.Sub(st.lastPolledAt) >= p.config.Interval
}

func (p *Poller) pollServer(ctx context.Context, serverID string) {
	select {
	case p.pollSem <- struct{}{}:
	default:
		// Max concurrent polls reached, skip this one
		return
	}

	p.mu.Lock()
	st := p.state(serverID)
	st.polling = true
	st.lastPolledAt = p.now()
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() { <-p.pollSem }()

		// The session may have closed since the tick listed it, and Ensure
		// would dial it again.
		if !p.isConnected(serverID) {
			p.mu.Lock()
			p.state(serverID).polling = false
			p.mu.Unlock()
			return
		}

		status := p.prober.Probe(ctx, serverID)

		p.mu.Lock()
		p.state(serverID).polling = false
		p.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		p.Observe(status)
	}()
}

func (p *Poller) isConnected(serverID string) bool {
	for _, id := range p.sessions.Connected() {
		if id == serverID {
			return true
		}
	}
	return false
}

// PollNow probes one connected server immediately. Servers without a live
// session are left alone.
func (p *Poller) PollNow(serverID string) error {
	p.mu.RLock()
	running := p.running
	ctx := p.ctx
	p.mu.RUnlock()

	if !running {
		return ErrPollerNotRunning
	}

	p.pollServer(ctx, serverID)
	return nil
}

// Observe records a snapshot taken elsewhere (for example an on-demand API
// probe) and publishes online/offline transitions.
func (p *Poller) Observe(status models.ServerStatus) {
	p.mu.Lock()
	st := p.state(status.ID)
	wasOnline := st.latest.Online
	known := !st.latest.LastCheck.IsZero()
	st.latest = status
	if status.Online {
		st.history = append(st.history, models.StatusSample{
			At:            status.LastCheck,
			CPUPercent:    status.CPUPercent,
			MemoryPercent: status.MemoryPercent,
			DiskPercent:   status.DiskPercent,
			NetworkDownKB: networkDown(status),
		})
		if over := len(st.history) - p.config.HistorySize; over > 0 {
			st.history = append([]models.StatusSample(nil), st.history[over:]...)
		}
	}
	p.mu.Unlock()

	if known && wasOnline == status.Online {
		return
	}
	if !known && !status.Online {
		return
	}

	eventType := models.EventTypeServerOffline
	if status.Online {
		eventType = models.EventTypeServerOnline
	}
	logger := logging.WithServer(p.logger, status.ID)
	logger.Info().Bool("online", status.Online).Msg("server status changed")
	events.Emit(context.Background(), p.publisher, events.New(eventType, models.EntityTypeServer, status.ID,
		models.StatusChangedPayload{WasOnline: wasOnline, Online: status.Online, Error: status.Error}))
}

// Latest returns the most recent snapshot for a server.
func (p *Poller) Latest(serverID string) (models.ServerStatus, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	st, ok := p.states[serverID]
	if !ok || st.latest.LastCheck.IsZero() {
		return models.ServerStatus{}, false
	}
	return st.latest, true
}

// Snapshot returns the latest snapshot of every known server.
func (p *Poller) Snapshot() []models.ServerStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]models.ServerStatus, 0, len(p.states))
	for _, st := range p.states {
		if !st.latest.LastCheck.IsZero() {
			out = append(out, st.latest)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// History returns a copy of a server's samples, oldest first.
func (p *Poller) History(serverID string) []models.StatusSample {
	p.mu.RLock()
	defer p.mu.RUnlock()

	st, ok := p.states[serverID]
	if !ok {
		return nil
	}
	return append([]models.StatusSample(nil), st.history...)
}

// Forget drops all state for a server (e.g. when it is deleted).
func (p *Poller) Forget(serverID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.states, serverID)
}

// state returns the entry for serverID, creating it. Callers hold p.mu.
func (p *Poller) state(serverID string) *serverPollState {
	st := p.states[serverID]
	if st == nil {
		st = &serverPollState{}
		p.states[serverID] = st
	}
	return st
}

func networkDown(status models.ServerStatus) int64 {
	if status.Network == nil {
		return 0
	}
	return status.Network.DownKB
}
