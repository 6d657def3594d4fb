// Package status probes remote servers for health metrics and keeps a
// rolling history of the results.
package status

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tOgg1/hostdeck/internal/events"
	"github.com/tOgg1/hostdeck/internal/fanout"
	"github.com/tOgg1/hostdeck/internal/logging"
	"github.com/tOgg1/hostdeck/internal/models"
	"github.com/tOgg1/hostdeck/internal/session"
	"github.com/tOgg1/hostdeck/internal/ssh"
)

// Defaults used when no option overrides them.
const (
	DefaultProbeTimeout = 20 * time.Second
	DefaultMaxParallel  = 16
)

// Remote commands, run in this order on one session.
const (
	CmdUptime  = "uptime"
	CmdDisk    = `df -h | grep "/$"`
	CmdMemory  = "free -m"
	CmdLoad    = "cat /proc/loadavg"
	CmdCPU     = `cat /proc/stat | grep "^cpu "`
	CmdNetwork = `cat /proc/net/dev | grep -E "eth0|ens|enp"`
)

type metric struct {
	name  string
	cmd   string
	apply func(st *models.ServerStatus, output string) error
}

var metrics = []metric{
	{"uptime", CmdUptime, func(st *models.ServerStatus, out string) error {
		v, err := ParseUptime(out)
		st.Uptime = v
		return err
	}},
	{"disk", CmdDisk, func(st *models.ServerStatus, out string) error {
		pct, details, err := ParseDisk(out)
		if err == nil {
			st.DiskPercent = pct
			st.DiskDetails = &details
		}
		return err
	}},
	{"memory", CmdMemory, func(st *models.ServerStatus, out string) error {
		pct, details, err := ParseMemory(out)
		if err == nil {
			st.MemoryPercent = pct
			st.MemoryDetails = &details
		}
		return err
	}},
	{"load", CmdLoad, func(st *models.ServerStatus, out string) error {
		v, err := ParseLoad(out)
		st.LoadAverage = v
		return err
	}},
	{"cpu", CmdCPU, func(st *models.ServerStatus, out string) error {
		v, err := ParseCPU(out)
		st.CPUPercent = v
		return err
	}},
	{"network", CmdNetwork, func(st *models.ServerStatus, out string) error {
		v, err := ParseNetwork(out)
		if err == nil {
			st.Network = &v
		}
		return err
	}},
}

// Resolver hands out live sessions.
type Resolver interface {
	Ensure(ctx context.Context, serverID string) (*session.Session, error)
}

// Prober collects ServerStatus snapshots.
type Prober struct {
	sessions    Resolver
	publisher   events.Publisher
	logger      zerolog.Logger
	timeout     time.Duration
	maxParallel int
	now         func() time.Time
}

// ProberOption configures a Prober.
type ProberOption func(*Prober)

// WithPublisher emits status.probed events.
func WithPublisher(pub events.Publisher) ProberOption {
	return func(p *Prober) { p.publisher = pub }
}

// WithLogger overrides the component logger.
func WithLogger(logger zerolog.Logger) ProberOption {
	return func(p *Prober) { p.logger = logger }
}

// WithTimeout bounds one probe, connect included. Zero disables it.
func WithTimeout(d time.Duration) ProberOption {
	return func(p *Prober) { p.timeout = d }
}

// WithMaxParallel bounds concurrent hosts in ProbeAll.
func WithMaxParallel(n int) ProberOption {
	return func(p *Prober) { p.maxParallel = n }
}

// NewProber creates a Prober.
func NewProber(sessions Resolver, opts ...ProberOption) *Prober {
	p := &Prober{
		sessions:    sessions,
		logger:      logging.Component("status"),
		timeout:     DefaultProbeTimeout,
		maxParallel: DefaultMaxParallel,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Probe returns a health snapshot of one server. An unreachable server is
// reported as offline, never as an error. A metric whose output cannot be
// parsed is left out; the rest of the snapshot stands.
func (p *Prober) Probe(ctx context.Context, serverID string) models.ServerStatus {
	st := p.probe(ctx, serverID)
	events.Emit(ctx, p.publisher, events.New(models.EventTypeStatusProbed, models.EntityTypeServer, serverID, st))
	return st
}

// ProbeAll probes every distinct server concurrently.
func (p *Prober) ProbeAll(ctx context.Context, serverIDs []string) map[string]models.ServerStatus {
	return fanout.Run(ctx, serverIDs, p.maxParallel, p.Probe)
}

func (p *Prober) probe(ctx context.Context, serverID string) models.ServerStatus {
	logger := logging.WithServer(p.logger, serverID)
	offline := func(err error) models.ServerStatus {
		logger.Debug().Err(err).Msg("server offline")
		return models.ServerStatus{ID: serverID, Online: false, LastCheck: p.now(), Error: err.Error()}
	}

	opCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		opCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	sess, err := p.sessions.Ensure(opCtx, serverID)
	if err != nil {
		return offline(err)
	}

	st := models.ServerStatus{ID: serverID, Online: true}
	for _, m := range metrics {
		stdout, _, err := sess.Exec(opCtx, m.cmd)
		if err != nil {
			var execErr *ssh.ExecError
			if !errors.As(err, &execErr) || !execErr.Exited() {
				if opCtx.Err() != nil && ctx.Err() == nil {
					err = fmt.Errorf("timeout after %s", p.timeout)
				}
				return offline(fmt.Errorf("%s: %w", m.name, err))
			}
		}
		if err := m.apply(&st, string(stdout)); err != nil {
			logger.Debug().Err(err).Str("metric", m.name).Msg("metric omitted")
		}
	}
	st.LastCheck = p.now()
	return st
}
