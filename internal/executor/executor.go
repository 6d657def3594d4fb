// Package executor runs shell commands on one server or fans them out across
// many, turning every outcome into a models.CommandResult.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
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
	DefaultMaxParallel = 16
	DefaultTimeout     = 5 * time.Minute
)

// Resolver hands out live sessions.
type Resolver interface {
	Ensure(ctx context.Context, serverID string) (*session.Session, error)
}

// HistoryRecorder stores completed executions.
type HistoryRecorder interface {
	AppendExecution(ctx context.Context, exec *models.CommandExecution) error
}

// Executor runs commands through sessions from a Resolver.
type Executor struct {
	sessions    Resolver
	history     HistoryRecorder
	publisher   events.Publisher
	logger      zerolog.Logger
	maxParallel int
	timeout     time.Duration
	now         func() time.Time
}

// Option configures an Executor.
type Option func(*Executor)

// WithHistory records every execution.
func WithHistory(history HistoryRecorder) Option {
	return func(e *Executor) { e.history = history }
}

// WithPublisher emits command.executed and batch.executed events.
func WithPublisher(pub events.Publisher) Option {
	return func(e *Executor) { e.publisher = pub }
}

// WithLogger overrides the component logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Executor) { e.logger = logger }
}

// WithMaxParallel bounds concurrent hosts in a batch. Zero means unbounded.
func WithMaxParallel(n int) Option {
	return func(e *Executor) { e.maxParallel = n }
}

// WithTimeout sets the per-host deadline covering connect plus execution.
// Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) { e.timeout = d }
}

// New creates an Executor.
func New(sessions Resolver, opts ...Option) *Executor {
	e := &Executor{
		sessions:    sessions,
		logger:      logging.Component("executor"),
		maxParallel: DefaultMaxParallel,
		timeout:     DefaultTimeout,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RunOne runs command on one server. It never fails: connection and
// execution problems are reported inside the result.
func (e *Executor) RunOne(ctx context.Context, serverID, command string) models.CommandResult {
	started := e.now()
	result := e.run(ctx, serverID, command)

	e.record(ctx, command, []string{serverID}, map[string]models.CommandResult{serverID: result}, started)
	events.Emit(ctx, e.publisher, events.New(models.EventTypeCommandExecuted, models.EntityTypeServer, serverID,
		models.CommandExecutedPayload{Command: command, Hosts: 1, Succeeded: boolCount(result.Success)}))
	return result
}

// RunBatch runs command on every distinct server concurrently and returns one
// result per server id. A failing host never affects the others.
func (e *Executor) RunBatch(ctx context.Context, serverIDs []string, command string) map[string]models.CommandResult {
	started := e.now()
	ids := fanout.Unique(serverIDs)

	results := fanout.Run(ctx, ids, e.maxParallel, func(ctx context.Context, id string) models.CommandResult {
		return e.run(ctx, id, command)
	})

	succeeded := 0
	for _, r := range results {
		succeeded += boolCount(r.Success)
	}
	e.logger.Info().
		Int("hosts", len(ids)).
		Int("succeeded", succeeded).
		Dur("took", e.now().Sub(started)).
		Msg("batch executed")

	e.record(ctx, command, ids, results, started)
	events.Emit(ctx, e.publisher, events.New(models.EventTypeBatchExecuted, models.EntityTypeBatch, "",
		models.CommandExecutedPayload{Command: command, Hosts: len(ids), Succeeded: succeeded}))
	return results
}

func (e *Executor) run(ctx context.Context, serverID, command string) models.CommandResult {
	started := e.now()
	result := models.CommandResult{ServerID: serverID, ServerName: serverID}
	logger := logging.WithServer(e.logger, serverID)

	opCtx, cancel := withTimeout(ctx, e.timeout)
	defer cancel()
	finish := func() models.CommandResult {
		result.ExecutionTimeMs = e.now().Sub(started).Milliseconds()
		return result
	}

	sess, err := e.sessions.Ensure(opCtx, serverID)
	if err != nil {
		if timedOut(ctx, opCtx) {
			result.ErrorKind = models.ErrorKindTimeout
			result.Stderr = TimeoutMessage(e.timeout)
		} else {
			result.ErrorKind = models.ErrorKindConnect
			result.Stderr = ConnectMessage(err)
		}
		logger.Warn().Str("kind", string(result.ErrorKind)).Msg(logging.Redact(result.Stderr))
		return finish()
	}
	result.ServerName = sess.ServerName

	stdout, stderr, err := sess.Exec(opCtx, command)
	result.Stdout = string(stdout)
	result.Stderr = string(stderr)

	var execErr *ssh.ExecError
	switch {
	case err == nil:
		result.Success = true
		result.ExitCode = intPtr(0)
	case errors.As(err, &execErr) && execErr.Exited():
		result.ExitCode = intPtr(execErr.ExitCode)
	case timedOut(ctx, opCtx):
		result.ErrorKind = models.ErrorKindTimeout
		result.Stderr = appendLine(result.Stderr, TimeoutMessage(e.timeout))
	default:
		result.ErrorKind = models.ErrorKindExec
		result.Stderr = appendLine(result.Stderr, "execution failed: "+err.Error())
	}

	logger.Debug().
		Bool("success", result.Success).
		Int("exit_code", result.Code()).
		Str("kind", string(result.ErrorKind)).
		Msg("command finished")
	return finish()
}

func (e *Executor) record(ctx context.Context, command string, ids []string, results map[string]models.CommandResult, started time.Time) {
	if e.history == nil {
		return
	}
	entry := &models.CommandExecution{
		ID:        uuid.NewString(),
		Command:   command,
		ServerIDs: ids,
		Results:   results,
		StartedAt: started,
		Duration:  e.now().Sub(started),
	}
	if err := e.history.AppendExecution(context.WithoutCancel(ctx), entry); err != nil {
		e.logger.Warn().Err(err).Msg("failed to record command history")
	}
}

// ConnectMessage formats a session failure for a result's error text.
func ConnectMessage(err error) string {
	return "connection failed: " + connectCause(err)
}

// TimeoutMessage formats a deadline expiry for a result's error text.
func TimeoutMessage(d time.Duration) string {
	return fmt.Sprintf("timeout after %s", d)
}

func connectCause(err error) string {
	var connErr *ssh.ConnectError
	if errors.As(err, &connErr) {
		return fmt.Sprintf("%s: %v", connErr.Kind, connErr.Err)
	}
	return err.Error()
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// timedOut reports whether the per-operation deadline (not the caller's
// context) ended the operation.
func timedOut(parent, op context.Context) bool {
	return errors.Is(op.Err(), context.DeadlineExceeded) && parent.Err() == nil
}

func appendLine(s, line string) string {
	if s == "" {
		return line
	}
	if s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s + line
}

func intPtr(v int) *int {
	return &v
}

func boolCount(b bool) int {
	if b {
		return 1
	}
	return 0
}
