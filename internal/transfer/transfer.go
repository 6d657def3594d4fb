// Package transfer moves files between hostdeck and remote servers over the
// command channel of a live session. Uploads stream a staged local copy into
// `cat > path`; downloads stream `cat path` into a staged local copy.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
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
	DefaultTimeout     = 10 * time.Minute
	DefaultMaxParallel = 16
)

// Resolver hands out live sessions.
type Resolver interface {
	Ensure(ctx context.Context, serverID string) (*session.Session, error)
}

// HistoryRecorder stores completed file operations.
type HistoryRecorder interface {
	AppendFileOperation(ctx context.Context, op *models.FileOperation) error
}

// Manager runs uploads and downloads.
type Manager struct {
	sessions    Resolver
	history     HistoryRecorder
	publisher   events.Publisher
	logger      zerolog.Logger
	stagingDir  string
	timeout     time.Duration
	maxParallel int
	now         func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithHistory records every transfer.
func WithHistory(history HistoryRecorder) Option {
	return func(m *Manager) { m.history = history }
}

// WithPublisher emits file.uploaded and file.downloaded events.
func WithPublisher(pub events.Publisher) Option {
	return func(m *Manager) { m.publisher = pub }
}

// WithLogger overrides the component logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithStagingDir sets where temporary files live. Empty uses os.TempDir.
func WithStagingDir(dir string) Option {
	return func(m *Manager) { m.stagingDir = dir }
}

// WithTimeout sets the per-host deadline. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) { m.timeout = d }
}

// WithMaxParallel bounds concurrent hosts in batch transfers.
func WithMaxParallel(n int) Option {
	return func(m *Manager) { m.maxParallel = n }
}

// New creates a Manager.
func New(sessions Resolver, opts ...Option) *Manager {
	m := &Manager{
		sessions:    sessions,
		logger:      logging.Component("transfer"),
		timeout:     DefaultTimeout,
		maxParallel: DefaultMaxParallel,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Upload copies src to remotePath on one server. The staged copy is removed
// on every path.
func (m *Manager) Upload(ctx context.Context, serverID, fileName string, src io.Reader, remotePath string) models.TransferResult {
	staged, err := m.stage(src)
	if err != nil {
		return m.finishUpload(ctx, serverID, serverID, fileName, remotePath, err)
	}
	defer os.Remove(staged)

	return m.uploadStaged(ctx, serverID, fileName, staged, remotePath)
}

// UploadBatch copies src to remotePath on every distinct server. src is
// staged once; each host reads its own handle on the staged file.
func (m *Manager) UploadBatch(ctx context.Context, serverIDs []string, fileName string, src io.Reader, remotePath string) map[string]models.TransferResult {
	ids := fanout.Unique(serverIDs)
	staged, err := m.stage(src)
	if err != nil {
		results := make(map[string]models.TransferResult, len(ids))
		for _, id := range ids {
			results[id] = m.finishUpload(ctx, id, id, fileName, remotePath, err)
		}
		return results
	}
	defer os.Remove(staged)

	return fanout.Run(ctx, ids, m.maxParallel, func(ctx context.Context, id string) models.TransferResult {
		return m.uploadStaged(ctx, id, fileName, staged, remotePath)
	})
}

func (m *Manager) uploadStaged(ctx context.Context, serverID, fileName, staged, remotePath string) models.TransferResult {
	name := baseName(fileName)
	if name == "" || remotePath == "" {
		return m.finishUpload(ctx, serverID, serverID, fileName, remotePath,
			&TransferError{Kind: KindInvalid, Path: remotePath, Err: ErrEmptyRemotePath})
	}

	opCtx, cancel := withTimeout(ctx, m.timeout)
	defer cancel()

	sess, err := m.sessions.Ensure(opCtx, serverID)
	if err != nil {
		return m.finishUpload(ctx, serverID, serverID, name, remotePath, m.classify(ctx, opCtx, KindConnect, remotePath, err))
	}

	target, err := m.writeRemote(opCtx, sess, name, staged, remotePath)
	if err != nil {
		return m.finishUpload(ctx, serverID, sess.ServerName, name, remotePath, m.classify(ctx, opCtx, KindRemote, remotePath, err))
	}

	result := m.finishUpload(ctx, serverID, sess.ServerName, name, target, nil)
	result.ResolvedRemotePath = target
	return result
}

func (m *Manager) writeRemote(ctx context.Context, exec ssh.Executor, fileName, staged, remotePath string) (string, error) {
	target, err := resolveTarget(ctx, exec, fileName, remotePath)
	if err != nil {
		return "", fmt.Errorf("resolve target: %w", err)
	}

	if dir := remoteDir(target); dir != "" {
		if _, _, err := exec.Exec(ctx, "mkdir -p "+quote(dir)); err != nil {
			return target, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	f, err := os.Open(staged)
	if err != nil {
		return target, &TransferError{Kind: KindStaging, Path: staged, Err: err}
	}
	defer f.Close()

	if err := exec.ExecInteractive(ctx, "cat > "+quote(target), f); err != nil {
		return target, fmt.Errorf("write %s: %w", target, err)
	}

	if _, _, err := exec.Exec(ctx, "test -f "+quote(target)); err != nil {
		var execErr *ssh.ExecError
		if errors.As(err, &execErr) && execErr.Exited() {
			return target, ErrNotWritten
		}
		return target, fmt.Errorf("verify %s: %w", target, err)
	}
	return target, nil
}

func (m *Manager) finishUpload(ctx context.Context, serverID, serverName, fileName, remotePath string, err error) models.TransferResult {
	result := models.TransferResult{
		ServerID:   serverID,
		ServerName: serverName,
		Success:    err == nil,
		Timestamp:  m.now(),
	}
	logger := logging.WithServer(m.logger, serverID)
	if err != nil {
		result.Message = err.Error()
		result.ErrorKind = resultKind(err)
		logger.Warn().Str("remote_path", remotePath).Msg(result.Message)
	} else {
		result.Message = "uploaded to " + remotePath
		logger.Info().Str("remote_path", remotePath).Msg("file uploaded")
	}

	m.record(ctx, models.FileOperationUpload, result, fileName, remotePath)
	events.Emit(ctx, m.publisher, events.New(models.EventTypeFileUploaded, models.EntityTypeServer, serverID, result))
	return result
}

// stage copies src into a private temp file and returns its path.
func (m *Manager) stage(src io.Reader) (string, error) {
	f, err := os.CreateTemp(m.stagingDir, "hostdeck-upload-*")
	if err != nil {
		return "", &TransferError{Kind: KindStaging, Err: err}
	}
	name := f.Name()

	if _, err := io.Copy(f, src); err != nil {
		_ = f.Close()
		_ = os.Remove(name)
		return "", &TransferError{Kind: KindStaging, Path: name, Err: err}
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(name)
		return "", &TransferError{Kind: KindStaging, Path: name, Err: err}
	}
	return name, nil
}

// classify wraps err with a kind unless it already carries one. An expired
// per-operation deadline always wins.
func (m *Manager) classify(parent, op context.Context, fallback ErrorKind, path string, err error) error {
	if errors.Is(op.Err(), context.DeadlineExceeded) && parent.Err() == nil {
		return &TransferError{Kind: KindTimeout, Path: path, Err: fmt.Errorf("timeout after %s", m.timeout)}
	}
	if KindOf(err) != "" {
		return err
	}
	if errors.Is(err, ErrNotWritten) {
		return &TransferError{Kind: KindRemote, Path: path, Err: err}
	}

	var execErr *ssh.ExecError
	if errors.As(err, &execErr) && isPermissionDenied(execErr.Stderr) {
		return &TransferError{Kind: KindPermission, Path: path, Err: err}
	}
	return &TransferError{Kind: fallback, Path: path, Err: err}
}

func (m *Manager) record(ctx context.Context, kind models.FileOperationKind, result models.TransferResult, fileName, remotePath string) {
	if m.history == nil {
		return
	}
	op := &models.FileOperation{
		ID:         uuid.NewString(),
		Kind:       kind,
		ServerID:   result.ServerID,
		ServerName: result.ServerName,
		FileName:   fileName,
		RemotePath: remotePath,
		Success:    result.Success,
		Message:    result.Message,
		Timestamp:  result.Timestamp,
	}
	if err := m.history.AppendFileOperation(context.WithoutCancel(ctx), op); err != nil {
		m.logger.Warn().Err(err).Msg("failed to record file operation")
	}
}

func resultKind(err error) models.ErrorKind {
	switch KindOf(err) {
	case KindConnect:
		return models.ErrorKindConnect
	case KindTimeout:
		return models.ErrorKindTimeout
	default:
		return models.ErrorKindTransfer
	}
}

func isPermissionDenied(stderr []byte) bool {
	return containsFold(stderr, "permission denied") || containsFold(stderr, "read-only file system")
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
