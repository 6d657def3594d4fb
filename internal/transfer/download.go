package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/tOgg1/hostdeck/internal/events"
	"github.com/tOgg1/hostdeck/internal/fanout"
	"github.com/tOgg1/hostdeck/internal/logging"
	"github.com/tOgg1/hostdeck/internal/models"
	"github.com/tOgg1/hostdeck/internal/ssh"
)

// Download is a fetched remote file held in a local staging file. Close
// releases and deletes the staging file.
type Download struct {
	io.ReadCloser

	ServerID   string
	ServerName string
	FileName   string
	RemotePath string
	Size       int64
}

type stagedFile struct {
	*os.File
}

func (s stagedFile) Close() error {
	err := s.File.Close()
	if rmErr := os.Remove(s.Name()); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) && err == nil {
		err = rmErr
	}
	return err
}

// Download fetches remotePath from one server. Errors are *TransferError.
func (m *Manager) Download(ctx context.Context, serverID, remotePath string) (*Download, error) {
	dl, serverName, err := m.download(ctx, serverID, remotePath)

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
		result.Message = fmt.Sprintf("downloaded %s (%d bytes)", remotePath, dl.Size)
		result.ResolvedRemotePath = remotePath
		logger.Info().Str("remote_path", remotePath).Int64("bytes", dl.Size).Msg("file downloaded")
	}

	m.record(ctx, models.FileOperationDownload, result, path.Base(remotePath), remotePath)
	events.Emit(ctx, m.publisher, events.New(models.EventTypeFileDownloaded, models.EntityTypeServer, serverID, result))
	return dl, err
}

func (m *Manager) download(ctx context.Context, serverID, remotePath string) (*Download, string, error) {
	if remotePath == "" || strings.HasSuffix(remotePath, "/") {
		return nil, serverID, &TransferError{Kind: KindInvalid, Path: remotePath, Err: ErrEmptyRemotePath}
	}

	opCtx, cancel := withTimeout(ctx, m.timeout)
	defer cancel()

	sess, err := m.sessions.Ensure(opCtx, serverID)
	if err != nil {
		return nil, serverID, m.classify(ctx, opCtx, KindConnect, remotePath, err)
	}

	if err := m.checkReadable(opCtx, sess, remotePath); err != nil {
		return nil, sess.ServerName, m.classify(ctx, opCtx, KindRemote, remotePath, err)
	}

	f, err := os.CreateTemp(m.stagingDir, "hostdeck-download-*")
	if err != nil {
		return nil, sess.ServerName, &TransferError{Kind: KindStaging, Path: remotePath, Err: err}
	}
	staged := stagedFile{File: f}

	if err := sess.ExecStream(opCtx, "cat "+quote(remotePath), f); err != nil {
		_ = staged.Close()
		return nil, sess.ServerName, m.classify(ctx, opCtx, KindRemote, remotePath, err)
	}

	size, err := f.Seek(0, io.SeekCurrent)
	if err == nil {
		_, err = f.Seek(0, io.SeekStart)
	}
	if err != nil {
		_ = staged.Close()
		return nil, sess.ServerName, &TransferError{Kind: KindStaging, Path: remotePath, Err: err}
	}

	return &Download{
		ReadCloser: staged,
		ServerID:   serverID,
		ServerName: sess.ServerName,
		FileName:   path.Base(remotePath),
		RemotePath: remotePath,
		Size:       size,
	}, sess.ServerName, nil
}

func (m *Manager) checkReadable(ctx context.Context, exec ssh.Executor, remotePath string) error {
	checks := []struct {
		test string
		kind ErrorKind
		err  error
	}{
		{"test -f", KindNotFound, ErrNotRegularFile},
		{"test -r", KindPermission, ErrNotReadable},
	}
	for _, c := range checks {
		_, _, err := exec.Exec(ctx, c.test+" "+quote(remotePath))
		if err == nil {
			continue
		}
		var execErr *ssh.ExecError
		if errors.As(err, &execErr) && execErr.Exited() {
			return &TransferError{Kind: c.kind, Path: remotePath, Err: c.err}
		}
		return err
	}
	return nil
}

// DownloadBatch fetches remotePath from every distinct server into destDir,
// naming each copy "<server name>_<file name>".
func (m *Manager) DownloadBatch(ctx context.Context, serverIDs []string, remotePath, destDir string) map[string]models.TransferResult {
	return fanout.Run(ctx, serverIDs, m.maxParallel, func(ctx context.Context, id string) models.TransferResult {
		result := models.TransferResult{ServerID: id, ServerName: id, ResolvedRemotePath: remotePath}

		dl, err := m.Download(ctx, id, remotePath)
		if err == nil {
			result.ServerName = dl.ServerName
			var local string
			local, err = saveAs(dl, destDir)
			if err == nil {
				result.Message = "saved to " + local
			}
		}
		if err != nil {
			result.Message = err.Error()
			result.ErrorKind = resultKind(err)
		}
		result.Success = err == nil
		result.Timestamp = m.now()
		return result
	})
}

func saveAs(dl *Download, destDir string) (string, error) {
	defer dl.Close()

	name := safeLocalName(dl.ServerName) + "_" + safeLocalName(dl.FileName)
	local := filepath.Join(destDir, name)

	out, err := os.Create(local)
	if err != nil {
		return "", &TransferError{Kind: KindStaging, Path: local, Err: err}
	}
	if _, err := io.Copy(out, dl); err != nil {
		_ = out.Close()
		return "", &TransferError{Kind: KindStaging, Path: local, Err: err}
	}
	if err := out.Close(); err != nil {
		return "", &TransferError{Kind: KindStaging, Path: local, Err: err}
	}
	return local, nil
}

func safeLocalName(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '_'
		}
		return r
	}, s)
}
