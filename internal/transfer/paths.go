package transfer

import (
	"bytes"
	"context"
	"errors"
	"path"
	"strings"

	"github.com/tOgg1/hostdeck/internal/ssh"
)

// quote wraps s in single quotes for a POSIX shell.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// baseName strips any client-side directory from an uploaded file name.
func baseName(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	base := path.Base(name)
	if base == "." || base == "/" || base == ".." {
		return ""
	}
	return base
}

// resolveTarget picks the remote file path for an upload. A trailing slash
// or backslash, or an existing remote directory, means "put fileName inside";
// anything else is taken literally.
func resolveTarget(ctx context.Context, exec ssh.Executor, fileName, remotePath string) (string, error) {
	switch {
	case strings.HasSuffix(remotePath, "/"):
		return remotePath + fileName, nil
	case strings.HasSuffix(remotePath, `\`):
		return strings.TrimSuffix(remotePath, `\`) + "/" + fileName, nil
	}

	_, _, err := exec.Exec(ctx, "test -d "+quote(remotePath))
	if err == nil {
		return remotePath + "/" + fileName, nil
	}
	var execErr *ssh.ExecError
	if errors.As(err, &execErr) && execErr.Exited() {
		return remotePath, nil
	}
	return "", err
}

// remoteDir returns the parent directory that has to exist for target.
func remoteDir(target string) string {
	dir := path.Dir(target)
	if dir == "." || dir == "/" {
		return ""
	}
	return dir
}

func containsFold(b []byte, substr string) bool {
	return bytes.Contains(bytes.ToLower(b), []byte(substr))
}
