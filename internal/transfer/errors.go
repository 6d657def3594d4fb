package transfer

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed transfer.
type ErrorKind string

const (
	KindConnect    ErrorKind = "connect"
	KindNotFound   ErrorKind = "not_found"
	KindPermission ErrorKind = "permission"
	KindStaging    ErrorKind = "staging"
	KindRemote     ErrorKind = "remote"
	KindTimeout    ErrorKind = "timeout"
	KindInvalid    ErrorKind = "invalid"
)

var (
	ErrEmptyRemotePath = errors.New("remote path is required")
	ErrNotRegularFile  = errors.New("remote path is not a regular file")
	ErrNotReadable     = errors.New("remote file is not readable")
	ErrNotWritten      = errors.New("remote file missing after upload")
)

// TransferError reports a failed upload or download step.
type TransferError struct {
	Kind ErrorKind
	Path string
	Err  error
}

func (e *TransferError) Error() string {
	switch e.Kind {
	case KindConnect, KindTimeout:
		return e.Err.Error()
	}
	if e.Path == "" {
		return fmt.Sprintf("transfer failed (%s): %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("transfer failed (%s) %s: %v", e.Kind, e.Path, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a *TransferError in err's chain, or "".
func KindOf(err error) ErrorKind {
	var te *TransferError
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}
