package models

import "errors"

// Validation sentinels.
var (
	ErrInvalidServerID   = errors.New("server id is required")
	ErrInvalidServerName = errors.New("server name is required")
	ErrInvalidHost       = errors.New("server host is required")
	ErrInvalidUser       = errors.New("server user is required")
	ErrInvalidAuthType   = errors.New("auth type must be password or key")
	ErrMissingSecret     = errors.New("password is required for password auth")
	ErrMissingKeyPath    = errors.New("key path is required for key auth")
	ErrInvalidPort       = errors.New("port must be between 1 and 65535")
	ErrInvalidCommand    = errors.New("command is required")
)
