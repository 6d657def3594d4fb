package models

import "time"

// ErrorKind classifies a per-host failure so operators can tell which stage
// failed.
type ErrorKind string

const (
	ErrorKindNone     ErrorKind = ""
	ErrorKindConnect  ErrorKind = "connect"
	ErrorKindExec     ErrorKind = "exec"
	ErrorKindTransfer ErrorKind = "transfer"
	ErrorKindTimeout  ErrorKind = "timeout"
)

// CommandResult is the outcome of one command on one server.
type CommandResult struct {
	ServerID   string `json:"serverId"`
	ServerName string `json:"serverName"`
	Success    bool   `json:"success"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`

	// ExitCode is nil when the command never ran to completion.
	ExitCode *int `json:"exitCode"`

	ExecutionTimeMs int64     `json:"executionTimeMs"`
	ErrorKind       ErrorKind `json:"errorKind,omitempty"`
}

// Code returns the exit code, or -1 when none was recorded.
func (r CommandResult) Code() int {
	if r.ExitCode == nil {
		return -1
	}
	return *r.ExitCode
}

// TransferResult is the outcome of one file operation on one server.
type TransferResult struct {
	ServerID           string    `json:"serverId"`
	ServerName         string    `json:"serverName"`
	Success            bool      `json:"success"`
	Message            string    `json:"message"`
	ResolvedRemotePath string    `json:"resolvedRemotePath,omitempty"`
	Timestamp          time.Time `json:"timestamp"`
	ErrorKind          ErrorKind `json:"errorKind,omitempty"`
}
