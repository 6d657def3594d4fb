package models

import (
	"strings"
	"time"
)

// Command is a saved entry in the command library.
type Command struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Command     string    `json:"command"`
	Category    string    `json:"category"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Validate checks if the library entry is complete.
func (c *Command) Validate() error {
	validation := &ValidationErrors{}
	if strings.TrimSpace(c.Name) == "" {
		validation.AddMessage("name", "command name is required")
	}
	if strings.TrimSpace(c.Command) == "" {
		validation.Add("command", ErrInvalidCommand)
	}
	return validation.Err()
}

// CommandExecution is one recorded run of a command across one or more servers.
type CommandExecution struct {
	ID        string                   `json:"id"`
	Command   string                   `json:"command"`
	ServerIDs []string                 `json:"serverIds"`
	Results   map[string]CommandResult `json:"results"`
	StartedAt time.Time                `json:"startedAt"`
	Duration  time.Duration            `json:"duration"`
}

// Succeeded counts the hosts that exited zero.
func (e *CommandExecution) Succeeded() int {
	n := 0
	for _, r := range e.Results {
		if r.Success {
			n++
		}
	}
	return n
}

// FileOperationKind distinguishes uploads from downloads.
type FileOperationKind string

const (
	FileOperationUpload   FileOperationKind = "upload"
	FileOperationDownload FileOperationKind = "download"
)

// FileOperation is one recorded transfer.
type FileOperation struct {
	ID         string            `json:"id"`
	Kind       FileOperationKind `json:"kind"`
	ServerID   string            `json:"serverId"`
	ServerName string            `json:"serverName,omitempty"`
	FileName   string            `json:"fileName"`
	RemotePath string            `json:"remotePath"`
	Success    bool              `json:"success"`
	Message    string            `json:"message,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}
