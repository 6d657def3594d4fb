package models

import (
	"encoding/json"
	"time"
)

// EventType categorizes events in the system.
type EventType string

const (
	// Server events
	EventTypeServerAdded   EventType = "server.added"
	EventTypeServerUpdated EventType = "server.updated"
	EventTypeServerRemoved EventType = "server.removed"
	EventTypeServerOnline  EventType = "server.online"
	EventTypeServerOffline EventType = "server.offline"

	// Session events
	EventTypeSessionOpened EventType = "session.opened"
	EventTypeSessionClosed EventType = "session.closed"
	EventTypeSessionFailed EventType = "session.failed"

	// Execution events
	EventTypeCommandExecuted EventType = "command.executed"
	EventTypeBatchExecuted   EventType = "batch.executed"
	EventTypeFileUploaded    EventType = "file.uploaded"
	EventTypeFileDownloaded  EventType = "file.downloaded"

	// Status events
	EventTypeStatusProbed EventType = "status.probed"

	// System events
	EventTypeError   EventType = "error"
	EventTypeWarning EventType = "warning"
)

// EntityType identifies the type of entity an event relates to.
type EntityType string

const (
	EntityTypeServer  EntityType = "server"
	EntityTypeSession EntityType = "session"
	EntityTypeBatch   EntityType = "batch"
	EntityTypeSystem  EntityType = "system"
)

// Event represents an append-only log entry.
type Event struct {
	// ID is the unique identifier for the event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type categorizes the event.
	Type EventType `json:"type"`

	// EntityType identifies what kind of entity this event relates to.
	EntityType EntityType `json:"entity_type"`

	// EntityID is the ID of the related entity.
	EntityID string `json:"entity_id"`

	// Payload contains event-specific data.
	Payload json.RawMessage `json:"payload,omitempty"`

	// Metadata contains additional context.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// StatusChangedPayload is the payload for server.online and server.offline.
type StatusChangedPayload struct {
	WasOnline bool   `json:"was_online"`
	Online    bool   `json:"online"`
	Error     string `json:"error,omitempty"`
}

// SessionPayload is the payload for session.opened, session.closed and
// session.failed.
type SessionPayload struct {
	ServerName string `json:"server_name,omitempty"`
	Host       string `json:"host,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Kind       string `json:"kind,omitempty"`
	Error      string `json:"error,omitempty"`
}

// CommandExecutedPayload is the payload for command.executed and batch.executed.
type CommandExecutedPayload struct {
	Command   string `json:"command"`
	Hosts     int    `json:"hosts"`
	Succeeded int    `json:"succeeded"`
}

// ErrorPayload is the payload for error events.
type ErrorPayload struct {
	Error   string `json:"error"`
	Context string `json:"context,omitempty"`
}
