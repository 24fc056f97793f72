package audit

import (
	"context"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventStart        EventType = "start"
	EventStop         EventType = "stop"
	EventExit         EventType = "exit"
	EventSpawnFailure EventType = "spawn_failure"
	EventPurge        EventType = "purge"
)

// Event is one audit record exported to external systems. ExitCode is only
// set for exit events; Detail carries error text or purge row counts.
type Event struct {
	Type        EventType `json:"type"`
	OccurredAt  time.Time `json:"occurred_at"`
	ServiceID   string    `json:"service_id"`
	WorkspaceID string    `json:"workspace_id,omitempty"`
	PID         int       `json:"pid,omitempty"`
	ExitCode    *int      `json:"exit_code,omitempty"`
	Detail      string    `json:"detail,omitempty"`
}

// Sink is a destination for audit events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}
