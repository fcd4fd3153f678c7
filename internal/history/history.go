// Package history exports worker lifecycle events to analytics backends.
package history

import (
	"context"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventCreated   EventType = "created"
	EventRunning   EventType = "running"
	EventSucceeded EventType = "succeeded"
	EventFailed    EventType = "failed"
	EventReaped    EventType = "reaped"
)

// Record is the snapshot of a worker process carried by an event.
type Record struct {
	ProcessID     string    `json:"process_id"`
	ExternalKey   string    `json:"external_key,omitempty"`
	State         string    `json:"state"`
	Alive         bool      `json:"alive"`
	CreatedAt     time.Time `json:"created_at"`
	LastRefreshAt time.Time `json:"last_refresh_at"`
	Error         string    `json:"error,omitempty"`
}

// Event represents a lifecycle event to be exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}
