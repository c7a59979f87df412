package audit

import (
	"context"
	"time"
)

// EventType categorizes an audit event
type EventType string

const (
	// EventTransition is a lifecycle command finishing, successfully or not
	EventTransition EventType = "transition"
	// EventStatus is a persisted status change
	EventStatus EventType = "status"
	// EventRemoved is a module leaving the registry after uninstall
	EventRemoved EventType = "removed"
)

// Event is one entry of the audit trail
type Event struct {
	ID        int64     `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	Module    string    `json:"module"`

	// Set for EventTransition
	Command   string `json:"command,omitempty"`
	Success   bool   `json:"success"`
	ElapsedMS int64  `json:"elapsed_ms,omitempty"`

	// Set for EventStatus
	Status string `json:"status,omitempty"`
}

// Filter selects events when reading the trail back
type Filter struct {
	Module string
	Type   EventType
	Since  time.Time
	Limit  int
	// FailedOnly keeps only unsuccessful events
	FailedOnly bool
}

// DefaultLimit caps reads that do not set Filter.Limit
const DefaultLimit = 100

// Reader reads events back, newest first
type Reader interface {
	Events(ctx context.Context, filter Filter) ([]*Event, error)
}

// ExportFormat is an export encoding
type ExportFormat string

const (
	ExportFormatJSON   ExportFormat = "json"
	ExportFormatNDJSON ExportFormat = "ndjson"
	ExportFormatCSV    ExportFormat = "csv"
)
