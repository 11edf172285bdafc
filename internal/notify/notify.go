// Package notify defines the outbound event contract for alerts and
// command outcomes. The core only produces events; delivery, routing,
// and deduplication for humans belong to whatever consumes them.
package notify

import "time"

// Severity grades how urgently an event needs attention.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event is a single notification. DeviceID is empty for system-wide
// events such as an emergency shutdown summary.
type Event struct {
	Kind       string         `json:"kind"`
	DeviceID   string         `json:"device_id,omitempty"`
	Severity   Severity       `json:"severity"`
	Message    string         `json:"message"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Sink receives events. Implementations must be safe for concurrent
// use; callers treat delivery as fire-and-forget and only log errors.
type Sink interface {
	Notify(event Event) error
}
