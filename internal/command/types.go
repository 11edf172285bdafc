package command

import (
	"time"

	"github.com/google/uuid"
)

// Kind identifies the actuator action a command performs.
type Kind string

const (
	KindFanOn     Kind = "fan_on"
	KindFanOff    Kind = "fan_off"
	KindPumpOn    Kind = "pump_on"
	KindPumpOff   Kind = "pump_off"
	KindBuzzerOn  Kind = "buzzer_on"
	KindBuzzerOff Kind = "buzzer_off"
)

// ValidKind reports whether k is a known actuator action.
func ValidKind(k Kind) bool {
	switch k {
	case KindFanOn, KindFanOff, KindPumpOn, KindPumpOff, KindBuzzerOn, KindBuzzerOff:
		return true
	}
	return false
}

// Priority orders commands within a device's queue. Higher priorities
// are always claimed first; ties break on creation time.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// ValidPriority reports whether p is a known priority level.
func ValidPriority(p Priority) bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Rank returns the numeric ordering of a priority, higher first.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityNormal:
		return 1
	default:
		return 0
	}
}

// Status is the lifecycle state of a command.
//
// Transitions: pending -> in_flight (claim), in_flight -> executed or
// failed (resolution), failed -> pending (retry, until MaxRetries),
// pending -> cancelled. All other transitions are invalid.
type Status string

const (
	StatusPending   Status = "pending"
	StatusInFlight  Status = "in_flight"
	StatusExecuted  Status = "executed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// SystemIssuer marks commands originated by the core itself, by the
// auto-control loop or the emergency dispatcher, rather than an operator.
const SystemIssuer = "system"

// DefaultMaxRetries is applied when a command is enqueued without an
// explicit retry budget.
const DefaultMaxRetries = 3

// Command is one actuator instruction for one device.
type Command struct {
	ID           string         `json:"id"`
	DeviceID     string         `json:"device_id"`
	Kind         Kind           `json:"kind"`
	Issuer       string         `json:"issuer"`
	Priority     Priority       `json:"priority"`
	Status       Status         `json:"status"`
	ScheduledFor time.Time      `json:"scheduled_for"`
	ExecutedAt   *time.Time     `json:"executed_at,omitempty"`
	RetryCount   int            `json:"retry_count"`
	MaxRetries   int            `json:"max_retries"`
	LastError    string         `json:"last_error,omitempty"`
	Response     string         `json:"response,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Copy returns a deep copy of the command.
func (c *Command) Copy() *Command {
	clone := *c
	if c.ExecutedAt != nil {
		t := *c.ExecutedAt
		clone.ExecutedAt = &t
	}
	if c.Metadata != nil {
		clone.Metadata = make(map[string]any, len(c.Metadata))
		for k, v := range c.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone
}

// Terminal reports whether the command can no longer change state on
// its own. A failed command is terminal only once retries are exhausted.
func (c *Command) Terminal() bool {
	switch c.Status {
	case StatusExecuted, StatusCancelled:
		return true
	case StatusFailed:
		return c.RetryCount >= c.MaxRetries
	}
	return false
}

// AutoIssued reports whether the command was created by the core itself.
func (c *Command) AutoIssued() bool {
	return c.Issuer == SystemIssuer
}

// GenerateID returns a new unique command identifier.
func GenerateID() string {
	return uuid.New().String()
}
