package command

import (
	"context"
	"fmt"
	"time"

	"github.com/grainwatch/granary-core/internal/device"
	"github.com/grainwatch/granary-core/internal/notify"
)

// Logger is the minimal logging interface the queue requires.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// DeviceChecker resolves device references at enqueue time.
type DeviceChecker interface {
	GetDevice(ctx context.Context, id string) (*device.Device, error)
}

// Request is the caller-facing shape for enqueueing a command.
// Zero-value fields get defaults: priority normal, scheduled
// immediately, DefaultMaxRetries.
type Request struct {
	DeviceID     string         `json:"device_id"`
	Kind         Kind           `json:"kind"`
	Issuer       string         `json:"issuer"`
	Priority     Priority       `json:"priority,omitempty"`
	ScheduledFor time.Time      `json:"scheduled_for,omitempty"`
	MaxRetries   int            `json:"max_retries,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// BatchItem pairs one batch entry with its outcome. Exactly one of
// Command and Error is set.
type BatchItem struct {
	Index   int      `json:"index"`
	Command *Command `json:"command,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// Queue is the command lifecycle service. It validates and enqueues
// commands, hands them to claimers, records resolutions, and surfaces
// terminal failures through the notification sink.
type Queue struct {
	store   Store
	devices DeviceChecker
	sink    notify.Sink
	logger  Logger
}

// NewQueue creates a command queue backed by the given store.
func NewQueue(store Store, devices DeviceChecker) *Queue {
	return &Queue{
		store:   store,
		devices: devices,
		logger:  noopLogger{},
	}
}

// SetLogger attaches a logger. Safe to skip; defaults to no-op.
func (q *Queue) SetLogger(logger Logger) {
	if logger != nil {
		q.logger = logger
	}
}

// SetSink attaches the notification sink for failure events.
func (q *Queue) SetSink(sink notify.Sink) {
	q.sink = sink
}

// Enqueue validates a request and stores a new pending command.
//
// Parameters:
//   - ctx: Context for cancellation
//   - req: The command request; see Request for defaults
//
// Returns:
//   - *Command: The stored command with generated ID
//   - error: ErrInvalidCommand for bad parameters,
//     device.ErrDeviceNotFound for unknown devices
func (q *Queue) Enqueue(ctx context.Context, req Request) (*Command, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	if _, err := q.devices.GetDevice(ctx, req.DeviceID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	c := &Command{
		ID:           GenerateID(),
		DeviceID:     req.DeviceID,
		Kind:         req.Kind,
		Issuer:       req.Issuer,
		Priority:     req.Priority,
		Status:       StatusPending,
		ScheduledFor: req.ScheduledFor,
		MaxRetries:   req.MaxRetries,
		Metadata:     req.Metadata,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if c.Priority == "" {
		c.Priority = PriorityNormal
	}
	if c.ScheduledFor.IsZero() {
		c.ScheduledFor = now
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}

	if err := q.store.Insert(ctx, c); err != nil {
		return nil, err
	}

	q.logger.Debug("command enqueued",
		"command_id", c.ID,
		"device_id", c.DeviceID,
		"kind", string(c.Kind),
		"priority", string(c.Priority),
		"issuer", c.Issuer)

	return c, nil
}

// EnqueueBatch enqueues several commands, continuing past individual
// failures. The result holds one item per request in input order.
func (q *Queue) EnqueueBatch(ctx context.Context, reqs []Request) []BatchItem {
	items := make([]BatchItem, 0, len(reqs))
	for i, req := range reqs {
		item := BatchItem{Index: i}
		c, err := q.Enqueue(ctx, req)
		if err != nil {
			item.Error = err.Error()
		} else {
			item.Command = c
		}
		items = append(items, item)
	}
	return items
}

// ClaimNext atomically claims up to limit eligible pending commands for
// a device, moving them to in_flight. Each command is handed to exactly
// one caller.
func (q *Queue) ClaimNext(ctx context.Context, deviceID string, limit int) ([]Command, error) {
	if limit <= 0 {
		limit = 1
	}
	return q.store.ClaimPending(ctx, deviceID, limit, time.Now().UTC())
}

// MarkExecuted resolves an in-flight command as successfully executed.
func (q *Queue) MarkExecuted(ctx context.Context, id, response string) error {
	if err := q.store.MarkExecuted(ctx, id, response, time.Now().UTC()); err != nil {
		return err
	}
	q.logger.Debug("command executed", "command_id", id)
	return nil
}

// MarkFailed resolves an in-flight command as failed. Failures are
// recorded as command state and emitted to the notification sink; a
// command whose retry budget is now spent is flagged as terminal so it
// is never silently dropped.
func (q *Queue) MarkFailed(ctx context.Context, id, errMsg string) error {
	if err := q.store.MarkFailed(ctx, id, errMsg, time.Now().UTC()); err != nil {
		return err
	}

	c, err := q.store.GetByID(ctx, id)
	if err != nil {
		return err
	}

	q.logger.Warn("command failed",
		"command_id", id,
		"device_id", c.DeviceID,
		"kind", string(c.Kind),
		"retry_count", c.RetryCount,
		"max_retries", c.MaxRetries,
		"error", errMsg)

	q.emitFailure(c, errMsg)
	return nil
}

// Retry moves a failed command back to pending for another dispatch
// attempt. Fails with ErrRetryExhausted once the budget is spent.
func (q *Queue) Retry(ctx context.Context, id, requester string) error {
	if err := q.store.Retry(ctx, id, time.Now().UTC()); err != nil {
		return err
	}
	q.logger.Info("command retried", "command_id", id, "requester", requester)
	return nil
}

// Cancel cancels a pending command. In-flight and resolved commands
// fail with ErrInvalidTransition.
func (q *Queue) Cancel(ctx context.Context, id, requester string) error {
	if err := q.store.Cancel(ctx, id); err != nil {
		return err
	}
	q.logger.Info("command cancelled", "command_id", id, "requester", requester)
	return nil
}

// Get returns one command by ID.
func (q *Queue) Get(ctx context.Context, id string) (*Command, error) {
	return q.store.GetByID(ctx, id)
}

// ListPending returns pending commands in claim order. An empty
// deviceID means all devices.
func (q *Queue) ListPending(ctx context.Context, deviceID string) ([]Command, error) {
	return q.store.ListPending(ctx, deviceID)
}

// ListHistory returns resolved and cancelled commands, newest first.
func (q *Queue) ListHistory(ctx context.Context, deviceID string, since time.Time, limit int) ([]Command, error) {
	if limit <= 0 {
		limit = 100
	}
	return q.store.ListHistory(ctx, deviceID, since, limit)
}

// CountByStatus returns queue depth per lifecycle state.
func (q *Queue) CountByStatus(ctx context.Context) (map[Status]int, error) {
	return q.store.CountByStatus(ctx)
}

func (q *Queue) emitFailure(c *Command, errMsg string) {
	if q.sink == nil {
		return
	}

	severity := notify.SeverityWarning
	message := fmt.Sprintf("command %s failed on device %s: %s", c.Kind, c.DeviceID, errMsg)
	if c.Terminal() {
		severity = notify.SeverityCritical
		message = fmt.Sprintf("command %s on device %s failed terminally after %d attempts: %s",
			c.Kind, c.DeviceID, c.RetryCount, errMsg)
	}

	event := notify.Event{
		Kind:     "command_failed",
		DeviceID: c.DeviceID,
		Severity: severity,
		Message:  message,
		Metadata: map[string]any{
			"command_id":  c.ID,
			"kind":        string(c.Kind),
			"retry_count": c.RetryCount,
			"max_retries": c.MaxRetries,
			"terminal":    c.Terminal(),
		},
		OccurredAt: time.Now().UTC(),
	}
	if err := q.sink.Notify(event); err != nil {
		q.logger.Warn("failure notification not delivered",
			"command_id", c.ID, "error", err)
	}
}

func validateRequest(req Request) error {
	if req.DeviceID == "" {
		return fmt.Errorf("%w: device id is required", ErrInvalidCommand)
	}
	if !ValidKind(req.Kind) {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidCommand, req.Kind)
	}
	if req.Issuer == "" {
		return fmt.Errorf("%w: issuer is required", ErrInvalidCommand)
	}
	if req.Priority != "" && !ValidPriority(req.Priority) {
		return fmt.Errorf("%w: unknown priority %q", ErrInvalidCommand, req.Priority)
	}
	return nil
}
