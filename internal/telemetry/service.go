package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/grainwatch/granary-core/internal/device"
	"github.com/grainwatch/granary-core/internal/notify"
)

// Logger is the minimal logging interface the service requires.
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

// DeviceDirectory is the device registry surface the service consumes.
type DeviceDirectory interface {
	GetDevice(ctx context.Context, id string) (*device.Device, error)
	MarkSeen(ctx context.Context, id string, seen time.Time) error
}

// Controller reacts to an accepted reading by enqueueing actuator
// commands. It returns how many commands it issued.
type Controller interface {
	OnTelemetry(ctx context.Context, r Reading, d *device.Device) (int, error)
}

// PointWriter mirrors readings into the time-series store for trend
// dashboards. Writes are best effort; SQLite remains the source of truth.
type PointWriter interface {
	WriteReading(r Reading)
}

// Result is what the ingest caller gets back for an accepted reading.
type Result struct {
	Accepted bool    `json:"accepted"`
	Status   Status  `json:"status"`
	Alerts   []Alert `json:"alerts"`
}

// Service is the telemetry ingest pipeline: validate, evaluate against
// the safety ceilings, persist, then drive auto-control and alerting.
type Service struct {
	devices    DeviceDirectory
	repo       Repository
	tsdb       PointWriter
	controller Controller
	sink       notify.Sink
	logger     Logger
}

// NewService creates a telemetry service.
//
// Parameters:
//   - devices: device registry for lookup and last-seen tracking
//   - repo: reading persistence
func NewService(devices DeviceDirectory, repo Repository) *Service {
	return &Service{
		devices: devices,
		repo:    repo,
		logger:  noopLogger{},
	}
}

// SetLogger attaches a logger. Safe to skip; defaults to no-op.
func (s *Service) SetLogger(logger Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetPointWriter attaches a time-series mirror for accepted readings.
func (s *Service) SetPointWriter(w PointWriter) {
	s.tsdb = w
}

// SetController attaches the auto-control loop.
func (s *Service) SetController(c Controller) {
	s.controller = c
}

// SetSink attaches the notification sink for evaluator alerts.
func (s *Service) SetSink(sink notify.Sink) {
	s.sink = sink
}

// SubmitTelemetry ingests one reading.
//
// The pipeline is: validate ranges, resolve the device, evaluate
// against the safety ceilings, persist, mark the device seen, run
// auto-control, then emit any alerts to the notification sink.
// Auto-control and alert delivery failures are logged, never surfaced
// to the reporting device.
//
// Parameters:
//   - ctx: Context for cancellation
//   - r: The reading; RecordedAt defaults to now when zero
//
// Returns:
//   - *Result: Acceptance, derived status, and alerts raised
//   - error: ErrInvalidReading on bad values, device.ErrDeviceNotFound
//     for unknown devices, or a persistence error
func (s *Service) SubmitTelemetry(ctx context.Context, r Reading) (*Result, error) {
	if err := ValidateReading(r); err != nil {
		return nil, err
	}

	dev, err := s.devices.GetDevice(ctx, r.DeviceID)
	if err != nil {
		return nil, err
	}

	if r.RecordedAt.IsZero() {
		r.RecordedAt = time.Now().UTC()
	}
	r.ID = GenerateID()
	r.CreatedAt = time.Now().UTC()

	status, alerts := Evaluate(r)
	r.Status = status

	if err := s.repo.Insert(ctx, &r); err != nil {
		return nil, fmt.Errorf("persisting reading: %w", err)
	}

	if s.tsdb != nil {
		s.tsdb.WriteReading(r)
	}

	if err := s.devices.MarkSeen(ctx, r.DeviceID, r.RecordedAt); err != nil {
		s.logger.Warn("failed to update device last seen",
			"device_id", r.DeviceID, "error", err)
	}

	// Maintenance devices still report and are recorded, but must not
	// trigger actuators.
	if s.controller != nil && dev.Active() {
		issued, err := s.controller.OnTelemetry(ctx, r, dev)
		if err != nil {
			s.logger.Error("auto-control failed",
				"device_id", r.DeviceID, "error", err)
		} else if issued > 0 {
			s.logger.Info("auto-control issued commands",
				"device_id", r.DeviceID, "count", issued)
		}
	}

	s.emitAlerts(r, alerts)

	s.logger.Debug("telemetry accepted",
		"device_id", r.DeviceID,
		"status", string(status),
		"alerts", len(alerts))

	return &Result{Accepted: true, Status: status, Alerts: alerts}, nil
}

// History returns recent readings for a device, newest first.
func (s *Service) History(ctx context.Context, deviceID string, since time.Time, limit int) ([]Reading, error) {
	if _, err := s.devices.GetDevice(ctx, deviceID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	return s.repo.ListByDevice(ctx, deviceID, since, limit)
}

// Latest returns the most recent reading for a device.
func (s *Service) Latest(ctx context.Context, deviceID string) (*Reading, error) {
	if _, err := s.devices.GetDevice(ctx, deviceID); err != nil {
		return nil, err
	}
	return s.repo.Latest(ctx, deviceID)
}

func (s *Service) emitAlerts(r Reading, alerts []Alert) {
	if s.sink == nil || len(alerts) == 0 {
		return
	}

	for _, alert := range alerts {
		event := notify.Event{
			Kind:     string(alert.Kind),
			DeviceID: r.DeviceID,
			Severity: severityFor(alert.Kind),
			Message:  alert.Message,
			Metadata: map[string]any{
				"threshold": alert.Threshold,
				"observed":  alert.Observed,
			},
			OccurredAt: r.RecordedAt,
		}
		if err := s.sink.Notify(event); err != nil {
			s.logger.Warn("alert delivery failed",
				"device_id", r.DeviceID,
				"kind", event.Kind,
				"error", err)
		}
	}
}

// severityFor maps alert kinds to notification severity. Humidity is a
// slow-moving hazard; temperature and gas demand immediate action.
func severityFor(kind AlertKind) notify.Severity {
	if kind == AlertHighHumidity {
		return notify.SeverityWarning
	}
	return notify.SeverityCritical
}
