package control

import (
	"context"
	"fmt"
	"time"

	"github.com/grainwatch/granary-core/internal/command"
	"github.com/grainwatch/granary-core/internal/device"
	"github.com/grainwatch/granary-core/internal/notify"
)

// shutdownSequence is the fixed per-device command order for an
// emergency: stop adding moisture, silence the buzzer, run the fan at
// full to vent heat and gas.
var shutdownSequence = []command.Kind{
	command.KindPumpOff,
	command.KindBuzzerOff,
	command.KindFanOn,
}

// DeviceLister is the registry surface the dispatcher consumes.
type DeviceLister interface {
	ListByStatus(ctx context.Context, status device.Status) ([]device.Device, error)
}

// Scope selects which devices an emergency shutdown targets. The zero
// value targets every online device; Location narrows to one site and
// DeviceIDs to an explicit set. Both filters combine with AND.
type Scope struct {
	Location  string   `json:"location,omitempty"`
	DeviceIDs []string `json:"device_ids,omitempty"`
}

// includes reports whether a device falls inside the scope.
func (s Scope) includes(d device.Device) bool {
	if s.Location != "" && d.Location != s.Location {
		return false
	}
	if len(s.DeviceIDs) == 0 {
		return true
	}
	for _, id := range s.DeviceIDs {
		if id == d.ID {
			return true
		}
	}
	return false
}

// ShutdownResult summarizes an emergency dispatch.
type ShutdownResult struct {
	DevicesAffected int `json:"devices_affected"`
	CommandsIssued  int `json:"commands_issued"`
}

// EmergencyDispatcher issues the fixed shutdown sequence across a scope
// of devices on operator demand, bypassing auto-control reasoning
// entirely.
type EmergencyDispatcher struct {
	devices DeviceLister
	queue   Enqueuer
	sink    notify.Sink
	logger  Logger
}

// NewEmergencyDispatcher creates an emergency dispatcher.
func NewEmergencyDispatcher(devices DeviceLister, queue Enqueuer) *EmergencyDispatcher {
	return &EmergencyDispatcher{
		devices: devices,
		queue:   queue,
		logger:  noopLogger{},
	}
}

// SetLogger attaches a logger. Safe to skip; defaults to no-op.
func (e *EmergencyDispatcher) SetLogger(logger Logger) {
	if logger != nil {
		e.logger = logger
	}
}

// SetSink attaches the notification sink for the shutdown summary alert.
func (e *EmergencyDispatcher) SetSink(sink notify.Sink) {
	e.sink = sink
}

// Shutdown enqueues pump_off, buzzer_off, fan_on at critical priority
// for every online device in scope, then emits one facility-wide alert
// summarizing the action.
//
// A failure on one device is logged and skipped; the remaining devices
// still get their sequence. The alert is emitted regardless, so a
// partial shutdown is never silent.
//
// Parameters:
//   - ctx: Context for cancellation
//   - scope: Device selection; zero value means all online devices
//   - requester: Operator identity recorded in the summary alert
//
// Returns:
//   - *ShutdownResult: Devices reached and commands issued
//   - error: Only when the device list itself cannot be read
func (e *EmergencyDispatcher) Shutdown(ctx context.Context, scope Scope, requester string) (*ShutdownResult, error) {
	devices, err := e.devices.ListByStatus(ctx, device.StatusOnline)
	if err != nil {
		return nil, fmt.Errorf("listing devices for emergency shutdown: %w", err)
	}

	result := &ShutdownResult{}
	for _, d := range devices {
		if !scope.includes(d) {
			continue
		}

		issued := 0
		for _, kind := range shutdownSequence {
			_, err := e.queue.Enqueue(ctx, command.Request{
				DeviceID: d.ID,
				Kind:     kind,
				Issuer:   command.SystemIssuer,
				Priority: command.PriorityCritical,
				Metadata: map[string]any{
					"emergency": true,
					"requester": requester,
				},
			})
			if err != nil {
				e.logger.Error("emergency command not enqueued",
					"device_id", d.ID,
					"kind", string(kind),
					"error", err)
				continue
			}
			issued++
		}

		if issued > 0 {
			result.DevicesAffected++
			result.CommandsIssued += issued
		}
	}

	e.logger.Warn("emergency shutdown dispatched",
		"requester", requester,
		"location", scope.Location,
		"devices", result.DevicesAffected,
		"commands", result.CommandsIssued)

	e.emitSummary(scope, requester, result)
	return result, nil
}

func (e *EmergencyDispatcher) emitSummary(scope Scope, requester string, result *ShutdownResult) {
	if e.sink == nil {
		return
	}

	target := "all locations"
	if scope.Location != "" {
		target = scope.Location
	}
	if len(scope.DeviceIDs) > 0 {
		target = fmt.Sprintf("%d selected devices", len(scope.DeviceIDs))
	}
	event := notify.Event{
		Kind:     "emergency_shutdown",
		Severity: notify.SeverityCritical,
		Message: fmt.Sprintf("emergency shutdown by %s over %s: %d devices, %d commands",
			requester, target, result.DevicesAffected, result.CommandsIssued),
		Metadata: map[string]any{
			"requester":        requester,
			"location":         scope.Location,
			"devices_affected": result.DevicesAffected,
			"commands_issued":  result.CommandsIssued,
		},
		OccurredAt: time.Now().UTC(),
	}
	if err := e.sink.Notify(event); err != nil {
		e.logger.Error("emergency summary alert not delivered", "error", err)
	}
}
