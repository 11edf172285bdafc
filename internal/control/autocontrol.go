package control

import (
	"context"
	"errors"
	"fmt"

	"github.com/grainwatch/granary-core/internal/command"
	"github.com/grainwatch/granary-core/internal/device"
	"github.com/grainwatch/granary-core/internal/telemetry"
)

// Logger is the minimal logging interface the control loops require.
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

// Enqueuer is the command queue surface the control loops consume.
type Enqueuer interface {
	Enqueue(ctx context.Context, req command.Request) (*command.Command, error)
}

// AutoController turns accepted telemetry into actuator commands based
// on each device's configured comfort bands and auto-control switches.
//
// Fan and pump decisions are independent; either can fire on the same
// reading. The buzzer is never driven automatically, it belongs to
// operators and the emergency dispatcher.
type AutoController struct {
	queue  Enqueuer
	logger Logger
}

// NewAutoController creates the auto-control loop.
func NewAutoController(queue Enqueuer) *AutoController {
	return &AutoController{
		queue:  queue,
		logger: noopLogger{},
	}
}

// SetLogger attaches a logger. Safe to skip; defaults to no-op.
func (a *AutoController) SetLogger(logger Logger) {
	if logger != nil {
		a.logger = logger
	}
}

// OnTelemetry inspects one reading against the device's configuration
// and enqueues whatever corrective commands apply.
//
// The ventilation fan tracks the temperature band: above max the fan
// turns on, below min it turns off. The moisture pump tracks the
// humidity band: below min the pump turns on, above max it turns off.
//
// Returns:
//   - int: Number of commands enqueued
//   - error: Joined enqueue failures; a fan failure does not stop the
//     pump decision
func (a *AutoController) OnTelemetry(ctx context.Context, r telemetry.Reading, d *device.Device) (int, error) {
	issued := 0
	var errs []error

	if d.Config.AutoFan {
		switch {
		case r.Temperature > d.Config.TempMax:
			reason := fmt.Sprintf("temperature %.1f°C above configured max %.1f°C", r.Temperature, d.Config.TempMax)
			if err := a.issue(ctx, r, d, command.KindFanOn, reason); err != nil {
				errs = append(errs, err)
			} else {
				issued++
			}
		case r.Temperature < d.Config.TempMin:
			reason := fmt.Sprintf("temperature %.1f°C below configured min %.1f°C", r.Temperature, d.Config.TempMin)
			if err := a.issue(ctx, r, d, command.KindFanOff, reason); err != nil {
				errs = append(errs, err)
			} else {
				issued++
			}
		}
	}

	if d.Config.AutoPump {
		switch {
		case r.Humidity < d.Config.HumidityMin:
			reason := fmt.Sprintf("humidity %.1f%% below configured min %.1f%%", r.Humidity, d.Config.HumidityMin)
			if err := a.issue(ctx, r, d, command.KindPumpOn, reason); err != nil {
				errs = append(errs, err)
			} else {
				issued++
			}
		case r.Humidity > d.Config.HumidityMax:
			reason := fmt.Sprintf("humidity %.1f%% above configured max %.1f%%", r.Humidity, d.Config.HumidityMax)
			if err := a.issue(ctx, r, d, command.KindPumpOff, reason); err != nil {
				errs = append(errs, err)
			} else {
				issued++
			}
		}
	}

	return issued, errors.Join(errs...)
}

func (a *AutoController) issue(ctx context.Context, r telemetry.Reading, d *device.Device, kind command.Kind, reason string) error {
	_, err := a.queue.Enqueue(ctx, command.Request{
		DeviceID: d.ID,
		Kind:     kind,
		Issuer:   command.SystemIssuer,
		Priority: command.PriorityLow,
		Metadata: map[string]any{
			"auto_control": true,
			"reason":       reason,
			"reading_id":   r.ID,
			"temperature":  r.Temperature,
			"humidity":     r.Humidity,
			"gas_level":    r.GasLevel,
		},
	})
	if err != nil {
		return fmt.Errorf("auto-control %s for %s: %w", kind, d.ID, err)
	}

	a.logger.Info("auto-control command issued",
		"device_id", d.ID,
		"kind", string(kind),
		"reason", reason)
	return nil
}
