package notify

import "errors"

// MultiSink fans an event out to several sinks. Every sink is attempted
// even when an earlier one fails; errors are joined so none are lost.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink creates a sink that delivers to all given sinks in order.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) Notify(event Event) error {
	var errs []error
	for _, sink := range m.sinks {
		if err := sink.Notify(event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes events to the application log. Used as a last-resort
// sink so alerts are never silently dropped when the broker is down.
type LogSink struct {
	logger Logger
}

// Logger is the subset of the application logger the sink needs.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// NewLogSink creates a sink that records events through the logger.
func NewLogSink(logger Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Notify(event Event) error {
	args := []any{
		"kind", event.Kind,
		"device_id", event.DeviceID,
		"severity", event.Severity,
		"message", event.Message,
	}
	switch event.Severity {
	case SeverityCritical:
		s.logger.Error("alert", args...)
	case SeverityWarning:
		s.logger.Warn("alert", args...)
	default:
		s.logger.Info("alert", args...)
	}
	return nil
}
