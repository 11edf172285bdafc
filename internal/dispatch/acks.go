package dispatch

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/grainwatch/granary-core/internal/infrastructure/mqtt"
	"github.com/grainwatch/granary-core/internal/notify"
)

// AckSubscriber is the broker surface the ack listener consumes.
type AckSubscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// DeviceMarker records device liveness. An acknowledgement is as good
// as a telemetry reading for proving a device is alive.
type DeviceMarker interface {
	MarkSeen(ctx context.Context, id string, seen time.Time) error
}

// deviceAck is the wire format devices publish to granary/ack/{id}
// after executing a delivered command.
type deviceAck struct {
	CommandID string `json:"command_id"`
	Status    string `json:"status"` // "executed" or "failed"
	Error     string `json:"error,omitempty"`
}

// AckListener consumes command acknowledgements from devices. Delivery
// to the device already resolved the command in the queue; the ack is
// the device's own report, used for liveness tracking and surfaced to
// dashboards through the notification sink.
type AckListener struct {
	bus     AckSubscriber
	devices DeviceMarker
	sink    notify.Sink
	qos     byte
	logger  Logger
}

// NewAckListener creates an ack listener.
func NewAckListener(bus AckSubscriber, devices DeviceMarker, qos byte) *AckListener {
	return &AckListener{
		bus:     bus,
		devices: devices,
		qos:     qos,
		logger:  noopLogger{},
	}
}

// SetLogger attaches a logger. Safe to skip; defaults to no-op.
func (l *AckListener) SetLogger(logger Logger) {
	if logger != nil {
		l.logger = logger
	}
}

// SetSink attaches the notification sink acks are forwarded to.
func (l *AckListener) SetSink(sink notify.Sink) {
	l.sink = sink
}

// Start subscribes to acknowledgements from every device.
func (l *AckListener) Start(ctx context.Context) error {
	var topics mqtt.Topics
	return l.bus.Subscribe(topics.AllAcks(), l.qos, func(topic string, payload []byte) error {
		l.handleAck(ctx, topic, payload)
		return nil
	})
}

func (l *AckListener) handleAck(ctx context.Context, topic string, payload []byte) {
	deviceID := deviceIDFromTopic(topic)
	if deviceID == "" {
		l.logger.Warn("ack on unexpected topic", "topic", topic)
		return
	}

	var ack deviceAck
	if err := json.Unmarshal(payload, &ack); err != nil {
		l.logger.Warn("discarding malformed ack payload",
			"device_id", deviceID, "error", err)
		return
	}

	now := time.Now().UTC()
	if err := l.devices.MarkSeen(ctx, deviceID, now); err != nil {
		l.logger.Warn("failed to mark device seen from ack",
			"device_id", deviceID, "error", err)
	}

	severity := notify.SeverityInfo
	message := "device confirmed command execution"
	if ack.Status == "failed" {
		severity = notify.SeverityWarning
		message = "device reported command execution failure"
	}

	l.logger.Debug("command acknowledged",
		"device_id", deviceID,
		"command_id", ack.CommandID,
		"status", ack.Status)

	if l.sink == nil {
		return
	}
	event := notify.Event{
		Kind:     "command_ack",
		DeviceID: deviceID,
		Severity: severity,
		Message:  message,
		Metadata: map[string]any{
			"command_id": ack.CommandID,
			"status":     ack.Status,
		},
		OccurredAt: now,
	}
	if ack.Error != "" {
		event.Metadata["error"] = ack.Error
	}
	if err := l.sink.Notify(event); err != nil {
		l.logger.Warn("failed to forward ack notification",
			"device_id", deviceID, "error", err)
	}
}

// deviceIDFromTopic extracts the device ID from granary/ack/{id}.
func deviceIDFromTopic(topic string) string {
	idx := strings.LastIndex(topic, "/")
	if idx < 0 || idx == len(topic)-1 {
		return ""
	}
	return topic[idx+1:]
}
