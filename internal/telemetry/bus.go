package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/grainwatch/granary-core/internal/device"
	"github.com/grainwatch/granary-core/internal/infrastructure/mqtt"
)

// Subscriber is the broker surface the bus ingest consumes.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// ReadingSubmitter accepts readings into the ingest pipeline.
type ReadingSubmitter interface {
	SubmitTelemetry(ctx context.Context, r Reading) (*Result, error)
}

// BusIngest feeds readings published by field gateways into the ingest
// pipeline. Gateways publish to granary/telemetry/{device_id}; the
// device ID in the topic wins over any ID in the payload, so a gateway
// cannot report on behalf of another device by mistake.
type BusIngest struct {
	bus     Subscriber
	service ReadingSubmitter
	qos     byte
	logger  Logger
}

// NewBusIngest creates a bus ingest bridging broker telemetry into the
// given submitter.
func NewBusIngest(bus Subscriber, service ReadingSubmitter, qos byte) *BusIngest {
	return &BusIngest{
		bus:     bus,
		service: service,
		qos:     qos,
		logger:  noopLogger{},
	}
}

// SetLogger attaches a logger. Safe to skip; defaults to no-op.
func (b *BusIngest) SetLogger(logger Logger) {
	if logger != nil {
		b.logger = logger
	}
}

// Start subscribes to telemetry from every device. The subscription
// survives broker reconnects; Start is called once at boot.
//
// Parameters:
//   - ctx: Context readings are submitted under
//
// Returns:
//   - error: If the subscription could not be established
func (b *BusIngest) Start(ctx context.Context) error {
	var topics mqtt.Topics
	return b.bus.Subscribe(topics.AllTelemetry(), b.qos, func(topic string, payload []byte) error {
		b.handleMessage(ctx, topic, payload)
		// A bad reading from one gateway must not tear down the
		// subscription for everything else.
		return nil
	})
}

func (b *BusIngest) handleMessage(ctx context.Context, topic string, payload []byte) {
	var reading Reading
	if err := json.Unmarshal(payload, &reading); err != nil {
		b.logger.Warn("discarding malformed telemetry payload",
			"topic", topic, "error", err)
		return
	}

	if id := deviceIDFromTopic(topic); id != "" {
		reading.DeviceID = id
	}

	result, err := b.service.SubmitTelemetry(ctx, reading)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidReading):
			b.logger.Warn("discarding invalid telemetry reading",
				"device_id", reading.DeviceID, "error", err)
		case errors.Is(err, device.ErrDeviceNotFound):
			b.logger.Warn("telemetry from unregistered device",
				"device_id", reading.DeviceID)
		default:
			b.logger.Error("telemetry ingest from bus failed",
				"device_id", reading.DeviceID, "error", err)
		}
		return
	}

	b.logger.Debug("bus telemetry accepted",
		"device_id", reading.DeviceID,
		"status", string(result.Status))
}

// deviceIDFromTopic extracts the device ID from granary/telemetry/{id}.
func deviceIDFromTopic(topic string) string {
	idx := strings.LastIndex(topic, "/")
	if idx < 0 || idx == len(topic)-1 {
		return ""
	}
	return topic[idx+1:]
}
