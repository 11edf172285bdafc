package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/grainwatch/granary-core/internal/command"
	"github.com/grainwatch/granary-core/internal/infrastructure/mqtt"
)

// Executor carries one claimed command to the field hardware.
//
// Implementations report delivery, not device-side effect: a device
// acknowledges execution asynchronously on its ack topic. A returned
// error marks the command failed and counts against its retry budget.
type Executor interface {
	Execute(ctx context.Context, c command.Command) (response string, err error)
}

// Publisher is the subset of the MQTT client the executor needs.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// wireCommand is the payload shape published to field gateways.
type wireCommand struct {
	ID       string         `json:"id"`
	Kind     string         `json:"kind"`
	Issuer   string         `json:"issuer"`
	Priority string         `json:"priority"`
	Metadata map[string]any `json:"metadata,omitempty"`
	IssuedAt time.Time      `json:"issued_at"`
}

// MQTTExecutor delivers commands by publishing them to
// granary/command/{deviceID}. Commands are never retained; a gateway
// that reconnects must not replay stale actuator instructions.
type MQTTExecutor struct {
	publisher Publisher
	qos       byte
}

// NewMQTTExecutor creates an executor publishing at the given QoS level.
func NewMQTTExecutor(publisher Publisher, qos byte) *MQTTExecutor {
	return &MQTTExecutor{publisher: publisher, qos: qos}
}

func (e *MQTTExecutor) Execute(ctx context.Context, c command.Command) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	topic := mqtt.Topics{}.Command(c.DeviceID)
	payload, err := json.Marshal(wireCommand{
		ID:       c.ID,
		Kind:     string(c.Kind),
		Issuer:   c.Issuer,
		Priority: string(c.Priority),
		Metadata: c.Metadata,
		IssuedAt: time.Now().UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("encoding command: %w", err)
	}

	if err := e.publisher.Publish(topic, payload, e.qos, false); err != nil {
		return "", fmt.Errorf("delivering command: %w", err)
	}

	return fmt.Sprintf(`{"delivered_to":%q}`, topic), nil
}
