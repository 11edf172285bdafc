package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/grainwatch/granary-core/internal/infrastructure/mqtt"
)

// Publisher is the subset of the MQTT client the sink needs.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// MQTTSink delivers events to the broker alert topics:
// granary/alerts/{deviceID} for device events, granary/alerts/system
// for facility-wide ones. Alerts are never retained.
type MQTTSink struct {
	publisher Publisher
	qos       byte
}

// NewMQTTSink creates a sink publishing at the given QoS level.
func NewMQTTSink(publisher Publisher, qos byte) *MQTTSink {
	return &MQTTSink{publisher: publisher, qos: qos}
}

func (s *MQTTSink) Notify(event Event) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	topic := mqtt.Topics{}.SystemAlert()
	if event.DeviceID != "" {
		topic = mqtt.Topics{}.DeviceAlert(event.DeviceID)
	}

	if err := s.publisher.Publish(topic, payload, s.qos, false); err != nil {
		return fmt.Errorf("publishing event: %w", err)
	}
	return nil
}
