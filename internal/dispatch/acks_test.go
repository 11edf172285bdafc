package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/grainwatch/granary-core/internal/infrastructure/mqtt"
	"github.com/grainwatch/granary-core/internal/notify"
)

// ackBus records the subscription and lets tests inject ack messages.
type ackBus struct {
	topic   string
	handler mqtt.MessageHandler
}

func (a *ackBus) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	a.topic = topic
	a.handler = handler
	return nil
}

// markRecorder captures MarkSeen calls.
type markRecorder struct {
	mu    sync.Mutex
	seen  []string
	times []time.Time
}

func (m *markRecorder) MarkSeen(_ context.Context, id string, seen time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen = append(m.seen, id)
	m.times = append(m.times, seen)
	return nil
}

func TestAckListener_SubscribesToAllAcks(t *testing.T) {
	bus := &ackBus{}
	listener := NewAckListener(bus, &markRecorder{}, 1)

	if err := listener.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	if bus.topic != "granary/ack/+" {
		t.Errorf("subscribed to %q, want granary/ack/+", bus.topic)
	}
}

func TestAckListener_MarksDeviceSeenAndNotifies(t *testing.T) {
	bus := &ackBus{}
	marks := &markRecorder{}
	sink := &collectSink{}
	listener := NewAckListener(bus, marks, 1)
	listener.SetSink(sink)

	if err := listener.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	payload := []byte(`{"command_id": "cmd-1", "status": "executed"}`)
	if err := bus.handler("granary/ack/silo-07-probe", payload); err != nil {
		t.Fatalf("handler error: %v", err)
	}

	if len(marks.seen) != 1 || marks.seen[0] != "silo-07-probe" {
		t.Errorf("MarkSeen calls = %v, want [silo-07-probe]", marks.seen)
	}
	if sink.count() != 1 {
		t.Fatalf("events = %d, want 1", sink.count())
	}
	event := sink.events[0]
	if event.Kind != "command_ack" {
		t.Errorf("kind = %q, want command_ack", event.Kind)
	}
	if event.Severity != notify.SeverityInfo {
		t.Errorf("severity = %q, want info", event.Severity)
	}
	if event.Metadata["command_id"] != "cmd-1" {
		t.Errorf("command_id metadata = %v, want cmd-1", event.Metadata["command_id"])
	}
}

func TestAckListener_FailureAckEscalatesSeverity(t *testing.T) {
	bus := &ackBus{}
	sink := &collectSink{}
	listener := NewAckListener(bus, &markRecorder{}, 1)
	listener.SetSink(sink)

	if err := listener.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	payload := []byte(`{"command_id": "cmd-2", "status": "failed", "error": "relay jammed"}`)
	if err := bus.handler("granary/ack/silo-07-probe", payload); err != nil {
		t.Fatalf("handler error: %v", err)
	}

	if sink.count() != 1 {
		t.Fatalf("events = %d, want 1", sink.count())
	}
	event := sink.events[0]
	if event.Severity != notify.SeverityWarning {
		t.Errorf("severity = %q, want warning", event.Severity)
	}
	if event.Metadata["error"] != "relay jammed" {
		t.Errorf("error metadata = %v, want relay jammed", event.Metadata["error"])
	}
}

func TestAckListener_MalformedPayloadDiscarded(t *testing.T) {
	bus := &ackBus{}
	marks := &markRecorder{}
	sink := &collectSink{}
	listener := NewAckListener(bus, marks, 1)
	listener.SetSink(sink)

	if err := listener.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	if err := bus.handler("granary/ack/silo-07-probe", []byte("not json")); err != nil {
		t.Errorf("malformed ack must not propagate an error, got %v", err)
	}
	if len(marks.seen) != 0 {
		t.Errorf("MarkSeen calls = %d, want 0", len(marks.seen))
	}
	if sink.count() != 0 {
		t.Errorf("events = %d, want 0", sink.count())
	}
}
