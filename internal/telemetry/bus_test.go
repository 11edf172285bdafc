package telemetry

import (
	"context"
	"testing"

	"github.com/grainwatch/granary-core/internal/infrastructure/mqtt"
)

// fakeBus records the subscription and lets tests inject messages.
type fakeBus struct {
	topic   string
	qos     byte
	handler mqtt.MessageHandler
}

func (f *fakeBus) Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error {
	f.topic = topic
	f.qos = qos
	f.handler = handler
	return nil
}

// fakeSubmitter captures submitted readings.
type fakeSubmitter struct {
	readings []Reading
	err      error
}

func (f *fakeSubmitter) SubmitTelemetry(_ context.Context, r Reading) (*Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.readings = append(f.readings, r)
	return &Result{Accepted: true, Status: StatusNormal}, nil
}

func TestBusIngest_SubscribesToAllTelemetry(t *testing.T) {
	bus := &fakeBus{}
	ingest := NewBusIngest(bus, &fakeSubmitter{}, 1)

	if err := ingest.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	if bus.topic != "granary/telemetry/+" {
		t.Errorf("subscribed to %q, want granary/telemetry/+", bus.topic)
	}
	if bus.qos != 1 {
		t.Errorf("qos = %d, want 1", bus.qos)
	}
}

func TestBusIngest_TopicDeviceIDWins(t *testing.T) {
	bus := &fakeBus{}
	submitter := &fakeSubmitter{}
	ingest := NewBusIngest(bus, submitter, 1)

	if err := ingest.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	payload := []byte(`{"device_id": "impostor", "temperature": 22, "humidity": 50, "gas_level": 10}`)
	if err := bus.handler("granary/telemetry/silo-07-probe", payload); err != nil {
		t.Fatalf("handler error: %v", err)
	}

	if len(submitter.readings) != 1 {
		t.Fatalf("submitted %d readings, want 1", len(submitter.readings))
	}
	if got := submitter.readings[0].DeviceID; got != "silo-07-probe" {
		t.Errorf("device_id = %q, want topic-derived silo-07-probe", got)
	}
	if submitter.readings[0].Temperature != 22 {
		t.Errorf("temperature = %v, want 22", submitter.readings[0].Temperature)
	}
}

func TestBusIngest_MalformedPayloadDiscarded(t *testing.T) {
	bus := &fakeBus{}
	submitter := &fakeSubmitter{}
	ingest := NewBusIngest(bus, submitter, 1)

	if err := ingest.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	if err := bus.handler("granary/telemetry/silo-07-probe", []byte("not json")); err != nil {
		t.Errorf("malformed payload must not propagate an error, got %v", err)
	}
	if len(submitter.readings) != 0 {
		t.Errorf("submitted %d readings, want 0", len(submitter.readings))
	}
}

func TestBusIngest_SubmitFailureDoesNotKillSubscription(t *testing.T) {
	bus := &fakeBus{}
	submitter := &fakeSubmitter{err: ErrInvalidReading}
	ingest := NewBusIngest(bus, submitter, 1)

	if err := ingest.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	payload := []byte(`{"temperature": 22, "humidity": 50, "gas_level": 10}`)
	if err := bus.handler("granary/telemetry/silo-07-probe", payload); err != nil {
		t.Errorf("ingest failure must not propagate an error, got %v", err)
	}
}
