package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/grainwatch/granary-core/internal/device"
	"github.com/grainwatch/granary-core/internal/notify"
)

// mockDirectory is a test DeviceDirectory.
type mockDirectory struct {
	mu       sync.Mutex
	devices  map[string]*device.Device
	seen     map[string]time.Time
	seenErr  error
	getCalls int
}

func newMockDirectory(devices ...*device.Device) *mockDirectory {
	m := &mockDirectory{
		devices: make(map[string]*device.Device),
		seen:    make(map[string]time.Time),
	}
	for _, d := range devices {
		m.devices[d.ID] = d
	}
	return m
}

func (m *mockDirectory) GetDevice(_ context.Context, id string) (*device.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	if d, ok := m.devices[id]; ok {
		return d.Copy(), nil
	}
	return nil, device.ErrDeviceNotFound
}

func (m *mockDirectory) MarkSeen(_ context.Context, id string, seen time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seenErr != nil {
		return m.seenErr
	}
	m.seen[id] = seen
	return nil
}

// mockRepo stores readings in memory.
type mockRepo struct {
	mu       sync.Mutex
	readings []Reading
	insErr   error
}

func (m *mockRepo) Insert(_ context.Context, r *Reading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insErr != nil {
		return m.insErr
	}
	m.readings = append(m.readings, *r)
	return nil
}

func (m *mockRepo) Latest(_ context.Context, deviceID string) (*Reading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.readings) - 1; i >= 0; i-- {
		if m.readings[i].DeviceID == deviceID {
			r := m.readings[i]
			return &r, nil
		}
	}
	return nil, ErrReadingNotFound
}

func (m *mockRepo) ListByDevice(_ context.Context, deviceID string, since time.Time, limit int) ([]Reading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Reading
	for _, r := range m.readings {
		if r.DeviceID == deviceID && !r.RecordedAt.Before(since) && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

// mockController records invocations.
type mockController struct {
	mu     sync.Mutex
	calls  int
	issued int
	err    error
}

func (m *mockController) OnTelemetry(_ context.Context, _ Reading, _ *device.Device) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.issued, m.err
}

// mockSink collects notifications.
type mockSink struct {
	mu     sync.Mutex
	events []notify.Event
}

func (m *mockSink) Notify(event notify.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func onlineDevice(id string) *device.Device {
	return &device.Device{
		ID:     id,
		Name:   "Probe " + id,
		Status: device.StatusOnline,
		Config: device.DefaultConfig(),
	}
}

func TestService_SubmitTelemetry(t *testing.T) {
	t.Run("accepts nominal reading", func(t *testing.T) {
		dir := newMockDirectory(onlineDevice("d1"))
		repo := &mockRepo{}
		svc := NewService(dir, repo)

		result, err := svc.SubmitTelemetry(context.Background(), Reading{
			DeviceID: "d1", Temperature: 22, Humidity: 55, GasLevel: 40,
		})
		if err != nil {
			t.Fatalf("SubmitTelemetry() error = %v", err)
		}

		if !result.Accepted || result.Status != StatusNormal {
			t.Errorf("result = %+v, want accepted normal", result)
		}
		if len(repo.readings) != 1 {
			t.Fatalf("stored readings = %d, want 1", len(repo.readings))
		}
		if repo.readings[0].ID == "" {
			t.Error("stored reading has no ID")
		}
		if _, ok := dir.seen["d1"]; !ok {
			t.Error("device was not marked seen")
		}
	})

	t.Run("rejects out-of-range values before any mutation", func(t *testing.T) {
		dir := newMockDirectory(onlineDevice("d1"))
		repo := &mockRepo{}
		svc := NewService(dir, repo)

		_, err := svc.SubmitTelemetry(context.Background(), Reading{
			DeviceID: "d1", Temperature: 150,
		})
		if !errors.Is(err, ErrInvalidReading) {
			t.Fatalf("error = %v, want ErrInvalidReading", err)
		}
		if len(repo.readings) != 0 {
			t.Error("invalid reading was persisted")
		}
		if dir.getCalls != 0 {
			t.Error("device lookup happened before validation")
		}
	})

	t.Run("rejects unknown device", func(t *testing.T) {
		svc := NewService(newMockDirectory(), &mockRepo{})

		_, err := svc.SubmitTelemetry(context.Background(), Reading{
			DeviceID: "ghost", Temperature: 22, Humidity: 55,
		})
		if !errors.Is(err, device.ErrDeviceNotFound) {
			t.Errorf("error = %v, want ErrDeviceNotFound", err)
		}
	})

	t.Run("critical reading emits alerts to sink", func(t *testing.T) {
		dir := newMockDirectory(onlineDevice("d1"))
		svc := NewService(dir, &mockRepo{})
		sink := &mockSink{}
		svc.SetSink(sink)

		result, err := svc.SubmitTelemetry(context.Background(), Reading{
			DeviceID: "d1", Temperature: 60, Humidity: 55, GasLevel: 40,
		})
		if err != nil {
			t.Fatalf("SubmitTelemetry() error = %v", err)
		}

		if result.Status != StatusCritical {
			t.Errorf("status = %q, want critical", result.Status)
		}
		if len(sink.events) != 1 {
			t.Fatalf("sink events = %d, want 1", len(sink.events))
		}
		if sink.events[0].Kind != string(AlertHighTemperature) {
			t.Errorf("event kind = %q, want high_temperature", sink.events[0].Kind)
		}
		if sink.events[0].Severity != notify.SeverityCritical {
			t.Errorf("event severity = %q, want critical", sink.events[0].Severity)
		}
	})

	t.Run("humidity alert carries warning severity", func(t *testing.T) {
		dir := newMockDirectory(onlineDevice("d1"))
		svc := NewService(dir, &mockRepo{})
		sink := &mockSink{}
		svc.SetSink(sink)

		_, err := svc.SubmitTelemetry(context.Background(), Reading{
			DeviceID: "d1", Temperature: 22, Humidity: 90, GasLevel: 40,
		})
		if err != nil {
			t.Fatalf("SubmitTelemetry() error = %v", err)
		}
		if len(sink.events) != 1 || sink.events[0].Severity != notify.SeverityWarning {
			t.Errorf("events = %+v, want single warning", sink.events)
		}
	})

	t.Run("runs auto-control for active device", func(t *testing.T) {
		dir := newMockDirectory(onlineDevice("d1"))
		svc := NewService(dir, &mockRepo{})
		ctrl := &mockController{issued: 1}
		svc.SetController(ctrl)

		_, err := svc.SubmitTelemetry(context.Background(), Reading{
			DeviceID: "d1", Temperature: 40, Humidity: 55, GasLevel: 40,
		})
		if err != nil {
			t.Fatalf("SubmitTelemetry() error = %v", err)
		}
		if ctrl.calls != 1 {
			t.Errorf("controller calls = %d, want 1", ctrl.calls)
		}
	})

	t.Run("skips auto-control for maintenance device", func(t *testing.T) {
		d := onlineDevice("d1")
		d.Status = device.StatusMaintenance
		dir := newMockDirectory(d)
		svc := NewService(dir, &mockRepo{})
		ctrl := &mockController{}
		svc.SetController(ctrl)

		_, err := svc.SubmitTelemetry(context.Background(), Reading{
			DeviceID: "d1", Temperature: 60, Humidity: 55, GasLevel: 40,
		})
		if err != nil {
			t.Fatalf("SubmitTelemetry() error = %v", err)
		}
		if ctrl.calls != 0 {
			t.Errorf("controller calls = %d, want 0 for maintenance device", ctrl.calls)
		}
	})

	t.Run("controller failure does not reject the reading", func(t *testing.T) {
		dir := newMockDirectory(onlineDevice("d1"))
		repo := &mockRepo{}
		svc := NewService(dir, repo)
		svc.SetController(&mockController{err: errors.New("queue unavailable")})

		result, err := svc.SubmitTelemetry(context.Background(), Reading{
			DeviceID: "d1", Temperature: 40, Humidity: 55, GasLevel: 40,
		})
		if err != nil {
			t.Fatalf("SubmitTelemetry() error = %v", err)
		}
		if !result.Accepted {
			t.Error("reading rejected on controller failure")
		}
	})

	t.Run("persistence failure is surfaced", func(t *testing.T) {
		dir := newMockDirectory(onlineDevice("d1"))
		svc := NewService(dir, &mockRepo{insErr: errors.New("disk full")})

		_, err := svc.SubmitTelemetry(context.Background(), Reading{
			DeviceID: "d1", Temperature: 22, Humidity: 55,
		})
		if err == nil {
			t.Error("expected persistence error")
		}
	})
}

func TestService_History(t *testing.T) {
	dir := newMockDirectory(onlineDevice("d1"))
	repo := &mockRepo{}
	svc := NewService(dir, repo)

	for i := 0; i < 3; i++ {
		_, err := svc.SubmitTelemetry(context.Background(), Reading{
			DeviceID: "d1", Temperature: 22, Humidity: 55,
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	readings, err := svc.History(context.Background(), "d1", time.Now().Add(-time.Hour), 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(readings) != 3 {
		t.Errorf("readings = %d, want 3", len(readings))
	}

	_, err = svc.History(context.Background(), "ghost", time.Time{}, 10)
	if !errors.Is(err, device.ErrDeviceNotFound) {
		t.Errorf("error = %v, want ErrDeviceNotFound", err)
	}
}
