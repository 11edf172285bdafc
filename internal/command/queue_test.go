package command

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/grainwatch/granary-core/internal/device"
	"github.com/grainwatch/granary-core/internal/notify"
)

// knownDevices is a DeviceChecker backed by a fixed set of IDs.
type knownDevices map[string]bool

func (k knownDevices) GetDevice(_ context.Context, id string) (*device.Device, error) {
	if k[id] {
		return &device.Device{ID: id, Name: id, Status: device.StatusOnline}, nil
	}
	return nil, device.ErrDeviceNotFound
}

// captureSink collects emitted events.
type captureSink struct {
	mu     sync.Mutex
	events []notify.Event
}

func (c *captureSink) Notify(event notify.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	store := NewSQLiteStore(setupTestDB(t))
	return NewQueue(store, knownDevices{"silo-01": true, "silo-02": true})
}

func TestQueue_Enqueue(t *testing.T) {
	t.Run("applies defaults", func(t *testing.T) {
		q := newTestQueue(t)

		c, err := q.Enqueue(context.Background(), Request{
			DeviceID: "silo-01",
			Kind:     KindFanOn,
			Issuer:   "operator-7",
		})
		if err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}

		if c.ID == "" {
			t.Error("no ID generated")
		}
		if c.Status != StatusPending {
			t.Errorf("status = %q, want pending", c.Status)
		}
		if c.Priority != PriorityNormal {
			t.Errorf("priority = %q, want normal", c.Priority)
		}
		if c.MaxRetries != DefaultMaxRetries {
			t.Errorf("max_retries = %d, want %d", c.MaxRetries, DefaultMaxRetries)
		}
		if c.ScheduledFor.IsZero() {
			t.Error("scheduled_for not defaulted")
		}
	})

	t.Run("rejects unknown kind", func(t *testing.T) {
		q := newTestQueue(t)

		_, err := q.Enqueue(context.Background(), Request{
			DeviceID: "silo-01", Kind: "door_open", Issuer: "operator-7",
		})
		if !errors.Is(err, ErrInvalidCommand) {
			t.Errorf("error = %v, want ErrInvalidCommand", err)
		}
	})

	t.Run("rejects missing issuer", func(t *testing.T) {
		q := newTestQueue(t)

		_, err := q.Enqueue(context.Background(), Request{
			DeviceID: "silo-01", Kind: KindFanOn,
		})
		if !errors.Is(err, ErrInvalidCommand) {
			t.Errorf("error = %v, want ErrInvalidCommand", err)
		}
	})

	t.Run("rejects unknown priority", func(t *testing.T) {
		q := newTestQueue(t)

		_, err := q.Enqueue(context.Background(), Request{
			DeviceID: "silo-01", Kind: KindFanOn, Issuer: "op", Priority: "urgent",
		})
		if !errors.Is(err, ErrInvalidCommand) {
			t.Errorf("error = %v, want ErrInvalidCommand", err)
		}
	})

	t.Run("rejects unknown device", func(t *testing.T) {
		q := newTestQueue(t)

		_, err := q.Enqueue(context.Background(), Request{
			DeviceID: "ghost", Kind: KindFanOn, Issuer: "op",
		})
		if !errors.Is(err, device.ErrDeviceNotFound) {
			t.Errorf("error = %v, want ErrDeviceNotFound", err)
		}
	})
}

func TestQueue_EnqueueBatch(t *testing.T) {
	q := newTestQueue(t)

	items := q.EnqueueBatch(context.Background(), []Request{
		{DeviceID: "silo-01", Kind: KindFanOn, Issuer: "op"},
		{DeviceID: "ghost", Kind: KindFanOn, Issuer: "op"},
		{DeviceID: "silo-02", Kind: KindPumpOff, Issuer: "op"},
	})

	if len(items) != 3 {
		t.Fatalf("items = %d, want 3", len(items))
	}
	if items[0].Command == nil || items[0].Error != "" {
		t.Errorf("item 0 = %+v, want success", items[0])
	}
	if items[1].Command != nil || items[1].Error == "" {
		t.Errorf("item 1 = %+v, want failure", items[1])
	}
	if items[2].Command == nil {
		t.Errorf("item 2 = %+v, want success", items[2])
	}
}

func TestQueue_ClaimAndResolve(t *testing.T) {
	q := newTestQueue(t)

	c, err := q.Enqueue(context.Background(), Request{
		DeviceID: "silo-01", Kind: KindFanOn, Issuer: "op",
	})
	if err != nil {
		t.Fatal(err)
	}

	claimed, err := q.ClaimNext(context.Background(), "silo-01", 5)
	if err != nil {
		t.Fatalf("ClaimNext() error = %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != c.ID {
		t.Fatalf("claimed = %v, want [%s]", claimed, c.ID)
	}

	if err := q.MarkExecuted(context.Background(), c.ID, `{"ok":true}`); err != nil {
		t.Fatalf("MarkExecuted() error = %v", err)
	}

	got, _ := q.Get(context.Background(), c.ID)
	if got.Status != StatusExecuted {
		t.Errorf("status = %q, want executed", got.Status)
	}
}

func TestQueue_MarkFailedNotifies(t *testing.T) {
	t.Run("failure with retries left is a warning", func(t *testing.T) {
		q := newTestQueue(t)
		sink := &captureSink{}
		q.SetSink(sink)

		c, _ := q.Enqueue(context.Background(), Request{
			DeviceID: "silo-01", Kind: KindFanOn, Issuer: "op",
		})
		if _, err := q.ClaimNext(context.Background(), "silo-01", 1); err != nil {
			t.Fatal(err)
		}

		if err := q.MarkFailed(context.Background(), c.ID, "gateway timeout"); err != nil {
			t.Fatalf("MarkFailed() error = %v", err)
		}

		if len(sink.events) != 1 {
			t.Fatalf("events = %d, want 1", len(sink.events))
		}
		event := sink.events[0]
		if event.Kind != "command_failed" || event.Severity != notify.SeverityWarning {
			t.Errorf("event = %+v, want command_failed warning", event)
		}
		if event.Metadata["terminal"] != false {
			t.Errorf("terminal = %v, want false", event.Metadata["terminal"])
		}
	})

	t.Run("exhausted command is surfaced as critical", func(t *testing.T) {
		q := newTestQueue(t)
		sink := &captureSink{}
		q.SetSink(sink)

		c, _ := q.Enqueue(context.Background(), Request{
			DeviceID: "silo-01", Kind: KindPumpOn, Issuer: "op", MaxRetries: 1,
		})
		if _, err := q.ClaimNext(context.Background(), "silo-01", 1); err != nil {
			t.Fatal(err)
		}

		if err := q.MarkFailed(context.Background(), c.ID, "no ack"); err != nil {
			t.Fatalf("MarkFailed() error = %v", err)
		}

		event := sink.events[len(sink.events)-1]
		if event.Severity != notify.SeverityCritical {
			t.Errorf("severity = %q, want critical", event.Severity)
		}
		if event.Metadata["terminal"] != true {
			t.Errorf("terminal = %v, want true", event.Metadata["terminal"])
		}
		if !strings.Contains(event.Message, "terminally") {
			t.Errorf("message = %q, want terminal wording", event.Message)
		}
	})
}

// TestQueue_RetryBudget walks a command through repeated failures until
// the budget is spent and a further retry is refused.
func TestQueue_RetryBudget(t *testing.T) {
	q := newTestQueue(t)

	c, err := q.Enqueue(context.Background(), Request{
		DeviceID: "silo-01", Kind: KindFanOn, Issuer: "op", MaxRetries: 3,
	})
	if err != nil {
		t.Fatal(err)
	}

	for attempt := 1; attempt <= 3; attempt++ {
		claimed, err := q.ClaimNext(context.Background(), "silo-01", 1)
		if err != nil || len(claimed) != 1 {
			t.Fatalf("attempt %d: claim = %v, %v", attempt, claimed, err)
		}
		if err := q.MarkFailed(context.Background(), c.ID, "no ack"); err != nil {
			t.Fatalf("attempt %d: MarkFailed() error = %v", attempt, err)
		}

		err = q.Retry(context.Background(), c.ID, "op")
		if attempt < 3 {
			if err != nil {
				t.Fatalf("attempt %d: Retry() error = %v", attempt, err)
			}
		} else if !errors.Is(err, ErrRetryExhausted) {
			t.Fatalf("attempt %d: error = %v, want ErrRetryExhausted", attempt, err)
		}
	}

	got, _ := q.Get(context.Background(), c.ID)
	if got.RetryCount != got.MaxRetries {
		t.Errorf("retry_count = %d, want %d", got.RetryCount, got.MaxRetries)
	}
	if !got.Terminal() {
		t.Error("command should be terminal after exhausting retries")
	}
}

func TestQueue_CancelClaimedFails(t *testing.T) {
	q := newTestQueue(t)

	c, _ := q.Enqueue(context.Background(), Request{
		DeviceID: "silo-01", Kind: KindBuzzerOn, Issuer: "op",
	})
	if _, err := q.ClaimNext(context.Background(), "silo-01", 1); err != nil {
		t.Fatal(err)
	}

	err := q.Cancel(context.Background(), c.ID, "op")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("error = %v, want ErrInvalidTransition", err)
	}
}

func TestQueue_ListHistoryKeepsIssuerDistinction(t *testing.T) {
	q := newTestQueue(t)

	system, _ := q.Enqueue(context.Background(), Request{
		DeviceID: "silo-01", Kind: KindFanOn, Issuer: SystemIssuer,
		Metadata: map[string]any{"auto_control": true},
	})
	operator, _ := q.Enqueue(context.Background(), Request{
		DeviceID: "silo-01", Kind: KindFanOff, Issuer: "operator-7",
	})

	if _, err := q.ClaimNext(context.Background(), "silo-01", 2); err != nil {
		t.Fatal(err)
	}
	if err := q.MarkExecuted(context.Background(), system.ID, ""); err != nil {
		t.Fatal(err)
	}
	if err := q.MarkExecuted(context.Background(), operator.ID, ""); err != nil {
		t.Fatal(err)
	}

	history, err := q.ListHistory(context.Background(), "silo-01", time.Now().UTC().Add(-time.Hour), 10)
	if err != nil {
		t.Fatalf("ListHistory() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history = %d, want 2", len(history))
	}

	var sawSystem, sawOperator bool
	for _, c := range history {
		if c.AutoIssued() {
			sawSystem = true
		} else {
			sawOperator = true
		}
	}
	if !sawSystem || !sawOperator {
		t.Error("history lost the system/operator issuer distinction")
	}
}
