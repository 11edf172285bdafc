package command

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/grainwatch/granary-core/internal/infrastructure/database"
	_ "github.com/grainwatch/granary-core/migrations"
)

// setupTestDB opens a temporary database and applies the shipped
// migrations, so the store runs against the production schema.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{
		Path:        filepath.Join(t.TempDir(), "granary.db"),
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("applying migrations: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})

	// Commands reference devices; satisfy the foreign key up front.
	for _, id := range []string{"silo-01", "silo-02"} {
		seedDeviceRow(t, db.DB, id)
	}

	return db.DB
}

// seedDeviceRow inserts a bare device so command rows pass the
// foreign key check. Config columns take their schema defaults.
func seedDeviceRow(t *testing.T, db *sql.DB, id string) {
	t.Helper()

	now := time.Now().UTC().Format(database.TimeLayout)
	_, err := db.Exec(
		`INSERT INTO devices (id, name, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		id, "Probe "+id, now, now,
	)
	if err != nil {
		t.Fatalf("seeding device %s: %v", id, err)
	}
}

// seedCommand inserts a command and returns it.
func seedCommand(t *testing.T, store *SQLiteStore, mutate func(*Command)) *Command {
	t.Helper()

	now := time.Now().UTC()
	c := &Command{
		ID:           GenerateID(),
		DeviceID:     "silo-01",
		Kind:         KindFanOn,
		Issuer:       "operator-7",
		Priority:     PriorityNormal,
		Status:       StatusPending,
		ScheduledFor: now,
		MaxRetries:   DefaultMaxRetries,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if mutate != nil {
		mutate(c)
	}
	if err := store.Insert(context.Background(), c); err != nil {
		t.Fatalf("seeding command: %v", err)
	}
	return c
}

func TestSQLiteStore_InsertAndGet(t *testing.T) {
	store := NewSQLiteStore(setupTestDB(t))

	seeded := seedCommand(t, store, func(c *Command) {
		c.Metadata = map[string]any{"reason": "temperature above max", "auto_control": true}
	})

	got, err := store.GetByID(context.Background(), seeded.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}

	if got.Kind != KindFanOn || got.Status != StatusPending {
		t.Errorf("got kind=%q status=%q, want fan_on pending", got.Kind, got.Status)
	}
	if got.Metadata["reason"] != "temperature above max" {
		t.Errorf("metadata = %v, want reason preserved", got.Metadata)
	}
	if got.Metadata["auto_control"] != true {
		t.Errorf("metadata auto_control = %v, want true", got.Metadata["auto_control"])
	}
}

// Operator commands frequently carry no metadata at all; the NOT NULL
// metadata column must still accept them.
func TestSQLiteStore_InsertWithoutMetadata(t *testing.T) {
	store := NewSQLiteStore(setupTestDB(t))

	seeded := seedCommand(t, store, nil)

	got, err := store.GetByID(context.Background(), seeded.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if len(got.Metadata) != 0 {
		t.Errorf("metadata = %v, want empty", got.Metadata)
	}
	if got.Status != StatusPending {
		t.Errorf("status = %q, want pending", got.Status)
	}
}

func TestSQLiteStore_GetByIDNotFound(t *testing.T) {
	store := NewSQLiteStore(setupTestDB(t))

	_, err := store.GetByID(context.Background(), "ghost")
	if !errors.Is(err, ErrCommandNotFound) {
		t.Errorf("error = %v, want ErrCommandNotFound", err)
	}
}

func TestSQLiteStore_ClaimPending(t *testing.T) {
	t.Run("claims in priority order", func(t *testing.T) {
		store := NewSQLiteStore(setupTestDB(t))
		base := time.Now().UTC().Add(-time.Minute)

		low := seedCommand(t, store, func(c *Command) {
			c.Priority = PriorityLow
			c.CreatedAt = base
		})
		critical := seedCommand(t, store, func(c *Command) {
			c.Priority = PriorityCritical
			c.CreatedAt = base.Add(2 * time.Second)
		})
		normal := seedCommand(t, store, func(c *Command) {
			c.Priority = PriorityNormal
			c.CreatedAt = base.Add(time.Second)
		})

		claimed, err := store.ClaimPending(context.Background(), "silo-01", 10, time.Now().UTC())
		if err != nil {
			t.Fatalf("ClaimPending() error = %v", err)
		}

		wantOrder := []string{critical.ID, normal.ID, low.ID}
		if len(claimed) != 3 {
			t.Fatalf("claimed = %d, want 3", len(claimed))
		}
		for i, want := range wantOrder {
			if claimed[i].ID != want {
				t.Errorf("claimed[%d] = %s, want %s", i, claimed[i].ID, want)
			}
			if claimed[i].Status != StatusInFlight {
				t.Errorf("claimed[%d] status = %q, want in_flight", i, claimed[i].Status)
			}
		}
	})

	t.Run("same priority claims oldest first", func(t *testing.T) {
		store := NewSQLiteStore(setupTestDB(t))
		base := time.Now().UTC().Add(-time.Minute)

		older := seedCommand(t, store, func(c *Command) { c.CreatedAt = base })
		newer := seedCommand(t, store, func(c *Command) { c.CreatedAt = base.Add(time.Second) })

		claimed, err := store.ClaimPending(context.Background(), "silo-01", 1, time.Now().UTC())
		if err != nil {
			t.Fatalf("ClaimPending() error = %v", err)
		}
		if len(claimed) != 1 || claimed[0].ID != older.ID {
			t.Errorf("claimed %v, want oldest %s", claimed, older.ID)
		}
		_ = newer
	})

	t.Run("skips commands scheduled in the future", func(t *testing.T) {
		store := NewSQLiteStore(setupTestDB(t))

		seedCommand(t, store, func(c *Command) {
			c.ScheduledFor = time.Now().UTC().Add(time.Hour)
		})

		claimed, err := store.ClaimPending(context.Background(), "silo-01", 10, time.Now().UTC())
		if err != nil {
			t.Fatalf("ClaimPending() error = %v", err)
		}
		if len(claimed) != 0 {
			t.Errorf("claimed = %d, want 0", len(claimed))
		}
	})

	t.Run("ignores other devices", func(t *testing.T) {
		store := NewSQLiteStore(setupTestDB(t))

		seedCommand(t, store, func(c *Command) { c.DeviceID = "silo-02" })

		claimed, err := store.ClaimPending(context.Background(), "silo-01", 10, time.Now().UTC())
		if err != nil {
			t.Fatalf("ClaimPending() error = %v", err)
		}
		if len(claimed) != 0 {
			t.Errorf("claimed = %d, want 0", len(claimed))
		}
	})

	t.Run("respects limit", func(t *testing.T) {
		store := NewSQLiteStore(setupTestDB(t))
		for i := 0; i < 5; i++ {
			seedCommand(t, store, nil)
		}

		claimed, err := store.ClaimPending(context.Background(), "silo-01", 2, time.Now().UTC())
		if err != nil {
			t.Fatalf("ClaimPending() error = %v", err)
		}
		if len(claimed) != 2 {
			t.Errorf("claimed = %d, want 2", len(claimed))
		}
	})
}

// TestSQLiteStore_ConcurrentClaim verifies that racing claimers never
// take the same command twice. Run with -race.
func TestSQLiteStore_ConcurrentClaim(t *testing.T) {
	store := NewSQLiteStore(setupTestDB(t))

	const eligible = 6
	for i := 0; i < eligible; i++ {
		seedCommand(t, store, nil)
	}

	const claimers = 4
	var wg sync.WaitGroup
	results := make([][]Command, claimers)

	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			claimed, err := store.ClaimPending(context.Background(), "silo-01", 3, time.Now().UTC())
			if err != nil {
				t.Errorf("claimer %d: %v", n, err)
				return
			}
			results[n] = claimed
		}(i)
	}
	wg.Wait()

	seen := make(map[string]int)
	total := 0
	for _, claimed := range results {
		for _, c := range claimed {
			seen[c.ID]++
			total++
		}
	}

	if total != eligible {
		t.Errorf("total claimed = %d, want %d", total, eligible)
	}
	for id, count := range seen {
		if count != 1 {
			t.Errorf("command %s claimed %d times, want exactly once", id, count)
		}
	}
}

func TestSQLiteStore_MarkExecuted(t *testing.T) {
	t.Run("resolves an in-flight command", func(t *testing.T) {
		store := NewSQLiteStore(setupTestDB(t))
		c := seedCommand(t, store, func(c *Command) { c.Status = StatusInFlight })

		if err := store.MarkExecuted(context.Background(), c.ID, `{"ack":true}`, time.Now().UTC()); err != nil {
			t.Fatalf("MarkExecuted() error = %v", err)
		}

		got, _ := store.GetByID(context.Background(), c.ID)
		if got.Status != StatusExecuted {
			t.Errorf("status = %q, want executed", got.Status)
		}
		if got.ExecutedAt == nil {
			t.Error("executed_at not set")
		}
		if got.Response != `{"ack":true}` {
			t.Errorf("response = %q", got.Response)
		}
	})

	t.Run("rejects a pending command", func(t *testing.T) {
		store := NewSQLiteStore(setupTestDB(t))
		c := seedCommand(t, store, nil)

		err := store.MarkExecuted(context.Background(), c.ID, "", time.Now().UTC())
		if !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("error = %v, want ErrInvalidTransition", err)
		}
	})

	t.Run("rejects an unknown command", func(t *testing.T) {
		store := NewSQLiteStore(setupTestDB(t))

		err := store.MarkExecuted(context.Background(), "ghost", "", time.Now().UTC())
		if !errors.Is(err, ErrCommandNotFound) {
			t.Errorf("error = %v, want ErrCommandNotFound", err)
		}
	})
}

func TestSQLiteStore_MarkFailed(t *testing.T) {
	store := NewSQLiteStore(setupTestDB(t))
	c := seedCommand(t, store, func(c *Command) { c.Status = StatusInFlight })

	if err := store.MarkFailed(context.Background(), c.ID, "gateway timeout", time.Now().UTC()); err != nil {
		t.Fatalf("MarkFailed() error = %v", err)
	}

	got, _ := store.GetByID(context.Background(), c.ID)
	if got.Status != StatusFailed {
		t.Errorf("status = %q, want failed", got.Status)
	}
	if got.RetryCount != 1 {
		t.Errorf("retry_count = %d, want 1", got.RetryCount)
	}
	if got.LastError != "gateway timeout" {
		t.Errorf("last_error = %q", got.LastError)
	}
}

func TestSQLiteStore_Retry(t *testing.T) {
	t.Run("returns a failed command to pending", func(t *testing.T) {
		store := NewSQLiteStore(setupTestDB(t))
		c := seedCommand(t, store, func(c *Command) {
			c.Status = StatusFailed
			c.RetryCount = 1
			c.LastError = "gateway timeout"
			c.ScheduledFor = time.Now().UTC().Add(-time.Hour)
		})

		if err := store.Retry(context.Background(), c.ID, time.Now().UTC()); err != nil {
			t.Fatalf("Retry() error = %v", err)
		}

		got, _ := store.GetByID(context.Background(), c.ID)
		if got.Status != StatusPending {
			t.Errorf("status = %q, want pending", got.Status)
		}
		if got.LastError != "" {
			t.Errorf("last_error = %q, want cleared", got.LastError)
		}
		if got.ScheduledFor.Before(time.Now().UTC().Add(-time.Minute)) {
			t.Errorf("scheduled_for = %v, want reset to now", got.ScheduledFor)
		}
	})

	t.Run("fails with RetryExhausted past the budget", func(t *testing.T) {
		store := NewSQLiteStore(setupTestDB(t))
		c := seedCommand(t, store, func(c *Command) {
			c.Status = StatusFailed
			c.RetryCount = 3
			c.MaxRetries = 3
		})

		err := store.Retry(context.Background(), c.ID, time.Now().UTC())
		if !errors.Is(err, ErrRetryExhausted) {
			t.Errorf("error = %v, want ErrRetryExhausted", err)
		}
	})

	t.Run("rejects a command that has not failed", func(t *testing.T) {
		store := NewSQLiteStore(setupTestDB(t))
		c := seedCommand(t, store, nil)

		err := store.Retry(context.Background(), c.ID, time.Now().UTC())
		if !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("error = %v, want ErrInvalidTransition", err)
		}
	})
}

func TestSQLiteStore_Cancel(t *testing.T) {
	t.Run("cancels a pending command and excludes it from claims", func(t *testing.T) {
		store := NewSQLiteStore(setupTestDB(t))
		c := seedCommand(t, store, nil)

		if err := store.Cancel(context.Background(), c.ID); err != nil {
			t.Fatalf("Cancel() error = %v", err)
		}

		claimed, err := store.ClaimPending(context.Background(), "silo-01", 10, time.Now().UTC())
		if err != nil {
			t.Fatalf("ClaimPending() error = %v", err)
		}
		if len(claimed) != 0 {
			t.Errorf("cancelled command was claimed")
		}
	})

	t.Run("rejects an in-flight command", func(t *testing.T) {
		store := NewSQLiteStore(setupTestDB(t))
		c := seedCommand(t, store, func(c *Command) { c.Status = StatusInFlight })

		err := store.Cancel(context.Background(), c.ID)
		if !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("error = %v, want ErrInvalidTransition", err)
		}
	})
}

func TestSQLiteStore_ListPending(t *testing.T) {
	store := NewSQLiteStore(setupTestDB(t))
	base := time.Now().UTC().Add(-time.Minute)

	seedCommand(t, store, func(c *Command) {
		c.Priority = PriorityLow
		c.CreatedAt = base
	})
	high := seedCommand(t, store, func(c *Command) {
		c.Priority = PriorityHigh
		c.CreatedAt = base.Add(time.Second)
	})
	seedCommand(t, store, func(c *Command) {
		c.DeviceID = "silo-02"
		c.Status = StatusExecuted
	})

	all, err := store.ListPending(context.Background(), "")
	if err != nil {
		t.Fatalf("ListPending() error = %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("pending = %d, want 2", len(all))
	}
	if all[0].ID != high.ID {
		t.Errorf("first pending = %s, want high-priority %s", all[0].ID, high.ID)
	}

	scoped, err := store.ListPending(context.Background(), "silo-01")
	if err != nil {
		t.Fatalf("ListPending(silo-01) error = %v", err)
	}
	if len(scoped) != 2 {
		t.Errorf("scoped pending = %d, want 2", len(scoped))
	}
}

func TestSQLiteStore_ListHistory(t *testing.T) {
	store := NewSQLiteStore(setupTestDB(t))

	seedCommand(t, store, func(c *Command) { c.Status = StatusExecuted })
	seedCommand(t, store, func(c *Command) { c.Status = StatusFailed })
	seedCommand(t, store, func(c *Command) { c.Status = StatusCancelled })
	seedCommand(t, store, nil) // pending, excluded

	history, err := store.ListHistory(context.Background(), "", time.Now().UTC().Add(-time.Hour), 100)
	if err != nil {
		t.Fatalf("ListHistory() error = %v", err)
	}
	if len(history) != 3 {
		t.Errorf("history = %d, want 3", len(history))
	}
}

func TestSQLiteStore_CountByStatus(t *testing.T) {
	store := NewSQLiteStore(setupTestDB(t))

	seedCommand(t, store, nil)
	seedCommand(t, store, nil)
	seedCommand(t, store, func(c *Command) { c.Status = StatusExecuted })

	counts, err := store.CountByStatus(context.Background())
	if err != nil {
		t.Fatalf("CountByStatus() error = %v", err)
	}
	if counts[StatusPending] != 2 || counts[StatusExecuted] != 1 {
		t.Errorf("counts = %v, want pending=2 executed=1", counts)
	}
}
