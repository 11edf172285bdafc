package command

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/grainwatch/granary-core/internal/infrastructure/database"
)

// Store persists commands and enforces their lifecycle transitions.
//
// Transition methods are atomic: they use conditional updates so two
// workers can never move the same command, and they fail with
// ErrInvalidTransition or ErrRetryExhausted instead of silently
// overwriting state.
type Store interface {
	// Insert stores a new command.
	Insert(ctx context.Context, c *Command) error

	// GetByID returns one command or ErrCommandNotFound.
	GetByID(ctx context.Context, id string) (*Command, error)

	// ClaimPending atomically moves up to limit eligible pending
	// commands for a device to in_flight and returns them, highest
	// priority first. A command is eligible when scheduled_for <= now.
	// Each command is claimed by exactly one caller.
	ClaimPending(ctx context.Context, deviceID string, limit int, now time.Time) ([]Command, error)

	// MarkExecuted resolves an in-flight command as executed.
	MarkExecuted(ctx context.Context, id, response string, at time.Time) error

	// MarkFailed resolves an in-flight command as failed, recording
	// the error and incrementing the retry count.
	MarkFailed(ctx context.Context, id, errMsg string, at time.Time) error

	// Retry moves a failed command back to pending with
	// scheduled_for = now. Fails with ErrRetryExhausted when the retry
	// budget is spent, ErrInvalidTransition when the command is not failed.
	Retry(ctx context.Context, id string, now time.Time) error

	// Cancel cancels a pending command. Any other state fails with
	// ErrInvalidTransition.
	Cancel(ctx context.Context, id string) error

	// ListPending returns pending commands, highest priority first.
	// An empty deviceID means all devices.
	ListPending(ctx context.Context, deviceID string) ([]Command, error)

	// ListHistory returns resolved or cancelled commands created at or
	// after since, newest first. An empty deviceID means all devices.
	ListHistory(ctx context.Context, deviceID string, since time.Time, limit int) ([]Command, error)

	// CountByStatus returns command counts grouped by status.
	CountByStatus(ctx context.Context) (map[Status]int, error)
}

// SQLiteStore implements Store backed by SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a store using the given database handle.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

const commandColumns = `id, device_id, kind, issuer, priority, status, scheduled_for,
	executed_at, retry_count, max_retries, last_error, response, metadata,
	created_at, updated_at`

// priorityOrder sorts critical before high before normal before low,
// oldest first within a level. Keep in sync with Priority.Rank.
const priorityOrder = `
	CASE priority
		WHEN 'critical' THEN 3
		WHEN 'high' THEN 2
		WHEN 'normal' THEN 1
		ELSE 0
	END DESC, created_at ASC`

func (s *SQLiteStore) Insert(ctx context.Context, c *Command) error {
	metadata, err := marshalMetadata(c.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO commands (` + commandColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		c.ID,
		c.DeviceID,
		string(c.Kind),
		c.Issuer,
		string(c.Priority),
		string(c.Status),
		formatTime(c.ScheduledFor),
		nullableTime(c.ExecutedAt),
		c.RetryCount,
		c.MaxRetries,
		c.LastError,
		c.Response,
		metadata,
		formatTime(c.CreatedAt),
		formatTime(c.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting command: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetByID(ctx context.Context, id string) (*Command, error) {
	query := `SELECT ` + commandColumns + ` FROM commands WHERE id = ?`

	c, err := scanCommand(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCommandNotFound
		}
		return nil, fmt.Errorf("querying command: %w", err)
	}
	return c, nil
}

func (s *SQLiteStore) ClaimPending(ctx context.Context, deviceID string, limit int, now time.Time) ([]Command, error) {
	// Candidate selection and the claim itself are separate statements,
	// so each candidate is taken with a conditional update keyed on the
	// pending status. A concurrent claimer that wins the race leaves
	// RowsAffected at zero and we simply move on.
	query := `
		SELECT id FROM commands
		WHERE device_id = ? AND status = ? AND scheduled_for <= ?
		ORDER BY ` + priorityOrder + `
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, deviceID, string(StatusPending), formatTime(now), limit)
	if err != nil {
		return nil, fmt.Errorf("selecting claim candidates: %w", err)
	}

	var candidates []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning claim candidate: %w", err)
		}
		candidates = append(candidates, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterating claim candidates: %w", err)
	}
	rows.Close()

	claim := `
		UPDATE commands
		SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`
	var claimed []Command
	for _, id := range candidates {
		result, err := s.db.ExecContext(ctx, claim,
			string(StatusInFlight), formatTime(now), id, string(StatusPending))
		if err != nil {
			return claimed, fmt.Errorf("claiming command %s: %w", id, err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return claimed, fmt.Errorf("claiming command %s: %w", id, err)
		}
		if affected == 0 {
			continue // lost the race to another claimer
		}

		c, err := s.GetByID(ctx, id)
		if err != nil {
			return claimed, err
		}
		claimed = append(claimed, *c)
	}
	return claimed, nil
}

func (s *SQLiteStore) MarkExecuted(ctx context.Context, id, response string, at time.Time) error {
	query := `
		UPDATE commands
		SET status = ?, response = ?, executed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`
	result, err := s.db.ExecContext(ctx, query,
		string(StatusExecuted), response, formatTime(at), formatTime(at), id, string(StatusInFlight))
	if err != nil {
		return fmt.Errorf("marking command executed: %w", err)
	}
	return s.checkTransition(ctx, result, id, func(*Command) error {
		return fmt.Errorf("%w: only in-flight commands can be executed", ErrInvalidTransition)
	})
}

func (s *SQLiteStore) MarkFailed(ctx context.Context, id, errMsg string, at time.Time) error {
	query := `
		UPDATE commands
		SET status = ?, last_error = ?, retry_count = retry_count + 1, updated_at = ?
		WHERE id = ? AND status = ?
	`
	result, err := s.db.ExecContext(ctx, query,
		string(StatusFailed), errMsg, formatTime(at), id, string(StatusInFlight))
	if err != nil {
		return fmt.Errorf("marking command failed: %w", err)
	}
	return s.checkTransition(ctx, result, id, func(*Command) error {
		return fmt.Errorf("%w: only in-flight commands can fail", ErrInvalidTransition)
	})
}

func (s *SQLiteStore) Retry(ctx context.Context, id string, now time.Time) error {
	query := `
		UPDATE commands
		SET status = ?, scheduled_for = ?, last_error = '', updated_at = ?
		WHERE id = ? AND status = ? AND retry_count < max_retries
	`
	result, err := s.db.ExecContext(ctx, query,
		string(StatusPending), formatTime(now), formatTime(now), id, string(StatusFailed))
	if err != nil {
		return fmt.Errorf("retrying command: %w", err)
	}
	return s.checkTransition(ctx, result, id, func(c *Command) error {
		if c.Status == StatusFailed && c.RetryCount >= c.MaxRetries {
			return fmt.Errorf("%w: %d of %d retries used", ErrRetryExhausted, c.RetryCount, c.MaxRetries)
		}
		return fmt.Errorf("%w: only failed commands can be retried", ErrInvalidTransition)
	})
}

func (s *SQLiteStore) Cancel(ctx context.Context, id string) error {
	query := `
		UPDATE commands
		SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`
	result, err := s.db.ExecContext(ctx, query,
		string(StatusCancelled), formatTime(time.Now()), id, string(StatusPending))
	if err != nil {
		return fmt.Errorf("cancelling command: %w", err)
	}
	return s.checkTransition(ctx, result, id, func(*Command) error {
		return fmt.Errorf("%w: only pending commands can be cancelled", ErrInvalidTransition)
	})
}

func (s *SQLiteStore) ListPending(ctx context.Context, deviceID string) ([]Command, error) {
	query := `SELECT ` + commandColumns + ` FROM commands WHERE status = ?`
	args := []any{string(StatusPending)}
	if deviceID != "" {
		query += ` AND device_id = ?`
		args = append(args, deviceID)
	}
	query += ` ORDER BY ` + priorityOrder

	return s.queryCommands(ctx, query, args...)
}

func (s *SQLiteStore) ListHistory(ctx context.Context, deviceID string, since time.Time, limit int) ([]Command, error) {
	query := `
		SELECT ` + commandColumns + ` FROM commands
		WHERE status IN (?, ?, ?) AND created_at >= ?
	`
	args := []any{string(StatusExecuted), string(StatusFailed), string(StatusCancelled), formatTime(since)}
	if deviceID != "" {
		query += ` AND device_id = ?`
		args = append(args, deviceID)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	return s.queryCommands(ctx, query, args...)
}

func (s *SQLiteStore) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM commands GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("counting commands: %w", err)
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scanning command count: %w", err)
		}
		counts[Status(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating command counts: %w", err)
	}
	return counts, nil
}

// checkTransition inspects the result of a guarded update. When no row
// changed, the command is fetched to distinguish a missing command from
// a state that does not permit the transition.
func (s *SQLiteStore) checkTransition(ctx context.Context, result sql.Result, id string, classify func(*Command) error) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking transition: %w", err)
	}
	if affected > 0 {
		return nil
	}

	c, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return classify(c)
}

func (s *SQLiteStore) queryCommands(ctx context.Context, query string, args ...any) ([]Command, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying commands: %w", err)
	}
	defer rows.Close()

	var commands []Command
	for rows.Next() {
		c, err := scanCommand(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning command: %w", err)
		}
		commands = append(commands, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating commands: %w", err)
	}
	return commands, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for shared scanning.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanCommand(row rowScanner) (*Command, error) {
	var c Command
	var kind, priority, status string
	var scheduledFor, createdAt, updatedAt string
	var executedAt, metadata sql.NullString

	err := row.Scan(
		&c.ID,
		&c.DeviceID,
		&kind,
		&c.Issuer,
		&priority,
		&status,
		&scheduledFor,
		&executedAt,
		&c.RetryCount,
		&c.MaxRetries,
		&c.LastError,
		&c.Response,
		&metadata,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.Kind = Kind(kind)
	c.Priority = Priority(priority)
	c.Status = Status(status)

	if c.ScheduledFor, err = parseTime(scheduledFor); err != nil {
		return nil, fmt.Errorf("parsing scheduled_for: %w", err)
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	if executedAt.Valid {
		t, err := parseTime(executedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing executed_at: %w", err)
		}
		c.ExecutedAt = &t
	}

	if metadata.Valid && metadata.String != "" && metadata.String != "{}" {
		if err := json.Unmarshal([]byte(metadata.String), &c.Metadata); err != nil {
			return nil, fmt.Errorf("decoding command metadata: %w", err)
		}
	}
	return &c, nil
}

// marshalMetadata encodes metadata for storage. The column is NOT NULL,
// so an empty map stores as an empty JSON object.
func marshalMetadata(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encoding command metadata: %w", err)
	}
	return string(data), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(database.TimeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}
