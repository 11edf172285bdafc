package telemetry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/grainwatch/granary-core/internal/infrastructure/database"
)

// Repository persists telemetry readings.
type Repository interface {
	// Insert stores a new reading.
	Insert(ctx context.Context, r *Reading) error

	// Latest returns the most recent reading for a device, or
	// ErrReadingNotFound when the device has never reported.
	Latest(ctx context.Context, deviceID string) (*Reading, error)

	// ListByDevice returns readings for a device recorded at or after
	// since, newest first, capped at limit.
	ListByDevice(ctx context.Context, deviceID string, since time.Time, limit int) ([]Reading, error)
}

// SQLiteRepository implements Repository backed by SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository using the given database handle.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const readingColumns = `id, device_id, temperature, humidity, gas_level, status, recorded_at, created_at`

func (r *SQLiteRepository) Insert(ctx context.Context, reading *Reading) error {
	query := `
		INSERT INTO readings (` + readingColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		reading.ID,
		reading.DeviceID,
		reading.Temperature,
		reading.Humidity,
		reading.GasLevel,
		string(reading.Status),
		formatTime(reading.RecordedAt),
		formatTime(reading.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting reading: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Latest(ctx context.Context, deviceID string) (*Reading, error) {
	query := `
		SELECT ` + readingColumns + `
		FROM readings
		WHERE device_id = ?
		ORDER BY recorded_at DESC
		LIMIT 1
	`
	reading, err := scanReading(r.db.QueryRowContext(ctx, query, deviceID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrReadingNotFound
		}
		return nil, fmt.Errorf("querying latest reading: %w", err)
	}
	return reading, nil
}

func (r *SQLiteRepository) ListByDevice(ctx context.Context, deviceID string, since time.Time, limit int) ([]Reading, error) {
	query := `
		SELECT ` + readingColumns + `
		FROM readings
		WHERE device_id = ? AND recorded_at >= ?
		ORDER BY recorded_at DESC
		LIMIT ?
	`
	rows, err := r.db.QueryContext(ctx, query, deviceID, formatTime(since), limit)
	if err != nil {
		return nil, fmt.Errorf("querying readings: %w", err)
	}
	defer rows.Close()

	var readings []Reading
	for rows.Next() {
		reading, err := scanReading(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning reading: %w", err)
		}
		readings = append(readings, *reading)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating readings: %w", err)
	}
	return readings, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for shared scanning.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanReading(row rowScanner) (*Reading, error) {
	var reading Reading
	var status, recordedAt, createdAt string

	err := row.Scan(
		&reading.ID,
		&reading.DeviceID,
		&reading.Temperature,
		&reading.Humidity,
		&reading.GasLevel,
		&status,
		&recordedAt,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}
	reading.Status = Status(status)

	if reading.RecordedAt, err = time.Parse(time.RFC3339Nano, recordedAt); err != nil {
		return nil, fmt.Errorf("parsing recorded_at: %w", err)
	}
	if reading.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &reading, nil
}

// formatTime encodes a time for storage. Readings are range-queried and
// ordered on recorded_at, so the fixed-width layout keeps string
// comparison chronological.
func formatTime(t time.Time) string {
	return t.UTC().Format(database.TimeLayout)
}
