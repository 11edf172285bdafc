package telemetry

import "errors"

var (
	// ErrInvalidReading indicates a reading with values outside the
	// physically plausible ranges accepted at ingest.
	ErrInvalidReading = errors.New("telemetry: invalid reading")

	// ErrReadingNotFound indicates no reading matched the query.
	ErrReadingNotFound = errors.New("telemetry: reading not found")
)
