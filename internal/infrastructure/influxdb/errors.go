package influxdb

import "errors"

var (
	// ErrDisabled is returned by Connect when InfluxDB is disabled in
	// configuration. Callers should treat this as "run without the
	// time-series mirror", not a failure.
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	// ErrConnectionFailed is returned when the initial health check fails.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrNotConnected is returned for operations on a closed client.
	ErrNotConnected = errors.New("influxdb: client not connected")
)
