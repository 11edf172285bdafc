// Package influxdb mirrors telemetry readings and queue gauges into
// InfluxDB for dashboards and long-range trend analysis.
//
// SQLite remains the operational source of truth; this mirror is best
// effort. Points are batched by the underlying non-blocking write API
// and asynchronous write failures are logged, never propagated to the
// ingest path. When InfluxDB is disabled in configuration, Connect
// returns ErrDisabled and the rest of the system runs without it.
package influxdb
