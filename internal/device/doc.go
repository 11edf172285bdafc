// Package device implements the device registry for Granary Core.
//
// A device is a sensor/actuator unit mounted inside a grain-storage
// enclosure: it reports temperature, humidity, and gas readings, and
// accepts fan, pump, and buzzer commands. The registry owns device
// identity, connectivity status, and per-device control configuration
// (thresholds, sampling interval, auto-control switches).
//
// # Architecture
//
// The package follows a two-layer design:
//
//   - Repository: persistence interface with a SQLite implementation
//   - Registry: thread-safe cached facade over a Repository
//
// The Registry cache exists because the dispatch scheduler and health
// monitor enumerate devices every cycle; those reads must not hit the
// database. All cached devices are copied on the way in and out, so
// callers can never mutate shared state.
//
// # Status transitions
//
// Device status is {online, offline, maintenance}. This core triggers
// two transitions itself: the health monitor marks silent devices
// offline, and the ingest path marks an offline device online again
// when telemetry resumes. Maintenance is operator-set and excludes the
// device from health checks and emergency dispatch.
package device
