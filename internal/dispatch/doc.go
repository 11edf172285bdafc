// Package dispatch contains the background loops that move work to the
// field: the Scheduler claims pending commands per device and hands
// them to an Executor, and the HealthMonitor detects devices gone
// silent. Both run on tickers with an explicit Start/Stop lifecycle
// tied to process startup and shutdown.
//
// The Scheduler never waits on the Executor inside its tick: each
// device's dispatch runs in its own goroutine, and a device whose
// dispatch is still running is left alone until it resolves.
package dispatch
