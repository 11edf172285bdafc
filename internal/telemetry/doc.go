// Package telemetry implements the reading ingest pipeline and the
// threshold evaluator.
//
// The evaluator is a pure function classifying each reading as normal,
// warning, or critical against hard safety ceilings for stored grain.
// Per-device comfort bands do not affect classification; they drive the
// auto-control loop in the control package instead.
//
// The Service chains the full pipeline for one reading: validation,
// device lookup, evaluation, persistence (SQLite plus an optional
// time-series mirror), device liveness tracking, auto-control, and
// alert emission.
package telemetry
