// Package database provides SQLite connection management for Granary Core.
//
// This package wraps database/sql with:
//   - Connection setup (WAL mode, busy timeout, foreign keys)
//   - Embedded schema migrations with per-migration transactions
//   - Health checks for the readiness endpoint
//   - Single-writer pool configuration suited to SQLite
//
// The command queue, device registry, and telemetry readings all persist
// through this package. The busy timeout matters here: the dispatch
// scheduler, health monitor, and request handlers contend for the single
// writer, and a zero timeout would surface as spurious "database is locked"
// errors under load.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: "./data/granary.db", WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
