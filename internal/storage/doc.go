// Package storage keeps an optional audit trail of per-contact outcomes,
// across runs, next to the sent/failed CSV logs.
//
// Drivers:
//   - "file": append-only JSON Lines
//   - "sqlite": SQLite database (modernc.org/sqlite, no cgo)
package storage
