package storage

import (
	"context"
	"errors"
	"strings"

	logx "chatblast/pkg/logx"
)

// Store is the audit API used by the ledger and the CLI summary.
type Store interface {
	AppendOutcome(ctx context.Context, e OutcomeEntry) error
	// Outcomes totals the entries recorded for runID ("" totals everything).
	Outcomes(ctx context.Context, runID string) (Totals, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
