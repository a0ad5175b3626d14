package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// OutcomeEntry records one delivery attempt.
type OutcomeEntry struct {
	RunID   string    `json:"run_id"`
	At      time.Time `json:"at"`
	Worker  int       `json:"worker"`
	Name    string    `json:"name"`
	Phone   string    `json:"phone"`
	Outcome string    `json:"outcome"` // "sent" | "failed"
	Error   string    `json:"err,omitempty"`
}

// Totals aggregates outcomes of one run.
type Totals struct {
	Sent   int
	Failed int
}

func (t *Totals) add(outcome string) {
	switch outcome {
	case "sent":
		t.Sent++
	case "failed":
		t.Failed++
	}
}
