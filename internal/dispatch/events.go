package dispatch

import "chatblast/internal/ledger"

// Event types published on the bus during a run.
const (
	EventBatchAssigned   = "dispatch.batch_assigned"
	EventOutcome         = "dispatch.outcome"
	EventWorkerRestarted = "dispatch.worker_restarted"
	EventWorkerIdle      = "dispatch.worker_idle"
	EventDone            = "dispatch.done" // Data: Summary
)

type BatchAssigned struct {
	Worker    int
	Seq       int
	Size      int
	Remaining int
}

type OutcomeEvent struct {
	Worker  int
	Seq     int
	Contact string
	Target  string
	Outcome ledger.Outcome
	Err     string
}

type WorkerRestarted struct {
	Worker int
	OK     bool
	Err    string
}

type WorkerIdle struct {
	Worker  int
	Batches int
}
