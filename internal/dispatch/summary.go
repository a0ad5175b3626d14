package dispatch

import (
	"sort"
	"sync"
	"time"

	"chatblast/internal/ledger"
	"chatblast/internal/session"
	logx "chatblast/pkg/logx"
)

// Summary describes a finished (or interrupted) run.
type Summary struct {
	Batches         int
	Sent            int
	Failed          int
	Restarts        int
	RestartFailures int
	PersistFailures int
	Interrupted     bool
	Took            time.Duration
	Workers         []WorkerSummary
}

type WorkerSummary struct {
	Worker   int
	Batches  []int // batch sequence numbers in the order processed
	Sent     int
	Failed   int
	Restarts int
}

// tally accumulates per-worker counters while workers run.
type tally struct {
	mu      sync.Mutex
	batches int
	workers map[int]*WorkerSummary
	order   []int
	waits   []<-chan error

	restartFailures int
	persistFailures int
}

func newTally(batches int, workers []*session.Worker) *tally {
	t := &tally{batches: batches, workers: make(map[int]*WorkerSummary, len(workers))}
	for _, w := range workers {
		t.workers[w.ID()] = &WorkerSummary{Worker: w.ID()}
		t.order = append(t.order, w.ID())
	}
	sort.Ints(t.order)
	return t
}

func (t *tally) assigned(worker, seq int) {
	t.mu.Lock()
	t.workers[worker].Batches = append(t.workers[worker].Batches, seq)
	t.mu.Unlock()
}

func (t *tally) batchesOf(worker int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.workers[worker].Batches)
}

func (t *tally) outcome(worker int, o ledger.Outcome) {
	t.mu.Lock()
	if o == ledger.OutcomeSent {
		t.workers[worker].Sent++
	} else {
		t.workers[worker].Failed++
	}
	t.mu.Unlock()
}

func (t *tally) restarted(worker int, ok bool) {
	t.mu.Lock()
	if ok {
		t.workers[worker].Restarts++
	} else {
		t.restartFailures++
	}
	t.mu.Unlock()
}

func (t *tally) pending(ch <-chan error) {
	t.mu.Lock()
	t.waits = append(t.waits, ch)
	t.mu.Unlock()
}

// settle waits for every queued status merge. It returns the failure count.
func (t *tally) settle(log logx.Logger) int {
	t.mu.Lock()
	waits := t.waits
	t.waits = nil
	t.mu.Unlock()

	failed := 0
	for _, ch := range waits {
		if err := <-ch; err != nil {
			failed++
			log.Error("status persistence failed", logx.Err(err))
		}
	}
	t.mu.Lock()
	t.persistFailures += failed
	t.mu.Unlock()
	return failed
}

func (t *tally) summary(took time.Duration) Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := Summary{
		Batches:         t.batches,
		RestartFailures: t.restartFailures,
		PersistFailures: t.persistFailures,
		Took:            took,
	}
	for _, id := range t.order {
		w := *t.workers[id]
		w.Batches = append([]int(nil), w.Batches...)
		s.Sent += w.Sent
		s.Failed += w.Failed
		s.Restarts += w.Restarts
		s.Workers = append(s.Workers, w)
	}
	return s
}
