package app

import (
	"context"
	"fmt"

	"chatblast/internal/dispatch"
	"chatblast/internal/eventbus"
	"chatblast/internal/ledger"
	"chatblast/pkg/systemd"
)

type batchKey struct{ worker, seq int }

// statusReporter turns dispatch events into a systemd STATUS= line each time
// a batch completes.
type statusReporter struct {
	sd *systemd.Notifier

	sizes  map[batchKey]int
	seen   map[batchKey]int
	done   int
	total  int
	sent   int
	failed int
}

func newStatusReporter(sd *systemd.Notifier) *statusReporter {
	return &statusReporter{sd: sd, sizes: map[batchKey]int{}, seen: map[batchKey]int{}}
}

func (r *statusReporter) Watch(bus eventbus.Bus) func(ctx context.Context) {
	ch, unsub := bus.Subscribe(256)
	return func(ctx context.Context) {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-ch:
				if !ok {
					return
				}
				if r.handle(e) {
					return
				}
			}
		}
	}
}

// handle updates counters and reports true once the run is done.
func (r *statusReporter) handle(e eventbus.Event) bool {
	switch ev := e.Data.(type) {
	case dispatch.BatchAssigned:
		k := batchKey{ev.Worker, ev.Seq}
		r.sizes[k] = ev.Size
		if t := r.done + len(r.sizes) + ev.Remaining; t > r.total {
			r.total = t
		}
		r.complete(k, ev.Worker)
	case dispatch.OutcomeEvent:
		if ev.Outcome == ledger.OutcomeSent {
			r.sent++
		} else {
			r.failed++
		}
		k := batchKey{ev.Worker, ev.Seq}
		r.seen[k]++
		r.complete(k, ev.Worker)
	case dispatch.Summary:
		_, _ = r.sd.Status(fmt.Sprintf("run finished: sent=%d failed=%d interrupted=%t", ev.Sent, ev.Failed, ev.Interrupted))
		return e.Type == dispatch.EventDone
	}
	return false
}

func (r *statusReporter) complete(k batchKey, worker int) {
	size, ok := r.sizes[k]
	if !ok || r.seen[k] < size {
		return
	}
	delete(r.sizes, k)
	delete(r.seen, k)
	r.done++
	_, _ = r.sd.Status(fmt.Sprintf("batch %d done on worker-%d (%d/%d); sent=%d failed=%d", k.seq, worker, r.done, r.total, r.sent, r.failed))
}
