package notifier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"chatblast/internal/dispatch"
	"chatblast/internal/eventbus"
	logx "chatblast/pkg/logx"
)

// WatchRuns subscribes to the bus and returns a loop that sends one summary
// per finished run. The loop exits on ctx or after the first EventDone.
func (s *Service) WatchRuns(bus eventbus.Bus, runID string) func(ctx context.Context) {
	ch, unsub := bus.Subscribe(64)
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
				if e.Type != dispatch.EventDone {
					continue
				}
				sum, _ := e.Data.(dispatch.Summary)
				if err := s.Notify(context.WithoutCancel(ctx), FormatSummary(runID, sum)); err != nil {
					s.log.Debug("run summary not queued", logx.Err(err))
				}
				return
			}
		}
	}
}

// FormatSummary renders a run summary for the operator chat.
func FormatSummary(runID string, sum dispatch.Summary) string {
	var b strings.Builder
	switch {
	case sum.Interrupted:
		b.WriteString("chatblast run interrupted")
	case sum.Failed > 0 || sum.RestartFailures > 0 || sum.PersistFailures > 0:
		b.WriteString("chatblast run finished with failures")
	default:
		b.WriteString("chatblast run finished")
	}
	if runID != "" {
		fmt.Fprintf(&b, " (%s)", runID)
	}
	fmt.Fprintf(&b, "\n- sent=%d failed=%d batches=%d", sum.Sent, sum.Failed, sum.Batches)
	fmt.Fprintf(&b, "\n- restarts=%d restart_failures=%d", sum.Restarts, sum.RestartFailures)
	if sum.PersistFailures > 0 {
		fmt.Fprintf(&b, "\n- persist_failures=%d", sum.PersistFailures)
	}
	fmt.Fprintf(&b, "\n- took=%s", sum.Took.Round(time.Second))
	for _, w := range sum.Workers {
		fmt.Fprintf(&b, "\n- worker-%d: batches=%d sent=%d failed=%d", w.Worker, len(w.Batches), w.Sent, w.Failed)
	}
	return b.String()
}
