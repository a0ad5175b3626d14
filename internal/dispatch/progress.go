package dispatch

import (
	"context"
	"sync/atomic"

	"chatblast/internal/eventbus"
	"chatblast/internal/ledger"
	logx "chatblast/pkg/logx"
)

// Progress logs a running count of sent messages from outcome events.
type Progress struct {
	log    logx.Logger
	sent   atomic.Int64
	failed atomic.Int64
}

func NewProgress(log logx.Logger) *Progress {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Progress{log: log.With(logx.String("comp", "progress"))}
}

func (p *Progress) Sent() int64   { return p.sent.Load() }
func (p *Progress) Failed() int64 { return p.failed.Load() }

// Watch subscribes right away and returns the loop that consumes events
// until ctx ends or EventDone arrives. Events published after Watch returns
// are never missed.
func (p *Progress) Watch(bus eventbus.Bus) func(ctx context.Context) {
	ch, unsub := bus.Subscribe(256)
	return func(ctx context.Context) {
		defer unsub()
		p.consume(ctx, ch)
	}
}

func (p *Progress) consume(ctx context.Context, ch <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			switch e.Type {
			case EventOutcome:
				ev, _ := e.Data.(OutcomeEvent)
				if ev.Outcome == ledger.OutcomeSent {
					n := p.sent.Add(1)
					p.log.Info("progress", logx.Int64("sent", n), logx.Int64("failed", p.failed.Load()))
				} else {
					p.failed.Add(1)
				}
			case EventDone:
				return
			}
		}
	}
}
