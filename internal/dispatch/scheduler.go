// Package dispatch drives a run: batches go to workers from one shared queue,
// each worker sends to its contacts strictly one at a time with a fixed delay
// after every attempt, and a worker's session is recycled between batches.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"chatblast/internal/contacts"
	"chatblast/internal/eventbus"
	"chatblast/internal/ledger"
	"chatblast/internal/messaging"
	"chatblast/internal/runtime/supervisor"
	"chatblast/internal/session"
	logx "chatblast/pkg/logx"

	"golang.org/x/time/rate"
)

var ErrSendFailure = errors.New("send failed")

// FailurePolicy decides what a failed send does to the contact's status.
type FailurePolicy string

const (
	// PolicyMarkFailed marks the contact Failed and persists it, so later
	// runs skip it.
	PolicyMarkFailed FailurePolicy = "mark_failed"
	// PolicyLeaveRetryable leaves the contact Not Sent for a later run.
	PolicyLeaveRetryable FailurePolicy = "leave_retryable"
)

type Config struct {
	Delay         time.Duration
	ChatSuffix    string
	FailurePolicy FailurePolicy
	// SendTimeout bounds one send; 0 waits as long as the session does.
	SendTimeout time.Duration
	// MaxPerSecond caps sends across all workers; 0 disables the cap.
	MaxPerSecond float64
}

func (c Config) normalize() (Config, error) {
	if c.Delay < 0 {
		return c, fmt.Errorf("%w: dispatch.delay must not be negative", contacts.ErrInvalidConfiguration)
	}
	if strings.TrimSpace(c.ChatSuffix) == "" {
		c.ChatSuffix = "@c.us"
	}
	switch c.FailurePolicy {
	case "":
		c.FailurePolicy = PolicyMarkFailed
	case PolicyMarkFailed, PolicyLeaveRetryable:
	default:
		return c, fmt.Errorf("%w: unknown failure policy %q", contacts.ErrInvalidConfiguration, c.FailurePolicy)
	}
	if c.SendTimeout < 0 || c.MaxPerSecond < 0 {
		return c, fmt.Errorf("%w: send_timeout and max_per_second must not be negative", contacts.ErrInvalidConfiguration)
	}
	return c, nil
}

// Recorder is the part of the ledger the scheduler writes to.
type Recorder interface {
	RecordOutcome(ctx context.Context, c contacts.Contact, outcome ledger.Outcome, worker int, sendErr error) error
	Enqueue(updated []contacts.Contact) <-chan error
}

// Restarter recycles a worker's session.
type Restarter interface {
	Restart(ctx context.Context, w *session.Worker) error
}

type Option func(*Scheduler)

func WithBus(bus eventbus.Bus) Option   { return func(s *Scheduler) { s.bus = bus } }
func WithLogger(log logx.Logger) Option { return func(s *Scheduler) { s.log = log } }

// WithSleep replaces the inter-message wait; tests use it to observe delays.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Scheduler) { s.sleep = fn }
}

type Scheduler struct {
	rec   Recorder
	pool  Restarter
	bus   eventbus.Bus
	log   logx.Logger
	sleep func(ctx context.Context, d time.Duration) error

	mu      sync.RWMutex
	cfg     Config
	limiter *rate.Limiter
}

func New(cfg Config, rec Recorder, pool Restarter, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		rec:     rec,
		pool:    pool,
		sleep:   sleepCtx,
		limiter: rate.NewLimiter(rate.Inf, 1),
	}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	s.log = s.log.With(logx.String("comp", "dispatch"))
	if err := s.Apply(cfg); err != nil {
		return nil, err
	}
	return s, nil
}

// Apply swaps pacing settings; running workers pick them up on their next
// contact.
func (s *Scheduler) Apply(cfg Config) error {
	cfg, err := cfg.normalize()
	if err != nil {
		return err
	}
	limit := rate.Inf
	if cfg.MaxPerSecond > 0 {
		limit = rate.Limit(cfg.MaxPerSecond)
	}

	s.mu.Lock()
	s.cfg = cfg
	s.limiter.SetLimit(limit)
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

func (s *Scheduler) emit(typ string, data any) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Data: data})
	}
}

// Run distributes batches over workers and returns once every worker has
// drained the queue and every queued status merge has resolved. When ctx is
// cancelled workers stop after their in-flight send and Run returns ctx.Err()
// along with the partial summary.
func (s *Scheduler) Run(ctx context.Context, workers []*session.Worker, batches []contacts.Batch, msg messaging.Message) (Summary, error) {
	if len(workers) == 0 {
		return Summary{}, fmt.Errorf("%w: no workers", contacts.ErrInvalidConfiguration)
	}
	if err := msg.Validate(); err != nil {
		return Summary{}, fmt.Errorf("%w: %w", contacts.ErrInvalidConfiguration, err)
	}

	start := time.Now()
	q := newBatchQueue(batches)
	acc := newTally(len(batches), workers)

	s.log.Info("run started", logx.Int("workers", len(workers)), logx.Int("batches", len(batches)), logx.String("msg", msg.Summary()))

	sup := supervisor.New(ctx, supervisor.WithLogger(s.log))
	for _, w := range workers {
		w := w
		sup.Go(w.String(), func(ctx context.Context) error {
			return s.work(ctx, w, q, msg, acc)
		})
	}
	if err := sup.Wait(context.Background()); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Error("worker stopped abnormally", logx.Err(err))
	}

	acc.settle(s.log)
	sum := acc.summary(time.Since(start))
	sum.Interrupted = ctx.Err() != nil
	s.emit(EventDone, sum)
	s.log.Info("run finished",
		logx.Int("sent", sum.Sent),
		logx.Int("failed", sum.Failed),
		logx.Int("restarts", sum.Restarts),
		logx.Duration("took", sum.Took),
		logx.Bool("interrupted", sum.Interrupted),
	)
	if sum.Interrupted {
		return sum, ctx.Err()
	}
	return sum, nil
}

func (s *Scheduler) work(ctx context.Context, w *session.Worker, q *batchQueue, msg messaging.Message, acc *tally) error {
	b, ok := q.pop()
	for ok {
		w.SetState(session.StateBusy)
		s.emit(EventBatchAssigned, BatchAssigned{Worker: w.ID(), Seq: b.Seq, Size: b.Len(), Remaining: q.remaining()})
		acc.assigned(w.ID(), b.Seq)
		s.log.Info("batch assigned", logx.Int("worker", w.ID()), logx.Int("seq", b.Seq), logx.Int("size", b.Len()))

		if err := s.sendBatch(ctx, w, b, msg, acc); err != nil {
			w.SetState(session.StateIdle)
			return err
		}
		w.SetState(session.StateIdle)

		// Recycle only while work remains. The next batch stays queued during
		// the restart so an idle worker can take it.
		if q.remaining() == 0 {
			break
		}
		err := s.pool.Restart(ctx, w)
		ev := WorkerRestarted{Worker: w.ID(), OK: err == nil}
		if err != nil {
			ev.Err = err.Error()
			s.log.Warn("continuing on stale session", logx.Int("worker", w.ID()), logx.Err(err))
		}
		acc.restarted(w.ID(), err == nil)
		s.emit(EventWorkerRestarted, ev)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b, ok = q.pop()
	}
	w.SetState(session.StateDraining)
	s.emit(EventWorkerIdle, WorkerIdle{Worker: w.ID(), Batches: acc.batchesOf(w.ID())})
	s.log.Info("worker idle; no batches left", logx.Int("worker", w.ID()))
	return nil
}

func (s *Scheduler) sendBatch(ctx context.Context, w *session.Worker, b contacts.Batch, msg messaging.Message, acc *tally) error {
	for _, c := range b.Contacts {
		if err := ctx.Err(); err != nil {
			return err
		}
		cfg := s.config()
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}

		target := c.NormalizedPhone + cfg.ChatSuffix
		err := s.send(ctx, cfg, w, c, target, msg)
		if err != nil && ctx.Err() != nil {
			// Interrupted mid-send: the outcome is unknown, leave the contact as is.
			return ctx.Err()
		}

		ev := OutcomeEvent{Worker: w.ID(), Seq: b.Seq, Contact: c.FullName(), Target: target}
		if err == nil {
			c.Status = contacts.StatusSent
			ev.Outcome = ledger.OutcomeSent
			s.record(ctx, w, c, ledger.OutcomeSent, nil, true, acc)
			s.log.Info("message sent", logx.Int("worker", w.ID()), logx.String("contact", c.FullName()))
		} else {
			persist := cfg.FailurePolicy == PolicyMarkFailed
			if persist {
				c.Status = contacts.StatusFailed
			}
			ev.Outcome = ledger.OutcomeFailed
			ev.Err = err.Error()
			s.record(ctx, w, c, ledger.OutcomeFailed, err, persist, acc)
			s.log.Warn("message failed", logx.Int("worker", w.ID()), logx.String("contact", c.FullName()), logx.Err(err))
		}
		s.emit(EventOutcome, ev)

		if err := s.sleep(ctx, cfg.Delay); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) send(ctx context.Context, cfg Config, w *session.Worker, c *contacts.Contact, target string, msg messaging.Message) error {
	if !c.Dialable() {
		return fmt.Errorf("%w: %s: invalid phone number %q", ErrSendFailure, c.FullName(), c.Phone)
	}
	sess := w.Session()
	if sess == nil {
		return fmt.Errorf("%w: %s: worker has no session", ErrSendFailure, target)
	}
	if cfg.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.SendTimeout)
		defer cancel()
	}
	if err := sess.SendMessage(ctx, target, msg); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSendFailure, target, err)
	}
	return nil
}

func (s *Scheduler) record(ctx context.Context, w *session.Worker, c *contacts.Contact, outcome ledger.Outcome, sendErr error, persist bool, acc *tally) {
	acc.outcome(w.ID(), outcome)
	// Log rows survive an interrupted run.
	if err := s.rec.RecordOutcome(context.WithoutCancel(ctx), *c, outcome, w.ID(), sendErr); err != nil {
		s.log.Error("record outcome", logx.String("contact", c.FullName()), logx.Err(err))
	}
	if persist {
		acc.pending(s.rec.Enqueue([]contacts.Contact{*c}))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
