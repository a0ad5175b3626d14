// Package maintenance periodically clears accumulated client state
// (storage, cookies, permission overrides) on every live worker session.
package maintenance

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"chatblast/internal/runtime/supervisor"
	"chatblast/internal/session"
	logx "chatblast/pkg/logx"

	"github.com/robfig/cron/v3"
)

type Config struct {
	Enabled  bool
	Schedule string        // default "@every 5m"
	Timeout  time.Duration // per worker; 0 means 1m
}

func (c Config) withDefaults() Config {
	if c.Schedule == "" {
		c.Schedule = "@every 5m"
	}
	if c.Timeout <= 0 {
		c.Timeout = time.Minute
	}
	return c
}

// Workers lists the sessions to sweep. *session.Pool satisfies it.
type Workers interface {
	Workers() []*session.Worker
}

// Result counts one sweep.
type Result struct {
	Cleared int
	Failed  int
	Skipped int
}

type Sweeper struct {
	src Workers
	log logx.Logger

	mu      sync.Mutex
	cfg     Config
	c       *cron.Cron
	entry   cron.EntryID
	baseCtx context.Context

	sweeps atomic.Uint64
}

func New(cfg Config, src Workers, log logx.Logger) (*Sweeper, error) {
	cfg = cfg.withDefaults()
	if _, err := ParseSchedule(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("maintenance.schedule: %w", err)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sweeper{cfg: cfg, src: src, log: log.With(logx.String("comp", "maintenance"))}, nil
}

// Sweeps returns how many sweeps have completed.
func (s *Sweeper) Sweeps() uint64 { return s.sweeps.Load() }

// Start registers the sweep on the cron and starts it. No-op when disabled.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	s.baseCtx = ctx
	s.c = cron.New(cron.WithParser(parser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if err := s.scheduleLocked(); err != nil {
		s.c = nil
		return err
	}
	s.c.Start()
	return nil
}

func (s *Sweeper) scheduleLocked() error {
	if s.entry != 0 {
		s.c.Remove(s.entry)
		s.entry = 0
	}
	if !s.cfg.Enabled {
		s.log.Info("maintenance disabled")
		return nil
	}
	sched, err := ParseSchedule(s.cfg.Schedule)
	if err != nil {
		return err
	}
	ctx := s.baseCtx
	s.entry = s.c.Schedule(sched, cron.FuncJob(func() { s.Sweep(ctx) }))
	s.log.Info("maintenance scheduled", logx.String("schedule", s.cfg.Schedule))
	return nil
}

// Apply reschedules on config reload.
func (s *Sweeper) Apply(cfg Config) error {
	cfg = cfg.withDefaults()
	if _, err := ParseSchedule(cfg.Schedule); err != nil {
		return fmt.Errorf("maintenance.schedule: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := cfg.Enabled != s.cfg.Enabled || cfg.Schedule != s.cfg.Schedule
	s.cfg = cfg
	if s.c == nil || !changed {
		return nil
	}
	return s.scheduleLocked()
}

// Stop stops the cron and waits for a running sweep.
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.entry = 0
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sweep clears state on every live worker, each in its own goroutine. A
// failing or panicking worker does not affect the others.
func (s *Sweeper) Sweep(ctx context.Context) Result {
	s.mu.Lock()
	timeout := s.cfg.Timeout
	s.mu.Unlock()

	var res Result
	var mu sync.Mutex
	count := func(f func(r *Result)) {
		mu.Lock()
		f(&res)
		mu.Unlock()
	}

	sup := supervisor.New(ctx, supervisor.WithLogger(s.log))
	for _, w := range s.src.Workers() {
		w := w
		switch w.State() {
		case session.StateRestarting, session.StateClosed:
			res.Skipped++
			continue
		}
		sess := w.Session()
		if sess == nil {
			res.Skipped++
			continue
		}
		sup.Go("sweep."+w.String(), func(ctx context.Context) error {
			ok := false
			defer func() {
				count(func(r *Result) {
					if ok {
						r.Cleared++
					} else {
						r.Failed++
					}
				})
			}()
			cctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			if err := sess.ClearState(cctx); err != nil {
				s.log.Warn("clear session state failed", logx.Int("worker", w.ID()), logx.Err(err))
				return nil
			}
			ok = true
			return nil
		})
	}
	_ = sup.Wait(context.Background())

	s.sweeps.Add(1)
	s.log.Info("maintenance sweep done", logx.Int("cleared", res.Cleared), logx.Int("failed", res.Failed), logx.Int("skipped", res.Skipped))
	return res
}
