// Package session manages the fixed set of worker sessions a run drives.
//
// Pairing is human in the loop (someone scans a code), so workers are paired
// one at a time and a pairing may take arbitrarily long unless
// Config.PairTimeout bounds it.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"chatblast/internal/messaging"
	logx "chatblast/pkg/logx"
)

var (
	ErrSessionInit    = errors.New("session init failed")
	ErrRestartFailure = errors.New("session restart failed")
)

type Config struct {
	// IdentityPrefix is joined with the worker id to name the session,
	// e.g. "client-" + "1".
	IdentityPrefix string
	// PairTimeout bounds one pairing attempt; 0 waits forever.
	PairTimeout time.Duration
}

type Pool struct {
	client messaging.Client
	cfg    Config
	log    logx.Logger

	mu      sync.Mutex
	workers map[int]*Worker
}

func NewPool(client messaging.Client, cfg Config, log logx.Logger) *Pool {
	if cfg.IdentityPrefix == "" {
		cfg.IdentityPrefix = "client-"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Pool{
		client:  client,
		cfg:     cfg,
		log:     log.With(logx.String("comp", "session")),
		workers: map[int]*Worker{},
	}
}

func (p *Pool) identity(id int) string { return p.cfg.IdentityPrefix + strconv.Itoa(id) }

func (p *Pool) pair(ctx context.Context, identity string) (messaging.Session, error) {
	if p.cfg.PairTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.PairTimeout)
		defer cancel()
	}
	sess, err := p.client.Pair(ctx, identity)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, errors.New("client returned no session")
	}
	return sess, nil
}

// Acquire pairs session id and registers the worker. It blocks until the
// session is ready.
func (p *Pool) Acquire(ctx context.Context, id int) (*Worker, error) {
	identity := p.identity(id)
	p.log.Info("pairing session", logx.Int("worker", id), logx.String("identity", identity))
	start := time.Now()

	sess, err := p.pair(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrSessionInit, identity, err)
	}
	w := newWorker(id, identity, sess)

	p.mu.Lock()
	p.workers[id] = w
	p.mu.Unlock()

	p.log.Info("session ready", logx.Int("worker", id), logx.Duration("took", time.Since(start)))
	return w, nil
}

// Init acquires workers 1..n in order. On failure the workers already paired
// stay registered so Close can release them.
func (p *Pool) Init(ctx context.Context, n int) ([]*Worker, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: worker count must be positive, got %d", ErrSessionInit, n)
	}
	out := make([]*Worker, 0, n)
	for id := 1; id <= n; id++ {
		w, err := p.Acquire(ctx, id)
		if err != nil {
			return out, err
		}
		out = append(out, w)
	}
	return out, nil
}

// Restart destroys the worker's session and pairs a fresh one under the same
// identity. Calls on the same worker are serialized. On failure the worker
// keeps its previous session reference and ErrRestartFailure is returned.
func (p *Pool) Restart(ctx context.Context, w *Worker) error {
	w.restartMu.Lock()
	defer w.restartMu.Unlock()

	prev := w.State()
	w.SetState(StateRestarting)
	defer func() {
		if w.State() == StateRestarting {
			w.SetState(prev)
		}
	}()

	if old := w.Session(); old != nil {
		if err := old.Destroy(ctx); err != nil {
			p.log.Warn("destroy session failed", logx.Int("worker", w.id), logx.Err(err))
		}
	}

	sess, err := p.pair(ctx, w.identity)
	if err != nil {
		p.log.Error("restart failed; keeping stale session", logx.Int("worker", w.id), logx.Err(err))
		return fmt.Errorf("%w: %s: %w", ErrRestartFailure, w.identity, err)
	}
	w.swap(sess)
	w.restarts.Add(1)
	p.log.Info("session restarted", logx.Int("worker", w.id), logx.Int("restarts", w.Restarts()))
	return nil
}

// Workers returns the registered workers ordered by id.
func (p *Pool) Workers() []*Worker {
	p.mu.Lock()
	out := make([]*Worker, 0, len(p.workers))
	for _, w := range p.workers {
		out = append(out, w)
	}
	p.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Close destroys every session. Errors are joined; every worker is attempted.
func (p *Pool) Close(ctx context.Context) error {
	var errs []error
	for _, w := range p.Workers() {
		w.restartMu.Lock()
		if sess := w.Session(); sess != nil && w.State() != StateClosed {
			if err := sess.Destroy(ctx); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", w.identity, err))
			}
		}
		w.SetState(StateClosed)
		w.restartMu.Unlock()
	}
	return errors.Join(errs...)
}
