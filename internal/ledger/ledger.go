// Package ledger records delivery outcomes.
//
// Two append-only CSV logs (sent and failed) get one row per attempt.
// Status changes to the contact store go through a single persistence lane:
// requests are merged one at a time, each merge reading the store, replacing
// the matching rows and atomically rewriting the file. Concurrent workers
// therefore never lose each other's updates.
package ledger

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"chatblast/internal/contacts"
	"chatblast/internal/storage"
	logx "chatblast/pkg/logx"
)

var ErrPersistence = errors.New("persistence failed")

var errClosed = errors.New("ledger closed")

type Outcome string

const (
	OutcomeSent   Outcome = "sent"
	OutcomeFailed Outcome = "failed"
)

// LogHeader is written once at the top of each outcome log.
var LogHeader = []string{"contactName", "phoneNumber", "timestamp"}

type Config struct {
	SentPath   string
	FailedPath string
	// QueueSize bounds the persistence lane; Enqueue blocks when full.
	QueueSize int
}

func (c Config) withDefaults() Config {
	if c.SentPath == "" {
		c.SentPath = "sentMessages.csv"
	}
	if c.FailedPath == "" {
		c.FailedPath = "failedMessages.csv"
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	return c
}

type Option func(*Ledger)

func WithLogger(log logx.Logger) Option { return func(l *Ledger) { l.log = log } }

// WithAudit mirrors every recorded outcome to an audit store.
func WithAudit(st storage.Store, runID string) Option {
	return func(l *Ledger) {
		l.audit = st
		l.runID = runID
	}
}

func WithClock(now func() time.Time) Option { return func(l *Ledger) { l.now = now } }

type Ledger struct {
	cfg   Config
	store *contacts.Store
	audit storage.Store
	runID string
	log   logx.Logger
	now   func() time.Time

	logMu sync.Mutex

	// mu guards closed and the send side of reqs.
	mu     sync.RWMutex
	closed bool
	reqs   chan mergeReq
	done   chan struct{}
}

type mergeReq struct {
	updated []contacts.Contact
	res     chan error
}

// New starts the persistence lane. Close must be called to stop it.
func New(cfg Config, store *contacts.Store, opts ...Option) *Ledger {
	cfg = cfg.withDefaults()
	l := &Ledger{
		cfg:   cfg,
		store: store,
		now:   time.Now,
		reqs:  make(chan mergeReq, cfg.QueueSize),
		done:  make(chan struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	if l.log.IsZero() {
		l.log = logx.Nop()
	}
	l.log = l.log.With(logx.String("comp", "ledger"))
	go l.lane()
	return l
}

// RecordOutcome appends one row to the sent or failed log.
func (l *Ledger) RecordOutcome(ctx context.Context, c contacts.Contact, outcome Outcome, worker int, sendErr error) error {
	at := l.now()
	path := l.cfg.SentPath
	if outcome == OutcomeFailed {
		path = l.cfg.FailedPath
	}

	l.logMu.Lock()
	err := appendRow(path, []string{c.FullName(), c.NormalizedPhone, at.UTC().Format("2006-01-02T15:04:05.000Z07:00")})
	l.logMu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: append %s: %w", ErrPersistence, filepath.Base(path), err)
	}

	if l.audit != nil {
		e := storage.OutcomeEntry{
			RunID:   l.runID,
			At:      at,
			Worker:  worker,
			Name:    c.FullName(),
			Phone:   c.NormalizedPhone,
			Outcome: string(outcome),
		}
		if sendErr != nil {
			e.Error = sendErr.Error()
		}
		if err := l.audit.AppendOutcome(ctx, e); err != nil {
			l.log.Warn("audit append failed", logx.Err(err))
		}
	}
	return nil
}

func appendRow(path string, row []string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return err
	}

	w := csv.NewWriter(f)
	if st.Size() == 0 {
		_ = w.Write(LogHeader)
	}
	_ = w.Write(row)
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Enqueue queues a status merge and returns a channel that receives its
// result once the lane has processed it.
func (l *Ledger) Enqueue(updated []contacts.Contact) <-chan error {
	res := make(chan error, 1)
	cp := make([]contacts.Contact, len(updated))
	for i := range updated {
		cp[i] = updated[i].Clone()
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		res <- fmt.Errorf("%w: %w", ErrPersistence, errClosed)
		return res
	}
	l.reqs <- mergeReq{updated: cp, res: res}
	return res
}

// PersistContactStatus queues a merge and waits for it.
func (l *Ledger) PersistContactStatus(ctx context.Context, updated []contacts.Contact) error {
	select {
	case err := <-l.Enqueue(updated):
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Ledger) lane() {
	defer close(l.done)
	for req := range l.reqs {
		req.res <- l.merge(req.updated)
	}
}

func (l *Ledger) merge(updated []contacts.Contact) error {
	t, err := l.store.Load()
	if err != nil {
		l.log.Error("load contact store", logx.Err(err))
		return fmt.Errorf("%w: load: %w", ErrPersistence, err)
	}
	n := t.Merge(updated)
	if err := l.store.Save(t); err != nil {
		l.log.Error("save contact store", logx.Err(err))
		return fmt.Errorf("%w: save: %w", ErrPersistence, err)
	}
	if n < len(updated) {
		l.log.Debug("some updates matched no row", logx.Int("updated", len(updated)), logx.Int("matched", n))
	}
	return nil
}

// Close stops accepting merges and waits until the queued ones are written.
func (l *Ledger) Close(ctx context.Context) error {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.reqs)
	}
	l.mu.Unlock()

	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
