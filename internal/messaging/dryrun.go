package messaging

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	logx "chatblast/pkg/logx"
)

var errSessionDestroyed = errors.New("session destroyed")

// DryRun is a Client that never leaves the process. Sends are logged and
// remembered so "from chat" selection works in rehearsals.
type DryRun struct {
	cfg DryRunConfig
	log logx.Logger

	sends atomic.Uint64

	mu    sync.Mutex
	chats map[string]*dryRunChat
}

type dryRunChat struct {
	last Message
	at   time.Time
}

func NewDryRun(cfg DryRunConfig, log logx.Logger) *DryRun {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &DryRun{cfg: cfg, log: log, chats: map[string]*dryRunChat{}}
}

// Sends returns the number of send attempts across all sessions.
func (d *DryRun) Sends() uint64 { return d.sends.Load() }

func (d *DryRun) Pair(ctx context.Context, identity string) (Session, error) {
	d.log.Info("dry-run session pairing", logx.String("identity", identity))
	if err := sleepCtx(ctx, d.cfg.PairDelay); err != nil {
		return nil, err
	}
	return &dryRunSession{d: d, identity: identity}, nil
}

type dryRunSession struct {
	d         *DryRun
	identity  string
	destroyed atomic.Bool
	clears    atomic.Uint64
}

func (s *dryRunSession) SendMessage(ctx context.Context, target string, msg Message) error {
	if s.destroyed.Load() {
		return errSessionDestroyed
	}
	if err := sleepCtx(ctx, s.d.cfg.Latency); err != nil {
		return err
	}
	n := s.d.sends.Add(1)
	if every := s.d.cfg.FailEvery; every > 0 && n%uint64(every) == 0 {
		return fmt.Errorf("dry-run: simulated failure on send #%d", n)
	}

	s.d.mu.Lock()
	s.d.chats[target] = &dryRunChat{last: msg, at: time.Now()}
	s.d.mu.Unlock()

	s.d.log.Debug("dry-run send", logx.String("identity", s.identity), logx.String("target", target), logx.String("msg", msg.Summary()))
	return nil
}

func (s *dryRunSession) Destroy(ctx context.Context) error {
	s.destroyed.Store(true)
	return nil
}

func (s *dryRunSession) RecentConversations(ctx context.Context, limit int) ([]Conversation, error) {
	if s.destroyed.Load() {
		return nil, errSessionDestroyed
	}
	s.d.mu.Lock()
	out := make([]Conversation, 0, len(s.d.chats))
	for id, c := range s.d.chats {
		out = append(out, Conversation{ID: id, Name: id, LastActive: c.at})
	}
	s.d.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].LastActive.After(out[j].LastActive) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *dryRunSession) LastMessage(ctx context.Context, conversationID string) (Message, bool, error) {
	if s.destroyed.Load() {
		return Message{}, false, errSessionDestroyed
	}
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	c, ok := s.d.chats[conversationID]
	if !ok {
		return Message{}, false, nil
	}
	return c.last, true, nil
}

func (s *dryRunSession) ClearState(ctx context.Context) error {
	if s.destroyed.Load() {
		return errSessionDestroyed
	}
	s.clears.Add(1)
	return nil
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
