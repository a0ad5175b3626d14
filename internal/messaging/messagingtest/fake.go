// Package messagingtest provides an in-memory messaging.Client for tests.
package messagingtest

import (
	"context"
	"errors"
	"sync"
	"time"

	"chatblast/internal/messaging"
)

// Send is one recorded SendMessage call.
type Send struct {
	Identity string
	Session  int // pairing sequence number of the session that sent
	Target   string
	Message  messaging.Message
	At       time.Time
}

// Client records every call. Hooks may be set before use; all are optional.
type Client struct {
	// PairFunc overrides pairing; returning an error fails the pair.
	PairFunc func(ctx context.Context, identity string, attempt int) error
	// SendFunc decides the outcome of a send.
	SendFunc func(ctx context.Context, identity, target string) error
	// ClearFunc decides the outcome of ClearState; it may panic.
	ClearFunc func(ctx context.Context, identity string) error
	// Conversations is what RecentConversations returns (truncated to limit).
	Conversations []messaging.Conversation
	// Last maps a conversation id to its newest message.
	Last map[string]messaging.Message

	mu        sync.Mutex
	pairs     map[string]int
	seq       int
	sends     []Send
	destroys  map[string]int
	clears    map[string]int
	inflight  map[string]int
	overlap   bool
	destroyed map[int]bool
}

func (c *Client) init() {
	if c.pairs == nil {
		c.pairs = map[string]int{}
		c.destroys = map[string]int{}
		c.clears = map[string]int{}
		c.inflight = map[string]int{}
		c.destroyed = map[int]bool{}
	}
}

func (c *Client) Pair(ctx context.Context, identity string) (messaging.Session, error) {
	c.mu.Lock()
	c.init()
	c.pairs[identity]++
	attempt := c.pairs[identity]
	c.mu.Unlock()

	if c.PairFunc != nil {
		if err := c.PairFunc(ctx, identity, attempt); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.seq++
	seq := c.seq
	c.mu.Unlock()
	return &session{c: c, identity: identity, seq: seq}, nil
}

// Pairs returns how many times identity was paired.
func (c *Client) Pairs(identity string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.init()
	return c.pairs[identity]
}

func (c *Client) Destroys(identity string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.init()
	return c.destroys[identity]
}

func (c *Client) Clears(identity string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.init()
	return c.clears[identity]
}

// Sends returns a copy of the recorded sends in call order.
func (c *Client) Sends() []Send {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Send(nil), c.sends...)
}

// Overlapped reports whether two sends were ever in flight for one identity.
func (c *Client) Overlapped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.overlap
}

type session struct {
	c        *Client
	identity string
	seq      int
}

var ErrDestroyed = errors.New("messagingtest: session destroyed")

func (s *session) SendMessage(ctx context.Context, target string, msg messaging.Message) error {
	c := s.c
	c.mu.Lock()
	if c.destroyed[s.seq] {
		c.mu.Unlock()
		return ErrDestroyed
	}
	c.inflight[s.identity]++
	if c.inflight[s.identity] > 1 {
		c.overlap = true
	}
	c.mu.Unlock()

	var err error
	if c.SendFunc != nil {
		err = c.SendFunc(ctx, s.identity, target)
	}

	c.mu.Lock()
	c.inflight[s.identity]--
	c.sends = append(c.sends, Send{Identity: s.identity, Session: s.seq, Target: target, Message: msg, At: time.Now()})
	c.mu.Unlock()
	return err
}

func (s *session) Destroy(ctx context.Context) error {
	s.c.mu.Lock()
	s.c.destroys[s.identity]++
	s.c.destroyed[s.seq] = true
	s.c.mu.Unlock()
	return nil
}

func (s *session) RecentConversations(ctx context.Context, limit int) ([]messaging.Conversation, error) {
	out := append([]messaging.Conversation(nil), s.c.Conversations...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *session) LastMessage(ctx context.Context, id string) (messaging.Message, bool, error) {
	m, ok := s.c.Last[id]
	return m, ok, nil
}

func (s *session) ClearState(ctx context.Context) error {
	s.c.mu.Lock()
	s.c.clears[s.identity]++
	s.c.mu.Unlock()
	if s.c.ClearFunc != nil {
		return s.c.ClearFunc(ctx, s.identity)
	}
	return nil
}
