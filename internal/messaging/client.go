// Package messaging defines the chat-client capability the dispatcher drives
// and the drivers that implement it.
//
// The dispatcher never talks to a chat service directly: it pairs sessions
// through a Client and sends through the returned Session. Drivers:
//   - "dryrun": logs sends, pairs instantly; for rehearsals and tests
//   - "bridge": HTTP client for an external automation bridge service
package messaging

import (
	"context"
	"time"
)

// Client pairs chat sessions. Pair may block for as long as the human in the
// loop needs to scan a pairing code.
type Client interface {
	Pair(ctx context.Context, identity string) (Session, error)
}

// Session is one paired chat-client session.
type Session interface {
	SendMessage(ctx context.Context, target string, msg Message) error
	Destroy(ctx context.Context) error
	RecentConversations(ctx context.Context, limit int) ([]Conversation, error)
	// LastMessage returns the newest message of a conversation; ok is false
	// when the conversation is empty.
	LastMessage(ctx context.Context, conversationID string) (msg Message, ok bool, err error)
	// ClearState drops accumulated client-side state (storage, cookies,
	// permission overrides) without unpairing.
	ClearState(ctx context.Context) error
}

// Conversation is a chat listed by a session.
type Conversation struct {
	ID         string
	Name       string
	LastActive time.Time
}
