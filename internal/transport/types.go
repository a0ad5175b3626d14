// Package transport defines the operator-facing delivery contract shared by
// the notifier and the log sink. Implementations live in subpackages.
package transport

import "context"

// Sender delivers plain text to the configured operator channel.
type Sender interface {
	SendText(ctx context.Context, text string) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, text string) error

func (f SenderFunc) SendText(ctx context.Context, text string) error { return f(ctx, text) }
