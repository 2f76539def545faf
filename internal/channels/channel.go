// Package channels contains the chat platform adapters. Each adapter
// normalizes platform events into bus.InboundMessage; the core never sees a
// platform-specific shape.
package channels

import (
	"context"

	"github.com/chorusbot/chorus/internal/bus"
)

// Channel defines the interface for chat platform adapters.
type Channel interface {
	// Name returns the channel name (e.g. "slack").
	Name() string
	// Start starts the channel listener.
	Start(ctx context.Context) error
	// Stop stops the channel listener.
	Stop() error
	// Send sends a message to a specific room.
	Send(ctx context.Context, msg *bus.OutboundMessage) error
}

// BaseChannel provides common functionality for channels.
type BaseChannel struct {
	Bus *bus.MessageBus
}
