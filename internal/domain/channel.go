package domain

import "context"

// Sender delivers text to a destination on one transport and returns the
// transport's delivery identifier.
type Sender interface {
	Send(ctx context.Context, to string, text string) (string, error)
}

// Channel is a transport that feeds inbound events into the bus and accepts
// outbound text (Twilio WhatsApp, Telegram, CLI).
type Channel interface {
	Sender
	Name() string
	Start(ctx context.Context, bus MessageBus) error
	Stop() error
}
