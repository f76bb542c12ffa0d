package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"whatsbot/internal/domain"
	"whatsbot/internal/metrics"
)

// publishTimeout stays well under Twilio's 15s webhook deadline.
const publishTimeout = 5 * time.Second

// ErrNoSender is returned by SendOutbound for an unknown channel.
var ErrNoSender = errors.New("no sender registered for channel")

// InMemoryBus is a Go-channel based message bus for in-process communication.
type InMemoryBus struct {
	inbound chan domain.InboundEvent
	senders map[string]domain.Sender
	mu      sync.RWMutex
	closed  bool
	logger  *slog.Logger
}

// New creates a new InMemoryBus with the given buffer size.
func New(bufferSize int, logger *slog.Logger) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &InMemoryBus{
		inbound: make(chan domain.InboundEvent, bufferSize),
		senders: make(map[string]domain.Sender),
		logger:  logger,
	}
}

// Publish queues ev for the agent loop. It blocks up to publishTimeout when
// the bus is full and reports whether the event was accepted.
func (b *InMemoryBus) Publish(ev domain.InboundEvent) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Warn("attempted to publish to closed bus", "event", ev.ID)
		return false
	}

	select {
	case b.inbound <- ev:
		metrics.EventsReceived.Inc()
		return true
	default:
	}

	b.logger.Warn("inbound bus full, waiting...", "channel", ev.Channel, "sender", ev.Sender)
	timer := time.NewTimer(publishTimeout)
	defer timer.Stop()
	select {
	case b.inbound <- ev:
		metrics.EventsReceived.Inc()
		b.logger.Info("event delivered after wait", "channel", ev.Channel)
		return true
	case <-timer.C:
		metrics.EventsDropped.Inc()
		b.logger.Error("event dropped: bus full",
			"channel", ev.Channel,
			"sender", ev.Sender,
			"wait", publishTimeout,
		)
		return false
	}
}

func (b *InMemoryBus) Subscribe() <-chan domain.InboundEvent {
	return b.inbound
}

// SendOutbound routes msg to the sender registered for msg.Channel and
// returns the transport's delivery identifier.
func (b *InMemoryBus) SendOutbound(ctx context.Context, msg domain.OutboundMessage) (string, error) {
	b.mu.RLock()
	sender, ok := b.senders[msg.Channel]
	b.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("%w: %q", ErrNoSender, msg.Channel)
	}
	return sender.Send(ctx, msg.ChatID, msg.Content)
}

func (b *InMemoryBus) OnOutbound(channelName string, sender domain.Sender) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.senders[channelName] = sender
}

func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.inbound)
	}
}
