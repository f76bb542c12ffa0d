package agent

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"

	"whatsbot/internal/domain"
	"whatsbot/internal/metrics"
)

const defaultConcurrency = 8

// Handler processes one inbound event. *Pipeline implements it.
type Handler interface {
	Handle(ctx context.Context, ev domain.InboundEvent) string
}

// Loop consumes inbound events from the bus and hands each to the handler
// on its own goroutine, bounded by Concurrency.
type Loop struct {
	bus         domain.MessageBus
	handler     Handler
	logger      *slog.Logger
	concurrency int
	wg          sync.WaitGroup
}

// LoopConfig holds the dependencies and tuning for the event loop.
type LoopConfig struct {
	Bus         domain.MessageBus
	Handler     Handler
	Logger      *slog.Logger
	Concurrency int // max events handled at once (default 8)
}

func NewLoop(cfg LoopConfig) *Loop {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Loop{
		bus:         cfg.Bus,
		handler:     cfg.Handler,
		logger:      cfg.Logger,
		concurrency: cfg.Concurrency,
	}
}

// Run consumes inbound events until ctx is cancelled or the bus closes,
// then waits for in-flight events to finish. Handlers run on a context that
// is not cancelled with ctx, so accepted events still get their reply.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Info("agent loop started", "concurrency", l.concurrency)
	defer l.wg.Wait()

	sem := make(chan struct{}, l.concurrency)
	inbound := l.bus.Subscribe()
	handleCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("agent loop stopping")
			return
		case ev, ok := <-inbound:
			if !ok {
				l.logger.Info("inbound channel closed, agent loop stopping")
				return
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				l.logger.Warn("dropping event on shutdown", "event", ev.ID)
				return
			}
			l.wg.Add(1)
			go func(ev domain.InboundEvent) {
				defer l.wg.Done()
				defer func() { <-sem }()
				l.process(handleCtx, ev)
			}(ev)
		}
	}
}

// process runs the handler and converts a panic into the generic error reply.
func (l *Loop) process(ctx context.Context, ev domain.InboundEvent) {
	defer func() {
		if r := recover(); r != nil {
			metrics.HandlerPanics.Inc()
			l.logger.Error("panic while handling event",
				"event", ev.ID,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			if _, err := l.bus.SendOutbound(ctx, domain.OutboundMessage{
				Channel: ev.Channel,
				ChatID:  ev.ChatID,
				Content: replyGenericError,
			}); err != nil {
				l.logger.Error("send failed after panic", "event", ev.ID, "error", err)
			}
		}
	}()

	l.logger.Debug("processing event",
		"event", ev.ID,
		"channel", ev.Channel,
		"sender", ev.Sender,
		"text_len", len(ev.Text),
		"media", ev.MediaCount,
	)
	l.handler.Handle(ctx, ev)
}
