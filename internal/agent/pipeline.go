package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"whatsbot/internal/domain"
	"whatsbot/internal/metrics"
)

const (
	defaultCallTimeout = 60 * time.Second
	defaultRateBurst   = 5
)

// ErrEmptyMedia marks an attachment that downloaded with no bytes.
var ErrEmptyMedia = errors.New("media body is empty")

// PipelineConfig holds the collaborators and tuning for a Pipeline.
type PipelineConfig struct {
	Store       domain.ContextStore
	Chat        domain.ChatProvider
	Transcriber domain.Transcriber
	Vision      domain.ImageAnalyzer
	Fetcher     domain.MediaFetcher
	Bus         domain.MessageBus
	Logger      *slog.Logger

	SystemPrompt string
	ImagePrompt  string

	// ChunkLimits maps channel name to its outbound character limit.
	// Channels without an entry use DefaultChunkLimit.
	ChunkLimits map[string]int

	// CallTimeout bounds every fetch and provider call.
	CallTimeout time.Duration
	RateLimiter *RateLimiter
}

// Pipeline turns one inbound event into one reply: dispatch or classify,
// call the providers, update the Context Store, then chunk and send.
type Pipeline struct {
	store       domain.ContextStore
	chat        domain.ChatProvider
	transcriber domain.Transcriber
	vision      domain.ImageAnalyzer
	fetcher     domain.MediaFetcher
	bus         domain.MessageBus
	logger      *slog.Logger

	systemPrompt string
	imagePrompt  string
	chunkLimits  map[string]int
	callTimeout  time.Duration
	limiter      *RateLimiter
	locks        *keyedMutex
}

func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.ImagePrompt == "" {
		cfg.ImagePrompt = DefaultImagePrompt
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	return &Pipeline{
		store:        cfg.Store,
		chat:         cfg.Chat,
		transcriber:  cfg.Transcriber,
		vision:       cfg.Vision,
		fetcher:      cfg.Fetcher,
		bus:          cfg.Bus,
		logger:       cfg.Logger,
		systemPrompt: cfg.SystemPrompt,
		imagePrompt:  cfg.ImagePrompt,
		chunkLimits:  cfg.ChunkLimits,
		callTimeout:  cfg.CallTimeout,
		limiter:      cfg.RateLimiter,
		locks:        newKeyedMutex(),
	}
}

// Handle processes ev and sends the reply back to its channel. It never
// fails: every error path resolves to a user-visible reply, which is also
// returned for direct callers.
func (p *Pipeline) Handle(ctx context.Context, ev domain.InboundEvent) string {
	start := time.Now()
	metrics.InFlight.Inc()
	defer metrics.InFlight.Dec()

	reply, err := p.respond(ctx, ev)
	if err != nil {
		p.logger.Error("event handling failed", "event", ev.ID, "channel", ev.Channel, "error", err)
		reply = replyGenericError
	}

	sent := p.send(ctx, ev, reply)
	metrics.EventsHandled.Inc()
	p.logger.Info("event handled",
		"event", ev.ID,
		"channel", ev.Channel,
		"sender", ev.Sender,
		"chunks", sent,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return reply
}

func (p *Pipeline) respond(ctx context.Context, ev domain.InboundEvent) (string, error) {
	switch {
	case ev.MediaCount == 0 && strings.TrimSpace(ev.Text) != "":
		return p.handleText(ctx, ev)
	case ev.HasMedia():
		return p.handleMedia(ctx, ev)
	default:
		return replyNoContent, nil
	}
}

func (p *Pipeline) handleText(ctx context.Context, ev domain.InboundEvent) (string, error) {
	cmd := Dispatch(ev.Text)
	metrics.Command(cmd.Kind.String()).Inc()
	p.logger.Debug("command dispatched", "event", ev.ID, "kind", cmd.Kind.String())

	switch cmd.Kind {
	case CommandGreeting:
		return replyGreeting, nil
	case CommandReset:
		return p.reset(ctx, ev.SessionKey())
	default:
		return p.freeChat(ctx, ev.SessionKey(), cmd.Text)
	}
}

func (p *Pipeline) reset(ctx context.Context, key string) (string, error) {
	unlock := p.locks.Lock(key)
	defer unlock()
	if err := p.store.Reset(ctx, key); err != nil {
		return "", fmt.Errorf("reset context: %w", err)
	}
	p.logger.Info("context reset", "session", key)
	return replyReset, nil
}

// freeChat sends the stored history plus text to the chat provider. The
// store is only written when the provider succeeds.
func (p *Pipeline) freeChat(ctx context.Context, key, text string) (string, error) {
	unlock := p.locks.Lock(key)
	defer unlock()

	history, err := p.store.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("load context: %w", err)
	}

	var added []domain.Turn
	if len(history) == 0 {
		added = append(added, domain.Turn{Role: domain.RoleSystem, Content: p.systemPrompt})
	}
	added = append(added, domain.Turn{Role: domain.RoleUser, Content: text})

	turns := make([]domain.Turn, 0, len(history)+len(added))
	turns = append(turns, history...)
	turns = append(turns, added...)

	var answer string
	err = p.call(ctx, "chat", true, func(ctx context.Context) error {
		var err error
		answer, err = p.chat.Chat(ctx, turns)
		return err
	})
	if err != nil {
		p.logger.Warn("chat provider failed", "session", key, "error", err)
		return replyChatError, nil
	}

	added = append(added, domain.Turn{Role: domain.RoleAssistant, Content: answer})
	if err := p.store.Append(ctx, key, added...); err != nil {
		return "", fmt.Errorf("save context: %w", err)
	}
	return answer, nil
}

func (p *Pipeline) handleMedia(ctx context.Context, ev domain.InboundEvent) (string, error) {
	var data []byte
	err := p.call(ctx, "fetch", false, func(ctx context.Context) error {
		var err error
		data, err = p.fetcher.Fetch(ctx, ev.MediaURL)
		if err == nil && len(data) == 0 {
			err = ErrEmptyMedia
		}
		return err
	})
	if err != nil {
		metrics.FetchFailures.Inc()
		p.logger.Warn("media fetch failed", "event", ev.ID, "error", err)
		return replyFetchFailed, nil
	}

	kind := ClassifyMedia(ev.MediaType)
	metrics.Media(kind.String()).Inc()
	p.logger.Debug("media classified", "event", ev.ID, "mime", ev.MediaType, "kind", kind.String(), "bytes", len(data))

	switch kind {
	case MediaAudio:
		transcript := p.transcribe(ctx, data, AudioFormat(ev.MediaType))
		answer, err := p.freeChat(ctx, ev.SessionKey(), transcript)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf(audioReplyFormat, transcript, answer), nil

	case MediaImage:
		prompt := ev.Text
		if strings.TrimSpace(prompt) == "" {
			prompt = p.imagePrompt
		}
		var result string
		err := p.call(ctx, "vision", true, func(ctx context.Context) error {
			var err error
			result, err = p.vision.AnalyzeImage(ctx, data, ev.MediaType, prompt)
			return err
		})
		if err != nil {
			p.logger.Warn("image analysis failed", "event", ev.ID, "error", err)
			result = replyImageError
		}
		return imageReplyPrefix + result, nil

	default:
		return fmt.Sprintf(unsupportedMediaFormat, ev.MediaType), nil
	}
}

// transcribe returns the transcript, or an error description in its place
// when the provider fails. The description is then chatted about like real
// speech.
func (p *Pipeline) transcribe(ctx context.Context, audio []byte, format string) string {
	var text string
	err := p.call(ctx, "transcribe", true, func(ctx context.Context) error {
		var err error
		text, err = p.transcriber.Transcribe(ctx, audio, format)
		return err
	})
	if err != nil {
		p.logger.Warn("transcription failed", "format", format, "error", err)
		return fmt.Sprintf(transcribeErrorFormat, err)
	}
	return text
}

// call runs fn under the per-call timeout, recording latency and failures
// for op. Rate-limited calls wait for a token first.
func (p *Pipeline) call(ctx context.Context, op string, limited bool, fn func(context.Context) error) error {
	if limited {
		if err := p.limiter.Wait(ctx); err != nil {
			metrics.ProviderErrors(op).Inc()
			return fmt.Errorf("rate limit: %w", err)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()

	start := time.Now()
	err := fn(callCtx)
	metrics.ProviderLatency(op).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ProviderErrors(op).Inc()
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (p *Pipeline) chunkLimit(channel string) int {
	if n, ok := p.chunkLimits[channel]; ok && n > 0 {
		return n
	}
	return DefaultChunkLimit
}

// send delivers reply in order and returns the number of chunks accepted.
// Sending stops at the first transport failure.
func (p *Pipeline) send(ctx context.Context, ev domain.InboundEvent, reply string) int {
	chunks := Chunk(reply, p.chunkLimit(ev.Channel))
	for i, c := range chunks {
		id, err := p.bus.SendOutbound(ctx, domain.OutboundMessage{
			Channel: ev.Channel,
			ChatID:  ev.ChatID,
			Content: c.Text,
		})
		if err != nil {
			metrics.SendFailures.Inc()
			p.logger.Error("send failed",
				"event", ev.ID,
				"channel", ev.Channel,
				"part", c.Index,
				"total", c.Total,
				"error", err,
			)
			return i
		}
		metrics.ChunksSent.Inc()
		p.logger.Debug("chunk sent", "event", ev.ID, "delivery", id, "part", c.Index, "total", c.Total)
	}
	return len(chunks)
}
