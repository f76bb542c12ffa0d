// Package app assembles whatsbot from configuration: context store, AI
// provider, media fetcher, message bus, pipeline, agent loop and channels.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"whatsbot/internal/agent"
	"whatsbot/internal/bus"
	"whatsbot/internal/channel"
	"whatsbot/internal/config"
	"whatsbot/internal/domain"
	"whatsbot/internal/memory"
	"whatsbot/internal/metrics"
	"whatsbot/internal/provider"
)

const shutdownTimeout = 10 * time.Second

// twilioMediaHost serves MediaUrl0 downloads; basic auth goes nowhere else.
const twilioMediaHost = "api.twilio.com"

// Bot is a fully wired whatsbot instance.
type Bot struct {
	Store    domain.ContextStore
	Provider *provider.OpenAI
	Bus      *bus.InMemoryBus
	Pipeline *agent.Pipeline
	Loop     *agent.Loop
	Channels []domain.Channel

	logger *slog.Logger
	once   sync.Once
}

// Option adjusts how Initialize wires the bot.
type Option func(*options)

type options struct {
	cli         *channel.CLIConfig
	chat        domain.ChatProvider
	transcriber domain.Transcriber
	vision      domain.ImageAnalyzer
}

// WithCLI replaces the network channels with a local REPL and allows
// file:// attachments.
func WithCLI(cfg channel.CLIConfig) Option {
	return func(o *options) { o.cli = &cfg }
}

// WithProviders overrides the OpenAI-backed chat, transcription and vision
// providers. Nil arguments keep the default.
func WithProviders(chat domain.ChatProvider, tr domain.Transcriber, vision domain.ImageAnalyzer) Option {
	return func(o *options) {
		o.chat = chat
		o.transcriber = tr
		o.vision = vision
	}
}

// Initialize builds every component from cfg. The returned Bot owns the
// store and must be closed.
func Initialize(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Bot, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	store, err := memory.NewStore(memory.StoreConfig{
		Driver:        memory.Driver(cfg.Memory.Driver),
		Window:        cfg.Memory.Window,
		PinSystemTurn: cfg.Memory.PinSystemTurn,
		DBPath:        cfg.Memory.DBPath,
		RedisAddr:     cfg.Memory.RedisAddr,
		RedisPassword: cfg.Memory.RedisPassword,
		RedisDB:       cfg.Memory.RedisDB,
		RedisTTL:      time.Duration(cfg.Memory.RedisTTLSeconds) * time.Second,
		KeyPrefix:     cfg.Memory.KeyPrefix,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("context store: %w", err)
	}

	timeout := time.Duration(cfg.Providers.TimeoutSeconds) * time.Second
	httpClient := provider.SharedHTTPClient(timeout)

	base := provider.OpenAIConfig{
		APIKey:             cfg.Providers.APIKey,
		APIBase:            cfg.Providers.APIBase,
		ChatModel:          cfg.Providers.ChatModel,
		VisionModel:        cfg.Providers.Vision.Model,
		TranscriptionModel: cfg.Providers.Transcription.Model,
		Language:           cfg.Providers.Language,
		MaxTokens:          cfg.Providers.MaxTokens,
		Temperature:        cfg.Providers.Temperature,
		HTTPClient:         httpClient,
		Logger:             logger,
	}
	ai := provider.NewOpenAI(base)

	var chat domain.ChatProvider = ai
	var transcriber domain.Transcriber = ai
	var vision domain.ImageAnalyzer = ai
	if tr := cfg.Providers.Transcription; tr.APIKey != "" || tr.APIBase != "" {
		transcriber = provider.NewOpenAI(overrideEndpoint(base, tr.APIKey, tr.APIBase))
		logger.Info("transcription uses a separate endpoint", "base", tr.APIBase, "model", tr.Model)
	}
	if vi := cfg.Providers.Vision; vi.APIKey != "" || vi.APIBase != "" {
		vision = provider.NewOpenAI(overrideEndpoint(base, vi.APIKey, vi.APIBase))
		logger.Info("vision uses a separate endpoint", "base", vi.APIBase, "model", vi.Model)
	}
	if o.chat != nil {
		chat = o.chat
	}
	if o.transcriber != nil {
		transcriber = o.transcriber
	}
	if o.vision != nil {
		vision = o.vision
	}

	fetcher := provider.NewHTTPFetcher(provider.FetcherConfig{
		Username:   cfg.Channels.Twilio.AccountSID,
		Password:   cfg.Channels.Twilio.AuthToken,
		AuthHosts:  []string{twilioMediaHost},
		AllowFiles: o.cli != nil,
		HTTPClient: httpClient,
		Logger:     logger,
	})

	msgBus := bus.New(cfg.General.BusBufferSize, logger)

	pipeline := agent.NewPipeline(agent.PipelineConfig{
		Store:        store,
		Chat:         chat,
		Transcriber:  transcriber,
		Vision:       vision,
		Fetcher:      fetcher,
		Bus:          msgBus,
		Logger:       logger,
		SystemPrompt: cfg.General.SystemPrompt,
		ImagePrompt:  cfg.General.DefaultImagePrompt,
		ChunkLimits: map[string]int{
			"twilio":   cfg.Channels.Twilio.MaxMessageLength,
			"telegram": cfg.Channels.Telegram.MaxMessageLength,
		},
		CallTimeout: timeout,
		RateLimiter: agent.NewRateLimiter(cfg.Providers.RateBurst, cfg.Providers.RatePerMinute),
	})

	loop := agent.NewLoop(agent.LoopConfig{
		Bus:         msgBus,
		Handler:     pipeline,
		Logger:      logger,
		Concurrency: cfg.General.MaxConcurrentMessages,
	})

	return &Bot{
		Store:    store,
		Provider: ai,
		Bus:      msgBus,
		Pipeline: pipeline,
		Loop:     loop,
		Channels: buildChannels(cfg, o, logger),
		logger:   logger,
	}, nil
}

// overrideEndpoint points base at another OpenAI-compatible service. Empty
// values keep the chat endpoint's key or base URL.
func overrideEndpoint(base provider.OpenAIConfig, apiKey, apiBase string) provider.OpenAIConfig {
	if apiKey != "" {
		base.APIKey = apiKey
	}
	if apiBase != "" {
		base.APIBase = apiBase
	}
	return base
}

func buildChannels(cfg *config.Config, o options, logger *slog.Logger) []domain.Channel {
	if o.cli != nil {
		c := *o.cli
		if c.Logger == nil {
			c.Logger = logger
		}
		return []domain.Channel{channel.NewCLI(c)}
	}

	var channels []domain.Channel
	if tw := cfg.Channels.Twilio; tw.Enabled {
		twCfg := channel.TwilioConfig{
			AccountSID:        tw.AccountSID,
			AuthToken:         tw.AuthToken,
			From:              tw.From,
			Host:              tw.Host,
			Port:              tw.Port,
			WebhookPath:       tw.WebhookPath,
			ValidateSignature: tw.ValidateSignature,
			PublicURL:         tw.PublicURL,
			MetricsPath:       cfg.Metrics.Endpoint,
			Logger:            logger,
		}
		if cfg.Metrics.Enabled {
			twCfg.MetricsHandler = metrics.Collector.Handler()
		}
		channels = append(channels, channel.NewTwilio(twCfg))
	}
	if tg := cfg.Channels.Telegram; tg.Enabled {
		channels = append(channels, channel.NewTelegram(channel.TelegramConfig{
			Token:     tg.Token,
			AllowFrom: tg.AllowFrom,
			ParseMode: tg.ParseMode,
			Logger:    logger,
		}))
	}
	return channels
}

// Run starts the agent loop and every channel, then blocks until ctx is
// cancelled or the first channel returns. A channel returning nil (the CLI
// on /quit) ends the run without error.
func (b *Bot) Run(ctx context.Context) error {
	if len(b.Channels) == 0 {
		return errors.New("no channels enabled")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		b.Loop.Run(ctx)
	}()

	errCh := make(chan error, len(b.Channels))
	for _, ch := range b.Channels {
		b.logger.Info("channel enabled", "channel", ch.Name())
		go func(ch domain.Channel) {
			err := ch.Start(ctx, b.Bus)
			if err != nil {
				err = fmt.Errorf("%s channel: %w", ch.Name(), err)
			}
			errCh <- err
		}(ch)
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}
	b.logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	for _, ch := range b.Channels {
		if err := ch.Stop(); err != nil {
			b.logger.Warn("channel stop failed", "channel", ch.Name(), "error", err)
		}
	}

	select {
	case <-loopDone:
		b.logger.Info("shutdown complete")
	case <-shutdownCtx.Done():
		b.logger.Warn("shutdown timed out, in-flight events abandoned")
		if runErr == nil {
			runErr = errors.New("shutdown timed out")
		}
	}
	return runErr
}

// Close releases the bus and the context store. It is safe to call more
// than once.
func (b *Bot) Close() error {
	var err error
	b.once.Do(func() {
		b.Bus.Close()
		err = b.Store.Close()
	})
	return err
}
