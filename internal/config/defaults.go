package config

// Defaults mirrors the reference deployment: gpt-4o for chat and vision,
// whisper-1 for voice notes, a 10-turn window and WhatsApp's 1600 character
// body limit.
func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:              "info",
			MaxConcurrentMessages: 8,
			BusBufferSize:         100,
		},
		Providers: ProvidersConfig{
			ChatModel:      "gpt-4o",
			Language:       "en",
			MaxTokens:      500,
			Temperature:    0.7,
			TimeoutSeconds: 60,
			RatePerMinute:  0,
			RateBurst:      5,
			Transcription:  TranscriptionEndpoint{Model: "whisper-1"},
			Vision:         VisionEndpoint{Model: "gpt-4o"},
		},
		Channels: ChannelsConfig{
			Twilio: TwilioConfig{
				Enabled:          true,
				Host:             "0.0.0.0",
				Port:             5000,
				WebhookPath:      "/webhook",
				MaxMessageLength: 1600,
			},
			Telegram: TelegramConfig{
				Enabled:          false,
				ParseMode:        "Markdown",
				MaxMessageLength: 4000,
			},
		},
		Memory: MemoryConfig{
			Driver:    "memory",
			Window:    10,
			DBPath:    "~/.whatsbot/context.db",
			KeyPrefix: "whatsbot:context:",
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Endpoint: "/metrics",
		},
	}
}

// Template returns the config written by "whatsbot init": defaults with
// secrets left as ${VAR} references resolved at load time.
func Template() *Config {
	cfg := Defaults()
	cfg.Providers.APIKey = "${OPENAI_API_KEY}"
	cfg.Channels.Twilio.AccountSID = "${TWILIO_ACCOUNT_SID}"
	cfg.Channels.Twilio.AuthToken = "${TWILIO_AUTH_TOKEN}"
	cfg.Channels.Twilio.From = "${TWILIO_PHONE_NUMBER}"
	cfg.Channels.Telegram.Token = "${TELEGRAM_BOT_TOKEN}"
	return cfg
}
