package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/caarlos0/env/v6"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for whatsbot.
type Config struct {
	General   GeneralConfig   `yaml:"general" json:"general"`
	Providers ProvidersConfig `yaml:"providers" json:"providers"`
	Channels  ChannelsConfig  `yaml:"channels" json:"channels"`
	Memory    MemoryConfig    `yaml:"memory" json:"memory"`
	Metrics   MetricsConfig   `yaml:"metrics" json:"metrics"`
}

type GeneralConfig struct {
	LogLevel              string `yaml:"logLevel" json:"logLevel" env:"LOG_LEVEL"`
	LogFile               string `yaml:"logFile,omitempty" json:"logFile,omitempty"` // optional log file path
	MaxConcurrentMessages int    `yaml:"maxConcurrentMessages" json:"maxConcurrentMessages"`
	BusBufferSize         int    `yaml:"busBufferSize" json:"busBufferSize"`
	SystemPrompt          string `yaml:"systemPrompt,omitempty" json:"systemPrompt,omitempty"`
	DefaultImagePrompt    string `yaml:"defaultImagePrompt,omitempty" json:"defaultImagePrompt,omitempty"`
}

// ProvidersConfig configures the OpenAI-compatible API used for chat,
// vision and transcription.
type ProvidersConfig struct {
	APIKey             string  `yaml:"apiKey" json:"apiKey" env:"OPENAI_API_KEY"`
	APIBase            string  `yaml:"apiBase,omitempty" json:"apiBase,omitempty" env:"OPENAI_API_BASE"`
	ChatModel      string  `yaml:"chatModel" json:"chatModel" env:"OPENAI_CHAT_MODEL"`
	Language       string  `yaml:"language" json:"language"` // "auto" disables the hint
	MaxTokens      int     `yaml:"maxTokens" json:"maxTokens"`
	Temperature    float32 `yaml:"temperature" json:"temperature"` // (0, 2]
	TimeoutSeconds int     `yaml:"timeoutSeconds" json:"timeoutSeconds"`
	RatePerMinute  float64 `yaml:"ratePerMinute" json:"ratePerMinute"` // 0 = unlimited
	RateBurst      int     `yaml:"rateBurst" json:"rateBurst"`

	Transcription TranscriptionEndpoint `yaml:"transcription" json:"transcription"`
	Vision        VisionEndpoint        `yaml:"vision" json:"vision"`
}

// TranscriptionEndpoint selects the speech-to-text model. A non-empty
// APIKey or APIBase sends transcription to another OpenAI-compatible
// service (e.g. Groq's whisper-large-v3); the other field falls back to
// the chat settings.
type TranscriptionEndpoint struct {
	Model   string `yaml:"model" json:"model"`
	APIKey  string `yaml:"apiKey,omitempty" json:"apiKey,omitempty" env:"TRANSCRIPTION_API_KEY"`
	APIBase string `yaml:"apiBase,omitempty" json:"apiBase,omitempty" env:"TRANSCRIPTION_API_BASE"`
}

// VisionEndpoint is TranscriptionEndpoint for image analysis (e.g. Gemini's
// OpenAI-compatible endpoint).
type VisionEndpoint struct {
	Model   string `yaml:"model" json:"model"`
	APIKey  string `yaml:"apiKey,omitempty" json:"apiKey,omitempty" env:"VISION_API_KEY"`
	APIBase string `yaml:"apiBase,omitempty" json:"apiBase,omitempty" env:"VISION_API_BASE"`
}

type ChannelsConfig struct {
	Twilio   TwilioConfig   `yaml:"twilio" json:"twilio"`
	Telegram TelegramConfig `yaml:"telegram" json:"telegram"`
}

type TwilioConfig struct {
	Enabled           bool   `yaml:"enabled" json:"enabled"`
	AccountSID        string `yaml:"accountSid" json:"accountSid" env:"TWILIO_ACCOUNT_SID"`
	AuthToken         string `yaml:"authToken" json:"authToken" env:"TWILIO_AUTH_TOKEN"`
	From              string `yaml:"from" json:"from" env:"TWILIO_PHONE_NUMBER"`
	Host              string `yaml:"host" json:"host"`
	Port              int    `yaml:"port" json:"port" env:"PORT"`
	WebhookPath       string `yaml:"webhookPath" json:"webhookPath"`
	ValidateSignature bool   `yaml:"validateSignature" json:"validateSignature"`
	PublicURL         string `yaml:"publicUrl,omitempty" json:"publicUrl,omitempty" env:"PUBLIC_URL"`
	MaxMessageLength  int    `yaml:"maxMessageLength" json:"maxMessageLength"`
}

type TelegramConfig struct {
	Enabled          bool           `yaml:"enabled" json:"enabled"`
	Token            string         `yaml:"token" json:"token" env:"TELEGRAM_BOT_TOKEN"`
	AllowFrom        FlexStringList `yaml:"allowFrom" json:"allowFrom"`
	ParseMode        string         `yaml:"parseMode" json:"parseMode"`
	MaxMessageLength int            `yaml:"maxMessageLength" json:"maxMessageLength"`
}

// FlexStringList is a []string that accepts both strings and numbers
// (e.g. [123, "456"] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.SequenceNode {
		return fmt.Errorf("line %d: expected a list", node.Line)
	}
	result := make([]string, 0, len(node.Content))
	for _, item := range node.Content {
		if item.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: expected a scalar", item.Line)
		}
		result = append(result, item.Value)
	}
	*f = result
	return nil
}

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

type MemoryConfig struct {
	Driver          string `yaml:"driver" json:"driver" env:"MEMORY_DRIVER"` // "memory" | "sqlite" | "redis"
	Window          int    `yaml:"window" json:"window"`
	PinSystemTurn   bool   `yaml:"pinSystemTurn" json:"pinSystemTurn"`
	DBPath          string `yaml:"dbPath" json:"dbPath"`
	RedisAddr       string `yaml:"redisAddr" json:"redisAddr" env:"REDIS_ADDR"`
	RedisPassword   string `yaml:"redisPassword,omitempty" json:"redisPassword,omitempty" env:"REDIS_PASSWORD"`
	RedisDB         int    `yaml:"redisDB" json:"redisDB"`
	RedisTTLSeconds int    `yaml:"redisTTLSeconds" json:"redisTTLSeconds"` // 0 = no expiry
	KeyPrefix       string `yaml:"keyPrefix" json:"keyPrefix"`
}

// MetricsConfig configures the Prometheus endpoint on the webhook server.
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Endpoint string `yaml:"endpoint" json:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.whatsbot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".whatsbot"
	}
	return filepath.Join(home, ".whatsbot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Load reads the YAML file at path, expands ${VAR} references, overlays the
// environment and validates the result. An empty path starts from Defaults,
// so a deployment can be configured from the environment alone.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// Read is Load without validation, for callers that adjust the config
// (e.g. disable channels) before calling Validate themselves.
func Read(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		path = ExpandPath(path)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
		}

		// Substitute environment variables: ${VAR} and ${VAR:-default}
		data = []byte(ExpandEnvVars(string(data)))

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}

	cfg.Memory.DBPath = ExpandPath(cfg.Memory.DBPath)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	return cfg, nil
}

// ApplyEnv overrides fields tagged with env:"..." from the environment.
// Unset variables leave the file value in place.
func ApplyEnv(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("environment overlay: %w", err)
	}
	return nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

// unresolved reports an empty value or a ${VAR} reference nothing expanded.
func unresolved(v string) bool {
	return v == "" || envVarPattern.MatchString(v)
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values. All problems are
// reported together.
func Validate(cfg *Config) error {
	var errs []string

	switch strings.ToLower(cfg.General.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	if cfg.General.MaxConcurrentMessages < 1 || cfg.General.MaxConcurrentMessages > 100 {
		errs = append(errs, "general.maxConcurrentMessages must be between 1 and 100")
	}

	p := cfg.Providers
	if unresolved(p.APIKey) {
		errs = append(errs, "providers.apiKey is required (set OPENAI_API_KEY)")
	}
	if p.MaxTokens < 1 {
		errs = append(errs, "providers.maxTokens must be >= 1")
	}
	// go-openai omits a zero temperature from the request, so 0 cannot be honoured.
	if p.Temperature <= 0 || p.Temperature > 2 {
		errs = append(errs, "providers.temperature must be greater than 0 and at most 2")
	}
	if p.Transcription.APIKey != "" && unresolved(p.Transcription.APIKey) {
		errs = append(errs, "providers.transcription.apiKey is unset (set TRANSCRIPTION_API_KEY)")
	}
	if p.Vision.APIKey != "" && unresolved(p.Vision.APIKey) {
		errs = append(errs, "providers.vision.apiKey is unset (set VISION_API_KEY)")
	}
	if p.TimeoutSeconds < 1 {
		errs = append(errs, "providers.timeoutSeconds must be >= 1")
	}
	if p.RatePerMinute < 0 {
		errs = append(errs, "providers.ratePerMinute must be >= 0")
	}

	tw := cfg.Channels.Twilio
	if tw.Enabled {
		if unresolved(tw.AccountSID) {
			errs = append(errs, "channels.twilio.accountSid is required (set TWILIO_ACCOUNT_SID)")
		}
		if unresolved(tw.AuthToken) {
			errs = append(errs, "channels.twilio.authToken is required (set TWILIO_AUTH_TOKEN)")
		}
		if unresolved(tw.From) {
			errs = append(errs, "channels.twilio.from is required (set TWILIO_PHONE_NUMBER)")
		}
		if !strings.HasPrefix(tw.WebhookPath, "/") {
			errs = append(errs, "channels.twilio.webhookPath must start with /")
		}
	}
	if tw.Port < 0 || tw.Port > 65535 {
		errs = append(errs, "channels.twilio.port must be between 0 and 65535")
	}
	if tw.MaxMessageLength < 0 || cfg.Channels.Telegram.MaxMessageLength < 0 {
		errs = append(errs, "channels.*.maxMessageLength must be >= 0")
	}
	if cfg.Channels.Telegram.Enabled && unresolved(cfg.Channels.Telegram.Token) {
		errs = append(errs, "channels.telegram.token is required (set TELEGRAM_BOT_TOKEN)")
	}

	m := cfg.Memory
	if m.Window < 1 {
		errs = append(errs, "memory.window must be >= 1")
	}
	switch strings.ToLower(m.Driver) {
	case "", "memory":
	case "sqlite":
		if m.DBPath == "" {
			errs = append(errs, "memory.dbPath is required for the sqlite driver")
		}
	case "redis":
		if m.RedisAddr == "" {
			errs = append(errs, "memory.redisAddr is required for the redis driver (set REDIS_ADDR)")
		}
		if m.RedisTTLSeconds < 0 {
			errs = append(errs, "memory.redisTTLSeconds must be >= 0")
		}
	default:
		errs = append(errs, "memory.driver must be one of: memory, sqlite, redis")
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Endpoint, "/") {
		errs = append(errs, "metrics.endpoint must start with /")
	}

	if len(errs) > 0 {
		return errors.New("config validation errors:\n  - " + strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
