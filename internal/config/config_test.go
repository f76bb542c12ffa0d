package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func validConfig() *Config {
	cfg := Defaults()
	cfg.Providers.APIKey = "sk-test-1234567890"
	cfg.Channels.Twilio.AccountSID = "AC123"
	cfg.Channels.Twilio.AuthToken = "token-abcdefgh"
	cfg.Channels.Twilio.From = "+14155238886"
	return cfg
}

// clearEnv blanks every variable ApplyEnv reads so the host environment
// cannot leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"LOG_LEVEL", "OPENAI_API_KEY", "OPENAI_API_BASE", "OPENAI_CHAT_MODEL",
		"TWILIO_ACCOUNT_SID", "TWILIO_AUTH_TOKEN", "TWILIO_PHONE_NUMBER", "PORT", "PUBLIC_URL",
		"TELEGRAM_BOT_TOKEN", "MEMORY_DRIVER", "REDIS_ADDR", "REDIS_PASSWORD",
		"TRANSCRIPTION_API_KEY", "TRANSCRIPTION_API_BASE", "VISION_API_KEY", "VISION_API_BASE",
	} {
		t.Setenv(k, "")
	}
}

// --- Validate ---

func TestValidate_ValidConfig(t *testing.T) {
	if err := Validate(validConfig()); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_MissingAPIKey(t *testing.T) {
	cfg := validConfig()
	cfg.Providers.APIKey = ""
	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "OPENAI_API_KEY") {
		t.Fatalf("expected apiKey error, got %v", err)
	}

	cfg.Providers.APIKey = "${OPENAI_API_KEY}"
	if err := Validate(cfg); err == nil {
		t.Fatal("unexpanded ${VAR} should count as missing")
	}
}

func TestValidate_MaxConcurrentMessages_Boundary(t *testing.T) {
	cfg := validConfig()
	for _, n := range []int{1, 100} {
		cfg.General.MaxConcurrentMessages = n
		if err := Validate(cfg); err != nil {
			t.Fatalf("maxConcurrentMessages=%d should be valid: %v", n, err)
		}
	}
	for _, n := range []int{0, 101} {
		cfg.General.MaxConcurrentMessages = n
		if err := Validate(cfg); err == nil {
			t.Fatalf("expected error for maxConcurrentMessages=%d", n)
		}
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := validConfig()
	cfg.Channels.Twilio.Port = -1
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for negative port")
	}

	cfg.Channels.Twilio.Port = 70000
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for port > 65535")
	}
}

func TestValidate_TwilioCredentialsOnlyWhenEnabled(t *testing.T) {
	cfg := validConfig()
	cfg.Channels.Twilio.AuthToken = ""
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for missing auth token")
	}

	cfg.Channels.Twilio.Enabled = false
	if err := Validate(cfg); err != nil {
		t.Fatalf("disabled twilio should not need credentials: %v", err)
	}
}

func TestValidate_TelegramToken(t *testing.T) {
	cfg := validConfig()
	cfg.Channels.Telegram.Enabled = true
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for missing telegram token")
	}
	cfg.Channels.Telegram.Token = "123:abc"
	if err := Validate(cfg); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
}

func TestValidate_MemoryDrivers(t *testing.T) {
	cfg := validConfig()
	cfg.Memory.Driver = "mongo"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unknown driver")
	}

	cfg.Memory.Driver = "redis"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for redis without address")
	}
	cfg.Memory.RedisAddr = "localhost:6379"
	if err := Validate(cfg); err != nil {
		t.Fatalf("unexpected: %v", err)
	}

	cfg.Memory.Driver = "sqlite"
	cfg.Memory.DBPath = ""
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for sqlite without dbPath")
	}

	cfg = validConfig()
	cfg.Memory.Window = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for window=0")
	}
}

func TestValidate_ReportsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Providers.APIKey = ""
	cfg.Memory.Window = 0
	cfg.General.LogLevel = "loud"
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected errors")
	}
	for _, want := range []string{"apiKey", "memory.window", "logLevel"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q missing %q", err, want)
		}
	}
}

func TestValidate_Temperature(t *testing.T) {
	cfg := validConfig()
	for _, temp := range []float32{0, -0.5, 2.5} {
		cfg.Providers.Temperature = temp
		if err := Validate(cfg); err == nil {
			t.Fatalf("expected error for temperature %v", temp)
		}
	}
	for _, temp := range []float32{0.1, 2} {
		cfg.Providers.Temperature = temp
		if err := Validate(cfg); err != nil {
			t.Fatalf("temperature %v should be valid: %v", temp, err)
		}
	}
}

func TestValidate_EndpointOverrides(t *testing.T) {
	cfg := validConfig()
	cfg.Providers.Vision.APIBase = "https://generativelanguage.googleapis.com/v1beta/openai"
	if err := Validate(cfg); err != nil {
		t.Fatalf("base override without key should reuse the main key: %v", err)
	}

	cfg.Providers.Vision.APIKey = "${GEMINI_API_KEY}"
	if err := Validate(cfg); err == nil || !strings.Contains(err.Error(), "VISION_API_KEY") {
		t.Fatalf("expected unresolved vision key error, got %v", err)
	}
}

func TestLoad_EndpointOverridesFromFileAndEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("VISION_API_KEY", "gemini-key")
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
providers:
  apiKey: groq-key
  apiBase: https://api.groq.com/openai/v1
  chatModel: llama-3.1-70b-versatile
  transcription:
    model: whisper-large-v3
  vision:
    model: gemini-1.5-flash
    apiBase: https://generativelanguage.googleapis.com/v1beta/openai
channels:
  twilio:
    enabled: false
`
	os.WriteFile(path, []byte(content), 0o644)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Providers.Transcription.Model != "whisper-large-v3" || cfg.Providers.Transcription.APIBase != "" {
		t.Fatalf("unexpected transcription: %+v", cfg.Providers.Transcription)
	}
	if cfg.Providers.Vision.Model != "gemini-1.5-flash" || cfg.Providers.Vision.APIKey != "gemini-key" {
		t.Fatalf("unexpected vision: %+v", cfg.Providers.Vision)
	}
	if s := Sanitize(cfg); s.Providers.Vision.APIKey == "gemini-key" {
		t.Fatal("vision key not masked")
	}
}

// --- Load / Save ---

func TestLoadSave_RoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")

	original := validConfig()
	original.Providers.ChatModel = "gpt-4o-mini"
	original.Memory.PinSystemTurn = true

	if err := Save(path, original); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if loaded.Providers.ChatModel != "gpt-4o-mini" {
		t.Fatalf("expected 'gpt-4o-mini', got %q", loaded.Providers.ChatModel)
	}
	if !loaded.Memory.PinSystemTurn {
		t.Fatal("pinSystemTurn lost in round trip")
	}
}

func TestSave_FileMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	if err := Save(path, validConfig()); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600, got %v", info.Mode().Perm())
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("general: [unclosed"), 0o644)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
providers:
  apiKey: sk-partial
channels:
  twilio:
    enabled: false
`
	os.WriteFile(path, []byte(content), 0o644)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Providers.ChatModel != "gpt-4o" || cfg.Memory.Window != 10 {
		t.Fatalf("defaults not kept: %+v %+v", cfg.Providers, cfg.Memory)
	}
	if cfg.Channels.Twilio.Port != 5000 {
		t.Fatalf("expected default port, got %d", cfg.Channels.Twilio.Port)
	}
}

func TestLoad_ValidatesConfig(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(path, []byte("memory:\n  window: 0\n"), 0o644)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
providers:
  apiKey: from-file
channels:
  twilio:
    accountSid: AC-file
    authToken: file-token
    from: "+1000"
    port: 5000
`
	os.WriteFile(path, []byte(content), 0o644)

	t.Setenv("OPENAI_API_KEY", "from-env")
	t.Setenv("PORT", "8080")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Providers.APIKey != "from-env" {
		t.Fatalf("expected env api key, got %q", cfg.Providers.APIKey)
	}
	if cfg.Channels.Twilio.Port != 8080 {
		t.Fatalf("expected port 8080, got %d", cfg.Channels.Twilio.Port)
	}
	if cfg.Channels.Twilio.AccountSID != "AC-file" {
		t.Fatalf("unset env var should keep file value, got %q", cfg.Channels.Twilio.AccountSID)
	}
}

func TestLoad_EnvOnly(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("TWILIO_ACCOUNT_SID", "AC1")
	t.Setenv("TWILIO_AUTH_TOKEN", "tok")
	t.Setenv("TWILIO_PHONE_NUMBER", "+14155238886")
	t.Setenv("MEMORY_DRIVER", "redis")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Memory.Driver != "redis" || cfg.Memory.RedisAddr != "localhost:6379" {
		t.Fatalf("env not applied: %+v", cfg.Memory)
	}
}

func TestLoad_InvalidEnvValue(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("PORT", "not-a-number")
	cfg := validConfig()
	if err := ApplyEnv(cfg); err == nil {
		t.Fatal("expected parse error for PORT")
	}
}

func TestLoad_WithEnvVarSubstitution(t *testing.T) {
	clearEnv(t)
	t.Setenv("WHATSBOT_TEST_KEY", "sk-substituted")
	t.Setenv("WHATSBOT_TEST_MODEL", "")

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
providers:
  apiKey: ${WHATSBOT_TEST_KEY}
  chatModel: ${WHATSBOT_TEST_MODEL:-gpt-4o-mini}
channels:
  twilio:
    enabled: false
`
	os.WriteFile(path, []byte(content), 0o644)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Providers.APIKey != "sk-substituted" {
		t.Fatalf("expected substituted key, got %q", cfg.Providers.APIKey)
	}
	if cfg.Providers.ChatModel != "gpt-4o-mini" {
		t.Fatalf("expected default model, got %q", cfg.Providers.ChatModel)
	}
}

func TestTemplate_NeedsEnvironment(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := Save(path, Template()); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("template without environment should not validate")
	}

	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("TWILIO_ACCOUNT_SID", "AC1")
	t.Setenv("TWILIO_AUTH_TOKEN", "tok")
	t.Setenv("TWILIO_PHONE_NUMBER", "+14155238886")
	if _, err := Load(path); err != nil {
		t.Fatalf("template with environment: %v", err)
	}
}

// --- GetByPath / SetByPath ---

func TestGetByPath_ValidPaths(t *testing.T) {
	cfg := validConfig()
	val, err := GetByPath(cfg, "memory.window")
	if err != nil {
		t.Fatal(err)
	}
	if val != float64(10) {
		t.Fatalf("expected 10, got %v (%T)", val, val)
	}

	val, err = GetByPath(cfg, "providers.chatModel")
	if err != nil || val != "gpt-4o" {
		t.Fatalf("expected gpt-4o, got %v (%v)", val, err)
	}
}

func TestGetByPath_InvalidPath(t *testing.T) {
	_, err := GetByPath(validConfig(), "nonexistent.path")
	if err == nil {
		t.Fatal("expected error for invalid path")
	}
}

func TestSetByPath_Conversions(t *testing.T) {
	cfg := validConfig()
	if err := SetByPath(cfg, "memory.pinSystemTurn", "true"); err != nil {
		t.Fatal(err)
	}
	if err := SetByPath(cfg, "channels.twilio.port", "8080"); err != nil {
		t.Fatal(err)
	}
	if err := SetByPath(cfg, "providers.temperature", "0.2"); err != nil {
		t.Fatal(err)
	}
	if err := SetByPath(cfg, "providers.chatModel", "gpt-4o-mini"); err != nil {
		t.Fatal(err)
	}
	if !cfg.Memory.PinSystemTurn || cfg.Channels.Twilio.Port != 8080 {
		t.Fatalf("unexpected: %+v %+v", cfg.Memory, cfg.Channels.Twilio)
	}
	if cfg.Providers.Temperature != 0.2 || cfg.Providers.ChatModel != "gpt-4o-mini" {
		t.Fatalf("unexpected: %+v", cfg.Providers)
	}
}

func TestSetByPath_TypeMismatch(t *testing.T) {
	cfg := validConfig()
	if err := SetByPath(cfg, "memory.window", "lots"); err == nil {
		t.Fatal("expected error setting a string into an int field")
	}
}

func TestSetByPath_NumericLookingStringStaysString(t *testing.T) {
	cfg := validConfig()
	if err := SetByPath(cfg, "channels.twilio.from", "+14155238886"); err != nil {
		t.Fatalf("set phone number: %v", err)
	}
	if cfg.Channels.Twilio.From != "+14155238886" {
		t.Fatalf("expected phone number kept verbatim, got %q", cfg.Channels.Twilio.From)
	}
	if err := SetByPath(cfg, "providers.chatModel", "1106"); err != nil {
		t.Fatal(err)
	}
	if cfg.Providers.ChatModel != "1106" {
		t.Fatalf("got %q", cfg.Providers.ChatModel)
	}
}

func TestSetByPath_UnknownKeyRejected(t *testing.T) {
	cfg := validConfig()
	err := SetByPath(cfg, "memory.windwo", "20")
	if err == nil || !strings.Contains(err.Error(), "unknown config key") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
	if cfg.Memory.Window != 10 {
		t.Fatalf("window changed to %d", cfg.Memory.Window)
	}

	if err := SetByPath(cfg, "memory", "x"); err == nil {
		t.Fatal("a section is not a settable value")
	}
	if err := SetByPath(cfg, "", "x"); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestSetByPath_OmitEmptyFieldsAndLists(t *testing.T) {
	cfg := validConfig()
	if err := SetByPath(cfg, "providers.apiBase", "https://api.groq.com/openai/v1"); err != nil {
		t.Fatalf("set empty omitempty field: %v", err)
	}
	if cfg.Providers.APIBase != "https://api.groq.com/openai/v1" {
		t.Fatalf("got %q", cfg.Providers.APIBase)
	}

	if err := SetByPath(cfg, "channels.telegram.allowFrom", "123, 456"); err != nil {
		t.Fatal(err)
	}
	if len(cfg.Channels.Telegram.AllowFrom) != 2 || cfg.Channels.Telegram.AllowFrom[1] != "456" {
		t.Fatalf("got %v", cfg.Channels.Telegram.AllowFrom)
	}

	if err := SetByPath(cfg, "metrics.enabled", "maybe"); err == nil {
		t.Fatal("expected error for non-boolean value")
	}
}

// --- Sanitize / ListPaths ---

func TestSanitize_MasksSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.Channels.Telegram.Token = "123456789:ABCdefGHIjklMNO"
	cfg.Memory.RedisPassword = "hunter2"

	s := Sanitize(cfg)
	if s.Providers.APIKey != "sk-t****7890" {
		t.Fatalf("api key not masked: %q", s.Providers.APIKey)
	}
	if s.Channels.Twilio.AuthToken == cfg.Channels.Twilio.AuthToken {
		t.Fatal("auth token not masked")
	}
	if s.Channels.Telegram.Token == cfg.Channels.Telegram.Token {
		t.Fatal("telegram token not masked")
	}
	if s.Memory.RedisPassword != "***" {
		t.Fatalf("redis password not masked: %q", s.Memory.RedisPassword)
	}
	if cfg.Providers.APIKey != "sk-test-1234567890" {
		t.Fatal("original config should not be modified")
	}
}

func TestSanitize_ShortSecret(t *testing.T) {
	if got := maskString("short"); got != "***" {
		t.Fatalf("expected ***, got %q", got)
	}
}

func TestListPaths_ReturnsAllLeaves(t *testing.T) {
	paths := ListPaths(validConfig())
	for _, want := range []string{"general.logLevel", "providers.chatModel", "channels.twilio.port", "memory.driver", "metrics.endpoint"} {
		if _, ok := paths[want]; !ok {
			t.Fatalf("missing path %q", want)
		}
	}
	for p, v := range paths {
		if _, isMap := v.(map[string]any); isMap {
			t.Fatalf("path %q is not a leaf", p)
		}
	}
}

// --- FlexStringList ---

func TestFlexStringList_MixedTypesYAML(t *testing.T) {
	var cfg TelegramConfig
	if err := yaml.Unmarshal([]byte(`allowFrom: [123456, "789", "@alice"]`), &cfg); err != nil {
		t.Fatal(err)
	}
	want := []string{"123456", "789", "@alice"}
	if len(cfg.AllowFrom) != len(want) {
		t.Fatalf("got %v", cfg.AllowFrom)
	}
	for i := range want {
		if cfg.AllowFrom[i] != want[i] {
			t.Fatalf("got %v, want %v", cfg.AllowFrom, want)
		}
	}
}

func TestFlexStringList_NotAList(t *testing.T) {
	var cfg TelegramConfig
	if err := yaml.Unmarshal([]byte(`allowFrom: 123`), &cfg); err == nil {
		t.Fatal("expected error for scalar allowFrom")
	}
}

func TestFlexStringList_MixedTypesJSON(t *testing.T) {
	var f FlexStringList
	if err := json.Unmarshal([]byte(`[123, "456"]`), &f); err != nil {
		t.Fatal(err)
	}
	if len(f) != 2 || f[0] != "123" || f[1] != "456" {
		t.Fatalf("got %v", f)
	}
}

// --- ExpandEnvVars ---

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("WB_SET", "value")
	t.Setenv("WB_EMPTY", "")

	cases := []struct {
		in, want string
	}{
		{"${WB_SET}", "value"},
		{"${WB_UNSET_XYZ:-fallback}", "fallback"},
		{"${WB_SET:-fallback}", "value"},
		{"${WB_EMPTY:-fallback}", "fallback"},
		{"a=${WB_SET} b=${WB_SET}", "a=value b=value"},
		{"${WB_UNSET_XYZ}", "${WB_UNSET_XYZ}"},
		{"no vars here", "no vars here"},
		{"$WB_SET", "$WB_SET"},
	}
	for _, c := range cases {
		if got := ExpandEnvVars(c.in); got != c.want {
			t.Errorf("ExpandEnvVars(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestExpandPath_Home(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir")
	}
	if got := ExpandPath("~/x.db"); got != filepath.Join(home, "x.db") {
		t.Fatalf("got %q", got)
	}
	if got := ExpandPath("/abs/x.db"); got != "/abs/x.db" {
		t.Fatalf("got %q", got)
	}
}

func TestRead_SkipsValidation(t *testing.T) {
	clearEnv(t)
	cfg, err := Read("")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := Validate(cfg); err == nil {
		t.Fatal("defaults without credentials should not validate")
	}

	cfg.Providers.APIKey = "sk-x"
	cfg.Channels.Twilio.Enabled = false
	if err := Validate(cfg); err != nil {
		t.Fatalf("chat-only config should validate: %v", err)
	}
}
