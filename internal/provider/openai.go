package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"whatsbot/internal/domain"
)

const (
	defaultChatModel   = openai.GPT4o
	defaultMaxTokens   = 500
	defaultTemperature = 0.7
	defaultLanguage    = "en"
)

// OpenAIConfig configures chat, vision and transcription against an
// OpenAI-compatible API.
type OpenAIConfig struct {
	APIKey             string
	APIBase            string // empty uses https://api.openai.com/v1
	ChatModel          string
	VisionModel        string
	TranscriptionModel string
	Language           string // ISO-639-1 hint for transcription; "auto" lets the API detect
	MaxTokens          int
	Temperature        float32 // 0 means defaultTemperature
	HTTPClient         *http.Client
	Logger             *slog.Logger
}

// OpenAI implements domain.ChatProvider, domain.Transcriber,
// domain.ImageAnalyzer and domain.HealthChecker.
type OpenAI struct {
	client             *openai.Client
	chatModel          string
	visionModel        string
	transcriptionModel string
	language           string
	maxTokens          int
	temperature        float32
	logger             *slog.Logger
}

var (
	_ domain.ChatProvider  = (*OpenAI)(nil)
	_ domain.Transcriber   = (*OpenAI)(nil)
	_ domain.ImageAnalyzer = (*OpenAI)(nil)
	_ domain.HealthChecker = (*OpenAI)(nil)
)

// ErrEmptyCompletion is returned when the API answers without choices.
var ErrEmptyCompletion = errors.New("completion has no choices")

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.ChatModel == "" {
		cfg.ChatModel = defaultChatModel
	}
	if cfg.VisionModel == "" {
		cfg.VisionModel = cfg.ChatModel
	}
	if cfg.TranscriptionModel == "" {
		cfg.TranscriptionModel = openai.Whisper1
	}
	if cfg.Language == "" {
		cfg.Language = defaultLanguage
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	// go-openai drops a zero temperature from the request, so zero selects
	// the default instead of greedy sampling.
	if cfg.Temperature <= 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.APIBase != "" {
		oc.BaseURL = strings.TrimRight(cfg.APIBase, "/")
	}
	if cfg.HTTPClient != nil {
		oc.HTTPClient = cfg.HTTPClient
	}

	return &OpenAI{
		client:             openai.NewClientWithConfig(oc),
		chatModel:          cfg.ChatModel,
		visionModel:        cfg.VisionModel,
		transcriptionModel: cfg.TranscriptionModel,
		language:           cfg.Language,
		maxTokens:          cfg.MaxTokens,
		temperature:        cfg.Temperature,
		logger:             cfg.Logger,
	}
}

func (o *OpenAI) Name() string { return "openai" }

// Healthy lists models to verify the key and endpoint.
func (o *OpenAI) Healthy(ctx context.Context) error {
	if _, err := o.client.ListModels(ctx); err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusUnauthorized {
			return fmt.Errorf("openai: invalid API key")
		}
		return fmt.Errorf("openai not reachable: %w", err)
	}
	return nil
}

// Chat sends the turn list and returns the first choice's content.
func (o *OpenAI) Chat(ctx context.Context, turns []domain.Turn) (string, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(turns))
	for _, t := range turns {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: string(t.Role), Content: t.Content})
	}

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.chatModel,
		Messages:    msgs,
		MaxTokens:   o.maxTokens,
		Temperature: o.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}

	o.logger.Debug("chat completion",
		"model", o.chatModel,
		"turns", len(turns),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)
	return resp.Choices[0].Message.Content, nil
}

// Transcribe uploads audio to the transcription endpoint. format becomes
// the upload's file extension, which the API uses to pick a decoder.
func (o *OpenAI) Transcribe(ctx context.Context, audio []byte, format string) (string, error) {
	if format == "" {
		format = "ogg"
	}
	req := openai.AudioRequest{
		Model:    o.transcriptionModel,
		FilePath: "audio." + format,
		Reader:   bytes.NewReader(audio),
	}
	if o.language != "auto" {
		req.Language = o.language
	}

	resp, err := o.client.CreateTranscription(ctx, req)
	if err != nil {
		return "", fmt.Errorf("transcription: %w", err)
	}
	o.logger.Debug("transcription", "model", o.transcriptionModel, "format", format, "bytes", len(audio))
	return resp.Text, nil
}

// AnalyzeImage sends the image inline as a base64 data URL next to prompt.
func (o *OpenAI) AnalyzeImage(ctx context.Context, image []byte, mimeType, prompt string) (string, error) {
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = "image/jpeg"
	}
	dataURL := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(image)

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     o.visionModel,
		MaxTokens: o.maxTokens,
		Messages: []openai.ChatCompletionMessage{{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: prompt},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
					URL:    dataURL,
					Detail: openai.ImageURLDetailAuto,
				}},
			},
		}},
	})
	if err != nil {
		return "", fmt.Errorf("image analysis: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	return resp.Choices[0].Message.Content, nil
}
