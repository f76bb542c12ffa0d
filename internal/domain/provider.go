package domain

import "context"

// ChatProvider produces one assistant turn from an ordered turn list.
type ChatProvider interface {
	Chat(ctx context.Context, turns []Turn) (string, error)
}

// Transcriber converts raw audio to text. format is a file-format hint such
// as "ogg" or "mp3".
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, format string) (string, error)
}

// ImageAnalyzer describes an image in response to a prompt.
type ImageAnalyzer interface {
	AnalyzeImage(ctx context.Context, image []byte, mimeType, prompt string) (string, error)
}

// MediaFetcher downloads an attachment. Transport credentials are the
// fetcher's concern.
type MediaFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// HealthChecker is implemented by providers that can verify reachability.
type HealthChecker interface {
	Healthy(ctx context.Context) error
}
