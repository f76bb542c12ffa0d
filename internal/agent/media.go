package agent

import (
	"mime"
	"strings"
)

// MediaKind is the provider path selected for an attachment.
type MediaKind int

const (
	MediaUnsupported MediaKind = iota
	MediaAudio
	MediaImage
)

func (k MediaKind) String() string {
	switch k {
	case MediaAudio:
		return "audio"
	case MediaImage:
		return "image"
	default:
		return "unsupported"
	}
}

// splitMIME returns the lower-cased top-level type and subtype, ignoring
// parameters such as "; codecs=opus".
func splitMIME(mimeType string) (string, string) {
	mediaType, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		// ParseMediaType rejects some values transports do send; fall back
		// to a plain split.
		mediaType = strings.ToLower(strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0]))
	}
	top, sub, _ := strings.Cut(mediaType, "/")
	return top, sub
}

// ClassifyMedia selects the provider path from the MIME top-level token.
func ClassifyMedia(mimeType string) MediaKind {
	top, _ := splitMIME(mimeType)
	switch top {
	case "audio":
		return MediaAudio
	case "image":
		return MediaImage
	default:
		return MediaUnsupported
	}
}

// AudioFormat returns the transcription format hint for an audio MIME type.
// "mpeg" is the only subtype remapped (to "mp3").
func AudioFormat(mimeType string) string {
	_, sub := splitMIME(mimeType)
	if sub == "mpeg" {
		return "mp3"
	}
	return sub
}
