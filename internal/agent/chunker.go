package agent

import (
	"fmt"
	"unicode"

	"whatsbot/internal/domain"
)

// DefaultChunkLimit is the WhatsApp (Twilio) body limit in characters.
const DefaultChunkLimit = 1600

// Chunk splits message into transport-sized parts, cutting at the last
// whitespace within limit characters and hard-cutting when there is none.
// With more than one part each text is prefixed "[Part i/N]\n"; the marker
// is not counted against limit.
func Chunk(message string, limit int) []domain.OutboundChunk {
	if limit <= 0 {
		limit = DefaultChunkLimit
	}
	runes := []rune(message)
	if len(runes) <= limit {
		return []domain.OutboundChunk{{Text: message, Index: 1, Total: 1}}
	}

	// Every part, the first included, starts at a non-space rune.
	runes = trimLeftSpace(runes)
	switch {
	case len(runes) == 0:
		return []domain.OutboundChunk{{Text: string([]rune(message)[:limit]), Index: 1, Total: 1}}
	case len(runes) <= limit:
		return []domain.OutboundChunk{{Text: string(runes), Index: 1, Total: 1}}
	}

	var parts []string
	for len(runes) > limit {
		cut := lastSpace(runes, limit)
		if cut <= 0 {
			cut = limit
		}
		parts = append(parts, string(runes[:cut]))
		runes = trimLeftSpace(runes[cut:])
	}
	if len(runes) > 0 {
		parts = append(parts, string(runes))
	}

	chunks := make([]domain.OutboundChunk, len(parts))
	for i, p := range parts {
		text := p
		if len(parts) > 1 {
			text = fmt.Sprintf("[Part %d/%d]\n%s", i+1, len(parts), p)
		}
		chunks[i] = domain.OutboundChunk{Text: text, Index: i + 1, Total: len(parts)}
	}
	return chunks
}

// lastSpace returns the index of the last whitespace rune in runes[1:limit+1],
// or -1. Index 0 is skipped so a part is never empty; runes never starts
// with whitespace, so a part is never blank either.
func lastSpace(runes []rune, limit int) int {
	end := limit
	if end >= len(runes) {
		end = len(runes) - 1
	}
	for i := end; i > 0; i-- {
		if unicode.IsSpace(runes[i]) {
			return i
		}
	}
	return -1
}

func trimLeftSpace(runes []rune) []rune {
	for len(runes) > 0 && unicode.IsSpace(runes[0]) {
		runes = runes[1:]
	}
	return runes
}
