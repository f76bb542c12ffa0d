package domain

import (
	"time"

	"github.com/google/uuid"
)

// Role tags a Turn with its author.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one role-tagged message in a conversation history.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// InboundEvent is a normalized message delivered by a transport.
// Only the first attachment of a multi-attachment message is carried.
type InboundEvent struct {
	ID         string
	Channel    string // transport name, e.g. "twilio", "telegram", "cli"
	ChatID     string // reply destination
	Sender     string // opaque user identifier
	Text       string
	MediaURL   string
	MediaType  string // MIME type of the first attachment
	MediaCount int
	Timestamp  time.Time
}

// HasMedia reports whether the event carries a usable attachment.
func (e InboundEvent) HasMedia() bool {
	return e.MediaCount > 0 && e.MediaURL != ""
}

// SessionKey is the Context Store key for the event's sender.
func (e InboundEvent) SessionKey() string {
	if e.Channel == "" {
		return e.Sender
	}
	return e.Channel + ":" + e.Sender
}

// NewEventID returns a random event ID for transports that do not supply one.
func NewEventID() string {
	return uuid.NewString()
}

// OutboundMessage is a single text delivery routed to a transport.
type OutboundMessage struct {
	Channel string
	ChatID  string
	Content string
}

// OutboundChunk is a transport-sized slice of an oversized reply.
type OutboundChunk struct {
	Text  string
	Index int // 1-based
	Total int
}
