package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"whatsbot/internal/domain"
)

const telegramChannelName = "telegram"

// Telegram implements domain.Channel for a Telegram bot using long polling.
type Telegram struct {
	token     string
	allowFrom []int64 // Allowed user IDs (empty = allow all)
	parseMode string

	bot    *tgbotapi.BotAPI
	bus    domain.MessageBus
	logger *slog.Logger

	// fileURL resolves a file ID to a download URL.
	fileURL func(fileID string) (string, error)
}

type TelegramConfig struct {
	Token     string
	AllowFrom []string // User IDs as strings
	ParseMode string
	Logger    *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	var allowed []int64
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	if cfg.ParseMode == "" {
		cfg.ParseMode = tgbotapi.ModeMarkdown
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Telegram{
		token:     cfg.Token,
		allowFrom: allowed,
		parseMode: cfg.ParseMode,
		logger:    cfg.Logger,
	}
}

func (t *Telegram) Name() string { return telegramChannelName }

// Start connects to Telegram and polls for updates until ctx is cancelled.
func (t *Telegram) Start(ctx context.Context, bus domain.MessageBus) error {
	t.bus = bus

	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.fileURL = bot.GetFileDirectURL
	t.logger.Info("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)

	bus.OnOutbound(telegramChannelName, t)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	t.logger.Info("telegram polling started")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(update)
		}
	}
}

// Stop is a no-op: polling ends when Start's context is cancelled, and
// StopReceivingUpdates panics if called twice.
func (t *Telegram) Stop() error {
	return nil
}

// Send delivers one message and returns its Telegram message ID. Markdown
// that Telegram cannot parse is resent as plain text.
func (t *Telegram) Send(ctx context.Context, chatID string, content string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if t.bot == nil {
		return "", fmt.Errorf("telegram bot not started")
	}
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid chat ID: %w", err)
	}

	msg := tgbotapi.NewMessage(id, content)
	msg.ParseMode = t.parseMode
	sent, err := t.bot.Send(msg)
	if err != nil && msg.ParseMode != "" && strings.Contains(err.Error(), "can't parse entities") {
		t.logger.Warn("telegram markdown parse error, sending as plain text", "chat_id", chatID)
		msg.ParseMode = ""
		sent, err = t.bot.Send(msg)
	}
	if err != nil {
		return "", fmt.Errorf("telegram send: %w", err)
	}
	return strconv.Itoa(sent.MessageID), nil
}

func (t *Telegram) handleUpdate(update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return
	}

	if !t.isAllowed(msg.From.ID) {
		t.logger.Warn("unauthorized telegram user",
			"user_id", msg.From.ID,
			"username", msg.From.UserName,
		)
		if _, err := t.Send(context.Background(), strconv.FormatInt(msg.Chat.ID, 10),
			"⛔ Unauthorized. Your user ID is not in the allow list."); err != nil {
			t.logger.Error("telegram send failed", "err", err)
		}
		return
	}

	ev, err := t.buildEvent(msg)
	if err != nil {
		t.logger.Warn("telegram media unavailable", "chat_id", msg.Chat.ID, "err", err)
	}

	t.logger.Info("telegram message received",
		"user_id", msg.From.ID,
		"chat_id", msg.Chat.ID,
		"text_len", len(ev.Text),
		"media", ev.MediaCount,
	)

	if t.bot != nil {
		_, _ = t.bot.Request(tgbotapi.NewChatAction(msg.Chat.ID, tgbotapi.ChatTyping))
	}
	if !t.bus.Publish(ev) {
		t.logger.Error("telegram event dropped", "event", ev.ID)
	}
}

// buildEvent converts a Telegram message into an InboundEvent. A media
// message whose file URL cannot be resolved keeps its MediaCount with an
// empty URL, which the pipeline answers as empty content.
func (t *Telegram) buildEvent(msg *tgbotapi.Message) (domain.InboundEvent, error) {
	ev := domain.InboundEvent{
		ID:        fmt.Sprintf("tg-%d-%d", msg.Chat.ID, msg.MessageID),
		Channel:   telegramChannelName,
		ChatID:    strconv.FormatInt(msg.Chat.ID, 10),
		Sender:    strconv.FormatInt(msg.From.ID, 10),
		Text:      msg.Text,
		Timestamp: time.Unix(int64(msg.Date), 0),
	}
	if msg.Caption != "" {
		ev.Text = msg.Caption
	}

	fileID, mimeType := telegramAttachment(msg)
	if fileID == "" {
		return ev, nil
	}
	ev.MediaCount = 1
	ev.MediaType = mimeType

	url, err := t.fileURL(fileID)
	if err != nil {
		return ev, fmt.Errorf("resolve file %s: %w", fileID, err)
	}
	ev.MediaURL = url
	return ev, nil
}

// telegramAttachment returns the file ID and MIME type of the message's
// attachment, preferring the largest photo size.
func telegramAttachment(msg *tgbotapi.Message) (string, string) {
	switch {
	case msg.Voice != nil:
		return msg.Voice.FileID, orDefault(msg.Voice.MimeType, "audio/ogg")
	case msg.Audio != nil:
		return msg.Audio.FileID, orDefault(msg.Audio.MimeType, "audio/mpeg")
	case len(msg.Photo) > 0:
		return msg.Photo[len(msg.Photo)-1].FileID, "image/jpeg"
	case msg.Document != nil:
		return msg.Document.FileID, orDefault(msg.Document.MimeType, "application/octet-stream")
	case msg.Video != nil:
		return msg.Video.FileID, orDefault(msg.Video.MimeType, "video/mp4")
	}
	return "", ""
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func (t *Telegram) isAllowed(userID int64) bool {
	if len(t.allowFrom) == 0 {
		return true // Empty list = allow all
	}
	for _, id := range t.allowFrom {
		if id == userID {
			return true
		}
	}
	return false
}
