package channel

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/twilio/twilio-go"
	twclient "github.com/twilio/twilio-go/client"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	"whatsbot/internal/domain"
)

const (
	twilioChannelName = "twilio"
	maxWebhookBody    = 1 << 20
	busyReply         = "❌ Sorry, an error occurred."
)

// messageCreator is the slice of the Twilio REST API used to send replies.
type messageCreator interface {
	CreateMessage(params *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error)
}

// TwilioConfig configures the Twilio WhatsApp channel and the HTTP gateway
// it serves.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	From       string // bot number, with or without the "whatsapp:" prefix

	Host        string
	Port        int
	WebhookPath string

	// ValidateSignature checks X-Twilio-Signature against PublicURL (or the
	// request's own URL when PublicURL is empty).
	ValidateSignature bool
	PublicURL         string

	// MetricsHandler is mounted at MetricsPath when non-nil.
	MetricsHandler http.Handler
	MetricsPath    string

	Logger *slog.Logger
}

// Twilio implements domain.Channel for WhatsApp via Twilio. Inbound messages
// arrive on a form-encoded webhook; replies go through the Messages API.
type Twilio struct {
	cfg       TwilioConfig
	messages  messageCreator
	validator twclient.RequestValidator
	bus       domain.MessageBus
	logger    *slog.Logger

	mu     sync.Mutex
	server *http.Server
}

func NewTwilio(cfg TwilioConfig) *Twilio {
	if cfg.WebhookPath == "" {
		cfg.WebhookPath = "/webhook"
	}
	if cfg.Port == 0 {
		cfg.Port = 5000
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &Twilio{
		cfg:       cfg,
		messages:  client.Api,
		validator: twclient.NewRequestValidator(cfg.AuthToken),
		logger:    cfg.Logger,
	}
}

func (t *Twilio) Name() string { return twilioChannelName }

// Start registers the sender and serves the webhook until ctx is cancelled.
func (t *Twilio) Start(ctx context.Context, bus domain.MessageBus) error {
	t.bus = bus
	bus.OnOutbound(twilioChannelName, t)

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", t.cfg.Host, t.cfg.Port),
		Handler:           t.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	t.mu.Lock()
	t.server = srv
	t.mu.Unlock()

	t.logger.Info("twilio webhook server starting",
		"addr", srv.Addr,
		"path", t.cfg.WebhookPath,
		"validate_signature", t.cfg.ValidateSignature,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		t.logger.Info("twilio webhook server shutting down")
		return t.Stop()
	case err := <-errCh:
		return fmt.Errorf("twilio webhook server: %w", err)
	}
}

func (t *Twilio) Stop() error {
	t.mu.Lock()
	srv := t.server
	t.server = nil
	t.mu.Unlock()
	if srv == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// Handler returns the gateway mux: webhook, health and optional metrics.
func (t *Twilio) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+t.cfg.WebhookPath, t.handleWebhook)
	mux.HandleFunc("GET /health", handleHealth)
	if t.cfg.MetricsHandler != nil {
		mux.Handle("GET "+t.cfg.MetricsPath, t.cfg.MetricsHandler)
	}
	return mux
}

// Send delivers text to a WhatsApp address and returns the message SID.
func (t *Twilio) Send(ctx context.Context, to, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	params := &openapi.CreateMessageParams{}
	params.SetTo(whatsappAddress(to))
	params.SetFrom(whatsappAddress(t.cfg.From))
	params.SetBody(text)

	resp, err := t.messages.CreateMessage(params)
	if err != nil {
		return "", fmt.Errorf("twilio send: %w", err)
	}
	sid := ""
	if resp != nil && resp.Sid != nil {
		sid = *resp.Sid
	}
	t.logger.Debug("twilio message sent", "to", to, "sid", sid, "len", len(text))
	return sid, nil
}

func (t *Twilio) handleWebhook(rw http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(rw, r.Body, maxWebhookBody)
	// Malformed deliveries are acknowledged so Twilio does not retry them.
	if err := r.ParseForm(); err != nil {
		t.logger.Warn("twilio unreadable form", "remote", r.RemoteAddr, "err", err)
		writeTwiML(rw, "")
		return
	}

	if t.cfg.ValidateSignature && !t.validSignature(r) {
		t.logger.Warn("twilio invalid signature", "remote", r.RemoteAddr)
		http.Error(rw, "Forbidden", http.StatusForbidden)
		return
	}

	ev, err := parseTwilioForm(r)
	if err != nil {
		t.logger.Warn("twilio bad payload", "remote", r.RemoteAddr, "err", err)
		writeTwiML(rw, "")
		return
	}

	t.logger.Info("twilio message received",
		"event", ev.ID,
		"from", ev.Sender,
		"text_len", len(ev.Text),
		"media", ev.MediaCount,
	)

	if !t.bus.Publish(ev) {
		writeTwiML(rw, busyReply)
		return
	}
	writeTwiML(rw, "")
}

func (t *Twilio) validSignature(r *http.Request) bool {
	sig := r.Header.Get("X-Twilio-Signature")
	if sig == "" {
		return false
	}
	params := make(map[string]string, len(r.PostForm))
	for k, v := range r.PostForm {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	return t.validator.Validate(t.requestURL(r), params, sig)
}

func (t *Twilio) requestURL(r *http.Request) string {
	if t.cfg.PublicURL != "" {
		return strings.TrimRight(t.cfg.PublicURL, "/") + r.URL.RequestURI()
	}
	scheme := "https"
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	} else if r.TLS == nil {
		scheme = "http"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

// parseTwilioForm maps the webhook fields onto an InboundEvent. Only the
// first attachment (MediaUrl0) is used.
func parseTwilioForm(r *http.Request) (domain.InboundEvent, error) {
	from := r.PostForm.Get("From")
	if from == "" {
		return domain.InboundEvent{}, errors.New("missing From")
	}

	numMedia, _ := strconv.Atoi(r.PostForm.Get("NumMedia"))
	if numMedia < 0 {
		numMedia = 0
	}

	ev := domain.InboundEvent{
		ID:         r.PostForm.Get("MessageSid"),
		Channel:    twilioChannelName,
		ChatID:     from,
		Sender:     from,
		Text:       r.PostForm.Get("Body"),
		MediaCount: numMedia,
		Timestamp:  time.Now(),
	}
	if ev.ID == "" {
		ev.ID = domain.NewEventID()
	}
	if numMedia > 0 {
		ev.MediaURL = r.PostForm.Get("MediaUrl0")
		ev.MediaType = r.PostForm.Get("MediaContentType0")
	}
	return ev, nil
}

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Message string   `xml:"Message,omitempty"`
}

// writeTwiML acknowledges the webhook. An empty message tells Twilio not to
// reply on its own.
func writeTwiML(rw http.ResponseWriter, message string) {
	rw.Header().Set("Content-Type", "text/xml; charset=utf-8")
	rw.WriteHeader(http.StatusOK)
	rw.Write([]byte(xml.Header))
	xml.NewEncoder(rw).Encode(twimlResponse{Message: message})
}

func handleHealth(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "application/json")
	json.NewEncoder(rw).Encode(map[string]string{
		"status":  "healthy",
		"service": "whatsbot",
	})
}

func whatsappAddress(number string) string {
	if number == "" || strings.HasPrefix(number, "whatsapp:") {
		return number
	}
	return "whatsapp:" + number
}
