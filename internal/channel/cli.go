package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"whatsbot/internal/domain"
)

const (
	cliChannelName = "cli"
	cliUser        = "local"
)

// audioTypes covers extensions the system MIME table often lacks.
var audioTypes = map[string]string{
	".ogg":  "audio/ogg",
	".opus": "audio/ogg",
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".wav":  "audio/wav",
	".webm": "audio/webm",
	".amr":  "audio/amr",
}

// CLI implements domain.Channel for interactive terminal chat against the
// same pipeline the messaging channels use.
type CLI struct {
	bus     domain.MessageBus
	logger  *slog.Logger
	in      io.Reader
	out     io.Writer
	spinner bool
	sent    atomic.Int64

	outMu     sync.Mutex
	thinking  bool
	thinkStop chan struct{}
}

type CLIConfig struct {
	Logger  *slog.Logger
	In      io.Reader
	Out     io.Writer
	Spinner bool // animate while waiting for a reply
}

func NewCLI(cfg CLIConfig) *CLI {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CLI{
		logger:  cfg.Logger,
		in:      cfg.In,
		out:     cfg.Out,
		spinner: cfg.Spinner,
	}
}

func (c *CLI) Name() string { return cliChannelName }

// Start runs the interactive REPL and blocks until EOF, /quit or ctx is
// cancelled. "/media <path-or-url> [caption]" sends an attachment.
func (c *CLI) Start(ctx context.Context, bus domain.MessageBus) error {
	c.bus = bus
	bus.OnOutbound(cliChannelName, c)

	c.print("whatsbot CLI. Type a message and press Enter. /media <file> [caption] sends an attachment, /quit exits.\nYou> ")

	scanner := bufio.NewScanner(c.in)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return err
			}
			return nil // EOF
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			c.print("You> ")
			continue
		}
		if line == "/quit" || line == "/exit" || line == "/q" {
			c.logger.Info("user requested quit")
			return nil
		}

		ev := c.parseLine(line)
		c.startThinking()
		if !c.bus.Publish(ev) {
			c.stopThinking()
			c.print("(bus full, message dropped)\nYou> ")
		}
	}
}

// parseLine builds an InboundEvent from one REPL line.
func (c *CLI) parseLine(line string) domain.InboundEvent {
	ev := domain.InboundEvent{
		ID:        domain.NewEventID(),
		Channel:   cliChannelName,
		ChatID:    cliUser,
		Sender:    cliUser,
		Text:      line,
		Timestamp: time.Now(),
	}

	rest, ok := strings.CutPrefix(line, "/media ")
	if !ok {
		return ev
	}
	target, caption, _ := strings.Cut(strings.TrimSpace(rest), " ")
	if !strings.Contains(target, "://") {
		if abs, err := filepath.Abs(target); err == nil {
			target = abs
		}
		target = "file://" + filepath.ToSlash(target)
	}

	ev.Text = strings.TrimSpace(caption)
	ev.MediaCount = 1
	ev.MediaURL = target
	ev.MediaType = guessMIME(target)
	return ev
}

func guessMIME(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if t, ok := audioTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

// Send prints one reply part and returns a local delivery id.
func (c *CLI) Send(ctx context.Context, chatID string, content string) (string, error) {
	c.stopThinking()
	n := c.sent.Add(1)
	c.print(fmt.Sprintf("\r\033[K--- whatsbot ---\n%s\n----------------\nYou> ", content))
	return fmt.Sprintf("cli-%d", n), nil
}

func (c *CLI) print(s string) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	_, _ = fmt.Fprint(c.out, s)
}

func (c *CLI) startThinking() {
	if !c.spinner {
		return
	}
	c.outMu.Lock()
	defer c.outMu.Unlock()
	if c.thinking {
		return
	}
	c.thinking = true
	stop := make(chan struct{})
	c.thinkStop = stop
	go func() {
		frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
		i := 0
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.outMu.Lock()
				if c.thinking && c.thinkStop == stop {
					_, _ = fmt.Fprintf(c.out, "\r%s Thinking...", frames[i%len(frames)])
				}
				c.outMu.Unlock()
				i++
			}
		}
	}()
}

func (c *CLI) stopThinking() {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	if !c.thinking {
		return
	}
	c.thinking = false
	close(c.thinkStop)
}

// Stop is a no-op for CLI (we exit when Start returns).
func (c *CLI) Stop() error { return nil }
