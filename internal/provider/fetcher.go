package provider

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// maxMediaBytes caps a single download; Twilio limits media to 16MB.
const maxMediaBytes = 20 << 20

// FetcherConfig configures the attachment downloader.
type FetcherConfig struct {
	// Username and Password are sent as HTTP basic auth (Twilio account SID
	// and auth token). Empty skips auth.
	Username string
	Password string

	// AuthHosts restricts basic auth to these hosts and their subdomains.
	// Empty sends it everywhere.
	AuthHosts []string

	// AllowFiles enables file:// URLs for local testing.
	AllowFiles bool

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// HTTPFetcher implements domain.MediaFetcher over HTTP(S).
type HTTPFetcher struct {
	username   string
	password   string
	authHosts  []string
	allowFiles bool
	client     *http.Client
	logger     *slog.Logger
}

func NewHTTPFetcher(cfg FetcherConfig) *HTTPFetcher {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = SharedHTTPClient(60 * time.Second)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &HTTPFetcher{
		username:   cfg.Username,
		password:   cfg.Password,
		authHosts:  cfg.AuthHosts,
		allowFiles: cfg.AllowFiles,
		client:     cfg.HTTPClient,
		logger:     cfg.Logger,
	}
}

func (f *HTTPFetcher) authorized(host string) bool {
	if len(f.authHosts) == 0 {
		return true
	}
	host = strings.ToLower(host)
	for _, h := range f.authHosts {
		h = strings.ToLower(h)
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

// Fetch downloads rawURL. Redirects are followed (Twilio media URLs redirect
// to a signed storage URL). An empty body is returned as-is.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse media url: %w", err)
	}

	switch u.Scheme {
	case "http", "https":
	case "file":
		if !f.allowFiles {
			return nil, fmt.Errorf("file urls are disabled")
		}
		return os.ReadFile(u.Path)
	default:
		return nil, fmt.Errorf("unsupported media url scheme %q", u.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if f.username != "" && f.authorized(u.Hostname()) {
		req.SetBasicAuth(f.username, f.password)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("download media: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read media: %w", err)
	}
	if len(data) > maxMediaBytes {
		return nil, fmt.Errorf("media exceeds %d bytes", maxMediaBytes)
	}

	f.logger.Debug("media downloaded", "host", u.Host, "bytes", len(data), "content_type", resp.Header.Get("Content-Type"))
	return data, nil
}
