// Package browser is a cookie-keeping HTTP client that fetches upstream pages
// the way a desktop browser would and parses them with goquery.
package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/publicsuffix"

	"qxGateway/internal/ports"
)

const maxBodyBytes = 8 << 20

// Browser implements ports.Transport with a persistent cookie jar and a
// desktop-browser header profile.
type Browser struct {
	client    *http.Client
	origin    *url.URL
	userAgent string
	logger    ports.Logger
}

// Config holds configuration for the Browser adapter.
type Config struct {
	BaseURL   string // Origin whose cookies are tracked, e.g. https://market-qx.trade
	UserAgent string
	Timeout   time.Duration
	Logger    ports.Logger
}

// New creates a Browser with an empty cookie jar.
func New(cfg Config) (*Browser, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for browser transport")
	}
	origin, err := url.Parse(cfg.BaseURL)
	if err != nil || origin.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q: %w", cfg.BaseURL, ports.ErrConfigurationError)
	}
	jar, err := newJar()
	if err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Browser{
		client:    &http.Client{Jar: jar, Timeout: timeout},
		origin:    origin,
		userAgent: cfg.UserAgent,
		logger:    cfg.Logger,
	}, nil
}

// UserAgent is the client identity sent with every request.
func (b *Browser) UserAgent() string {
	return b.userAgent
}

// Cookies renders the jar for the origin as "name=value; name=value".
func (b *Browser) Cookies() string {
	cookies := b.client.Jar.Cookies(b.origin)
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}

// ResetCookies replaces the jar with an empty one. It must not be called
// while a request is in flight.
func (b *Browser) ResetCookies() {
	jar, err := newJar()
	if err != nil {
		b.logger.Error(context.Background(), err, "Failed to reset cookie jar")
		return
	}
	b.client.Jar = jar
}

func newJar() (http.CookieJar, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	return jar, nil
}

// Do sends a request and parses the response as HTML.
func (b *Browser) Do(ctx context.Context, method, rawURL string, form url.Values, headers map[string]string) (*ports.Page, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w: %w", method, rawURL, ports.ErrInvalidRequest, err)
	}
	req.Header.Set("User-Agent", b.userAgent)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	for name, value := range headers {
		req.Header.Set(name, value)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, b.translate(ctx, err, method, rawURL)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, b.translate(ctx, err, method, rawURL)
	}

	text := string(raw)
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(text))
	if err != nil {
		// The HTML tokenizer accepts almost anything; fall back to an empty document.
		doc, _ = goquery.NewDocumentFromReader(strings.NewReader(""))
	}

	b.logger.Debug(ctx, "HTTP request completed", map[string]interface{}{
		"method":   method,
		"url":      rawURL,
		"finalURL": resp.Request.URL.String(),
		"status":   resp.StatusCode,
		"bytes":    len(raw),
	})

	return &ports.Page{
		URL:    resp.Request.URL.String(),
		Status: resp.StatusCode,
		Body:   text,
		Doc:    doc,
	}, nil
}

// translate maps transport failures onto the standard port errors.
func (b *Browser) translate(ctx context.Context, err error, method, rawURL string) error {
	var finalErr error
	var urlErr *url.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		finalErr = fmt.Errorf("%s %s: %w: %w", method, rawURL, ports.ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		finalErr = fmt.Errorf("%s %s: %w: %w", method, rawURL, ports.ErrContextCanceled, err)
	case errors.As(err, &urlErr) && urlErr.Timeout():
		finalErr = fmt.Errorf("%s %s: %w: %w", method, rawURL, ports.ErrTimeout, err)
	default:
		finalErr = fmt.Errorf("%s %s: %w: %w", method, rawURL, ports.ErrConnectionFailed, err)
	}
	b.logger.Error(ctx, err, "HTTP request failed", map[string]interface{}{"method": method, "url": rawURL})
	return finalErr
}
