package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"

	"qxGateway/internal/domain"
	"qxGateway/internal/metrics"
	"qxGateway/internal/ports"
)

// Outcome messages reported for a login attempt.
const (
	MsgLoginSuccess = "Login successful."
	MsgLoginFailed  = "Login failed."
)

// Flow emulates the upstream web sign-in and produces a Session.
type Flow struct {
	transport   ports.Transport
	store       ports.SessionStore
	twoFactor   *TwoFactorHandler
	logger      ports.Logger
	baseURL     string // <base>/<lang>
	settleDelay time.Duration

	mu       sync.RWMutex
	observer ports.StateObserver
}

// Config holds configuration for the login Flow.
type Config struct {
	Transport   ports.Transport
	Store       ports.SessionStore
	Codes       ports.CodeProvider // Source of two-factor codes; nil fails any challenge
	Logger      ports.Logger
	BaseURL     string // e.g. https://market-qx.trade
	Lang        string
	SettleDelay time.Duration // Pause before a response is judged
}

// NewFlow creates a login Flow.
func NewFlow(cfg Config) (*Flow, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("%w: transport is required for login flow", ports.ErrConfigurationError)
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("%w: session store is required for login flow", ports.ErrConfigurationError)
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("%w: logger is required for login flow", ports.ErrConfigurationError)
	}
	lang := cfg.Lang
	if lang == "" {
		lang = "en"
	}
	return &Flow{
		transport:   cfg.Transport,
		store:       cfg.Store,
		twoFactor:   NewTwoFactorHandler(cfg.Codes, cfg.Logger),
		logger:      cfg.Logger,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/") + "/" + lang,
		settleDelay: cfg.SettleDelay,
	}, nil
}

// SetObserver registers the receiver of AwaitingCode transitions.
func (f *Flow) SetObserver(o ports.StateObserver) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.observer = o
}

func (f *Flow) notify(state domain.ConnState) {
	f.mu.RLock()
	o := f.observer
	f.mu.RUnlock()
	if o != nil {
		o.ObserveState(state)
	}
}

// Login signs in with creds, extracts the session token from the trading page
// and persists the resulting Session.
func (f *Flow) Login(ctx context.Context, creds domain.Credentials) (*domain.Session, error) {
	if creds.IsZero() {
		return nil, fmt.Errorf("%w: email and password are required", ports.ErrInvalidRequest)
	}
	attempt := &domain.LoginAttempt{ID: uuid.New(), Email: creds.Email, Password: creds.Password}
	fields := map[string]interface{}{"attempt": attempt.ID.String()}
	f.logger.Info(ctx, "Starting upstream login", fields)

	// Cookies from an invalidated session must not leak into a fresh login.
	f.transport.ResetCookies()
	sess, err := f.login(ctx, attempt)
	switch {
	case err == nil:
		metrics.IncLogin("ok")
		f.logger.Info(ctx, MsgLoginSuccess, fields)
	case errors.Is(err, ports.ErrAuthRejected):
		metrics.IncLogin("rejected")
		f.logger.Warn(ctx, err.Error(), fields)
	default:
		metrics.IncLogin("error")
		f.logger.Error(ctx, err, "Login attempt failed", fields)
	}
	return sess, err
}

func (f *Flow) login(ctx context.Context, attempt *domain.LoginAttempt) (*domain.Session, error) {
	formToken, err := f.formToken(ctx)
	if err != nil {
		return nil, err
	}
	attempt.FormToken = formToken

	page, err := f.transport.Do(ctx, http.MethodPost, f.baseURL+"/sign-in/", attemptForm(attempt), f.headers("/sign-in/modal/", true))
	if err != nil {
		return nil, fmt.Errorf("submit credentials: %w", err)
	}

	if Required(page.Doc) {
		page, err = f.submitCode(ctx, attempt, Prompt(page.Doc))
		if err != nil {
			return nil, err
		}
	}

	if err := sleep(ctx, f.settleDelay); err != nil {
		return nil, err
	}
	if !onTradingPage(page.URL) {
		return nil, fmt.Errorf("%w: %s", ports.ErrAuthRejected, failureMessage(page.Doc))
	}

	return f.captureSession(ctx, attempt)
}

// onTradingPage reports whether a post-login redirect landed on the trading
// area. Only the path counts; the upstream host itself may contain "trade".
func onTradingPage(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.Contains(u.Path, "trade")
}

// formToken reads the CSRF token embedded in the sign-in modal.
func (f *Flow) formToken(ctx context.Context) (string, error) {
	page, err := f.transport.Do(ctx, http.MethodGet, f.baseURL+"/sign-in/modal/", nil, f.headers("/sign-in", false))
	if err != nil {
		return "", fmt.Errorf("fetch sign-in form: %w", err)
	}
	if page.Doc == nil {
		return "", ports.ErrFormTokenMissing
	}
	token, _ := page.Doc.Find(`input[name="_token"]`).First().Attr("value")
	if token == "" {
		return "", ports.ErrFormTokenMissing
	}
	return token, nil
}

func (f *Flow) submitCode(ctx context.Context, attempt *domain.LoginAttempt, prompt string) (*ports.Page, error) {
	f.logger.Info(ctx, "Upstream requested a two-factor code", map[string]interface{}{"attempt": attempt.ID.String()})
	f.notify(domain.StateAwaitingCode)
	err := f.twoFactor.Resolve(ctx, attempt, prompt)
	f.notify(domain.StateConnecting)
	if err != nil {
		return nil, err
	}

	if err := sleep(ctx, f.settleDelay); err != nil {
		return nil, err
	}
	page, err := f.transport.Do(ctx, http.MethodPost, f.baseURL+"/sign-in/modal", attemptForm(attempt), f.headers("/sign-in/modal", true))
	if err != nil {
		return nil, fmt.Errorf("submit two-factor code: %w", err)
	}
	return page, nil
}

// captureSession loads the trading page, where the token lives, and persists the session.
func (f *Flow) captureSession(ctx context.Context, attempt *domain.LoginAttempt) (*domain.Session, error) {
	page, err := f.transport.Do(ctx, http.MethodGet, f.baseURL+"/trade", nil, f.headers("/sign-in/", false))
	if err != nil {
		return nil, fmt.Errorf("fetch trading page: %w", err)
	}

	cookies := f.transport.Cookies()
	result := ExtractToken(page.Doc, page.Body, cookies)
	metrics.IncTokenStrategy(string(result.Strategy))

	sess := &domain.Session{Cookies: cookies, UserAgent: f.transport.UserAgent()}
	fields := map[string]interface{}{"attempt": attempt.ID.String(), "strategy": string(result.Strategy)}
	if result.Found() {
		token := result.Token
		sess.Token = &token
		f.logger.Debug(ctx, "Session token extracted", fields)
	} else {
		f.logger.Warn(ctx, ports.ErrTokenExtractionExhausted.Error(), fields)
	}

	if err := f.store.Save(ctx, sess); err != nil {
		// The session is still usable for this process.
		f.logger.Error(ctx, err, "Failed to persist session", fields)
	}
	return sess, nil
}

func (f *Flow) headers(refererPath string, form bool) map[string]string {
	h := map[string]string{
		"Connection":                "keep-alive",
		"Accept-Language":           "en-US,en;q=0.8",
		"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
		"Referer":                   f.baseURL + refererPath,
		"Upgrade-Insecure-Requests": "1",
		"Sec-Ch-Ua-Mobile":          "?0",
		"Sec-Ch-Ua-Platform":        `"Linux"`,
		"Sec-Fetch-Site":            "same-origin",
		"Sec-Fetch-User":            "?1",
		"Sec-Fetch-Dest":            "document",
		"Sec-Fetch-Mode":            "navigate",
		"Dnt":                       "1",
	}
	if form {
		h["Content-Type"] = "application/x-www-form-urlencoded"
	}
	return h
}

func attemptForm(a *domain.LoginAttempt) url.Values {
	form := url.Values{}
	form.Set("_token", a.FormToken)
	form.Set("email", a.Email)
	form.Set("password", a.Password)
	form.Set("remember", "1")
	if a.KeepCode {
		form.Set("keep_code", "1")
		form.Set("code", a.Code)
	}
	return form
}

// failureMessage builds "Login failed. <hint>" from the page's error region.
func failureMessage(doc *goquery.Document) string {
	if doc == nil {
		return MsgLoginFailed + " "
	}
	hint := doc.Find("div.hint--danger").First()
	if hint.Length() == 0 {
		hint = doc.Find("div.input-control-cabinet__hint").First()
	}
	return MsgLoginFailed + " " + strings.TrimSpace(hint.Text())
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ports.ErrContextCanceled, ctx.Err())
	}
}

var _ ports.Authenticator = (*Flow)(nil)
