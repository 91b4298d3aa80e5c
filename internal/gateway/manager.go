// Package gateway owns the single upstream connection and serializes its use.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"qxGateway/internal/candles"
	"qxGateway/internal/domain"
	"qxGateway/internal/metrics"
	"qxGateway/internal/ports"
)

// Manager is the Connection Lifecycle Manager. All upstream traffic goes
// through one section: at most one caller runs ensure-connected plus one
// request at a time, and waiting callers are served in arrival order.
// While a login waits for a two-factor code, callers do not queue: they get
// ErrConnectionFailed straight away.
type Manager struct {
	upstream   ports.Upstream
	auth       ports.Authenticator // nil for upstreams that need no login
	creds      ports.CredentialSource
	store      ports.SessionStore
	normalizer *candles.Normalizer
	logger     ports.Logger
	provider   string
	retryDelay time.Duration
	now        func() time.Time

	section chan struct{}

	stateMu  sync.Mutex
	codeWait chan struct{} // closed while a login waits for a two-factor code

	state     atomic.Value // domain.ConnState
	hasToken  atomic.Bool
	connected bool            // guarded by section
	session   *domain.Session // guarded by section
}

// Config holds configuration for the Manager.
type Config struct {
	Upstream      ports.Upstream
	Authenticator ports.Authenticator
	Credentials   ports.CredentialSource
	Store         ports.SessionStore
	Normalizer    *candles.Normalizer
	Logger        ports.Logger
	Provider      string        // Label for metrics, e.g. "quotex"
	RetryDelay    time.Duration // Pause before the single connect retry
}

// NewManager creates a Manager in the Disconnected state. No connection is
// made until the first call needs one.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Upstream == nil {
		return nil, fmt.Errorf("%w: upstream is required for gateway manager", ports.ErrConfigurationError)
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("%w: logger is required for gateway manager", ports.ErrConfigurationError)
	}
	if cfg.Authenticator != nil && cfg.Credentials == nil {
		return nil, fmt.Errorf("%w: credential source is required when logging in", ports.ErrConfigurationError)
	}
	normalizer := cfg.Normalizer
	if normalizer == nil {
		normalizer = candles.NewNormalizer(time.Local)
	}
	m := &Manager{
		upstream:   cfg.Upstream,
		auth:       cfg.Authenticator,
		creds:      cfg.Credentials,
		store:      cfg.Store,
		normalizer: normalizer,
		logger:     cfg.Logger,
		provider:   cfg.Provider,
		retryDelay: cfg.RetryDelay,
		now:        time.Now,
		section:    make(chan struct{}, 1),
		codeWait:   make(chan struct{}),
	}
	m.setState(domain.StateDisconnected)
	return m, nil
}

// State reports the current connection state without waiting for the section.
func (m *Manager) State() domain.ConnState {
	return m.state.Load().(domain.ConnState)
}

// HasToken reports whether the held session carries a token.
func (m *Manager) HasToken() bool {
	return m.hasToken.Load()
}

// ObserveState lets the login flow publish transitions such as AwaitingCode.
func (m *Manager) ObserveState(state domain.ConnState) {
	m.setState(state)
}

func (m *Manager) setState(state domain.ConnState) {
	m.stateMu.Lock()
	prev, _ := m.state.Load().(domain.ConnState)
	m.state.Store(state)
	switch {
	case state == domain.StateAwaitingCode && prev != domain.StateAwaitingCode:
		close(m.codeWait)
	case state != domain.StateAwaitingCode && prev == domain.StateAwaitingCode:
		m.codeWait = make(chan struct{})
	}
	m.stateMu.Unlock()
	metrics.SetState(state)
}

func (m *Manager) awaitingCode() <-chan struct{} {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.codeWait
}

// acquire enters the section. It gives up when ctx ends or when the section
// holder starts waiting for a two-factor code.
func (m *Manager) acquire(ctx context.Context) error {
	select {
	case m.section <- struct{}{}:
		return nil
	case <-m.awaitingCode():
		return fmt.Errorf("%w: not connected, login is awaiting a two-factor code", ports.ErrConnectionFailed)
	case <-ctx.Done():
		return fmt.Errorf("%w: waiting for upstream: %w", ports.ErrContextCanceled, ctx.Err())
	}
}

func (m *Manager) release() {
	<-m.section
}

// EnsureConnected makes sure a live upstream session exists.
func (m *Manager) EnsureConnected(ctx context.Context) error {
	if err := m.acquire(ctx); err != nil {
		return err
	}
	defer m.release()
	return m.ensureConnected(ctx)
}

// Connect runs the connect policy regardless of the current state.
func (m *Manager) Connect(ctx context.Context) error {
	if err := m.acquire(ctx); err != nil {
		return err
	}
	defer m.release()
	return m.connect(ctx)
}

// Fetch returns normalized candles for asset covering span seconds up to now.
// Normalization runs after the section is released.
func (m *Manager) Fetch(ctx context.Context, asset string, period int, span time.Duration) ([]domain.Candle, error) {
	raws, err := m.fetchRaw(ctx, asset, period, span)
	if err != nil {
		return nil, err
	}
	return m.normalizer.Normalize(asset, period, raws), nil
}

func (m *Manager) fetchRaw(ctx context.Context, asset string, period int, span time.Duration) ([]domain.RawCandle, error) {
	if err := m.acquire(ctx); err != nil {
		return nil, err
	}
	defer m.release()

	if err := m.ensureConnected(ctx); err != nil {
		return nil, err
	}

	started := time.Now()
	raws, err := m.upstream.GetCandles(ctx, asset, m.now(), span, period)
	metrics.ObserveFetch(m.provider, started)
	if err != nil {
		m.logger.Error(ctx, err, "Candle request failed", map[string]interface{}{"asset": asset, "period": period})
		return nil, fmt.Errorf("get candles for %s: %w", asset, err)
	}
	m.logger.Debug(ctx, "Candles received", map[string]interface{}{"asset": asset, "period": period, "count": len(raws)})
	return raws, nil
}

// Close drops the upstream handle. The next call starts again from Disconnected.
func (m *Manager) Close(ctx context.Context) error {
	if err := m.acquire(ctx); err != nil {
		return err
	}
	defer m.release()

	m.connected = false
	m.setState(domain.StateDisconnected)
	if err := m.upstream.Close(); err != nil {
		return fmt.Errorf("close upstream: %w", err)
	}
	m.logger.Info(ctx, "Upstream connection closed")
	return nil
}

// ensureConnected must run inside the section.
func (m *Manager) ensureConnected(ctx context.Context) error {
	if !m.connected {
		return m.connect(ctx)
	}
	if m.upstream.CheckConnect(ctx) {
		return nil
	}

	m.logger.Warn(ctx, "Upstream liveness probe failed, reconnecting")
	m.setState(domain.StateConnecting)
	if err := m.upstream.Connect(ctx, m.session); err != nil {
		m.connected = false
		m.setState(domain.StateFailed)
		metrics.IncConnect("reconnect", "error")
		m.logger.Error(ctx, err, "Reconnection failed")
		return fmt.Errorf("%w: reconnection failed: %w", ports.ErrConnectionFailed, err)
	}
	m.setState(domain.StateConnected)
	metrics.IncConnect("reconnect", "ok")
	m.logger.Info(ctx, "Reconnected to upstream")
	return nil
}

// connect tries once, then discards every trace of the old session and
// tries exactly once more after the retry delay.
func (m *Manager) connect(ctx context.Context) error {
	err := m.attempt(ctx, "connect")
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		m.setState(domain.StateFailed)
		return err
	}
	// Login rejections and setup errors are not retried.
	if errors.Is(err, ports.ErrAuthRejected) || errors.Is(err, ports.ErrCodeAborted) || errors.Is(err, ports.ErrConfigurationError) {
		m.setState(domain.StateFailed)
		return fmt.Errorf("%w: %w", ports.ErrConnectionFailed, err)
	}

	m.logger.Warn(ctx, "Connect failed, resetting session and retrying once", map[string]interface{}{
		"error":   err.Error(),
		"delayMs": m.retryDelay.Milliseconds(),
	})
	m.forgetSession(ctx)

	if err := sleep(ctx, m.retryDelay); err != nil {
		m.setState(domain.StateFailed)
		return err
	}

	if err := m.attempt(ctx, "retry"); err != nil {
		m.setState(domain.StateFailed)
		m.logger.Error(ctx, err, "Connect retry failed")
		return fmt.Errorf("%w: %w", ports.ErrConnectionFailed, err)
	}
	return nil
}

func (m *Manager) attempt(ctx context.Context, kind string) error {
	m.setState(domain.StateConnecting)
	sess, err := m.resolveSession(ctx)
	if err != nil {
		metrics.IncConnect(kind, "error")
		return err
	}
	if err := m.upstream.Connect(ctx, sess); err != nil {
		metrics.IncConnect(kind, "error")
		return err
	}
	m.connected = true
	m.setState(domain.StateConnected)
	metrics.IncConnect(kind, "ok")
	m.logger.Info(ctx, "Connected to upstream", map[string]interface{}{"provider": m.provider, "attempt": kind})
	return nil
}

// resolveSession prefers the held session, then the stored one, then a fresh login.
func (m *Manager) resolveSession(ctx context.Context) (*domain.Session, error) {
	if m.session != nil {
		return m.session, nil
	}
	if m.store != nil {
		sess, err := m.store.Load(ctx)
		if err != nil {
			m.logger.Warn(ctx, "Could not load stored session, logging in", map[string]interface{}{"error": err.Error()})
		} else if sess != nil {
			m.logger.Info(ctx, "Reusing stored session")
			m.holdSession(sess)
			return sess, nil
		}
	}
	if m.auth == nil {
		m.holdSession(&domain.Session{})
		return m.session, nil
	}

	creds, err := m.creds.Credentials(ctx)
	if err != nil {
		return nil, err
	}
	sess, err := m.auth.Login(ctx, creds)
	if err != nil {
		return nil, err
	}
	m.holdSession(sess)
	return sess, nil
}

func (m *Manager) holdSession(sess *domain.Session) {
	m.session = sess
	m.hasToken.Store(sess.HasToken())
}

func (m *Manager) forgetSession(ctx context.Context) {
	m.session = nil
	m.connected = false
	m.hasToken.Store(false)
	if m.store == nil {
		return
	}
	if err := m.store.Invalidate(ctx); err != nil {
		m.logger.Error(ctx, err, "Failed to invalidate stored session")
	}
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

// StaticCredentials is a CredentialSource holding a fixed pair.
type StaticCredentials domain.Credentials

// Credentials returns the pair, or an error when either half is missing.
func (s StaticCredentials) Credentials(ctx context.Context) (domain.Credentials, error) {
	creds := domain.Credentials(s)
	if creds.IsZero() {
		return creds, fmt.Errorf("%w: upstream email and password are not set", ports.ErrConfigurationError)
	}
	return creds, nil
}

var (
	_ ports.StateObserver    = (*Manager)(nil)
	_ ports.CredentialSource = StaticCredentials{}
)
