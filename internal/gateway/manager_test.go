package gateway

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qxGateway/internal/candles"
	"qxGateway/internal/domain"
	"qxGateway/internal/ports"
)

// Mock implementations
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type mockUpstream struct {
	mu          sync.Mutex
	connectErrs []error // consumed one per Connect call; nil entries succeed
	probes      []bool  // consumed one per CheckConnect call; defaults to true
	candles     []domain.RawCandle
	candlesErr  error

	connects  int
	closes    int
	inFlight  int32
	maxFlight int32
	lastSpan  time.Duration
	sessions  []*domain.Session
}

func (m *mockUpstream) Connect(ctx context.Context, sess *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connects++
	m.sessions = append(m.sessions, sess)
	if len(m.connectErrs) == 0 {
		return nil
	}
	err := m.connectErrs[0]
	if len(m.connectErrs) > 1 {
		m.connectErrs = m.connectErrs[1:]
	}
	return err
}

func (m *mockUpstream) CheckConnect(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.probes) == 0 {
		return true
	}
	p := m.probes[0]
	m.probes = m.probes[1:]
	return p
}

func (m *mockUpstream) GetCandles(ctx context.Context, asset string, end time.Time, span time.Duration, period int) ([]domain.RawCandle, error) {
	n := atomic.AddInt32(&m.inFlight, 1)
	defer atomic.AddInt32(&m.inFlight, -1)
	for {
		cur := atomic.LoadInt32(&m.maxFlight)
		if n <= cur || atomic.CompareAndSwapInt32(&m.maxFlight, cur, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSpan = span
	return m.candles, m.candlesErr
}

func (m *mockUpstream) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes++
	return nil
}

func (m *mockUpstream) connectCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connects
}

type mockAuthenticator struct {
	mu     sync.Mutex
	logins int
	delay  time.Duration
	err    error
	block  chan struct{} // when set, Login waits for it to close
	onWait func()
}

func (m *mockAuthenticator) Login(ctx context.Context, creds domain.Credentials) (*domain.Session, error) {
	m.mu.Lock()
	m.logins++
	n := m.logins
	m.mu.Unlock()

	if m.onWait != nil {
		m.onWait()
	}
	if m.block != nil {
		<-m.block
	}
	time.Sleep(m.delay)
	if m.err != nil {
		return nil, m.err
	}
	tok := "tok-" + string(rune('0'+n))
	return &domain.Session{Cookies: "ssid=" + tok, Token: &tok, UserAgent: "ua"}, nil
}

func (m *mockAuthenticator) loginCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.logins
}

type mockStore struct {
	mu          sync.Mutex
	sess        *domain.Session
	invalidated int
}

func (m *mockStore) Save(ctx context.Context, sess *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sess = sess
	return nil
}

func (m *mockStore) Load(ctx context.Context) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess, nil
}

func (m *mockStore) Invalidate(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidated++
	m.sess = nil
	return nil
}

var testCreds = StaticCredentials{Email: "a@b.c", Password: "pw"}

func newTestManager(t *testing.T, up *mockUpstream, auth ports.Authenticator, store ports.SessionStore) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		Upstream:      up,
		Authenticator: auth,
		Credentials:   testCreds,
		Store:         store,
		Normalizer:    candles.NewNormalizer(time.UTC),
		Logger:        &mockLogger{},
		Provider:      "test",
		RetryDelay:    time.Millisecond,
	})
	require.NoError(t, err)
	return m
}

func TestManager_EnsureConnectedIsIdempotent(t *testing.T) {
	up := &mockUpstream{}
	auth := &mockAuthenticator{}
	m := newTestManager(t, up, auth, &mockStore{})
	ctx := context.Background()

	assert.Equal(t, domain.StateDisconnected, m.State())
	require.NoError(t, m.EnsureConnected(ctx))
	require.NoError(t, m.EnsureConnected(ctx))

	assert.Equal(t, 1, auth.loginCount())
	assert.Equal(t, 1, up.connectCount())
	assert.Equal(t, domain.StateConnected, m.State())
	assert.True(t, m.HasToken())
}

func TestManager_ReconnectsOnceWhenProbeFails(t *testing.T) {
	up := &mockUpstream{}
	auth := &mockAuthenticator{}
	m := newTestManager(t, up, auth, &mockStore{})
	ctx := context.Background()
	require.NoError(t, m.EnsureConnected(ctx))

	up.mu.Lock()
	up.probes = []bool{false, true}
	up.mu.Unlock()

	require.NoError(t, m.EnsureConnected(ctx))
	assert.Equal(t, 2, up.connectCount(), "exactly one reconnect")
	assert.Equal(t, domain.StateConnected, m.State())

	require.NoError(t, m.EnsureConnected(ctx))
	assert.Equal(t, 2, up.connectCount())
	assert.Equal(t, 1, auth.loginCount(), "reconnect reuses the session")
}

func TestManager_FailedReconnectSurfacesAndNextCallStartsOver(t *testing.T) {
	up := &mockUpstream{}
	auth := &mockAuthenticator{}
	m := newTestManager(t, up, auth, &mockStore{})
	ctx := context.Background()
	require.NoError(t, m.EnsureConnected(ctx))

	up.mu.Lock()
	up.probes = []bool{false}
	up.connectErrs = []error{errors.New("socket closed"), nil}
	up.mu.Unlock()

	err := m.EnsureConnected(ctx)
	require.ErrorIs(t, err, ports.ErrConnectionFailed)
	assert.Contains(t, err.Error(), "reconnection failed: socket closed")
	assert.Equal(t, domain.StateFailed, m.State())

	require.NoError(t, m.EnsureConnected(ctx))
	assert.Equal(t, domain.StateConnected, m.State())
}

func TestManager_ConcurrentFetchLogsInOnce(t *testing.T) {
	up := &mockUpstream{candles: []domain.RawCandle{
		{Time: 0, Open: domain.Float(1), Close: domain.Float(2)},
	}}
	auth := &mockAuthenticator{delay: 30 * time.Millisecond}
	m := newTestManager(t, up, auth, &mockStore{})

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Fetch(context.Background(), "EURUSD_otc", 60, time.Hour)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, auth.loginCount())
	assert.Equal(t, int32(1), atomic.LoadInt32(&up.maxFlight), "requests never overlap")
}

func TestManager_ConnectRetriesOnceWithFreshSession(t *testing.T) {
	up := &mockUpstream{connectErrs: []error{errors.New("rejected"), nil}}
	auth := &mockAuthenticator{}
	stale := "stale"
	store := &mockStore{sess: &domain.Session{Cookies: "old=1", Token: &stale}}
	m := newTestManager(t, up, auth, store)

	require.NoError(t, m.Connect(context.Background()))

	assert.Equal(t, 1, store.invalidated)
	assert.Equal(t, 2, up.connectCount())
	assert.Equal(t, 1, auth.loginCount(), "stored session first, fresh login on retry")
	assert.Equal(t, "stale", up.sessions[0].TokenValue())
	assert.Equal(t, "tok-1", up.sessions[1].TokenValue())
	assert.Equal(t, domain.StateConnected, m.State())
}

func TestManager_ConnectFailsAfterOneRetry(t *testing.T) {
	up := &mockUpstream{connectErrs: []error{errors.New("upstream says no")}}
	auth := &mockAuthenticator{}
	m := newTestManager(t, up, auth, &mockStore{})

	err := m.Connect(context.Background())
	require.ErrorIs(t, err, ports.ErrConnectionFailed)
	assert.Contains(t, err.Error(), "upstream says no")
	assert.Equal(t, 2, up.connectCount())
	assert.Equal(t, domain.StateFailed, m.State())

	// Failure is terminal for the call only.
	_ = m.EnsureConnected(context.Background())
	assert.Equal(t, 4, up.connectCount())
}

func TestManager_AuthRejectionIsNotRetried(t *testing.T) {
	up := &mockUpstream{}
	auth := &mockAuthenticator{err: errors.Join(ports.ErrAuthRejected, errors.New("Login failed. Wrong password"))}
	m := newTestManager(t, up, auth, &mockStore{})

	err := m.EnsureConnected(context.Background())
	require.ErrorIs(t, err, ports.ErrConnectionFailed)
	assert.ErrorIs(t, err, ports.ErrAuthRejected)
	assert.Equal(t, 1, auth.loginCount())
	assert.Equal(t, 0, up.connectCount())
}

func TestManager_PublicUpstreamSkipsLogin(t *testing.T) {
	up := &mockUpstream{}
	m, err := NewManager(Config{Upstream: up, Logger: &mockLogger{}, Normalizer: candles.NewNormalizer(time.UTC)})
	require.NoError(t, err)

	require.NoError(t, m.EnsureConnected(context.Background()))
	require.Len(t, up.sessions, 1)
	assert.False(t, up.sessions[0].HasToken())
	assert.False(t, m.HasToken())
}

func TestManager_FetchNormalizes(t *testing.T) {
	up := &mockUpstream{candles: []domain.RawCandle{
		{Time: 0, Open: domain.Float(1.1), Close: domain.Float(1.2)},
		{Time: 60, Open: domain.Float(1.3), Close: domain.Float(1.3)},
	}}
	m := newTestManager(t, up, &mockAuthenticator{}, &mockStore{})

	got, err := m.Fetch(context.Background(), "EURUSD_otc", 60, 2*time.Minute)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "EURUSD_otc", got[0].Asset)
	assert.Equal(t, domain.ColorUp, got[0].Color)
	assert.Equal(t, domain.ColorFlat, got[1].Color)
	assert.Equal(t, 2*time.Minute, up.lastSpan)
}

func TestManager_FetchErrorPropagates(t *testing.T) {
	up := &mockUpstream{candlesErr: ports.ErrUpstreamProtocol}
	m := newTestManager(t, up, &mockAuthenticator{}, &mockStore{})

	_, err := m.Fetch(context.Background(), "EURUSD_otc", 60, time.Minute)
	assert.ErrorIs(t, err, ports.ErrUpstreamProtocol)
}

func TestManager_CallersFailFastWhileAwaitingCode(t *testing.T) {
	up := &mockUpstream{}
	auth := &mockAuthenticator{block: make(chan struct{})}
	m := newTestManager(t, up, auth, &mockStore{})
	auth.onWait = func() { m.ObserveState(domain.StateAwaitingCode) }

	done := make(chan error, 1)
	go func() { done <- m.EnsureConnected(context.Background()) }()

	require.Eventually(t, func() bool { return m.State() == domain.StateAwaitingCode }, time.Second, time.Millisecond)

	fetched := make(chan error, 1)
	go func() {
		_, err := m.Fetch(context.Background(), "EURUSD_otc", 60, time.Minute)
		fetched <- err
	}()
	select {
	case err := <-fetched:
		require.ErrorIs(t, err, ports.ErrConnectionFailed)
		assert.Contains(t, err.Error(), "two-factor code")
	case <-time.After(time.Second):
		t.Fatal("Fetch queued behind a login waiting for a code")
	}
	assert.Equal(t, domain.StateAwaitingCode, m.State())

	close(auth.block)
	require.NoError(t, <-done)
	assert.Equal(t, domain.StateConnected, m.State())

	_, err := m.Fetch(context.Background(), "EURUSD_otc", 60, time.Minute)
	assert.NoError(t, err, "callers queue normally again once the code is in")
	assert.Equal(t, 1, auth.loginCount())
}

func TestManager_QueuedCallerReleasedWhenCodeIsRequested(t *testing.T) {
	up := &mockUpstream{}
	release := make(chan struct{})
	auth := &mockAuthenticator{block: make(chan struct{})}
	m := newTestManager(t, up, auth, &mockStore{})
	auth.onWait = func() {
		<-release
		m.ObserveState(domain.StateAwaitingCode)
	}

	done := make(chan error, 1)
	go func() { done <- m.EnsureConnected(context.Background()) }()
	require.Eventually(t, func() bool { return auth.loginCount() == 1 }, time.Second, time.Millisecond)

	// Queued while the login is still submitting credentials.
	queued := make(chan error, 1)
	go func() { queued <- m.EnsureConnected(context.Background()) }()
	time.Sleep(20 * time.Millisecond)
	close(release)

	select {
	case err := <-queued:
		assert.ErrorIs(t, err, ports.ErrConnectionFailed)
	case <-time.After(time.Second):
		t.Fatal("queued caller stayed blocked after the code was requested")
	}

	close(auth.block)
	require.NoError(t, <-done)
	assert.Equal(t, 1, auth.loginCount())
}

func TestManager_Close(t *testing.T) {
	up := &mockUpstream{}
	auth := &mockAuthenticator{}
	m := newTestManager(t, up, auth, &mockStore{})
	require.NoError(t, m.EnsureConnected(context.Background()))

	require.NoError(t, m.Close(context.Background()))
	assert.Equal(t, domain.StateDisconnected, m.State())
	assert.Equal(t, 1, up.closes)

	require.NoError(t, m.EnsureConnected(context.Background()))
	assert.Equal(t, 2, up.connectCount())
	assert.Equal(t, 1, auth.loginCount(), "held session survives close")
}

func TestStaticCredentials(t *testing.T) {
	_, err := StaticCredentials{Email: "a@b.c"}.Credentials(context.Background())
	assert.ErrorIs(t, err, ports.ErrConfigurationError)

	creds, err := testCreds.Credentials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a@b.c", creds.Email)
}
