package browser

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qxGateway/internal/ports"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func newTestBrowser(t *testing.T) (*Browser, *httptest.Server) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/sign-in/", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "ssid", Value: "abc", Path: "/"})
		http.Redirect(w, r, "/trade", http.StatusFound)
	})
	mux.HandleFunc("/trade", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><title>Trade</title></head><body></body></html>`)
	})
	mux.HandleFunc("/echo", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		fmt.Fprintf(w, `<p id="ua">%s</p><p id="ct">%s</p><p id="x">%s</p><p id="email">%s</p><p id="cookie">%s</p>`,
			r.UserAgent(), r.Header.Get("Content-Type"), r.Header.Get("X-Test"), r.PostForm.Get("email"), r.Header.Get("Cookie"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	b, err := New(Config{BaseURL: srv.URL, UserAgent: "test-agent", Logger: &mockLogger{}})
	require.NoError(t, err)
	return b, srv
}

func TestBrowser_FollowsRedirectsAndKeepsCookies(t *testing.T) {
	b, srv := newTestBrowser(t)

	page, err := b.Do(context.Background(), http.MethodPost, srv.URL+"/sign-in/", url.Values{"email": {"a@b.c"}}, nil)
	require.NoError(t, err)

	assert.Equal(t, srv.URL+"/trade", page.URL)
	assert.Equal(t, http.StatusOK, page.Status)
	assert.Equal(t, "Trade", page.Doc.Find("title").Text())
	assert.Equal(t, "ssid=abc", b.Cookies())
	assert.Equal(t, "test-agent", b.UserAgent())
}

func TestBrowser_HeadersAndForm(t *testing.T) {
	b, srv := newTestBrowser(t)

	page, err := b.Do(context.Background(), http.MethodPost, srv.URL+"/echo",
		url.Values{"email": {"user@example.com"}}, map[string]string{"X-Test": "yes"})
	require.NoError(t, err)

	assert.Equal(t, "test-agent", page.Doc.Find("#ua").Text())
	assert.Equal(t, "application/x-www-form-urlencoded", page.Doc.Find("#ct").Text())
	assert.Equal(t, "yes", page.Doc.Find("#x").Text())
	assert.Equal(t, "user@example.com", page.Doc.Find("#email").Text())
}

func TestBrowser_ResetCookies(t *testing.T) {
	b, srv := newTestBrowser(t)

	_, err := b.Do(context.Background(), http.MethodPost, srv.URL+"/sign-in/", nil, nil)
	require.NoError(t, err)
	require.Equal(t, "ssid=abc", b.Cookies())

	b.ResetCookies()
	assert.Empty(t, b.Cookies())

	page, err := b.Do(context.Background(), http.MethodGet, srv.URL+"/echo", nil, nil)
	require.NoError(t, err)
	assert.Empty(t, page.Doc.Find("#cookie").Text())
}

func TestBrowser_ErrorMapping(t *testing.T) {
	b, srv := newTestBrowser(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := b.Do(ctx, http.MethodGet, srv.URL+"/trade", nil, nil)
	assert.ErrorIs(t, err, ports.ErrContextCanceled)

	dead := httptest.NewServer(http.NotFoundHandler())
	dead.Close()
	_, err = b.Do(context.Background(), http.MethodGet, dead.URL, nil, nil)
	assert.ErrorIs(t, err, ports.ErrConnectionFailed)

	_, err = b.Do(context.Background(), "BAD METHOD", srv.URL, nil, nil)
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{BaseURL: "https://market-qx.trade"})
	assert.Error(t, err)

	_, err = New(Config{BaseURL: "nohost", Logger: &mockLogger{}})
	assert.ErrorIs(t, err, ports.ErrConfigurationError)
}
