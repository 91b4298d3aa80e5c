package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qxGateway/internal/app"
	"qxGateway/internal/auth"
	"qxGateway/internal/domain"
	"qxGateway/internal/ports"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type lastCall struct {
	asset         string
	count, period int
}

type mockService struct {
	err    error
	last   []lastCall
	ranges [][2]int
	status app.SessionStatus
}

func (m *mockService) LastCandles(ctx context.Context, asset string, count, period int) (*app.CandleBatch, error) {
	m.last = append(m.last, lastCall{asset, count, period})
	if m.err != nil {
		return nil, m.err
	}
	return &app.CandleBatch{Asset: asset, Period: period, Count: 1, Candles: []domain.Candle{{Asset: asset, Time: 60}}}, nil
}

func (m *mockService) RangeCandles(ctx context.Context, asset string, period, offset int) (*app.CandleBatch, error) {
	m.ranges = append(m.ranges, [2]int{period, offset})
	if m.err != nil {
		return nil, m.err
	}
	return &app.CandleBatch{Asset: asset, Period: period, Candles: []domain.Candle{}}, nil
}

func (m *mockService) Status() app.SessionStatus { return m.status }

func newTestRouter(t *testing.T, svc CandleService, codes CodeSink) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	h, err := NewHandler(svc, codes, &mockLogger{})
	require.NoError(t, err)
	return NewRouter(h, &mockLogger{})
}

func do(r http.Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	w := do(newTestRouter(t, &mockService{}, nil), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))
}

func TestLastCandles_Defaults(t *testing.T) {
	svc := &mockService{}
	w := do(newTestRouter(t, svc, nil), http.MethodGet, "/candles/last?asset=EURUSD_otc", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []lastCall{{"EURUSD_otc", app.DefaultCount, app.DefaultPeriod}}, svc.last)
	body := decode(t, w)
	assert.Equal(t, "EURUSD_otc", body["asset"])
	assert.EqualValues(t, 1, body["count"])
	assert.Len(t, body["candles"], 1)
}

func TestRangeCandles_Params(t *testing.T) {
	svc := &mockService{}
	w := do(newTestRouter(t, svc, nil), http.MethodGet, "/candles/range?asset=X&period=30&offset=900", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, [][2]int{{30, 900}}, svc.ranges)
	assert.JSONEq(t, `{"asset":"X","period":30,"count":0,"candles":[]}`, w.Body.String())
}

func TestCandles_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		target string
		err    error
		want   int
	}{
		{"malformed count", "/candles/last?asset=X&count=abc", nil, http.StatusBadRequest},
		{"validation", "/candles/last?asset=X&count=0", fmt.Errorf("%w: count must be between 1 and 2000", ports.ErrInvalidRequest), http.StatusBadRequest},
		{"upstream down", "/candles/range?asset=X", fmt.Errorf("%w: reconnection failed", ports.ErrConnectionFailed), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(newTestRouter(t, &mockService{err: tt.err}, nil), http.MethodGet, tt.target, "")
			assert.Equal(t, tt.want, w.Code)
			assert.NotEmpty(t, decode(t, w)["detail"])
		})
	}
}

func TestSession_ReportsPendingCode(t *testing.T) {
	codes := auth.NewChannelCodeProvider()
	svc := &mockService{status: app.SessionStatus{State: domain.StateAwaitingCode}}
	r := newTestRouter(t, svc, codes)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan string, 1)
	go func() {
		code, _ := codes.RequestCode(ctx, "Enter the PIN: ")
		got <- code
	}()
	require.Eventually(t, func() bool { _, ok := codes.Pending(); return ok }, time.Second, 5*time.Millisecond)

	body := decode(t, do(r, http.MethodGet, "/session", ""))
	assert.Equal(t, "awaiting_code", body["state"])
	assert.Equal(t, false, body["has_token"])
	assert.Equal(t, "Enter the PIN: ", body["code_prompt"])

	w := do(r, http.MethodPost, "/auth/code", `{"code":" 123456 "}`)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "123456", <-got)

	w = do(r, http.MethodPost, "/auth/code", `{"code":"123456"}`)
	assert.Equal(t, http.StatusConflict, w.Code, "nobody is waiting any more")
}

func TestSubmitCode_Validation(t *testing.T) {
	r := newTestRouter(t, &mockService{}, auth.NewChannelCodeProvider())
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/auth/code", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/auth/code", `not json`).Code)
}

func TestSubmitCode_NotMountedForTerminalCodes(t *testing.T) {
	r := newTestRouter(t, &mockService{}, nil)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodPost, "/auth/code", `{"code":"1"}`).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	w := do(newTestRouter(t, &mockService{}, nil), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestRequestIDPropagates(t *testing.T) {
	r := newTestRouter(t, &mockService{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get(requestIDHeader))
}

func TestNewHandler_RequiresDeps(t *testing.T) {
	_, err := NewHandler(nil, nil, &mockLogger{})
	assert.Error(t, err)
}
