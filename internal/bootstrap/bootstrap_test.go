package bootstrap

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qxGateway/config"
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

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Provider:        config.ProviderQuotex,
		BaseURL:         "https://market-qx.trade",
		Lang:            "en",
		UserAgent:       "test-agent",
		ResourcePath:    dir,
		SessionBackend:  config.BackendFile,
		SessionDBPath:   dir + "/session.db",
		TwoFactorSource: config.CodeSourceAPI,
		HTTPTimeout:     time.Second,
		Location:        time.UTC,
	}
}

func TestBuild_Quotex(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	c, err := Build(ctx, cfg, &mockLogger{}, Options{})
	require.NoError(t, err)
	defer c.Close(ctx)

	assert.NotNil(t, c.Flow)
	assert.NotNil(t, c.Codes, "api code source exposes a channel provider")
	assert.Equal(t, domain.StateDisconnected, c.Manager.State())
	assert.False(t, c.Manager.HasToken())
	assert.Equal(t, domain.StateDisconnected, c.Service.Status().State)
}

func TestBuild_StdinCodesAndSQLite(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.TwoFactorSource = config.CodeSourceStdin
	cfg.SessionBackend = config.BackendSQLite

	c, err := Build(ctx, cfg, &mockLogger{}, Options{Stdin: strings.NewReader("")})
	require.NoError(t, err)
	assert.Nil(t, c.Codes)

	token := "tok"
	require.NoError(t, c.Store.Save(ctx, &domain.Session{Cookies: "a=1", Token: &token, UserAgent: "ua"}))
	got, err := c.Store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok", got.TokenValue())
	require.NoError(t, c.Close(ctx))
}

func TestBuild_Binance(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Provider = config.ProviderBinance

	c, err := Build(ctx, cfg, &mockLogger{}, Options{})
	require.NoError(t, err)
	defer c.Close(ctx)

	assert.Nil(t, c.Flow)
	assert.Nil(t, c.Codes)
}

func TestBuild_Errors(t *testing.T) {
	_, err := Build(context.Background(), nil, &mockLogger{}, Options{})
	assert.ErrorIs(t, err, ports.ErrConfigurationError)

	cfg := testConfig(t)
	cfg.BaseURL = "market-qx"
	_, err = Build(context.Background(), cfg, &mockLogger{}, Options{})
	assert.ErrorIs(t, err, ports.ErrConfigurationError)
}
