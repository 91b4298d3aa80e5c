package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"qxGateway/internal/adapters/logger" // Import the logger package for LogLevel
)

// Upstream providers.
const (
	ProviderQuotex  = "quotex"
	ProviderBinance = "binance"
)

// Session store backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Two-factor code sources.
const (
	CodeSourceStdin = "stdin"
	CodeSourceAPI   = "api"
)

// Config holds all application configuration.
type Config struct {
	// Upstream
	Provider  string
	Email     string
	Password  string
	BaseURL   string // e.g. https://market-qx.trade
	WSURL     string // Derived from BaseURL when empty
	Lang      string
	Demo      bool
	UserAgent string

	// Binance public upstream
	BinanceTestnet bool

	// Session persistence
	ResourcePath   string // Root for session.json and the SQLite file
	SessionBackend string
	SessionDBPath  string
	SessionKey     string // Redis key suffix identifying the one session
	RedisAddr      string
	RedisPassword  string

	// Login
	TwoFactorSource string
	SettleDelay     time.Duration // Pause before inspecting a login response

	// Connection Settings
	HTTPTimeout    time.Duration
	ReconnectDelay time.Duration

	// Candles
	Location *time.Location

	// HTTP API
	AppPort       string
	KeepAliveCron string // Empty disables the keepalive job

	// Logging
	LogLevel  logger.LogLevel // Use the LogLevel type from the logger adapter
	LogFormat logger.Format
}

// HasCredentials reports whether both login credentials are configured.
func (c *Config) HasCredentials() bool {
	return c.Email != "" && c.Password != ""
}

// SessionFile is the location of the file-backed session record.
func (c *Config) SessionFile() string {
	return filepath.Join(c.ResourcePath, "session.json")
}

// LoadConfig loads configuration from environment variables (.env file),
// falling back to the YAML file named by GATEWAY_CONFIG for unset keys.
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	src, err := newSource(os.Getenv("GATEWAY_CONFIG"))
	if err != nil {
		return nil, err
	}
	return load(src)
}

func load(src *source) (*Config, error) {
	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	// Upstream
	cfg.Provider = strings.ToLower(src.get("UPSTREAM_PROVIDER", ProviderQuotex))
	if cfg.Provider != ProviderQuotex && cfg.Provider != ProviderBinance {
		errs = append(errs, fmt.Sprintf("UPSTREAM_PROVIDER must be %q or %q", ProviderQuotex, ProviderBinance))
	}
	// Credentials are resolved lazily at first login, so they are not required here.
	cfg.Email = src.get("UPSTREAM_EMAIL", "")
	cfg.Password = src.get("UPSTREAM_PASSWORD", "")
	cfg.BaseURL = strings.TrimRight(src.get("UPSTREAM_BASE_URL", "https://market-qx.trade"), "/")
	if !strings.HasPrefix(cfg.BaseURL, "http://") && !strings.HasPrefix(cfg.BaseURL, "https://") {
		errs = append(errs, "UPSTREAM_BASE_URL must be an http(s) URL")
	}
	cfg.WSURL = src.get("UPSTREAM_WS_URL", "")
	cfg.Lang = src.get("UPSTREAM_LANG", "en")
	cfg.Demo = src.getBool("UPSTREAM_DEMO", true)
	cfg.UserAgent = src.get("USER_AGENT", "Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0")
	cfg.BinanceTestnet = src.getBool("BINANCE_TESTNET", false)

	// Session persistence
	cfg.ResourcePath = src.get("RESOURCE_PATH", ".")
	cfg.SessionBackend = strings.ToLower(src.get("SESSION_BACKEND", BackendFile))
	switch cfg.SessionBackend {
	case BackendFile, BackendSQLite:
	case BackendRedis:
		cfg.RedisAddr = src.get("REDIS_ADDR", "")
		if cfg.RedisAddr == "" {
			errs = append(errs, "REDIS_ADDR must be set when SESSION_BACKEND=redis")
		}
	default:
		errs = append(errs, "SESSION_BACKEND must be one of file, sqlite, redis")
	}
	cfg.SessionDBPath = src.get("SESSION_DB_PATH", filepath.Join(cfg.ResourcePath, "session.db"))
	cfg.RedisPassword = src.get("REDIS_PASSWORD", "")
	cfg.SessionKey = src.get("SESSION_KEY", "default")

	// Login
	cfg.TwoFactorSource = strings.ToLower(src.get("TWO_FACTOR_SOURCE", CodeSourceStdin))
	if cfg.TwoFactorSource != CodeSourceStdin && cfg.TwoFactorSource != CodeSourceAPI {
		errs = append(errs, "TWO_FACTOR_SOURCE must be stdin or api")
	}
	settleMillis, err := src.getIntRequired("SETTLE_DELAY_MILLIS", 1000)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid SETTLE_DELAY_MILLIS: %v", err))
	} else if settleMillis < 0 {
		errs = append(errs, "SETTLE_DELAY_MILLIS cannot be negative")
	}
	cfg.SettleDelay = time.Duration(settleMillis) * time.Millisecond

	// Connection Settings
	httpTimeoutSeconds := src.getInt("HTTP_TIMEOUT_SECONDS", 20)
	if httpTimeoutSeconds <= 0 {
		errs = append(errs, "HTTP_TIMEOUT_SECONDS must be positive")
	}
	cfg.HTTPTimeout = time.Duration(httpTimeoutSeconds) * time.Second

	reconnectDelaySeconds, err := src.getIntRequired("RECONNECT_DELAY_SECONDS", 1)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid RECONNECT_DELAY_SECONDS: %v", err))
	} else if reconnectDelaySeconds < 0 {
		errs = append(errs, "RECONNECT_DELAY_SECONDS cannot be negative")
	}
	cfg.ReconnectDelay = time.Duration(reconnectDelaySeconds) * time.Second

	// Candles
	tz := src.get("TIMEZONE", "Local")
	cfg.Location, err = time.LoadLocation(tz)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid TIMEZONE %q: %v", tz, err))
	}

	// HTTP API
	cfg.AppPort = src.get("APP_PORT", "10000")
	cfg.KeepAliveCron = src.get("KEEPALIVE_CRON", "")

	// Logging
	cfg.LogLevel = logger.ParseLevel(src.get("LOG_LEVEL", "INFO"))
	cfg.LogFormat = logger.ParseFormat(src.get("LOG_FORMAT", "text"))

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// --- Value Sources ---

// source resolves keys from the environment first, then the optional YAML file.
type source struct {
	file map[string]string
}

func newSource(path string) (*source, error) {
	src := &source{file: map[string]string{}}
	if path == "" {
		return src, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return src, nil
		}
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &src.file); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return src, nil
}

func (s *source) lookup(key string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return strings.TrimSpace(s.file[key])
}

func (s *source) get(key, defaultValue string) string {
	value := s.lookup(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func (s *source) getInt(key string, defaultValue int) int {
	valueStr := s.lookup(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func (s *source) getIntRequired(key string, defaultValue int) (int, error) {
	valueStr := s.lookup(key)
	if valueStr == "" {
		// Use default if the key is not set at all
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Return error if the key is set but invalid
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func (s *source) getBool(key string, defaultValue bool) bool {
	valueStr := s.lookup(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
