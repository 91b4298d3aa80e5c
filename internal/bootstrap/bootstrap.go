// Package bootstrap assembles the gateway from configuration.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"qxGateway/config"
	"qxGateway/internal/adapters/binanceclient"
	"qxGateway/internal/adapters/browser"
	"qxGateway/internal/adapters/quotexws"
	"qxGateway/internal/adapters/sessionstore"
	"qxGateway/internal/app"
	"qxGateway/internal/auth"
	"qxGateway/internal/candles"
	"qxGateway/internal/gateway"
	"qxGateway/internal/ports"
)

// Components are the wired pieces a command needs.
type Components struct {
	Store   ports.SessionStore
	Flow    *auth.Flow // nil for upstreams without login
	Manager *gateway.Manager
	Service *app.CandleService
	Codes   *auth.ChannelCodeProvider // non-nil when codes arrive over HTTP

	closers []func(ctx context.Context) error
}

// Options override parts of the configured wiring.
type Options struct {
	Codes  ports.CodeProvider // Replaces the configured two-factor source
	Stdin  io.Reader          // Defaults to os.Stdin
	Stdout io.Writer          // Defaults to os.Stdout
}

// Build wires store, transport, login flow, upstream, manager and service.
// Nothing connects to the upstream here.
func Build(ctx context.Context, cfg *config.Config, logger ports.Logger, opts Options) (*Components, error) {
	if cfg == nil || logger == nil {
		return nil, fmt.Errorf("%w: config and logger are required", ports.ErrConfigurationError)
	}
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}

	c := &Components{}
	store, err := c.openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	c.Store = store
	logger.Info(ctx, "Session store initialized", map[string]interface{}{"backend": cfg.SessionBackend})

	mcfg := gateway.Config{
		Store:      store,
		Normalizer: candles.NewNormalizer(cfg.Location),
		Logger:     logger,
		Provider:   cfg.Provider,
		RetryDelay: cfg.ReconnectDelay,
	}

	switch cfg.Provider {
	case config.ProviderBinance:
		client, err := binanceclient.New(binanceclient.Config{
			UseTestnet: cfg.BinanceTestnet,
			Logger:     logger,
		})
		if err != nil {
			c.Close(ctx)
			return nil, fmt.Errorf("failed to initialize Binance client: %w", err)
		}
		mcfg.Upstream = client
		// Public market data: no login, nothing to persist.
		mcfg.Store = nil
	default:
		if err := c.wireQuotex(cfg, logger, opts, &mcfg); err != nil {
			c.Close(ctx)
			return nil, err
		}
	}

	c.Manager, err = gateway.NewManager(mcfg)
	if err != nil {
		c.Close(ctx)
		return nil, fmt.Errorf("failed to initialize gateway manager: %w", err)
	}
	if c.Flow != nil {
		c.Flow.SetObserver(c.Manager)
	}
	c.closers = append(c.closers, c.Manager.Close)

	c.Service, err = app.NewCandleService(logger, c.Manager)
	if err != nil {
		c.Close(ctx)
		return nil, err
	}
	logger.Info(ctx, "Gateway assembled", map[string]interface{}{"provider": cfg.Provider})
	return c, nil
}

func (c *Components) openStore(ctx context.Context, cfg *config.Config, logger ports.Logger) (ports.SessionStore, error) {
	switch cfg.SessionBackend {
	case config.BackendSQLite:
		s, err := sessionstore.NewSQLiteStore(sessionstore.SQLiteConfig{DBPath: cfg.SessionDBPath, Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("failed to open SQLite session store: %w", err)
		}
		c.closers = append(c.closers, func(context.Context) error { return s.Close() })
		return s, nil
	case config.BackendRedis:
		s, err := sessionstore.NewRedisStore(ctx, sessionstore.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			Key:      cfg.SessionKey,
			Logger:   logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open Redis session store: %w", err)
		}
		c.closers = append(c.closers, func(context.Context) error { return s.Close() })
		return s, nil
	default:
		s, err := sessionstore.NewFileStore(sessionstore.FileConfig{Path: cfg.SessionFile(), Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("failed to open session file: %w", err)
		}
		return s, nil
	}
}

func (c *Components) wireQuotex(cfg *config.Config, logger ports.Logger, opts Options, mcfg *gateway.Config) error {
	b, err := browser.New(browser.Config{
		BaseURL:   cfg.BaseURL,
		UserAgent: cfg.UserAgent,
		Timeout:   cfg.HTTPTimeout,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize browser: %w", err)
	}

	codes := opts.Codes
	var terminal ports.CodeProvider
	if codes == nil {
		switch cfg.TwoFactorSource {
		case config.CodeSourceAPI:
			c.Codes = auth.NewChannelCodeProvider()
			codes = c.Codes
		default:
			terminal = auth.NewStdinCodeProvider(opts.Stdin, opts.Stdout)
			codes = terminal
		}
	}

	c.Flow, err = auth.NewFlow(auth.Config{
		Transport:   b,
		Store:       c.Store,
		Codes:       codes,
		Logger:      logger,
		BaseURL:     cfg.BaseURL,
		Lang:        cfg.Lang,
		SettleDelay: cfg.SettleDelay,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize login flow: %w", err)
	}

	var creds ports.CredentialSource = gateway.StaticCredentials{Email: cfg.Email, Password: cfg.Password}
	if !cfg.HasCredentials() && terminal != nil {
		creds = auth.NewPromptedCredentials(terminal)
	}

	wsURL := cfg.WSURL
	if wsURL == "" {
		if wsURL, err = quotexws.DefaultWSURL(cfg.BaseURL); err != nil {
			return err
		}
	}
	client, err := quotexws.NewClient(quotexws.Config{
		WSURL:   wsURL,
		Origin:  cfg.BaseURL,
		Demo:    cfg.Demo,
		Timeout: cfg.HTTPTimeout,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize websocket upstream: %w", err)
	}

	mcfg.Upstream = client
	mcfg.Authenticator = c.Flow
	mcfg.Credentials = creds
	return nil
}

// Close releases the upstream and the store, in reverse order of creation.
func (c *Components) Close(ctx context.Context) error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
