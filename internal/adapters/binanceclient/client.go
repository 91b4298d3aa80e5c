package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"

	"qxGateway/internal/domain"
	"qxGateway/internal/ports"
)

const (
	// Base URLs
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"

	maxKlinesPerRequest = 1500
)

// periodIntervals maps candle periods in seconds to kline intervals.
var periodIntervals = map[int]string{
	60:     "1m",
	180:    "3m",
	300:    "5m",
	900:    "15m",
	1800:   "30m",
	3600:   "1h",
	7200:   "2h",
	14400:  "4h",
	21600:  "6h",
	28800:  "8h",
	43200:  "12h",
	86400:  "1d",
	259200: "3d",
	604800: "1w",
}

// Client implements ports.Upstream on Binance futures public market data.
// It needs no login; Connect only verifies the API is reachable.
type Client struct {
	futuresClient *futures.Client
	logger        ports.Logger
	connected     atomic.Bool
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	UseTestnet bool
	BaseURL    string // Overrides the production/testnet URL when set
	Logger     ports.Logger
}

// New creates a new Binance client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}

	// Public endpoints only: no API keys.
	client := futures.NewClient("", "")

	switch {
	case cfg.BaseURL != "":
		client.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	case cfg.UseTestnet:
		client.BaseURL = baseURLTestnet
	default:
		client.BaseURL = baseURLProduction
	}
	cfg.Logger.Info(context.Background(), "Binance client configured", map[string]interface{}{"baseURL": client.BaseURL})

	return &Client{futuresClient: client, logger: cfg.Logger}, nil
}

// SupportedPeriod reports whether period (seconds) has a kline interval.
func SupportedPeriod(period int) bool {
	_, ok := periodIntervals[period]
	return ok
}

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		var mappedErr error
		switch apiErr.Code {
		case -1003: // Too many requests
			mappedErr = ports.ErrRateLimited
		case -1021: // Timestamp outside of the recvWindow
			mappedErr = ports.ErrTimeout
		case -1100, -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1115, -1116, -1117, -1120, -1121, -1125, -1127, -1128, -1130: // Parameter/Request format errors
			mappedErr = ports.ErrInvalidRequest
		default:
			mappedErr = ports.ErrUnknown
		}
		finalErr := fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return finalErr
	}

	// Handle non-API errors (network, context cancellation, etc.)
	var finalErr error
	if errors.Is(err, context.DeadlineExceeded) {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	} else if errors.Is(err, context.Canceled) {
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	} else {
		// Anything else reaching the transport is treated as the upstream being unreachable.
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// Ping checks the connectivity to the exchange API.
func (c *Client) Ping(ctx context.Context) error {
	op := "Ping"
	err := c.futuresClient.NewPingService().Do(ctx)
	if err != nil {
		return c.handleError(ctx, fmt.Errorf("ping failed: %w", err), op)
	}
	c.logger.Debug(ctx, op+" successful")
	return nil
}

// Connect ignores the session; the public API has no login.
func (c *Client) Connect(ctx context.Context, _ *domain.Session) error {
	if err := c.Ping(ctx); err != nil {
		c.connected.Store(false)
		return err
	}
	c.connected.Store(true)
	return nil
}

// CheckConnect pings the API.
func (c *Client) CheckConnect(ctx context.Context) bool {
	if !c.connected.Load() {
		return false
	}
	return c.Ping(ctx) == nil
}

// Close marks the client disconnected. There is no persistent connection to drop.
func (c *Client) Close() error {
	c.connected.Store(false)
	return nil
}

// GetCandles fetches every kline of period seconds in (end-span, end].
func (c *Client) GetCandles(ctx context.Context, asset string, end time.Time, span time.Duration, period int) ([]domain.RawCandle, error) {
	op := "GetCandles"
	interval, ok := periodIntervals[period]
	if !ok {
		return nil, fmt.Errorf("%w: period %ds has no kline interval", ports.ErrInvalidRequest, period)
	}
	symbol := strings.ToUpper(asset)
	if symbol == "" {
		return nil, fmt.Errorf("%w: asset is required", ports.ErrInvalidRequest)
	}

	var out []domain.RawCandle
	from := end.Add(-span)

	for {
		klines, err := c.futuresClient.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			StartTime(from.UnixMilli()).
			EndTime(end.UnixMilli()).
			Limit(maxKlinesPerRequest).
			Do(ctx)
		if err != nil {
			return nil, c.handleError(ctx, err, op)
		}
		if len(klines) == 0 {
			break
		}
		for _, bk := range klines {
			rc, err := translateBinanceKline(bk)
			if err != nil {
				return nil, c.handleError(ctx, fmt.Errorf("%w: failed to translate kline: %w", ports.ErrUpstreamProtocol, err), op)
			}
			out = append(out, rc)
		}
		last := klines[len(klines)-1]
		from = time.UnixMilli(last.CloseTime + 1)
		if from.After(end) || len(klines) < maxKlinesPerRequest {
			break
		}
	}

	c.logger.Debug(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "interval": interval, "count": len(out)})
	return out, nil
}

func translateBinanceKline(bk *futures.Kline) (domain.RawCandle, error) {
	if bk == nil {
		return domain.RawCandle{}, errors.New("received nil historical kline")
	}
	open, err := strconv.ParseFloat(bk.Open, 64)
	if err != nil {
		return domain.RawCandle{}, fmt.Errorf("parsing open price '%s': %w", bk.Open, err)
	}
	high, err := strconv.ParseFloat(bk.High, 64)
	if err != nil {
		return domain.RawCandle{}, fmt.Errorf("parsing high price '%s': %w", bk.High, err)
	}
	low, err := strconv.ParseFloat(bk.Low, 64)
	if err != nil {
		return domain.RawCandle{}, fmt.Errorf("parsing low price '%s': %w", bk.Low, err)
	}
	cls, err := strconv.ParseFloat(bk.Close, 64)
	if err != nil {
		return domain.RawCandle{}, fmt.Errorf("parsing close price '%s': %w", bk.Close, err)
	}
	trades := int(bk.TradeNum)

	return domain.RawCandle{
		Time:  float64(bk.OpenTime / 1000),
		Open:  &open,
		Close: &cls,
		High:  &high,
		Low:   &low,
		Ticks: &trades,
	}, nil
}

var _ ports.Upstream = (*Client)(nil)
