package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"qxGateway/internal/candles"
	"qxGateway/internal/domain"
	"qxGateway/internal/ports"
)

// Request defaults and bounds for the candle endpoints.
const (
	DefaultCount  = 50
	MaxCount      = 2000
	DefaultPeriod = 60
	MinPeriod     = 5
	MaxPeriod     = 86400
	DefaultOffset = 3600
	MaxOffset     = MaxCount * MaxPeriod
)

// CandleBatch is the caller-facing answer for a candle query.
type CandleBatch struct {
	Asset   string          `json:"asset"`
	Period  int             `json:"period"`
	Count   int             `json:"count"`
	Candles []domain.Candle `json:"candles"`
}

// SessionStatus describes the gateway connection for observers.
type SessionStatus struct {
	State    domain.ConnState `json:"state"`
	HasToken bool             `json:"has_token"`
}

// CandleService validates candle queries and runs them through the gateway.
type CandleService struct {
	logger  ports.Logger
	gateway ports.CandleGateway
}

// NewCandleService creates a new application service instance.
func NewCandleService(logger ports.Logger, gateway ports.CandleGateway) (*CandleService, error) {
	if logger == nil || gateway == nil {
		return nil, fmt.Errorf("%w: missing required dependencies for CandleService", ports.ErrConfigurationError)
	}
	return &CandleService{logger: logger, gateway: gateway}, nil
}

// FetchCandles returns the normalized candles of period seconds covering the
// last offset seconds.
func (s *CandleService) FetchCandles(ctx context.Context, asset string, period, offset int) ([]domain.Candle, error) {
	asset = strings.TrimSpace(asset)
	if asset == "" {
		return nil, fmt.Errorf("%w: asset is required", ports.ErrInvalidRequest)
	}
	if err := checkPeriod(period); err != nil {
		return nil, err
	}
	if offset < 1 || offset > MaxOffset {
		return nil, fmt.Errorf("%w: offset must be between 1 and %d seconds", ports.ErrInvalidRequest, MaxOffset)
	}

	out, err := s.gateway.Fetch(ctx, asset, period, time.Duration(offset)*time.Second)
	if err != nil {
		s.logger.Error(ctx, err, "Failed to fetch candles", map[string]interface{}{
			"asset": asset, "period": period, "offset": offset,
		})
		return nil, err
	}
	return out, nil
}

// LastCandles returns at most count of the most recent candles.
func (s *CandleService) LastCandles(ctx context.Context, asset string, count, period int) (*CandleBatch, error) {
	if count < 1 || count > MaxCount {
		return nil, fmt.Errorf("%w: count must be between 1 and %d", ports.ErrInvalidRequest, MaxCount)
	}
	if err := checkPeriod(period); err != nil {
		return nil, err
	}
	out, err := s.FetchCandles(ctx, asset, period, count*period)
	if err != nil {
		return nil, err
	}
	return newBatch(asset, period, candles.TakeLast(out, count)), nil
}

func checkPeriod(period int) error {
	if period < MinPeriod || period > MaxPeriod {
		return fmt.Errorf("%w: period must be between %d and %d seconds", ports.ErrInvalidRequest, MinPeriod, MaxPeriod)
	}
	return nil
}

// RangeCandles returns every candle in the last offset seconds.
func (s *CandleService) RangeCandles(ctx context.Context, asset string, period, offset int) (*CandleBatch, error) {
	out, err := s.FetchCandles(ctx, asset, period, offset)
	if err != nil {
		return nil, err
	}
	return newBatch(asset, period, out), nil
}

// Status reports the gateway state. It never waits for the upstream.
func (s *CandleService) Status() SessionStatus {
	return SessionStatus{State: s.gateway.State(), HasToken: s.gateway.HasToken()}
}

// KeepAlive probes the upstream and reconnects if needed.
func (s *CandleService) KeepAlive(ctx context.Context) error {
	if err := s.gateway.EnsureConnected(ctx); err != nil {
		s.logger.Warn(ctx, "Keepalive could not reach upstream", map[string]interface{}{"error": err.Error()})
		return err
	}
	s.logger.Debug(ctx, "Keepalive ok")
	return nil
}

func newBatch(asset string, period int, out []domain.Candle) *CandleBatch {
	if out == nil {
		out = []domain.Candle{}
	}
	return &CandleBatch{Asset: strings.TrimSpace(asset), Period: period, Count: len(out), Candles: out}
}
