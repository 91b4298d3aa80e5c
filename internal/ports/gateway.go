package ports

import (
	"context"
	"time"

	"qxGateway/internal/domain"
)

// CandleGateway is the serialized, self-healing access point to the upstream.
type CandleGateway interface {
	EnsureConnected(ctx context.Context) error
	Fetch(ctx context.Context, asset string, period int, span time.Duration) ([]domain.Candle, error)
	State() domain.ConnState
	HasToken() bool
}
