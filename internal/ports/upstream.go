package ports

import (
	"context"
	"time"

	"qxGateway/internal/domain"
)

// Upstream is the market-data capability the gateway drives.
// Implementations are not safe for concurrent use; the gateway serializes calls.
type Upstream interface {
	// Connect opens the upstream handle using the given session.
	// sess may be nil for upstreams that need no authentication.
	// The returned error carries the upstream's stated reason.
	Connect(ctx context.Context, sess *domain.Session) error

	// CheckConnect probes the liveness of an open handle.
	CheckConnect(ctx context.Context) bool

	// GetCandles returns the raw records covering span seconds before end,
	// in the order delivered by the upstream (chronological).
	GetCandles(ctx context.Context, asset string, end time.Time, span time.Duration, period int) ([]domain.RawCandle, error)

	// Close releases the handle. Safe to call on a closed upstream.
	Close() error
}
