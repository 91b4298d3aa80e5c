package candles

import (
	"math"
	"sort"

	"qxGateway/internal/domain"
)

// Aggregate folds tick records into OHLC bars of period seconds. Each tick
// lands in the bucket floor(time/period)*period; bars come out oldest first.
// Records without a usable price or time are skipped.
func Aggregate(ticks []domain.RawCandle, period int) []domain.RawCandle {
	if period <= 0 {
		period = 60
	}
	p := float64(period)

	type bar struct {
		open, close, high, low float64
		n                      int
	}
	bars := make(map[int64]*bar)
	var order []int64

	for _, t := range ticks {
		price, ok := tickPrice(t)
		if !ok || math.IsNaN(t.Time) || math.IsInf(t.Time, 0) {
			continue
		}
		start := int64(math.Floor(t.Time/p) * p)
		b, seen := bars[start]
		if !seen {
			b = &bar{open: price, close: price, high: price, low: price}
			bars[start] = b
			order = append(order, start)
		}
		b.close = price
		b.high = math.Max(b.high, price)
		b.low = math.Min(b.low, price)
		b.n++
	}

	// Ticks normally arrive in order; sort in case a batch was stitched out of order.
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	out := make([]domain.RawCandle, 0, len(order))
	for _, start := range order {
		b := bars[start]
		n := b.n
		out = append(out, domain.RawCandle{
			Time:  float64(start),
			Open:  domain.Float(b.open),
			Close: domain.Float(b.close),
			High:  domain.Float(b.high),
			Low:   domain.Float(b.low),
			Ticks: &n,
		})
	}
	return out
}

func tickPrice(t domain.RawCandle) (float64, bool) {
	switch {
	case t.Price != nil:
		return *t.Price, !math.IsNaN(*t.Price)
	case t.Close != nil:
		return *t.Close, !math.IsNaN(*t.Close)
	default:
		return 0, false
	}
}
