// Package candles turns raw upstream records into normalized Candle values.
package candles

import (
	"math"
	"time"

	"qxGateway/internal/domain"
)

// Placeholders used when a timestamp cannot be converted.
const (
	PlaceholderDate   = "1970-01-01"
	PlaceholderTimeHM = "00:00"
)

// maxEpoch keeps conversions inside the range time.Unix handles sanely (year 9999).
const maxEpoch = 253402300799

// Normalizer converts raw upstream batches into Candle records.
type Normalizer struct {
	Location *time.Location // nil means time.Local
}

// NewNormalizer creates a Normalizer rendering dates in loc.
func NewNormalizer(loc *time.Location) *Normalizer {
	return &Normalizer{Location: loc}
}

// Normalize tags, colors and dates every record of one batch. A batch whose
// first record has no open price is treated as ticks and aggregated into
// period-second bars first. Output order follows input order.
func (n *Normalizer) Normalize(asset string, period int, raws []domain.RawCandle) []domain.Candle {
	if len(raws) == 0 {
		return []domain.Candle{}
	}
	if !raws[0].HasOHLC() {
		raws = Aggregate(raws, period)
	}

	loc := n.Location
	if loc == nil {
		loc = time.Local
	}

	out := make([]domain.Candle, 0, len(raws))
	for _, r := range raws {
		c := domain.Candle{
			Asset: asset,
			Open:  value(r.Open),
			Close: value(r.Close),
			High:  value(r.High),
			Low:   value(r.Low),
			Ticks: r.Ticks,
			Color: ColorOf(r.Open, r.Close),
		}
		c.Time, c.Date, c.TimeHM = stamp(r.Time, loc)
		out = append(out, c)
	}
	return out
}

// ColorOf derives the candle direction. Without both prices there is no color.
func ColorOf(open, close *float64) domain.CandleColor {
	if open == nil || close == nil {
		return domain.ColorNone
	}
	switch {
	case *close > *open:
		return domain.ColorUp
	case *close < *open:
		return domain.ColorDown
	case *close == *open:
		return domain.ColorFlat
	default:
		return domain.ColorNone // NaN on either side
	}
}

// TakeLast returns the most recent n candles. n <= 0 returns everything.
func TakeLast(candles []domain.Candle, n int) []domain.Candle {
	if n <= 0 || n >= len(candles) {
		return candles
	}
	return candles[len(candles)-n:]
}

func stamp(epoch float64, loc *time.Location) (int64, string, string) {
	if math.IsNaN(epoch) || math.IsInf(epoch, 0) || epoch < -maxEpoch || epoch > maxEpoch {
		return 0, PlaceholderDate, PlaceholderTimeHM
	}
	sec := int64(epoch)
	t := time.Unix(sec, 0).In(loc)
	return sec, t.Format("2006-01-02"), t.Format("15:04")
}

func value(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}
