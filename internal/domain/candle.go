package domain

// RawCandle is a record as delivered by the upstream. Depending on the feed it
// is either an OHLC bar or a single tick carrying only Price.
type RawCandle struct {
	Time  float64  // Epoch seconds, may carry a fractional part for ticks
	Open  *float64 // nil for tick-level records
	Close *float64
	High  *float64
	Low   *float64
	Price *float64 // Tick price
	Ticks *int     // Number of ticks folded into the bar, if reported
}

// HasOHLC reports whether the record is already shaped as a bar.
func (r RawCandle) HasOHLC() bool {
	return r.Open != nil
}

// Candle is one normalized OHLC record handed to callers.
type Candle struct {
	Asset  string      `json:"asset"`
	Time   int64       `json:"time"`    // Epoch seconds of the bar start
	Date   string      `json:"date"`    // 2006-01-02 in the configured location
	TimeHM string      `json:"time_hm"` // 15:04 in the configured location
	Open   float64     `json:"open"`
	Close  float64     `json:"close"`
	Low    float64     `json:"low"`
	High   float64     `json:"high"`
	Ticks  *int        `json:"ticks,omitempty"`
	Color  CandleColor `json:"color,omitempty"`
}

// Float returns a pointer to v. Handy when building RawCandle values.
func Float(v float64) *float64 {
	return &v
}
