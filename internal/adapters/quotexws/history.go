package quotexws

import (
	"bytes"
	"encoding/json"
	"fmt"

	"qxGateway/internal/domain"
)

// historyFrame covers the history payload shapes seen on the socket: OHLC bars
// under "candles" (or "data"), raw ticks under "history".
type historyFrame struct {
	Asset   string            `json:"asset"`
	Candles []json.RawMessage `json:"candles"`
	Data    []json.RawMessage `json:"data"`
	History []json.RawMessage `json:"history"`
}

type barObject struct {
	Time  *float64 `json:"time"`
	Open  *float64 `json:"open"`
	Close *float64 `json:"close"`
	High  *float64 `json:"high"`
	Low   *float64 `json:"low"`
	Ticks *int     `json:"ticks"`
	Price *float64 `json:"price"`
}

// parseHistory reports ok=false for frames that are not a history answer for asset.
// Entries that do not parse are dropped.
func parseHistory(payload json.RawMessage, asset string) ([]domain.RawCandle, bool, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false, nil
	}
	var frame historyFrame
	if err := json.Unmarshal(trimmed, &frame); err != nil {
		return nil, false, fmt.Errorf("decode history frame: %w", err)
	}
	if frame.Asset != "" && frame.Asset != asset {
		return nil, false, nil
	}

	bars := frame.Candles
	if len(bars) == 0 {
		bars = frame.Data
	}
	switch {
	case len(bars) > 0:
		return collect(bars, parseBar), true, nil
	case len(frame.History) > 0:
		return collect(frame.History, parseTick), true, nil
	case frame.Candles != nil || frame.Data != nil || frame.History != nil:
		return []domain.RawCandle{}, true, nil
	default:
		return nil, false, nil
	}
}

func collect(entries []json.RawMessage, parse func(json.RawMessage) (domain.RawCandle, bool)) []domain.RawCandle {
	out := make([]domain.RawCandle, 0, len(entries))
	for _, e := range entries {
		if rc, ok := parse(e); ok {
			out = append(out, rc)
		}
	}
	return out
}

// parseBar accepts [time, open, close, high, low, ticks?] or an object.
func parseBar(raw json.RawMessage) (domain.RawCandle, bool) {
	var arr []*float64
	if err := json.Unmarshal(raw, &arr); err == nil {
		if len(arr) < 5 || arr[0] == nil {
			return domain.RawCandle{}, false
		}
		rc := domain.RawCandle{Time: *arr[0], Open: arr[1], Close: arr[2], High: arr[3], Low: arr[4]}
		if len(arr) > 5 && arr[5] != nil {
			n := int(*arr[5])
			rc.Ticks = &n
		}
		return rc, true
	}
	var obj barObject
	if err := json.Unmarshal(raw, &obj); err != nil || obj.Time == nil {
		return domain.RawCandle{}, false
	}
	return domain.RawCandle{
		Time: *obj.Time, Open: obj.Open, Close: obj.Close, High: obj.High, Low: obj.Low, Ticks: obj.Ticks, Price: obj.Price,
	}, true
}

// parseTick accepts [time, price, ...] or {"time":..,"price":..}.
func parseTick(raw json.RawMessage) (domain.RawCandle, bool) {
	var arr []*float64
	if err := json.Unmarshal(raw, &arr); err == nil {
		if len(arr) < 2 || arr[0] == nil || arr[1] == nil {
			return domain.RawCandle{}, false
		}
		return domain.RawCandle{Time: *arr[0], Price: arr[1]}, true
	}
	var obj barObject
	if err := json.Unmarshal(raw, &obj); err != nil || obj.Time == nil || obj.Price == nil {
		return domain.RawCandle{}, false
	}
	return domain.RawCandle{Time: *obj.Time, Price: obj.Price}, true
}
