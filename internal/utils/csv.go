package utils

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"qxGateway/internal/domain"
)

// CandleCSVHeader is the first row written by WriteCandlesToCSV.
var CandleCSVHeader = []string{"asset", "time", "date", "time_hm", "open", "high", "low", "close", "ticks", "color"}

// WriteCandlesToCSV writes candles to filename, creating parent directories.
func WriteCandlesToCSV(candles []domain.Candle, filename string) error {
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory for %s: %w", filename, err)
		}
	}
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(CandleCSVHeader); err != nil {
		return err
	}

	for _, c := range candles {
		ticks := ""
		if c.Ticks != nil {
			ticks = strconv.Itoa(*c.Ticks)
		}
		if err := writer.Write([]string{
			c.Asset,
			strconv.FormatInt(c.Time, 10),
			c.Date,
			c.TimeHM,
			strconv.FormatFloat(c.Open, 'f', -1, 64),
			strconv.FormatFloat(c.High, 'f', -1, 64),
			strconv.FormatFloat(c.Low, 'f', -1, 64),
			strconv.FormatFloat(c.Close, 'f', -1, 64),
			ticks,
			string(c.Color),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
