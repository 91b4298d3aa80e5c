package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"qxGateway/config"
	"qxGateway/internal/adapters/logger"
	"qxGateway/internal/app"
	"qxGateway/internal/bootstrap"
	"qxGateway/internal/utils"
)

func main() {
	asset := flag.String("asset", "EURUSD_otc", "Asset to fetch")
	period := flag.Int("period", app.DefaultPeriod, "Candle period in seconds")
	offset := flag.Int("offset", app.DefaultOffset, "How many seconds of history to fetch")
	out := flag.String("out", "", "CSV file to write (default data/<asset>_<period>s_<date>.csv)")
	flag.Parse()

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}
	if cfg.TwoFactorSource == config.CodeSourceAPI {
		// Nobody serves the code endpoint from this command.
		cfg.TwoFactorSource = config.CodeSourceStdin
	}

	// 2. Initialize Logger
	appLogger := logger.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	ctx := context.Background()

	// 3. Initialize Gateway
	components, err := bootstrap.Build(ctx, cfg, appLogger, bootstrap.Options{})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize gateway: %v", err)
	}
	defer components.Close(ctx)

	fmt.Fprintf(os.Stderr, "Fetching %s candles for %s over the last %ds...\n", time.Duration(*period)*time.Second, *asset, *offset)
	batch, err := components.Service.RangeCandles(ctx, *asset, *period, *offset)
	if err != nil {
		components.Close(ctx)
		log.Fatalf("Error fetching candles: %v", err)
	}
	appLogger.Info(ctx, "Fetched candles", map[string]interface{}{"count": batch.Count})

	filename := *out
	if filename == "" {
		filename = fmt.Sprintf("data/%s_%ds_%s.csv", batch.Asset, batch.Period, time.Now().Format("20060102_150405"))
	}
	if err := utils.WriteCandlesToCSV(batch.Candles, filename); err != nil {
		components.Close(ctx)
		log.Fatalf("Error writing CSV: %v", err)
	}
	appLogger.Info(ctx, "Saved to", map[string]interface{}{"filename": filename})
}
