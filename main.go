package main

import (
	"context"
	"errors"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"qxGateway/config"
	"qxGateway/internal/adapters/logger"
	"qxGateway/internal/api"
	"qxGateway/internal/bootstrap"
	"qxGateway/internal/scheduler"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger := logger.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Wire store, login flow, upstream and gateway. Nothing connects yet:
	// the first request that needs the upstream does.
	components, err := bootstrap.Build(ctx, cfg, appLogger, bootstrap.Options{})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize gateway")
		log.Fatalf("FATAL: Failed to initialize gateway: %v", err)
	}

	// 4. Optional keepalive
	var keepalive *scheduler.Scheduler
	if cfg.KeepAliveCron != "" {
		keepalive = scheduler.NewScheduler(ctx, components.Service, appLogger, cfg.HTTPTimeout*2)
		if err := keepalive.Register(cfg.KeepAliveCron); err != nil {
			appLogger.Error(ctx, err, "FATAL: Failed to schedule keepalive")
			log.Fatalf("FATAL: Failed to schedule keepalive: %v", err)
		}
		keepalive.Start()
	}

	// 5. HTTP API
	gin.SetMode(gin.ReleaseMode)
	var codes api.CodeSink
	if components.Codes != nil {
		codes = components.Codes
	}
	handler, err := api.NewHandler(components.Service, codes, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize API handler")
		log.Fatalf("FATAL: Failed to initialize API handler: %v", err)
	}
	server := &http.Server{
		Addr:              ":" + cfg.AppPort,
		Handler:           api.NewRouter(handler, appLogger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error(ctx, err, "HTTP server failed")
			stop()
		}
	}()
	appLogger.Info(ctx, "Gateway started", map[string]interface{}{"port": cfg.AppPort, "provider": cfg.Provider})

	<-ctx.Done()
	appLogger.Info(context.Background(), "Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if keepalive != nil {
		keepalive.Stop()
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(shutdownCtx, err, "HTTP server shutdown failed")
	}
	if err := components.Close(shutdownCtx); err != nil {
		appLogger.Error(shutdownCtx, err, "Error closing gateway")
	}

	appLogger.Info(context.Background(), "Application finished gracefully.")
}
