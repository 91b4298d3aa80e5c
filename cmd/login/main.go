// Command login performs an interactive upstream login and stores the session
// for the gateway to reuse.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"qxGateway/config"
	"qxGateway/internal/adapters/logger"
	"qxGateway/internal/bootstrap"
)

func main() {
	fresh := flag.Bool("fresh", false, "Discard the stored session and log in again")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}
	if cfg.Provider != config.ProviderQuotex {
		log.Fatalf("FATAL: provider %q needs no login", cfg.Provider)
	}
	// Codes and missing credentials are always asked on the terminal here.
	cfg.TwoFactorSource = config.CodeSourceStdin

	appLogger := logger.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := bootstrap.Build(ctx, cfg, appLogger, bootstrap.Options{})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize gateway: %v", err)
	}
	defer components.Close(context.Background())

	if *fresh {
		if err := components.Store.Invalidate(ctx); err != nil {
			log.Fatalf("FATAL: Failed to discard stored session: %v", err)
		}
	}

	if err := components.Manager.Connect(ctx); err != nil {
		appLogger.Error(ctx, err, "Login failed")
		fmt.Fprintln(os.Stderr, err)
		components.Close(context.Background())
		os.Exit(1)
	}

	status := components.Service.Status()
	fmt.Printf("Session ready (state=%s, token=%t)\n", status.State, status.HasToken)
}
