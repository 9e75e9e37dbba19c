package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"studychat/internal/app"
	"studychat/internal/config"
	"studychat/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func run() error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.OTLPEndpoint, "studychat")
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Printf("tracing shutdown: %v", err)
		}
	}()

	server, err := app.New(cfg)
	if err != nil {
		return err
	}
	return server.Run(ctx)
}
