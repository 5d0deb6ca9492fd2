// Command media runs the media service and its post cleanup consumer.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/dhruv-khokhar/ChatterNet/internal/infra/app"
	"github.com/dhruv-khokhar/ChatterNet/internal/infra/config"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load("media-service")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	application, err := app.NewMedia(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to init media-service: %v", err)
	}

	if err := application.Run(ctx); err != nil {
		log.Printf("media-service stopped: %v", err)
		os.Exit(1)
	}
}
