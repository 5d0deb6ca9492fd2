// Command search runs the search service and its indexing consumer.
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

	cfg, err := config.Load("search-service")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	application, err := app.NewSearch(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to init search-service: %v", err)
	}

	if err := application.Run(ctx); err != nil {
		log.Printf("search-service stopped: %v", err)
		os.Exit(1)
	}
}
