package main

import (
	"context"
	"log"

	"github.com/rinta-toyoda/retailer-agent-project/internal/app"
	"github.com/rinta-toyoda/retailer-agent-project/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()

	// Build собирает граф зависимостей: хранилища, ledger, checkout, воркеры, HTTP
	application, err := app.Build(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to build app: %v", err)
	}

	if err := application.Run(ctx); err != nil {
		log.Fatalf("Service error: %v", err)
	}
}
