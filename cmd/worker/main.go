package main

import (
	"context"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/viralforge/mesh/services/financial-rails/M15-settlement-engine/internal/app/bootstrap"
)

func main() {
	_ = godotenv.Load()

	configPath := os.Getenv("M15_CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/default.yaml"
	}
	ctx := context.Background()
	runtime, err := bootstrap.NewRuntime(ctx, configPath)
	if err != nil {
		log.Fatalf("bootstrap worker runtime: %v", err)
	}
	if err := runtime.RunWorker(ctx); err != nil {
		log.Fatalf("run worker: %v", err)
	}
}
