package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/phonginreallife/oncall/internal/app"
	"github.com/phonginreallife/oncall/internal/config"
	"github.com/phonginreallife/oncall/internal/logging"
)

func main() {
	log.Println("Starting workers...")

	// Load Config
	if err := config.LoadConfig(os.Getenv("inres_CONFIG_PATH")); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg := config.App

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	if cfg.Worker.TimerBackend == config.TimerBackendMemory {
		logger.Warn("memory timer backend selected, timers armed by the API process are not visible here")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize", zap.Error(err))
	}
	defer a.Close()

	if err := a.RunWorkers(ctx); err != nil {
		logger.Error("workers stopped with error", zap.Error(err))
	}
	logger.Info("all workers stopped gracefully")
}
