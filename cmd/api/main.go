package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/phonginreallife/oncall/handlers"
	"github.com/phonginreallife/oncall/internal/app"
	"github.com/phonginreallife/oncall/internal/config"
	"github.com/phonginreallife/oncall/internal/logging"
	"github.com/phonginreallife/oncall/router"
)

func main() {
	if err := config.LoadConfig(os.Getenv("inres_CONFIG_PATH")); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg := config.App

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize", zap.Error(err))
	}
	defer a.Close()

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := router.NewGinRouter(a.Services, handlers.NewAuthMiddleware(cfg.AuthJWTSecret, logger), a.Registry, logger)

	// In-memory timers only live in this process, so it must fire them too.
	if cfg.Worker.TimerBackend == config.TimerBackendMemory {
		go func() {
			if err := a.RunWorkers(ctx); err != nil {
				logger.Error("workers stopped", zap.Error(err))
			}
		}()
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("API server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
