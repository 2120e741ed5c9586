package main

import (
	"context"
	"log"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/phonginreallife/oncall/internal/logging"
	"github.com/phonginreallife/oncall/migrations"
	"github.com/phonginreallife/oncall/store/postgres"
)

func main() {
	// Load .env file
	if err := godotenv.Load(".env"); err != nil {
		log.Println("No .env file found")
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	logger, err := logging.New(os.Getenv("LOG_LEVEL"))
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	pg, err := postgres.Open(dbURL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pg.Close()

	applied, err := postgres.Migrate(context.Background(), pg, migrations.FS, logger)
	if err != nil {
		logger.Fatal("migration failed", zap.Error(err), zap.Strings("applied", applied))
	}
	logger.Info("migrations complete", zap.Int("applied", len(applied)))
}
