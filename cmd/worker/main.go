package main

import (
	"log/slog"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"

	"eaas/internal/config"
	"eaas/internal/db"
	"eaas/internal/worker"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("component", "worker")
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}

	store := db.NewStore(db.MustOpen(cfg.DatabaseURL))
	logger.Info("worker starting", "concurrency", cfg.ScoreConcurrency)
	if err := worker.Run(cfg, store, logger); err != nil {
		logger.Error("worker stopped", "error", err)
		os.Exit(1)
	}
}
