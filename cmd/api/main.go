package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/hibiken/asynq"
	_ "github.com/jackc/pgx/v5/stdlib"

	"eaas/internal/cache"
	"eaas/internal/config"
	"eaas/internal/db"
	httpSrv "eaas/internal/http"
	"eaas/internal/migrations"
	"eaas/internal/storage"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("component", "api")
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}

	migrations.Run(cfg.DatabaseURL)

	store := db.NewStore(db.MustOpen(cfg.DatabaseURL))
	s3c, err := storage.New(context.Background(), storage.Config{
		Endpoint:  cfg.MinioEndpoint,
		Bucket:    cfg.MinioBucket,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
	})
	if err != nil {
		logger.Error("init object storage", "error", err)
		os.Exit(1)
	}
	asq := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer asq.Close()

	srv := httpSrv.NewServer(cfg.Addr, cfg.APIToken, &httpSrv.Server{
		Store: store,
		S3:    s3c,
		Asynq: asq,
		Cache: cache.New(cfg.RedisAddr),
		Log:   logger,
	})
	logger.Info("api listening", "addr", cfg.Addr)
	if err := srv.ListenAndServe(); err != nil {
		logger.Error("serve", "error", err)
		os.Exit(1)
	}
}
