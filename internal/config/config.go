// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env"
	"github.com/joho/godotenv"
)

type Config struct {
	Addr        string `env:"ADDRESS" envDefault:":8000"`
	DatabaseURL string `env:"DATABASE_URL,required"`
	RedisAddr   string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	APIToken    string `env:"API_TOKEN,required"`

	// Judge settings for llm rubrics.
	AnthropicAPIKey string `env:"ANTHROPIC_API_KEY"`
	JudgeModel      string `env:"JUDGE_MODEL" envDefault:"claude-3-5-haiku-latest"`

	// Scoring driver knobs.
	ScoreConcurrency int           `env:"SCORE_CONCURRENCY" envDefault:"4"`
	ScoreTimeout     time.Duration `env:"SCORE_TIMEOUT" envDefault:"60s"`
	ScoreMaxRetries  int           `env:"SCORE_MAX_RETRIES" envDefault:"3"`

	// Object storage for uploaded dataset files (MinIO or S3).
	MinioEndpoint  string `env:"MINIO_ENDPOINT" envDefault:"localhost:9000"`
	MinioBucket    string `env:"MINIO_BUCKET" envDefault:"eaas-datasets"`
	MinioAccessKey string `env:"MINIO_ACCESS_KEY"`
	MinioSecretKey string `env:"MINIO_SECRET_KEY"`
}

// Load reads .env if present, then parses the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
