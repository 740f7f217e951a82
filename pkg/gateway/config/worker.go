package config

import (
	"fmt"
	"os"
	"strings"
)

// WorkerConfig is the analysis worker's environment. It shares the
// database and queue settings with the gateway but talks to the
// provider's content API rather than the live audio endpoint.
type WorkerConfig struct {
	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	JobQueueKey   string

	GenAIAPIKey   string
	AnalysisModel string

	Concurrency int
	MaxAttempts int
}

func LoadWorkerFromEnv() (WorkerConfig, error) {
	cfg := WorkerConfig{
		DatabaseURL:   strings.TrimSpace(os.Getenv("DATABASE_URL")),
		RedisAddr:     envOr("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       envIntOr("REDIS_DB", 0),
		JobQueueKey:   envOr("JOB_QUEUE_KEY", "voicebridge:jobs"),
		GenAIAPIKey:   strings.TrimSpace(os.Getenv("GENAI_API_KEY")),
		AnalysisModel: envOr("ANALYSIS_MODEL", "gemini-2.0-flash"),
		Concurrency:   envIntOr("WORKER_CONCURRENCY", 2),
		MaxAttempts:   envIntOr("WORKER_MAX_ATTEMPTS", 3),
	}

	if cfg.DatabaseURL == "" {
		return WorkerConfig{}, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.GenAIAPIKey == "" {
		return WorkerConfig{}, fmt.Errorf("GENAI_API_KEY is required")
	}
	if cfg.Concurrency <= 0 {
		return WorkerConfig{}, fmt.Errorf("WORKER_CONCURRENCY must be > 0")
	}
	if cfg.MaxAttempts <= 0 {
		return WorkerConfig{}, fmt.Errorf("WORKER_MAX_ATTEMPTS must be > 0")
	}

	return cfg, nil
}
