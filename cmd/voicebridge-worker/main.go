package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/talentwire/voicebridge/internal/dotenv"
	"github.com/talentwire/voicebridge/pkg/analysis"
	"github.com/talentwire/voicebridge/pkg/gateway/config"
	"github.com/talentwire/voicebridge/pkg/gateway/metrics"
	"github.com/talentwire/voicebridge/pkg/jobs"
	"github.com/talentwire/voicebridge/pkg/store"
	"github.com/talentwire/voicebridge/pkg/worker"
)

func runWorker(ctx context.Context, logger *slog.Logger) error {
	cfg, err := config.LoadWorkerFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	st, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer st.Close()

	queue, err := jobs.NewRedisQueue(ctx, jobs.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Key:      cfg.JobQueueKey,
	})
	if err != nil {
		return err
	}
	defer queue.Close()

	analyzer, err := analysis.New(ctx, cfg.GenAIAPIKey, cfg.AnalysisModel, logger)
	if err != nil {
		return fmt.Errorf("build analyzer: %w", err)
	}

	w := &worker.Worker{
		Queue:    queue,
		Store:    st,
		Analyzer: analyzer,
		Metrics:  metrics.NewDefault(),
		Logger:   logger,
		Config: worker.Config{
			Concurrency: cfg.Concurrency,
			MaxAttempts: cfg.MaxAttempts,
		},
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting worker",
		"concurrency", cfg.Concurrency, "model", cfg.AnalysisModel, "queue_key", cfg.JobQueueKey)

	if err := w.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("worker stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(stderr, "voicebridge-worker: %v\n", err)
		return 1
	}

	if err := runWorker(ctx, logger); err != nil {
		fmt.Fprintf(stderr, "voicebridge-worker: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr))
}
