// Package worker consumes analysis jobs: one provider call per job, result
// persisted, session moved analyzing -> completed. Delivery is at least
// once; the conditional status transition absorbs duplicates.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/talentwire/voicebridge/pkg/core/interview"
	"github.com/talentwire/voicebridge/pkg/gateway/metrics"
	"github.com/talentwire/voicebridge/pkg/jobs"
	"github.com/talentwire/voicebridge/pkg/store"
)

const defaultMaxAttempts = 3

// Analyzer is the provider call the worker makes per job.
type Analyzer interface {
	Analyze(ctx context.Context, job jobs.AnalysisJob) (json.RawMessage, error)
}

type Config struct {
	Concurrency int

	// MaxAttempts caps deliveries per job. A job that fails its final
	// attempt completes the session with a null analysis rather than
	// leaving it stuck in analyzing.
	MaxAttempts int
}

type Worker struct {
	Queue    jobs.Queue
	Store    store.SessionStore
	Analyzer Analyzer
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	Config   Config
}

// Run blocks until the context is cancelled or the queue closes.
func (w *Worker) Run(ctx context.Context) error {
	concurrency := w.Config.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < concurrency; i++ {
		g.Go(func() error {
			return w.consume(ctx)
		})
	}
	return g.Wait()
}

func (w *Worker) consume(ctx context.Context) error {
	for {
		job, err := w.Queue.Dequeue(ctx)
		if errors.Is(err, jobs.ErrClosed) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.log().Warn("dequeue failed", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}
		if w.Metrics != nil {
			w.Metrics.JobsConsumed.Inc()
		}
		w.handle(ctx, job)
	}
}

func (w *Worker) handle(ctx context.Context, job jobs.AnalysisJob) {
	result, err := w.Analyzer.Analyze(ctx, job)
	if err != nil {
		w.handleFailure(ctx, job, err)
		return
	}

	if err := w.Store.SaveAnalysis(ctx, job.SessionID, result); err != nil {
		w.log().Error("saving analysis failed", "session_id", job.SessionID, "error", err)
		w.handleFailure(ctx, job, err)
		return
	}
	w.complete(ctx, job.SessionID)
	w.log().Info("job done", "session_id", job.SessionID, "kind", job.Kind, "attempt", job.Attempt)
}

func (w *Worker) handleFailure(ctx context.Context, job jobs.AnalysisJob, cause error) {
	if w.Metrics != nil {
		w.Metrics.JobsFailed.Inc()
	}

	maxAttempts := w.Config.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	if job.Attempt+1 < maxAttempts {
		job.Attempt++
		if err := w.Queue.Enqueue(ctx, job); err != nil {
			w.log().Error("re-enqueue failed, job dropped",
				"session_id", job.SessionID, "attempt", job.Attempt, "error", err)
			return
		}
		w.log().Warn("job failed, retrying",
			"session_id", job.SessionID, "attempt", job.Attempt, "error", cause)
		return
	}

	// Final attempt gone: complete with a null analysis so the session
	// doesn't sit in analyzing forever.
	if w.Metrics != nil {
		w.Metrics.JobsExhausted.Inc()
	}
	w.log().Error("job exhausted retries, completing without analysis",
		"session_id", job.SessionID, "error", cause)
	if err := w.Store.SaveAnalysis(ctx, job.SessionID, nil); err != nil {
		w.log().Error("saving null analysis failed", "session_id", job.SessionID, "error", err)
	}
	w.complete(ctx, job.SessionID)
}

func (w *Worker) complete(ctx context.Context, sessionID string) {
	err := w.Store.TransitionStatus(ctx, sessionID, interview.StatusAnalyzing, interview.StatusCompleted)
	if err != nil && !errors.Is(err, store.ErrConflict) {
		w.log().Error("completing session failed", "session_id", sessionID, "error", err)
	}
}

func (w *Worker) log() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return slog.Default()
}
