package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/talentwire/voicebridge/pkg/core/interview"
	"github.com/talentwire/voicebridge/pkg/jobs"
	"github.com/talentwire/voicebridge/pkg/store"
)

type analyzerFunc func(ctx context.Context, job jobs.AnalysisJob) (json.RawMessage, error)

func (f analyzerFunc) Analyze(ctx context.Context, job jobs.AnalysisJob) (json.RawMessage, error) {
	return f(ctx, job)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seedSession(t *testing.T, mem *store.Memory, id string) {
	t.Helper()
	err := mem.CreateSession(context.Background(), &interview.Session{
		ID:              id,
		InterviewerName: "Dana Okafor",
		Kind:            interview.KindScreening,
		Status:          interview.StatusAnalyzing,
		CreatedAt:       time.Now(),
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
}

func waitForStatus(t *testing.T, mem *store.Memory, id string, want interview.Status) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		s, err := mem.GetSession(context.Background(), id)
		if err != nil {
			t.Fatalf("GetSession: %v", err)
		}
		if s.Status == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	s, _ := mem.GetSession(context.Background(), id)
	t.Fatalf("session %s status = %q, want %q", id, s.Status, want)
}

func runWorker(t *testing.T, w *Worker) (stop func()) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()
	return func() {
		w.Queue.(*jobs.MemoryQueue).Close()
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("Run returned error: %v", err)
			}
		case <-time.After(3 * time.Second):
			t.Fatal("worker did not stop after queue close")
		}
	}
}

func TestWorkerStoresAnalysisAndCompletes(t *testing.T) {
	mem := store.NewMemory()
	queue := jobs.NewMemoryQueue(4)
	seedSession(t, mem, "s1")

	result := json.RawMessage(`{"summary":"solid","score":4}`)
	w := &Worker{
		Queue: queue,
		Store: mem,
		Analyzer: analyzerFunc(func(ctx context.Context, job jobs.AnalysisJob) (json.RawMessage, error) {
			return result, nil
		}),
		Logger: discardLogger(),
		Config: Config{Concurrency: 2, MaxAttempts: 3},
	}
	stop := runWorker(t, w)
	defer stop()

	err := queue.Enqueue(context.Background(), jobs.AnalysisJob{
		ID:        "j1",
		SessionID: "s1",
		Kind:      interview.KindScreening,
		Transcript: []interview.Turn{
			{Role: interview.RoleUser, Text: "Tell me about yourself."},
		},
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	waitForStatus(t, mem, "s1", interview.StatusCompleted)
	got, ok := mem.Analysis("s1")
	if !ok {
		t.Fatal("no analysis stored")
	}
	if string(got) != string(result) {
		t.Fatalf("analysis = %s, want %s", got, result)
	}
}

func TestWorkerRetriesThenSucceeds(t *testing.T) {
	mem := store.NewMemory()
	queue := jobs.NewMemoryQueue(4)
	seedSession(t, mem, "s1")

	var calls atomic.Int32
	w := &Worker{
		Queue: queue,
		Store: mem,
		Analyzer: analyzerFunc(func(ctx context.Context, job jobs.AnalysisJob) (json.RawMessage, error) {
			if calls.Add(1) < 3 {
				return nil, errors.New("provider hiccup")
			}
			if job.Attempt != 2 {
				t.Errorf("final attempt = %d, want 2", job.Attempt)
			}
			return json.RawMessage(`{"summary":"ok"}`), nil
		}),
		Logger: discardLogger(),
		Config: Config{Concurrency: 1, MaxAttempts: 3},
	}
	stop := runWorker(t, w)
	defer stop()

	if err := queue.Enqueue(context.Background(), jobs.AnalysisJob{ID: "j1", SessionID: "s1", Kind: interview.KindScreening}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	waitForStatus(t, mem, "s1", interview.StatusCompleted)
	if got := calls.Load(); got != 3 {
		t.Fatalf("analyzer called %d times, want 3", got)
	}
	if got, ok := mem.Analysis("s1"); !ok || string(got) != `{"summary":"ok"}` {
		t.Fatalf("analysis = %s (ok=%v)", got, ok)
	}
}

func TestWorkerExhaustsRetriesAndCompletesWithNullAnalysis(t *testing.T) {
	mem := store.NewMemory()
	queue := jobs.NewMemoryQueue(4)
	seedSession(t, mem, "s1")

	var calls atomic.Int32
	w := &Worker{
		Queue: queue,
		Store: mem,
		Analyzer: analyzerFunc(func(ctx context.Context, job jobs.AnalysisJob) (json.RawMessage, error) {
			calls.Add(1)
			return nil, errors.New("provider down")
		}),
		Logger: discardLogger(),
		Config: Config{Concurrency: 1, MaxAttempts: 3},
	}
	stop := runWorker(t, w)
	defer stop()

	if err := queue.Enqueue(context.Background(), jobs.AnalysisJob{ID: "j1", SessionID: "s1", Kind: interview.KindScreening}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	waitForStatus(t, mem, "s1", interview.StatusCompleted)
	if got := calls.Load(); got != 3 {
		t.Fatalf("analyzer called %d times, want 3", got)
	}
	got, ok := mem.Analysis("s1")
	if !ok {
		t.Fatal("expected a stored (null) analysis record")
	}
	if len(got) != 0 {
		t.Fatalf("analysis = %s, want empty", got)
	}
	if queue.Len() != 0 {
		t.Fatalf("queue still holds %d jobs", queue.Len())
	}
}

func TestWorkerStopsWhenQueueCloses(t *testing.T) {
	mem := store.NewMemory()
	queue := jobs.NewMemoryQueue(1)

	w := &Worker{
		Queue: queue,
		Store: mem,
		Analyzer: analyzerFunc(func(ctx context.Context, job jobs.AnalysisJob) (json.RawMessage, error) {
			return nil, nil
		}),
		Logger: discardLogger(),
		Config: Config{Concurrency: 2},
	}

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()

	queue.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after queue close")
	}
}
