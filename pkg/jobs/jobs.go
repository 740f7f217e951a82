// Package jobs carries post-processing work from the gateway to the analysis
// worker. The queue is at-least-once; the lifecycle controller enqueues at
// most once per session.
package jobs

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/talentwire/voicebridge/pkg/core/interview"
)

// ErrClosed is returned by a queue whose Close has run.
var ErrClosed = errors.New("jobs: queue closed")

// AnalysisJob is the payload dispatched when a session ends normally with a
// non-empty transcript.
type AnalysisJob struct {
	ID          string           `json:"id"`
	SessionID   string           `json:"session_id"`
	Kind        interview.Kind   `json:"kind"`
	Transcript  []interview.Turn `json:"transcript"`
	SeedContext json.RawMessage  `json:"seed_context,omitempty"`

	// Attempt counts deliveries; the worker re-enqueues failures until the
	// retry cap and then completes the session without an analysis.
	Attempt int `json:"attempt"`
}

// Sink is the gateway's side of the queue.
type Sink interface {
	Enqueue(ctx context.Context, job AnalysisJob) error
}

// Source is the worker's side. Dequeue blocks until a job arrives, the
// context is done, or the queue closes.
type Source interface {
	Dequeue(ctx context.Context) (AnalysisJob, error)
}

// Queue is a full in-process or brokered job pipe.
type Queue interface {
	Sink
	Source
}
