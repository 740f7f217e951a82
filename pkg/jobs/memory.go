package jobs

import (
	"context"
	"sync"
)

// MemoryQueue is a channel-backed Queue for tests and single-process runs.
type MemoryQueue struct {
	ch        chan AnalysisJob
	closeOnce sync.Once
	closed    chan struct{}
}

func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = 64
	}
	return &MemoryQueue{
		ch:     make(chan AnalysisJob, capacity),
		closed: make(chan struct{}),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, job AnalysisJob) error {
	select {
	case <-q.closed:
		return ErrClosed
	default:
	}
	select {
	case q.ch <- job:
		return nil
	case <-q.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (AnalysisJob, error) {
	select {
	case job := <-q.ch:
		return job, nil
	case <-q.closed:
		// Drain anything already buffered before reporting closed.
		select {
		case job := <-q.ch:
			return job, nil
		default:
		}
		return AnalysisJob{}, ErrClosed
	case <-ctx.Done():
		return AnalysisJob{}, ctx.Err()
	}
}

// Len reports the buffered job count, for test assertions.
func (q *MemoryQueue) Len() int {
	return len(q.ch)
}

func (q *MemoryQueue) Close() {
	q.closeOnce.Do(func() { close(q.closed) })
}
