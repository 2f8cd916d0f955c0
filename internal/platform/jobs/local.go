package jobs

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// LocalQueue is a channel-fed worker pool used when Pub/Sub is not configured.
type LocalQueue struct {
	jobs    chan Job
	workers int
	logger  *zap.Logger

	mu     sync.RWMutex
	closed bool
}

// NewLocalQueue sizes the pool. Non-positive values fall back to 4 workers and 256 slots.
func NewLocalQueue(workers, size int, logger *zap.Logger) *LocalQueue {
	if workers <= 0 {
		workers = 4
	}
	if size <= 0 {
		size = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalQueue{
		jobs:    make(chan Job, size),
		workers: workers,
		logger:  logger,
	}
}

// Enqueue blocks while the buffer is full, until ctx is done.
func (q *LocalQueue) Enqueue(ctx context.Context, job Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run starts the workers and blocks until ctx is cancelled. Jobs already
// buffered when ctx ends are still executed, with a detached context.
func (q *LocalQueue) Run(ctx context.Context, mux *Mux) error {
	var wg sync.WaitGroup
	for i := 0; i < q.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range q.jobs {
				_ = mux.Dispatch(context.WithoutCancel(ctx), job)
			}
		}()
	}

	<-ctx.Done()
	q.mu.Lock()
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()

	wg.Wait()
	q.logger.Info("jobs: local queue drained")
	return nil
}
