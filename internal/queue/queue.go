// Package queue admits pending jobs to a bounded worker pool. Workers claim
// the oldest pending job straight from the store, so admission is FIFO, at
// most N invocations run system-wide, and a restart picks the backlog back
// up without extra bookkeeping.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"mediaforge/internal/domain"
)

const pollInterval = 2 * time.Second

// Executor runs one claimed job to completion and reports its outcome.
type Executor interface {
	Execute(ctx context.Context, job *domain.Job) (outputRef string, artifacts []domain.Artifact, err error)
}

// Queue coordinates submission, admission and cancellation of jobs.
type Queue struct {
	store    domain.JobStore
	exec     Executor
	logger   zerolog.Logger
	workers  int
	capacity int

	wake chan struct{}
	wg   sync.WaitGroup

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// New constructs a queue with the given concurrency limit and pending-job
// capacity.
func New(store domain.JobStore, exec Executor, workers, capacity int, logger zerolog.Logger) *Queue {
	return &Queue{
		store:    store,
		exec:     exec,
		logger:   logger.With().Str("component", "queue").Logger(),
		workers:  workers,
		capacity: capacity,
		wake:     make(chan struct{}, 1),
		running:  make(map[string]context.CancelFunc),
	}
}

// Start launches the worker pool. Workers stop when ctx is cancelled; Wait
// blocks until in-flight executions have been recorded.
func (q *Queue) Start(ctx context.Context) {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.workerLoop(ctx, i)
	}
	q.logger.Info().Int("workers", q.workers).Int("capacity", q.capacity).Msg("queue started")
}

// Wait blocks until every worker has exited.
func (q *Queue) Wait() {
	q.wg.Wait()
}

// Submit validates capacity and persists a new pending job. The job never
// blocks the caller; a worker picks it up in arrival order.
func (q *Queue) Submit(ctx context.Context, job *domain.Job) error {
	pending, err := q.store.CountPending(ctx)
	if err != nil {
		return fmt.Errorf("count pending: %w", err)
	}
	if pending >= q.capacity {
		return fmt.Errorf("%w: queue is at capacity (%d pending)", domain.ErrResourceExhausted, pending)
	}
	if err := q.store.Create(ctx, job); err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	q.poke()
	return nil
}

// Cancel stops a job. A still-pending job is finalized without ever running;
// a running job has its invocation terminated. Terminal jobs return
// ErrConflict.
func (q *Queue) Cancel(ctx context.Context, id string) error {
	cancelled, err := q.store.CancelPending(ctx, id)
	if err != nil {
		return err
	}
	if cancelled {
		q.logger.Info().Str("job_id", id).Msg("pending job cancelled")
		return nil
	}

	q.mu.Lock()
	cancel, ok := q.running[id]
	q.mu.Unlock()
	if ok {
		cancel()
		q.logger.Info().Str("job_id", id).Msg("running job cancellation requested")
		return nil
	}

	job, err := q.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: job is already %s", domain.ErrConflict, job.Status)
}

func (q *Queue) poke() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) workerLoop(ctx context.Context, id int) {
	defer q.wg.Done()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		job, err := q.store.ClaimNextPending(ctx)
		switch {
		case err == nil:
			q.runJob(ctx, job)
			// another job may already be waiting
			q.poke()
			continue
		case errors.Is(err, domain.ErrNotFound):
			// backlog empty, wait for work
		case ctx.Err() != nil:
			return
		default:
			q.logger.Error().Err(err).Int("worker", id).Msg("claim failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		case <-ticker.C:
		}
	}
}

func (q *Queue) runJob(ctx context.Context, job *domain.Job) {
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	q.mu.Lock()
	q.running[job.ID] = cancel
	q.mu.Unlock()
	defer func() {
		q.mu.Lock()
		delete(q.running, job.ID)
		q.mu.Unlock()
	}()

	q.logger.Info().Str("job_id", job.ID).Str("operation", job.Operation).Msg("job started")
	start := time.Now()

	outputRef, artifacts, err := q.exec.Execute(jobCtx, job)

	// status writes must survive shutdown cancellation
	recordCtx, recordCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer recordCancel()

	if err != nil {
		code := domain.CodeForError(err)
		if markErr := q.store.MarkFailed(recordCtx, job.ID, code, err.Error()); markErr != nil {
			q.logger.Error().Err(markErr).Str("job_id", job.ID).Msg("record failure failed")
		}
		q.logger.Warn().Str("job_id", job.ID).Str("code", string(code)).Dur("elapsed", time.Since(start)).Err(err).Msg("job failed")
		return
	}

	if markErr := q.store.MarkSucceeded(recordCtx, job.ID, outputRef, artifacts); markErr != nil {
		q.logger.Error().Err(markErr).Str("job_id", job.ID).Msg("record success failed")
		return
	}
	q.logger.Info().Str("job_id", job.ID).Str("output", outputRef).Dur("elapsed", time.Since(start)).Msg("job succeeded")
}
