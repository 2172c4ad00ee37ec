package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"
)

// Handler processes one Job. A non-nil error is evaluated against the
// queue's retry policy; once retries are exhausted Drain logs the
// error and moves on — it is not returned to Drain's caller.
type Handler func(ctx context.Context, job Job) error

// Queue is the dispatcher interface the API/webhook layer enqueues
// against and a worker process drains. It is deliberately small so a
// Redis/BullMQ-backed implementation can satisfy it without touching
// callers.
type Queue interface {
	// Enqueue adds a job under a freshly generated ID and returns it.
	Enqueue(ctx context.Context, job Job) (string, error)
	// EnqueueWithID is like Enqueue but lets the caller pick the job
	// ID explicitly (e.g. a deterministic ID such as an
	// execution_key). Enqueuing an ID that is already known is a no-op
	// that returns the existing ID — the dedup-by-job-ID guarantee.
	EnqueueWithID(ctx context.Context, id string, job Job) (string, error)
}

// InMemoryQueue is a process-local Queue backed by a buffered channel,
// grounded on the teacher's ticker/channel-driven trigger components.
// It is the default wiring for cmd/caseworker; a durable deployment
// swaps in a Redis-backed Queue behind the same interface.
type InMemoryQueue struct {
	jobs    chan Job
	seen    *xsync.MapOf[string, struct{}]
	retry   RetryPolicy
	breaker *CircuitBreakerRegistry
}

// NewInMemoryQueue constructs a queue with the given buffer size.
func NewInMemoryQueue(bufferSize int) *InMemoryQueue {
	return &InMemoryQueue{
		jobs:    make(chan Job, bufferSize),
		seen:    xsync.NewMapOf[string, struct{}](),
		retry:   DefaultRetryPolicy(),
		breaker: NewCircuitBreakerRegistry(DefaultCircuitBreakerConfig()),
	}
}

func (q *InMemoryQueue) Enqueue(ctx context.Context, job Job) (string, error) {
	return q.EnqueueWithID(ctx, uuid.NewString(), job)
}

func (q *InMemoryQueue) EnqueueWithID(ctx context.Context, id string, job Job) (string, error) {
	if _, alreadySeen := q.seen.LoadOrStore(id, struct{}{}); alreadySeen {
		log.Debug().Str("job_id", id).Str("type", string(job.Type)).Msg("queue: duplicate job id, skipping enqueue")
		return id, nil
	}
	job.ID = id
	select {
	case q.jobs <- job:
		log.Info().Str("job_id", id).Str("type", string(job.Type)).Str("case_id", job.CaseID).Msg("queue: job enqueued")
		return id, nil
	case <-ctx.Done():
		q.seen.Delete(id)
		return "", ctx.Err()
	default:
		return "", fmt.Errorf("queue: buffer full, dropping job %s", id)
	}
}

// Drain runs handler over every job the queue receives until ctx is
// cancelled, applying the queue's retry policy per job and isolating
// one job's failure from the rest. concurrency bounds how many jobs
// run at once — per-case serialization is the supervisor's job, not
// the queue's, since a single case's jobs are expected to arrive
// serialized by the advisory lock anyway.
func (q *InMemoryQueue) Drain(ctx context.Context, concurrency int, handler Handler) {
	var wg sync.WaitGroup
	sem := make(chan struct{}, concurrency)

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case job := <-q.jobs:
			sem <- struct{}{}
			wg.Add(1)
			go func(j Job) {
				defer wg.Done()
				defer func() { <-sem }()
				err := q.retry.RunWithRetry(ctx, isRetryable, func(attempt int) error {
					if attempt > 1 {
						log.Warn().Str("job_id", j.ID).Int("attempt", attempt).Msg("queue: retrying job")
					}
					return handler(ctx, j)
				})
				if err != nil {
					log.Error().Err(err).Str("job_id", j.ID).Str("type", string(j.Type)).Msg("queue: job failed after retries")
				}
			}(job)
		}
	}
}

func isRetryable(err error) bool {
	type retryable interface{ Retryable() bool }
	if r, ok := err.(retryable); ok {
		return r.Retryable()
	}
	// Default to retryable: most queue failures (enqueue, provider
	// timeouts) are transient; non-retryable errors are expected to
	// say so explicitly via the Retryable() interface.
	return true
}
