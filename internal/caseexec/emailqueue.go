package caseexec

import (
	"context"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"
)

// EmailQueue dispatches a drafted send after a human-like delay,
// deduplicated by job ID — the Executor always calls EnqueueWithID
// with the proposal's execution_key, mirroring queue.Queue's
// dedup-by-job-ID contract for the supervisor's own job classes.
type EmailQueue interface {
	EnqueueWithID(ctx context.Context, id string, delay time.Duration, send func(ctx context.Context)) (string, error)
}

// InMemoryEmailQueue is a process-local EmailQueue, grounded on
// queue.InMemoryQueue's xsync-backed dedup set. Unlike InMemoryQueue it
// does not carry retry/backoff itself: a failed send is recorded as a
// FAILED ExecutionRecord by the caller and surfaced through normal run
// failure handling rather than requeued here.
type InMemoryEmailQueue struct {
	seen *xsync.MapOf[string, struct{}]
}

// NewInMemoryEmailQueue constructs an InMemoryEmailQueue.
func NewInMemoryEmailQueue() *InMemoryEmailQueue {
	return &InMemoryEmailQueue{seen: xsync.NewMapOf[string, struct{}]()}
}

func (q *InMemoryEmailQueue) EnqueueWithID(ctx context.Context, id string, delay time.Duration, send func(ctx context.Context)) (string, error) {
	if _, alreadySeen := q.seen.LoadOrStore(id, struct{}{}); alreadySeen {
		log.Debug().Str("job_id", id).Msg("caseexec: duplicate email job id, skipping enqueue")
		return id, nil
	}
	if delay <= 0 {
		send(context.Background())
		return id, nil
	}
	time.AfterFunc(delay, func() {
		send(context.Background())
	})
	return id, nil
}
