package queue

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DueCaseFinder returns the IDs of cases whose follow-up is due now.
type DueCaseFinder func(ctx context.Context) ([]string, error)

// Scheduler polls for cases whose follow-up is due and enqueues a
// run_on_schedule job for each, mirroring the cron-like dispatcher
// called for in the concurrency model (§5).
type Scheduler struct {
	mu        sync.Mutex
	interval  time.Duration
	queue     Queue
	findDue   DueCaseFinder
	running   bool
	stop      chan struct{}
	done      chan struct{}
}

// NewScheduler constructs a Scheduler that polls every interval.
func NewScheduler(queue Queue, interval time.Duration, findDue DueCaseFinder) *Scheduler {
	return &Scheduler{
		interval: interval,
		queue:    queue,
		findDue:  findDue,
	}
}

// Start begins polling in a background goroutine. It is a no-op if
// already running.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.run(ctx)
}

// Stop halts polling and waits for the current tick to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	done := s.done
	s.mu.Unlock()

	<-done
}

// IsRunning reports whether the scheduler's poll loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	caseIDs, err := s.findDue(ctx)
	if err != nil {
		log.Error().Err(err).Msg("scheduler: failed to find due cases")
		return
	}
	for _, caseID := range caseIDs {
		if _, err := s.queue.Enqueue(ctx, Job{
			Type:   JobRunOnSchedule,
			CaseID: caseID,
		}); err != nil {
			log.Error().Err(err).Str("case_id", caseID).Msg("scheduler: failed to enqueue run_on_schedule job")
		}
	}
}
