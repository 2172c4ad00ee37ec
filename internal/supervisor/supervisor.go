// Package supervisor implements the Run Supervisor (§4.5): it
// acquires the per-case advisory lock, owns AgentRun lifecycle, and
// drives the compiled case graph through invoke/resume, detecting
// interrupt vs. completion from the returned Outcome rather than a
// separate state query.
package supervisor

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"

	"github.com/smilemakc/caseorch/internal/casegraph"
	"github.com/smilemakc/caseorch/internal/checkpoint"
	"github.com/smilemakc/caseorch/internal/domain"
)

// InvokeOptions carries invoke-specific extras (the triggering
// message, for INBOUND_MESSAGE runs).
type InvokeOptions struct {
	TriggerMessageID string
}

// Result is what Invoke/Resume report back to a queue worker.
type Result struct {
	RunID      string
	Status     domain.RunStatus
	ProposalID string
	Interrupt  *domain.InterruptPayload
}

// Supervisor binds one compiled *casegraph.Graph and *checkpoint.Checkpointer
// for the process's lifetime, per step 2 of §4.5's protocol.
type Supervisor struct {
	store        domain.Storage
	checkpointer *checkpoint.Checkpointer
	graph        *casegraph.Graph

	// localLocks fronts the DB-level advisory lock with an in-process
	// fast fail: two jobs for the same case landing on the same worker
	// process never need a round trip to find out they collide.
	localLocks *xsync.MapOf[string, struct{}]
}

// New constructs a Supervisor.
func New(store domain.Storage, checkpointer *checkpoint.Checkpointer, graph *casegraph.Graph) *Supervisor {
	return &Supervisor{
		store:        store,
		checkpointer: checkpointer,
		graph:        graph,
		localLocks:   xsync.NewMapOf[string, struct{}](),
	}
}

// Invoke starts a fresh run for caseID from load_context.
func (s *Supervisor) Invoke(ctx context.Context, caseID string, triggerType domain.TriggerType, opts InvokeOptions) (Result, error) {
	return s.withCaseLock(ctx, caseID, func() (Result, error) {
		runID := uuid.NewString()
		run := &domain.AgentRun{
			ID:          runID,
			CaseID:      caseID,
			TriggerType: triggerType,
			Status:      domain.RunRunning,
			StartedAt:   domain.Now(),
			CurrentNode: casegraph.NodeLoadContext,
		}
		if err := s.store.CreateRun(ctx, run); err != nil {
			return Result{}, fmt.Errorf("supervisor: create run: %w", err)
		}

		state, outcome, err := s.runGraph(func() (*casegraph.CaseState, casegraph.Outcome, error) {
			return s.graph.Invoke(ctx, runID, caseID, triggerType, opts.TriggerMessageID)
		})
		return s.finish(ctx, run, state, outcome, err)
	})
}

// Resume continues a paused run for caseID, injecting the human
// decision and re-entering at decide_next_action.
func (s *Supervisor) Resume(ctx context.Context, caseID string, decision domain.HumanDecision) (Result, error) {
	return s.withCaseLock(ctx, caseID, func() (Result, error) {
		threadID := checkpoint.ThreadID(caseID)
		var saved casegraph.CaseState
		loaded, err := s.checkpointer.Load(ctx, threadID, &saved)
		if err != nil {
			return Result{}, fmt.Errorf("supervisor: load checkpoint: %w", err)
		}
		if !loaded.Found {
			return Result{}, fmt.Errorf("supervisor: resume requested for case %s with no checkpoint", caseID)
		}

		runID := uuid.NewString()
		run := &domain.AgentRun{
			ID:          runID,
			CaseID:      caseID,
			TriggerType: domain.TriggerHumanResume,
			Status:      domain.RunRunning,
			StartedAt:   domain.Now(),
			CurrentNode: loaded.NodeName,
		}
		if err := s.store.CreateRun(ctx, run); err != nil {
			return Result{}, fmt.Errorf("supervisor: create resume run: %w", err)
		}

		resumeState := saved
		resumeState.RunID = runID
		state, outcome, err := s.runGraph(func() (*casegraph.CaseState, casegraph.Outcome, error) {
			return s.graph.Resume(ctx, &resumeState, decision)
		})
		if err == nil {
			if clearErr := s.checkpointer.ClearInterrupt(ctx, threadID); clearErr != nil {
				log.Error().Err(clearErr).Str("case_id", caseID).Msg("supervisor: clear consumed interrupt")
			}
		}
		return s.finish(ctx, run, state, outcome, err)
	})
}

// withCaseLock acquires the local fast-fail lock, then the durable
// advisory lock, running fn only if both succeed; either miss produces
// a skipped_locked AgentRun per §4.5 step 1. Both locks are released on
// every path, including a panic unwinding through fn.
func (s *Supervisor) withCaseLock(ctx context.Context, caseID string, fn func() (Result, error)) (result Result, err error) {
	if _, alreadyHeld := s.localLocks.LoadOrStore(caseID, struct{}{}); alreadyHeld {
		return s.skippedLocked(ctx, caseID)
	}
	defer s.localLocks.Delete(caseID)

	acquired, err := s.store.AcquireCaseLock(ctx, caseID)
	if err != nil {
		return Result{}, fmt.Errorf("supervisor: acquire case lock: %w", err)
	}
	if !acquired {
		return s.skippedLocked(ctx, caseID)
	}
	defer func() {
		if relErr := s.store.ReleaseCaseLock(ctx, caseID); relErr != nil {
			log.Error().Err(relErr).Str("case_id", caseID).Msg("supervisor: release case lock")
		}
	}()

	return fn()
}

func (s *Supervisor) skippedLocked(ctx context.Context, caseID string) (Result, error) {
	run := &domain.AgentRun{
		ID:        uuid.NewString(),
		CaseID:    caseID,
		Status:    domain.RunSkippedLocked,
		StartedAt: domain.Now(),
	}
	now := domain.Now()
	run.EndedAt = &now
	if err := s.store.CreateRun(ctx, run); err != nil {
		return Result{}, fmt.Errorf("supervisor: create skipped_locked run: %w", err)
	}
	return Result{RunID: run.ID, Status: domain.RunSkippedLocked}, nil
}

// runGraph recovers a panicking graph call into an error so finish can
// mark the run failed and the lock is still released by withCaseLock's
// defer chain, per §4.5 step 6.
func (s *Supervisor) runGraph(call func() (*casegraph.CaseState, casegraph.Outcome, error)) (state *casegraph.CaseState, outcome casegraph.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("supervisor: graph invocation panicked: %v", r)
		}
	}()
	return call()
}

func (s *Supervisor) finish(ctx context.Context, run *domain.AgentRun, state *casegraph.CaseState, outcome casegraph.Outcome, runErr error) (Result, error) {
	now := domain.Now()
	run.EndedAt = &now
	if state != nil {
		run.IterationCount = state.IterationCount
		if len(state.NodeTrace) > 0 {
			run.CurrentNode = state.NodeTrace[len(state.NodeTrace)-1]
		}
	}

	if runErr != nil {
		run.Status = domain.RunFailed
		run.Error = runErr.Error()
		if saveErr := s.store.SaveRun(ctx, run); saveErr != nil {
			log.Error().Err(saveErr).Str("run_id", run.ID).Msg("supervisor: save failed run")
		}
		return Result{RunID: run.ID, Status: run.Status}, runErr
	}

	result := Result{RunID: run.ID}
	switch outcome.Kind {
	case casegraph.OutcomeSuspend:
		run.Status = domain.RunPausedAwaitingHuman
		threadID := checkpoint.ThreadID(run.CaseID)
		if err := s.checkpointer.Save(ctx, threadID, run.CurrentNode, uuid.NewString(), state); err != nil {
			return Result{}, fmt.Errorf("supervisor: save checkpoint on suspend: %w", err)
		}
		result.Interrupt = outcome.Payload
	case casegraph.OutcomeDone:
		run.Status = domain.RunCompleted
		if state != nil && state.Proposal != nil {
			result.ProposalID = state.Proposal.ID
		}
	default:
		run.Status = domain.RunFailed
		run.Error = "graph returned without suspending or completing"
	}

	result.Status = run.Status
	if err := s.store.SaveRun(ctx, run); err != nil {
		return Result{}, fmt.Errorf("supervisor: save run: %w", err)
	}
	return result, nil
}
