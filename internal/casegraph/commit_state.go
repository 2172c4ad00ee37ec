package casegraph

import (
	"context"
	"fmt"
	"time"

	"github.com/smilemakc/caseorch/internal/domain"
)

// commitState recomputes next_due_at, writes the run's DecisionTrace
// audit row, and ends the run. AgentRun status itself is finalized by
// the Run Supervisor (§4.5), which observes this node's Outcome rather
// than writing its own terminal status here — keeping run-lifecycle
// ownership in one place.
func (g *Graph) commitState(ctx context.Context, state *CaseState) (Patch, Outcome, error) {
	nextDue, err := g.computeNextDueAt(ctx, state)
	if err != nil {
		return Patch{}, Outcome{}, err
	}

	c := *state.Case
	c.NextDueAt = nextDue
	if state.CloseRecommended {
		c.Status = domain.CaseCompleted
		if c.Substatus == "" {
			c.Substatus = "closed_by_agent"
		}
	}
	if err := g.store.SaveCase(ctx, &c); err != nil {
		return Patch{}, Outcome{}, fmt.Errorf("save case with next_due_at: %w", err)
	}

	now := domain.Now()
	trace := &domain.DecisionTrace{
		RunID:      state.RunID,
		CaseID:     state.CaseID,
		NodeTrace:  append(append([]string{}, state.NodeTrace...), NodeCommitState),
		StartedAt:  now,
		FinishedAt: &now,
	}
	if state.Analysis != nil {
		trace.Classification = state.Analysis.Classification
	}
	if state.Proposal != nil {
		trace.RouterOutput = map[string]interface{}{
			"action_type":      state.ProposedAction,
			"can_auto_execute": state.CanAutoExecute,
			"reasoning":        state.Reasoning,
		}
		trace.GateDecision = string(state.ProposedAction)
	}
	if err := g.store.SaveDecisionTrace(ctx, trace); err != nil {
		return Patch{}, Outcome{}, fmt.Errorf("save decision trace: %w", err)
	}

	patch := Patch{Case: &c, NextDueAt: nextDue, NodeTrace: []string{NodeCommitState}}
	return patch, Done(), nil
}

func (g *Graph) computeNextDueAt(ctx context.Context, state *CaseState) (*time.Time, error) {
	if state.ProposedAction == domain.ActionSendFollowup {
		followUp, err := g.store.GetFollowUpSchedule(ctx, state.CaseID)
		if err != nil {
			return nil, fmt.Errorf("reload follow-up schedule: %w", err)
		}
		if followUp != nil && followUp.NextFollowupDate != nil {
			return followUp.NextFollowupDate, nil
		}
		due := domain.Now().AddDate(0, 0, g.cfg.FollowupDelayDays)
		return &due, nil
	}

	days := g.cfg.DefaultDeadlineDays
	if days <= 0 {
		days = 10
	}
	due := domain.Now().AddDate(0, 0, days)
	return &due, nil
}
