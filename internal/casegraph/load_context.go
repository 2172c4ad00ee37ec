package casegraph

import (
	"context"
	"fmt"
)

// loadContext fetches everything downstream nodes need: the case,
// its correspondence, the latest analysis and follow-up bookkeeping,
// and any proposal still awaiting a decision. A missing case is Fatal
// (§7) — the run cannot proceed without one.
func (g *Graph) loadContext(ctx context.Context, state *CaseState) (Patch, Outcome, error) {
	c, err := g.store.GetCase(ctx, state.CaseID)
	if err != nil {
		return Patch{}, Outcome{}, fmt.Errorf("load case: %w", err)
	}
	if c == nil {
		return Patch{}, Outcome{}, fmt.Errorf("case %s not found", state.CaseID)
	}

	messages, err := g.store.ListMessagesByCase(ctx, state.CaseID)
	if err != nil {
		return Patch{}, Outcome{}, fmt.Errorf("list messages: %w", err)
	}

	analysis, err := g.store.GetLatestAnalysisForCase(ctx, state.CaseID)
	if err != nil {
		return Patch{}, Outcome{}, fmt.Errorf("load latest analysis: %w", err)
	}

	followUp, err := g.store.GetFollowUpSchedule(ctx, state.CaseID)
	if err != nil {
		return Patch{}, Outcome{}, fmt.Errorf("load follow-up schedule: %w", err)
	}

	pending, err := g.store.GetLatestPendingProposal(ctx, state.CaseID)
	if err != nil {
		return Patch{}, Outcome{}, fmt.Errorf("load pending proposal: %w", err)
	}

	patch := Patch{
		Case:            c,
		Messages:        messages,
		FollowUp:        followUp,
		PendingProposal: pending,
		NodeTrace:       []string{NodeLoadContext},
	}
	if analysis != nil {
		patch.Analysis = analysis
	}
	return patch, Continue(NodeClassifyInbound), nil
}
