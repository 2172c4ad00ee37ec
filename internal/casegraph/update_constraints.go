package casegraph

import (
	"context"
	"fmt"
)

// updateConstraints merges the latest analysis's constraints_to_add
// and scope_updates into the Case, writing back only if the merged
// set actually differs. A missing analysis (scheduled triggers with no
// LLM call, or triggers with no message) is a no-op.
func (g *Graph) updateConstraints(ctx context.Context, state *CaseState) (Patch, Outcome, error) {
	if state.Analysis == nil {
		return Patch{NodeTrace: []string{NodeUpdateConstraints}}, Continue(NodeDecideNextAction), nil
	}

	c := *state.Case
	changed := false
	for _, code := range state.Analysis.ConstraintsToAdd {
		if c.AddConstraint(code) {
			changed = true
		}
	}
	for _, update := range state.Analysis.ScopeUpdates {
		if c.MergeScopeUpdate(update) {
			changed = true
		}
	}

	if !changed {
		return Patch{NodeTrace: []string{NodeUpdateConstraints}}, Continue(NodeDecideNextAction), nil
	}

	if err := g.store.SaveCase(ctx, &c); err != nil {
		return Patch{}, Outcome{}, fmt.Errorf("save case after constraint merge: %w", err)
	}

	return Patch{Case: &c, NodeTrace: []string{NodeUpdateConstraints}}, Continue(NodeDecideNextAction), nil
}
