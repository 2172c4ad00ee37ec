package casegraph

import (
	"context"
	"fmt"
)

// executeAction hands off to the Executor collaborator (§4.6). The
// Executor itself is responsible for every idempotency guarantee
// described there (pre-check, claim, portal guard, send, escalate,
// none) — this node just records what came back.
func (g *Graph) executeAction(ctx context.Context, state *CaseState) (Patch, Outcome, error) {
	result, err := g.executor.Execute(ctx, state)
	if err != nil {
		return Patch{}, Outcome{}, fmt.Errorf("execute action: %w", err)
	}

	patch := Patch{
		ExecutionOutcome: strPtr(result.Outcome),
		EmailJobID:       strPtr(result.EmailJobID),
		NodeTrace:        []string{NodeExecuteAction},
	}
	if result.CloseRecommended {
		patch.CloseRecommended = boolPtr(true)
	}
	return patch, Continue(NodeCommitState), nil
}
