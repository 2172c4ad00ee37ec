package casegraph

import (
	"context"
	"fmt"

	"github.com/smilemakc/caseorch/internal/domain"
	"github.com/smilemakc/caseorch/internal/router"
)

// gateOrExecute upserts the Proposal at its deterministic key and
// either forwards to execute_action or suspends awaiting a human
// decision. Every side effect here (the upsert, the Case status
// update) is idempotent so a resumed run can safely re-execute this
// node body, per §4.4's requirement.
func (g *Graph) gateOrExecute(ctx context.Context, state *CaseState) (Patch, Outcome, error) {
	proposalKey := domain.ProposalKey(state.CaseID, state.TriggerMessageID, state.ProposedAction, state.AdjustmentCount)
	gateDecision := router.Gate(state.Case.AutopilotMode, state.ProposedAction, state.RiskFlags, state.PauseReason)

	status := domain.ProposalPendingApproval
	if gateDecision.CanAutoExecute {
		status = domain.ProposalApproved
	}

	fields := domain.ProposalFields{
		RunID:            state.RunID,
		TriggerMessageID: state.TriggerMessageID,
		ActionType:       state.ProposedAction,
		Draft:            state.Draft,
		Reasoning:        state.Reasoning,
		Confidence:       analysisConfidence(state.Analysis),
		RiskFlags:        state.RiskFlags,
		Warnings:         state.Warnings,
		CanAutoExecute:   gateDecision.CanAutoExecute,
		RequiresHuman:    gateDecision.RequiresHuman,
		Status:           status,
		AdjustmentCount:  state.AdjustmentCount,
	}

	proposal, err := g.store.UpsertProposal(ctx, proposalKey, fields)
	if err != nil {
		return Patch{}, Outcome{}, fmt.Errorf("upsert proposal: %w", err)
	}

	patch := Patch{
		Proposal:       proposal,
		CanAutoExecute: boolPtr(proposal.Status != domain.ProposalExecuted && gateDecision.CanAutoExecute),
		RequiresHuman:  boolPtr(gateDecision.RequiresHuman),
		PauseReason:    &gateDecision.PauseReason,
		NodeTrace:      []string{NodeGateOrExecute},
	}

	if proposal.Status == domain.ProposalExecuted {
		// upsertProposal's EXECUTED-preserving merge means this run
		// observed a race with a prior execution; nothing left to do.
		return patch, Continue(NodeCommitState), nil
	}

	if gateDecision.CanAutoExecute {
		return patch, Continue(NodeExecuteAction), nil
	}

	c := *state.Case
	c.Status = domain.CaseNeedsHumanReview
	c.PauseReason = gateDecision.PauseReason
	if err := g.store.SaveCase(ctx, &c); err != nil {
		return Patch{}, Outcome{}, fmt.Errorf("save case for human review: %w", err)
	}
	patch.Case = &c
	// PendingProposal must follow into the suspended snapshot: Resume
	// re-enters at decide_next_action, not load_context, so this is the
	// only way handleApprove/handleAdjust/handleDismiss/handleWithdraw
	// see the proposal awaiting a decision.
	patch.PendingProposal = proposal

	payload := &domain.InterruptPayload{
		Type:        "HUMAN_APPROVAL",
		ProposalID:  proposal.ID,
		ProposalKey: proposal.ProposalKey,
		PauseReason: gateDecision.PauseReason,
		Options:     []domain.HumanDecisionAction{domain.DecisionApprove, domain.DecisionAdjust, domain.DecisionDismiss, domain.DecisionWithdraw},
		Summary:     proposal.Draft.Subject,
	}
	return patch, Suspend(payload), nil
}

func analysisConfidence(a *domain.ResponseAnalysis) float64 {
	if a == nil {
		return 0
	}
	return a.Confidence
}
