package casegraph

import (
	"context"
	"fmt"

	"github.com/smilemakc/caseorch/internal/domain"
	"github.com/smilemakc/caseorch/internal/router"
)

// draftActions need a generated subject/body before they can be
// gated — decide_next_action routes them to draft_response rather than
// straight to gate_or_execute.
var draftActions = map[domain.ActionType]bool{
	domain.ActionSendInitialRequest:   true,
	domain.ActionAcceptFee:            true,
	domain.ActionNegotiateFee:         true,
	domain.ActionDeclineFee:           true,
	domain.ActionSendFeeWaiverRequest: true,
	domain.ActionSendRebuttal:         true,
	domain.ActionSendAppeal:           true,
	domain.ActionReformulateRequest:   true,
	domain.ActionSendClarification:    true,
	domain.ActionSendFollowup:         true,
	domain.ActionRespondPartialApproval: true,
	domain.ActionSubmitPortal:         true,
}

// dismissableActions is the candidate set decide_next_action checks
// dismissal counts for, before pruning.
var dismissableActions = []domain.ActionType{
	domain.ActionSendInitialRequest, domain.ActionAcceptFee, domain.ActionNegotiateFee, domain.ActionDeclineFee,
	domain.ActionSendFeeWaiverRequest, domain.ActionSendRebuttal, domain.ActionSendAppeal, domain.ActionReformulateRequest,
	domain.ActionSendClarification, domain.ActionSendFollowup, domain.ActionRespondPartialApproval, domain.ActionSubmitPortal,
	domain.ActionResearchAgency, domain.ActionCloseCase, domain.ActionEscalate,
}

// decideNextAction runs the Router (§4.3) to prune and select the next
// action, and separately processes an injected HumanDecision on
// resume — APPROVE fast-forwards an already-drafted, already-gated
// proposal straight to execute_action; WITHDRAW ends the case;
// ADJUST re-enters draft_response with the same action and the
// human's instruction; DISMISS falls through to a fresh Select after
// updating the dismissal bookkeeping.
func (g *Graph) decideNextAction(ctx context.Context, state *CaseState) (Patch, Outcome, error) {
	afterDismiss := false
	if state.HumanDecision != nil {
		switch state.HumanDecision.Action {
		case domain.DecisionApprove:
			return g.handleApprove(ctx, state)
		case domain.DecisionWithdraw:
			return g.handleWithdraw(ctx, state)
		case domain.DecisionAdjust:
			return g.handleAdjust(ctx, state)
		case domain.DecisionDismiss:
			if err := g.handleDismiss(ctx, state); err != nil {
				return Patch{}, Outcome{}, err
			}
			afterDismiss = true
		}
	}

	if state.TriggerType == domain.TriggerInitialRequest {
		action := domain.ActionSendInitialRequest
		return g.routeAction(state, action, []string{"initial request trigger"}, "", false, afterDismiss)
	}
	if state.TriggerType == domain.TriggerManualReview {
		action := domain.ActionEscalate
		return g.routeAction(state, action, []string{"manual review requested"}, "", false, afterDismiss)
	}

	// RECORDS_READY closes the case directly: no proposal, no draft, no
	// execution — the agency already delivered what was requested.
	if state.Analysis != nil && state.Analysis.Classification == domain.ClassRecordsReady {
		return g.closeRecordsReady(ctx, state)
	}

	rc, err := g.buildRouterContext(ctx, state)
	if err != nil {
		return Patch{}, Outcome{}, err
	}

	allowed, err := router.PruneActions(rc)
	if err != nil {
		return Patch{}, Outcome{}, fmt.Errorf("prune actions: %w", err)
	}
	selection := router.Select(rc, allowed)

	return g.routeAction(state, selection.Action, selection.Reasoning, selection.PauseReason, selection.CloseRecommended, afterDismiss)
}

func (g *Graph) buildRouterContext(ctx context.Context, state *CaseState) (router.Context, error) {
	dismissed := make(map[domain.ActionType]int, len(dismissableActions))
	for _, a := range dismissableActions {
		count, err := g.store.GetDismissalCount(ctx, state.CaseID, a)
		if err != nil {
			return router.Context{}, fmt.Errorf("load dismissal count for %s: %w", a, err)
		}
		if count > 0 {
			dismissed[a] = count
		}
	}

	followupCount := 0
	if state.FollowUp != nil {
		followupCount = state.FollowUp.FollowupCount
	}

	rc := router.Context{
		Constraints:       state.Case.Constraints,
		FollowupCount:     followupCount,
		MaxFollowups:      g.cfg.MaxFollowups,
		PortalAutomatable: state.Case.PortalAutomatable(),
		TriggerType:       state.TriggerType,
		DismissedCounts:   dismissed,
		AutopilotMode:     state.Case.AutopilotMode,
		FeeAutoApproveMax: g.cfg.FeeAutoApproveMax,
		FeeModerateMax:    g.cfg.FeeModerateMax,
	}
	if state.Analysis != nil {
		rc.Classification = state.Analysis.Classification
		rc.DenialSubtype = state.Analysis.DenialSubtype
		rc.ExtractedFee = state.Analysis.ExtractedFeeAmount
		rc.KeyPoints = state.Analysis.KeyPoints
	}
	return rc, nil
}

// routeAction decides the next node for a chosen action and returns
// the Patch/Outcome pair. ESCALATE and the non-drafted terminal
// actions (NONE, CLOSE_CASE, RESEARCH_AGENCY) all route through
// gate_or_execute for a uniform, idempotent Proposal upsert — a small
// generalization of the literal edge diagram, which names only the
// escalate case explicitly; every non-drafted action needs the same
// upsert machinery, not just escalation.
func (g *Graph) routeAction(state *CaseState, action domain.ActionType, reasoning []string, pauseReason domain.PauseReason, closeRecommended, clearHumanDecision bool) (Patch, Outcome, error) {
	patch := Patch{
		ProposedAction:     &action,
		Reasoning:          reasoning,
		PauseReason:        &pauseReason,
		CloseRecommended:   &closeRecommended,
		ClearHumanDecision: clearHumanDecision,
		NodeTrace:          []string{NodeDecideNextAction},
	}
	if draftActions[action] {
		return patch, Continue(NodeDraftResponse), nil
	}
	return patch, Continue(NodeGateOrExecute), nil
}

func (g *Graph) closeRecordsReady(ctx context.Context, state *CaseState) (Patch, Outcome, error) {
	c := *state.Case
	c.Status = domain.CaseCompleted
	c.Substatus = "records_received"
	if err := g.store.SaveCase(ctx, &c); err != nil {
		return Patch{}, Outcome{}, fmt.Errorf("save case as records received: %w", err)
	}
	patch := Patch{
		Case:             &c,
		ProposedAction:   actionPtr(domain.ActionNone),
		CloseRecommended: boolPtr(true),
		CloseReason:      strPtr("records received"),
		Reasoning:        []string{"agency reported records ready; no further action needed"},
		NodeTrace:         []string{NodeDecideNextAction},
	}
	return patch, Done(), nil
}

func actionPtr(a domain.ActionType) *domain.ActionType { return &a }

func (g *Graph) handleApprove(ctx context.Context, state *CaseState) (Patch, Outcome, error) {
	if state.PendingProposal == nil {
		return Patch{}, Outcome{}, fmt.Errorf("approve resume with no pending proposal")
	}
	proposal := state.PendingProposal
	if err := g.store.SetProposalHumanDecision(ctx, proposal.ID, *state.HumanDecision); err != nil {
		return Patch{}, Outcome{}, fmt.Errorf("record approve decision: %w", err)
	}
	action := proposal.ActionType
	draft := proposal.Draft
	patch := Patch{
		ProposedAction:     &action,
		Draft:              &draft,
		Proposal:           proposal,
		CanAutoExecute:     boolPtr(true),
		RequiresHuman:      boolPtr(false),
		ClearHumanDecision: true,
		Reasoning:          []string{"human approved pending proposal"},
		NodeTrace:          []string{NodeDecideNextAction},
	}
	return patch, Continue(NodeExecuteAction), nil
}

func (g *Graph) handleWithdraw(ctx context.Context, state *CaseState) (Patch, Outcome, error) {
	if state.PendingProposal != nil {
		if err := g.store.SetProposalHumanDecision(ctx, state.PendingProposal.ID, *state.HumanDecision); err != nil {
			return Patch{}, Outcome{}, fmt.Errorf("record withdraw decision: %w", err)
		}
	}
	c := *state.Case
	c.Status = domain.CaseCancelled
	c.Substatus = "withdrawn_by_human"
	if err := g.store.SaveCase(ctx, &c); err != nil {
		return Patch{}, Outcome{}, fmt.Errorf("save withdrawn case: %w", err)
	}
	patch := Patch{
		Case:               &c,
		ClearHumanDecision: true,
		CloseReason:        strPtr("withdrawn by human"),
		Reasoning:          []string{"human withdrew the request"},
		NodeTrace:          []string{NodeDecideNextAction},
	}
	return patch, Done(), nil
}

func (g *Graph) handleAdjust(ctx context.Context, state *CaseState) (Patch, Outcome, error) {
	if state.PendingProposal == nil {
		return Patch{}, Outcome{}, fmt.Errorf("adjust resume with no pending proposal")
	}
	proposal := state.PendingProposal
	if err := g.store.SetProposalHumanDecision(ctx, proposal.ID, *state.HumanDecision); err != nil {
		return Patch{}, Outcome{}, fmt.Errorf("record adjust decision: %w", err)
	}
	action := proposal.ActionType
	adjustmentCount := proposal.AdjustmentCount + 1
	patch := Patch{
		ProposedAction:        &action,
		AdjustmentInstruction: strPtr(state.HumanDecision.Instruction),
		AdjustmentCount:       &adjustmentCount,
		ClearHumanDecision:    true,
		Reasoning:             []string{"human requested adjustment: " + state.HumanDecision.Instruction},
		NodeTrace:             []string{NodeDecideNextAction},
	}
	return patch, Continue(NodeDraftResponse), nil
}

func (g *Graph) handleDismiss(ctx context.Context, state *CaseState) error {
	if state.PendingProposal == nil {
		return nil
	}
	if err := g.store.SetProposalHumanDecision(ctx, state.PendingProposal.ID, *state.HumanDecision); err != nil {
		return fmt.Errorf("record dismiss decision: %w", err)
	}
	if _, err := g.store.IncrementDismissalCount(ctx, state.CaseID, state.PendingProposal.ActionType); err != nil {
		return fmt.Errorf("increment dismissal count: %w", err)
	}
	// state.PendingProposal is left as-is in the snapshot; the fresh
	// Select below sees the increased dismissal count, and
	// removeUnconditional drops the action only once that count
	// reaches 2, so a first dismissal can select the same action again.
	return nil
}
