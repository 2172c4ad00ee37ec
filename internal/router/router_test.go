package router

import (
	"testing"

	"github.com/smilemakc/caseorch/internal/domain"
)

func baseContext() Context {
	return Context{
		MaxFollowups:      2,
		FeeAutoApproveMax: 100,
		FeeModerateMax:    500,
		AutopilotMode:     domain.AutopilotSupervised,
		TriggerType:       domain.TriggerInboundMessage,
		DismissedCounts:   map[domain.ActionType]int{},
	}
}

func TestPruneActionsHostileForcesEscalateOnly(t *testing.T) {
	c := baseContext()
	c.Classification = domain.ClassHostile
	allowed, err := PruneActions(c)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if len(allowed) != 1 || allowed[0] != domain.ActionEscalate {
		t.Fatalf("expected only ESCALATE, got %v", allowed)
	}
}

func TestPruneActionsGatingConstraintForcesEscalate(t *testing.T) {
	c := baseContext()
	c.Classification = domain.ClassFeeQuote
	c.Constraints = []string{domain.ConstraintCitizenshipRequired}
	allowed, err := PruneActions(c)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if len(allowed) != 1 || allowed[0] != domain.ActionEscalate {
		t.Fatalf("expected gating constraint to force ESCALATE-only, got %v", allowed)
	}
}

func TestPruneActionsFollowupsExhausted(t *testing.T) {
	c := baseContext()
	c.Classification = domain.ClassNoResponse
	c.FollowupCount = 2
	allowed, err := PruneActions(c)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if !Contains(allowed, domain.ActionEscalate) || len(allowed) != 1 {
		t.Fatalf("expected escalate-only once follow-ups exhausted, got %v", allowed)
	}
}

func TestPruneActionsRemovesSendInitialRequestWhenNotInitial(t *testing.T) {
	c := baseContext()
	c.Classification = domain.ClassDenial // no pruning rule matches, so the full universe reaches removeUnconditional
	c.TriggerType = domain.TriggerInboundMessage
	allowed, err := PruneActions(c)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	for _, a := range allowed {
		if a == domain.ActionSendInitialRequest {
			t.Fatalf("expected SEND_INITIAL_REQUEST removed for non-initial trigger, got %v", allowed)
		}
	}
}

func TestPruneActionsRemovesSubmitPortalWhenNotAutomatable(t *testing.T) {
	c := baseContext()
	c.Classification = domain.ClassPortalRedirect
	c.PortalAutomatable = false
	allowed, err := PruneActions(c)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if Contains(allowed, domain.ActionSubmitPortal) {
		t.Fatalf("expected SUBMIT_PORTAL removed when not automatable, got %v", allowed)
	}
}

func TestPruneActionsRemovesDismissedActions(t *testing.T) {
	c := baseContext()
	c.Classification = domain.ClassRecordsReady
	c.DismissedCounts = map[domain.ActionType]int{domain.ActionCloseCase: 2}
	allowed, err := PruneActions(c)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if Contains(allowed, domain.ActionCloseCase) {
		t.Fatalf("expected CLOSE_CASE removed after 2 dismissals, got %v", allowed)
	}
}

func TestSelectFeeQuoteAutoApprovesBelowThresholdInAutoMode(t *testing.T) {
	c := baseContext()
	c.Classification = domain.ClassFeeQuote
	c.AutopilotMode = domain.AutopilotAuto
	amount := 50.0
	c.ExtractedFee = &amount
	allowed, _ := PruneActions(c)

	sel := Select(c, allowed)
	if sel.Action != domain.ActionAcceptFee {
		t.Fatalf("expected ACCEPT_FEE, got %v", sel.Action)
	}
	if sel.PauseReason != "" {
		t.Fatalf("expected no gating pause reason in AUTO mode below threshold, got %v", sel.PauseReason)
	}
}

func TestSelectFeeQuoteGatesModerateAmountEvenInAutoMode(t *testing.T) {
	c := baseContext()
	c.Classification = domain.ClassFeeQuote
	c.AutopilotMode = domain.AutopilotAuto
	amount := 300.0
	c.ExtractedFee = &amount
	allowed, _ := PruneActions(c)

	sel := Select(c, allowed)
	if sel.Action != domain.ActionAcceptFee {
		t.Fatalf("expected ACCEPT_FEE selection, got %v", sel.Action)
	}
	if sel.PauseReason != domain.PauseFeeQuote {
		t.Fatalf("expected FEE_QUOTE pause reason for moderate amount, got %v", sel.PauseReason)
	}
}

func TestSelectFeeQuoteNegotiatesAboveModerateThreshold(t *testing.T) {
	c := baseContext()
	c.Classification = domain.ClassFeeQuote
	amount := 800.0
	c.ExtractedFee = &amount
	allowed, _ := PruneActions(c)

	sel := Select(c, allowed)
	if sel.Action != domain.ActionNegotiateFee {
		t.Fatalf("expected NEGOTIATE_FEE for large fee, got %v", sel.Action)
	}
}

func TestSelectDenialStrongOngoingInvestigationRecommendsClose(t *testing.T) {
	c := baseContext()
	c.Classification = domain.ClassDenial
	c.DenialSubtype = domain.DenialOngoingInvestigation
	c.KeyPoints = []string{"Matter is subject to an active grand jury proceeding."}
	allowed, _ := PruneActions(c)

	sel := Select(c, allowed)
	if !sel.CloseRecommended {
		t.Fatal("expected close recommendation for strong ongoing-investigation denial")
	}
}

func TestSelectDenialJuvenileRecordsAlwaysRecommendsClose(t *testing.T) {
	c := baseContext()
	c.Classification = domain.ClassDenial
	c.DenialSubtype = domain.DenialJuvenileRecords
	allowed, _ := PruneActions(c)

	sel := Select(c, allowed)
	if !sel.CloseRecommended {
		t.Fatal("expected close recommendation for juvenile records denial")
	}
	if sel.Action != domain.ActionSendRebuttal {
		t.Fatalf("expected SEND_REBUTTAL still allowed, got %v", sel.Action)
	}
}

func TestSelectClarificationRequest(t *testing.T) {
	c := baseContext()
	c.Classification = domain.ClassClarificationRequest
	allowed, _ := PruneActions(c)
	sel := Select(c, allowed)
	if sel.Action != domain.ActionSendClarification {
		t.Fatalf("expected SEND_CLARIFICATION, got %v", sel.Action)
	}
}

func TestSelectNoResponseEscalatesAtFollowupLimit(t *testing.T) {
	c := baseContext()
	c.Classification = domain.ClassNoResponse
	c.FollowupCount = 2
	allowed, _ := PruneActions(c)
	sel := Select(c, allowed)
	if sel.Action != domain.ActionEscalate {
		t.Fatalf("expected ESCALATE once follow-up budget exhausted, got %v", sel.Action)
	}
}

func TestGateForcesHumanOnCriticalRiskFlagRegardlessOfMode(t *testing.T) {
	decision := Gate(domain.AutopilotAuto, domain.ActionAcceptFee, []domain.RiskFlag{domain.RiskContainsPII}, "")
	if decision.CanAutoExecute {
		t.Fatal("expected critical risk flag to forbid auto-execution")
	}
	if decision.PauseReason != domain.PauseSensitive {
		t.Fatalf("expected SENSITIVE pause reason, got %v", decision.PauseReason)
	}
}

func TestGateAutoExecutesEligibleActionInAutoMode(t *testing.T) {
	decision := Gate(domain.AutopilotAuto, domain.ActionSendFollowup, nil, "")
	if !decision.CanAutoExecute {
		t.Fatal("expected SEND_FOLLOWUP to auto-execute in AUTO mode with no risk flags")
	}
}

func TestGateAlwaysGatesInSupervisedMode(t *testing.T) {
	decision := Gate(domain.AutopilotSupervised, domain.ActionSendFollowup, nil, domain.PauseScope)
	if decision.CanAutoExecute {
		t.Fatal("expected SUPERVISED mode to never auto-execute")
	}
	if decision.PauseReason != domain.PauseScope {
		t.Fatalf("expected recommended pause reason preserved, got %v", decision.PauseReason)
	}
}
