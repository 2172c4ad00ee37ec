package router

import (
	"strings"

	"github.com/smilemakc/caseorch/internal/domain"
)

// Selection is the router's chosen action plus its ordered reasoning
// and whether it carries a recommended pause reason.
type Selection struct {
	Action         domain.ActionType
	Reasoning      []string
	PauseReason    domain.PauseReason
	CloseRecommended bool
}

// strongDenialIndicators are key-point phrases that, when present,
// strengthen an ongoing_investigation denial to a recommended close
// rather than a routine rebuttal.
var strongDenialIndicators = []string{
	"pending prosecution",
	"active grand jury",
	"criminal referral",
	"law enforcement sensitive",
}

func countStrongIndicators(keyPoints []string) int {
	count := 0
	for _, kp := range keyPoints {
		lower := strings.ToLower(kp)
		for _, indicator := range strongDenialIndicators {
			if strings.Contains(lower, indicator) {
				count++
				break
			}
		}
	}
	return count
}

// Select picks one action from the pruned allowed set, following the
// classification/subtype/fee-threshold selection rules. allowed MUST
// already be pruned via PruneActions.
func Select(c Context, allowed []domain.ActionType) Selection {
	switch c.Classification {
	case domain.ClassFeeQuote:
		return selectFeeQuote(c, allowed)
	case domain.ClassDenial:
		return selectDenial(c, allowed)
	case domain.ClassClarificationRequest:
		return pick(allowed, domain.ActionSendClarification, "clarification requested by agency")
	case domain.ClassNoResponse:
		return selectFollowupOrEscalate(c, allowed, "no response received within expected window")
	}

	if c.TriggerType == domain.TriggerScheduledFollowup {
		return selectFollowupOrEscalate(c, allowed, "scheduled follow-up trigger")
	}

	if len(allowed) == 1 {
		return Selection{Action: allowed[0], Reasoning: []string{"single allowed action after pruning"}}
	}
	return Selection{Action: domain.ActionNone, Reasoning: []string{"no selection rule matched; defaulting to no-op"}}
}

func selectFeeQuote(c Context, allowed []domain.ActionType) Selection {
	if c.ExtractedFee == nil {
		return pick(allowed, domain.ActionNegotiateFee, "fee quote without an extracted amount; negotiating")
	}
	amount := *c.ExtractedFee

	autoMax := c.FeeAutoApproveMax
	moderateMax := c.FeeModerateMax

	switch {
	case amount <= autoMax:
		sel := pick(allowed, domain.ActionAcceptFee, "fee below auto-approve threshold")
		if c.AutopilotMode == domain.AutopilotAuto {
			return sel
		}
		sel.PauseReason = domain.PauseFeeQuote
		return sel
	case amount <= moderateMax:
		sel := pick(allowed, domain.ActionAcceptFee, "fee within moderate range, gated for human review")
		sel.PauseReason = domain.PauseFeeQuote
		return sel
	default:
		sel := pick(allowed, domain.ActionNegotiateFee, "fee exceeds moderate threshold")
		sel.PauseReason = domain.PauseFeeQuote
		return sel
	}
}

func selectDenial(c Context, allowed []domain.ActionType) Selection {
	switch c.DenialSubtype {
	case domain.DenialOverlyBroad:
		return pick(allowed, domain.ActionReformulateRequest, "denial cites overly broad request")
	case domain.DenialGlomarNCND:
		return pick(allowed, domain.ActionSendAppeal, "Glomar neither-confirm-nor-deny response")
	case domain.DenialOngoingInvestigation:
		if countStrongIndicators(c.KeyPoints) > 0 {
			sel := pick(allowed, domain.ActionSendRebuttal, "strong ongoing-investigation denial; close recommended")
			sel.CloseRecommended = true
			sel.PauseReason = domain.PauseDenial
			return sel
		}
		return pickWithPause(allowed, domain.ActionSendRebuttal, "ongoing-investigation denial without strong indicators", domain.PauseDenial)
	case domain.DenialJuvenileRecords, domain.DenialSealedCourtOrder:
		sel := pick(allowed, domain.ActionSendRebuttal, "statutorily strong denial subtype; close recommended")
		sel.CloseRecommended = true
		sel.PauseReason = domain.PauseDenial
		return sel
	default:
		return pickWithPause(allowed, domain.ActionSendRebuttal, "denial without a recognized strong subtype", domain.PauseDenial)
	}
}

func selectFollowupOrEscalate(c Context, allowed []domain.ActionType, reason string) Selection {
	if c.FollowupCount >= c.MaxFollowups {
		return pick(allowed, domain.ActionEscalate, reason+"; follow-up budget exhausted")
	}
	return pick(allowed, domain.ActionSendFollowup, reason)
}

// pick returns a Selection for preferred if it survived pruning,
// falling back to ESCALATE (which is always safe to select) otherwise.
func pick(allowed []domain.ActionType, preferred domain.ActionType, reason string) Selection {
	if Contains(allowed, preferred) {
		return Selection{Action: preferred, Reasoning: []string{reason}}
	}
	return Selection{Action: domain.ActionEscalate, Reasoning: []string{reason, "preferred action was pruned; escalating instead"}}
}

func pickWithPause(allowed []domain.ActionType, preferred domain.ActionType, reason string, pauseReason domain.PauseReason) Selection {
	sel := pick(allowed, preferred, reason)
	if sel.Action == preferred {
		sel.PauseReason = pauseReason
	}
	return sel
}
