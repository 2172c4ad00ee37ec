package router

import "github.com/smilemakc/caseorch/internal/domain"

// autoExecutableActions is the subset of actions the AUTO autopilot
// mode is permitted to fire without a human, absent a forbidding risk
// flag. Actions outside this set always gate, even in AUTO mode.
var autoExecutableActions = map[domain.ActionType]bool{
	domain.ActionAcceptFee:      true,
	domain.ActionSendFollowup:   true,
	domain.ActionSendClarification: true,
	domain.ActionNone:           true,
	domain.ActionCloseCase:      true,
}

// GateDecision is whether an action auto-executes and, if not, why it
// is gated.
type GateDecision struct {
	CanAutoExecute bool
	RequiresHuman  bool
	PauseReason    domain.PauseReason
}

// Gate decides whether action may auto-execute given the autopilot
// mode and any risk flags raised by safety_check. A critical risk flag
// forces gating regardless of mode or the action's normal eligibility.
func Gate(mode domain.AutopilotMode, action domain.ActionType, riskFlags []domain.RiskFlag, recommendedPause domain.PauseReason) GateDecision {
	for _, flag := range riskFlags {
		if flag.IsCritical() {
			return GateDecision{CanAutoExecute: false, RequiresHuman: true, PauseReason: domain.PauseSensitive}
		}
	}

	if mode == domain.AutopilotAuto && autoExecutableActions[action] {
		return GateDecision{CanAutoExecute: true, RequiresHuman: false}
	}

	pauseReason := recommendedPause
	if pauseReason == "" {
		pauseReason = domain.PauseCloseAction
	}
	return GateDecision{CanAutoExecute: false, RequiresHuman: true, PauseReason: pauseReason}
}
