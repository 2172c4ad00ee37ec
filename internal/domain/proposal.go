package domain

import (
	"fmt"
	"time"
)

// Proposal is a single proposed next action, with its draft and
// rationale. proposal_key uniqueness is the system's idempotency
// backbone: upserting with the same key must be idempotent and must
// never regress a proposal already EXECUTED (see store.UpsertProposal).
type Proposal struct {
	ID                string         `json:"id"`
	CaseID            string         `json:"case_id"`
	RunID             string         `json:"run_id"`
	TriggerMessageID  string         `json:"trigger_message_id,omitempty"`
	ActionType        ActionType     `json:"action_type"`
	Draft             Draft          `json:"draft"`
	Reasoning         []string       `json:"reasoning"`
	Confidence        float64        `json:"confidence"`
	RiskFlags         []RiskFlag     `json:"risk_flags,omitempty"`
	Warnings          []string       `json:"warnings,omitempty"`
	CanAutoExecute    bool           `json:"can_auto_execute"`
	RequiresHuman     bool           `json:"requires_human"`
	Status            ProposalStatus `json:"status"`
	ProposalKey       string         `json:"proposal_key"`
	ExecutionKey      string         `json:"execution_key,omitempty"`
	EmailJobID        string         `json:"email_job_id,omitempty"`
	AdjustmentCount   int            `json:"adjustment_count"`
	HumanDecision     *HumanDecision `json:"human_decision,omitempty"`
	ExecutedAt        *time.Time     `json:"executed_at,omitempty"`
}

// ProposalKey computes the deterministic uniqueness key:
// case_id : (trigger_message_id | 'scheduled') : action_type : adjustment_count.
func ProposalKey(caseID, triggerMessageID string, actionType ActionType, adjustmentCount int) string {
	msgPart := triggerMessageID
	if msgPart == "" {
		msgPart = "scheduled"
	}
	return fmt.Sprintf("%s:%s:%s:%d", caseID, msgPart, actionType, adjustmentCount)
}

// ExecutionKey computes the deterministic key used to dedupe queue
// jobs and downstream side effects for one execution attempt against
// this proposal.
func ExecutionKey(proposalID string) string {
	return "exec:" + proposalID
}
