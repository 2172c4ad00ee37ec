package domain

import "time"

// AgentRun is one invocation of the case graph. At most one run per
// case may sit in an active status {created, queued, running,
// paused_awaiting_human} at a time; that invariant is enforced by the
// per-case advisory lock held by the Run Supervisor, not by this type.
type AgentRun struct {
	ID            string                 `json:"id"`
	CaseID        string                 `json:"case_id"`
	TriggerType   TriggerType            `json:"trigger_type"`
	Status        RunStatus              `json:"status"`
	StartedAt     time.Time              `json:"started_at"`
	EndedAt       *time.Time             `json:"ended_at,omitempty"`
	CurrentNode   string                 `json:"current_node,omitempty"`
	IterationCount int                   `json:"iteration_count"`
	Error         string                 `json:"error,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

var activeRunStatuses = map[RunStatus]bool{
	RunCreated:             true,
	RunQueued:              true,
	RunRunning:             true,
	RunPausedAwaitingHuman: true,
}

// IsActive reports whether this run status counts toward the
// one-active-run-per-case invariant.
func (s RunStatus) IsActive() bool { return activeRunStatuses[s] }

// FollowUpSchedule is zero or one per case, tracking the cadence of
// scheduled follow-up sends.
type FollowUpSchedule struct {
	CaseID              string     `json:"case_id"`
	NextFollowupDate    *time.Time `json:"next_followup_date,omitempty"`
	FollowupCount       int        `json:"followup_count"`
	LastFollowupSentAt  *time.Time `json:"last_followup_sent_at,omitempty"`
	Status              string     `json:"status"`
}

// Escalation is a human-attention record, deduplicated per
// (case_id, reason) within a rolling 1-hour window.
type Escalation struct {
	ID        string    `json:"id"`
	CaseID    string    `json:"case_id"`
	Reason    string    `json:"reason"`
	Urgency   string    `json:"urgency"`
	Suggested string    `json:"suggested_action,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// PortalTask is a manual-submission work item handed off to a human
// or an external portal-automation collaborator.
type PortalTask struct {
	ID         string           `json:"id"`
	CaseID     string           `json:"case_id"`
	ProposalID string           `json:"proposal_id"`
	ActionType ActionType       `json:"action_type"`
	Draft      Draft            `json:"draft"`
	Status     PortalTaskStatus `json:"status"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// ExecutionRecord is one attempt to perform a side effect, keyed by
// execution_key. At most one ExecutionRecord per proposal may carry
// outcome SUCCEEDED.
type ExecutionRecord struct {
	ID           string           `json:"id"`
	ProposalID   string           `json:"proposal_id"`
	ExecutionKey string           `json:"execution_key"`
	Action       string           `json:"action"`
	Channel      string           `json:"channel"`
	Outcome      ExecutionOutcome `json:"outcome"`
	Detail       string           `json:"detail,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}

// DecisionTrace is the per-run audit record: classification, router
// output, node trace, gate decision, and timings.
type DecisionTrace struct {
	ID             string                 `json:"id"`
	RunID          string                 `json:"run_id"`
	CaseID         string                 `json:"case_id"`
	Classification Classification         `json:"classification,omitempty"`
	RouterOutput   map[string]interface{} `json:"router_output,omitempty"`
	NodeTrace      []string               `json:"node_trace"`
	GateDecision   string                 `json:"gate_decision,omitempty"`
	StartedAt      time.Time              `json:"started_at"`
	FinishedAt     *time.Time             `json:"finished_at,omitempty"`
}
