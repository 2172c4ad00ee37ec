package domain

import (
	"context"
	"time"
)

// ProposalFields carries the mutable fields of a Proposal upsert.
// Fields left at their zero value are not necessarily "unset" — Store
// implementations treat every field in this struct as authoritative
// for the upsert, matching the "all other fields may be overwritten"
// contract.
type ProposalFields struct {
	RunID            string
	TriggerMessageID string
	ActionType       ActionType
	Draft            Draft
	Reasoning        []string
	Confidence       float64
	RiskFlags        []RiskFlag
	Warnings         []string
	CanAutoExecute   bool
	RequiresHuman    bool
	Status           ProposalStatus
	AdjustmentCount  int
}

// CaseStore persists Case aggregates.
type CaseStore interface {
	GetCase(ctx context.Context, id string) (*Case, error)
	SaveCase(ctx context.Context, c *Case) error
	// FindCaseByAgencyEmail returns the most recently created open case
	// against the given agency email, for inbound mail that cannot be
	// matched by In-Reply-To/References. Returns nil, nil if none match.
	FindCaseByAgencyEmail(ctx context.Context, agencyEmail string) (*Case, error)
}

// MessageStore persists Messages and their processing bookkeeping.
type MessageStore interface {
	GetMessage(ctx context.Context, id string) (*Message, error)
	GetMessageByProviderID(ctx context.Context, providerMessageID string) (*Message, error)
	// GetMessageByRFC2822ID resolves one of our own outbound messages by
	// its Message-ID header, for matching an inbound reply's
	// In-Reply-To/References back to the case that sent it.
	GetMessageByRFC2822ID(ctx context.Context, rfc2822ID string) (*Message, error)
	ListMessagesByCase(ctx context.Context, caseID string) ([]*Message, error)
	SaveMessage(ctx context.Context, m *Message) error
	MarkMessageProcessed(ctx context.Context, messageID, runID string) error
}

// AnalysisStore persists ResponseAnalysis rows, keyed uniquely by
// message_id.
type AnalysisStore interface {
	SaveAnalysis(ctx context.Context, a *ResponseAnalysis) error
	GetAnalysis(ctx context.Context, messageID string) (*ResponseAnalysis, error)
	GetLatestAnalysisForCase(ctx context.Context, caseID string) (*ResponseAnalysis, error)
}

// ProposalStore persists Proposals with the two non-trivial atomic
// contracts the rest of the system depends on for idempotency.
type ProposalStore interface {
	// UpsertProposal is an atomic upsert on proposal_key. If the
	// existing row has status=EXECUTED, it preserves that status and
	// ExecutionKey/EmailJobID; every other field may be overwritten.
	// Returns the final row.
	UpsertProposal(ctx context.Context, proposalKey string, fields ProposalFields) (*Proposal, error)

	// ClaimProposalExecution is an atomic compare-and-set: it succeeds
	// iff the row's execution_key is empty and status != EXECUTED. On
	// success it sets execution_key and returns true.
	ClaimProposalExecution(ctx context.Context, proposalID, executionKey string) (bool, error)

	GetProposal(ctx context.Context, id string) (*Proposal, error)
	GetProposalByKey(ctx context.Context, proposalKey string) (*Proposal, error)
	GetLatestPendingProposal(ctx context.Context, caseID string) (*Proposal, error)
	MarkProposalExecuted(ctx context.Context, proposalID, emailJobID string) error
	SetProposalHumanDecision(ctx context.Context, proposalID string, decision HumanDecision) error
	IncrementDismissalCount(ctx context.Context, caseID string, action ActionType) (int, error)
	GetDismissalCount(ctx context.Context, caseID string, action ActionType) (int, error)
}

// RunStore persists AgentRun rows.
type RunStore interface {
	CreateRun(ctx context.Context, r *AgentRun) error
	SaveRun(ctx context.Context, r *AgentRun) error
	GetRun(ctx context.Context, id string) (*AgentRun, error)
}

// FollowUpStore persists FollowUpSchedule rows.
type FollowUpStore interface {
	GetFollowUpSchedule(ctx context.Context, caseID string) (*FollowUpSchedule, error)
	// UpsertFollowUpSchedule increments followup_count and returns the
	// updated row. followup_count is monotonically non-decreasing.
	UpsertFollowUpSchedule(ctx context.Context, caseID string, nextFollowupDate *time.Time) (*FollowUpSchedule, error)
	// ListCasesDueForFollowup returns the case IDs whose
	// next_followup_date has passed and whose schedule is still ACTIVE,
	// the query the scheduler polls to enqueue run_on_schedule jobs.
	ListCasesDueForFollowup(ctx context.Context, asOf time.Time) ([]string, error)
}

// EscalationStore persists Escalation rows, deduplicated per
// (case_id, reason) within a rolling 1-hour window.
type EscalationStore interface {
	// UpsertEscalation inserts the escalation if no row for
	// (case_id, reason) exists within the last hour. wasInserted
	// reports whether a new row was actually created.
	UpsertEscalation(ctx context.Context, e *Escalation) (wasInserted bool, err error)
}

// PortalTaskStore persists PortalTask rows.
type PortalTaskStore interface {
	CreatePortalTask(ctx context.Context, t *PortalTask) error
	SavePortalTask(ctx context.Context, t *PortalTask) error
}

// ExecutionRecordStore persists ExecutionRecord rows.
type ExecutionRecordStore interface {
	RecordExecution(ctx context.Context, e *ExecutionRecord) error
	CountSucceededExecutions(ctx context.Context, proposalID string) (int, error)
}

// DecisionTraceStore persists DecisionTrace rows.
type DecisionTraceStore interface {
	SaveDecisionTrace(ctx context.Context, t *DecisionTrace) error
}

// LockStore provides the per-case advisory lock primitive the Run
// Supervisor uses to serialize all activity against one case.
type LockStore interface {
	// AcquireCaseLock attempts to take the advisory lock for
	// "case:<id>" without blocking. Returns false if unavailable.
	AcquireCaseLock(ctx context.Context, caseID string) (bool, error)
	ReleaseCaseLock(ctx context.Context, caseID string) error
}

// Checkpoint is one persisted snapshot of a run's in-progress graph
// state, keyed by thread_id ("case:<caseId>"). Snapshot and
// InterruptValue are opaque msgpack-encoded blobs the Checkpointer
// produces and consumes; the Store never interprets their contents.
type Checkpoint struct {
	ID             string    `json:"id"`
	ThreadID       string    `json:"thread_id"`
	NodeName       string    `json:"node_name"`
	Snapshot       []byte    `json:"snapshot"`
	InterruptValue []byte    `json:"interrupt_value,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// CheckpointStore persists the latest Checkpoint per thread_id. Only
// the most recent checkpoint per thread is retained; the Checkpointer
// above it does not need history, only resumability.
type CheckpointStore interface {
	SaveCheckpoint(ctx context.Context, cp *Checkpoint) error
	GetLatestCheckpoint(ctx context.Context, threadID string) (*Checkpoint, error)
	// SetInterruptValue stores the value a human/resume call injects
	// for the given thread, to be returned by the next
	// GetLatestCheckpoint and then cleared.
	SetInterruptValue(ctx context.Context, threadID string, value []byte) error
}

// Storage is the unified repository interface the rest of the system
// depends on — the sole authority for persistent state (§4.1). All
// writes from the case graph go through it.
type Storage interface {
	CaseStore
	MessageStore
	AnalysisStore
	ProposalStore
	RunStore
	FollowUpStore
	EscalationStore
	PortalTaskStore
	ExecutionRecordStore
	DecisionTraceStore
	LockStore
	CheckpointStore

	Ping(ctx context.Context) error
	Close() error
}
