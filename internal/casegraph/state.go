// Package casegraph is the Case Graph (§4.4): the nine-node state
// machine that turns one trigger (an inbound message, a scheduled
// follow-up, a human decision) into a proposed or executed action
// against a Case. Node functions never mutate CaseState directly; each
// returns a Patch that Merge applies under an explicit per-field
// reducer, the same "cyclic shared state without a shared mutable
// object" pattern the teacher's workflow engine uses for its node
// outputs.
package casegraph

import (
	"time"

	"github.com/smilemakc/caseorch/internal/domain"
)

// CaseState is the value threaded through every node invocation. It is
// never mutated in place outside Merge.
type CaseState struct {
	RunID            string
	CaseID           string
	TriggerType      domain.TriggerType
	TriggerMessageID string

	Case            *domain.Case
	Messages        []*domain.Message
	Analysis        *domain.ResponseAnalysis
	FollowUp        *domain.FollowUpSchedule
	PendingProposal *domain.Proposal

	ProposedAction   domain.ActionType
	CanAutoExecute   bool
	RequiresHuman    bool
	PauseReason      domain.PauseReason
	CloseRecommended bool

	Draft                 domain.Draft
	AdjustmentInstruction string
	AdjustmentCount       int

	RiskFlags []domain.RiskFlag
	Warnings  []string

	Proposal *domain.Proposal

	HumanDecision *domain.HumanDecision

	Reasoning      []string
	Errors         []string
	NodeTrace      []string
	IterationCount int

	ExecutionOutcome string
	EmailJobID       string
	NextDueAt        *time.Time
	CloseReason      string
}

// Patch is a node's partial update to CaseState. Pointer fields are
// last-write-wins and nil means "unchanged"; the slice fields listed
// as append-dedup are merged additively by Merge, never replaced.
type Patch struct {
	Case            *domain.Case
	Messages        []*domain.Message
	Analysis        *domain.ResponseAnalysis
	FollowUp        *domain.FollowUpSchedule
	PendingProposal *domain.Proposal

	ProposedAction   *domain.ActionType
	CanAutoExecute   *bool
	RequiresHuman    *bool
	PauseReason      *domain.PauseReason
	CloseRecommended *bool

	Draft                 *domain.Draft
	AdjustmentInstruction *string
	AdjustmentCount       *int

	// RiskFlags and Warnings are append-dedup: new entries are added
	// only if not already present.
	RiskFlags []domain.RiskFlag
	Warnings  []string

	Proposal *domain.Proposal

	HumanDecision      *domain.HumanDecision
	ClearHumanDecision bool

	// Reasoning is append-dedup; Errors and NodeTrace are plain append
	// (repeats are meaningful — a node may legitimately re-add the same
	// trace entry across a retried iteration).
	Reasoning []string
	Errors    []string
	NodeTrace []string

	IterationDelta int

	ExecutionOutcome *string
	EmailJobID       *string
	NextDueAt        *time.Time
	CloseReason      *string
}

// Merge applies p to state under the reducer table described in the
// package doc and returns the resulting value. state is never mutated.
func Merge(state *CaseState, p Patch) *CaseState {
	next := *state

	if p.Case != nil {
		next.Case = p.Case
	}
	if p.Messages != nil {
		next.Messages = p.Messages
	}
	if p.Analysis != nil {
		next.Analysis = p.Analysis
	}
	if p.FollowUp != nil {
		next.FollowUp = p.FollowUp
	}
	if p.PendingProposal != nil {
		next.PendingProposal = p.PendingProposal
	}
	if p.ProposedAction != nil {
		next.ProposedAction = *p.ProposedAction
	}
	if p.CanAutoExecute != nil {
		next.CanAutoExecute = *p.CanAutoExecute
	}
	if p.RequiresHuman != nil {
		next.RequiresHuman = *p.RequiresHuman
	}
	if p.PauseReason != nil {
		next.PauseReason = *p.PauseReason
	}
	if p.CloseRecommended != nil {
		next.CloseRecommended = *p.CloseRecommended
	}
	if p.Draft != nil {
		next.Draft = *p.Draft
	}
	if p.AdjustmentInstruction != nil {
		next.AdjustmentInstruction = *p.AdjustmentInstruction
	}
	if p.AdjustmentCount != nil {
		next.AdjustmentCount = *p.AdjustmentCount
	}

	next.RiskFlags = appendDedupRiskFlags(next.RiskFlags, p.RiskFlags)
	next.Warnings = appendDedupStrings(next.Warnings, p.Warnings)

	if p.Proposal != nil {
		next.Proposal = p.Proposal
	}
	if p.ClearHumanDecision {
		next.HumanDecision = nil
	} else if p.HumanDecision != nil {
		next.HumanDecision = p.HumanDecision
	}

	next.Reasoning = appendDedupStrings(next.Reasoning, p.Reasoning)
	next.Errors = append(next.Errors, p.Errors...)
	next.NodeTrace = append(next.NodeTrace, p.NodeTrace...)
	next.IterationCount += p.IterationDelta

	if p.ExecutionOutcome != nil {
		next.ExecutionOutcome = *p.ExecutionOutcome
	}
	if p.EmailJobID != nil {
		next.EmailJobID = *p.EmailJobID
	}
	if p.NextDueAt != nil {
		next.NextDueAt = p.NextDueAt
	}
	if p.CloseReason != nil {
		next.CloseReason = *p.CloseReason
	}
	return &next
}

func appendDedupStrings(existing, additions []string) []string {
	out := existing
	for _, a := range additions {
		found := false
		for _, e := range out {
			if e == a {
				found = true
				break
			}
		}
		if !found {
			out = append(out, a)
		}
	}
	return out
}

func appendDedupRiskFlags(existing, additions []domain.RiskFlag) []domain.RiskFlag {
	out := existing
	for _, a := range additions {
		found := false
		for _, e := range out {
			if e == a {
				found = true
				break
			}
		}
		if !found {
			out = append(out, a)
		}
	}
	return out
}
