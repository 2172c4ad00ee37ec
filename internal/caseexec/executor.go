// Package caseexec implements the Executor collaborator the
// execute_action node calls (§4.6): pre-check, claim, portal guard,
// email send, escalate, and none, each idempotent by execution_key.
package caseexec

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/smilemakc/caseorch/internal/casegraph"
	"github.com/smilemakc/caseorch/internal/domain"
	"github.com/smilemakc/caseorch/internal/mail"
	"github.com/smilemakc/caseorch/internal/notify"
)

// Executor implements casegraph.Executor.
type Executor struct {
	store             domain.Storage
	emailQueue        EmailQueue
	mailer            mail.Provider
	notifier          notify.Channel
	fromAddress       string
	mode              domain.ExecutionMode
	followupDelayDays int
	delay             func() time.Duration
}

var _ casegraph.Executor = (*Executor)(nil)

// New constructs an Executor. fromAddress is the requester identity
// used as the From header on every outbound send.
func New(store domain.Storage, emailQueue EmailQueue, mailer mail.Provider, notifier notify.Channel, fromAddress string, followupDelayDays int, mode domain.ExecutionMode) *Executor {
	return &Executor{
		store:             store,
		emailQueue:        emailQueue,
		mailer:            mailer,
		notifier:          notifier,
		fromAddress:       fromAddress,
		mode:              mode,
		followupDelayDays: followupDelayDays,
		delay:             randomHumanDelay,
	}
}

// randomHumanDelay picks a uniform delay in [120, 600] minutes, per
// §4.6's "per-action human-like delay (uniform 120-600 minutes for
// business-hour sends)".
func randomHumanDelay() time.Duration {
	return time.Duration(120+rand.Intn(481)) * time.Minute
}

func (e *Executor) Execute(ctx context.Context, state *casegraph.CaseState) (casegraph.ExecutionResult, error) {
	proposal := state.Proposal
	if proposal == nil {
		return casegraph.ExecutionResult{}, fmt.Errorf("caseexec: execute_action reached with no proposal")
	}

	current, err := e.store.GetProposal(ctx, proposal.ID)
	if err != nil {
		return casegraph.ExecutionResult{}, fmt.Errorf("caseexec: load proposal: %w", err)
	}
	if current.Status == domain.ProposalExecuted {
		return casegraph.ExecutionResult{Outcome: "already_executed", EmailJobID: current.EmailJobID}, nil
	}
	if current.ExecutionKey != "" {
		return casegraph.ExecutionResult{Outcome: "execution_in_progress"}, nil
	}

	executionKey := domain.ExecutionKey(proposal.ID)
	claimed, err := e.store.ClaimProposalExecution(ctx, proposal.ID, executionKey)
	if err != nil {
		return casegraph.ExecutionResult{}, fmt.Errorf("caseexec: claim execution: %w", err)
	}
	if !claimed {
		return casegraph.ExecutionResult{Outcome: "claim_failed"}, nil
	}

	switch {
	case proposal.ActionType == domain.ActionEscalate:
		return e.executeEscalate(ctx, state, proposal)
	case proposal.ActionType == domain.ActionNone || proposal.ActionType == domain.ActionCloseCase || proposal.ActionType == domain.ActionResearchAgency:
		return e.executeNone(ctx, proposal)
	case state.Case.HasPortal():
		// Broader than §4.6's literal "action is a SEND_*" wording: §3's
		// data-model invariant bars ANY email-send proposal from
		// executing against a portal case, not just the SEND_* subset, so
		// the guard here covers every action that would otherwise reach
		// the email branch (ACCEPT_FEE, SUBMIT_PORTAL, etc.).
		return e.executePortal(ctx, state, proposal)
	default:
		return e.executeEmail(ctx, state, proposal, executionKey)
	}
}

func (e *Executor) executePortal(ctx context.Context, state *casegraph.CaseState, proposal *domain.Proposal) (casegraph.ExecutionResult, error) {
	now := domain.Now()
	task := &domain.PortalTask{
		ID:         uuid.NewString(),
		CaseID:     state.CaseID,
		ProposalID: proposal.ID,
		ActionType: proposal.ActionType,
		Draft:      proposal.Draft,
		Status:     domain.PortalTaskPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := e.store.CreatePortalTask(ctx, task); err != nil {
		return casegraph.ExecutionResult{}, fmt.Errorf("caseexec: create portal task: %w", err)
	}
	if err := e.store.MarkProposalExecuted(ctx, proposal.ID, ""); err != nil {
		return casegraph.ExecutionResult{}, fmt.Errorf("caseexec: mark proposal executed: %w", err)
	}

	c := *state.Case
	c.Status = domain.CasePortalInProgress
	c.LastPortalSubmissionAt = &now
	c.LastPortalStatus = string(domain.PortalTaskPending)
	if err := e.store.SaveCase(ctx, &c); err != nil {
		return casegraph.ExecutionResult{}, fmt.Errorf("caseexec: update case for portal submission: %w", err)
	}

	return casegraph.ExecutionResult{Outcome: "portal_task_created"}, nil
}

func (e *Executor) executeEscalate(ctx context.Context, state *casegraph.CaseState, proposal *domain.Proposal) (casegraph.ExecutionResult, error) {
	reason := string(state.PauseReason)
	if reason == "" {
		reason = "escalated"
	}
	esc := &domain.Escalation{
		ID:        uuid.NewString(),
		CaseID:    state.CaseID,
		Reason:    reason,
		Urgency:   escalationUrgency(state),
		Suggested: joinReasoning(state.Reasoning),
		CreatedAt: domain.Now(),
	}
	wasInserted, err := e.store.UpsertEscalation(ctx, esc)
	if err != nil {
		return casegraph.ExecutionResult{}, fmt.Errorf("caseexec: upsert escalation: %w", err)
	}
	if wasInserted && e.mode != domain.ExecutionDry {
		if err := e.notifier.Notify(ctx, esc); err != nil {
			return casegraph.ExecutionResult{}, fmt.Errorf("caseexec: notify escalation: %w", err)
		}
	}
	if err := e.store.MarkProposalExecuted(ctx, proposal.ID, ""); err != nil {
		return casegraph.ExecutionResult{}, fmt.Errorf("caseexec: mark proposal executed: %w", err)
	}

	c := *state.Case
	c.Status = domain.CaseEscalated
	if err := e.store.SaveCase(ctx, &c); err != nil {
		return casegraph.ExecutionResult{}, fmt.Errorf("caseexec: update case to escalated: %w", err)
	}

	return casegraph.ExecutionResult{Outcome: "escalated"}, nil
}

func (e *Executor) executeNone(ctx context.Context, proposal *domain.Proposal) (casegraph.ExecutionResult, error) {
	if err := e.store.MarkProposalExecuted(ctx, proposal.ID, ""); err != nil {
		return casegraph.ExecutionResult{}, fmt.Errorf("caseexec: mark proposal executed: %w", err)
	}
	if err := e.store.RecordExecution(ctx, &domain.ExecutionRecord{
		ID:           uuid.NewString(),
		ProposalID:   proposal.ID,
		ExecutionKey: domain.ExecutionKey(proposal.ID),
		Action:       string(proposal.ActionType),
		Channel:      "none",
		Outcome:      domain.ExecutionSucceeded,
		CreatedAt:    domain.Now(),
	}); err != nil {
		return casegraph.ExecutionResult{}, fmt.Errorf("caseexec: record execution: %w", err)
	}
	return casegraph.ExecutionResult{Outcome: "no_action"}, nil
}

func (e *Executor) executeEmail(ctx context.Context, state *casegraph.CaseState, proposal *domain.Proposal, executionKey string) (casegraph.ExecutionResult, error) {
	msg := mail.OutboundMessage{
		CaseID:    state.CaseID,
		To:        state.Case.Agency.Email,
		From:      e.fromAddress,
		Subject:   proposal.Draft.Subject,
		BodyText:  proposal.Draft.BodyText,
		BodyHTML:  proposal.Draft.BodyHTML,
		InReplyTo: latestInboundRFC2822ID(state.Messages),
	}

	delay := e.delay()
	if e.mode == domain.ExecutionDry {
		delay = 0
	}

	jobID, err := e.emailQueue.EnqueueWithID(ctx, executionKey, delay, func(sendCtx context.Context) {
		e.deliver(sendCtx, state.CaseID, proposal.ID, msg)
	})
	if err != nil {
		return casegraph.ExecutionResult{}, fmt.Errorf("caseexec: enqueue email: %w", err)
	}

	if err := e.store.MarkProposalExecuted(ctx, proposal.ID, jobID); err != nil {
		return casegraph.ExecutionResult{}, fmt.Errorf("caseexec: mark proposal executed: %w", err)
	}

	c := *state.Case
	c.Status = domain.CaseAwaitingResponse
	if err := e.store.SaveCase(ctx, &c); err != nil {
		return casegraph.ExecutionResult{}, fmt.Errorf("caseexec: update case to awaiting_response: %w", err)
	}

	if proposal.ActionType == domain.ActionSendFollowup {
		next := domain.Now().Add(delay).AddDate(0, 0, e.followupDelayDays)
		if _, err := e.store.UpsertFollowUpSchedule(ctx, state.CaseID, &next); err != nil {
			return casegraph.ExecutionResult{}, fmt.Errorf("caseexec: upsert follow-up schedule: %w", err)
		}
	}

	return casegraph.ExecutionResult{Outcome: "email_enqueued", EmailJobID: jobID}, nil
}

// deliver is the deferred send the EmailQueue invokes once the
// human-like delay elapses. Failures are recorded as a FAILED
// ExecutionRecord rather than returned. The claim is not released and
// the proposal was already marked EXECUTED when the job was enqueued,
// so a retried run observes already_executed rather than re-sending.
func (e *Executor) deliver(ctx context.Context, caseID, proposalID string, msg mail.OutboundMessage) {
	result, err := e.mailer.Send(ctx, msg)
	if err != nil {
		log.Error().Err(err).Str("case_id", caseID).Str("proposal_id", proposalID).Msg("caseexec: outbound send failed")
		if recErr := e.store.RecordExecution(ctx, &domain.ExecutionRecord{
			ID:           uuid.NewString(),
			ProposalID:   proposalID,
			ExecutionKey: domain.ExecutionKey(proposalID),
			Action:       "send_email",
			Channel:      "email",
			Outcome:      domain.ExecutionFailed,
			Detail:       err.Error(),
			CreatedAt:    domain.Now(),
		}); recErr != nil {
			log.Error().Err(recErr).Msg("caseexec: record failed execution")
		}
		return
	}

	if _, err := mail.RecordSent(ctx, e.store, caseID, msg, result); err != nil {
		log.Error().Err(err).Str("case_id", caseID).Msg("caseexec: record sent message")
	}
	if err := e.store.RecordExecution(ctx, &domain.ExecutionRecord{
		ID:           uuid.NewString(),
		ProposalID:   proposalID,
		ExecutionKey: domain.ExecutionKey(proposalID),
		Action:       "send_email",
		Channel:      "email",
		Outcome:      domain.ExecutionSucceeded,
		CreatedAt:    domain.Now(),
	}); err != nil {
		log.Error().Err(err).Msg("caseexec: record succeeded execution")
	}
}

func latestInboundRFC2822ID(messages []*domain.Message) string {
	var latest *domain.Message
	for _, m := range messages {
		if m.Direction != domain.DirectionInbound {
			continue
		}
		if latest == nil || (m.ReceivedAt != nil && latest.ReceivedAt != nil && m.ReceivedAt.After(*latest.ReceivedAt)) {
			latest = m
		}
	}
	if latest == nil {
		return ""
	}
	return latest.RFC2822ID
}

func escalationUrgency(state *casegraph.CaseState) string {
	for _, f := range state.RiskFlags {
		if f.IsCritical() {
			return "high"
		}
	}
	return "normal"
}

func joinReasoning(reasoning []string) string {
	out := ""
	for i, r := range reasoning {
		if i > 0 {
			out += "; "
		}
		out += r
	}
	return out
}
