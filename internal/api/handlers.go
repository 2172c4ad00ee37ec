package api

import (
	"encoding/json"
	"net/http"

	"github.com/smilemakc/caseorch/internal/domain"
	"github.com/smilemakc/caseorch/internal/mail"
	"github.com/smilemakc/caseorch/internal/queue"
)

// decisionResponse is the 202 body every human-decision endpoint
// returns: a handle to the job it enqueued.
type decisionResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

func (s *Server) enqueueDecision(w http.ResponseWriter, r *http.Request, action domain.HumanDecisionAction, instruction string) {
	caseID := r.PathValue("caseId")
	proposalID := r.PathValue("proposalId")

	proposal, err := s.store.GetProposal(r.Context(), proposalID)
	if err != nil {
		s.logger.Error("lookup proposal failed", "error", err, "proposal_id", proposalID)
		writeJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if proposal == nil || proposal.CaseID != caseID {
		writeJSONError(w, http.StatusNotFound, "proposal not found for case")
		return
	}

	jobID, err := s.q.Enqueue(r.Context(), queue.Job{
		Type:   queue.JobResumeFromHuman,
		CaseID: caseID,
		HumanDecision: &domain.HumanDecision{
			Action:      action,
			ProposalID:  proposalID,
			Instruction: instruction,
		},
	})
	if err != nil {
		s.logger.Error("enqueue human decision failed", "error", err, "case_id", caseID, "proposal_id", proposalID)
		writeJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusAccepted, decisionResponse{JobID: jobID, Status: "queued"})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	s.enqueueDecision(w, r, domain.DecisionApprove, "")
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	s.enqueueDecision(w, r, domain.DecisionDismiss, "")
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	s.enqueueDecision(w, r, domain.DecisionWithdraw, "")
}

type adjustRequest struct {
	Instruction string `json:"instruction"`
}

func (s *Server) handleAdjust(w http.ResponseWriter, r *http.Request) {
	var body adjustRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Instruction == "" {
		writeJSONError(w, http.StatusBadRequest, "instruction is required")
		return
	}
	s.enqueueDecision(w, r, domain.DecisionAdjust, body.Instruction)
}

// QuerySnapshot mirrors the original agent-state endpoint's shape:
// the current run, its node, and any pending interrupt.
type QuerySnapshot struct {
	ThreadID       string                  `json:"threadId"`
	State          *domain.Case            `json:"state"`
	Next           string                  `json:"next,omitempty"`
	IsInterrupted  bool                    `json:"isInterrupted"`
	InterruptData  *domain.InterruptPayload `json:"interruptData,omitempty"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	caseID := r.PathValue("caseId")

	c, err := s.store.GetCase(r.Context(), caseID)
	if err != nil {
		s.logger.Error("lookup case failed", "error", err, "case_id", caseID)
		writeJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if c == nil {
		writeJSONError(w, http.StatusNotFound, "case not found")
		return
	}

	snapshot := QuerySnapshot{ThreadID: "case:" + caseID, State: c}

	proposal, err := s.store.GetLatestPendingProposal(r.Context(), caseID)
	if err != nil {
		s.logger.Error("lookup pending proposal failed", "error", err, "case_id", caseID)
		writeJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if proposal != nil && c.Status == domain.CaseNeedsHumanReview {
		snapshot.IsInterrupted = true
		snapshot.Next = "gate_or_execute"
		snapshot.InterruptData = &domain.InterruptPayload{
			Type:        "HUMAN_APPROVAL",
			ProposalID:  proposal.ID,
			ProposalKey: proposal.ProposalKey,
			PauseReason: c.PauseReason,
			Options: []domain.HumanDecisionAction{
				domain.DecisionApprove, domain.DecisionAdjust, domain.DecisionDismiss, domain.DecisionWithdraw,
			},
			Summary: proposal.Draft.Subject,
		}
	}

	writeJSON(w, http.StatusOK, snapshot)
}

// inboundWebhookRequest is the provider-agnostic JSON shape the
// inbound mail webhook accepts.
type inboundWebhookRequest struct {
	From       string   `json:"from"`
	To         string   `json:"to"`
	Subject    string   `json:"subject"`
	Text       string   `json:"text"`
	HTML       string   `json:"html"`
	MessageID  string   `json:"message_id"`
	InReplyTo  string   `json:"in_reply_to"`
	References []string `json:"references"`
}

func (s *Server) handleInboundWebhook(w http.ResponseWriter, r *http.Request) {
	var body inboundWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid webhook payload")
		return
	}

	payload := mail.InboundPayload{
		From:       body.From,
		To:         body.To,
		Subject:    body.Subject,
		Text:       body.Text,
		HTML:       body.HTML,
		MessageID:  body.MessageID,
		InReplyTo:  body.InReplyTo,
		References: body.References,
	}

	result, err := s.matcher.Match(r.Context(), payload)
	if err != nil {
		s.logger.Error("inbound mail matching failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if result == nil {
		// No case could be matched; ack the webhook anyway so the
		// provider does not retry indefinitely.
		writeJSON(w, http.StatusOK, map[string]string{"status": "unmatched"})
		return
	}
	if result.Duplicate {
		writeJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
		return
	}
	if !mail.IsComplexCase(payload) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
		return
	}

	jobID, err := s.q.Enqueue(r.Context(), queue.Job{
		Type:        queue.JobRunOnInbound,
		CaseID:      result.CaseID,
		TriggerType: domain.TriggerInboundMessage,
		Options:     queue.JobOptions{MessageID: result.Message.ID},
	})
	if err != nil {
		s.logger.Error("enqueue run_on_inbound failed", "error", err, "case_id", result.CaseID)
		writeJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusAccepted, decisionResponse{JobID: jobID, Status: "queued"})
}
