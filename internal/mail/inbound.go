// Package mail implements the inbound webhook matching contract and
// the outbound provider adapter the Executor's email-send path uses.
package mail

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/smilemakc/caseorch/internal/domain"
)

// InboundPayload is the provider-agnostic shape a mail webhook
// receives, regardless of which inbound-parsing vendor posts it.
type InboundPayload struct {
	From      string
	To        string
	Subject   string
	Text      string
	HTML      string
	MessageID string
	InReplyTo string
	References []string
}

// MatchResult is what inbound matching resolves to.
type MatchResult struct {
	CaseID  string
	Message *domain.Message
	// Duplicate is true when provider_message_id was already seen; the
	// caller must treat this as a no-op per the webhook contract.
	Duplicate bool
}

// Matcher resolves inbound mail to an existing Case and persists the
// resulting Message, following the headers-first / agency-email-fallback
// contract.
type Matcher struct {
	store domain.Storage
}

// NewMatcher constructs a Matcher.
func NewMatcher(store domain.Storage) *Matcher {
	return &Matcher{store: store}
}

// Match resolves payload to a Case, creates the inbound Message, and
// reports whether this was a duplicate delivery. Returns a nil
// *MatchResult (with no error) if no case could be matched at all.
func (m *Matcher) Match(ctx context.Context, payload InboundPayload) (*MatchResult, error) {
	if payload.MessageID != "" {
		if existing, err := m.store.GetMessageByProviderID(ctx, payload.MessageID); err != nil {
			return nil, err
		} else if existing != nil {
			return &MatchResult{CaseID: existing.CaseID, Message: existing, Duplicate: true}, nil
		}
	}

	caseID, err := m.resolveCaseID(ctx, payload)
	if err != nil {
		return nil, err
	}
	if caseID == "" {
		return nil, nil
	}

	now := domain.Now()
	msg := &domain.Message{
		ID:                newMessageID(),
		CaseID:            caseID,
		Direction:         domain.DirectionInbound,
		ProviderMessageID: payload.MessageID,
		InReplyTo:         payload.InReplyTo,
		References:        payload.References,
		Subject:           payload.Subject,
		BodyText:          payload.Text,
		BodyHTML:          payload.HTML,
		ReceivedAt:        &now,
	}
	if err := m.store.SaveMessage(ctx, msg); err != nil {
		return nil, err
	}
	return &MatchResult{CaseID: caseID, Message: msg}, nil
}

// resolveCaseID tries In-Reply-To/References against our own sent
// Message-IDs first, falling back to the agency's registered email.
func (m *Matcher) resolveCaseID(ctx context.Context, payload InboundPayload) (string, error) {
	candidates := make([]string, 0, len(payload.References)+1)
	if payload.InReplyTo != "" {
		candidates = append(candidates, payload.InReplyTo)
	}
	candidates = append(candidates, payload.References...)

	for _, rfc2822ID := range candidates {
		prior, err := m.store.GetMessageByRFC2822ID(ctx, rfc2822ID)
		if err != nil {
			return "", err
		}
		if prior != nil {
			return prior.CaseID, nil
		}
	}

	agencyEmail := extractAddress(payload.From)
	if agencyEmail == "" {
		return "", nil
	}
	c, err := m.store.FindCaseByAgencyEmail(ctx, agencyEmail)
	if err != nil {
		return "", err
	}
	if c == nil {
		return "", nil
	}
	return c.ID, nil
}

func extractAddress(from string) string {
	from = strings.TrimSpace(from)
	if i := strings.LastIndex(from, "<"); i >= 0 {
		if j := strings.Index(from[i:], ">"); j >= 0 {
			return strings.ToLower(strings.TrimSpace(from[i+1 : i+j]))
		}
	}
	return strings.ToLower(from)
}

// minTriageLength is the body length below which a message is too
// thin to justify a full graph run.
const minTriageLength = 12

// autoAckPhrases are boilerplate auto-responder markers that never
// warrant a graph run on their own.
var autoAckPhrases = []string{
	"out of office",
	"automatic reply",
	"auto-reply",
	"delivery status notification",
	"undeliverable",
}

// IsComplexCase is the pre-graph triage heuristic: a cheap, confidence-free
// judgment of whether an inbound message is worth the cost of a full case
// graph run, versus a no-op auto-acknowledgement. It never substitutes for
// classify_inbound's LLM-backed analysis — it only gates whether that
// analysis runs at all.
func IsComplexCase(payload InboundPayload) bool {
	body := strings.ToLower(strings.TrimSpace(payload.Text))
	if len(body) < minTriageLength {
		return false
	}
	for _, phrase := range autoAckPhrases {
		if strings.Contains(body, phrase) {
			return false
		}
	}
	return true
}

func newMessageID() string { return uuid.NewString() }
