package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/smilemakc/caseorch/internal/domain"
)

// OutboundMessage is what the Executor hands the provider to send.
type OutboundMessage struct {
	CaseID    string
	To        string
	From      string
	Subject   string
	BodyText  string
	BodyHTML  string
	InReplyTo string
}

// SendResult is what a successful send reports back, persisted onto
// the outbound Message row.
type SendResult struct {
	ProviderMessageID string
	RFC2822ID         string
}

// Provider delivers one outbound message using the case's identity.
// Implementations are expected to be idempotent on repeated calls with
// the same execution key at the caller's discretion — Provider itself
// does not see the execution key, only the Executor does.
type Provider interface {
	Send(ctx context.Context, msg OutboundMessage) (*SendResult, error)
}

// HTTPProvider sends mail via a transactional-email vendor's HTTP API.
// No vendor SDK appears anywhere in the example pack, so this talks to
// a generic JSON webhook endpoint over net/http rather than adopting an
// unvetted dependency.
type HTTPProvider struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewHTTPProvider constructs an HTTPProvider posting to endpoint with
// apiKey as a bearer token.
func NewHTTPProvider(endpoint, apiKey string) *HTTPProvider {
	return &HTTPProvider{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

type sendRequest struct {
	To        string `json:"to"`
	From      string `json:"from"`
	Subject   string `json:"subject"`
	Text      string `json:"text"`
	HTML      string `json:"html,omitempty"`
	InReplyTo string `json:"in_reply_to,omitempty"`
	MessageID string `json:"message_id"`
}

type sendResponse struct {
	ProviderMessageID string `json:"provider_message_id"`
}

func (p *HTTPProvider) Send(ctx context.Context, msg OutboundMessage) (*SendResult, error) {
	rfc2822ID := fmt.Sprintf("<%s@caseorch>", uuid.NewString())
	body, err := json.Marshal(sendRequest{
		To:        msg.To,
		From:      msg.From,
		Subject:   msg.Subject,
		Text:      msg.BodyText,
		HTML:      msg.BodyHTML,
		InReplyTo: msg.InReplyTo,
		MessageID: rfc2822ID,
	})
	if err != nil {
		return nil, fmt.Errorf("mail: encode send request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("mail: build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &sendError{err: err, retryable: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, &sendError{err: fmt.Errorf("mail: provider returned %d", resp.StatusCode), retryable: true}
	}
	if resp.StatusCode >= 400 {
		return nil, &sendError{err: fmt.Errorf("mail: provider rejected send with %d", resp.StatusCode), retryable: false}
	}

	var out sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("mail: decode send response: %w", err)
	}
	if out.ProviderMessageID == "" {
		out.ProviderMessageID = rfc2822ID
	}
	return &SendResult{ProviderMessageID: out.ProviderMessageID, RFC2822ID: rfc2822ID}, nil
}

type sendError struct {
	err       error
	retryable bool
}

func (e *sendError) Error() string   { return e.err.Error() }
func (e *sendError) Unwrap() error   { return e.err }
func (e *sendError) Retryable() bool { return e.retryable }

// DryRunProvider never reaches the network; it satisfies
// domain.ExecutionMode == DRY by logging the send as a no-op while
// still returning a well-formed SendResult so the caller's
// bookkeeping (provider_message_id, sent_at) behaves identically to a
// live send.
type DryRunProvider struct{}

// NewDryRunProvider constructs a DryRunProvider.
func NewDryRunProvider() *DryRunProvider { return &DryRunProvider{} }

func (DryRunProvider) Send(ctx context.Context, msg OutboundMessage) (*SendResult, error) {
	log.Info().Str("case_id", msg.CaseID).Str("to", msg.To).Str("subject", msg.Subject).
		Msg("mail: dry run, send skipped")
	rfc2822ID := fmt.Sprintf("<%s@caseorch.dryrun>", uuid.NewString())
	return &SendResult{ProviderMessageID: "dry-run-" + uuid.NewString(), RFC2822ID: rfc2822ID}, nil
}

// RecordSent persists a sent outbound Message and returns it, given a
// successful SendResult.
func RecordSent(ctx context.Context, store domain.Storage, caseID string, msg OutboundMessage, result *SendResult) (*domain.Message, error) {
	now := domain.Now()
	row := &domain.Message{
		ID:                uuid.NewString(),
		CaseID:            caseID,
		Direction:         domain.DirectionOutbound,
		ProviderMessageID: result.ProviderMessageID,
		RFC2822ID:         result.RFC2822ID,
		InReplyTo:         msg.InReplyTo,
		Subject:           msg.Subject,
		BodyText:          msg.BodyText,
		BodyHTML:          msg.BodyHTML,
		SentAt:            &now,
	}
	if err := store.SaveMessage(ctx, row); err != nil {
		return nil, err
	}
	return row, nil
}
