package domain

import "time"

// Message is one piece of correspondence, in or out, on a Case.
type Message struct {
	ID                string           `json:"id"`
	CaseID            string           `json:"case_id"`
	Direction         MessageDirection `json:"direction"`
	ProviderMessageID string           `json:"provider_message_id,omitempty"`
	RFC2822ID         string           `json:"rfc2822_id,omitempty"`
	InReplyTo         string           `json:"in_reply_to,omitempty"`
	References        []string         `json:"references,omitempty"`
	Subject           string           `json:"subject"`
	BodyText          string           `json:"body_text"`
	BodyHTML          string           `json:"body_html,omitempty"`
	MessageType       string           `json:"message_type,omitempty"`
	SentAt            *time.Time       `json:"sent_at,omitempty"`
	ReceivedAt        *time.Time       `json:"received_at,omitempty"`
	ProcessedAt       *time.Time       `json:"processed_at,omitempty"`
	ProcessedRunID    string           `json:"processed_run_id,omitempty"`
	LastError         string           `json:"last_error,omitempty"`
}

// ResponseAnalysis is the structured LLM classification of one inbound
// Message. It is derived, never authoritative — the Case carries the
// merged constraints/scope after update_constraints runs.
type ResponseAnalysis struct {
	MessageID          string          `json:"message_id"`
	Classification      Classification  `json:"classification"`
	DenialSubtype       DenialSubtype   `json:"denial_subtype,omitempty"`
	Confidence          float64         `json:"confidence"`
	Sentiment           Sentiment       `json:"sentiment"`
	ExtractedFeeAmount  *float64        `json:"extracted_fee_amount,omitempty"`
	ExtractedDeadline   *time.Time      `json:"extracted_deadline,omitempty"`
	ConstraintsToAdd    []string        `json:"constraints_to_add,omitempty"`
	ScopeUpdates        []ScopeItem     `json:"scope_updates,omitempty"`
	KeyPoints           []string        `json:"key_points,omitempty"`
	RequiresAction      bool            `json:"requires_action"`
	SuggestedAction     ActionType      `json:"suggested_action,omitempty"`
}
