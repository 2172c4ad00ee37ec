package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/smilemakc/caseorch/internal/domain"
)

// OpenAIProvider implements Provider using the OpenAI chat completions
// API with a JSON response format, modeled on the API-key-resolution
// and structured-parsing shape of the teacher's chat-completion
// executor but built on the go-openai client rather than raw HTTP.
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

// NewOpenAIProvider constructs an OpenAIProvider. apiKey must be
// non-empty; model defaults to gpt-4o-mini.
func NewOpenAIProvider(apiKey, model string) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("llm: OPENAI_API_KEY is required for the OpenAI provider")
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIProvider{client: openai.NewClient(apiKey), model: model}, nil
}

type analysisSchema struct {
	Classification     string                `json:"classification"`
	DenialSubtype       string                `json:"denial_subtype,omitempty"`
	Confidence          float64               `json:"confidence"`
	Sentiment           string                `json:"sentiment"`
	ExtractedFeeAmount  *float64              `json:"extracted_fee_amount,omitempty"`
	ConstraintsToAdd    []string              `json:"constraints_to_add,omitempty"`
	ScopeUpdates        []domain.ScopeItem    `json:"scope_updates,omitempty"`
	KeyPoints           []string              `json:"key_points,omitempty"`
	RequiresAction      bool                  `json:"requires_action"`
	SuggestedAction     string                `json:"suggested_action,omitempty"`
}

const analysisSystemPrompt = `You classify a public-records agency's email reply into a single
closed-set JSON object. Respond with ONLY a JSON object matching the
schema: classification, denial_subtype, confidence, sentiment,
extracted_fee_amount, constraints_to_add, scope_updates, key_points,
requires_action, suggested_action. classification must be one of
FEE_QUOTE, DENIAL, ACKNOWLEDGMENT, RECORDS_READY,
CLARIFICATION_REQUEST, PARTIAL_APPROVAL, PARTIAL_DELIVERY,
PORTAL_REDIRECT, WRONG_AGENCY, HOSTILE, NO_RESPONSE, UNKNOWN.`

func (p *OpenAIProvider) AnalyzeResponse(ctx context.Context, req AnalyzeRequest) (*domain.ResponseAnalysis, error) {
	userPrompt := fmt.Sprintf(
		"Agency: %s\nConstraints: %s\nSubject: %s\nBody:\n%s",
		req.CaseAgency, strings.Join(req.Constraints, ", "), req.MessageSubject, req.MessageBody,
	)

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: analysisSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
		Temperature:    0,
	})
	if err != nil {
		return nil, fmt.Errorf("llm: analyze response completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("llm: analyze response returned no choices")
	}

	var parsed analysisSchema
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &parsed); err != nil {
		return nil, fmt.Errorf("llm: analyze response did not return valid JSON: %w", err)
	}

	analysis := &domain.ResponseAnalysis{
		Classification:     domain.Classification(parsed.Classification),
		DenialSubtype:      domain.DenialSubtype(parsed.DenialSubtype),
		Confidence:         parsed.Confidence,
		Sentiment:          domain.Sentiment(parsed.Sentiment),
		ExtractedFeeAmount: parsed.ExtractedFeeAmount,
		ConstraintsToAdd:   parsed.ConstraintsToAdd,
		ScopeUpdates:       parsed.ScopeUpdates,
		KeyPoints:          parsed.KeyPoints,
		RequiresAction:     parsed.RequiresAction,
		SuggestedAction:    domain.ActionType(parsed.SuggestedAction),
	}
	if !validClassification(analysis.Classification) {
		return UnknownAnalysis(""), nil
	}
	return analysis, nil
}

var validClassifications = map[domain.Classification]bool{
	domain.ClassFeeQuote: true, domain.ClassDenial: true, domain.ClassAcknowledgment: true,
	domain.ClassRecordsReady: true, domain.ClassClarificationRequest: true, domain.ClassPartialApproval: true,
	domain.ClassPartialDelivery: true, domain.ClassPortalRedirect: true, domain.ClassWrongAgency: true,
	domain.ClassHostile: true, domain.ClassNoResponse: true, domain.ClassUnknown: true,
}

func validClassification(c domain.Classification) bool { return validClassifications[c] }

type draftSchema struct {
	Subject  string `json:"subject"`
	BodyText string `json:"body_text"`
	BodyHTML string `json:"body_html"`
}

func (p *OpenAIProvider) GenerateDraft(ctx context.Context, action domain.ActionType, draftCtx DraftContext, opts DraftOptions) (*domain.Draft, error) {
	systemPrompt := fmt.Sprintf(
		"You draft a public-records correspondence email for the action %s. "+
			"Respond with ONLY a JSON object: subject, body_text, body_html. "+
			"Never request items in this exclusion list: %s.",
		action, strings.Join(opts.ExcludeItems, ", "),
	)
	userPrompt := fmt.Sprintf("Agency: %s\nJurisdiction: %s\nClassification: %s", draftCtx.CaseAgency, draftCtx.JurisdictionCode, draftCtx.Classification)
	if opts.AdjustmentInstruction != "" {
		userPrompt += "\nAdjustment instruction from reviewer: " + opts.AdjustmentInstruction
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
		Temperature:    0.3,
	})
	if err != nil {
		return nil, fmt.Errorf("llm: generate draft completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("llm: generate draft returned no choices")
	}

	var parsed draftSchema
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &parsed); err != nil {
		return nil, fmt.Errorf("llm: generate draft did not return valid JSON: %w", err)
	}
	return &domain.Draft{Subject: parsed.Subject, BodyText: parsed.BodyText, BodyHTML: parsed.BodyHTML}, nil
}
