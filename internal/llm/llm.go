// Package llm is the pluggable analyzeResponse/generate<ActionType>
// external interface: a thin client over a language-model provider,
// never a hand-rolled prose generator.
package llm

import (
	"context"

	"github.com/smilemakc/caseorch/internal/domain"
)

// AnalyzeRequest carries the inbound message and its case context for
// classification.
type AnalyzeRequest struct {
	MessageSubject string
	MessageBody    string
	CaseAgency     string
	Constraints    []string
	ScopeItems     []domain.ScopeItem
}

// DraftOptions carries the optional context draft generation honors.
type DraftOptions struct {
	AdjustmentInstruction string
	ExcludeItems          []string
	ScopeItems            []domain.ScopeItem
}

// DraftContext is the case/analysis context a draft is generated
// against.
type DraftContext struct {
	CaseAgency     string
	JurisdictionCode string
	Classification domain.Classification
	KeyPoints      []string
	ExtractedFee   *float64
}

// Provider is the LLM external interface. Both methods MUST return a
// JSON-schema-conforming result or an error; a non-conforming result
// is never passed through — the caller rejects it upstream by
// collapsing classification to UNKNOWN with confidence 0.
type Provider interface {
	AnalyzeResponse(ctx context.Context, req AnalyzeRequest) (*domain.ResponseAnalysis, error)
	GenerateDraft(ctx context.Context, action domain.ActionType, draftCtx DraftContext, opts DraftOptions) (*domain.Draft, error)
}

// UnknownAnalysis is the fallback value used whenever a provider's
// output fails to parse or validate against the analysis schema.
func UnknownAnalysis(messageID string) *domain.ResponseAnalysis {
	return &domain.ResponseAnalysis{
		MessageID:      messageID,
		Classification: domain.ClassUnknown,
		Confidence:     0,
		Sentiment:      domain.SentimentNeutral,
		RequiresAction: true,
		SuggestedAction: domain.ActionEscalate,
	}
}
