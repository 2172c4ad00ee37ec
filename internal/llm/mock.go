package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/smilemakc/caseorch/internal/domain"
)

// MockProvider is a deterministic, network-free Provider used for
// tests and by caseworker when no OpenAI API key is configured.
// Analyses and drafts are supplied
// up-front by the caller, keyed by message body substring; unmatched
// input falls back to a fixed default.
type MockProvider struct {
	Analyses map[string]*domain.ResponseAnalysis
	Drafts   map[domain.ActionType]*domain.Draft
}

// NewMockProvider constructs an empty MockProvider; populate Analyses
// and Drafts before use, or rely on the defaults.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Analyses: make(map[string]*domain.ResponseAnalysis),
		Drafts:   make(map[domain.ActionType]*domain.Draft),
	}
}

func (m *MockProvider) AnalyzeResponse(ctx context.Context, req AnalyzeRequest) (*domain.ResponseAnalysis, error) {
	for substr, analysis := range m.Analyses {
		if substr != "" && strings.Contains(req.MessageBody, substr) {
			return analysis, nil
		}
	}
	return &domain.ResponseAnalysis{
		Classification:  domain.ClassAcknowledgment,
		Confidence:      0.9,
		Sentiment:       domain.SentimentNeutral,
		RequiresAction:  false,
		SuggestedAction: domain.ActionNone,
	}, nil
}

func (m *MockProvider) GenerateDraft(ctx context.Context, action domain.ActionType, draftCtx DraftContext, opts DraftOptions) (*domain.Draft, error) {
	if d, ok := m.Drafts[action]; ok {
		return d, nil
	}
	return &domain.Draft{
		Subject:  fmt.Sprintf("Re: Public Records Request — %s", action),
		BodyText: fmt.Sprintf("Automated draft for action %s against %s.", action, draftCtx.CaseAgency),
		BodyHTML: fmt.Sprintf("<p>Automated draft for action %s against %s.</p>", action, draftCtx.CaseAgency),
	}, nil
}
