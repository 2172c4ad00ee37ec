package casegraph

import (
	"context"
	"fmt"

	"github.com/smilemakc/caseorch/internal/domain"
	"github.com/smilemakc/caseorch/internal/llm"
)

// draftResponse synthesizes the subject/body for the proposed action,
// honoring any adjustment instruction from a human ADJUST decision and
// excluding items the case carries as EXEMPT from the draft's ask.
func (g *Graph) draftResponse(ctx context.Context, state *CaseState) (Patch, Outcome, error) {
	excludeItems := make([]string, 0, len(state.Case.ScopeItems))
	for _, item := range state.Case.ScopeItems {
		if item.Status == domain.ScopeExempt {
			excludeItems = append(excludeItems, item.Item)
		}
	}

	draftCtx := llm.DraftContext{
		CaseAgency:       state.Case.Agency.Name,
		JurisdictionCode: state.Case.JurisdictionCode,
		KeyPoints:        analysisKeyPoints(state.Analysis),
		ExtractedFee:     analysisFee(state.Analysis),
	}
	if state.Analysis != nil {
		draftCtx.Classification = state.Analysis.Classification
	}

	opts := llm.DraftOptions{
		AdjustmentInstruction: state.AdjustmentInstruction,
		ExcludeItems:          excludeItems,
		ScopeItems:            state.Case.ScopeItems,
	}

	draft, err := g.provider.GenerateDraft(ctx, state.ProposedAction, draftCtx, opts)
	if err != nil {
		return Patch{}, Outcome{}, fmt.Errorf("generate draft: %w", err)
	}

	return Patch{Draft: draft, NodeTrace: []string{NodeDraftResponse}}, Continue(NodeSafetyCheck), nil
}

func analysisKeyPoints(a *domain.ResponseAnalysis) []string {
	if a == nil {
		return nil
	}
	return a.KeyPoints
}

func analysisFee(a *domain.ResponseAnalysis) *float64 {
	if a == nil {
		return nil
	}
	return a.ExtractedFeeAmount
}
