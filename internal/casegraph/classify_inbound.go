package casegraph

import (
	"context"
	"fmt"

	"github.com/smilemakc/caseorch/internal/domain"
	"github.com/smilemakc/caseorch/internal/llm"
)

// classifyInbound produces a ResponseAnalysis for INBOUND_MESSAGE
// triggers by calling the LLM interface and persisting the result.
// Scheduled follow-up triggers short-circuit to a synthetic
// NO_RESPONSE analysis without paying for a call. Triggers that carry
// no message of their own (INITIAL_REQUEST, MANUAL_REVIEW) leave the
// analysis untouched — decide_next_action special-cases them.
func (g *Graph) classifyInbound(ctx context.Context, state *CaseState) (Patch, Outcome, error) {
	switch state.TriggerType {
	case domain.TriggerScheduledFollowup:
		analysis := &domain.ResponseAnalysis{
			Classification: domain.ClassNoResponse,
			Confidence:     1.0,
			Sentiment:      domain.SentimentNeutral,
		}
		return Patch{Analysis: analysis, NodeTrace: []string{NodeClassifyInbound}}, Continue(NodeUpdateConstraints), nil

	case domain.TriggerInboundMessage:
		msg, err := g.resolveTriggerMessage(ctx, state)
		if err != nil {
			return Patch{}, Outcome{}, err
		}
		if msg == nil {
			return Patch{}, Outcome{}, fmt.Errorf("inbound trigger message %s not found", state.TriggerMessageID)
		}

		req := llm.AnalyzeRequest{
			MessageSubject: msg.Subject,
			MessageBody:    msg.BodyText,
			CaseAgency:     state.Case.Agency.Name,
			Constraints:    state.Case.Constraints,
			ScopeItems:     state.Case.ScopeItems,
		}
		analysis, err := g.provider.AnalyzeResponse(ctx, req)
		if err != nil {
			// ValidationError / provider failure: collapse to UNKNOWN and
			// route to ESCALATE rather than failing the run (§7).
			analysis = llm.UnknownAnalysis(msg.ID)
		}
		analysis.MessageID = msg.ID

		if err := g.store.SaveAnalysis(ctx, analysis); err != nil {
			return Patch{}, Outcome{}, fmt.Errorf("persist analysis: %w", err)
		}
		if err := g.store.MarkMessageProcessed(ctx, msg.ID, state.RunID); err != nil {
			return Patch{}, Outcome{}, fmt.Errorf("mark message processed: %w", err)
		}

		return Patch{Analysis: analysis, NodeTrace: []string{NodeClassifyInbound}}, Continue(NodeUpdateConstraints), nil

	default:
		return Patch{NodeTrace: []string{NodeClassifyInbound}}, Continue(NodeUpdateConstraints), nil
	}
}

func (g *Graph) resolveTriggerMessage(ctx context.Context, state *CaseState) (*domain.Message, error) {
	for _, m := range state.Messages {
		if m.ID == state.TriggerMessageID {
			return m, nil
		}
	}
	return g.store.GetMessage(ctx, state.TriggerMessageID)
}
