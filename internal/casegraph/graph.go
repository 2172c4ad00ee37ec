package casegraph

import (
	"context"
	"fmt"

	"github.com/smilemakc/caseorch/internal/domain"
	"github.com/smilemakc/caseorch/internal/llm"
)

// Node names, used both as map keys for dispatch and as the
// human-readable current_node value persisted on AgentRun/Checkpoint.
const (
	NodeLoadContext       = "load_context"
	NodeClassifyInbound   = "classify_inbound"
	NodeUpdateConstraints = "update_constraints"
	NodeDecideNextAction  = "decide_next_action"
	NodeDraftResponse     = "draft_response"
	NodeSafetyCheck       = "safety_check"
	NodeGateOrExecute     = "gate_or_execute"
	NodeExecuteAction     = "execute_action"
	NodeCommitState       = "commit_state"
)

// ExecutionResult is what the Executor reports back from
// execute_action. internal/caseexec produces these; casegraph only
// consumes the shape.
type ExecutionResult struct {
	Outcome          string
	EmailJobID       string
	CloseRecommended bool
}

// Executor is the execute_action node's collaborator (§4.6). Defined
// here, on the consumer side, so internal/caseexec can depend on
// casegraph's types without casegraph depending back on caseexec,
// queue, or mail.
type Executor interface {
	Execute(ctx context.Context, state *CaseState) (ExecutionResult, error)
}

// Config carries the tunables §6 names for the graph and router.
type Config struct {
	MaxFollowups        int
	FollowupDelayDays    int
	FeeAutoApproveMax   float64
	FeeModerateMax      float64
	MaxIterations       int
	DefaultDeadlineDays int
	ExecutionMode       domain.ExecutionMode
}

// DefaultConfig mirrors §6's documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxFollowups:        2,
		FollowupDelayDays:   7,
		FeeAutoApproveMax:   100,
		FeeModerateMax:      500,
		MaxIterations:       5,
		DefaultDeadlineDays: 10,
		ExecutionMode:       domain.ExecutionLive,
	}
}

// Graph wires the node functions to their collaborators. One Graph is
// compiled per process and shared across every case, per §4.5 step 2 —
// it holds no per-run mutable state itself.
type Graph struct {
	store    domain.Storage
	provider llm.Provider
	executor Executor
	cfg      Config
}

func New(store domain.Storage, provider llm.Provider, executor Executor, cfg Config) *Graph {
	return &Graph{store: store, provider: provider, executor: executor, cfg: cfg}
}

type nodeFunc func(g *Graph, ctx context.Context, state *CaseState) (Patch, Outcome, error)

var nodeTable = map[string]nodeFunc{
	NodeLoadContext:       (*Graph).loadContext,
	NodeClassifyInbound:   (*Graph).classifyInbound,
	NodeUpdateConstraints: (*Graph).updateConstraints,
	NodeDecideNextAction:  (*Graph).decideNextAction,
	NodeDraftResponse:     (*Graph).draftResponse,
	NodeSafetyCheck:       (*Graph).safetyCheck,
	NodeGateOrExecute:     (*Graph).gateOrExecute,
	NodeExecuteAction:     (*Graph).executeAction,
	NodeCommitState:       (*Graph).commitState,
}

// Invoke runs a fresh graph execution from load_context.
func (g *Graph) Invoke(ctx context.Context, runID, caseID string, triggerType domain.TriggerType, triggerMessageID string) (*CaseState, Outcome, error) {
	state := &CaseState{
		RunID:            runID,
		CaseID:           caseID,
		TriggerType:      triggerType,
		TriggerMessageID: triggerMessageID,
	}
	return g.run(ctx, state, NodeLoadContext)
}

// Resume continues a suspended graph from decide_next_action, carrying
// the human decision that was injected. state is the snapshot the
// Checkpointer loaded.
func (g *Graph) Resume(ctx context.Context, state *CaseState, decision domain.HumanDecision) (*CaseState, Outcome, error) {
	resumed := Merge(state, Patch{HumanDecision: &decision})
	return g.run(ctx, resumed, NodeDecideNextAction)
}

// run drives the node loop until it yields Suspend or Done, or the
// global iteration bound is reached. The bound is "enforced by the
// router" (§5): it counts decide_next_action visits, carried in
// state.IterationCount across Resume calls, not raw node hops — a
// single straight-line pass through the graph visits decide_next_action
// exactly once, so counting every hop would trip the bound on an
// ordinary run. What it actually guards against is a case stuck
// re-proposing the same action across repeated human DISMISS/ADJUST
// cycles.
func (g *Graph) run(ctx context.Context, state *CaseState, start string) (*CaseState, Outcome, error) {
	node := start
	for {
		if node == NodeDecideNextAction {
			if state.IterationCount >= g.cfg.MaxIterations {
				state = Merge(state, Patch{
					CloseReason: strPtr("iteration bound reached"),
					NodeTrace:   []string{"iteration_bound_reached"},
				})
				return state, Done(), nil
			}
			state = Merge(state, Patch{IterationDelta: 1})
		}

		fn, ok := nodeTable[node]
		if !ok {
			return state, Outcome{}, fmt.Errorf("casegraph: unknown node %q", node)
		}

		patch, outcome, err := fn(g, ctx, state)
		if err != nil {
			return state, Outcome{}, fmt.Errorf("casegraph: node %s: %w", node, err)
		}
		state = Merge(state, patch)

		switch outcome.Kind {
		case OutcomeDone, OutcomeSuspend:
			return state, outcome, nil
		case OutcomeContinue:
			node = outcome.NextNode
		}
	}
}

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }
