package casegraph

import "github.com/smilemakc/caseorch/internal/domain"

// OutcomeKind discriminates the three shapes a node's control-flow
// result can take, replacing the coroutine-style suspend/resume of a
// native generator with an explicit sum type (§9 Design Notes).
type OutcomeKind int

const (
	OutcomeContinue OutcomeKind = iota
	OutcomeSuspend
	OutcomeDone
)

// Outcome is what a node returns alongside its Patch: either "run the
// named node next", "suspend and hand the caller this interrupt
// payload", or "the run is finished".
type Outcome struct {
	Kind     OutcomeKind
	NextNode string
	Payload  *domain.InterruptPayload
}

// Continue advances the graph to nextNode on the next iteration.
func Continue(nextNode string) Outcome {
	return Outcome{Kind: OutcomeContinue, NextNode: nextNode}
}

// Suspend pauses the run; the Supervisor persists the checkpoint and
// returns payload to its caller without advancing further.
func Suspend(payload *domain.InterruptPayload) Outcome {
	return Outcome{Kind: OutcomeSuspend, Payload: payload}
}

// Done ends the run normally.
func Done() Outcome {
	return Outcome{Kind: OutcomeDone}
}
