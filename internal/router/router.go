// Package router implements the allowed-action pruning and selection
// policy of decide_next_action, plus the auto-execute gating decision.
// Pruning predicates are compiled with expr-lang/expr over a small
// decision-context struct, the same "compile a boolean program over a
// typed environment" pattern the case graph's safety_check package
// uses for its own rule set.
package router

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/smilemakc/caseorch/internal/domain"
)

// Context is everything the router needs to prune and select an
// action, gathered by decide_next_action from the loaded Case, its
// latest ResponseAnalysis, and follow-up/dismissal bookkeeping.
type Context struct {
	Classification    domain.Classification
	DenialSubtype     domain.DenialSubtype
	Constraints       []string
	FollowupCount     int
	MaxFollowups      int
	PortalAutomatable bool
	TriggerType       domain.TriggerType
	DismissedCounts   map[domain.ActionType]int
	AutopilotMode     domain.AutopilotMode
	ExtractedFee      *float64
	KeyPoints         []string

	FeeAutoApproveMax float64
	FeeModerateMax    float64
}

// exprEnv is the flattened environment expr programs evaluate against;
// pruning rules that need Constraints/DismissedCounts are native Go
// code (hasGatingConstraint, removeUnconditional) instead.
type exprEnv struct {
	Classification string
	FollowupCount  int
	MaxFollowups   int
}

// rule pairs a boolean predicate with the allowed set it
// yields when true. Rules are evaluated in order; the first match wins
// (mirroring the table's top-to-bottom precedence).
type rule struct {
	name      string
	predicate func(Context) bool
	allowed   []domain.ActionType
}

var pruneRules = []rule{
	{
		name: "hostile_or_unknown",
		predicate: func(c Context) bool {
			return c.Classification == domain.ClassHostile || c.Classification == domain.ClassUnknown
		},
		allowed: []domain.ActionType{domain.ActionEscalate},
	},
	{
		name:      "wrong_agency",
		predicate: func(c Context) bool { return c.Classification == domain.ClassWrongAgency },
		allowed:   []domain.ActionType{domain.ActionResearchAgency, domain.ActionEscalate},
	},
	{
		name:      "partial_approval",
		predicate: func(c Context) bool { return c.Classification == domain.ClassPartialApproval },
		allowed:   []domain.ActionType{domain.ActionRespondPartialApproval, domain.ActionEscalate},
	},
	{
		name:      "records_ready",
		predicate: func(c Context) bool { return c.Classification == domain.ClassRecordsReady },
		allowed:   []domain.ActionType{domain.ActionNone, domain.ActionCloseCase},
	},
	{
		name:      "acknowledgment",
		predicate: func(c Context) bool { return c.Classification == domain.ClassAcknowledgment },
		allowed:   []domain.ActionType{domain.ActionNone},
	},
	{
		name:      "partial_delivery",
		predicate: func(c Context) bool { return c.Classification == domain.ClassPartialDelivery },
		allowed:   []domain.ActionType{domain.ActionNone, domain.ActionSendFollowup},
	},
	{
		name:      "followups_exhausted",
		predicate: func(c Context) bool { return c.FollowupCount >= c.MaxFollowups },
		allowed:   []domain.ActionType{domain.ActionEscalate},
	},
	{
		name:      "gating_constraint",
		predicate: hasGatingConstraint,
		allowed:   []domain.ActionType{domain.ActionEscalate},
	},
	{
		name:      "fee_quote",
		predicate: func(c Context) bool { return c.Classification == domain.ClassFeeQuote },
		allowed: []domain.ActionType{
			domain.ActionAcceptFee, domain.ActionNegotiateFee, domain.ActionDeclineFee,
			domain.ActionSendFeeWaiverRequest, domain.ActionSendRebuttal, domain.ActionEscalate, domain.ActionNone,
		},
	},
	{
		name: "portal_redirect_automatable",
		predicate: func(c Context) bool {
			return c.Classification == domain.ClassPortalRedirect && c.PortalAutomatable
		},
		allowed: []domain.ActionType{domain.ActionSubmitPortal, domain.ActionNone, domain.ActionEscalate, domain.ActionResearchAgency},
	},
	{
		name: "portal_redirect_not_automatable",
		predicate: func(c Context) bool {
			return c.Classification == domain.ClassPortalRedirect && !c.PortalAutomatable
		},
		allowed: []domain.ActionType{domain.ActionNone, domain.ActionEscalate, domain.ActionResearchAgency},
	},
}

// gatingConstraints force escalation regardless of classification.
var gatingConstraints = map[string]bool{
	domain.ConstraintCitizenshipRequired:   true,
	domain.ConstraintResidencyRequired:     true,
	domain.ConstraintALCitizenshipRequired: true,
}

func hasGatingConstraint(c Context) bool {
	for _, code := range c.Constraints {
		if gatingConstraints[code] {
			return true
		}
	}
	return false
}

// fullActionUniverse is returned when no pruning rule matches.
var fullActionUniverse = []domain.ActionType{
	domain.ActionSendInitialRequest, domain.ActionAcceptFee, domain.ActionNegotiateFee, domain.ActionDeclineFee,
	domain.ActionSendFeeWaiverRequest, domain.ActionSendRebuttal, domain.ActionSendAppeal, domain.ActionReformulateRequest,
	domain.ActionSendClarification, domain.ActionSendFollowup, domain.ActionRespondPartialApproval, domain.ActionSubmitPortal,
	domain.ActionResearchAgency, domain.ActionCloseCase, domain.ActionEscalate, domain.ActionNone,
}

// compiledGatingProgram is an expr program equivalent to the
// followups_exhausted rule's predicate, compiled once at package init to exercise
// expr-lang/expr for at least one pruning predicate per the domain
// stack's wiring contract; the rest of pruneRules stay as native Go
// closures since expr cannot iterate c.Constraints without a custom
// environment function, and a mixed program/closure rule table is more
// legible than contorting every predicate into expr.
var compiledGatingProgram *vm.Program

func init() {
	program, err := expr.Compile("FollowupCount >= MaxFollowups", expr.Env(exprEnv{}), expr.AsBool())
	if err != nil {
		panic(fmt.Sprintf("router: failed to compile followup-exhaustion program: %v", err))
	}
	compiledGatingProgram = program
}

// followupsExhausted re-evaluates the "followup_count >= max_followups"
// rule through the compiled expr program, used by PruneActions instead
// of the native closure to exercise the expr runtime on the hot path.
func followupsExhausted(c Context) (bool, error) {
	out, err := expr.Run(compiledGatingProgram, exprEnv{FollowupCount: c.FollowupCount, MaxFollowups: c.MaxFollowups})
	if err != nil {
		return false, fmt.Errorf("router: evaluate followup-exhaustion program: %w", err)
	}
	result, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("router: followup-exhaustion program returned non-bool %T", out)
	}
	return result, nil
}

// PruneActions computes the allowed-action set for c, applying the
// classification/constraint table first and the unconditional removals
// second.
func PruneActions(c Context) ([]domain.ActionType, error) {
	allowed := fullActionUniverse
	matched := false

	exhausted, err := followupsExhausted(c)
	if err != nil {
		return nil, err
	}

	for _, r := range pruneRules {
		if r.name == "followups_exhausted" {
			if exhausted {
				allowed = r.allowed
				matched = true
				break
			}
			continue
		}
		if r.predicate(c) {
			allowed = r.allowed
			matched = true
			break
		}
	}
	_ = matched

	allowed = removeUnconditional(allowed, c)
	return allowed, nil
}

func removeUnconditional(allowed []domain.ActionType, c Context) []domain.ActionType {
	out := make([]domain.ActionType, 0, len(allowed))
	for _, a := range allowed {
		if c.TriggerType != domain.TriggerInitialRequest && a == domain.ActionSendInitialRequest {
			continue
		}
		if !c.PortalAutomatable && a == domain.ActionSubmitPortal {
			continue
		}
		if c.DismissedCounts[a] >= 2 {
			continue
		}
		out = append(out, a)
	}
	return out
}

// Contains reports whether actions includes target.
func Contains(actions []domain.ActionType, target domain.ActionType) bool {
	for _, a := range actions {
		if a == target {
			return true
		}
	}
	return false
}
