package casegraph

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/smilemakc/caseorch/internal/domain"
)

// safetyEnv is the flattened environment the safety_check expr
// programs evaluate against. Each boolean is computed in Go by
// scanning the drafted text and case state below; the combination
// logic — whether a raw signal actually constitutes a risk given
// context — is expressed as a compiled expr program per rule, mirroring
// internal/router's single-predicate-via-expr pattern but exercised
// five times here instead of once.
type safetyEnv struct {
	MentionsExemptItem       bool
	AcknowledgementContext   bool
	NegotiatesOrWaivesFee    bool
	FeeAccepted              bool
	ReRequestsDelivered      bool
	AggressiveLanguage       bool
	ActionIsRebuttalOrAppeal bool
	ContainsPII              bool
}

type safetyRule struct {
	name     string
	source   string
	flag     domain.RiskFlag
	critical bool
}

var safetyRules = []safetyRule{
	{
		name:     "requests_exempt_item",
		source:   "MentionsExemptItem && !AcknowledgementContext",
		flag:     domain.RiskRequestsExemptItem,
		critical: true,
	},
	{
		name:     "contradicts_fee_acceptance",
		source:   "NegotiatesOrWaivesFee && FeeAccepted",
		flag:     domain.RiskContradictsFeeAcceptance,
		critical: true,
	},
	{
		name:     "re_requests_delivered",
		source:   "ReRequestsDelivered && !AcknowledgementContext",
		flag:     domain.RiskReRequestsDelivered,
		critical: false,
	},
	{
		name:     "aggressive_language",
		source:   "AggressiveLanguage && !ActionIsRebuttalOrAppeal",
		flag:     domain.RiskAggressiveLanguage,
		critical: false,
	},
	{
		name:     "contains_pii",
		source:   "ContainsPII",
		flag:     domain.RiskContainsPII,
		critical: true,
	},
}

var compiledSafetyPrograms map[string]*vm.Program

func init() {
	compiledSafetyPrograms = make(map[string]*vm.Program, len(safetyRules))
	for _, r := range safetyRules {
		program, err := expr.Compile(r.source, expr.Env(safetyEnv{}), expr.AsBool())
		if err != nil {
			panic(fmt.Sprintf("casegraph: failed to compile safety rule %q: %v", r.name, err))
		}
		compiledSafetyPrograms[r.name] = program
	}
}

// acknowledgementPhrases are a conservative, English-specific signal
// that a mention of an exempt/delivered item is "thanking", not
// "requesting" — the exact line between the two is an open question
// (§9); this heuristic errs toward flagging when uncertain.
var acknowledgementPhrases = []string{
	"thank you for", "thanks for", "we acknowledge", "received your",
	"in response to your", "appreciate your", "noted and closed",
}

var aggressiveTerms = []string{
	"lawsuit", "sue you", "file a complaint", "attorney general",
	"legal action", "violation of law", "court order compelling",
}

// itemSearchPhrases maps a scope item name to the phrase(s) a draft
// would actually use to ask for it, since "item" strings in ScopeItem
// are often shorthand (e.g. "BWC" for "body camera footage").
var itemSearchPhrases = map[string][]string{
	"bwc":                  {"body camera", "bodycam", "bwc"},
	"body worn camera":     {"body camera", "bodycam"},
	"body camera footage":  {"body camera", "bodycam"},
}

func searchPhrasesFor(item string) []string {
	key := strings.ToLower(strings.TrimSpace(item))
	if phrases, ok := itemSearchPhrases[key]; ok {
		return phrases
	}
	return []string{key}
}

var ssnPattern = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)

// safetyCheck validates the drafted response against the case's
// current constraints and scope_items before it can be gated or sent.
// Any critical flag is surfaced on CaseState; the actual
// can-auto-execute override happens in gate_or_execute via
// router.Gate, which already treats any critical RiskFlag as
// forbidding auto-execution.
func (g *Graph) safetyCheck(ctx context.Context, state *CaseState) (Patch, Outcome, error) {
	body := strings.ToLower(state.Draft.BodyText + " " + state.Draft.BodyHTML)

	env := safetyEnv{
		AcknowledgementContext:   containsAny(body, acknowledgementPhrases),
		NegotiatesOrWaivesFee:    state.ProposedAction == domain.ActionNegotiateFee || state.ProposedAction == domain.ActionSendFeeWaiverRequest || state.ProposedAction == domain.ActionDeclineFee,
		FeeAccepted:              state.Case.HasConstraint(domain.ConstraintFeeAccepted),
		AggressiveLanguage:       containsAny(body, aggressiveTerms),
		ActionIsRebuttalOrAppeal: state.ProposedAction == domain.ActionSendRebuttal || state.ProposedAction == domain.ActionSendAppeal,
		ContainsPII:              ssnPattern.MatchString(body),
	}
	for _, item := range state.Case.ScopeItems {
		switch item.Status {
		case domain.ScopeExempt:
			if containsAny(body, searchPhrasesFor(item.Item)) {
				env.MentionsExemptItem = true
			}
		case domain.ScopeDelivered:
			if containsAny(body, searchPhrasesFor(item.Item)) {
				env.ReRequestsDelivered = true
			}
		}
	}

	var flags []domain.RiskFlag
	var warnings []string
	criticalHit := false
	for _, r := range safetyRules {
		out, err := expr.Run(compiledSafetyPrograms[r.name], env)
		if err != nil {
			return Patch{}, Outcome{}, fmt.Errorf("evaluate safety rule %s: %w", r.name, err)
		}
		matched, ok := out.(bool)
		if !ok {
			return Patch{}, Outcome{}, fmt.Errorf("safety rule %s returned non-bool %T", r.name, out)
		}
		if !matched {
			continue
		}
		if r.critical {
			flags = append(flags, r.flag)
			criticalHit = true
		} else {
			warnings = append(warnings, string(r.flag))
		}
	}

	patch := Patch{RiskFlags: flags, Warnings: warnings, NodeTrace: []string{NodeSafetyCheck}}
	if criticalHit {
		patch.CanAutoExecute = boolPtr(false)
		patch.RequiresHuman = boolPtr(true)
		patch.PauseReason = pauseReasonPtr(domain.PauseSensitive)
	}
	return patch, Continue(NodeGateOrExecute), nil
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if n != "" && strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

func pauseReasonPtr(p domain.PauseReason) *domain.PauseReason { return &p }
