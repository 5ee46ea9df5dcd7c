// Package verdict turns raw model scores and free-text comments into the
// final tri-state verdict. The decision is layered in a fixed precedence:
// score threshold, then text refinement (whitelists and keyword proximity
// rules), then the forced-recheck override, which always wins.
package verdict

import (
	"strings"

	"github.com/menta2k/cleaning-check/pkg/types"
)

// DefaultConfTh is the score threshold used when neither the property
// thresholds nor the tenant defaults configure one.
const DefaultConfTh = 0.6

// Engine applies the layered decision procedure. It is a pure function over
// its inputs; re-running with the same arguments always yields the same
// verdict.
type Engine struct {
	rules *Rules
}

// NewEngine creates an Engine over compiled Rules.
func NewEngine(rules *Rules) *Engine {
	return &Engine{rules: rules}
}

// Options carries the thresholds and whitelists for one decision.
type Options struct {
	Thresholds types.Thresholds
	Defaults   types.Defaults
}

// ConfTh resolves the effective score threshold: tenant defaults first, then
// property thresholds, then DefaultConfTh.
func (o Options) ConfTh() float64 {
	if o.Defaults.ConfTh > 0 {
		return o.Defaults.ConfTh
	}
	if o.Thresholds.ConfTh > 0 {
		return o.Thresholds.ConfTh
	}
	return DefaultConfTh
}

// okWhitelist combines the global whitelist (threshold list folded in) with
// the user-edited newline blocks.
func (o Options) okWhitelist() []string {
	var out []string
	out = append(out, o.Thresholds.OKWhitelist...)
	out = append(out, SplitLines(o.Defaults.OKWhitelistGlobal)...)
	out = append(out, SplitLines(o.Defaults.OKWhitelist)...)
	return out
}

// Decide runs the full three-stage procedure over one image's scores and
// comments.
func (e *Engine) Decide(scores map[string]float64, comments []string, opts Options) types.Verdict {
	th := opts.ConfTh()
	v := types.VerdictOK
	for _, s := range scores {
		if s >= th {
			v = types.VerdictNG
			break
		}
	}
	v = e.RefineByText(v, comments, opts.okWhitelist())
	return ForceRecheckByText(v, comments, opts.Thresholds.RecheckWhitelist)
}

// RefineByText applies the OK-whitelist and keyword proximity rules to the
// joined comment text. Whitelist hits and negated or positively-qualified
// keywords force ok; a bare keyword forces ng; otherwise the verdict passes
// through unchanged.
func (e *Engine) RefineByText(v types.Verdict, comments []string, okWhitelist []string) types.Verdict {
	txt := strings.Join(comments, " ")
	for _, w := range okWhitelist {
		if w != "" && strings.Contains(txt, w) {
			return types.VerdictOK
		}
	}
	if e.rules.negAfter.MatchString(txt) || e.rules.negBefore.MatchString(txt) || e.rules.posNear.MatchString(txt) {
		return types.VerdictOK
	}
	if e.rules.posAny.MatchString(txt) {
		return types.VerdictOK
	}
	if e.rules.anyKW.MatchString(txt) {
		return types.VerdictNG
	}
	return v
}

// ForceRecheckByText forces unknown when any recheck-whitelist literal occurs
// in the joined comment text. This override is unconditional and runs last.
func ForceRecheckByText(v types.Verdict, comments []string, recheckWords []string) types.Verdict {
	txt := strings.Join(comments, " ")
	for _, w := range recheckWords {
		if w != "" && strings.Contains(txt, w) {
			return types.VerdictUnknown
		}
	}
	return v
}
