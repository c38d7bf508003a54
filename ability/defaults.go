package ability

import (
	"github.com/syssam/warden"
	"github.com/syssam/warden/predicate"
)

// Defaults extracts the scalar equality constraints of the last
// unconditional-enough grant for the action on the model, as column
// defaults for input prefilling. A grant restricted to rows with
// `userId == 7` yields `{userId: 7}`, letting the create guard attach
// the caller's own id when the input omits it.
//
// Only top-level conjunctions of equality comparisons contribute;
// disjunctions, negations and relation traversals are skipped since
// they do not pin a column to one value.
func (a *Ability) Defaults(action warden.Action, model string) warden.Row {
	for i := len(a.rules) - 1; i >= 0; i-- {
		r := a.rules[i]
		if r.Action != action || r.Model != model || r.Inverted {
			continue
		}
		out := warden.Row{}
		collectEqualities(r.When, out)
		return out
	}
	return warden.Row{}
}

func collectEqualities(p predicate.P, out warden.Row) {
	switch p := p.(type) {
	case *predicate.AndP:
		for _, x := range p.Xs {
			collectEqualities(x, out)
		}
	case *predicate.FieldP:
		if p.Op == predicate.OpEQ && p.Value != nil {
			out[p.Field] = p.Value
		}
	}
}
