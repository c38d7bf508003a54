// Package ability resolves a caller identity into an immutable set of
// authorization rules and answers permission questions over it: whether
// an action on a model is allowed at all, which rows an action may touch
// (as a predicate), and which columns an insert may set.
//
// Rules are ordered. A later rule overrides an earlier one for the same
// action, model and column scope, so revocations are expressed by adding
// an inverted rule after a grant.
package ability

import (
	"slices"

	"github.com/syssam/warden"
	"github.com/syssam/warden/predicate"
)

// Rule is a single authorization rule: it grants (or, when Inverted,
// revokes) an action on a model, optionally restricted to a column set
// and to rows matching a predicate.
type Rule struct {
	// Action the rule applies to.
	Action warden.Action

	// Model the rule applies to.
	Model string

	// Fields restricts column-level actions to the listed columns. An
	// empty list covers every column.
	Fields []string

	// When restricts the rule to rows matching the predicate. A nil
	// predicate covers every row.
	When predicate.P

	// Reason is the human-readable explanation reported when this rule
	// causes a rejection.
	Reason string

	// Inverted marks a revocation ("cannot") rather than a grant.
	Inverted bool
}

// coversColumn reports whether the rule's field restriction includes the
// column.
func (r Rule) coversColumn(column string) bool {
	return len(r.Fields) == 0 || slices.Contains(r.Fields, column)
}

// Ability is a caller's resolved permission set. Immutable once built;
// safe for concurrent use.
type Ability struct {
	rules []Rule
}

// New returns an Ability over the given ordered rules.
func New(rules ...Rule) *Ability {
	return &Ability{rules: slices.Clone(rules)}
}

// Rules returns a copy of the ordered rule list.
func (a *Ability) Rules() []Rule {
	return slices.Clone(a.rules)
}

// Can reports whether the action is allowed on the model for every row,
// i.e. the caller holds an unconditional grant that no later rule
// revokes. Used by the read guard to skip query rewriting entirely.
func (a *Ability) Can(action warden.Action, model string) bool {
	for i := len(a.rules) - 1; i >= 0; i-- {
		r := a.rules[i]
		if r.Action != action || r.Model != model {
			continue
		}
		if r.Inverted {
			// Any later revocation, conditional or not, forfeits
			// the fast path.
			return false
		}
		if r.When == nil {
			return true
		}
	}
	return false
}

// RelevantRule returns the last rule applicable to the action, model and
// row, resolving relation traversals in the row predicate against rows
// embedded in the row itself. The second return value is false when no
// rule applies.
func (a *Ability) RelevantRule(action warden.Action, model string, row warden.Row) (Rule, bool) {
	for i := len(a.rules) - 1; i >= 0; i-- {
		r := a.rules[i]
		if r.Action != action || r.Model != model {
			continue
		}
		ok, err := predicate.Eval(r.When, row, nil)
		if err != nil || !ok {
			continue
		}
		return r, true
	}
	return Rule{}, false
}

// CanRow reports whether the action is allowed on the specific row.
// Last-applicable-rule wins; no applicable rule denies.
func (a *Ability) CanRow(action warden.Action, model string, row warden.Row) bool {
	r, ok := a.RelevantRule(action, model, row)
	return ok && !r.Inverted
}

// CanColumn reports whether the column-level action (insert) may set the
// given column. Default-deny: without an explicit grant covering the
// column, the answer is false.
func (a *Ability) CanColumn(action warden.Action, model, column string) bool {
	for i := len(a.rules) - 1; i >= 0; i-- {
		r := a.rules[i]
		if r.Action != action || r.Model != model || !r.coversColumn(column) {
			continue
		}
		return !r.Inverted
	}
	return false
}

// ColumnRule returns the last rule applicable to the column-level action
// on the given column, for reason reporting.
func (a *Ability) ColumnRule(action warden.Action, model, column string) (Rule, bool) {
	for i := len(a.rules) - 1; i >= 0; i-- {
		r := a.rules[i]
		if r.Action == action && r.Model == model && r.coversColumn(column) {
			return r, true
		}
	}
	return Rule{}, false
}

// AccessibleBy derives the row predicate describing every row the
// caller may reach with the action on the model: the disjunction of the
// granted conditions, minus the revoked ones. A nil result means no
// restriction; a Nothing predicate means no access at all.
func (a *Ability) AccessibleBy(action warden.Action, model string) predicate.P {
	var (
		grants        []predicate.P
		unconditional bool
		revokes       []predicate.P
	)
	for _, r := range a.rules {
		if r.Action != action || r.Model != model {
			continue
		}
		if r.Inverted {
			if r.When == nil {
				// A blanket revocation wipes every earlier grant.
				grants, unconditional, revokes = nil, false, nil
				continue
			}
			revokes = append(revokes, r.When)
			continue
		}
		if r.When == nil {
			unconditional = true
			continue
		}
		grants = append(grants, r.When)
	}
	var base predicate.P
	switch {
	case unconditional:
		base = nil
	case len(grants) == 0:
		return predicate.Nothing()
	case len(grants) == 1:
		base = grants[0]
	default:
		base = predicate.Or(grants...)
	}
	for _, c := range revokes {
		base = predicate.Combine(predicate.Not(c), base)
	}
	return base
}
