package ability

import (
	"github.com/syssam/warden"
	"github.com/syssam/warden/predicate"
)

// Builder accumulates rules in declaration order and builds an Ability.
// Not safe for concurrent use; build once and share the Ability.
type Builder struct {
	rules []Rule
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Can appends a grant for the action on the model and returns a RuleRef
// for scoping it further.
func (b *Builder) Can(action warden.Action, model string) *RuleRef {
	return b.append(Rule{Action: action, Model: model})
}

// Cannot appends a revocation for the action on the model and returns a
// RuleRef for scoping it further.
func (b *Builder) Cannot(action warden.Action, model string) *RuleRef {
	return b.append(Rule{Action: action, Model: model, Inverted: true})
}

func (b *Builder) append(r Rule) *RuleRef {
	b.rules = append(b.rules, r)
	return &RuleRef{b: b, i: len(b.rules) - 1}
}

// Build returns the immutable Ability over the accumulated rules.
func (b *Builder) Build() *Ability {
	return New(b.rules...)
}

// RuleRef scopes the rule it references. Its methods return the ref for
// chaining.
type RuleRef struct {
	b *Builder
	i int
}

// Where restricts the rule to rows matching the predicate.
func (r *RuleRef) Where(p predicate.P) *RuleRef {
	r.b.rules[r.i].When = p
	return r
}

// Fields restricts a column-level rule to the listed columns.
func (r *RuleRef) Fields(columns ...string) *RuleRef {
	r.b.rules[r.i].Fields = columns
	return r
}

// Because records the reason reported when this rule rejects an
// operation.
func (r *RuleRef) Because(reason string) *RuleRef {
	r.b.rules[r.i].Reason = reason
	return r
}
