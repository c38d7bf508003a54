// Package predicate defines the condition tree used for row-level
// authorization and caller-supplied filtering, and the operations the
// engine performs on it: conjunctive combination, relation extraction,
// translation to and from the store's filter language, and in-memory
// evaluation against rows.
//
// The tree is an explicit tagged union. Operators and field names never
// share a namespace, so walking a predicate requires no guessing about
// which keys are operators.
package predicate

import (
	"fmt"
	"sort"
	"strings"
)

// P is a row predicate. The nil P means "no filter": every row matches.
type P interface {
	fmt.Stringer
	sealed()
}

// FieldOp enumerates the comparison operators on scalar fields.
type FieldOp string

// Field comparison operators.
const (
	OpEQ        FieldOp = "equals"
	OpNEQ       FieldOp = "not"
	OpGT        FieldOp = "gt"
	OpGTE       FieldOp = "gte"
	OpLT        FieldOp = "lt"
	OpLTE       FieldOp = "lte"
	OpIn        FieldOp = "in"
	OpNotIn     FieldOp = "notIn"
	OpContains  FieldOp = "contains"
	OpHasPrefix FieldOp = "startsWith"
	OpHasSuffix FieldOp = "endsWith"
)

// RelMode enumerates the relation traversal modes.
type RelMode string

// Relation traversal modes. Is/IsNot apply to to-one relations,
// Some/Every/None to to-many relations.
const (
	ModeIs    RelMode = "is"
	ModeIsNot RelMode = "isNot"
	ModeSome  RelMode = "some"
	ModeEvery RelMode = "every"
	ModeNone  RelMode = "none"
)

type (
	// AndP is the conjunction of its children.
	AndP struct{ Xs []P }

	// OrP is the disjunction of its children.
	OrP struct{ Xs []P }

	// NotP negates its child.
	NotP struct{ X P }

	// FieldP compares a scalar field against a value (or value list for
	// the In/NotIn operators).
	FieldP struct {
		Field  string
		Op     FieldOp
		Value  any
		Values []any
	}

	// RelP traverses a relation field and applies a nested predicate to
	// the related rows under the given mode.
	RelP struct {
		Relation string
		Mode     RelMode
		X        P
	}

	// nothing matches no row. It is the permission predicate of a
	// caller with no grant at all.
	nothing struct{}
)

func (*AndP) sealed()   {}
func (*OrP) sealed()    {}
func (*NotP) sealed()   {}
func (*FieldP) sealed() {}
func (*RelP) sealed()   {}
func (nothing) sealed() {}

// And returns the conjunction of the given predicates. Nil children are
// dropped; a single survivor is returned unwrapped.
func And(xs ...P) P {
	return compose(xs, func(kept []P) P { return &AndP{Xs: kept} })
}

// Or returns the disjunction of the given predicates. Nil children are
// dropped; a single survivor is returned unwrapped.
func Or(xs ...P) P {
	return compose(xs, func(kept []P) P { return &OrP{Xs: kept} })
}

func compose(xs []P, wrap func([]P) P) P {
	kept := make([]P, 0, len(xs))
	for _, x := range xs {
		if x != nil {
			kept = append(kept, x)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	}
	return wrap(kept)
}

// Not negates the predicate.
func Not(x P) P {
	if x == nil {
		return Nothing()
	}
	return &NotP{X: x}
}

// Nothing returns the predicate matched by no row.
func Nothing() P { return nothing{} }

// IsNothing reports whether p can never match a row.
func IsNothing(p P) bool {
	_, ok := p.(nothing)
	return ok
}

// FieldEQ returns a field equality predicate.
func FieldEQ(field string, v any) P { return &FieldP{Field: field, Op: OpEQ, Value: v} }

// FieldNEQ returns a field inequality predicate.
func FieldNEQ(field string, v any) P { return &FieldP{Field: field, Op: OpNEQ, Value: v} }

// FieldGT returns a greater-than predicate.
func FieldGT(field string, v any) P { return &FieldP{Field: field, Op: OpGT, Value: v} }

// FieldGTE returns a greater-or-equal predicate.
func FieldGTE(field string, v any) P { return &FieldP{Field: field, Op: OpGTE, Value: v} }

// FieldLT returns a less-than predicate.
func FieldLT(field string, v any) P { return &FieldP{Field: field, Op: OpLT, Value: v} }

// FieldLTE returns a less-or-equal predicate.
func FieldLTE(field string, v any) P { return &FieldP{Field: field, Op: OpLTE, Value: v} }

// FieldIn returns a containment predicate.
func FieldIn(field string, vs ...any) P { return &FieldP{Field: field, Op: OpIn, Values: vs} }

// FieldNotIn returns a negated containment predicate.
func FieldNotIn(field string, vs ...any) P { return &FieldP{Field: field, Op: OpNotIn, Values: vs} }

// FieldContains returns a substring predicate.
func FieldContains(field string, v string) P {
	return &FieldP{Field: field, Op: OpContains, Value: v}
}

// FieldHasPrefix returns a prefix predicate.
func FieldHasPrefix(field string, v string) P {
	return &FieldP{Field: field, Op: OpHasPrefix, Value: v}
}

// FieldHasSuffix returns a suffix predicate.
func FieldHasSuffix(field string, v string) P {
	return &FieldP{Field: field, Op: OpHasSuffix, Value: v}
}

// Rel returns a relation traversal predicate.
func Rel(relation string, mode RelMode, x P) P {
	return &RelP{Relation: relation, Mode: mode, X: x}
}

// Is traverses a to-one relation whose row matches x.
func Is(relation string, x P) P { return Rel(relation, ModeIs, x) }

// IsNot traverses a to-one relation whose row does not match x.
func IsNot(relation string, x P) P { return Rel(relation, ModeIsNot, x) }

// Some traverses a to-many relation with at least one row matching x.
func Some(relation string, x P) P { return Rel(relation, ModeSome, x) }

// Every traverses a to-many relation where all rows match x.
func Every(relation string, x P) P { return Rel(relation, ModeEvery, x) }

// None traverses a to-many relation with no row matching x.
func None(relation string, x P) P { return Rel(relation, ModeNone, x) }

// String renders the conjunction.
func (p *AndP) String() string { return join(p.Xs, " && ") }

// String renders the disjunction.
func (p *OrP) String() string { return "(" + join(p.Xs, " || ") + ")" }

// String renders the negation.
func (p *NotP) String() string { return "!(" + p.X.String() + ")" }

// String renders the field comparison.
func (p *FieldP) String() string {
	switch p.Op {
	case OpEQ:
		return fmt.Sprintf("%s == %s", p.Field, lit(p.Value))
	case OpNEQ:
		return fmt.Sprintf("%s != %s", p.Field, lit(p.Value))
	case OpGT:
		return fmt.Sprintf("%s > %s", p.Field, lit(p.Value))
	case OpGTE:
		return fmt.Sprintf("%s >= %s", p.Field, lit(p.Value))
	case OpLT:
		return fmt.Sprintf("%s < %s", p.Field, lit(p.Value))
	case OpLTE:
		return fmt.Sprintf("%s <= %s", p.Field, lit(p.Value))
	case OpIn:
		return fmt.Sprintf("%s in %s", p.Field, lits(p.Values))
	case OpNotIn:
		return fmt.Sprintf("%s not in %s", p.Field, lits(p.Values))
	case OpContains:
		return fmt.Sprintf("contains(%s, %s)", p.Field, lit(p.Value))
	case OpHasPrefix:
		return fmt.Sprintf("has_prefix(%s, %s)", p.Field, lit(p.Value))
	case OpHasSuffix:
		return fmt.Sprintf("has_suffix(%s, %s)", p.Field, lit(p.Value))
	}
	return fmt.Sprintf("%s %s %s", p.Field, p.Op, lit(p.Value))
}

// String renders the relation traversal.
func (p *RelP) String() string {
	inner := ""
	if p.X != nil {
		inner = p.X.String()
	}
	return fmt.Sprintf("%s(%s, %s)", p.Mode, p.Relation, inner)
}

// String renders the unmatched predicate.
func (nothing) String() string { return "nothing" }

func join(xs []P, sep string) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = x.String()
	}
	return strings.Join(parts, sep)
}

func lit(v any) string {
	switch v := v.(type) {
	case string:
		return fmt.Sprintf("%q", v)
	case nil:
		return "nil"
	default:
		return fmt.Sprintf("%v", v)
	}
}

func lits(vs []any) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = lit(v)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// Equal reports whether two predicates are structurally equivalent. It
// is used to keep repeated combination idempotent.
func Equal(a, b P) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.String() == b.String()
}

// Include is the nested relation tree a predicate traverses. Keys are
// relation field names; each child is the include tree of the nested
// condition.
type Include map[string]Include

// Relations returns the include tree of all relation traversals in p.
// Loading these relations alongside a row makes the predicate evaluable
// against the row without further store access.
func Relations(p P) Include {
	inc := Include{}
	collectRelations(p, inc)
	if len(inc) == 0 {
		return nil
	}
	return inc
}

func collectRelations(p P, into Include) {
	switch p := p.(type) {
	case nil:
	case *AndP:
		for _, x := range p.Xs {
			collectRelations(x, into)
		}
	case *OrP:
		for _, x := range p.Xs {
			collectRelations(x, into)
		}
	case *NotP:
		collectRelations(p.X, into)
	case *RelP:
		child, ok := into[p.Relation]
		if !ok {
			child = Include{}
			into[p.Relation] = child
		}
		collectRelations(p.X, child)
	}
}

// Keys returns the relation names of the include tree in sorted order.
func (inc Include) Keys() []string {
	keys := make([]string, 0, len(inc))
	for k := range inc {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
