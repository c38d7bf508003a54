package predicate

import (
	"fmt"

	"github.com/syssam/warden"
	"github.com/syssam/warden/schema"
)

// Filter is the store's map-shaped filter language. The predicate tree
// is isomorphic to it; ToMap and FromMap translate losslessly in both
// directions.
type Filter = map[string]any

// ToMap renders the predicate in the store's filter language. A nil
// predicate renders to nil (no filter). The unmatched predicate renders
// to an empty disjunction, which no row satisfies.
func ToMap(p P) Filter {
	switch p := p.(type) {
	case nil:
		return nil
	case *AndP:
		return Filter{"AND": mapAll(p.Xs)}
	case *OrP:
		return Filter{"OR": mapAll(p.Xs)}
	case *NotP:
		return Filter{"NOT": ToMap(p.X)}
	case *FieldP:
		if p.Op == OpIn || p.Op == OpNotIn {
			return Filter{p.Field: map[string]any{string(p.Op): append([]any(nil), p.Values...)}}
		}
		return Filter{p.Field: map[string]any{string(p.Op): p.Value}}
	case *RelP:
		inner := ToMap(p.X)
		if inner == nil {
			inner = Filter{}
		}
		return Filter{p.Relation: map[string]any{string(p.Mode): inner}}
	case nothing:
		return Filter{"OR": []any{}}
	}
	panic(fmt.Sprintf("predicate: unknown predicate type %T", p))
}

func mapAll(xs []P) []any {
	out := make([]any, len(xs))
	for i, x := range xs {
		out[i] = ToMap(x)
	}
	return out
}

// FromMap parses a caller-supplied filter document into a predicate for
// the given model. Field names are resolved against the schema; a key
// that is neither a logical operator nor a declared field fails with an
// UnknownFieldError. Nested relation filters recurse with the related
// model's schema.
func FromMap(reg *schema.Registry, model string, f Filter) (P, error) {
	if len(f) == 0 {
		return nil, nil
	}
	m, err := reg.Lookup(model)
	if err != nil {
		return nil, err
	}
	conjuncts := make([]P, 0, len(f))
	for key, raw := range f {
		switch key {
		case "AND", "OR":
			children, err := fromList(reg, model, key, raw)
			if err != nil {
				return nil, err
			}
			if key == "AND" {
				conjuncts = append(conjuncts, And(children...))
			} else if len(children) == 0 {
				conjuncts = append(conjuncts, Nothing())
			} else {
				conjuncts = append(conjuncts, &OrP{Xs: children})
			}
		case "NOT":
			doc, ok := raw.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("predicate: NOT expects a filter document, got %T", raw)
			}
			child, err := FromMap(reg, model, doc)
			if err != nil {
				return nil, err
			}
			conjuncts = append(conjuncts, Not(child))
		default:
			field, ok := m.Field(key)
			if !ok {
				return nil, warden.NewUnknownFieldError(model, key)
			}
			var p P
			if field.IsRelation() {
				p, err = fromRelation(reg, field, raw)
			} else {
				p, err = fromScalar(key, raw)
			}
			if err != nil {
				return nil, err
			}
			conjuncts = append(conjuncts, p)
		}
	}
	return And(conjuncts...), nil
}

func fromList(reg *schema.Registry, model, op string, raw any) ([]P, error) {
	var docs []any
	switch raw := raw.(type) {
	case []any:
		docs = raw
	case map[string]any:
		docs = []any{raw}
	default:
		return nil, fmt.Errorf("predicate: %s expects a list of filter documents, got %T", op, raw)
	}
	children := make([]P, 0, len(docs))
	for _, d := range docs {
		doc, ok := d.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("predicate: %s expects filter documents, got %T", op, d)
		}
		child, err := FromMap(reg, model, doc)
		if err != nil {
			return nil, err
		}
		if child != nil {
			children = append(children, child)
		}
	}
	return children, nil
}

func fromRelation(reg *schema.Registry, field schema.Field, raw any) (P, error) {
	doc, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("predicate: relation filter %q expects a document, got %T", field.Name, raw)
	}
	conjuncts := make([]P, 0, len(doc))
	for mode, inner := range doc {
		switch RelMode(mode) {
		case ModeIs, ModeIsNot, ModeSome, ModeEvery, ModeNone:
		default:
			return nil, fmt.Errorf("predicate: unknown relation mode %q on %q", mode, field.Name)
		}
		innerDoc, ok := inner.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("predicate: relation filter %q.%s expects a document, got %T", field.Name, mode, inner)
		}
		nested, err := FromMap(reg, field.Ref, innerDoc)
		if err != nil {
			return nil, err
		}
		conjuncts = append(conjuncts, Rel(field.Name, RelMode(mode), nested))
	}
	return And(conjuncts...), nil
}

func fromScalar(field string, raw any) (P, error) {
	doc, ok := raw.(map[string]any)
	if !ok {
		// Shorthand equality: {field: value}.
		return FieldEQ(field, raw), nil
	}
	conjuncts := make([]P, 0, len(doc))
	for op, v := range doc {
		switch FieldOp(op) {
		case OpIn, OpNotIn:
			vs, ok := v.([]any)
			if !ok {
				return nil, fmt.Errorf("predicate: %s.%s expects a list, got %T", field, op, v)
			}
			conjuncts = append(conjuncts, &FieldP{Field: field, Op: FieldOp(op), Values: vs})
		case OpEQ, OpNEQ, OpGT, OpGTE, OpLT, OpLTE, OpContains, OpHasPrefix, OpHasSuffix:
			conjuncts = append(conjuncts, &FieldP{Field: field, Op: FieldOp(op), Value: v})
		default:
			return nil, fmt.Errorf("predicate: unknown operator %q on field %q", op, field)
		}
	}
	return And(conjuncts...), nil
}
