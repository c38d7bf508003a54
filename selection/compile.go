package selection

import (
	"encoding/json"

	"github.com/syssam/warden"
	"github.com/syssam/warden/ability"
	"github.com/syssam/warden/predicate"
	"github.com/syssam/warden/schema"
)

// Query is a compiled read for one nesting level. Where already carries
// the permission predicate for its model conjoined with the caller's
// filter argument; Select mirrors the requested fields.
type Query struct {
	Where  predicate.P
	Select Projection
	Take   *int
	Skip   *int
	Cursor map[string]any
}

// Projection maps requested field names to how they are fetched: a leaf
// marker for scalars and opaque fields, or a nested Query for known
// relations.
type Projection map[string]Entry

// Entry is one projected field.
type Entry struct {
	// Leaf marks a field projected verbatim.
	Leaf bool

	// Query is the nested read of a relation field.
	Query *Query
}

// Compile walks the requested selection for the given model and builds
// the authorization-safe read. args are the operation's own arguments
// (where, pagination); tree is the selection below the operation field.
// Every nested relation's filter is the combination of that relation's
// read permission predicate and the caller's per-field argument, so no
// nesting level can observe rows its own permission predicate excludes.
func Compile(ab *ability.Ability, reg *schema.Registry, model string, args map[string]any, tree Tree) (*Query, error) {
	m, err := reg.Lookup(model)
	if err != nil {
		return nil, err
	}
	q, err := compileArgs(ab, reg, model, args)
	if err != nil {
		return nil, err
	}
	q.Select = make(Projection, len(tree))
	for _, node := range tree {
		if len(node.Children) == 0 {
			// Scalars, and fields unknown to the schema such as
			// computed or JSON columns, are projected verbatim.
			q.Select[node.Name] = Entry{Leaf: true}
			continue
		}
		field, ok := m.Field(node.Name)
		if !ok || !field.IsRelation() {
			// A selection set under a non-relation is opaque to the
			// schema; project the field verbatim without recursing.
			q.Select[node.Name] = Entry{Leaf: true}
			continue
		}
		sub, err := Compile(ab, reg, field.Ref, node.Args, node.Children)
		if err != nil {
			return nil, err
		}
		q.Select[node.Name] = Entry{Query: sub}
	}
	return q, nil
}

func compileArgs(ab *ability.Ability, reg *schema.Registry, model string, args map[string]any) (*Query, error) {
	q := &Query{}
	var caller predicate.P
	if args != nil {
		if doc, ok := args["where"].(map[string]any); ok {
			p, err := predicate.FromMap(reg, model, doc)
			if err != nil {
				return nil, err
			}
			caller = p
		}
		q.Take = intArg(args, "take")
		q.Skip = intArg(args, "skip")
		if c, ok := args["cursor"].(map[string]any); ok {
			q.Cursor = c
		}
	}
	q.Where = predicate.Combine(ab.AccessibleBy(warden.ActionRead, model), caller)
	return q, nil
}

func intArg(args map[string]any, name string) *int {
	v, ok := args[name]
	if !ok {
		return nil
	}
	switch v := v.(type) {
	case int:
		return &v
	case int64:
		n := int(v)
		return &n
	case float64:
		n := int(v)
		return &n
	case json.Number:
		if i, err := v.Int64(); err == nil {
			n := int(i)
			return &n
		}
	}
	return nil
}
