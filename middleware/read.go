package middleware

import (
	"context"
	"fmt"
	"reflect"

	"github.com/syssam/warden"
	"github.com/syssam/warden/predicate"
	"github.com/syssam/warden/schema"
	"github.com/syssam/warden/store"
)

// Guard builds the authorization middlewares for one schema and store.
type Guard struct {
	reg *schema.Registry
	db  store.Store
}

// NewGuard returns a Guard over the given schema and store. The store
// is the default for requests that do not carry one.
func NewGuard(reg *schema.Registry, db store.Store) *Guard {
	return &Guard{reg: reg, db: db}
}

// requestStore fills in the request's store and args so guards can
// rewrite them without caring how the request was constructed.
func (g *Guard) requestStore(req *Request) store.Store {
	if req.Store == nil {
		req.Store = g.db
	}
	if req.Args == nil {
		req.Args = map[string]any{}
	}
	return req.Store
}

// argsWhere parses the caller's where argument for the model. Absent or
// nil yields a nil predicate.
func (g *Guard) argsWhere(model string, args map[string]any) (predicate.P, error) {
	raw, ok := args["where"].(map[string]any)
	if !ok || len(raw) == 0 {
		return nil, nil
	}
	return predicate.FromMap(g.reg, model, raw)
}

// FindMany conjoins the caller's filter with the read permission
// predicate. A caller holding an unconditional read grant passes
// through untouched.
func (g *Guard) FindMany(model string) Middleware {
	return func(ctx context.Context, req *Request, next Next) (any, error) {
		g.requestStore(req)
		ab := req.Ability
		if ab.Can(warden.ActionRead, model) {
			return next(ctx, req)
		}
		caller, err := g.argsWhere(model, req.Args)
		if err != nil {
			return nil, err
		}
		combined := predicate.Combine(ab.AccessibleBy(warden.ActionRead, model), caller)
		req.Args["where"] = predicate.ToMap(combined)
		return next(ctx, req)
	}
}

// FindOne guards unique-key lookups. The store's unique lookup cannot
// take an arbitrary filter, so the guard lets the unguarded lookup run
// first and then re-reads the row through the permission filter pinned
// to the model's unique field. Disagreement between the two reads
// masks the row as not found instead of raising an error, so callers
// cannot probe for the existence of rows they may not see.
func (g *Guard) FindOne(model string) Middleware {
	return func(ctx context.Context, req *Request, next Next) (any, error) {
		db := g.requestStore(req)
		ab := req.Ability
		if ab.Can(warden.ActionRead, model) {
			return next(ctx, req)
		}
		actual, err := next(ctx, req)
		if err != nil {
			return nil, err
		}
		row, ok := actual.(warden.Row)
		if !ok || row == nil {
			return nil, nil
		}
		caller, err := g.argsWhere(model, req.Args)
		if err != nil {
			return nil, err
		}
		combined := predicate.Combine(ab.AccessibleBy(warden.ActionRead, model), caller)

		m, err := g.reg.Lookup(model)
		if err != nil {
			return nil, err
		}
		identity := g.identityPredicate(m, row)
		coll, err := db.Model(model)
		if err != nil {
			return nil, err
		}
		authorized, err := coll.FindFirst(ctx, predicate.And(combined, identity), nil)
		if err != nil {
			return nil, err
		}
		if authorized == nil {
			return nil, nil
		}
		if unique, ok := m.UniqueField(); ok && !sameValue(authorized[unique], row[unique]) {
			return nil, nil
		}
		// The re-read agreed, so the unguarded result with its
		// already-filtered nested selections can go out as is.
		return row, nil
	}
}

// identityPredicate pins the authorized re-read to the row the
// unguarded lookup found: by unique field when the model declares one,
// otherwise by every scalar column of the row.
func (g *Guard) identityPredicate(m *schema.Model, row warden.Row) predicate.P {
	if unique, ok := m.UniqueField(); ok {
		return predicate.FieldEQ(unique, row[unique])
	}
	var ps []predicate.P
	for _, f := range m.Scalars() {
		if v, ok := row[f.Name]; ok {
			ps = append(ps, predicate.FieldEQ(f.Name, v))
		}
	}
	return predicate.And(ps...)
}

// Relation guards a relation field resolver on model. To-many
// relations get the collection filter treatment for the related model;
// to-one relations are checked row-wise after resolution.
func (g *Guard) Relation(model, field string) (Middleware, error) {
	m, err := g.reg.Lookup(model)
	if err != nil {
		return nil, err
	}
	f, ok := m.Field(field)
	if !ok || f.Kind != schema.KindRelation {
		return nil, warden.NewUnknownFieldError(model, field)
	}
	if f.Cardinality == schema.Many {
		return g.FindMany(f.Ref), nil
	}
	ref := f.Ref
	return func(ctx context.Context, req *Request, next Next) (any, error) {
		g.requestStore(req)
		ab := req.Ability
		res, err := next(ctx, req)
		if err != nil {
			return nil, err
		}
		row, ok := res.(warden.Row)
		if !ok || row == nil {
			return res, nil
		}
		if ab.Can(warden.ActionRead, ref) || ab.CanRow(warden.ActionRead, ref, row) {
			return row, nil
		}
		return nil, nil
	}, nil
}

// sameValue compares identity values loosely enough to survive driver
// round trips that widen int to int64 or return []byte for text.
func sameValue(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if reflect.DeepEqual(a, b) {
		return true
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}
