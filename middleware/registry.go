package middleware

import (
	"context"

	"github.com/syssam/warden"
	"github.com/syssam/warden/ability"
	"github.com/syssam/warden/schema"
	"github.com/syssam/warden/selection"
	"github.com/syssam/warden/store"
)

// Registry maps every model's operation names to their guarded
// handler chains, the way a GraphQL schema maps fields to resolvers:
// `work` and `works` for a Work model, `createOneWork`, and so on.
type Registry struct {
	db        store.Store
	handlers  map[string]Handler
	models    map[string]string
	relations map[string]map[string]Middleware
}

// NewRegistry builds the operation table for every model in the
// schema. The given middlewares (logging, ability resolution) wrap
// every chain outside the guard.
func NewRegistry(reg *schema.Registry, db store.Store, mws ...Middleware) (*Registry, error) {
	guard := NewGuard(reg, db)
	exec := Executor(reg)
	r := &Registry{
		db:        db,
		handlers:  map[string]Handler{},
		models:    map[string]string{},
		relations: map[string]map[string]Middleware{},
	}
	for _, m := range reg.Models() {
		ops := schema.OperationsFor(m.Name)
		add := func(op string, g Middleware) {
			chain := make([]Middleware, 0, len(mws)+1)
			chain = append(chain, mws...)
			chain = append(chain, g)
			r.handlers[op] = Chain(exec, chain...)
			r.models[op] = m.Name
		}
		add(ops.FindOne, guard.FindOne(m.Name))
		add(ops.FindFirst, guard.FindMany(m.Name))
		add(ops.FindMany, guard.FindMany(m.Name))
		add(ops.Aggregate, guard.FindMany(m.Name))
		add(ops.GroupBy, guard.FindMany(m.Name))
		add(ops.CreateOne, guard.CreateOne(m.Name))
		add(ops.CreateMany, guard.CreateMany(m.Name))
		add(ops.UpdateOne, guard.UpdateOne(m.Name))
		add(ops.UpdateMany, guard.UpdateMany(m.Name))
		add(ops.DeleteOne, guard.DeleteOne(m.Name))
		add(ops.DeleteMany, guard.DeleteMany(m.Name))

		fields := map[string]Middleware{}
		for _, f := range m.Relations() {
			mw, err := guard.Relation(m.Name, f.Name)
			if err != nil {
				return nil, err
			}
			fields[f.Name] = mw
		}
		r.relations[m.Name] = fields
	}
	return r, nil
}

// Lookup resolves an operation name to its handler, model and
// canonical name. Matching is case-insensitive to be forgiving about
// client casing; dispatch always proceeds under the canonical name.
func (r *Registry) Lookup(op string) (Handler, string, string, bool) {
	if h, ok := r.handlers[op]; ok {
		return h, r.models[op], op, true
	}
	for name, h := range r.handlers {
		if schema.EqualFold(name, op) {
			return h, r.models[name], name, true
		}
	}
	return nil, "", "", false
}

// Relation returns the guard middleware for a relation field resolver.
func (r *Registry) Relation(model, field string) (Middleware, bool) {
	mw, ok := r.relations[model][field]
	return mw, ok
}

// Dispatch runs one operation through its guarded chain. The args map
// is cloned first; guard rewrites never leak back to the caller.
func (r *Registry) Dispatch(ctx context.Context, identity string, ab *ability.Ability, op string, args map[string]any, info selection.Tree) (any, error) {
	h, model, canonical, ok := r.Lookup(op)
	if !ok {
		return nil, warden.NewUnsupportedOperationError(op)
	}
	cloned := warden.CloneMap(args)
	if cloned == nil {
		cloned = map[string]any{}
	}
	req := &Request{
		Identity: identity,
		Ability:  ab,
		Model:    model,
		Op:       canonical,
		Args:     cloned,
		Info:     info,
		Store:    r.db,
	}
	return h(ctx, req)
}
