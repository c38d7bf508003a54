package middleware

import (
	"context"
	"fmt"

	"github.com/syssam/warden"
	"github.com/syssam/warden/ability"
	"github.com/syssam/warden/predicate"
	"github.com/syssam/warden/schema"
	"github.com/syssam/warden/store"
)

// Write guards run a fixed sequence per mutation: authorize the input,
// then precheck, mutate and postcheck inside one serializable
// transaction. The transaction aborts on any guard failure, so a
// rejected mutation leaves no trace.

// CreateOne authorizes args.data recursively, attaches the creating
// rule's equality defaults to missing columns, and verifies after the
// insert that exactly one more row is visible under the caller's
// create predicate. A forged foreign key pointing at another
// principal's record fails that count and rolls back.
func (g *Guard) CreateOne(model string) Middleware {
	return func(ctx context.Context, req *Request, next Next) (any, error) {
		db := g.requestStore(req)
		ab := req.Ability

		data, _ := req.Args["data"].(map[string]any)
		merged, synth := withDefaults(ab, model, data)
		req.Args["data"] = merged

		reasons, err := g.checkModelInput(ctx, db, ab, model, merged, synth)
		if err != nil {
			return nil, err
		}
		if len(reasons) > 0 {
			return nil, warden.NewForbiddenError("create", model, reasons...)
		}

		perm := ab.AccessibleBy(warden.ActionCreate, model)
		var result any
		err = db.InTx(ctx, store.IsolationSerializable, func(tx store.Store) error {
			coll, err := tx.Model(model)
			if err != nil {
				return err
			}
			before, err := coll.Count(ctx, perm)
			if err != nil {
				return err
			}
			res, err := next(ctx, req.withStore(tx))
			if err != nil {
				return err
			}
			after, err := coll.Count(ctx, perm)
			if err != nil {
				return err
			}
			if after != before+1 {
				return warden.NewForbiddenError("create", model)
			}
			result = res
			return nil
		})
		if err != nil {
			return nil, err
		}
		return result, nil
	}
}

// CreateMany is CreateOne over a list: every element must pass input
// authorization, and the post-count must grow by exactly the number of
// elements.
func (g *Guard) CreateMany(model string) Middleware {
	return func(ctx context.Context, req *Request, next Next) (any, error) {
		db := g.requestStore(req)
		ab := req.Ability

		list, _ := req.Args["data"].([]any)
		var reasons []string
		merged := make([]any, 0, len(list))
		for _, item := range list {
			data, _ := item.(map[string]any)
			one, synth := withDefaults(ab, model, data)
			merged = append(merged, one)
			rs, err := g.checkModelInput(ctx, db, ab, model, one, synth)
			if err != nil {
				return nil, err
			}
			reasons = append(reasons, rs...)
		}
		req.Args["data"] = merged
		if len(reasons) > 0 {
			return nil, warden.NewForbiddenError("create", model, reasons...)
		}

		perm := ab.AccessibleBy(warden.ActionCreate, model)
		var result any
		err := db.InTx(ctx, store.IsolationSerializable, func(tx store.Store) error {
			coll, err := tx.Model(model)
			if err != nil {
				return err
			}
			before, err := coll.Count(ctx, perm)
			if err != nil {
				return err
			}
			res, err := next(ctx, req.withStore(tx))
			if err != nil {
				return err
			}
			created := len(list)
			if br, ok := res.(warden.BatchResult); ok {
				created = br.Count
			}
			after, err := coll.Count(ctx, perm)
			if err != nil {
				return err
			}
			if after != before+created {
				return warden.NewForbiddenError("create", model)
			}
			result = res
			return nil
		})
		if err != nil {
			return nil, err
		}
		return result, nil
	}
}

// UpdateOne updates a single row without leaking whether an
// unauthorized target exists. The row is located under the combined
// filter first; no visible match returns null. The mutation then runs
// as a batch update pinned to the row's unique field, and the guard
// re-reads that identity afterwards: a vanished or changed identity
// means the update moved the row out of the caller's permission set
// and the transaction aborts.
func (g *Guard) UpdateOne(model string) Middleware {
	return func(ctx context.Context, req *Request, next Next) (any, error) {
		db := g.requestStore(req)
		ab := req.Ability
		m, err := g.reg.Lookup(model)
		if err != nil {
			return nil, err
		}
		unique, ok := m.UniqueField()
		if !ok {
			return nil, warden.NewUnsupportedOperationError(fmt.Sprintf("single update of model %q without a unique field", model))
		}
		caller, err := g.argsWhere(model, req.Args)
		if err != nil {
			return nil, err
		}
		perm := ab.AccessibleBy(warden.ActionRead, model)
		combined := predicate.Combine(perm, caller)

		var result any
		err = db.InTx(ctx, store.IsolationSerializable, func(tx store.Store) error {
			coll, err := tx.Model(model)
			if err != nil {
				return err
			}
			before, err := coll.FindFirst(ctx, combined, nil)
			if err != nil {
				return err
			}
			if before == nil {
				result = nil
				return nil
			}
			id := before[unique]
			if id == nil {
				return warden.NewForbiddenError("update", model)
			}
			sub := req.withStore(tx)
			sub.Args["where"] = predicate.ToMap(predicate.And(combined, predicate.FieldEQ(unique, id)))
			res, err := next(ctx, sub)
			if err != nil {
				return err
			}
			if br, ok := res.(warden.BatchResult); ok && br.Count == 0 {
				return warden.NewForbiddenError("update", model)
			}
			// The post-read drops the caller's filter on purpose: a
			// legitimate update may move the row out of its own match
			// set, but never out of the permission set.
			after, err := coll.FindFirst(ctx, predicate.And(perm, predicate.FieldEQ(unique, id)), nil)
			if err != nil {
				return err
			}
			if after == nil || !sameValue(after[unique], id) {
				return warden.NewForbiddenError("update", model)
			}
			result = after
			return nil
		})
		if err != nil {
			return nil, err
		}
		return result, nil
	}
}

// UpdateMany restricts a batch update to the caller's readable rows by
// filter injection, like a collection read.
func (g *Guard) UpdateMany(model string) Middleware {
	return g.injectFilter(model)
}

// DeleteOne deletes one row under the combined filter inside a
// serializable transaction. Unlike single reads, an invisible target
// is reported as Forbidden rather than masked; the mutation attempt
// itself is the probe.
func (g *Guard) DeleteOne(model string) Middleware {
	return func(ctx context.Context, req *Request, next Next) (any, error) {
		db := g.requestStore(req)
		ab := req.Ability
		caller, err := g.argsWhere(model, req.Args)
		if err != nil {
			return nil, err
		}
		combined := predicate.Combine(ab.AccessibleBy(warden.ActionRead, model), caller)

		var result any
		err = db.InTx(ctx, store.IsolationSerializable, func(tx store.Store) error {
			coll, err := tx.Model(model)
			if err != nil {
				return err
			}
			before, err := coll.Count(ctx, combined)
			if err != nil {
				return err
			}
			if before == 0 {
				return warden.NewForbiddenError("delete", model)
			}
			sub := req.withStore(tx)
			sub.Args["where"] = predicate.ToMap(combined)
			res, err := next(ctx, sub)
			if err != nil {
				return err
			}
			deleted := 0
			if row, ok := res.(warden.Row); ok && row != nil {
				deleted = 1
			}
			after, err := coll.Count(ctx, combined)
			if err != nil {
				return err
			}
			if before-deleted != after {
				return warden.NewForbiddenError("delete", model)
			}
			result = res
			return nil
		})
		if err != nil {
			return nil, err
		}
		return result, nil
	}
}

// DeleteMany deletes the caller-filtered subset of readable rows and
// verifies the count delta inside the transaction.
func (g *Guard) DeleteMany(model string) Middleware {
	return func(ctx context.Context, req *Request, next Next) (any, error) {
		db := g.requestStore(req)
		ab := req.Ability
		caller, err := g.argsWhere(model, req.Args)
		if err != nil {
			return nil, err
		}
		combined := predicate.Combine(ab.AccessibleBy(warden.ActionRead, model), caller)

		var result any
		err = db.InTx(ctx, store.IsolationSerializable, func(tx store.Store) error {
			coll, err := tx.Model(model)
			if err != nil {
				return err
			}
			before, err := coll.Count(ctx, combined)
			if err != nil {
				return err
			}
			sub := req.withStore(tx)
			sub.Args["where"] = predicate.ToMap(combined)
			res, err := next(ctx, sub)
			if err != nil {
				return err
			}
			deleted := 0
			if br, ok := res.(warden.BatchResult); ok {
				deleted = br.Count
			}
			after, err := coll.Count(ctx, combined)
			if err != nil {
				return err
			}
			if before-deleted != after {
				return warden.NewForbiddenError("delete", model)
			}
			result = res
			return nil
		})
		if err != nil {
			return nil, err
		}
		return result, nil
	}
}

func (g *Guard) injectFilter(model string) Middleware {
	return func(ctx context.Context, req *Request, next Next) (any, error) {
		g.requestStore(req)
		ab := req.Ability
		caller, err := g.argsWhere(model, req.Args)
		if err != nil {
			return nil, err
		}
		combined := predicate.Combine(ab.AccessibleBy(warden.ActionRead, model), caller)
		req.Args["where"] = predicate.ToMap(combined)
		return next(ctx, req)
	}
}

// withDefaults merges the creating rule's equality constraints into
// columns the input leaves unset, and reports which columns were
// synthesized so the column-level check skips them.
func withDefaults(ab *ability.Ability, model string, data map[string]any) (map[string]any, map[string]bool) {
	defs := ab.Defaults(warden.ActionCreate, model)
	out := warden.CloneMap(data)
	if out == nil {
		out = map[string]any{}
	}
	if len(defs) == 0 {
		return out, nil
	}
	synth := map[string]bool{}
	for col, v := range defs {
		if _, ok := out[col]; !ok {
			out[col] = v
			synth[col] = true
		}
	}
	return out, synth
}

// checkModelInput validates a create input depth-first against the
// ability: column-level insert grants for every caller-supplied scalar
// column, nested create and createMany inputs recursively, connect
// references by re-reading the target under the read permission and
// synthesizing the foreign key onto the entity, and finally the
// row-level create rule over the entity as it would hit the database.
// All reasons are collected; connectOrCreate fails fast as unsupported.
func (g *Guard) checkModelInput(ctx context.Context, db store.Store, ab *ability.Ability, model string, data map[string]any, synth map[string]bool) ([]string, error) {
	m, err := g.reg.Lookup(model)
	if err != nil {
		return nil, err
	}
	entity := warden.Row{}
	var reasons []string
	for _, f := range m.Scalars() {
		v, ok := data[f.Name]
		if !ok {
			continue
		}
		entity[f.Name] = v
		if synth[f.Name] {
			continue
		}
		if !ab.CanColumn(warden.ActionInsert, model, f.Name) {
			reason := fmt.Sprintf("not allowed to set column %q of %s", f.Name, model)
			if r, ok := ab.ColumnRule(warden.ActionInsert, model, f.Name); ok && r.Reason != "" {
				reason = r.Reason
			}
			reasons = append(reasons, reason)
		}
	}

	for _, f := range m.Relations() {
		raw, ok := data[f.Name].(map[string]any)
		if !ok || len(raw) == 0 {
			continue
		}
		switch {
		case raw["connectOrCreate"] != nil:
			return nil, warden.NewUnsupportedOperationError("connectOrCreate")
		case raw["connect"] != nil:
			cond, _ := raw["connect"].(map[string]any)
			where, err := predicate.FromMap(g.reg, f.Ref, cond)
			if err != nil {
				return nil, err
			}
			coll, err := db.Model(f.Ref)
			if err != nil {
				return nil, err
			}
			target, err := coll.FindFirst(ctx, predicate.Combine(ab.AccessibleBy(warden.ActionRead, f.Ref), where), nil)
			if err != nil {
				return nil, err
			}
			if target == nil {
				reasons = append(reasons, fmt.Sprintf("not allowed to connect %s on %s", f.Ref, model))
				continue
			}
			if f.Cardinality == schema.Single && f.FromColumn != "" {
				entity[f.FromColumn] = target[f.ToColumn]
			}
		case raw["create"] != nil:
			sub, _ := raw["create"].(map[string]any)
			rs, err := g.checkModelInput(ctx, db, ab, f.Ref, sub, nil)
			if err != nil {
				return nil, err
			}
			reasons = append(reasons, rs...)
		case raw["createMany"] != nil:
			cm, _ := raw["createMany"].(map[string]any)
			list, _ := cm["data"].([]any)
			for _, item := range list {
				sub, _ := item.(map[string]any)
				rs, err := g.checkModelInput(ctx, db, ab, f.Ref, sub, nil)
				if err != nil {
					return nil, err
				}
				reasons = append(reasons, rs...)
			}
		default:
			for action := range raw {
				return nil, warden.NewUnsupportedOperationError(action)
			}
		}
	}

	if !ab.CanRow(warden.ActionCreate, model, entity) {
		reason := fmt.Sprintf("not allowed to insert into %s", model)
		if r, ok := ab.RelevantRule(warden.ActionCreate, model, entity); ok && r.Reason != "" {
			reason = r.Reason
		}
		reasons = append(reasons, reason)
	}
	return reasons, nil
}
