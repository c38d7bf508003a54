package middleware

import (
	"context"
	"fmt"

	"github.com/syssam/warden"
	"github.com/syssam/warden/predicate"
	"github.com/syssam/warden/schema"
	"github.com/syssam/warden/selection"
	"github.com/syssam/warden/store"
)

// Executor is the terminal handler: it interprets the request against
// req.Store. Reads go through the selection compiler so every nested
// relation carries its own permission filter; writes translate the
// nested data argument into collection calls, resolving connect
// references and nested creates. The executor performs no
// authorization of its own beyond the compiled nested filters; the
// guards in front of it rewrite the arguments it trusts.
func Executor(reg *schema.Registry) Handler {
	e := &executor{reg: reg}
	return e.handle
}

type executor struct {
	reg *schema.Registry
}

func (e *executor) handle(ctx context.Context, req *Request) (any, error) {
	ops := schema.OperationsFor(req.Model)
	coll, err := req.Store.Model(req.Model)
	if err != nil {
		return nil, err
	}
	switch req.Op {
	case ops.FindOne:
		return e.findOne(ctx, req, coll)
	case ops.FindFirst:
		return e.findFirst(ctx, req, coll)
	case ops.FindMany:
		return e.findMany(ctx, req, coll)
	case ops.Aggregate:
		return e.aggregate(ctx, req, coll)
	case ops.CreateOne:
		data, _ := req.Args["data"].(map[string]any)
		return e.create(ctx, req.Store, req.Model, data)
	case ops.CreateMany:
		return e.createMany(ctx, req)
	case ops.UpdateOne, ops.UpdateMany:
		return e.update(ctx, req, coll)
	case ops.DeleteOne:
		return e.deleteOne(ctx, req, coll)
	case ops.DeleteMany:
		return e.deleteMany(ctx, req, coll)
	default:
		return nil, warden.NewUnsupportedOperationError(req.Op)
	}
}

func (e *executor) compile(req *Request) (*selection.Query, error) {
	return selection.Compile(req.Ability, e.reg, req.Model, req.Args, req.Info)
}

func pagination(q *selection.Query) *store.Pagination {
	if q.Take == nil && q.Skip == nil && len(q.Cursor) == 0 {
		return nil
	}
	return &store.Pagination{Take: q.Take, Skip: q.Skip, Cursor: q.Cursor}
}

func (e *executor) findMany(ctx context.Context, req *Request, coll store.Collection) (any, error) {
	q, err := e.compile(req)
	if err != nil {
		return nil, err
	}
	rows, err := coll.FindMany(ctx, q.Where, nil, pagination(q))
	if err != nil {
		return nil, err
	}
	for i, row := range rows {
		if rows[i], err = e.attach(ctx, req.Store, req.Model, row, q.Select); err != nil {
			return nil, err
		}
	}
	return rows, nil
}

func (e *executor) findFirst(ctx context.Context, req *Request, coll store.Collection) (any, error) {
	q, err := e.compile(req)
	if err != nil {
		return nil, err
	}
	row, err := coll.FindFirst(ctx, q.Where, nil)
	if err != nil || row == nil {
		return nil, err
	}
	return e.attach(ctx, req.Store, req.Model, row, q.Select)
}

// findOne is the unguarded unique lookup: the caller's where argument
// only, no permission filter. The read guard in front re-checks the
// result. Nested selections still compile through the ability, so
// embedded relations stay permission-filtered.
func (e *executor) findOne(ctx context.Context, req *Request, coll store.Collection) (any, error) {
	where, err := e.where(req)
	if err != nil {
		return nil, err
	}
	row, err := coll.FindFirst(ctx, where, nil)
	if err != nil || row == nil {
		return nil, err
	}
	q, err := e.compile(req)
	if err != nil {
		return nil, err
	}
	return e.attach(ctx, req.Store, req.Model, row, q.Select)
}

func (e *executor) aggregate(ctx context.Context, req *Request, coll store.Collection) (any, error) {
	q, err := e.compile(req)
	if err != nil {
		return nil, err
	}
	n, err := coll.Count(ctx, q.Where)
	if err != nil {
		return nil, err
	}
	return warden.Row{"_count": n}, nil
}

func (e *executor) where(req *Request) (predicate.P, error) {
	raw, ok := req.Args["where"].(map[string]any)
	if !ok || len(raw) == 0 {
		return nil, nil
	}
	return predicate.FromMap(e.reg, req.Model, raw)
}

// attach embeds the relation entries of the projection onto the row,
// each with its compiled (permission-bearing) nested filter.
func (e *executor) attach(ctx context.Context, db store.Store, model string, row warden.Row, proj selection.Projection) (warden.Row, error) {
	m := e.reg.MustLookup(model)
	out := row.Clone()
	for name, entry := range proj {
		if entry.Query == nil {
			continue
		}
		f, ok := m.Field(name)
		if !ok || f.Kind != schema.KindRelation {
			continue
		}
		coll, err := db.Model(f.Ref)
		if err != nil {
			return nil, err
		}
		if f.Cardinality == schema.Single {
			fk, ok := row[f.FromColumn]
			if !ok || fk == nil {
				out[name] = nil
				continue
			}
			rel, err := coll.FindFirst(ctx, predicate.And(entry.Query.Where, predicate.FieldEQ(f.ToColumn, fk)), nil)
			if err != nil {
				return nil, err
			}
			if rel == nil {
				out[name] = nil
				continue
			}
			if rel, err = e.attach(ctx, db, f.Ref, rel, entry.Query.Select); err != nil {
				return nil, err
			}
			out[name] = map[string]any(rel)
			continue
		}
		pk, ok := row[f.ToColumn]
		if !ok || pk == nil {
			out[name] = []any{}
			continue
		}
		rels, err := coll.FindMany(ctx,
			predicate.And(entry.Query.Where, predicate.FieldEQ(f.FromColumn, pk)),
			nil, pagination(entry.Query))
		if err != nil {
			return nil, err
		}
		vals := make([]any, 0, len(rels))
		for _, rel := range rels {
			if rel, err = e.attach(ctx, db, f.Ref, rel, entry.Query.Select); err != nil {
				return nil, err
			}
			vals = append(vals, map[string]any(rel))
		}
		out[name] = vals
	}
	return out, nil
}

// create performs one insert, resolving connect references into
// foreign keys and nested create/createMany inputs into follow-up
// inserts linked back to the new row.
func (e *executor) create(ctx context.Context, db store.Store, model string, data map[string]any) (warden.Row, error) {
	m, err := e.reg.Lookup(model)
	if err != nil {
		return nil, err
	}
	scalars := warden.Row{}
	for _, f := range m.Scalars() {
		if v, ok := data[f.Name]; ok {
			scalars[f.Name] = v
		}
	}

	type child struct {
		model string
		link  string
		on    string
		data  map[string]any
	}
	var children []child
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
			where, err := predicate.FromMap(e.reg, f.Ref, cond)
			if err != nil {
				return nil, err
			}
			coll, err := db.Model(f.Ref)
			if err != nil {
				return nil, err
			}
			target, err := coll.FindFirst(ctx, where, nil)
			if err != nil {
				return nil, err
			}
			if target == nil {
				return nil, fmt.Errorf("middleware: connect target of %s.%s not found", model, f.Name)
			}
			if f.Cardinality == schema.Single && f.FromColumn != "" {
				scalars[f.FromColumn] = target[f.ToColumn]
			}
		case raw["create"] != nil:
			sub, _ := raw["create"].(map[string]any)
			if f.Cardinality == schema.Single {
				// The related row owns the referenced column, so it
				// goes in first.
				rel, err := e.create(ctx, db, f.Ref, sub)
				if err != nil {
					return nil, err
				}
				scalars[f.FromColumn] = rel[f.ToColumn]
				continue
			}
			children = append(children, child{model: f.Ref, link: f.FromColumn, on: f.ToColumn, data: sub})
		case raw["createMany"] != nil:
			cm, _ := raw["createMany"].(map[string]any)
			list, _ := cm["data"].([]any)
			for _, item := range list {
				sub, _ := item.(map[string]any)
				children = append(children, child{model: f.Ref, link: f.FromColumn, on: f.ToColumn, data: sub})
			}
		default:
			for action := range raw {
				return nil, warden.NewUnsupportedOperationError(action)
			}
		}
	}

	coll, err := db.Model(model)
	if err != nil {
		return nil, err
	}
	row, err := coll.Create(ctx, scalars)
	if err != nil {
		return nil, err
	}
	for _, ch := range children {
		data := warden.CloneMap(ch.data)
		data[ch.link] = row[ch.on]
		if _, err := e.create(ctx, db, ch.model, data); err != nil {
			return nil, err
		}
	}
	return row, nil
}

func (e *executor) createMany(ctx context.Context, req *Request) (any, error) {
	list, _ := req.Args["data"].([]any)
	var res warden.BatchResult
	for _, item := range list {
		data, _ := item.(map[string]any)
		if _, err := e.create(ctx, req.Store, req.Model, data); err != nil {
			return nil, err
		}
		res.Count++
	}
	return res, nil
}

// update always runs as a batch update; the single-row guard pins the
// filter to one row beforehand.
func (e *executor) update(ctx context.Context, req *Request, coll store.Collection) (any, error) {
	where, err := e.where(req)
	if err != nil {
		return nil, err
	}
	m := e.reg.MustLookup(req.Model)
	data, _ := req.Args["data"].(map[string]any)
	scalars := warden.Row{}
	for _, f := range m.Scalars() {
		if v, ok := data[f.Name]; ok {
			scalars[f.Name] = v
		}
	}
	return coll.UpdateMany(ctx, where, scalars)
}

func (e *executor) deleteOne(ctx context.Context, req *Request, coll store.Collection) (any, error) {
	where, err := e.where(req)
	if err != nil {
		return nil, err
	}
	row, err := coll.Delete(ctx, where)
	if err != nil || row == nil {
		return nil, err
	}
	return row, nil
}

func (e *executor) deleteMany(ctx context.Context, req *Request, coll store.Collection) (any, error) {
	where, err := e.where(req)
	if err != nil {
		return nil, err
	}
	return coll.DeleteMany(ctx, where)
}
