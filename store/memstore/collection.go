package memstore

import (
	"context"

	"github.com/syssam/warden"
	"github.com/syssam/warden/predicate"
	"github.com/syssam/warden/schema"
	"github.com/syssam/warden/store"
)

// collection is the per-model query surface. When lock is set the
// collection acquires the store lock per call; transaction-scoped
// collections run with the lock already held.
type collection struct {
	s     *Store
	model *schema.Model
	lock  bool
}

func (c *collection) locked(fn func() error) error {
	if c.lock {
		c.s.mu.Lock()
		defer c.s.mu.Unlock()
	}
	return fn()
}

// resolver traverses relations against the live tables.
type resolver struct {
	s     *Store
	model *schema.Model
}

// Related returns the rows reachable through the relation field.
func (r resolver) Related(relation string, row warden.Row) ([]warden.Row, error) {
	field, ok := r.model.Field(relation)
	if !ok || !field.IsRelation() {
		return nil, warden.NewUnknownFieldError(r.model.Name, relation)
	}
	ref := r.s.reg.MustLookup(field.Ref)
	var (
		match  predicate.P
		single bool
	)
	if field.Cardinality == schema.Single {
		fk, ok := row[field.FromColumn]
		if !ok || fk == nil {
			return nil, nil
		}
		match = predicate.FieldEQ(field.ToColumn, fk)
		single = true
	} else {
		pk, ok := row[field.ToColumn]
		if !ok || pk == nil {
			return nil, nil
		}
		match = predicate.FieldEQ(field.FromColumn, pk)
	}
	sub := resolver{s: r.s, model: ref}
	var out []warden.Row
	for _, cand := range r.s.tables[field.Ref] {
		ok, err := predicate.Eval(match, cand, sub)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, cand)
			if single {
				break
			}
		}
	}
	return out, nil
}

func (c *collection) filtered(where predicate.P) ([]int, error) {
	res := resolver{s: c.s, model: c.model}
	var idx []int
	for i, row := range c.s.tables[c.model.Name] {
		ok, err := predicate.Eval(where, row, res)
		if err != nil {
			return nil, err
		}
		if ok {
			idx = append(idx, i)
		}
	}
	return idx, nil
}

// embed attaches the include-requested relations onto a cloned row.
func (c *collection) embed(row warden.Row, include predicate.Include) (warden.Row, error) {
	out := row.Clone()
	res := resolver{s: c.s, model: c.model}
	for rel, nested := range include {
		field, ok := c.model.Field(rel)
		if !ok || !field.IsRelation() {
			return nil, warden.NewUnknownFieldError(c.model.Name, rel)
		}
		related, err := res.Related(rel, row)
		if err != nil {
			return nil, err
		}
		sub := &collection{s: c.s, model: c.s.reg.MustLookup(field.Ref)}
		if field.Cardinality == schema.Single {
			if len(related) == 0 {
				out[rel] = nil
				continue
			}
			embedded, err := sub.embed(related[0], nested)
			if err != nil {
				return nil, err
			}
			out[rel] = map[string]any(embedded)
			continue
		}
		rows := make([]any, 0, len(related))
		for _, rr := range related {
			embedded, err := sub.embed(rr, nested)
			if err != nil {
				return nil, err
			}
			rows = append(rows, map[string]any(embedded))
		}
		out[rel] = rows
	}
	return out, nil
}

// Count returns the number of rows matching the predicate.
func (c *collection) Count(_ context.Context, where predicate.P) (n int, err error) {
	err = c.locked(func() error {
		idx, err := c.filtered(where)
		if err != nil {
			return err
		}
		n = len(idx)
		return nil
	})
	return n, err
}

// FindFirst returns the first matching row, or nil.
func (c *collection) FindFirst(_ context.Context, where predicate.P, include predicate.Include) (row warden.Row, err error) {
	err = c.locked(func() error {
		idx, err := c.filtered(where)
		if err != nil {
			return err
		}
		if len(idx) == 0 {
			return nil
		}
		row, err = c.embed(c.s.tables[c.model.Name][idx[0]], include)
		return err
	})
	return row, err
}

// FindMany returns the matching rows in insertion order.
func (c *collection) FindMany(_ context.Context, where predicate.P, include predicate.Include, page *store.Pagination) (rows []warden.Row, err error) {
	err = c.locked(func() error {
		idx, err := c.filtered(where)
		if err != nil {
			return err
		}
		idx, err = c.paginate(idx, page)
		if err != nil {
			return err
		}
		rows = make([]warden.Row, 0, len(idx))
		for _, i := range idx {
			row, err := c.embed(c.s.tables[c.model.Name][i], include)
			if err != nil {
				return err
			}
			rows = append(rows, row)
		}
		return nil
	})
	return rows, err
}

func (c *collection) paginate(idx []int, page *store.Pagination) ([]int, error) {
	if page == nil {
		return idx, nil
	}
	if len(page.Cursor) > 0 {
		conds := make([]predicate.P, 0, len(page.Cursor))
		for k, v := range page.Cursor {
			conds = append(conds, predicate.FieldEQ(k, v))
		}
		match := predicate.And(conds...)
		start := -1
		for pos, i := range idx {
			ok, err := predicate.Eval(match, c.s.tables[c.model.Name][i], nil)
			if err != nil {
				return nil, err
			}
			if ok {
				start = pos
				break
			}
		}
		if start < 0 {
			return nil, nil
		}
		idx = idx[start:]
	}
	if page.Skip != nil {
		if *page.Skip >= len(idx) {
			return nil, nil
		}
		idx = idx[*page.Skip:]
	}
	if page.Take != nil && *page.Take < len(idx) {
		idx = idx[:*page.Take]
	}
	return idx, nil
}

// Create inserts one row, assigning the unique column from a
// per-model sequence when the caller leaves it unset.
func (c *collection) Create(_ context.Context, data warden.Row) (row warden.Row, err error) {
	err = c.locked(func() error {
		row, err = c.create(data)
		return err
	})
	return row, err
}

func (c *collection) create(data warden.Row) (warden.Row, error) {
	row := warden.Row{}
	for _, f := range c.model.Scalars() {
		if v, ok := data[f.Name]; ok {
			row[f.Name] = v
		}
	}
	if unique, ok := c.model.UniqueField(); ok {
		if _, set := row[unique]; !set {
			if f, ok := c.model.Field(unique); ok && integerType(f.Type) {
				row[unique] = c.nextID(unique)
			}
		}
	}
	c.s.tables[c.model.Name] = append(c.s.tables[c.model.Name], row)
	return row.Clone(), nil
}

// integerType reports whether the declared scalar type can hold a
// sequence value. Models keyed by a string column get no
// auto-assignment; their callers must supply the key.
func integerType(t string) bool {
	return schema.EqualFold(t, "int") || schema.EqualFold(t, "int64") || schema.EqualFold(t, "bigint")
}

func (c *collection) nextID(unique string) int64 {
	var max int64
	for _, row := range c.s.tables[c.model.Name] {
		if n, ok := asInt64(row[unique]); ok && n > max {
			max = n
		}
	}
	return max + 1
}

// CreateMany inserts the given rows.
func (c *collection) CreateMany(ctx context.Context, data []warden.Row) (res warden.BatchResult, err error) {
	err = c.locked(func() error {
		for _, d := range data {
			if _, err := c.create(d); err != nil {
				return err
			}
		}
		res.Count = len(data)
		return nil
	})
	return res, err
}

// Update applies the data to the first matching row.
func (c *collection) Update(_ context.Context, where predicate.P, data warden.Row) (row warden.Row, err error) {
	err = c.locked(func() error {
		idx, err := c.filtered(where)
		if err != nil {
			return err
		}
		if len(idx) == 0 {
			return nil
		}
		c.apply(idx[:1], data)
		row = c.s.tables[c.model.Name][idx[0]].Clone()
		return nil
	})
	return row, err
}

// UpdateMany applies the data to every matching row.
func (c *collection) UpdateMany(_ context.Context, where predicate.P, data warden.Row) (res warden.BatchResult, err error) {
	err = c.locked(func() error {
		idx, err := c.filtered(where)
		if err != nil {
			return err
		}
		c.apply(idx, data)
		res.Count = len(idx)
		return nil
	})
	return res, err
}

func (c *collection) apply(idx []int, data warden.Row) {
	for _, i := range idx {
		row := c.s.tables[c.model.Name][i]
		for _, f := range c.model.Scalars() {
			if v, ok := data[f.Name]; ok {
				row[f.Name] = v
			}
		}
	}
}

// Delete removes the first matching row and returns it.
func (c *collection) Delete(_ context.Context, where predicate.P) (row warden.Row, err error) {
	err = c.locked(func() error {
		idx, err := c.filtered(where)
		if err != nil {
			return err
		}
		if len(idx) == 0 {
			return nil
		}
		row = c.remove(idx[:1])[0]
		return nil
	})
	return row, err
}

// DeleteMany removes every matching row.
func (c *collection) DeleteMany(_ context.Context, where predicate.P) (res warden.BatchResult, err error) {
	err = c.locked(func() error {
		idx, err := c.filtered(where)
		if err != nil {
			return err
		}
		res.Count = len(c.remove(idx))
		return nil
	})
	return res, err
}

// remove deletes the rows at the given ascending indexes, preserving
// the order of the survivors.
func (c *collection) remove(idx []int) []warden.Row {
	table := c.s.tables[c.model.Name]
	removed := make([]warden.Row, 0, len(idx))
	drop := make(map[int]struct{}, len(idx))
	for _, i := range idx {
		removed = append(removed, table[i].Clone())
		drop[i] = struct{}{}
	}
	kept := table[:0]
	for i, row := range table {
		if _, gone := drop[i]; !gone {
			kept = append(kept, row)
		}
	}
	c.s.tables[c.model.Name] = kept
	return removed
}

func asInt64(v any) (int64, bool) {
	switch v := v.(type) {
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint64:
		return int64(v), true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}

var _ store.Collection = (*collection)(nil)
