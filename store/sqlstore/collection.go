package sqlstore

import (
	"context"
	"database/sql"
	"sort"
	"strconv"
	"strings"

	"github.com/syssam/warden"
	"github.com/syssam/warden/predicate"
	"github.com/syssam/warden/schema"
	"github.com/syssam/warden/store"
)

type collection struct {
	s     *Store
	db    querier
	model *schema.Model
}

// columns returns the scalar column list in declaration order.
func (c *collection) columns() []string {
	scalars := c.model.Scalars()
	cols := make([]string, 0, len(scalars))
	for _, f := range scalars {
		cols = append(cols, f.Name)
	}
	return cols
}

func (c *collection) selectList(b *builder, alias string) string {
	cols := c.columns()
	parts := make([]string, 0, len(cols))
	for _, col := range cols {
		parts = append(parts, alias+"."+b.quote(col))
	}
	return strings.Join(parts, ", ")
}

func (c *collection) Count(ctx context.Context, where predicate.P) (int, error) {
	b := newBuilder(c.s.reg, c.s.dialect)
	alias := b.alias()
	cond, err := b.where(c.model, alias, where)
	if err != nil {
		return 0, err
	}
	query := "SELECT COUNT(*) FROM " + b.quote(c.model.Name) + " " + alias + " WHERE " + cond
	rows, err := c.db.QueryContext(ctx, query, b.args...)
	if err != nil {
		return 0, classify(err)
	}
	defer rows.Close()
	var n int
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, err
		}
	}
	return n, rows.Err()
}

func (c *collection) FindFirst(ctx context.Context, where predicate.P, include predicate.Include) (warden.Row, error) {
	one := 1
	rows, err := c.FindMany(ctx, where, include, &store.Pagination{Take: &one})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (c *collection) FindMany(ctx context.Context, where predicate.P, include predicate.Include, page *store.Pagination) ([]warden.Row, error) {
	b := newBuilder(c.s.reg, c.s.dialect)
	alias := b.alias()
	cond, err := b.where(c.model, alias, where)
	if err != nil {
		return nil, err
	}
	if page != nil && len(page.Cursor) > 0 {
		cursor, err := c.cursorCond(b, alias, page.Cursor)
		if err != nil {
			return nil, err
		}
		cond = "(" + cond + ") AND " + cursor
	}

	var sb strings.Builder
	sb.WriteString("SELECT " + c.selectList(b, alias))
	sb.WriteString(" FROM " + b.quote(c.model.Name) + " " + alias)
	sb.WriteString(" WHERE " + cond)
	if unique, ok := c.model.UniqueField(); ok {
		sb.WriteString(" ORDER BY " + alias + "." + b.quote(unique) + " ASC")
	}
	sb.WriteString(limitClause(c.s.dialect, page))

	rows, err := c.db.QueryContext(ctx, sb.String(), b.args...)
	if err != nil {
		return nil, classify(err)
	}
	out, err := scanRows(rows)
	if err != nil {
		return nil, err
	}
	if len(include) > 0 {
		for i, row := range out {
			embedded, err := c.embed(ctx, row, include)
			if err != nil {
				return nil, err
			}
			out[i] = embedded
		}
	}
	return out, nil
}

// cursorCond positions the result set at the cursor row, assuming the
// unique-field ascending order FindMany emits.
func (c *collection) cursorCond(b *builder, alias string, cursor map[string]any) (string, error) {
	keys := make([]string, 0, len(cursor))
	for k := range cursor {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		f, ok := c.model.Field(k)
		if !ok || f.Kind != schema.KindScalar {
			return "", warden.NewUnknownFieldError(c.model.Name, k)
		}
		parts = append(parts, alias+"."+b.quote(k)+" >= "+b.arg(cursor[k]))
	}
	return "(" + strings.Join(parts, " AND ") + ")", nil
}

func limitClause(dialect string, page *store.Pagination) string {
	if page == nil {
		return ""
	}
	var sb strings.Builder
	switch {
	case page.Take != nil:
		sb.WriteString(" LIMIT " + strconv.Itoa(*page.Take))
	case page.Skip != nil && dialect == MySQL:
		// MySQL refuses OFFSET without LIMIT.
		sb.WriteString(" LIMIT 18446744073709551615")
	}
	if page.Skip != nil {
		sb.WriteString(" OFFSET " + strconv.Itoa(*page.Skip))
	}
	return sb.String()
}

// embed loads the include-requested relations with follow-up queries.
func (c *collection) embed(ctx context.Context, row warden.Row, include predicate.Include) (warden.Row, error) {
	out := row.Clone()
	for rel, nested := range include {
		f, ok := c.model.Field(rel)
		if !ok || f.Kind != schema.KindRelation {
			return nil, warden.NewUnknownFieldError(c.model.Name, rel)
		}
		sub := &collection{s: c.s, db: c.db, model: c.s.reg.MustLookup(f.Ref)}
		if f.Cardinality == schema.Single {
			fk, ok := row[f.FromColumn]
			if !ok || fk == nil {
				out[rel] = nil
				continue
			}
			related, err := sub.FindFirst(ctx, predicate.FieldEQ(f.ToColumn, fk), nested)
			if err != nil {
				return nil, err
			}
			if related == nil {
				out[rel] = nil
			} else {
				out[rel] = map[string]any(related)
			}
			continue
		}
		pk, ok := row[f.ToColumn]
		if !ok || pk == nil {
			out[rel] = []any{}
			continue
		}
		related, err := sub.FindMany(ctx, predicate.FieldEQ(f.FromColumn, pk), nested, nil)
		if err != nil {
			return nil, err
		}
		vals := make([]any, 0, len(related))
		for _, rr := range related {
			vals = append(vals, map[string]any(rr))
		}
		out[rel] = vals
	}
	return out, nil
}

func (c *collection) Create(ctx context.Context, data warden.Row) (warden.Row, error) {
	b := newBuilder(c.s.reg, c.s.dialect)
	var cols, marks []string
	for _, f := range c.model.Scalars() {
		v, ok := data[f.Name]
		if !ok {
			continue
		}
		cols = append(cols, b.quote(f.Name))
		marks = append(marks, b.arg(v))
	}
	query := "INSERT INTO " + b.quote(c.model.Name) + " (" + strings.Join(cols, ", ") + ") VALUES (" + strings.Join(marks, ", ") + ")"

	unique, hasUnique := c.model.UniqueField()
	if !hasUnique {
		if _, err := c.db.ExecContext(ctx, query, b.args...); err != nil {
			return nil, classify(err)
		}
		return c.projection(data), nil
	}

	id, supplied := data[unique]
	if !supplied && c.s.dialect == Postgres {
		query += " RETURNING " + b.quote(unique)
		rows, err := c.db.QueryContext(ctx, query, b.args...)
		if err != nil {
			return nil, classify(err)
		}
		if rows.Next() {
			var v any
			if err := rows.Scan(&v); err != nil {
				rows.Close()
				return nil, err
			}
			id = v
		}
		if err := rows.Close(); err != nil {
			return nil, err
		}
	} else {
		res, err := c.db.ExecContext(ctx, query, b.args...)
		if err != nil {
			return nil, classify(err)
		}
		if !supplied {
			last, err := res.LastInsertId()
			if err != nil {
				return nil, err
			}
			id = last
		}
	}
	return c.FindFirst(ctx, predicate.FieldEQ(unique, id), nil)
}

func (c *collection) CreateMany(ctx context.Context, data []warden.Row) (warden.BatchResult, error) {
	var res warden.BatchResult
	for _, row := range data {
		if _, err := c.Create(ctx, row); err != nil {
			return res, err
		}
		res.Count++
	}
	return res, nil
}

func (c *collection) Update(ctx context.Context, where predicate.P, data warden.Row) (warden.Row, error) {
	unique, ok := c.model.UniqueField()
	if !ok {
		return nil, warden.NewUnsupportedOperationError("update on model without a unique field")
	}
	row, err := c.FindFirst(ctx, where, nil)
	if err != nil || row == nil {
		return nil, err
	}
	id := row[unique]
	if _, err := c.exec(ctx, c.updateQuery(data, predicate.FieldEQ(unique, id))); err != nil {
		return nil, err
	}
	if nv, ok := data[unique]; ok {
		id = nv
	}
	return c.FindFirst(ctx, predicate.FieldEQ(unique, id), nil)
}

func (c *collection) UpdateMany(ctx context.Context, where predicate.P, data warden.Row) (warden.BatchResult, error) {
	res, err := c.exec(ctx, c.updateQuery(data, where))
	if err != nil {
		return warden.BatchResult{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return warden.BatchResult{}, err
	}
	return warden.BatchResult{Count: int(n)}, nil
}

func (c *collection) Delete(ctx context.Context, where predicate.P) (warden.Row, error) {
	unique, ok := c.model.UniqueField()
	if !ok {
		return nil, warden.NewUnsupportedOperationError("delete on model without a unique field")
	}
	row, err := c.FindFirst(ctx, where, nil)
	if err != nil || row == nil {
		return nil, err
	}
	if _, err := c.exec(ctx, c.deleteQuery(predicate.FieldEQ(unique, row[unique]))); err != nil {
		return nil, err
	}
	return row, nil
}

func (c *collection) DeleteMany(ctx context.Context, where predicate.P) (warden.BatchResult, error) {
	res, err := c.exec(ctx, c.deleteQuery(where))
	if err != nil {
		return warden.BatchResult{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return warden.BatchResult{}, err
	}
	return warden.BatchResult{Count: int(n)}, nil
}

type statement struct {
	query string
	args  []any
	err   error
}

func (c *collection) exec(ctx context.Context, st statement) (sql.Result, error) {
	if st.err != nil {
		return nil, st.err
	}
	res, err := c.db.ExecContext(ctx, st.query, st.args...)
	if err != nil {
		return nil, classify(err)
	}
	return res, nil
}

// updateQuery targets rows through an IN subquery on the unique field so
// the predicate can correlate through relation traversals. Models
// without a unique field fall back to table-qualified conditions.
func (c *collection) updateQuery(data warden.Row, where predicate.P) statement {
	b := newBuilder(c.s.reg, c.s.dialect)
	table := b.quote(c.model.Name)

	var sets []string
	for _, f := range c.model.Scalars() {
		v, ok := data[f.Name]
		if !ok {
			continue
		}
		sets = append(sets, b.quote(f.Name)+" = "+b.arg(v))
	}
	cond, err := c.rootCond(b, where)
	if err != nil {
		return statement{err: err}
	}
	return statement{
		query: "UPDATE " + table + " SET " + strings.Join(sets, ", ") + " WHERE " + cond,
		args:  b.args,
	}
}

func (c *collection) deleteQuery(where predicate.P) statement {
	b := newBuilder(c.s.reg, c.s.dialect)
	cond, err := c.rootCond(b, where)
	if err != nil {
		return statement{err: err}
	}
	return statement{
		query: "DELETE FROM " + b.quote(c.model.Name) + " WHERE " + cond,
		args:  b.args,
	}
}

func (c *collection) rootCond(b *builder, where predicate.P) (string, error) {
	unique, ok := c.model.UniqueField()
	if !ok {
		return b.where(c.model, b.quote(c.model.Name), where)
	}
	alias := b.alias()
	cond, err := b.where(c.model, alias, where)
	if err != nil {
		return "", err
	}
	sub := "SELECT " + alias + "." + b.quote(unique) +
		" FROM " + b.quote(c.model.Name) + " " + alias + " WHERE " + cond
	if c.s.dialect == MySQL {
		// MySQL rejects subqueries on the table being modified (error
		// 1093) unless they go through a derived table.
		sub = "SELECT " + b.quote(unique) + " FROM (" + sub + ") " + b.alias()
	}
	return b.quote(unique) + " IN (" + sub + ")", nil
}

// projection keeps the declared scalar columns of data, for models that
// cannot be re-read after insert.
func (c *collection) projection(data warden.Row) warden.Row {
	out := warden.Row{}
	for _, f := range c.model.Scalars() {
		if v, ok := data[f.Name]; ok {
			out[f.Name] = v
		}
	}
	return out
}

func scanRows(rows *sql.Rows) ([]warden.Row, error) {
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []warden.Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := warden.Row{}
		for i, col := range cols {
			v := vals[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			row[col] = v
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
