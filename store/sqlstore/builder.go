package sqlstore

import (
	"fmt"
	"strings"

	"github.com/syssam/warden"
	"github.com/syssam/warden/predicate"
	"github.com/syssam/warden/schema"
)

// builder renders a predicate tree into a WHERE clause for one dialect.
// Relation traversals become correlated EXISTS subqueries, with one
// table alias per traversal level.
type builder struct {
	reg     *schema.Registry
	dialect string
	args    []any
	aliases int
}

func newBuilder(reg *schema.Registry, dialect string) *builder {
	return &builder{reg: reg, dialect: dialect}
}

func (b *builder) quote(ident string) string {
	if b.dialect == MySQL {
		return "`" + ident + "`"
	}
	return `"` + ident + `"`
}

func (b *builder) arg(v any) string {
	b.args = append(b.args, v)
	if b.dialect == Postgres {
		return fmt.Sprintf("$%d", len(b.args))
	}
	return "?"
}

func (b *builder) alias() string {
	a := fmt.Sprintf("t%d", b.aliases)
	b.aliases++
	return a
}

// where renders p scoped to the rows of m visible under alias.
// A nil predicate matches everything.
func (b *builder) where(m *schema.Model, alias string, p predicate.P) (string, error) {
	if p == nil {
		return "1 = 1", nil
	}
	if predicate.IsNothing(p) {
		return "1 = 0", nil
	}
	switch p := p.(type) {
	case *predicate.AndP:
		return b.junction(m, alias, p.Xs, " AND ", "1 = 1")
	case *predicate.OrP:
		return b.junction(m, alias, p.Xs, " OR ", "1 = 0")
	case *predicate.NotP:
		inner, err := b.where(m, alias, p.X)
		if err != nil {
			return "", err
		}
		return "NOT (" + inner + ")", nil
	case *predicate.FieldP:
		return b.field(m, alias, p)
	case *predicate.RelP:
		return b.relation(m, alias, p)
	default:
		return "", fmt.Errorf("sqlstore: unsupported predicate %T", p)
	}
}

func (b *builder) junction(m *schema.Model, alias string, xs []predicate.P, sep, empty string) (string, error) {
	if len(xs) == 0 {
		return empty, nil
	}
	parts := make([]string, 0, len(xs))
	for _, x := range xs {
		s, err := b.where(m, alias, x)
		if err != nil {
			return "", err
		}
		parts = append(parts, "("+s+")")
	}
	return strings.Join(parts, sep), nil
}

func (b *builder) field(m *schema.Model, alias string, p *predicate.FieldP) (string, error) {
	f, ok := m.Field(p.Field)
	if !ok || f.Kind != schema.KindScalar {
		return "", warden.NewUnknownFieldError(m.Name, p.Field)
	}
	col := alias + "." + b.quote(f.Name)
	switch p.Op {
	case predicate.OpEQ:
		if p.Value == nil {
			return col + " IS NULL", nil
		}
		return col + " = " + b.arg(p.Value), nil
	case predicate.OpNEQ:
		if p.Value == nil {
			return col + " IS NOT NULL", nil
		}
		return col + " <> " + b.arg(p.Value), nil
	case predicate.OpGT:
		return col + " > " + b.arg(p.Value), nil
	case predicate.OpGTE:
		return col + " >= " + b.arg(p.Value), nil
	case predicate.OpLT:
		return col + " < " + b.arg(p.Value), nil
	case predicate.OpLTE:
		return col + " <= " + b.arg(p.Value), nil
	case predicate.OpIn:
		if len(p.Values) == 0 {
			return "1 = 0", nil
		}
		return col + " IN (" + b.list(p.Values) + ")", nil
	case predicate.OpNotIn:
		if len(p.Values) == 0 {
			return "1 = 1", nil
		}
		return col + " NOT IN (" + b.list(p.Values) + ")", nil
	case predicate.OpContains:
		return b.like(col, "%"+escapeLike(str(p.Value))+"%"), nil
	case predicate.OpHasPrefix:
		return b.like(col, escapeLike(str(p.Value))+"%"), nil
	case predicate.OpHasSuffix:
		return b.like(col, "%"+escapeLike(str(p.Value))), nil
	default:
		return "", fmt.Errorf("sqlstore: unsupported operator %q", p.Op)
	}
}

func (b *builder) list(vs []any) string {
	parts := make([]string, 0, len(vs))
	for _, v := range vs {
		parts = append(parts, b.arg(v))
	}
	return strings.Join(parts, ", ")
}

// like uses '!' as the escape character so the pattern text is
// identical across the three dialects.
func (b *builder) like(col, pattern string) string {
	return col + " LIKE " + b.arg(pattern) + " ESCAPE '!'"
}

func escapeLike(s string) string {
	r := strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")
	return r.Replace(s)
}

func str(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func (b *builder) relation(m *schema.Model, alias string, p *predicate.RelP) (string, error) {
	f, ok := m.Field(p.Relation)
	if !ok || f.Kind != schema.KindRelation {
		return "", warden.NewUnknownFieldError(m.Name, p.Relation)
	}
	ref := b.reg.MustLookup(f.Ref)
	sub := b.alias()

	var join string
	if f.Cardinality == schema.Single {
		join = sub + "." + b.quote(f.ToColumn) + " = " + alias + "." + b.quote(f.FromColumn)
	} else {
		join = sub + "." + b.quote(f.FromColumn) + " = " + alias + "." + b.quote(f.ToColumn)
	}

	nested := p.X
	if p.Mode == predicate.ModeEvery {
		nested = predicate.Not(nested)
	}
	inner, err := b.where(ref, sub, nested)
	if err != nil {
		return "", err
	}
	exists := "EXISTS (SELECT 1 FROM " + b.quote(ref.Name) + " " + sub + " WHERE " + join + " AND (" + inner + "))"
	switch p.Mode {
	case predicate.ModeIs, predicate.ModeSome:
		return exists, nil
	case predicate.ModeIsNot, predicate.ModeNone, predicate.ModeEvery:
		return "NOT " + exists, nil
	default:
		return "", fmt.Errorf("sqlstore: unsupported relation mode %q", p.Mode)
	}
}
