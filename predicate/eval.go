package predicate

import (
	"fmt"
	"strings"

	"github.com/syssam/warden"
)

// RelationResolver loads the rows reachable through a relation field of
// a row. To-one relations yield zero or one row. The in-memory store
// implements this against its tables; passing nil to Eval restricts
// relation traversal to rows embedded in the row itself (include-loaded
// data).
type RelationResolver interface {
	Related(relation string, row warden.Row) ([]warden.Row, error)
}

// Eval evaluates the predicate against a row. A nil predicate matches
// every row. A field condition on a column the row does not carry does
// not match: an entity that cannot prove it satisfies a permission
// predicate is treated as outside the permitted set.
func Eval(p P, row warden.Row, res RelationResolver) (bool, error) {
	switch p := p.(type) {
	case nil:
		return true, nil
	case *AndP:
		for _, x := range p.Xs {
			ok, err := Eval(x, row, res)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case *OrP:
		for _, x := range p.Xs {
			ok, err := Eval(x, row, res)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case *NotP:
		ok, err := Eval(p.X, row, res)
		if err != nil {
			return false, err
		}
		return !ok, nil
	case *FieldP:
		return evalField(p, row), nil
	case *RelP:
		return evalRelation(p, row, res)
	case nothing:
		return false, nil
	}
	return false, fmt.Errorf("predicate: unknown predicate type %T", p)
}

func evalField(p *FieldP, row warden.Row) bool {
	v, present := row[p.Field]
	if !present {
		return false
	}
	switch p.Op {
	case OpEQ:
		return equalValues(v, p.Value)
	case OpNEQ:
		return !equalValues(v, p.Value)
	case OpGT, OpGTE, OpLT, OpLTE:
		c, ok := compareValues(v, p.Value)
		if !ok {
			return false
		}
		switch p.Op {
		case OpGT:
			return c > 0
		case OpGTE:
			return c >= 0
		case OpLT:
			return c < 0
		default:
			return c <= 0
		}
	case OpIn:
		for _, w := range p.Values {
			if equalValues(v, w) {
				return true
			}
		}
		return false
	case OpNotIn:
		for _, w := range p.Values {
			if equalValues(v, w) {
				return false
			}
		}
		return true
	case OpContains, OpHasPrefix, OpHasSuffix:
		s, ok := v.(string)
		if !ok {
			return false
		}
		sub, ok := p.Value.(string)
		if !ok {
			return false
		}
		switch p.Op {
		case OpContains:
			return strings.Contains(s, sub)
		case OpHasPrefix:
			return strings.HasPrefix(s, sub)
		default:
			return strings.HasSuffix(s, sub)
		}
	}
	return false
}

func evalRelation(p *RelP, row warden.Row, res RelationResolver) (bool, error) {
	rows, err := relatedRows(p.Relation, row, res)
	if err != nil {
		return false, err
	}
	switch p.Mode {
	case ModeIs:
		if len(rows) == 0 {
			return false, nil
		}
		return Eval(p.X, rows[0], res)
	case ModeIsNot:
		if len(rows) == 0 {
			return true, nil
		}
		ok, err := Eval(p.X, rows[0], res)
		return !ok, err
	case ModeSome:
		for _, r := range rows {
			ok, err := Eval(p.X, r, res)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case ModeEvery:
		for _, r := range rows {
			ok, err := Eval(p.X, r, res)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case ModeNone:
		for _, r := range rows {
			ok, err := Eval(p.X, r, res)
			if err != nil {
				return false, err
			}
			if ok {
				return false, nil
			}
		}
		return true, nil
	}
	return false, fmt.Errorf("predicate: unknown relation mode %q", p.Mode)
}

func relatedRows(relation string, row warden.Row, res RelationResolver) ([]warden.Row, error) {
	if res != nil {
		return res.Related(relation, row)
	}
	v, ok := row[relation]
	if !ok || v == nil {
		return nil, nil
	}
	switch v := v.(type) {
	case warden.Row:
		return []warden.Row{v}, nil
	case map[string]any:
		return []warden.Row{warden.Row(v)}, nil
	case []warden.Row:
		return v, nil
	case []any:
		rows := make([]warden.Row, 0, len(v))
		for _, e := range v {
			m, ok := e.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("predicate: relation %q holds a non-row element %T", relation, e)
			}
			rows = append(rows, warden.Row(m))
		}
		return rows, nil
	case []map[string]any:
		rows := make([]warden.Row, 0, len(v))
		for _, m := range v {
			rows = append(rows, warden.Row(m))
		}
		return rows, nil
	}
	return nil, fmt.Errorf("predicate: relation %q holds unexpected value %T", relation, v)
}

func equalValues(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if c, ok := compareValues(a, b); ok {
		return c == 0
	}
	return a == b
}

// compareValues orders two scalar values, coercing mixed numeric types.
// The second return value is false when the values are not comparable.
func compareValues(a, b any) (int, bool) {
	if na, ok := toFloat(a); ok {
		nb, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case na < nb:
			return -1, true
		case na > nb:
			return 1, true
		}
		return 0, true
	}
	sa, ok := a.(string)
	if !ok {
		return 0, false
	}
	sb, ok := b.(string)
	if !ok {
		return 0, false
	}
	return strings.Compare(sa, sb), true
}

func toFloat(v any) (float64, bool) {
	switch v := v.(type) {
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}
