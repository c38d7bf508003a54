// Package schema exposes the static model metadata the authorization
// layer operates on: per-model scalar fields, relation fields with their
// cardinality and foreign-key linkage, and the unique identifying field.
//
// The metadata is produced once at process start, typically by loading
// the document emitted by the schema-generation step, and is read-only
// afterwards. All lookups are pure.
package schema

import (
	"fmt"

	"github.com/syssam/warden"
)

// FieldKind distinguishes scalar columns from relation fields.
type FieldKind string

const (
	// KindScalar marks a plain column.
	KindScalar FieldKind = "scalar"
	// KindRelation marks a field that traverses to another model.
	KindRelation FieldKind = "relation"
)

// Cardinality describes how many related rows a relation field reaches.
type Cardinality string

const (
	// Single marks a to-one relation.
	Single Cardinality = "single"
	// Many marks a to-many relation.
	Many Cardinality = "many"
)

// Field describes one field of a model. Immutable after registry
// construction.
type Field struct {
	// Name is the field name as exposed in the API.
	Name string

	// Kind is KindScalar or KindRelation.
	Kind FieldKind

	// Type is the scalar type name (Int, String, ...) for scalar
	// fields.
	Type string

	// Unique marks the identifying column of the model.
	Unique bool

	// Ref is the related model name for relation fields.
	Ref string

	// Cardinality is Single or Many for relation fields.
	Cardinality Cardinality

	// FromColumn and ToColumn are the linking column pair of a
	// relation: FromColumn on this model references ToColumn on the
	// related model. For a to-many relation the pair is read from the
	// owning side, i.e. FromColumn lives on the related model.
	FromColumn string
	ToColumn   string
}

// IsRelation reports whether the field traverses to another model.
func (f Field) IsRelation() bool { return f.Kind == KindRelation }

// Model describes one model of the schema.
type Model struct {
	Name   string
	Fields []Field

	fields map[string]int
}

// Field returns the named field descriptor.
func (m *Model) Field(name string) (Field, bool) {
	i, ok := m.fields[name]
	if !ok {
		return Field{}, false
	}
	return m.Fields[i], true
}

// Scalars returns the scalar fields of the model in declaration order.
func (m *Model) Scalars() []Field {
	out := make([]Field, 0, len(m.Fields))
	for _, f := range m.Fields {
		if f.Kind == KindScalar {
			out = append(out, f)
		}
	}
	return out
}

// Relations returns the relation fields of the model in declaration
// order.
func (m *Model) Relations() []Field {
	out := make([]Field, 0, len(m.Fields))
	for _, f := range m.Fields {
		if f.Kind == KindRelation {
			out = append(out, f)
		}
	}
	return out
}

// UniqueField returns the name of the first field flagged unique. The
// second return value is false when the model declares none.
func (m *Model) UniqueField() (string, bool) {
	for _, f := range m.Fields {
		if f.Unique {
			return f.Name, true
		}
	}
	return "", false
}

// Registry is the process-wide set of model descriptors. Immutable once
// built; safe for concurrent use.
type Registry struct {
	models  map[string]*Model
	ordered []*Model
}

// New builds a Registry from the given models. It fails if a model name
// repeats, a relation references an unknown model, or a relation's
// linking columns are not declared scalars on their respective sides.
func New(models ...Model) (*Registry, error) {
	r := &Registry{models: make(map[string]*Model, len(models))}
	for i := range models {
		m := models[i]
		if _, ok := r.models[m.Name]; ok {
			return nil, fmt.Errorf("schema: duplicate model %q", m.Name)
		}
		m.fields = make(map[string]int, len(m.Fields))
		for j, f := range m.Fields {
			if _, ok := m.fields[f.Name]; ok {
				return nil, fmt.Errorf("schema: duplicate field %q of model %q", f.Name, m.Name)
			}
			m.fields[f.Name] = j
		}
		r.models[m.Name] = &m
		r.ordered = append(r.ordered, &m)
	}
	for _, m := range r.ordered {
		for _, f := range m.Relations() {
			ref, ok := r.models[f.Ref]
			if !ok {
				return nil, fmt.Errorf("schema: relation %q of model %q references unknown model %q", f.Name, m.Name, f.Ref)
			}
			owner, other := m, ref
			if f.Cardinality == Many {
				owner, other = ref, m
			}
			if f.FromColumn != "" {
				if g, ok := owner.Field(f.FromColumn); !ok || g.Kind != KindScalar {
					return nil, fmt.Errorf("schema: relation %q of model %q links from unknown column %q", f.Name, m.Name, f.FromColumn)
				}
			}
			if f.ToColumn != "" {
				if g, ok := other.Field(f.ToColumn); !ok || g.Kind != KindScalar {
					return nil, fmt.Errorf("schema: relation %q of model %q links to unknown column %q", f.Name, m.Name, f.ToColumn)
				}
			}
		}
	}
	return r, nil
}

// Lookup returns the named model descriptor, or an UnknownModelError.
func (r *Registry) Lookup(name string) (*Model, error) {
	m, ok := r.models[name]
	if !ok {
		return nil, warden.NewUnknownModelError(name)
	}
	return m, nil
}

// MustLookup is like Lookup but panics on an unknown model. Use only
// where the name was already validated against the schema.
func (r *Registry) MustLookup(name string) *Model {
	m, err := r.Lookup(name)
	if err != nil {
		panic(err)
	}
	return m
}

// Models returns the model descriptors in declaration order.
func (r *Registry) Models() []*Model {
	return append([]*Model(nil), r.ordered...)
}

// Relations returns the relation fields of the named model.
func (r *Registry) Relations(model string) ([]Field, error) {
	m, err := r.Lookup(model)
	if err != nil {
		return nil, err
	}
	return m.Relations(), nil
}

// UniqueField returns the declared unique field of the named model.
func (r *Registry) UniqueField(model string) (string, bool, error) {
	m, err := r.Lookup(model)
	if err != nil {
		return "", false, err
	}
	name, ok := m.UniqueField()
	return name, ok, nil
}
