// Package warden implements an authorization layer for GraphQL-shaped APIs
// served over a relational store. It rewrites incoming queries and guards
// mutations so that every operation a caller performs stays inside the row
// and column set their ability grants them.
package warden

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Action enumerates the operations an ability rule may grant or revoke.
type Action string

const (
	// ActionRead covers findMany/findOne style reads, including reads of
	// related entities reached through a selection tree.
	ActionRead Action = "read"

	// ActionCreate is the row-level permission to create an entity.
	ActionCreate Action = "create"

	// ActionUpdate is the row-level permission to update an entity.
	ActionUpdate Action = "update"

	// ActionDelete is the row-level permission to delete an entity.
	ActionDelete Action = "delete"

	// ActionInsert is the column-level permission to set a scalar column
	// during creation. It is checked per column, unlike the row-level
	// actions above.
	ActionInsert Action = "insert"
)

// String returns the action name.
func (a Action) String() string { return string(a) }

// Valid reports whether a is one of the known actions.
func (a Action) Valid() bool {
	switch a {
	case ActionRead, ActionCreate, ActionUpdate, ActionDelete, ActionInsert:
		return true
	}
	return false
}

// Value is the dynamic value of a row column.
type Value = any

// Row is a single stored entity, keyed by column name. Relation fields
// loaded through an include hold a nested Row or []Row.
type Row map[string]Value

// Get returns the value of the named column and whether it is present.
func (r Row) Get(name string) (Value, bool) {
	v, ok := r[name]
	return v, ok
}

// Clone returns a deep copy of the row. Nested rows, slices and maps are
// copied through a msgpack round trip so mutating the clone never leaks
// into the original.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	out, err := cloneValue(r)
	if err != nil {
		// Rows only ever hold msgpack-encodable scalars, maps and
		// slices; failing here indicates corrupted row data.
		panic(fmt.Sprintf("warden: clone row: %v", err))
	}
	return Row(out)
}

func cloneValue(v map[string]Value) (map[string]Value, error) {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]Value
	if err := msgpack.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CloneMap deep-copies an arbitrary string-keyed document, such as the
// operation arguments of a request, using the same msgpack round trip as
// Row.Clone.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out, err := cloneValue(m)
	if err != nil {
		panic(fmt.Sprintf("warden: clone map: %v", err))
	}
	return out
}

// BatchResult is the payload returned by createMany/updateMany/deleteMany
// operations.
type BatchResult struct {
	Count int `json:"count"`
}
