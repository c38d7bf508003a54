// Package selection models the client-requested field shape of one
// query and compiles it, together with the caller's ability and the
// schema metadata, into an authorization-safe read: a filter that the
// permission predicates are conjoined into at every nesting level, and
// a projection mirroring the requested fields.
package selection

// Tree is the requested shape: an ordered list of fields, each carrying
// its arguments and, for relation fields, a nested Tree. Built fresh
// per request.
type Tree []*Field

// Field is one requested field.
type Field struct {
	// Name is the field name as requested.
	Name string

	// Args holds the per-field arguments (where, take, skip, cursor).
	Args map[string]any

	// Children is the nested selection. Empty for scalar leaves.
	Children Tree
}

// Get returns the named field of the tree.
func (t Tree) Get(name string) (*Field, bool) {
	for _, f := range t {
		if f.Name == name {
			return f, true
		}
	}
	return nil, false
}

// Names returns the requested field names in order.
func (t Tree) Names() []string {
	out := make([]string, len(t))
	for i, f := range t {
		out[i] = f.Name
	}
	return out
}

// WhereArg returns the field's "where" argument as a filter document,
// or nil when absent.
func (f *Field) WhereArg() map[string]any {
	if f == nil || f.Args == nil {
		return nil
	}
	w, _ := f.Args["where"].(map[string]any)
	return w
}
