package selection

import (
	"github.com/vektah/gqlparser/v2/ast"
)

// FromAST builds a Tree from a parsed GraphQL selection set, resolving
// argument values against the operation variables. Fragment spreads and
// inline fragments are flattened into the surrounding selection.
func FromAST(sel ast.SelectionSet, vars map[string]any) Tree {
	var tree Tree
	for _, s := range sel {
		switch s := s.(type) {
		case *ast.Field:
			tree = append(tree, &Field{
				Name:     s.Name,
				Args:     arguments(s, vars),
				Children: FromAST(s.SelectionSet, vars),
			})
		case *ast.InlineFragment:
			tree = append(tree, FromAST(s.SelectionSet, vars)...)
		case *ast.FragmentSpread:
			if s.Definition != nil {
				tree = append(tree, FromAST(s.Definition.SelectionSet, vars)...)
			}
		}
	}
	return tree
}

func arguments(f *ast.Field, vars map[string]any) map[string]any {
	if len(f.Arguments) == 0 {
		return nil
	}
	return f.ArgumentMap(vars)
}
