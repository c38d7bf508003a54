package selection_test

import (
	"context"
	"testing"

	"github.com/99designs/gqlgen/graphql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"

	"github.com/syssam/warden/selection"
)

// resolverContext builds the operation and field contexts gqlgen
// installs around a resolver call, positioned on the first top-level
// field of the query.
func resolverContext(t *testing.T, query string, vars map[string]any) context.Context {
	t.Helper()
	doc, err := parser.ParseQuery(&ast.Source{Input: query})
	require.NoError(t, err)
	require.NotEmpty(t, doc.Operations)
	op := doc.Operations[0]
	root, ok := op.SelectionSet[0].(*ast.Field)
	require.True(t, ok)

	oc := &graphql.OperationContext{
		RawQuery:  query,
		Doc:       doc,
		Operation: op,
		Variables: vars,
	}
	ctx := graphql.WithOperationContext(context.Background(), oc)
	return graphql.WithFieldContext(ctx, &graphql.FieldContext{
		Field: graphql.CollectedField{Field: root, Selections: root.SelectionSet},
	})
}

func TestFromResolverContext(t *testing.T) {
	t.Run("fields_args_and_variables", func(t *testing.T) {
		ctx := resolverContext(t,
			`query($n: Int) { works { id user(take: $n) { email } } }`,
			map[string]any{"n": 2},
		)
		tree := selection.FromResolverContext(ctx)
		require.Len(t, tree, 2)
		assert.Equal(t, []string{"id", "user"}, tree.Names())

		user := tree[1]
		require.NotNil(t, user.Args)
		assert.EqualValues(t, 2, user.Args["take"])
		assert.Equal(t, []string{"email"}, user.Children.Names())
	})

	t.Run("where_argument_round_trips", func(t *testing.T) {
		ctx := resolverContext(t,
			`query($w: UserWhereInput) { works { id user(where: $w) { id } } }`,
			map[string]any{"w": map[string]any{"email": map[string]any{"contains": "@"}}},
		)
		tree := selection.FromResolverContext(ctx)
		require.Len(t, tree, 2)
		where := tree[1].WhereArg()
		require.NotNil(t, where)
		assert.Equal(t, map[string]any{"contains": "@"}, where["email"])
	})

	t.Run("fragments_flatten", func(t *testing.T) {
		doc, err := parser.ParseQuery(&ast.Source{Input: `
			query { works { ...workFields user { id } ... { userId } } }
			fragment workFields on Work { id title }
		`})
		require.NoError(t, err)
		op := doc.Operations[0]
		root := op.SelectionSet[0].(*ast.Field)
		// Wire the spread to its definition the way the validator
		// would.
		spread := root.SelectionSet[0].(*ast.FragmentSpread)
		spread.Definition = doc.Fragments.ForName("workFields")

		oc := &graphql.OperationContext{Doc: doc, Operation: op}
		ctx := graphql.WithOperationContext(context.Background(), oc)
		ctx = graphql.WithFieldContext(ctx, &graphql.FieldContext{
			Field: graphql.CollectedField{Field: root, Selections: root.SelectionSet},
		})

		tree := selection.FromResolverContext(ctx)
		assert.Equal(t, []string{"id", "title", "user", "userId"}, tree.Names())
	})

	t.Run("missing_context_is_nil", func(t *testing.T) {
		assert.Nil(t, selection.FromResolverContext(context.Background()))
	})

	t.Run("missing_operation_context_is_nil", func(t *testing.T) {
		ctx := graphql.WithFieldContext(context.Background(), &graphql.FieldContext{})
		assert.Nil(t, selection.FromResolverContext(ctx))
	})
}
