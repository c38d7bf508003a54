package selection

import (
	"context"

	"github.com/99designs/gqlgen/graphql"
)

// FromResolverContext builds the Tree of the field being resolved in a
// gqlgen resolver. It returns nil when the context does not carry a
// gqlgen operation, e.g. in plain unit tests. The selection set has
// been validated by gqlgen at this point, so fragment spreads carry
// their definitions and flatten the same way FromAST flattens them.
func FromResolverContext(ctx context.Context) Tree {
	fc := graphql.GetFieldContext(ctx)
	if fc == nil || !graphql.HasOperationContext(ctx) {
		return nil
	}
	oc := graphql.GetOperationContext(ctx)
	return FromAST(fc.Field.Selections, oc.Variables)
}
