// Package middleware authorizes GraphQL-shaped operations before they
// reach the store. Read guards rewrite filters so a caller only ever
// sees rows their ability grants; write guards validate create input
// column by column and verify row counts around the mutation inside a
// serializable transaction.
package middleware

import (
	"context"

	"github.com/syssam/warden"
	"github.com/syssam/warden/ability"
	"github.com/syssam/warden/selection"
	"github.com/syssam/warden/store"
)

// Request is one guarded operation in flight. Guards mutate Args (the
// filter rewrite) and swap Store for a transaction view; everything
// else is read-only for the duration of the chain.
type Request struct {
	// Identity is the caller principal, as authenticated upstream.
	Identity string

	// Ability is the caller's resolved permission set.
	Ability *ability.Ability

	// Model and Op name the operation, e.g. "Work" / "createOneWork".
	Model string
	Op    string

	// Args are the operation arguments (where, data, pagination).
	Args map[string]any

	// Info is the requested selection below the operation field.
	Info selection.Tree

	// Store handles the operation's data access. Write guards replace
	// it with a transaction-scoped view before calling next.
	Store store.Store
}

func (r *Request) withStore(st store.Store) *Request {
	sub := *r
	sub.Store = st
	sub.Args = warden.CloneMap(r.Args)
	return &sub
}

// Handler executes a request against its store.
type Handler func(ctx context.Context, req *Request) (any, error)

// Next continues the chain.
type Next = Handler

// Middleware wraps a handler. A rejecting guard returns without
// calling next.
type Middleware func(ctx context.Context, req *Request, next Next) (any, error)

// Chain wraps h with the given middlewares, first one outermost.
func Chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		mw, inner := mws[i], h
		h = func(ctx context.Context, req *Request) (any, error) {
			return mw(ctx, req, inner)
		}
	}
	return h
}

// WithAbility resolves the request identity into an Ability when the
// caller has not attached one already.
func WithAbility(r *ability.Resolver) Middleware {
	return func(ctx context.Context, req *Request, next Next) (any, error) {
		if req.Ability == nil {
			ab, err := r.Resolve(ctx, req.Identity)
			if err != nil {
				return nil, err
			}
			req.Ability = ab
		}
		return next(ctx, req)
	}
}
