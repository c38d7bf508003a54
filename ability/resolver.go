package ability

import (
	"context"

	"golang.org/x/sync/singleflight"

	"github.com/syssam/warden"
)

// BuildFunc resolves a caller identity into an Ability. It may query the
// store to map the identity onto an internal principal; it must return
// an IdentityNotFoundError when the identity does not resolve, and a
// restrictive anonymous ability for the empty identity.
type BuildFunc func(ctx context.Context, identity string) (*Ability, error)

// Resolver memoizes ability construction per identity. Entries live in
// the injected Cache; the default in-memory cache never evicts, so a
// resolved ability stays current until process restart or an explicit
// Invalidate. Concurrent resolutions of one identity are collapsed into
// a single build.
type Resolver struct {
	build BuildFunc
	cache warden.Cache
	group singleflight.Group
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithCache backs the resolver with the given cache instead of a fresh
// in-memory one.
func WithCache(c warden.Cache) ResolverOption {
	return func(r *Resolver) { r.cache = c }
}

// NewResolver returns a Resolver over the build function.
func NewResolver(build BuildFunc, opts ...ResolverOption) *Resolver {
	r := &Resolver{build: build, cache: warden.NewMemoryCache()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the ability for the identity, building and caching it
// on first use. Build failures are not cached.
func (r *Resolver) Resolve(ctx context.Context, identity string) (*Ability, error) {
	if v, ok := r.cache.Get(ctx, identity); ok {
		if a, ok := v.(*Ability); ok {
			return a, nil
		}
	}
	v, err, _ := r.group.Do(identity, func() (any, error) {
		if v, ok := r.cache.Get(ctx, identity); ok {
			if a, ok := v.(*Ability); ok {
				return a, nil
			}
		}
		a, err := r.build(ctx, identity)
		if err != nil {
			return nil, err
		}
		r.cache.Set(ctx, identity, a)
		return a, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Ability), nil
}

// Invalidate drops the cached ability of one identity.
func (r *Resolver) Invalidate(ctx context.Context, identity string) {
	r.cache.Delete(ctx, identity)
}

// InvalidateAll drops every cached ability.
func (r *Resolver) InvalidateAll(ctx context.Context) {
	r.cache.Clear(ctx)
}
