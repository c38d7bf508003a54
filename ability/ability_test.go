package ability_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/warden"
	"github.com/syssam/warden/ability"
	"github.com/syssam/warden/predicate"
)

func ownerAbility(userID int) *ability.Ability {
	b := ability.NewBuilder()
	b.Can(warden.ActionRead, "Work").
		Where(predicate.FieldEQ("userId", userID)).
		Because("users read their own works")
	b.Can(warden.ActionRead, "Account").
		Where(predicate.FieldEQ("userId", userID))
	b.Can(warden.ActionCreate, "Work").
		Where(predicate.FieldEQ("userId", userID)).
		Because("users create works for themselves")
	b.Can(warden.ActionInsert, "Work").Fields("title", "userId")
	return b.Build()
}

func TestCan(t *testing.T) {
	t.Run("unconditional_grant", func(t *testing.T) {
		b := ability.NewBuilder()
		b.Can(warden.ActionRead, "Genre")
		a := b.Build()
		assert.True(t, a.Can(warden.ActionRead, "Genre"))
		assert.False(t, a.Can(warden.ActionRead, "Work"))
		assert.False(t, a.Can(warden.ActionDelete, "Genre"))
	})

	t.Run("conditional_grant_is_not_blanket", func(t *testing.T) {
		a := ownerAbility(1)
		assert.False(t, a.Can(warden.ActionRead, "Work"))
	})

	t.Run("later_cannot_wins", func(t *testing.T) {
		b := ability.NewBuilder()
		b.Can(warden.ActionRead, "Genre")
		b.Cannot(warden.ActionRead, "Genre")
		assert.False(t, b.Build().Can(warden.ActionRead, "Genre"))
	})

	t.Run("later_can_wins_over_cannot", func(t *testing.T) {
		b := ability.NewBuilder()
		b.Cannot(warden.ActionRead, "Genre")
		b.Can(warden.ActionRead, "Genre")
		assert.True(t, b.Build().Can(warden.ActionRead, "Genre"))
	})
}

func TestCanRow(t *testing.T) {
	a := ownerAbility(1)

	t.Run("own_row", func(t *testing.T) {
		assert.True(t, a.CanRow(warden.ActionCreate, "Work", warden.Row{"userId": 1, "title": "x"}))
	})

	t.Run("foreign_row", func(t *testing.T) {
		assert.False(t, a.CanRow(warden.ActionCreate, "Work", warden.Row{"userId": 2, "title": "x"}))
	})

	t.Run("row_without_discriminating_column", func(t *testing.T) {
		// An entity that cannot prove it satisfies the predicate is
		// denied.
		assert.False(t, a.CanRow(warden.ActionCreate, "Work", warden.Row{"title": "x"}))
	})

	t.Run("no_rule_denies", func(t *testing.T) {
		assert.False(t, a.CanRow(warden.ActionDelete, "Work", warden.Row{"userId": 1}))
	})

	t.Run("relevant_rule_reason", func(t *testing.T) {
		r, ok := a.RelevantRule(warden.ActionCreate, "Work", warden.Row{"userId": 1})
		require.True(t, ok)
		assert.Equal(t, "users create works for themselves", r.Reason)
	})
}

func TestCanColumn(t *testing.T) {
	a := ownerAbility(1)

	t.Run("allowed_columns", func(t *testing.T) {
		assert.True(t, a.CanColumn(warden.ActionInsert, "Work", "title"))
		assert.True(t, a.CanColumn(warden.ActionInsert, "Work", "userId"))
	})

	t.Run("default_deny", func(t *testing.T) {
		assert.False(t, a.CanColumn(warden.ActionInsert, "Work", "secret"))
		assert.False(t, a.CanColumn(warden.ActionInsert, "Account", "name"))
	})

	t.Run("revoked_column", func(t *testing.T) {
		b := ability.NewBuilder()
		b.Can(warden.ActionInsert, "Work").Fields("title", "userId")
		b.Cannot(warden.ActionInsert, "Work").Fields("userId").Because("userId is attached by policy")
		a := b.Build()
		assert.True(t, a.CanColumn(warden.ActionInsert, "Work", "title"))
		assert.False(t, a.CanColumn(warden.ActionInsert, "Work", "userId"))
		r, ok := a.ColumnRule(warden.ActionInsert, "Work", "userId")
		require.True(t, ok)
		assert.Equal(t, "userId is attached by policy", r.Reason)
	})
}

func TestAccessibleBy(t *testing.T) {
	t.Run("no_grant_matches_nothing", func(t *testing.T) {
		a := ability.New()
		assert.True(t, predicate.IsNothing(a.AccessibleBy(warden.ActionRead, "Work")))
	})

	t.Run("unconditional_grant_means_no_filter", func(t *testing.T) {
		b := ability.NewBuilder()
		b.Can(warden.ActionRead, "Genre")
		assert.Nil(t, b.Build().AccessibleBy(warden.ActionRead, "Genre"))
	})

	t.Run("single_condition", func(t *testing.T) {
		a := ownerAbility(7)
		p := a.AccessibleBy(warden.ActionRead, "Work")
		require.NotNil(t, p)
		assert.Equal(t, "userId == 7", p.String())
	})

	t.Run("multiple_grants_disjoin", func(t *testing.T) {
		b := ability.NewBuilder()
		b.Can(warden.ActionRead, "Customer").Where(predicate.FieldEQ("supportRepId", 3))
		b.Can(warden.ActionRead, "Customer").Where(
			predicate.Is("employee", predicate.FieldEQ("reportsTo", 3)),
		)
		p := b.Build().AccessibleBy(warden.ActionRead, "Customer")
		assert.Equal(t, `(supportRepId == 3 || is(employee, reportsTo == 3))`, p.String())
	})

	t.Run("revocation_subtracts", func(t *testing.T) {
		b := ability.NewBuilder()
		b.Can(warden.ActionRead, "Work")
		b.Cannot(warden.ActionRead, "Work").Where(predicate.FieldEQ("archived", true))
		p := b.Build().AccessibleBy(warden.ActionRead, "Work")
		require.NotNil(t, p)
		assert.Equal(t, "!(archived == true)", p.String())
	})

	t.Run("blanket_revocation_wipes_grants", func(t *testing.T) {
		b := ability.NewBuilder()
		b.Can(warden.ActionRead, "Work").Where(predicate.FieldEQ("userId", 1))
		b.Cannot(warden.ActionRead, "Work")
		p := b.Build().AccessibleBy(warden.ActionRead, "Work")
		assert.True(t, predicate.IsNothing(p))
	})
}

func TestResolver(t *testing.T) {
	t.Run("memoizes_per_identity", func(t *testing.T) {
		var builds atomic.Int32
		r := ability.NewResolver(func(_ context.Context, identity string) (*ability.Ability, error) {
			builds.Add(1)
			if identity == "ghost@example.com" {
				return nil, warden.NewIdentityNotFoundError(identity)
			}
			return ownerAbility(1), nil
		})
		ctx := context.Background()

		a1, err := r.Resolve(ctx, "a@example.com")
		require.NoError(t, err)
		a2, err := r.Resolve(ctx, "a@example.com")
		require.NoError(t, err)
		assert.Same(t, a1, a2)
		assert.Equal(t, int32(1), builds.Load())

		_, err = r.Resolve(ctx, "b@example.com")
		require.NoError(t, err)
		assert.Equal(t, int32(2), builds.Load())
	})

	t.Run("build_failure_not_cached", func(t *testing.T) {
		var builds atomic.Int32
		r := ability.NewResolver(func(_ context.Context, identity string) (*ability.Ability, error) {
			builds.Add(1)
			return nil, warden.NewIdentityNotFoundError(identity)
		})
		ctx := context.Background()
		_, err := r.Resolve(ctx, "ghost@example.com")
		require.True(t, warden.IsIdentityNotFound(err))
		_, err = r.Resolve(ctx, "ghost@example.com")
		require.True(t, warden.IsIdentityNotFound(err))
		assert.Equal(t, int32(2), builds.Load())
	})

	t.Run("concurrent_resolutions_collapse", func(t *testing.T) {
		var builds atomic.Int32
		block := make(chan struct{})
		r := ability.NewResolver(func(_ context.Context, _ string) (*ability.Ability, error) {
			builds.Add(1)
			<-block
			return ownerAbility(1), nil
		})
		ctx := context.Background()

		var wg sync.WaitGroup
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := r.Resolve(ctx, "a@example.com")
				assert.NoError(t, err)
			}()
		}
		close(block)
		wg.Wait()
		assert.Equal(t, int32(1), builds.Load())
	})

	t.Run("invalidate", func(t *testing.T) {
		var builds atomic.Int32
		r := ability.NewResolver(func(_ context.Context, _ string) (*ability.Ability, error) {
			builds.Add(1)
			return ownerAbility(1), nil
		})
		ctx := context.Background()
		_, err := r.Resolve(ctx, "a@example.com")
		require.NoError(t, err)
		r.Invalidate(ctx, "a@example.com")
		_, err = r.Resolve(ctx, "a@example.com")
		require.NoError(t, err)
		assert.Equal(t, int32(2), builds.Load())
	})
}

func TestResolverError(t *testing.T) {
	r := ability.NewResolver(func(_ context.Context, identity string) (*ability.Ability, error) {
		return nil, errors.New("store down")
	})
	_, err := r.Resolve(context.Background(), "a@example.com")
	require.EqualError(t, err, "store down")
}
