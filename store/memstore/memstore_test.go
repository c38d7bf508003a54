package memstore_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/warden"
	"github.com/syssam/warden/predicate"
	"github.com/syssam/warden/schema"
	"github.com/syssam/warden/store"
	"github.com/syssam/warden/store/memstore"
)

func testStore(t *testing.T) *memstore.Store {
	t.Helper()
	reg, err := schema.New(
		schema.Model{
			Name: "User",
			Fields: []schema.Field{
				{Name: "id", Kind: schema.KindScalar, Type: "Int", Unique: true},
				{Name: "email", Kind: schema.KindScalar, Type: "String"},
				{Name: "works", Kind: schema.KindRelation, Ref: "Work", Cardinality: schema.Many, FromColumn: "userId", ToColumn: "id"},
			},
		},
		schema.Model{
			Name: "Work",
			Fields: []schema.Field{
				{Name: "id", Kind: schema.KindScalar, Type: "Int", Unique: true},
				{Name: "title", Kind: schema.KindScalar, Type: "String"},
				{Name: "userId", Kind: schema.KindScalar, Type: "Int"},
				{Name: "user", Kind: schema.KindRelation, Ref: "User", Cardinality: schema.Single, FromColumn: "userId", ToColumn: "id"},
			},
		},
	)
	require.NoError(t, err)

	s := memstore.New(reg)
	require.NoError(t, s.Seed("User",
		warden.Row{"id": 1, "email": "ann@example.com"},
		warden.Row{"id": 2, "email": "ben@example.com"},
	))
	require.NoError(t, s.Seed("Work",
		warden.Row{"id": 1, "title": "intro", "userId": 1},
		warden.Row{"id": 2, "title": "advanced", "userId": 1},
		warden.Row{"id": 3, "title": "secret", "userId": 2},
	))
	return s
}

func works(t *testing.T, s store.Store) store.Collection {
	t.Helper()
	c, err := s.Model("Work")
	require.NoError(t, err)
	return c
}

func TestModelUnknown(t *testing.T) {
	s := testStore(t)
	_, err := s.Model("Track")
	require.Error(t, err)
	assert.True(t, warden.IsUnknownModel(err))
}

func TestFindMany(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	t.Run("filter_by_field", func(t *testing.T) {
		rows, err := works(t, s).FindMany(ctx, predicate.FieldEQ("userId", 1), nil, nil)
		require.NoError(t, err)
		assert.Len(t, rows, 2)
	})

	t.Run("filter_by_relation", func(t *testing.T) {
		rows, err := works(t, s).FindMany(ctx,
			predicate.Is("user", predicate.FieldEQ("email", "ben@example.com")), nil, nil)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "secret", rows[0]["title"])
	})

	t.Run("many_relation_traversal", func(t *testing.T) {
		users, err := s.Model("User")
		require.NoError(t, err)
		rows, err := users.FindMany(ctx,
			predicate.Some("works", predicate.FieldContains("title", "adv")), nil, nil)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.EqualValues(t, 1, rows[0]["id"])
	})

	t.Run("include_embeds_relation", func(t *testing.T) {
		rows, err := works(t, s).FindMany(ctx, predicate.FieldEQ("id", 1),
			predicate.Include{"user": nil}, nil)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		user, ok := rows[0]["user"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "ann@example.com", user["email"])
	})

	t.Run("pagination", func(t *testing.T) {
		take, skip := 1, 1
		rows, err := works(t, s).FindMany(ctx, nil, nil, &store.Pagination{Take: &take, Skip: &skip})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "advanced", rows[0]["title"])
	})

	t.Run("results_are_clones", func(t *testing.T) {
		rows, err := works(t, s).FindMany(ctx, predicate.FieldEQ("id", 1), nil, nil)
		require.NoError(t, err)
		rows[0]["title"] = "mutated"
		again, err := works(t, s).FindFirst(ctx, predicate.FieldEQ("id", 1), nil)
		require.NoError(t, err)
		assert.Equal(t, "intro", again["title"])
	})
}

func TestFindFirst(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	row, err := works(t, s).FindFirst(ctx, predicate.FieldEQ("id", 3), nil)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "secret", row["title"])

	row, err = works(t, s).FindFirst(ctx, predicate.FieldEQ("id", 99), nil)
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestCount(t *testing.T) {
	s := testStore(t)
	n, err := works(t, s).Count(context.Background(), predicate.FieldEQ("userId", 1))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestCreate(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	t.Run("assigns_unique_column", func(t *testing.T) {
		row, err := works(t, s).Create(ctx, warden.Row{"title": "new", "userId": 2})
		require.NoError(t, err)
		assert.EqualValues(t, 4, row["id"])
	})

	t.Run("ignores_undeclared_columns", func(t *testing.T) {
		row, err := works(t, s).Create(ctx, warden.Row{"title": "x", "ghost": 1})
		require.NoError(t, err)
		_, ok := row["ghost"]
		assert.False(t, ok)
	})

	t.Run("string_key_is_not_auto_assigned", func(t *testing.T) {
		reg, err := schema.New(schema.Model{
			Name: "Tag",
			Fields: []schema.Field{
				{Name: "slug", Kind: schema.KindScalar, Type: "String", Unique: true},
				{Name: "label", Kind: schema.KindScalar, Type: "String"},
			},
		})
		require.NoError(t, err)
		tags, err := memstore.New(reg).Model("Tag")
		require.NoError(t, err)

		row, err := tags.Create(ctx, warden.Row{"label": "go"})
		require.NoError(t, err)
		_, set := row["slug"]
		assert.False(t, set)

		row, err = tags.Create(ctx, warden.Row{"slug": "go", "label": "go"})
		require.NoError(t, err)
		assert.Equal(t, "go", row["slug"])
	})

	t.Run("create_many", func(t *testing.T) {
		res, err := works(t, s).CreateMany(ctx, []warden.Row{
			{"title": "a", "userId": 1},
			{"title": "b", "userId": 1},
		})
		require.NoError(t, err)
		assert.Equal(t, 2, res.Count)
	})
}

func TestUpdateDelete(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	t.Run("update_many", func(t *testing.T) {
		res, err := works(t, s).UpdateMany(ctx, predicate.FieldEQ("userId", 1), warden.Row{"title": "renamed"})
		require.NoError(t, err)
		assert.Equal(t, 2, res.Count)
		n, err := works(t, s).Count(ctx, predicate.FieldEQ("title", "renamed"))
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("update_no_match", func(t *testing.T) {
		row, err := works(t, s).Update(ctx, predicate.FieldEQ("id", 99), warden.Row{"title": "x"})
		require.NoError(t, err)
		assert.Nil(t, row)
	})

	t.Run("delete", func(t *testing.T) {
		row, err := works(t, s).Delete(ctx, predicate.FieldEQ("id", 3))
		require.NoError(t, err)
		require.NotNil(t, row)
		assert.Equal(t, "secret", row["title"])
		n, err := works(t, s).Count(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})
}

func TestInTx(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	t.Run("commit", func(t *testing.T) {
		err := s.InTx(ctx, store.IsolationSerializable, func(tx store.Store) error {
			c, err := tx.Model("Work")
			if err != nil {
				return err
			}
			_, err = c.Create(ctx, warden.Row{"title": "tx", "userId": 1})
			return err
		})
		require.NoError(t, err)
		n, err := works(t, s).Count(ctx, predicate.FieldEQ("title", "tx"))
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("rollback_restores_snapshot", func(t *testing.T) {
		before, err := works(t, s).Count(ctx, nil)
		require.NoError(t, err)

		boom := errors.New("boom")
		err = s.InTx(ctx, store.IsolationSerializable, func(tx store.Store) error {
			c, err := tx.Model("Work")
			if err != nil {
				return err
			}
			if _, err := c.Create(ctx, warden.Row{"title": "ghost", "userId": 1}); err != nil {
				return err
			}
			if _, err := c.DeleteMany(ctx, predicate.FieldEQ("userId", 1)); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		after, err := works(t, s).Count(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, before, after)
		n, err := works(t, s).Count(ctx, predicate.FieldEQ("title", "ghost"))
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}
