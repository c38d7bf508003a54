package ability_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/warden"
	"github.com/syssam/warden/ability"
	"github.com/syssam/warden/predicate"
	"github.com/syssam/warden/schema"
)

const policyDoc = `
roles:
  owner:
    - action: read
      model: Work
      where: {userId: {equals: "${principal}"}}
      reason: users read their own works
    - action: create
      model: Work
      where: {userId: {equals: "${principal}"}}
    - action: insert
      model: Work
      fields: [title, userId]
  auditor:
    - action: read
      model: Work
    - action: read
      model: Work
      where: {published: {equals: false}}
      inverted: true
identities:
  ann@example.com:
    principal: 1
    roles: [owner]
  audit@example.com:
    roles: [auditor]
anonymous: [auditor]
`

const policySchema = `
models:
  - name: Work
    fields:
      - {name: id, type: int, unique: true}
      - {name: title, type: string}
      - {name: userId, type: int}
      - {name: published, type: bool}
`

func TestPolicy(t *testing.T) {
	reg, err := schema.Load(strings.NewReader(policySchema))
	require.NoError(t, err)
	p, err := ability.LoadPolicy(strings.NewReader(policyDoc))
	require.NoError(t, err)
	build := p.BuildFunc(reg)
	ctx := context.Background()

	t.Run("principal_substitution", func(t *testing.T) {
		a, err := build(ctx, "ann@example.com")
		require.NoError(t, err)
		filter := a.AccessibleBy(warden.ActionRead, "Work")
		require.NotNil(t, filter)
		assert.Equal(t, predicate.FieldEQ("userId", 1).String(), filter.String())
		assert.True(t, a.CanColumn(warden.ActionInsert, "Work", "title"))
		assert.False(t, a.CanColumn(warden.ActionInsert, "Work", "id"))
	})

	t.Run("inverted_rule", func(t *testing.T) {
		a, err := build(ctx, "audit@example.com")
		require.NoError(t, err)
		assert.False(t, a.Can(warden.ActionRead, "Work"))
		require.NotNil(t, a.AccessibleBy(warden.ActionRead, "Work"))
	})

	t.Run("empty_identity_gets_anonymous_roles", func(t *testing.T) {
		a, err := build(ctx, "")
		require.NoError(t, err)
		assert.False(t, a.Can(warden.ActionRead, "Work"))
		require.NotNil(t, a.AccessibleBy(warden.ActionRead, "Work"))
		assert.False(t, a.Can(warden.ActionCreate, "Work"))
	})

	t.Run("empty_identity_without_anonymous_roles", func(t *testing.T) {
		bare, err := ability.LoadPolicy(strings.NewReader(`
roles:
  owner:
    - action: read
      model: Work
identities:
  ann@example.com: {roles: [owner]}
`))
		require.NoError(t, err)
		a, err := bare.BuildFunc(reg)(ctx, "")
		require.NoError(t, err)
		assert.False(t, a.Can(warden.ActionRead, "Work"))
		assert.Equal(t, predicate.Nothing().String(), a.AccessibleBy(warden.ActionRead, "Work").String())
	})

	t.Run("unknown_identity", func(t *testing.T) {
		_, err := build(ctx, "ghost@example.com")
		assert.True(t, warden.IsIdentityNotFound(err))
	})

	t.Run("unknown_action", func(t *testing.T) {
		bad, err := ability.LoadPolicy(strings.NewReader(`
roles:
  broken:
    - action: fly
      model: Work
identities:
  x: {roles: [broken]}
`))
		require.NoError(t, err)
		_, err = bad.BuildFunc(reg)(ctx, "x")
		assert.ErrorContains(t, err, "unknown action")
	})
}
