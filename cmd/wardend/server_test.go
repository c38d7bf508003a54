package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/syssam/warden"
	"github.com/syssam/warden/ability"
	"github.com/syssam/warden/middleware"
	"github.com/syssam/warden/schema"
	"github.com/syssam/warden/store/memstore"
)

const serverSchema = `
models:
  - name: User
    fields:
      - {name: id, type: int, unique: true}
      - {name: name, type: string}
  - name: Work
    fields:
      - {name: id, type: int, unique: true}
      - {name: title, type: string}
      - {name: userId, type: int}
`

const serverPolicy = `
roles:
  owner:
    - action: read
      model: Work
      where: {userId: {equals: "${principal}"}}
    - action: create
      model: Work
      where: {userId: {equals: "${principal}"}}
      reason: works can only be created for yourself
    - action: insert
      model: Work
      fields: [title, userId]
identities:
  ann@example.com:
    principal: 1
    roles: [owner]
  ben@example.com:
    principal: 2
    roles: [owner]
`

func newTestServer(t *testing.T, dev bool) *Server {
	t.Helper()
	reg, err := schema.Load(strings.NewReader(serverSchema))
	require.NoError(t, err)
	db := memstore.New(reg)
	ctx := context.Background()
	works, err := db.Model("Work")
	require.NoError(t, err)
	for _, row := range []warden.Row{
		{"id": 1, "title": "intro", "userId": 1},
		{"id": 2, "title": "advanced", "userId": 1},
		{"id": 3, "title": "secret", "userId": 2},
	} {
		_, err := works.Create(ctx, row)
		require.NoError(t, err)
	}

	policy, err := ability.LoadPolicy(strings.NewReader(serverPolicy))
	require.NoError(t, err)
	resolver := ability.NewResolver(policy.BuildFunc(reg))
	ops, err := middleware.NewRegistry(reg, db, middleware.WithAbility(resolver))
	require.NoError(t, err)
	return NewServer(ops, zap.NewNop(), dev)
}

func post(t *testing.T, srv *Server, identity, query string) gqlResponse {
	t.Helper()
	body, err := json.Marshal(gqlRequest{Query: query})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/query", bytes.NewReader(body))
	req.Header.Set("X-Warden-Identity", identity)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp gqlResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestServerQuery(t *testing.T) {
	srv := newTestServer(t, false)

	t.Run("filtered_collection", func(t *testing.T) {
		resp := post(t, srv, "ann@example.com", `{ works { id title } }`)
		require.Empty(t, resp.Errors)
		rows := resp.Data["works"].([]any)
		require.Len(t, rows, 2)
		titles := []string{
			rows[0].(map[string]any)["title"].(string),
			rows[1].(map[string]any)["title"].(string),
		}
		assert.ElementsMatch(t, []string{"intro", "advanced"}, titles)
	})

	t.Run("argument_filter", func(t *testing.T) {
		resp := post(t, srv, "ben@example.com", `{ works(where: {title: {contains: "e"}}) { title } }`)
		require.Empty(t, resp.Errors)
		rows := resp.Data["works"].([]any)
		require.Len(t, rows, 1)
		assert.Equal(t, "secret", rows[0].(map[string]any)["title"])
	})

	t.Run("anonymous_runs_with_empty_ability", func(t *testing.T) {
		resp := post(t, srv, "", `{ works { id } }`)
		require.Empty(t, resp.Errors)
		assert.Empty(t, resp.Data["works"])
	})

	t.Run("unauthenticated", func(t *testing.T) {
		resp := post(t, srv, "ghost@example.com", `{ works { id } }`)
		require.Len(t, resp.Errors, 1)
		assert.Equal(t, "UNAUTHENTICATED", resp.Errors[0].Extensions["code"])
		assert.Nil(t, resp.Data["works"])
	})

	t.Run("unknown_field", func(t *testing.T) {
		resp := post(t, srv, "ann@example.com", `{ gizmos { id } }`)
		require.Len(t, resp.Errors, 1)
		assert.Equal(t, "BAD_USER_INPUT", resp.Errors[0].Extensions["code"])
	})

	t.Run("parse_error", func(t *testing.T) {
		resp := post(t, srv, "ann@example.com", `{ works {`)
		require.Len(t, resp.Errors, 1)
	})
}

func TestServerMutation(t *testing.T) {
	t.Run("forbidden_is_data_minimal", func(t *testing.T) {
		srv := newTestServer(t, false)
		resp := post(t, srv, "ann@example.com",
			`mutation { createOneWork(data: {title: "forged", userId: 2}) { id } }`)
		require.Len(t, resp.Errors, 1)
		e := resp.Errors[0]
		assert.Equal(t, "FORBIDDEN", e.Extensions["code"])
		assert.NotEmpty(t, e.Extensions["incident"])
		assert.NotContains(t, e.Message, "forged")
		assert.NotContains(t, e.Extensions, "detail")
	})

	t.Run("dev_mode_exposes_reasons", func(t *testing.T) {
		srv := newTestServer(t, true)
		resp := post(t, srv, "ann@example.com",
			`mutation { createOneWork(data: {title: "forged", userId: 2}) { id } }`)
		require.Len(t, resp.Errors, 1)
		assert.Equal(t, "not allowed to insert into Work", resp.Errors[0].Extensions["detail"])
	})

	t.Run("allowed_create", func(t *testing.T) {
		srv := newTestServer(t, false)
		resp := post(t, srv, "ann@example.com",
			`mutation { createOneWork(data: {title: "sequel", userId: 1}) { id title } }`)
		require.Empty(t, resp.Errors)
		row := resp.Data["createOneWork"].(map[string]any)
		assert.Equal(t, "sequel", row["title"])
	})
}

func TestLoadConfig(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, "mem", cfg.Driver)
	assert.Equal(t, "policy.yaml", cfg.Policy)
	assert.False(t, cfg.Dev)

	viper.Reset()
	t.Setenv("WARDEN_DRIVER", "postgres")
	_, err = LoadConfig("")
	assert.ErrorContains(t, err, "requires a DSN")
}
