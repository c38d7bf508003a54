package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
	"go.uber.org/zap"

	"github.com/syssam/warden"
	"github.com/syssam/warden/middleware"
	"github.com/syssam/warden/selection"
)

// Server executes GraphQL documents through the guarded operation
// registry. It resolves no schema of its own; each top-level field is
// dispatched by name and unknown fields fail the request.
type Server struct {
	reg *middleware.Registry
	log *zap.Logger
	dev bool
}

// NewServer returns a Server over the given operation registry.
func NewServer(reg *middleware.Registry, log *zap.Logger, dev bool) *Server {
	return &Server{reg: reg, log: log, dev: dev}
}

type gqlRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName"`
	Variables     map[string]any `json:"variables"`
}

type gqlError struct {
	Message    string         `json:"message"`
	Path       []string       `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

type gqlResponse struct {
	Data   map[string]any `json:"data"`
	Errors []gqlError     `json:"errors,omitempty"`
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req gqlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respond(w, gqlResponse{Errors: []gqlError{{Message: "malformed request body"}}})
		return
	}
	doc, err := parser.ParseQuery(&ast.Source{Name: "request", Input: req.Query})
	if err != nil {
		s.respond(w, gqlResponse{Errors: []gqlError{{Message: err.Error()}}})
		return
	}
	op := s.operation(doc, req.OperationName)
	if op == nil {
		s.respond(w, gqlResponse{Errors: []gqlError{{Message: "operation not found"}}})
		return
	}
	if op.Operation != ast.Query && op.Operation != ast.Mutation {
		s.respond(w, gqlResponse{Errors: []gqlError{{Message: "only queries and mutations are supported"}}})
		return
	}

	identity := r.Header.Get("X-Warden-Identity")
	tree := selection.FromAST(op.SelectionSet, req.Variables)

	resp := gqlResponse{Data: make(map[string]any, len(tree))}
	for _, field := range tree {
		res, err := s.reg.Dispatch(r.Context(), identity, nil, field.Name, field.Args, field.Children)
		if err != nil {
			resp.Data[field.Name] = nil
			resp.Errors = append(resp.Errors, s.shape(field.Name, err))
			continue
		}
		resp.Data[field.Name] = res
	}
	s.respond(w, resp)
}

func (s *Server) operation(doc *ast.QueryDocument, name string) *ast.OperationDefinition {
	if name == "" {
		if len(doc.Operations) == 1 {
			return doc.Operations[0]
		}
		return nil
	}
	return doc.Operations.ForName(name)
}

// shape maps internal errors onto GraphQL error entries. Guard
// rejections stay data-minimal outside development mode: the client
// gets the incident id, the log gets the rule reasons.
func (s *Server) shape(field string, err error) gqlError {
	path := []string{field}
	var forbidden *warden.ForbiddenError
	switch {
	case errors.As(err, &forbidden):
		ext := map[string]any{
			"code":     "FORBIDDEN",
			"incident": forbidden.Incident,
		}
		if s.dev && forbidden.Detail() != "" {
			ext["detail"] = forbidden.Detail()
		}
		s.log.Warn("request forbidden",
			zap.String("field", field),
			zap.String("incident", forbidden.Incident),
			zap.Strings("reasons", forbidden.Reasons()),
		)
		return gqlError{Message: forbidden.Error(), Path: path, Extensions: ext}
	case warden.IsIdentityNotFound(err):
		return gqlError{Message: "unauthenticated", Path: path, Extensions: map[string]any{"code": "UNAUTHENTICATED"}}
	case warden.IsSerialization(err):
		return gqlError{Message: "temporary conflict, retry the request", Path: path, Extensions: map[string]any{"code": "CONFLICT", "retryable": true}}
	case warden.IsUnsupportedOperation(err), warden.IsUnknownField(err):
		return gqlError{Message: err.Error(), Path: path, Extensions: map[string]any{"code": "BAD_USER_INPUT"}}
	}
	s.log.Error("request failed", zap.String("field", field), zap.Error(err))
	if s.dev {
		return gqlError{Message: err.Error(), Path: path, Extensions: map[string]any{"code": "INTERNAL"}}
	}
	return gqlError{Message: "internal error", Path: path, Extensions: map[string]any{"code": "INTERNAL"}}
}

func (s *Server) respond(w http.ResponseWriter, resp gqlResponse) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Error("write response", zap.Error(err))
	}
}
