package warden

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Standard sentinel errors. The typed errors below wrap these so callers
// can classify failures with errors.Is without losing the details carried
// by the concrete types.
var (
	// ErrUnknownModel is returned when a model name is not part of the
	// schema. This indicates a bug in schema generation, not bad user
	// input, and is not recovered from at runtime.
	ErrUnknownModel = errors.New("warden: unknown model")

	// ErrUnknownField is returned when a field name is not declared on
	// its model. Like ErrUnknownModel, it signals a schema mismatch.
	ErrUnknownField = errors.New("warden: unknown field")

	// ErrIdentityNotFound is returned when a caller identity does not
	// resolve to a known principal. Surfaced to clients as an
	// authentication failure.
	ErrIdentityNotFound = errors.New("warden: identity not found")

	// ErrUnsupportedOperation is returned for write shapes the guards
	// refuse to authorize, such as connectOrCreate.
	ErrUnsupportedOperation = errors.New("warden: unsupported operation")

	// ErrForbidden is returned when a guard rejects an operation.
	ErrForbidden = errors.New("warden: forbidden")

	// ErrSerialization is returned when the store aborts a serializable
	// transaction because of a concurrent conflict. It is the one error
	// class a caller may retry.
	ErrSerialization = errors.New("warden: serialization conflict")
)

// UnknownModelError reports a model name missing from the schema.
type UnknownModelError struct {
	Name string
}

// Error returns the error string.
func (e *UnknownModelError) Error() string {
	return fmt.Sprintf("warden: unknown model %q", e.Name)
}

// Is reports whether the target error matches ErrUnknownModel.
func (e *UnknownModelError) Is(err error) bool { return err == ErrUnknownModel }

// NewUnknownModelError returns a new UnknownModelError for the given name.
func NewUnknownModelError(name string) *UnknownModelError {
	return &UnknownModelError{Name: name}
}

// IsUnknownModel returns true if the error reports an unknown model.
func IsUnknownModel(err error) bool {
	if err == nil {
		return false
	}
	var e *UnknownModelError
	return errors.As(err, &e) || errors.Is(err, ErrUnknownModel)
}

// UnknownFieldError reports a field name missing from its model.
type UnknownFieldError struct {
	Model string
	Field string
}

// Error returns the error string.
func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("warden: unknown field %q of model %q", e.Field, e.Model)
}

// Is reports whether the target error matches ErrUnknownField.
func (e *UnknownFieldError) Is(err error) bool { return err == ErrUnknownField }

// NewUnknownFieldError returns a new UnknownFieldError.
func NewUnknownFieldError(model, field string) *UnknownFieldError {
	return &UnknownFieldError{Model: model, Field: field}
}

// IsUnknownField returns true if the error reports an unknown field.
func IsUnknownField(err error) bool {
	if err == nil {
		return false
	}
	var e *UnknownFieldError
	return errors.As(err, &e) || errors.Is(err, ErrUnknownField)
}

// IdentityNotFoundError reports a caller identity that did not resolve
// to a known principal.
type IdentityNotFoundError struct {
	Identity string
}

// Error returns the error string.
func (e *IdentityNotFoundError) Error() string {
	return fmt.Sprintf("warden: could not resolve identity %q", e.Identity)
}

// Is reports whether the target error matches ErrIdentityNotFound.
func (e *IdentityNotFoundError) Is(err error) bool { return err == ErrIdentityNotFound }

// NewIdentityNotFoundError returns a new IdentityNotFoundError.
func NewIdentityNotFoundError(identity string) *IdentityNotFoundError {
	return &IdentityNotFoundError{Identity: identity}
}

// IsIdentityNotFound returns true if the error reports an unresolved
// caller identity.
func IsIdentityNotFound(err error) bool {
	if err == nil {
		return false
	}
	var e *IdentityNotFoundError
	return errors.As(err, &e) || errors.Is(err, ErrIdentityNotFound)
}

// UnsupportedOperationError reports a write shape the guards do not
// support. It fails the whole request; unsupported input is never
// silently dropped.
type UnsupportedOperationError struct {
	Op string
}

// Error returns the error string.
func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("warden: unsupported action %q", e.Op)
}

// Is reports whether the target error matches ErrUnsupportedOperation.
func (e *UnsupportedOperationError) Is(err error) bool { return err == ErrUnsupportedOperation }

// NewUnsupportedOperationError returns a new UnsupportedOperationError.
func NewUnsupportedOperationError(op string) *UnsupportedOperationError {
	return &UnsupportedOperationError{Op: op}
}

// IsUnsupportedOperation returns true if the error reports an
// unsupported write shape.
func IsUnsupportedOperation(err error) bool {
	if err == nil {
		return false
	}
	var e *UnsupportedOperationError
	return errors.As(err, &e) || errors.Is(err, ErrUnsupportedOperation)
}

// ForbiddenError is the result of a guard rejection. Its message never
// includes the blocked row's contents; failed requests are correlated
// through a generated incident id instead. The underlying rule reasons
// are kept on the error for request boundaries that choose to expose
// them, e.g. in development mode.
type ForbiddenError struct {
	Op       string
	Model    string
	Incident string
	reasons  []string
}

// NewForbiddenError returns a ForbiddenError for the given operation and
// model, carrying the collected rule reasons. Duplicates are dropped and
// insertion order is preserved, matching how nested input validation
// discovers them.
func NewForbiddenError(op, model string, reasons ...string) *ForbiddenError {
	seen := make(map[string]struct{}, len(reasons))
	uniq := make([]string, 0, len(reasons))
	for _, r := range reasons {
		if r == "" {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		uniq = append(uniq, r)
	}
	return &ForbiddenError{
		Op:       op,
		Model:    model,
		Incident: uuid.NewString(),
		reasons:  uniq,
	}
}

// Error returns the data-minimal error string.
func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("warden: cannot %s %q with %s", e.Op, e.Model, e.Incident)
}

// Reasons returns a copy of the aggregated rule reasons behind the
// rejection.
func (e *ForbiddenError) Reasons() []string {
	return append([]string(nil), e.reasons...)
}

// Detail joins the reasons into one string for request boundaries that
// expose them.
func (e *ForbiddenError) Detail() string {
	return strings.Join(e.reasons, "\n")
}

// Is reports whether the target error matches ErrForbidden.
func (e *ForbiddenError) Is(err error) bool { return err == ErrForbidden }

// IsForbidden returns true if the error is a guard rejection.
func IsForbidden(err error) bool {
	if err == nil {
		return false
	}
	var e *ForbiddenError
	return errors.As(err, &e) || errors.Is(err, ErrForbidden)
}

// IsSerialization returns true if the error reports a serializable
// transaction conflict.
func IsSerialization(err error) bool {
	return err != nil && errors.Is(err, ErrSerialization)
}
