// Package store defines the narrow contract the authorization layer
// consumes from the underlying relational store: filtered reads with
// nested includes, single-statement writes, and scoped transactions
// with a selectable isolation level.
//
// The engine never talks SQL itself. Implementations translate the
// predicate tree into their own filter language; see memstore for the
// in-memory evaluator and sqlstore for the database/sql adapter.
package store

import (
	"context"

	"github.com/syssam/warden"
	"github.com/syssam/warden/predicate"
)

// Isolation selects the transaction isolation level of InTx.
type Isolation int

// Isolation levels, weakest to strongest.
const (
	IsolationDefault Isolation = iota
	IsolationReadCommitted
	IsolationRepeatableRead
	IsolationSerializable
)

// String returns the level name.
func (i Isolation) String() string {
	switch i {
	case IsolationReadCommitted:
		return "read committed"
	case IsolationRepeatableRead:
		return "repeatable read"
	case IsolationSerializable:
		return "serializable"
	}
	return "default"
}

// Pagination carries the offset/limit/cursor arguments of a collection
// read. Nil fields are unset.
type Pagination struct {
	Take   *int
	Skip   *int
	Cursor map[string]any
}

// Collection is the per-model query surface.
type Collection interface {
	// Count returns the number of rows matching the predicate.
	Count(ctx context.Context, where predicate.P) (int, error)

	// FindFirst returns the first row matching the predicate with the
	// given relations included, or nil when none matches.
	FindFirst(ctx context.Context, where predicate.P, include predicate.Include) (warden.Row, error)

	// FindMany returns the rows matching the predicate.
	FindMany(ctx context.Context, where predicate.P, include predicate.Include, page *Pagination) ([]warden.Row, error)

	// Create inserts one row and returns it as stored.
	Create(ctx context.Context, data warden.Row) (warden.Row, error)

	// CreateMany inserts the given rows.
	CreateMany(ctx context.Context, data []warden.Row) (warden.BatchResult, error)

	// Update applies the data to the first row matching the predicate
	// and returns the updated row, or nil when none matches.
	Update(ctx context.Context, where predicate.P, data warden.Row) (warden.Row, error)

	// UpdateMany applies the data to every row matching the predicate.
	UpdateMany(ctx context.Context, where predicate.P, data warden.Row) (warden.BatchResult, error)

	// Delete removes the first row matching the predicate and returns
	// it, or nil when none matches.
	Delete(ctx context.Context, where predicate.P) (warden.Row, error)

	// DeleteMany removes every row matching the predicate.
	DeleteMany(ctx context.Context, where predicate.P) (warden.BatchResult, error)
}

// Store is the top-level contract: per-model collections plus scoped
// transactions.
type Store interface {
	// Model returns the collection of the named model. Unknown models
	// fail with an UnknownModelError.
	Model(name string) (Collection, error)

	// InTx runs fn inside one transaction at the given isolation
	// level. The transaction commits when fn returns nil and rolls
	// back on any error; no partial mutation is visible outside a
	// failed transaction. Implementations surface concurrent
	// serialization conflicts as warden.ErrSerialization.
	InTx(ctx context.Context, iso Isolation, fn func(tx Store) error) error
}
