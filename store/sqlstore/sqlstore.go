// Package sqlstore implements the store contract on top of database/sql.
//
// It targets PostgreSQL, MySQL and SQLite, rendering predicates to
// dialect-correct WHERE clauses and mapping each engine's serialization
// failures onto warden.ErrSerialization so callers can retry.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"

	"github.com/syssam/warden"
	"github.com/syssam/warden/schema"
	"github.com/syssam/warden/store"
)

// Supported dialect names. They double as database/sql driver names for
// the drivers this package is tested against.
const (
	Postgres = "postgres"
	MySQL    = "mysql"
	SQLite   = "sqlite"
)

// Store is a store.Store backed by a SQL database.
type Store struct {
	db      *sql.DB
	reg     *schema.Registry
	dialect string
}

// Open connects to the database named by dsn and wraps it in a Store.
func Open(dialect, dsn string, reg *schema.Registry) (*Store, error) {
	db, err := sql.Open(dialect, dsn)
	if err != nil {
		return nil, err
	}
	return OpenDB(dialect, db, reg), nil
}

// OpenDB wraps an existing *sql.DB in a Store.
func OpenDB(dialect string, db *sql.DB, reg *schema.Registry) *Store {
	return &Store{db: db, reg: reg, dialect: dialect}
}

// DB returns the underlying *sql.DB.
func (s *Store) DB() *sql.DB { return s.db }

// Dialect reports the dialect the store was opened with.
func (s *Store) Dialect() string { return s.dialect }

// Close closes the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

// Model returns the collection for the named model.
func (s *Store) Model(name string) (store.Collection, error) {
	m, err := s.reg.Lookup(name)
	if err != nil {
		return nil, err
	}
	return &collection{s: s, db: s.db, model: m}, nil
}

// InTx runs fn inside a transaction at the requested isolation level.
// The transaction is rolled back if fn returns an error and committed
// otherwise. Serialization failures reported by the engine, during fn
// or at commit, come back wrapped in warden.ErrSerialization.
func (s *Store) InTx(ctx context.Context, iso store.Isolation, fn func(tx store.Store) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: levelOf(iso)})
	if err != nil {
		return classify(err)
	}
	if err := fn(&txStore{s: s, tx: tx}); err != nil {
		_ = tx.Rollback()
		return classify(err)
	}
	if err := tx.Commit(); err != nil {
		return classify(err)
	}
	return nil
}

func levelOf(iso store.Isolation) sql.IsolationLevel {
	switch iso {
	case store.IsolationReadCommitted:
		return sql.LevelReadCommitted
	case store.IsolationRepeatableRead:
		return sql.LevelRepeatableRead
	case store.IsolationSerializable:
		return sql.LevelSerializable
	default:
		return sql.LevelDefault
	}
}

// txStore is the view of a Store inside an open transaction.
type txStore struct {
	s  *Store
	tx *sql.Tx
}

func (t *txStore) Model(name string) (store.Collection, error) {
	m, err := t.s.reg.Lookup(name)
	if err != nil {
		return nil, err
	}
	return &collection{s: t.s, db: t.tx, model: m}, nil
}

// InTx on an open transaction runs fn against the same transaction.
func (t *txStore) InTx(_ context.Context, _ store.Isolation, fn func(tx store.Store) error) error {
	return fn(t)
}

// querier is the subset of *sql.DB and *sql.Tx the collections need.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// classify maps engine-specific serialization failures onto
// warden.ErrSerialization. MySQL reports deadlocks as error 1213,
// PostgreSQL uses SQLSTATE 40001 (and 40P01 for deadlocks), and SQLite
// surfaces lock contention as SQLITE_BUSY.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) && me.Number == 1213 {
		return fmt.Errorf("%w: %v", warden.ErrSerialization, err)
	}
	var pe *pq.Error
	if errors.As(err, &pe) && (pe.Code == "40001" || pe.Code == "40P01") {
		return fmt.Errorf("%w: %v", warden.ErrSerialization, err)
	}
	msg := err.Error()
	if strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked") {
		return fmt.Errorf("%w: %v", warden.ErrSerialization, err)
	}
	return err
}
