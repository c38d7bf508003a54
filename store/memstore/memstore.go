// Package memstore provides an in-memory store implementation. It is
// useful for tests, development, and the demo server; for production
// use a persistent store such as sqlstore.
//
// The whole store is guarded by one mutex and transactions hold it for
// their full duration, so every transaction is trivially serializable
// and rollback restores a pre-transaction snapshot.
package memstore

import (
	"context"
	"sync"

	"github.com/syssam/warden"
	"github.com/syssam/warden/schema"
	"github.com/syssam/warden/store"
)

// Store is an in-memory store.Store backed by per-model row slices in
// insertion order.
type Store struct {
	reg    *schema.Registry
	mu     sync.Mutex
	tables map[string][]warden.Row
}

// New returns an empty Store over the given schema.
func New(reg *schema.Registry) *Store {
	return &Store{
		reg:    reg,
		tables: make(map[string][]warden.Row),
	}
}

// Seed inserts rows without any bookkeeping. Intended for test and
// demo setup.
func (s *Store) Seed(model string, rows ...warden.Row) error {
	if _, err := s.reg.Lookup(model); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		s.tables[model] = append(s.tables[model], r.Clone())
	}
	return nil
}

// Model returns the collection of the named model.
func (s *Store) Model(name string) (store.Collection, error) {
	m, err := s.reg.Lookup(name)
	if err != nil {
		return nil, err
	}
	return &collection{s: s, model: m, lock: true}, nil
}

// InTx runs fn holding the store lock for its whole duration. All
// isolation levels behave as serializable. The tables are restored
// from a snapshot when fn fails, so no partial mutation survives.
func (s *Store) InTx(_ context.Context, _ store.Isolation, fn func(tx store.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.cloneTables()
	if err := fn(&txStore{s: s}); err != nil {
		s.tables = snapshot
		return err
	}
	return nil
}

func (s *Store) cloneTables() map[string][]warden.Row {
	out := make(map[string][]warden.Row, len(s.tables))
	for model, rows := range s.tables {
		cloned := make([]warden.Row, len(rows))
		for i, r := range rows {
			cloned[i] = r.Clone()
		}
		out[model] = cloned
	}
	return out
}

// txStore is the view handed to InTx callbacks. The store lock is
// already held, so its collections skip locking.
type txStore struct {
	s *Store
}

// Model returns the collection of the named model.
func (t *txStore) Model(name string) (store.Collection, error) {
	m, err := t.s.reg.Lookup(name)
	if err != nil {
		return nil, err
	}
	return &collection{s: t.s, model: m}, nil
}

// InTx runs fn against the enclosing transaction. The store keeps one
// level of snapshotting; the outer transaction's rollback covers the
// nested scope.
func (t *txStore) InTx(_ context.Context, _ store.Isolation, fn func(tx store.Store) error) error {
	return fn(t)
}

var (
	_ store.Store = (*Store)(nil)
	_ store.Store = (*txStore)(nil)
)
