// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

// Package domain contains the base type embedded by every state object in
// the domain packages below it.
package domain

import (
	"sync"

	"github.com/canonical/sqlair"
	"github.com/juju/errors"

	coredatabase "github.com/pioreactor/pioreactor/core/database"
)

// StateBase defers database acquisition and caches prepared statements.
type StateBase struct {
	factory coredatabase.TxnRunnerFactory

	mu    sync.Mutex
	cache map[string]*sqlair.Statement
}

// NewStateBase returns a StateBase backed by the input factory.
func NewStateBase(factory coredatabase.TxnRunnerFactory) *StateBase {
	return &StateBase{
		factory: factory,
		cache:   make(map[string]*sqlair.Statement),
	}
}

// DB returns the transaction runner, acquiring it on first use.
func (s *StateBase) DB() (coredatabase.TxnRunner, error) {
	if s.factory == nil {
		return nil, errors.New("nil transaction runner factory")
	}
	db, err := s.factory()
	return db, errors.Trace(err)
}

// Prepare returns a sqlair statement for the query, preparing and caching
// it on first use. Queries are cached by their text, so the same query with
// different type samples must not be issued through one StateBase.
func (s *StateBase) Prepare(query string, typeSamples ...any) (*sqlair.Statement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if stmt, ok := s.cache[query]; ok {
		return stmt, nil
	}
	stmt, err := sqlair.Prepare(query, typeSamples...)
	if err != nil {
		return nil, errors.Annotatef(err, "preparing %.40q", query)
	}
	s.cache[query] = stmt
	return stmt, nil
}
