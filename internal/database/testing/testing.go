// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

// Package testing provides database fixtures for state tests.
package testing

import (
	"context"
	"database/sql"

	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	coredatabase "github.com/pioreactor/pioreactor/core/database"
	"github.com/pioreactor/pioreactor/internal/database"
)

// LeaderStoreSuite opens a fresh in-memory leader store per test.
type LeaderStoreSuite struct {
	DB     *sql.DB
	Runner *database.TxnRunner
}

func (s *LeaderStoreSuite) SetUpTest(c *gc.C) {
	db, err := database.OpenInMemory()
	c.Assert(err, jc.ErrorIsNil)
	s.DB = db
	s.Runner = database.NewTxnRunner(db)
	c.Assert(database.EnsureLeaderSchema(context.Background(), s.Runner), jc.ErrorIsNil)
}

func (s *LeaderStoreSuite) TearDownTest(c *gc.C) {
	if s.DB != nil {
		c.Assert(s.DB.Close(), jc.ErrorIsNil)
	}
}

// TxnRunnerFactory returns a factory resolving to the suite's runner.
func (s *LeaderStoreSuite) TxnRunnerFactory() coredatabase.TxnRunnerFactory {
	return func() (coredatabase.TxnRunner, error) {
		return s.Runner, nil
	}
}

// WorkerStoreSuite opens a fresh in-memory worker-local store per test.
type WorkerStoreSuite struct {
	DB     *sql.DB
	Runner *database.TxnRunner
}

func (s *WorkerStoreSuite) SetUpTest(c *gc.C) {
	db, err := database.OpenInMemory()
	c.Assert(err, jc.ErrorIsNil)
	s.DB = db
	s.Runner = database.NewTxnRunner(db)
	c.Assert(database.EnsureWorkerSchema(context.Background(), s.Runner), jc.ErrorIsNil)
}

func (s *WorkerStoreSuite) TearDownTest(c *gc.C) {
	if s.DB != nil {
		c.Assert(s.DB.Close(), jc.ErrorIsNil)
	}
}

// TxnRunnerFactory returns a factory resolving to the suite's runner.
func (s *WorkerStoreSuite) TxnRunnerFactory() coredatabase.TxnRunnerFactory {
	return func() (coredatabase.TxnRunner, error) {
		return s.Runner, nil
	}
}
