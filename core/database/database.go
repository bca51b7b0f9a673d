// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

// Package database defines the transaction-runner surface that domain state
// packages consume. The concrete runner lives in internal/database.
package database

import (
	"context"
	"database/sql"

	"github.com/canonical/sqlair"
)

// TxnRunner describes the ability to run functions within a database
// transaction. Txn is the sqlair flavour used by almost all state code;
// StdTxn exists for the few statements sqlair cannot express.
type TxnRunner interface {
	Txn(context.Context, func(context.Context, *sqlair.TX) error) error
	StdTxn(context.Context, func(context.Context, *sql.Tx) error) error

	// ReadTxn runs the function in query-only mode; writes through it fail.
	ReadTxn(context.Context, func(context.Context, *sqlair.TX) error) error
}

// TxnRunnerFactory defers acquisition of a TxnRunner until first use, so
// that state objects can be constructed before the database is opened.
type TxnRunnerFactory func() (TxnRunner, error)
