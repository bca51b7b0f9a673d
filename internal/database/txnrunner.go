// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/canonical/sqlair"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/retry"
	"github.com/mattn/go-sqlite3"

	coredatabase "github.com/pioreactor/pioreactor/core/database"
)

// TxnRunner runs transactions against a sqlite database, retrying those
// that fail with transient contention errors.
type TxnRunner struct {
	db    *sqlair.DB
	clock clock.Clock
}

// NewTxnRunner returns a runner over the input database.
func NewTxnRunner(db *sql.DB) *TxnRunner {
	return &TxnRunner{
		db:    sqlair.NewDB(db),
		clock: clock.WallClock,
	}
}

// Factory returns a TxnRunnerFactory always resolving to runner.
func Factory(runner *TxnRunner) coredatabase.TxnRunnerFactory {
	return func() (coredatabase.TxnRunner, error) {
		return runner, nil
	}
}

// Txn runs fn inside a sqlair transaction, committing on nil error and
// rolling back otherwise.
func (r *TxnRunner) Txn(ctx context.Context, fn func(context.Context, *sqlair.TX) error) error {
	return errors.Trace(r.run(ctx, func() error {
		tx, err := r.db.Begin(ctx, nil)
		if err != nil {
			return errors.Trace(err)
		}
		if err := fn(ctx, tx); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				logger.Warningf("failed to rollback transaction: %v", rbErr)
			}
			return errors.Trace(err)
		}
		return errors.Trace(tx.Commit())
	}))
}

// StdTxn is the database/sql flavour of Txn, for statements sqlair cannot
// express (schema DDL, pragmas, dynamic table names).
func (r *TxnRunner) StdTxn(ctx context.Context, fn func(context.Context, *sql.Tx) error) error {
	return errors.Trace(r.run(ctx, func() error {
		tx, err := r.db.PlainDB().BeginTx(ctx, nil)
		if err != nil {
			return errors.Trace(err)
		}
		if err := fn(ctx, tx); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				logger.Warningf("failed to rollback transaction: %v", rbErr)
			}
			return errors.Trace(err)
		}
		return errors.Trace(tx.Commit())
	}))
}

// ReadTxn runs fn with the connection in query-only mode, so that an
// accidental write through the read path fails instead of committing.
func (r *TxnRunner) ReadTxn(ctx context.Context, fn func(context.Context, *sqlair.TX) error) error {
	plain := r.db.PlainDB()
	if _, err := plain.ExecContext(ctx, "PRAGMA query_only = ON"); err != nil {
		return errors.Trace(err)
	}
	defer func() {
		if _, err := plain.Exec("PRAGMA query_only = OFF"); err != nil {
			logger.Errorf("failed to leave query-only mode: %v", err)
		}
	}()
	return errors.Trace(r.Txn(ctx, fn))
}

func (r *TxnRunner) run(ctx context.Context, fn func() error) error {
	return retry.Call(retry.CallArgs{
		Func:     fn,
		Attempts: 5,
		Delay:    10 * time.Millisecond,
		Clock:    r.clock,
		IsFatalError: func(err error) bool {
			return !IsErrRetryable(err)
		},
		Stop: ctx.Done(),
	})
}

// IsErrRetryable reports whether the error is transient lock contention
// worth retrying.
func IsErrRetryable(err error) bool {
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) {
		return sqlErr.Code == sqlite3.ErrBusy || sqlErr.Code == sqlite3.ErrLocked
	}
	return false
}

// IsErrConstraintUnique reports whether the error is a unique or primary
// key constraint violation.
func IsErrConstraintUnique(err error) bool {
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) {
		return sqlErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqlErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// IsErrConstraintForeignKey reports whether the error is a foreign key
// constraint violation.
func IsErrConstraintForeignKey(err error) bool {
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) {
		return sqlErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
	}
	return false
}
