// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

// Package state persists the central log table.
package state

import (
	"context"
	"fmt"
	"strings"

	"github.com/canonical/sqlair"
	"github.com/juju/errors"

	"github.com/pioreactor/pioreactor/core/cluster"
	coredatabase "github.com/pioreactor/pioreactor/core/database"
	"github.com/pioreactor/pioreactor/domain"
)

// LogRecord is the database representation of a log row.
type LogRecord struct {
	Timestamp  string `db:"timestamp"`
	Level      string `db:"level"`
	Unit       string `db:"pioreactor_unit"`
	Experiment string `db:"experiment"`
	Task       string `db:"task"`
	Source     string `db:"source"`
	Message    string `db:"message"`
}

// logQuery carries the parameters of a filtered log query.
type logQuery struct {
	Experiment string `db:"experiment"`
	Universal  string `db:"universal"`
	Since      string `db:"since"`
	Limit      int    `db:"row_limit"`
	Skip       int    `db:"row_skip"`
}

// State provides persistence for log records.
type State struct {
	*domain.StateBase
}

// NewState returns a new state reference.
func NewState(factory coredatabase.TxnRunnerFactory) *State {
	return &State{StateBase: domain.NewStateBase(factory)}
}

// Insert appends a log record.
func (s *State) Insert(ctx context.Context, rec LogRecord) error {
	db, err := s.DB()
	if err != nil {
		return errors.Trace(err)
	}

	stmt, err := s.Prepare(`
INSERT INTO logs (timestamp, level, pioreactor_unit, experiment, task, source, message)
VALUES ($LogRecord.timestamp, $LogRecord.level, $LogRecord.pioreactor_unit,
        $LogRecord.experiment, $LogRecord.task, $LogRecord.source, $LogRecord.message)`,
		LogRecord{})
	if err != nil {
		return errors.Trace(err)
	}

	err = db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		return errors.Trace(tx.Query(ctx, stmt, rec).Run())
	})
	return errors.Trace(err)
}

// Query returns the experiment's logs, newest first, filtered to the given
// levels, optionally restricted to rows at or after since, paginated by
// skip. Rows addressed to the universal experiment are always included.
//
// The level set is interpolated rather than bound: it is a closed set of
// server-side constants, never client input.
func (s *State) Query(ctx context.Context, experiment string, levels []string, since string, limit, skip int) ([]LogRecord, error) {
	db, err := s.DB()
	if err != nil {
		return nil, errors.Trace(err)
	}

	quoted := make([]string, len(levels))
	for i, l := range levels {
		quoted[i] = fmt.Sprintf("'%s'", l)
	}

	q := fmt.Sprintf(`
SELECT   &LogRecord.*
FROM     logs
WHERE    (experiment = $logQuery.experiment OR experiment = $logQuery.universal)
AND      level IN (%s)
AND      ($logQuery.since = '' OR timestamp >= $logQuery.since)
ORDER BY timestamp DESC
LIMIT    $logQuery.row_limit OFFSET $logQuery.row_skip`, strings.Join(quoted, ", "))

	stmt, err := s.Prepare(q, LogRecord{}, logQuery{})
	if err != nil {
		return nil, errors.Trace(err)
	}

	args := logQuery{
		Experiment: experiment,
		Universal:  cluster.UniversalExperiment,
		Since:      since,
		Limit:      limit,
		Skip:       skip,
	}
	var records []LogRecord
	err = db.ReadTxn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		err := tx.Query(ctx, stmt, args).GetAll(&records)
		if errors.Is(err, sqlair.ErrNoRows) {
			return nil
		}
		return errors.Trace(err)
	})
	return records, errors.Trace(err)
}
