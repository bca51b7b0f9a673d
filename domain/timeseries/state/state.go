// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

// Package state reads the time-series tables. Each known metric maps to
// its own table and value column; unknown metrics fall back to a generic
// (experiment, pioreactor_unit, timestamp, value) table of the same name.
package state

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"

	"github.com/juju/errors"

	coredatabase "github.com/pioreactor/pioreactor/core/database"
	"github.com/pioreactor/pioreactor/domain"
)

// Metric describes where a named metric lives.
type Metric struct {
	Table       string
	ValueColumn string
	HasChannel  bool
}

// knownMetrics maps the metric name in the API path to its table layout.
var knownMetrics = map[string]Metric{
	"growth_rates":         {Table: "growth_rates", ValueColumn: "rate"},
	"od_readings":          {Table: "od_readings", ValueColumn: "od_reading", HasChannel: true},
	"od_readings_filtered": {Table: "od_readings_filtered", ValueColumn: "normalized_od_reading"},
	"od_readings_fused":    {Table: "od_readings_fused", ValueColumn: "od_reading"},
	"raw_od_readings":      {Table: "raw_od_readings", ValueColumn: "voltage", HasChannel: true},
	"temperature_readings": {Table: "temperature_readings", ValueColumn: "temperature_c"},
}

// fallbackTableName admits only plausible sqlite identifiers for the
// generic fallback, since table names cannot be bound as parameters.
var fallbackTableName = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Point is one stored reading.
type Point struct {
	Unit      string
	Channel   string
	Timestamp string
	Value     float64
}

// State reads time-series points.
type State struct {
	*domain.StateBase
}

// NewState returns a new state reference.
func NewState(factory coredatabase.TxnRunnerFactory) *State {
	return &State{StateBase: domain.NewStateBase(factory)}
}

// Points returns the experiment's stored points for the metric at or after
// since (all time when since is empty), ordered by unit, channel then
// timestamp.
func (s *State) Points(ctx context.Context, metric, experiment, since string) ([]Point, error) {
	db, err := s.DB()
	if err != nil {
		return nil, errors.Trace(err)
	}

	m, ok := knownMetrics[metric]
	if !ok {
		if !fallbackTableName.MatchString(metric) {
			return nil, errors.NotValidf("metric %q", metric)
		}
		m = Metric{Table: metric, ValueColumn: "value"}
	}

	channelCol := "''"
	if m.HasChannel {
		channelCol = "channel"
	}
	q := fmt.Sprintf(`
SELECT   pioreactor_unit, %s, timestamp, %s
FROM     %s
WHERE    experiment = ?
AND      (? = '' OR timestamp >= ?)
ORDER BY pioreactor_unit, %s, timestamp`, channelCol, m.ValueColumn, m.Table, channelCol)

	var points []Point
	err = db.StdTxn(ctx, func(ctx context.Context, tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, q, experiment, since, since)
		if err != nil {
			return errors.Trace(err)
		}
		defer rows.Close()
		for rows.Next() {
			var p Point
			if err := rows.Scan(&p.Unit, &p.Channel, &p.Timestamp, &p.Value); err != nil {
				return errors.Trace(err)
			}
			points = append(points, p)
		}
		return errors.Trace(rows.Err())
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return points, nil
}

// Insert stores one point for a known metric; used by the log/reading
// ingest path and by tests.
func (s *State) Insert(ctx context.Context, metric, experiment string, p Point) error {
	db, err := s.DB()
	if err != nil {
		return errors.Trace(err)
	}
	m, ok := knownMetrics[metric]
	if !ok {
		return errors.NotValidf("metric %q", metric)
	}

	var q string
	var args []any
	if m.HasChannel {
		q = fmt.Sprintf(`
INSERT INTO %s (experiment, pioreactor_unit, channel, timestamp, %s)
VALUES (?, ?, ?, ?, ?)`, m.Table, m.ValueColumn)
		args = []any{experiment, p.Unit, p.Channel, p.Timestamp, p.Value}
	} else {
		q = fmt.Sprintf(`
INSERT INTO %s (experiment, pioreactor_unit, timestamp, %s)
VALUES (?, ?, ?, ?)`, m.Table, m.ValueColumn)
		args = []any{experiment, p.Unit, p.Timestamp, p.Value}
	}

	err = db.StdTxn(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, q, args...)
		return errors.Trace(err)
	})
	return errors.Trace(err)
}
