// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

// Package service implements log ingest and time-sliced log queries with
// the min_level subset semantics.
package service

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"

	"github.com/pioreactor/pioreactor/core/cluster"
	"github.com/pioreactor/pioreactor/domain/logs/state"
	"github.com/pioreactor/pioreactor/internal/database"
)

// defaultPageSize bounds a single log query.
const defaultPageSize = 50

// LogRecord is a single log line attributed to a unit and experiment.
type LogRecord struct {
	Timestamp  time.Time
	Level      cluster.LogLevel
	Unit       string
	Experiment string
	Task       string
	Source     string
	Message    string
}

// Service provides log operations.
type Service struct {
	st    *state.State
	clock clock.Clock
}

// NewService returns a log service.
func NewService(st *state.State, clk clock.Clock) *Service {
	return &Service{st: st, clock: clk}
}

// Ingest stores a record arriving from the bus. A zero timestamp is
// stamped with the current time.
func (s *Service) Ingest(ctx context.Context, rec LogRecord) error {
	if _, err := cluster.ParseLogLevel(string(rec.Level)); err != nil {
		return errors.Trace(err)
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.clock.Now()
	}
	return errors.Trace(s.st.Insert(ctx, state.LogRecord{
		Timestamp:  database.FormatTimestamp(rec.Timestamp),
		Level:      string(rec.Level),
		Unit:       rec.Unit,
		Experiment: rec.Experiment,
		Task:       rec.Task,
		Source:     rec.Source,
		Message:    rec.Message,
	}))
}

// Recent returns the experiment's logs from the trailing window, newest
// first, honouring the min_level floor.
func (s *Service) Recent(ctx context.Context, experiment string, minLevel cluster.LogLevel, window time.Duration) ([]LogRecord, error) {
	since := database.FormatTimestamp(s.clock.Now().Add(-window))
	return s.query(ctx, experiment, minLevel, since, defaultPageSize, 0)
}

// Page returns the experiment's logs paginated by skip, newest first,
// honouring the min_level floor.
func (s *Service) Page(ctx context.Context, experiment string, minLevel cluster.LogLevel, skip int) ([]LogRecord, error) {
	return s.query(ctx, experiment, minLevel, "", defaultPageSize, skip)
}

func (s *Service) query(ctx context.Context, experiment string, minLevel cluster.LogLevel, since string, limit, skip int) ([]LogRecord, error) {
	levels := cluster.LevelsAtOrAbove(minLevel)
	names := make([]string, len(levels))
	for i, l := range levels {
		names[i] = string(l)
	}

	rows, err := s.st.Query(ctx, experiment, names, since, limit, skip)
	if err != nil {
		return nil, errors.Trace(err)
	}
	out := make([]LogRecord, 0, len(rows))
	for _, row := range rows {
		ts, err := database.ParseTimestamp(row.Timestamp)
		if err != nil {
			return nil, errors.Trace(err)
		}
		out = append(out, LogRecord{
			Timestamp:  ts,
			Level:      cluster.LogLevel(row.Level),
			Unit:       row.Unit,
			Experiment: row.Experiment,
			Task:       row.Task,
			Source:     row.Source,
			Message:    row.Message,
		})
	}
	return out, nil
}
