// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

// Package service implements worker inventory and assignment operations.
// Side effects that touch the workers themselves (stop-all on deactivate,
// job-kill on removal) live in the orchestrator, not here.
package service

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"

	"github.com/pioreactor/pioreactor/core/cluster"
	"github.com/pioreactor/pioreactor/domain/inventory/state"
	"github.com/pioreactor/pioreactor/internal/database"
)

// attributionGrace is how far past unassignment a timestamp still counts
// as belonging to the experiment.
const attributionGrace = 5 * time.Second

// Worker is a registered cluster node.
type Worker struct {
	Unit         string
	AddedAt      time.Time
	IsActive     bool
	ModelName    string
	ModelVersion string
}

// Assignment records a worker's current experiment.
type Assignment struct {
	Unit       string
	Experiment string
	AssignedAt time.Time
}

// Service provides inventory and assignment operations.
type Service struct {
	st    *state.State
	clock clock.Clock
}

// NewService returns an inventory service.
func NewService(st *state.State, clk clock.Clock) *Service {
	return &Service{st: st, clock: clk}
}

// AddWorker registers a new worker.
func (s *Service) AddWorker(ctx context.Context, w Worker) (Worker, error) {
	if err := cluster.ValidateUnitName(w.Unit); err != nil {
		return Worker{}, errors.Trace(err)
	}
	w.AddedAt = s.clock.Now().UTC()
	err := s.st.AddWorker(ctx, state.Worker{
		Unit:         w.Unit,
		AddedAt:      database.FormatTimestamp(w.AddedAt),
		IsActive:     w.IsActive,
		ModelName:    w.ModelName,
		ModelVersion: w.ModelVersion,
	})
	return w, errors.Trace(err)
}

// GetWorker returns the named worker.
func (s *Service) GetWorker(ctx context.Context, unit string) (Worker, error) {
	row, err := s.st.GetWorker(ctx, unit)
	if err != nil {
		return Worker{}, errors.Trace(err)
	}
	return workerFromRow(row)
}

// AllWorkers returns the full inventory.
func (s *Service) AllWorkers(ctx context.Context) ([]Worker, error) {
	rows, err := s.st.AllWorkers(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	out := make([]Worker, 0, len(rows))
	for _, row := range rows {
		w, err := workerFromRow(row)
		if err != nil {
			return nil, errors.Trace(err)
		}
		out = append(out, w)
	}
	return out, nil
}

// ActiveWorkers returns the active subset of the inventory.
func (s *Service) ActiveWorkers(ctx context.Context) ([]Worker, error) {
	all, err := s.AllWorkers(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	active := all[:0]
	for _, w := range all {
		if w.IsActive {
			active = append(active, w)
		}
	}
	return active, nil
}

// SetActive flips the worker's active flag.
func (s *Service) SetActive(ctx context.Context, unit string, active bool) error {
	return errors.Trace(s.st.SetActive(ctx, unit, active))
}

// RemoveWorker removes the worker from the inventory.
func (s *Service) RemoveWorker(ctx context.Context, unit string) error {
	now := database.FormatTimestamp(s.clock.Now())
	return errors.Trace(s.st.RemoveWorker(ctx, unit, now))
}

// Assign places the worker in the experiment; any previous assignment is
// replaced. Idempotent for the current experiment.
func (s *Service) Assign(ctx context.Context, unit, experiment string) error {
	now := database.FormatTimestamp(s.clock.Now())
	return errors.Trace(s.st.Assign(ctx, unit, experiment, now))
}

// Unassign removes the worker's current assignment.
func (s *Service) Unassign(ctx context.Context, unit string) error {
	now := database.FormatTimestamp(s.clock.Now())
	return errors.Trace(s.st.Unassign(ctx, unit, now))
}

// AssignmentFor returns the worker's current assignment.
func (s *Service) AssignmentFor(ctx context.Context, unit string) (Assignment, error) {
	row, err := s.st.AssignmentFor(ctx, unit)
	if err != nil {
		return Assignment{}, errors.Trace(err)
	}
	assignedAt, err := database.ParseTimestamp(row.AssignedAt)
	if err != nil {
		return Assignment{}, errors.Trace(err)
	}
	return Assignment{Unit: row.Unit, Experiment: row.Experiment, AssignedAt: assignedAt}, nil
}

// WorkersInExperiment returns the workers currently assigned to the
// experiment.
func (s *Service) WorkersInExperiment(ctx context.Context, experiment string) ([]Worker, error) {
	rows, err := s.st.WorkersInExperiment(ctx, experiment)
	if err != nil {
		return nil, errors.Trace(err)
	}
	out := make([]Worker, 0, len(rows))
	for _, row := range rows {
		w, err := workerFromRow(row)
		if err != nil {
			return nil, errors.Trace(err)
		}
		out = append(out, w)
	}
	return out, nil
}

// ExperimentAt attributes a timestamp on a unit to the experiment assigned
// at that moment, with a five second grace past unassignment.
func (s *Service) ExperimentAt(ctx context.Context, unit string, at time.Time) (string, error) {
	at = at.UTC()
	exp, err := s.st.ExperimentAt(ctx, unit,
		database.FormatTimestamp(at),
		database.FormatTimestamp(at.Add(-attributionGrace)))
	return exp, errors.Trace(err)
}

func workerFromRow(row state.Worker) (Worker, error) {
	addedAt, err := database.ParseTimestamp(row.AddedAt)
	if err != nil {
		return Worker{}, errors.Annotatef(err, "parsing added_at for %q", row.Unit)
	}
	return Worker{
		Unit:         row.Unit,
		AddedAt:      addedAt,
		IsActive:     row.IsActive,
		ModelName:    row.ModelName,
		ModelVersion: row.ModelVersion,
	}, nil
}
