// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

// Package service implements experiment CRUD on top of the state layer,
// owning name validation and the best-effort space reclamation that
// follows deletion.
package service

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"

	"github.com/pioreactor/pioreactor/core/cluster"
	"github.com/pioreactor/pioreactor/domain/experiment/state"
	"github.com/pioreactor/pioreactor/internal/database"
)

var logger = loggo.GetLogger("pioreactor.experiment")

// Experiment is a named logical context to which workers are assigned.
type Experiment struct {
	Name         string
	CreatedAt    time.Time
	Description  string
	MediaUsed    string
	OrganismUsed string
}

// Vacuumer reclaims database space after destructive operations.
type Vacuumer interface {
	Vacuum(context.Context) error
}

// Service provides experiment operations.
type Service struct {
	st       *state.State
	clock    clock.Clock
	vacuumer Vacuumer
}

// NewService returns an experiment service. The vacuumer may be nil, in
// which case deletion skips space reclamation.
func NewService(st *state.State, clk clock.Clock, vacuumer Vacuumer) *Service {
	return &Service{st: st, clock: clk, vacuumer: vacuumer}
}

// Create validates and inserts a new experiment.
func (s *Service) Create(ctx context.Context, exp Experiment) (Experiment, error) {
	if err := cluster.ValidateExperimentName(exp.Name); err != nil {
		return Experiment{}, errors.Trace(err)
	}
	exp.CreatedAt = s.clock.Now().UTC()
	err := s.st.Create(ctx, state.Experiment{
		Name:         exp.Name,
		CreatedAt:    database.FormatTimestamp(exp.CreatedAt),
		Description:  exp.Description,
		MediaUsed:    exp.MediaUsed,
		OrganismUsed: exp.OrganismUsed,
	})
	if err != nil {
		return Experiment{}, errors.Trace(err)
	}
	return exp, nil
}

// Get returns the named experiment.
func (s *Service) Get(ctx context.Context, name string) (Experiment, error) {
	row, err := s.st.Get(ctx, name)
	if err != nil {
		return Experiment{}, errors.Trace(err)
	}
	return fromRow(row)
}

// All returns every experiment, newest first.
func (s *Service) All(ctx context.Context) ([]Experiment, error) {
	rows, err := s.st.All(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	out := make([]Experiment, 0, len(rows))
	for _, row := range rows {
		exp, err := fromRow(row)
		if err != nil {
			return nil, errors.Trace(err)
		}
		out = append(out, exp)
	}
	return out, nil
}

// Latest returns the most recently created experiment.
func (s *Service) Latest(ctx context.Context) (Experiment, error) {
	row, err := s.st.Latest(ctx)
	if err != nil {
		return Experiment{}, errors.Trace(err)
	}
	return fromRow(row)
}

// Update patches the description fields of the named experiment. Nil
// pointers leave the current value untouched.
func (s *Service) Update(ctx context.Context, name string, description, mediaUsed, organismUsed *string) error {
	current, err := s.st.Get(ctx, name)
	if err != nil {
		return errors.Trace(err)
	}
	if description != nil {
		current.Description = *description
	}
	if mediaUsed != nil {
		current.MediaUsed = *mediaUsed
	}
	if organismUsed != nil {
		current.OrganismUsed = *organismUsed
	}
	return errors.Trace(s.st.Update(ctx, current))
}

// Delete removes the named experiment, cascading to its assignments.
// Space reclamation runs afterwards and its failure is non-fatal.
func (s *Service) Delete(ctx context.Context, name string) error {
	now := database.FormatTimestamp(s.clock.Now())
	if err := s.st.Delete(ctx, name, now); err != nil {
		return errors.Trace(err)
	}
	if s.vacuumer != nil {
		if err := s.vacuumer.Vacuum(ctx); err != nil {
			logger.Warningf("reclaiming space after deleting %q: %v", name, err)
		}
	}
	return nil
}

func fromRow(row state.Experiment) (Experiment, error) {
	createdAt, err := database.ParseTimestamp(row.CreatedAt)
	if err != nil {
		return Experiment{}, errors.Annotatef(err, "parsing created_at for %q", row.Name)
	}
	return Experiment{
		Name:         row.Name,
		CreatedAt:    createdAt,
		Description:  row.Description,
		MediaUsed:    row.MediaUsed,
		OrganismUsed: row.OrganismUsed,
	}, nil
}
