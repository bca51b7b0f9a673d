// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

package state

import (
	"context"

	"github.com/canonical/sqlair"
	"github.com/juju/errors"

	coredatabase "github.com/pioreactor/pioreactor/core/database"
	"github.com/pioreactor/pioreactor/domain"
	"github.com/pioreactor/pioreactor/internal/database"
)

// State provides persistence for experiments.
type State struct {
	*domain.StateBase
}

// NewState returns a new state reference.
func NewState(factory coredatabase.TxnRunnerFactory) *State {
	return &State{StateBase: domain.NewStateBase(factory)}
}

// Create inserts a new experiment row. An error satisfying
// errors.AlreadyExists is returned for a duplicate name.
func (s *State) Create(ctx context.Context, exp Experiment) error {
	db, err := s.DB()
	if err != nil {
		return errors.Trace(err)
	}

	stmt, err := s.Prepare(`
INSERT INTO experiments (experiment, created_at, description, media_used, organism_used)
VALUES ($Experiment.experiment, $Experiment.created_at, $Experiment.description,
        $Experiment.media_used, $Experiment.organism_used)`, Experiment{})
	if err != nil {
		return errors.Trace(err)
	}

	err = db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		err := tx.Query(ctx, stmt, exp).Run()
		if database.IsErrConstraintUnique(err) {
			return errors.AlreadyExistsf("experiment %q", exp.Name)
		}
		return errors.Trace(err)
	})
	return errors.Trace(err)
}

// Get returns the experiment with the input name, or an error satisfying
// errors.NotFound.
func (s *State) Get(ctx context.Context, name string) (Experiment, error) {
	db, err := s.DB()
	if err != nil {
		return Experiment{}, errors.Trace(err)
	}

	exp := Experiment{Name: name}
	stmt, err := s.Prepare(`
SELECT &Experiment.*
FROM   experiments
WHERE  experiment = $Experiment.experiment`, exp)
	if err != nil {
		return Experiment{}, errors.Trace(err)
	}

	err = db.ReadTxn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		err := tx.Query(ctx, stmt, exp).Get(&exp)
		if errors.Is(err, sqlair.ErrNoRows) {
			return errors.NotFoundf("experiment %q", name)
		}
		return errors.Trace(err)
	})
	return exp, errors.Trace(err)
}

// All returns every experiment, newest first.
func (s *State) All(ctx context.Context) ([]Experiment, error) {
	db, err := s.DB()
	if err != nil {
		return nil, errors.Trace(err)
	}

	stmt, err := s.Prepare(`
SELECT   &Experiment.*
FROM     experiments
ORDER BY created_at DESC`, Experiment{})
	if err != nil {
		return nil, errors.Trace(err)
	}

	var exps []Experiment
	err = db.ReadTxn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		err := tx.Query(ctx, stmt).GetAll(&exps)
		if errors.Is(err, sqlair.ErrNoRows) {
			return nil
		}
		return errors.Trace(err)
	})
	return exps, errors.Trace(err)
}

// Latest returns the most recently created experiment.
func (s *State) Latest(ctx context.Context) (Experiment, error) {
	db, err := s.DB()
	if err != nil {
		return Experiment{}, errors.Trace(err)
	}

	stmt, err := s.Prepare(`
SELECT   &Experiment.*
FROM     experiments
ORDER BY created_at DESC
LIMIT    1`, Experiment{})
	if err != nil {
		return Experiment{}, errors.Trace(err)
	}

	var exp Experiment
	err = db.ReadTxn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		err := tx.Query(ctx, stmt).Get(&exp)
		if errors.Is(err, sqlair.ErrNoRows) {
			return errors.NotFoundf("latest experiment")
		}
		return errors.Trace(err)
	})
	return exp, errors.Trace(err)
}

// Update patches the mutable fields of an experiment.
func (s *State) Update(ctx context.Context, exp Experiment) error {
	db, err := s.DB()
	if err != nil {
		return errors.Trace(err)
	}

	stmt, err := s.Prepare(`
UPDATE experiments
SET    description = $Experiment.description,
       media_used = $Experiment.media_used,
       organism_used = $Experiment.organism_used
WHERE  experiment = $Experiment.experiment`, Experiment{})
	if err != nil {
		return errors.Trace(err)
	}

	err = db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		var outcome sqlair.Outcome
		if err := tx.Query(ctx, stmt, exp).Get(&outcome); err != nil {
			return errors.Trace(err)
		}
		affected, err := outcome.Result().RowsAffected()
		if err != nil {
			return errors.Trace(err)
		}
		if affected == 0 {
			return errors.NotFoundf("experiment %q", exp.Name)
		}
		return nil
	})
	return errors.Trace(err)
}

// Delete removes the experiment. Assignment rows cascade; the history rows
// for the experiment are closed with the input timestamp.
func (s *State) Delete(ctx context.Context, name, now string) error {
	db, err := s.DB()
	if err != nil {
		return errors.Trace(err)
	}

	exp := Experiment{Name: name, CreatedAt: now}
	closeStmt, err := s.Prepare(`
UPDATE experiment_worker_assignments_history
SET    unassigned_at = $Experiment.created_at
WHERE  experiment = $Experiment.experiment
AND    unassigned_at IS NULL`, exp)
	if err != nil {
		return errors.Trace(err)
	}

	delStmt, err := s.Prepare(`
DELETE FROM experiments
WHERE  experiment = $Experiment.experiment`, exp)
	if err != nil {
		return errors.Trace(err)
	}

	err = db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		if err := tx.Query(ctx, closeStmt, exp).Run(); err != nil {
			return errors.Trace(err)
		}
		var outcome sqlair.Outcome
		if err := tx.Query(ctx, delStmt, exp).Get(&outcome); err != nil {
			return errors.Trace(err)
		}
		affected, err := outcome.Result().RowsAffected()
		if err != nil {
			return errors.Trace(err)
		}
		if affected == 0 {
			return errors.NotFoundf("experiment %q", name)
		}
		return nil
	})
	return errors.Trace(err)
}
