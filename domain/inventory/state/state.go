// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

// Package state persists the worker inventory and the worker/experiment
// assignment relation, current and historical.
package state

import (
	"context"

	"github.com/canonical/sqlair"
	"github.com/juju/errors"

	coredatabase "github.com/pioreactor/pioreactor/core/database"
	"github.com/pioreactor/pioreactor/domain"
	"github.com/pioreactor/pioreactor/internal/database"
)

// State provides persistence for workers and assignments.
type State struct {
	*domain.StateBase
}

// NewState returns a new state reference.
func NewState(factory coredatabase.TxnRunnerFactory) *State {
	return &State{StateBase: domain.NewStateBase(factory)}
}

// AddWorker registers a worker in the inventory.
func (s *State) AddWorker(ctx context.Context, w Worker) error {
	db, err := s.DB()
	if err != nil {
		return errors.Trace(err)
	}

	stmt, err := s.Prepare(`
INSERT INTO workers (pioreactor_unit, added_at, is_active, model_name, model_version)
VALUES ($Worker.pioreactor_unit, $Worker.added_at, $Worker.is_active,
        $Worker.model_name, $Worker.model_version)`, Worker{})
	if err != nil {
		return errors.Trace(err)
	}

	err = db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		err := tx.Query(ctx, stmt, w).Run()
		if database.IsErrConstraintUnique(err) {
			return errors.AlreadyExistsf("worker %q", w.Unit)
		}
		return errors.Trace(err)
	})
	return errors.Trace(err)
}

// GetWorker returns the named worker.
func (s *State) GetWorker(ctx context.Context, unit string) (Worker, error) {
	db, err := s.DB()
	if err != nil {
		return Worker{}, errors.Trace(err)
	}

	w := Worker{Unit: unit}
	stmt, err := s.Prepare(`
SELECT &Worker.*
FROM   workers
WHERE  pioreactor_unit = $Worker.pioreactor_unit`, w)
	if err != nil {
		return Worker{}, errors.Trace(err)
	}

	err = db.ReadTxn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		err := tx.Query(ctx, stmt, w).Get(&w)
		if errors.Is(err, sqlair.ErrNoRows) {
			return errors.NotFoundf("worker %q", unit)
		}
		return errors.Trace(err)
	})
	return w, errors.Trace(err)
}

// AllWorkers returns the full inventory sorted by unit name.
func (s *State) AllWorkers(ctx context.Context) ([]Worker, error) {
	db, err := s.DB()
	if err != nil {
		return nil, errors.Trace(err)
	}

	stmt, err := s.Prepare(`
SELECT   &Worker.*
FROM     workers
ORDER BY pioreactor_unit`, Worker{})
	if err != nil {
		return nil, errors.Trace(err)
	}

	var workers []Worker
	err = db.ReadTxn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		err := tx.Query(ctx, stmt).GetAll(&workers)
		if errors.Is(err, sqlair.ErrNoRows) {
			return nil
		}
		return errors.Trace(err)
	})
	return workers, errors.Trace(err)
}

// SetActive flips the worker's active flag.
func (s *State) SetActive(ctx context.Context, unit string, active bool) error {
	db, err := s.DB()
	if err != nil {
		return errors.Trace(err)
	}

	w := Worker{Unit: unit, IsActive: active}
	stmt, err := s.Prepare(`
UPDATE workers
SET    is_active = $Worker.is_active
WHERE  pioreactor_unit = $Worker.pioreactor_unit`, w)
	if err != nil {
		return errors.Trace(err)
	}

	err = db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		var outcome sqlair.Outcome
		if err := tx.Query(ctx, stmt, w).Get(&outcome); err != nil {
			return errors.Trace(err)
		}
		affected, err := outcome.Result().RowsAffected()
		if err != nil {
			return errors.Trace(err)
		}
		if affected == 0 {
			return errors.NotFoundf("worker %q", unit)
		}
		return nil
	})
	return errors.Trace(err)
}

// RemoveWorker deletes the worker from the inventory, closing any open
// assignment history row. The current assignment cascades away.
func (s *State) RemoveWorker(ctx context.Context, unit, now string) error {
	db, err := s.DB()
	if err != nil {
		return errors.Trace(err)
	}

	hc := historyClose{Unit: unit, UnassignedAt: now}
	closeStmt, err := s.Prepare(`
UPDATE experiment_worker_assignments_history
SET    unassigned_at = $historyClose.unassigned_at
WHERE  pioreactor_unit = $historyClose.pioreactor_unit
AND    unassigned_at IS NULL`, hc)
	if err != nil {
		return errors.Trace(err)
	}

	w := Worker{Unit: unit}
	delStmt, err := s.Prepare(`
DELETE FROM workers
WHERE  pioreactor_unit = $Worker.pioreactor_unit`, w)
	if err != nil {
		return errors.Trace(err)
	}

	err = db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		if err := tx.Query(ctx, closeStmt, hc).Run(); err != nil {
			return errors.Trace(err)
		}
		var outcome sqlair.Outcome
		if err := tx.Query(ctx, delStmt, w).Get(&outcome); err != nil {
			return errors.Trace(err)
		}
		affected, err := outcome.Result().RowsAffected()
		if err != nil {
			return errors.Trace(err)
		}
		if affected == 0 {
			return errors.NotFoundf("worker %q", unit)
		}
		return nil
	})
	return errors.Trace(err)
}

// Assign places the worker in the experiment, replacing any prior
// assignment and appending to the history log. Re-assigning a worker to
// its current experiment is a no-op.
func (s *State) Assign(ctx context.Context, unit, experiment, now string) error {
	db, err := s.DB()
	if err != nil {
		return errors.Trace(err)
	}

	a := Assignment{Unit: unit, Experiment: experiment, AssignedAt: now}
	currentStmt, err := s.Prepare(`
SELECT &Assignment.*
FROM   experiment_worker_assignments
WHERE  pioreactor_unit = $Assignment.pioreactor_unit`, a)
	if err != nil {
		return errors.Trace(err)
	}

	hc := historyClose{Unit: unit, UnassignedAt: now}
	closeStmt, err := s.Prepare(`
UPDATE experiment_worker_assignments_history
SET    unassigned_at = $historyClose.unassigned_at
WHERE  pioreactor_unit = $historyClose.pioreactor_unit
AND    unassigned_at IS NULL`, hc)
	if err != nil {
		return errors.Trace(err)
	}

	upsertStmt, err := s.Prepare(`
INSERT INTO experiment_worker_assignments (pioreactor_unit, experiment, assigned_at)
VALUES ($Assignment.pioreactor_unit, $Assignment.experiment, $Assignment.assigned_at)
ON CONFLICT (pioreactor_unit) DO UPDATE SET
    experiment = excluded.experiment,
    assigned_at = excluded.assigned_at`, a)
	if err != nil {
		return errors.Trace(err)
	}

	historyStmt, err := s.Prepare(`
INSERT INTO experiment_worker_assignments_history (pioreactor_unit, experiment, assigned_at)
VALUES ($Assignment.pioreactor_unit, $Assignment.experiment, $Assignment.assigned_at)`, a)
	if err != nil {
		return errors.Trace(err)
	}

	err = db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		var current Assignment
		err := tx.Query(ctx, currentStmt, a).Get(&current)
		if err == nil && current.Experiment == experiment {
			return nil
		} else if err != nil && !errors.Is(err, sqlair.ErrNoRows) {
			return errors.Trace(err)
		}

		if err := tx.Query(ctx, closeStmt, hc).Run(); err != nil {
			return errors.Trace(err)
		}
		err = tx.Query(ctx, upsertStmt, a).Run()
		if database.IsErrConstraintForeignKey(err) {
			return errors.NotFoundf("worker %q or experiment %q", unit, experiment)
		} else if err != nil {
			return errors.Trace(err)
		}
		return errors.Trace(tx.Query(ctx, historyStmt, a).Run())
	})
	return errors.Trace(err)
}

// Unassign removes the worker's current assignment.
func (s *State) Unassign(ctx context.Context, unit, now string) error {
	db, err := s.DB()
	if err != nil {
		return errors.Trace(err)
	}

	hc := historyClose{Unit: unit, UnassignedAt: now}
	closeStmt, err := s.Prepare(`
UPDATE experiment_worker_assignments_history
SET    unassigned_at = $historyClose.unassigned_at
WHERE  pioreactor_unit = $historyClose.pioreactor_unit
AND    unassigned_at IS NULL`, hc)
	if err != nil {
		return errors.Trace(err)
	}

	a := Assignment{Unit: unit}
	delStmt, err := s.Prepare(`
DELETE FROM experiment_worker_assignments
WHERE  pioreactor_unit = $Assignment.pioreactor_unit`, a)
	if err != nil {
		return errors.Trace(err)
	}

	err = db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		if err := tx.Query(ctx, closeStmt, hc).Run(); err != nil {
			return errors.Trace(err)
		}
		var outcome sqlair.Outcome
		if err := tx.Query(ctx, delStmt, a).Get(&outcome); err != nil {
			return errors.Trace(err)
		}
		affected, err := outcome.Result().RowsAffected()
		if err != nil {
			return errors.Trace(err)
		}
		if affected == 0 {
			return errors.NotFoundf("assignment for worker %q", unit)
		}
		return nil
	})
	return errors.Trace(err)
}

// AssignmentFor returns the worker's current assignment.
func (s *State) AssignmentFor(ctx context.Context, unit string) (Assignment, error) {
	db, err := s.DB()
	if err != nil {
		return Assignment{}, errors.Trace(err)
	}

	a := Assignment{Unit: unit}
	stmt, err := s.Prepare(`
SELECT &Assignment.*
FROM   experiment_worker_assignments
WHERE  pioreactor_unit = $Assignment.pioreactor_unit`, a)
	if err != nil {
		return Assignment{}, errors.Trace(err)
	}

	err = db.ReadTxn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		err := tx.Query(ctx, stmt, a).Get(&a)
		if errors.Is(err, sqlair.ErrNoRows) {
			return errors.NotFoundf("assignment for worker %q", unit)
		}
		return errors.Trace(err)
	})
	return a, errors.Trace(err)
}

// WorkersInExperiment returns the workers currently assigned to the
// experiment, sorted by unit name.
func (s *State) WorkersInExperiment(ctx context.Context, experiment string) ([]Worker, error) {
	db, err := s.DB()
	if err != nil {
		return nil, errors.Trace(err)
	}

	a := Assignment{Experiment: experiment}
	stmt, err := s.Prepare(`
SELECT   &Worker.*
FROM     workers w
         JOIN experiment_worker_assignments a ON w.pioreactor_unit = a.pioreactor_unit
WHERE    a.experiment = $Assignment.experiment
ORDER BY w.pioreactor_unit`, Worker{}, a)
	if err != nil {
		return nil, errors.Trace(err)
	}

	var workers []Worker
	err = db.ReadTxn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		err := tx.Query(ctx, stmt, a).GetAll(&workers)
		if errors.Is(err, sqlair.ErrNoRows) {
			return nil
		}
		return errors.Trace(err)
	})
	return workers, errors.Trace(err)
}

// ExperimentAt attributes a timestamp on a unit to the experiment that was
// assigned then, allowing a five second grace period past unassignment so
// that logs emitted while a job winds down still land in the right place.
func (s *State) ExperimentAt(ctx context.Context, unit, timestamp, graceTimestamp string) (string, error) {
	db, err := s.DB()
	if err != nil {
		return "", errors.Trace(err)
	}

	q := attributionQuery{Unit: unit, Timestamp: timestamp, Grace: graceTimestamp}
	stmt, err := s.Prepare(`
SELECT   &attributedExperiment.*
FROM     experiment_worker_assignments_history
WHERE    pioreactor_unit = $attributionQuery.pioreactor_unit
AND      assigned_at <= $attributionQuery.timestamp
AND      (unassigned_at IS NULL OR unassigned_at >= $attributionQuery.grace)
ORDER BY assigned_at DESC
LIMIT    1`, attributedExperiment{}, q)
	if err != nil {
		return "", errors.Trace(err)
	}

	var result attributedExperiment
	err = db.ReadTxn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		err := tx.Query(ctx, stmt, q).Get(&result)
		if errors.Is(err, sqlair.ErrNoRows) {
			return errors.NotFoundf("assignment covering %s on %q", timestamp, unit)
		}
		return errors.Trace(err)
	})
	return result.Experiment, errors.Trace(err)
}
