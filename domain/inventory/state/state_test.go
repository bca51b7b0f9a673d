// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

package state_test

import (
	"context"

	"github.com/juju/errors"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/pioreactor/pioreactor/domain/inventory/state"
	databasetesting "github.com/pioreactor/pioreactor/internal/database/testing"
)

type stateSuite struct {
	databasetesting.LeaderStoreSuite

	st *state.State
}

var _ = gc.Suite(&stateSuite{})

func (s *stateSuite) SetUpTest(c *gc.C) {
	s.LeaderStoreSuite.SetUpTest(c)
	s.st = state.NewState(s.TxnRunnerFactory())
}

func (s *stateSuite) addWorker(c *gc.C, unit string) {
	err := s.st.AddWorker(context.Background(), state.Worker{
		Unit:     unit,
		AddedAt:  "2026-08-25T08:00:00Z",
		IsActive: true,
	})
	c.Assert(err, jc.ErrorIsNil)
}

func (s *stateSuite) addExperiment(c *gc.C, name string) {
	_, err := s.DB.Exec(
		`INSERT INTO experiments (experiment, created_at) VALUES (?, '2026-08-25T08:00:00Z')`, name)
	c.Assert(err, jc.ErrorIsNil)
}

func (s *stateSuite) TestAddGetRemoveWorker(c *gc.C) {
	ctx := context.Background()
	s.addWorker(c, "u1")

	w, err := s.st.GetWorker(ctx, "u1")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(w.IsActive, jc.IsTrue)

	err = s.st.AddWorker(ctx, state.Worker{Unit: "u1", AddedAt: "2026-08-25T09:00:00Z"})
	c.Check(err, jc.Satisfies, errors.IsAlreadyExists)

	c.Assert(s.st.RemoveWorker(ctx, "u1", "2026-08-25T10:00:00Z"), jc.ErrorIsNil)
	_, err = s.st.GetWorker(ctx, "u1")
	c.Check(err, jc.Satisfies, errors.IsNotFound)
}

func (s *stateSuite) TestSetActive(c *gc.C) {
	ctx := context.Background()
	s.addWorker(c, "u1")

	c.Assert(s.st.SetActive(ctx, "u1", false), jc.ErrorIsNil)
	w, err := s.st.GetWorker(ctx, "u1")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(w.IsActive, jc.IsFalse)

	c.Check(s.st.SetActive(ctx, "nope", true), jc.Satisfies, errors.IsNotFound)
}

func (s *stateSuite) TestAssignIsSingular(c *gc.C) {
	ctx := context.Background()
	s.addWorker(c, "u1")
	s.addExperiment(c, "exp1")
	s.addExperiment(c, "exp2")

	c.Assert(s.st.Assign(ctx, "u1", "exp1", "2026-08-25T09:00:00Z"), jc.ErrorIsNil)
	c.Assert(s.st.Assign(ctx, "u1", "exp2", "2026-08-25T10:00:00Z"), jc.ErrorIsNil)

	a, err := s.st.AssignmentFor(ctx, "u1")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(a.Experiment, gc.Equals, "exp2")

	// One current row only.
	var n int
	row := s.DB.QueryRow(`SELECT COUNT(*) FROM experiment_worker_assignments WHERE pioreactor_unit = 'u1'`)
	c.Assert(row.Scan(&n), jc.ErrorIsNil)
	c.Check(n, gc.Equals, 1)

	// History holds both, the first closed at the reassignment time.
	row = s.DB.QueryRow(`SELECT COUNT(*) FROM experiment_worker_assignments_history WHERE pioreactor_unit = 'u1'`)
	c.Assert(row.Scan(&n), jc.ErrorIsNil)
	c.Check(n, gc.Equals, 2)
}

func (s *stateSuite) TestAssignIdempotentForSameExperiment(c *gc.C) {
	ctx := context.Background()
	s.addWorker(c, "u1")
	s.addExperiment(c, "exp1")

	for i := 0; i < 3; i++ {
		c.Assert(s.st.Assign(ctx, "u1", "exp1", "2026-08-25T09:00:00Z"), jc.ErrorIsNil)
	}

	var n int
	row := s.DB.QueryRow(`SELECT COUNT(*) FROM experiment_worker_assignments_history WHERE pioreactor_unit = 'u1'`)
	c.Assert(row.Scan(&n), jc.ErrorIsNil)
	c.Check(n, gc.Equals, 1)
}

func (s *stateSuite) TestAssignUnknownExperiment(c *gc.C) {
	s.addWorker(c, "u1")
	err := s.st.Assign(context.Background(), "u1", "ghost", "2026-08-25T09:00:00Z")
	c.Check(err, jc.Satisfies, errors.IsNotFound)
}

func (s *stateSuite) TestUnassign(c *gc.C) {
	ctx := context.Background()
	s.addWorker(c, "u1")
	s.addExperiment(c, "exp1")
	c.Assert(s.st.Assign(ctx, "u1", "exp1", "2026-08-25T09:00:00Z"), jc.ErrorIsNil)

	c.Assert(s.st.Unassign(ctx, "u1", "2026-08-25T10:00:00Z"), jc.ErrorIsNil)
	_, err := s.st.AssignmentFor(ctx, "u1")
	c.Check(err, jc.Satisfies, errors.IsNotFound)

	c.Check(s.st.Unassign(ctx, "u1", "2026-08-25T10:00:00Z"), jc.Satisfies, errors.IsNotFound)
}

func (s *stateSuite) TestWorkersInExperiment(c *gc.C) {
	ctx := context.Background()
	s.addWorker(c, "u2")
	s.addWorker(c, "u1")
	s.addWorker(c, "u3")
	s.addExperiment(c, "exp1")
	c.Assert(s.st.Assign(ctx, "u2", "exp1", "2026-08-25T09:00:00Z"), jc.ErrorIsNil)
	c.Assert(s.st.Assign(ctx, "u1", "exp1", "2026-08-25T09:00:00Z"), jc.ErrorIsNil)

	workers, err := s.st.WorkersInExperiment(ctx, "exp1")
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(workers, gc.HasLen, 2)
	c.Check(workers[0].Unit, gc.Equals, "u1")
	c.Check(workers[1].Unit, gc.Equals, "u2")
}

func (s *stateSuite) TestExperimentAtAttribution(c *gc.C) {
	ctx := context.Background()
	s.addWorker(c, "u1")
	s.addExperiment(c, "exp1")
	s.addExperiment(c, "exp2")

	c.Assert(s.st.Assign(ctx, "u1", "exp1", "2026-08-25T09:00:00Z"), jc.ErrorIsNil)
	c.Assert(s.st.Assign(ctx, "u1", "exp2", "2026-08-25T10:00:00Z"), jc.ErrorIsNil)

	// During the first assignment.
	exp, err := s.st.ExperimentAt(ctx, "u1", "2026-08-25T09:30:00Z", "2026-08-25T09:29:55Z")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(exp, gc.Equals, "exp1")

	// After the reassignment.
	exp, err = s.st.ExperimentAt(ctx, "u1", "2026-08-25T10:30:00Z", "2026-08-25T10:29:55Z")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(exp, gc.Equals, "exp2")

	// Before any assignment.
	_, err = s.st.ExperimentAt(ctx, "u1", "2026-08-25T08:30:00Z", "2026-08-25T08:29:55Z")
	c.Check(err, jc.Satisfies, errors.IsNotFound)
}
