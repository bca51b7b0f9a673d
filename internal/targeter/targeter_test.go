// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

package targeter_test

import (
	"github.com/juju/errors"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/pioreactor/pioreactor/internal/targeter"
)

type targeterSuite struct {
	inv targeter.Inventory
}

var _ = gc.Suite(&targeterSuite{})

func (s *targeterSuite) SetUpTest(c *gc.C) {
	s.inv = targeter.Inventory{
		AllWorkers:    []string{"u1", "u2", "u3", "leader1"},
		ActiveWorkers: []string{"u1", "u2", "leader1"},
		Leader:        "leader1",
		ByExperiment: map[string][]string{
			"exp1": {"u1", "u2"},
			"exp2": {"u2"},
		},
	}
}

func boolp(b bool) *bool { return &b }

func (s *targeterSuite) TestDefaultAllWorkersSorted(c *gc.C) {
	got, err := targeter.Resolve(targeter.Request{}, s.inv)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(got, jc.DeepEquals, []string{"leader1", "u1", "u2", "u3"})
}

func (s *targeterSuite) TestActiveOnly(c *gc.C) {
	got, err := targeter.Resolve(targeter.Request{ActiveOnly: true}, s.inv)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(got, jc.DeepEquals, []string{"leader1", "u1", "u2"})
}

func (s *targeterSuite) TestExplicitUnitsUnfiltered(c *gc.C) {
	got, err := targeter.Resolve(targeter.Request{
		Units: []string{"u9", "u1"},
	}, s.inv)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(got, jc.DeepEquals, []string{"u1", "u9"})
}

func (s *targeterSuite) TestFilterNonWorkers(c *gc.C) {
	got, err := targeter.Resolve(targeter.Request{
		Units:            []string{"u9", "u1"},
		FilterNonWorkers: true,
	}, s.inv)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(got, jc.DeepEquals, []string{"u1"})
}

func (s *targeterSuite) TestExperimentExpansion(c *gc.C) {
	got, err := targeter.Resolve(targeter.Request{
		Experiments: []string{"exp1"},
		Precedence:  targeter.Experiments,
	}, s.inv)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(got, jc.DeepEquals, []string{"u1", "u2"})
}

func (s *targeterSuite) TestEmptyExperimentExpansionIsBadRequest(c *gc.C) {
	_, err := targeter.Resolve(targeter.Request{
		Experiments: []string{"exp-empty"},
	}, s.inv)
	c.Check(err, jc.Satisfies, errors.IsBadRequest)
}

func (s *targeterSuite) TestIntersectionPrecedence(c *gc.C) {
	got, err := targeter.Resolve(targeter.Request{
		Units:       []string{"u2", "u3"},
		Experiments: []string{"exp1"},
		Precedence:  targeter.Intersection,
	}, s.inv)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(got, jc.DeepEquals, []string{"u2"})
}

func (s *targeterSuite) TestUnitsPrecedence(c *gc.C) {
	got, err := targeter.Resolve(targeter.Request{
		Units:       []string{"u3"},
		Experiments: []string{"exp1"},
		Precedence:  targeter.Units,
	}, s.inv)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(got, jc.DeepEquals, []string{"u3"})
}

func (s *targeterSuite) TestMultipleExperimentsUnion(c *gc.C) {
	got, err := targeter.Resolve(targeter.Request{
		Experiments: []string{"exp1", "exp2"},
		Precedence:  targeter.Experiments,
	}, s.inv)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(got, jc.DeepEquals, []string{"u1", "u2"})
}

func (s *targeterSuite) TestIncludeLeaderForced(c *gc.C) {
	got, err := targeter.Resolve(targeter.Request{
		Units:         []string{"u1"},
		IncludeLeader: boolp(true),
	}, s.inv)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(got, jc.DeepEquals, []string{"leader1", "u1"})
}

func (s *targeterSuite) TestExcludeLeaderForced(c *gc.C) {
	got, err := targeter.Resolve(targeter.Request{
		ActiveOnly:    true,
		IncludeLeader: boolp(false),
	}, s.inv)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(got, jc.DeepEquals, []string{"u1", "u2"})
}

func (s *targeterSuite) TestLeaderFollowsInventoryByDefault(c *gc.C) {
	got, err := targeter.Resolve(targeter.Request{ActiveOnly: true}, s.inv)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(got, jc.DeepEquals, []string{"leader1", "u1", "u2"})
}

func (s *targeterSuite) TestEmptyResultIsBadRequest(c *gc.C) {
	_, err := targeter.Resolve(targeter.Request{
		Units:            []string{"u9"},
		FilterNonWorkers: true,
	}, s.inv)
	c.Check(err, jc.Satisfies, errors.IsBadRequest)
}

func (s *targeterSuite) TestUnknownPrecedence(c *gc.C) {
	_, err := targeter.Resolve(targeter.Request{
		Experiments: []string{"exp1"},
		Precedence:  targeter.Precedence("bogus"),
	}, s.inv)
	c.Check(err, jc.Satisfies, errors.IsBadRequest)
}
