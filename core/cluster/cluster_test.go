// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

package cluster_test

import (
	"strings"

	"github.com/juju/errors"

	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/pioreactor/pioreactor/core/cluster"
)

type clusterSuite struct{}

var _ = gc.Suite(&clusterSuite{})

func (s *clusterSuite) TestValidExperimentNames(c *gc.C) {
	for _, name := range []string{
		"exp1",
		"morbidostat run 7",
		"e",
		strings.Repeat("a", 199),
	} {
		c.Check(cluster.ValidateExperimentName(name), jc.ErrorIsNil, gc.Commentf("name %q", name))
	}
}

func (s *clusterSuite) TestInvalidExperimentNames(c *gc.C) {
	for _, name := range []string{
		"",
		"current",
		"_testing_exp",
		"has/slash",
		"has\\backslash",
		"has#hash",
		"has$dollar",
		"has%percent",
		"has+plus",
		strings.Repeat("a", 200),
	} {
		err := cluster.ValidateExperimentName(name)
		c.Check(err, jc.Satisfies, errors.IsNotValid, gc.Commentf("name %q", name))
	}
}

func (s *clusterSuite) TestUnitNames(c *gc.C) {
	c.Check(cluster.IsValidUnitName("worker1"), jc.IsTrue)
	c.Check(cluster.IsValidUnitName("pio-03"), jc.IsTrue)
	c.Check(cluster.IsValidUnitName(cluster.UniversalIdentifier), jc.IsTrue)
	c.Check(cluster.IsValidUnitName(""), jc.IsFalse)
	c.Check(cluster.IsValidUnitName("-leading"), jc.IsFalse)
	c.Check(cluster.IsValidUnitName("trailing-"), jc.IsFalse)
	c.Check(cluster.IsValidUnitName("Upper"), jc.IsFalse)

	c.Check(cluster.ValidateUnitName(cluster.UniversalIdentifier), jc.Satisfies, errors.IsNotValid)
	c.Check(cluster.ValidateUnitName("worker1"), jc.ErrorIsNil)
}

func (s *clusterSuite) TestLevelsAtOrAbove(c *gc.C) {
	c.Check(cluster.LevelsAtOrAbove(cluster.Error), jc.DeepEquals, []cluster.LogLevel{cluster.Error})
	c.Check(cluster.LevelsAtOrAbove(cluster.Notice), jc.DeepEquals, []cluster.LogLevel{
		cluster.Error, cluster.Warning, cluster.Notice,
	})
	c.Check(cluster.LevelsAtOrAbove(cluster.Debug), gc.HasLen, 5)
	// Unknown floor falls back to everything.
	c.Check(cluster.LevelsAtOrAbove(cluster.LogLevel("bogus")), gc.HasLen, 5)
}

func (s *clusterSuite) TestParseLogLevel(c *gc.C) {
	l, err := cluster.ParseLogLevel("WARNING")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(l, gc.Equals, cluster.Warning)

	_, err = cluster.ParseLogLevel("warning")
	c.Check(err, jc.Satisfies, errors.IsNotValid)
}

func (s *clusterSuite) TestJobStateTransitions(c *gc.C) {
	c.Check(cluster.CanTransition(cluster.JobInit, cluster.JobReady), jc.IsTrue)
	c.Check(cluster.CanTransition(cluster.JobReady, cluster.JobSleeping), jc.IsTrue)
	c.Check(cluster.CanTransition(cluster.JobSleeping, cluster.JobReady), jc.IsTrue)
	c.Check(cluster.CanTransition(cluster.JobReady, cluster.JobDisconnected), jc.IsTrue)
	c.Check(cluster.CanTransition(cluster.JobDisconnected, cluster.JobReady), jc.IsFalse)
	c.Check(cluster.CanTransition(cluster.JobLost, cluster.JobReady), jc.IsFalse)
	c.Check(cluster.CanTransition(cluster.JobInit, cluster.JobSleeping), jc.IsFalse)
}

func (s *clusterSuite) TestParseCommandedJobState(c *gc.C) {
	for _, good := range []string{"ready", "sleeping", "disconnected"} {
		_, err := cluster.ParseCommandedJobState(good)
		c.Check(err, jc.ErrorIsNil)
	}
	_, err := cluster.ParseCommandedJobState("lost")
	c.Check(err, jc.Satisfies, errors.IsNotValid)
}
