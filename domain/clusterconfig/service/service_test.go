// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

package service_test

import (
	"context"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/juju/errors"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/pioreactor/pioreactor/domain/clusterconfig/service"
	"github.com/pioreactor/pioreactor/domain/clusterconfig/state"
	databasetesting "github.com/pioreactor/pioreactor/internal/database/testing"
)

const goodConfig = `[cluster.topology]
leader_hostname = leader1
leader_address = leader1.local

[mqtt]
broker_address = leader1.local
`

type validateSuite struct{}

var _ = gc.Suite(&validateSuite{})

func (s *validateSuite) TestGoodSharedConfig(c *gc.C) {
	c.Check(service.Validate("config.ini", goodConfig), jc.ErrorIsNil)
}

func (s *validateSuite) TestMissingMQTTSection(c *gc.C) {
	conf := `[cluster.topology]
leader_hostname = leader1
leader_address = leader1.local
`
	err := service.Validate("config.ini", conf)
	c.Assert(err, jc.Satisfies, errors.IsNotValid)
	c.Check(err, gc.ErrorMatches, `.*\[mqtt\].*`)
}

func (s *validateSuite) TestMissingLeaderAddress(c *gc.C) {
	conf := `[cluster.topology]
leader_hostname = leader1

[mqtt]
`
	err := service.Validate("config.ini", conf)
	c.Assert(err, jc.Satisfies, errors.IsNotValid)
	c.Check(err, gc.ErrorMatches, `.*leader_address.*`)
}

func (s *validateSuite) TestAddressWithSchemeRejected(c *gc.C) {
	conf := `[cluster.topology]
leader_hostname = leader1
leader_address = http://leader1.local

[mqtt]
`
	err := service.Validate("config.ini", conf)
	c.Check(err, jc.Satisfies, errors.IsNotValid)
}

func (s *validateSuite) TestDuplicateSectionRejected(c *gc.C) {
	conf := goodConfig + "\n[mqtt]\nport = 1883\n"
	err := service.Validate("config.ini", conf)
	c.Assert(err, jc.Satisfies, errors.IsNotValid)
	c.Check(err, gc.ErrorMatches, `.*duplicate section.*`)
}

func (s *validateSuite) TestDuplicateOptionRejected(c *gc.C) {
	conf := `[cluster.topology]
leader_hostname = leader1
leader_hostname = leader2
leader_address = leader1.local

[mqtt]
`
	err := service.Validate("config.ini", conf)
	c.Assert(err, jc.Satisfies, errors.IsNotValid)
	c.Check(err, gc.ErrorMatches, `.*duplicate option.*`)
}

func (s *validateSuite) TestUnitConfigSkipsRequiredFields(c *gc.C) {
	c.Check(service.Validate("config_u1.ini", "[stirring]\nrpm = 400\n"), jc.ErrorIsNil)
}

func (s *validateSuite) TestNormalizeDashes(c *gc.C) {
	c.Check(service.Normalize("a – b — c"), gc.Equals, "a - b - c")
}

func (s *validateSuite) TestFilenames(c *gc.C) {
	c.Check(service.IsValidFilename("config.ini"), jc.IsTrue)
	c.Check(service.IsValidFilename("config_u1.ini"), jc.IsTrue)
	c.Check(service.IsValidFilename("config_u1.yaml"), jc.IsFalse)
	c.Check(service.IsValidFilename("other.ini"), jc.IsFalse)
	c.Check(service.IsValidFilename("config_.ini"), jc.IsFalse)

	c.Check(service.UnitForFilename("config.ini"), gc.Equals, "")
	c.Check(service.UnitForFilename("config_u1.ini"), gc.Equals, "u1")
}

type serviceSuite struct {
	databasetesting.LeaderStoreSuite

	svc *service.Service
}

var _ = gc.Suite(&serviceSuite{})

func (s *serviceSuite) SetUpTest(c *gc.C) {
	s.LeaderStoreSuite.SetUpTest(c)
	clk := testclock.NewClock(time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC))
	s.svc = service.NewService(state.NewState(s.TxnRunnerFactory()), clk)
}

func (s *serviceSuite) TestUpdateGetRoundTrip(c *gc.C) {
	ctx := context.Background()
	stored, err := s.svc.Update(ctx, "config.ini", goodConfig)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(stored, gc.Equals, goodConfig)

	got, err := s.svc.Get(ctx, "config.ini")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(got, gc.Equals, goodConfig)
}

func (s *serviceSuite) TestUpdateNormalizesBeforeStore(c *gc.C) {
	ctx := context.Background()
	dashed := "[stirring]\nrpm–target = 400\n"
	stored, err := s.svc.Update(ctx, "config_u1.ini", dashed)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(stored, gc.Equals, "[stirring]\nrpm-target = 400\n")

	got, err := s.svc.Get(ctx, "config_u1.ini")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(got, gc.Equals, stored)
}

func (s *serviceSuite) TestUpdateInvalidRejectedWithoutHistory(c *gc.C) {
	ctx := context.Background()
	_, err := s.svc.Update(ctx, "config.ini", "[cluster.topology]\n")
	c.Assert(err, jc.Satisfies, errors.IsNotValid)

	_, err = s.svc.Get(ctx, "config.ini")
	c.Check(err, jc.Satisfies, errors.IsNotFound)
}

func (s *serviceSuite) TestLatestWins(c *gc.C) {
	ctx := context.Background()
	_, err := s.svc.Update(ctx, "config_u1.ini", "[a]\nx = 1\n")
	c.Assert(err, jc.ErrorIsNil)
	_, err = s.svc.Update(ctx, "config_u1.ini", "[a]\nx = 2\n")
	c.Assert(err, jc.ErrorIsNil)

	got, err := s.svc.Get(ctx, "config_u1.ini")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(got, gc.Equals, "[a]\nx = 2\n")

	names, err := s.svc.Filenames(ctx)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(names, jc.DeepEquals, []string{"config_u1.ini"})
}
