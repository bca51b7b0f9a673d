// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

package service_test

import (
	"context"
	"fmt"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/juju/errors"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/pioreactor/pioreactor/domain/timeseries/service"
	"github.com/pioreactor/pioreactor/domain/timeseries/state"
	databasetesting "github.com/pioreactor/pioreactor/internal/database/testing"
)

type decimateSuite struct{}

var _ = gc.Suite(&decimateSuite{})

func mkPoints(n int) []service.ChartPoint {
	out := make([]service.ChartPoint, n)
	for i := range out {
		out[i] = service.ChartPoint{X: fmt.Sprintf("t%06d", i), Y: float64(i)}
	}
	return out
}

func (s *decimateSuite) TestDecimateNoOpUnderTarget(c *gc.C) {
	pts := mkPoints(100)
	c.Check(service.Decimate(pts, 720), gc.HasLen, 100)
}

func (s *decimateSuite) TestDecimateBounds(c *gc.C) {
	for _, n := range []int{721, 1000, 7200, 10000, 100001} {
		got := service.Decimate(mkPoints(n), 720)
		c.Check(len(got) <= 720+72, jc.IsTrue, gc.Commentf("n=%d len=%d", n, len(got)))
		c.Check(len(got) > 0, jc.IsTrue)
	}
}

func (s *decimateSuite) TestDecimateDeterministic(c *gc.C) {
	pts := mkPoints(5000)
	a := service.Decimate(pts, 720)
	b := service.Decimate(pts, 720)
	c.Check(a, jc.DeepEquals, b)
	// First point always survives.
	c.Check(a[0], jc.DeepEquals, pts[0])
}

type serviceSuite struct {
	databasetesting.LeaderStoreSuite

	clock *testclock.Clock
	st    *state.State
	svc   *service.Service
}

var _ = gc.Suite(&serviceSuite{})

func (s *serviceSuite) SetUpTest(c *gc.C) {
	s.LeaderStoreSuite.SetUpTest(c)
	s.clock = testclock.NewClock(time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC))
	s.st = state.NewState(s.TxnRunnerFactory())
	s.svc = service.NewService(s.st, s.clock)
}

func (s *serviceSuite) seedGrowthRates(c *gc.C, unit string, n int) {
	base := s.clock.Now().Add(-time.Duration(n) * time.Second)
	for i := 0; i < n; i++ {
		err := s.st.Insert(context.Background(), "growth_rates", "exp1", state.Point{
			Unit:      unit,
			Timestamp: base.Add(time.Duration(i) * time.Second).Format("2006-01-02T15:04:05.000000Z07:00"),
			Value:     0.123456789,
		})
		c.Assert(err, jc.ErrorIsNil)
	}
}

func (s *serviceSuite) TestChartRoundsAndDecimates(c *gc.C) {
	s.seedGrowthRates(c, "u1", 1500)

	chart, err := s.svc.Chart(context.Background(), service.Query{
		Experiment:   "exp1",
		Metric:       "growth_rates",
		TargetPoints: 720,
	})
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(chart.Series, jc.DeepEquals, []string{"u1"})
	c.Assert(chart.Data, gc.HasLen, 1)
	c.Check(len(chart.Data[0]) <= 792, jc.IsTrue)
	c.Check(len(chart.Data[0]) > 0, jc.IsTrue)
	// Growth rates round to 5 decimal places.
	c.Check(chart.Data[0][0].Y, gc.Equals, 0.12346)
}

func (s *serviceSuite) TestChartLookbackWindow(c *gc.C) {
	s.seedGrowthRates(c, "u1", 100)

	// Only the trailing 50 seconds.
	chart, err := s.svc.Chart(context.Background(), service.Query{
		Experiment: "exp1",
		Metric:     "growth_rates",
		Lookback:   50 * time.Second,
	})
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(chart.Data, gc.HasLen, 1)
	c.Check(len(chart.Data[0]) <= 51, jc.IsTrue)
	c.Check(len(chart.Data[0]) >= 49, jc.IsTrue)
}

func (s *serviceSuite) TestChartChannelSeries(c *gc.C) {
	ctx := context.Background()
	for _, ch := range []string{"1", "2"} {
		err := s.st.Insert(ctx, "od_readings", "exp1", state.Point{
			Unit:      "u1",
			Channel:   ch,
			Timestamp: "2026-08-25T11:00:00.000000Z",
			Value:     1.23456789,
		})
		c.Assert(err, jc.ErrorIsNil)
	}

	chart, err := s.svc.Chart(ctx, service.Query{Experiment: "exp1", Metric: "od_readings"})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(chart.Series, jc.DeepEquals, []string{"u1-1", "u1-2"})
	// OD rounds to 7 decimal places.
	c.Check(chart.Data[0][0].Y, gc.Equals, 1.2345679)
}

func (s *serviceSuite) TestChartInvalidTargetPoints(c *gc.C) {
	_, err := s.svc.Chart(context.Background(), service.Query{
		Experiment:   "exp1",
		Metric:       "growth_rates",
		TargetPoints: -1,
	})
	c.Check(err, jc.Satisfies, errors.IsNotValid)
}

func (s *serviceSuite) TestChartEmptyExperiment(c *gc.C) {
	chart, err := s.svc.Chart(context.Background(), service.Query{
		Experiment: "empty",
		Metric:     "growth_rates",
	})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(chart.Series, gc.HasLen, 0)
	c.Check(chart.Data, gc.HasLen, 0)
}
