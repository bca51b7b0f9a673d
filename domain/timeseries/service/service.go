// Copyright 2025 Pioreactor contributors
// Licensed under the MIT licence, see LICENCE file for details.

// Package service turns stored time-series points into decimated chart
// series: lookback windowing, per-series stride subsampling down to a
// target point count, and per-metric rounding.
package service

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"

	"github.com/pioreactor/pioreactor/domain/timeseries/state"
	"github.com/pioreactor/pioreactor/internal/database"
)

// DefaultTargetPoints is the decimation target when the caller does not
// give one.
const DefaultTargetPoints = 720

// metricDecimals maps metric names to the decimal places of their chart
// values. Anything unlisted keeps full precision.
var metricDecimals = map[string]int{
	"growth_rates":         5,
	"od_readings":          7,
	"od_readings_filtered": 7,
	"od_readings_fused":    7,
	"raw_od_readings":      7,
	"temperature_readings": 2,
}

// ChartPoint is one (timestamp, value) pair on a chart.
type ChartPoint struct {
	X string  `json:"x"`
	Y float64 `json:"y"`
}

// Chart is the response shape of a time-series query: parallel slices of
// series names and their points.
type Chart struct {
	Series []string       `json:"series"`
	Data   [][]ChartPoint `json:"data"`
}

// Query bounds a time-series read.
type Query struct {
	Experiment string
	Metric     string
	// Lookback restricts to the trailing window; zero means all time.
	Lookback time.Duration
	// TargetPoints caps the returned points per chart; zero applies the
	// default, negative is invalid.
	TargetPoints int
}

// Service reads decimated chart data.
type Service struct {
	st    *state.State
	clock clock.Clock
}

// NewService returns a time-series service.
func NewService(st *state.State, clk clock.Clock) *Service {
	return &Service{st: st, clock: clk}
}

// Chart returns the decimated chart for the query.
func (s *Service) Chart(ctx context.Context, q Query) (Chart, error) {
	if q.TargetPoints < 0 {
		return Chart{}, errors.NotValidf("target_points %d", q.TargetPoints)
	}
	target := q.TargetPoints
	if target == 0 {
		target = DefaultTargetPoints
	}

	since := ""
	if q.Lookback > 0 {
		since = database.FormatTimestamp(s.clock.Now().Add(-q.Lookback))
	}
	points, err := s.st.Points(ctx, q.Metric, q.Experiment, since)
	if err != nil {
		return Chart{}, errors.Trace(err)
	}

	bySeries := make(map[string][]ChartPoint)
	decimals, rounded := metricDecimals[q.Metric]
	for _, p := range points {
		key := p.Unit
		if p.Channel != "" {
			key = p.Unit + "-" + p.Channel
		}
		y := p.Value
		if rounded {
			y = roundTo(y, decimals)
		}
		bySeries[key] = append(bySeries[key], ChartPoint{X: p.Timestamp, Y: y})
	}

	names := make([]string, 0, len(bySeries))
	for name := range bySeries {
		names = append(names, name)
	}
	sort.Strings(names)

	chart := Chart{Series: names, Data: make([][]ChartPoint, len(names))}
	for i, name := range names {
		chart.Data[i] = Decimate(bySeries[name], target)
	}
	return chart, nil
}

// Decimate reduces a series to at most target points using a fixed stride,
// so repeated queries over the same data return the same subset.
func Decimate(points []ChartPoint, target int) []ChartPoint {
	if target <= 0 || len(points) <= target {
		return points
	}
	stride := (len(points) + target - 1) / target
	out := make([]ChartPoint, 0, target)
	for i := 0; i < len(points); i += stride {
		out = append(out, points[i])
	}
	return out
}

func roundTo(v float64, decimals int) float64 {
	scale := math.Pow10(decimals)
	return math.Round(v*scale) / scale
}
