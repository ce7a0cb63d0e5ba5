// Package report computes statistics over the measurement log. Unlike the
// tracker's running aggregates it works on the full history of a window.
package report

import (
	"fmt"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/smukkama/glucose-stats/internal/database"
	"github.com/smukkama/glucose-stats/internal/tracker"
)

// Summary describes the measurements of one subject over a period
type Summary struct {
	From      time.Time
	To        time.Time
	Count     int
	Mean      float64
	StdDev    float64
	Median    float64
	P90       float64
	Min       float64
	Max       float64
	BandShare map[tracker.Band]float64
}

// Summarize computes descriptive statistics of levels and the share of
// levels in each band. An empty input gives a zero Summary.
func Summarize(levels []float64, thresholds tracker.RangeThresholds) (Summary, error) {
	var s Summary
	if len(levels) == 0 {
		return s, nil
	}

	data := stats.Float64Data(levels)
	var err error

	if s.Mean, err = data.Mean(); err != nil {
		return s, fmt.Errorf("failed to compute mean: %w", err)
	}
	if s.StdDev, err = data.StandardDeviation(); err != nil {
		return s, fmt.Errorf("failed to compute standard deviation: %w", err)
	}
	if s.Median, err = data.Median(); err != nil {
		return s, fmt.Errorf("failed to compute median: %w", err)
	}
	if s.P90, err = data.Percentile(90); err != nil {
		return s, fmt.Errorf("failed to compute percentile: %w", err)
	}
	if s.Min, err = data.Min(); err != nil {
		return s, fmt.Errorf("failed to compute min: %w", err)
	}
	if s.Max, err = data.Max(); err != nil {
		return s, fmt.Errorf("failed to compute max: %w", err)
	}

	s.Count = len(levels)
	s.BandShare = make(map[tracker.Band]float64)
	for _, level := range levels {
		s.BandShare[thresholds.Classify(level)]++
	}
	for band, n := range s.BandShare {
		s.BandShare[band] = n / float64(s.Count)
	}

	return s, nil
}

// SummarizeMeasurements summarizes logged measurements taken in [from, to)
func SummarizeMeasurements(measurements []*database.Measurement, thresholds tracker.RangeThresholds, from, to time.Time) (Summary, error) {
	levels := make([]float64, 0, len(measurements))
	for _, m := range measurements {
		if m.MeasuredAt.Before(from) || !m.MeasuredAt.Before(to) {
			continue
		}
		levels = append(levels, m.Level)
	}

	s, err := Summarize(levels, thresholds)
	if err != nil {
		return s, err
	}
	s.From = from
	s.To = to
	return s, nil
}

// Rebuild replays logged measurements, oldest first, into a fresh tracker
// state. Every window receives every measurement, so the result reflects
// the full log rather than the window switches that happened live.
// Measurements the tracker rejects are skipped and counted.
func Rebuild(measurements []*database.Measurement, opts tracker.Options, now time.Time) (tracker.State, int, error) {
	state, err := tracker.NewState(opts, now)
	if err != nil {
		return tracker.State{}, 0, err
	}
	current := state.CurrentPeriod

	skipped := 0
	for i, label := range tracker.Windows(state) {
		if state, err = tracker.SwitchWindow(state, label); err != nil {
			return tracker.State{}, 0, err
		}

		for _, m := range measurements {
			var category *tracker.TimeCategory
			if m.TimeCategory != nil {
				c := tracker.TimeCategory(*m.TimeCategory)
				category = &c
			}

			next, err := tracker.RecordMeasurement(state, m.Level, category)
			if err != nil {
				if i == 0 {
					skipped++
				}
				continue
			}
			state = next
		}
	}

	state, err = tracker.SwitchWindow(state, current)
	if err != nil {
		return tracker.State{}, 0, err
	}

	return state, skipped, nil
}
