// Package tracker keeps running statistics of periodic health measurements,
// bucketed by time of day and aggregated per window (7, 14, 30 and 90 days
// by default). Every operation takes a State and returns a new one; a State
// handed to an operation is never modified.
package tracker

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"
)

// DefaultWindows are the window lengths in days created by NewState
var DefaultWindows = []int{7, 14, 30, 90}

// WindowStats is one aggregation bucket. StartDate and EndDate are
// informational only and never used to filter measurements.
type WindowStats struct {
	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`
	Average   *float64  `json:"average"`
	Lowest    *float64  `json:"lowest"`
	Highest   *float64  `json:"highest"`
	Counters  Counters  `json:"counters"`
	TimeStats TimeStats `json:"timeStats"`
}

// Count returns the number of measurements recorded in the window
func (w WindowStats) Count() int {
	return w.Counters.Total()
}

// clone returns a copy of w that shares no mutable data with it
func (w WindowStats) clone() WindowStats {
	out := w
	out.Average = copyFloat(w.Average)
	out.Lowest = copyFloat(w.Lowest)
	out.Highest = copyFloat(w.Highest)
	out.TimeStats = make(TimeStats, len(w.TimeStats))
	for c, s := range w.TimeStats {
		out.TimeStats[c] = s
	}
	return out
}

// State is the complete tracker state: thresholds, one WindowStats per
// window label and the label of the current window.
type State struct {
	Thresholds    RangeThresholds        `json:"thresholds"`
	StatsByPeriod map[string]WindowStats `json:"statsByPeriod"`
	CurrentPeriod string                 `json:"currentPeriod"`
	CategoryMode  CategoryMode           `json:"categoryMode"`
}

// Options configures NewState. Zero fields fall back to defaults.
type Options struct {
	Thresholds    RangeThresholds
	WindowDays    []int
	DefaultWindow string
	CategoryMode  CategoryMode
}

// DefaultOptions returns the default thresholds, windows and category mode
func DefaultOptions() Options {
	return Options{
		Thresholds:    DefaultThresholds(),
		WindowDays:    DefaultWindows,
		DefaultWindow: WindowLabel(DefaultWindows[0]),
		CategoryMode:  CategoryShared,
	}
}

// WindowLabel returns the label used for a window of the given number of days
func WindowLabel(days int) string {
	return strconv.Itoa(days)
}

// NewState creates a state with empty statistics for every window.
// Each window covers [now - days, now].
func NewState(opts Options, now time.Time) (State, error) {
	if err := opts.Thresholds.Validate(); err != nil {
		return State{}, err
	}

	days := opts.WindowDays
	if len(days) == 0 {
		days = DefaultWindows
	}

	mode := opts.CategoryMode
	if mode == "" {
		mode = CategoryShared
	}
	if _, err := ParseCategoryMode(string(mode)); err != nil {
		return State{}, err
	}

	stats := make(map[string]WindowStats, len(days))
	for _, d := range days {
		if d <= 0 {
			return State{}, fmt.Errorf("%w: window length must be positive, got %d", ErrInvalidWindow, d)
		}
		stats[WindowLabel(d)] = WindowStats{
			StartDate: now.AddDate(0, 0, -d),
			EndDate:   now,
			TimeStats: TimeStats{},
		}
	}

	current := opts.DefaultWindow
	if current == "" {
		current = WindowLabel(days[0])
	}
	if _, ok := stats[current]; !ok {
		return State{}, fmt.Errorf("%w: %q", ErrInvalidWindow, current)
	}

	return State{
		Thresholds:    opts.Thresholds,
		StatsByPeriod: stats,
		CurrentPeriod: current,
		CategoryMode:  mode,
	}, nil
}

// RecordMeasurement adds level to the current window and returns the new
// state. Only the current window changes. The category is optional.
func RecordMeasurement(s State, level float64, category *TimeCategory) (State, error) {
	if math.IsNaN(level) || math.IsInf(level, 0) {
		return s, fmt.Errorf("%w: level %v is not a finite number", ErrInvalidMeasurement, level)
	}
	if category != nil && !category.Valid() {
		return s, fmt.Errorf("%w: unknown time category %q", ErrInvalidMeasurement, *category)
	}

	current, err := GetCurrentStats(s)
	if err != nil {
		return s, err
	}

	w := current.clone()
	w.Counters = w.Counters.Increment(s.Thresholds.Classify(level))
	n := w.Counters.Total()

	if w.Lowest == nil || level < *w.Lowest {
		w.Lowest = floatPtr(level)
	}
	if w.Highest == nil || level > *w.Highest {
		w.Highest = floatPtr(level)
	}

	prev := 0.0
	if w.Average != nil {
		prev = *w.Average
	}
	w.Average = floatPtr(runningMean(prev, level, n))

	if category != nil {
		cs := w.TimeStats[*category]
		cs.Count++
		divisor := cs.Count
		if s.CategoryMode == CategoryShared {
			divisor = n
		}
		cs.Average = runningMean(cs.Average, level, divisor)
		w.TimeStats[*category] = cs
	}

	return s.withWindow(s.CurrentPeriod, w), nil
}

// GetCurrentStats returns the statistics of the current window
func GetCurrentStats(s State) (WindowStats, error) {
	w, ok := s.StatsByPeriod[s.CurrentPeriod]
	if !ok {
		return WindowStats{}, fmt.Errorf("%w (%q)", ErrInvalidState, s.CurrentPeriod)
	}
	return w, nil
}

// SwitchWindow makes label the current window. The state is returned
// unchanged with ErrInvalidWindow if label is unknown.
func SwitchWindow(s State, label string) (State, error) {
	if _, ok := s.StatsByPeriod[label]; !ok {
		return s, fmt.Errorf("%w: %q", ErrInvalidWindow, label)
	}
	out := s
	out.CurrentPeriod = label
	return out, nil
}

// Windows returns the window labels, shortest window first
func Windows(s State) []string {
	labels := make([]string, 0, len(s.StatsByPeriod))
	for l := range s.StatsByPeriod {
		labels = append(labels, l)
	}
	sort.Slice(labels, func(i, j int) bool {
		a, errA := strconv.Atoi(labels[i])
		b, errB := strconv.Atoi(labels[j])
		if errA == nil && errB == nil {
			return a < b
		}
		return labels[i] < labels[j]
	})
	return labels
}

// withWindow returns a copy of s whose window map holds w under label
func (s State) withWindow(label string, w WindowStats) State {
	stats := make(map[string]WindowStats, len(s.StatsByPeriod))
	for l, ws := range s.StatsByPeriod {
		stats[l] = ws
	}
	stats[label] = w

	out := s
	out.StatsByPeriod = stats
	return out
}

// runningMean folds level into an average over n values, prev being the
// average of the first n-1
func runningMean(prev, level float64, n int) float64 {
	return (prev*float64(n-1) + level) / float64(n)
}

func floatPtr(v float64) *float64 {
	return &v
}

func copyFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	return floatPtr(*p)
}
