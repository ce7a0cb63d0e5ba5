package tracker

import (
	"errors"
	"math"
	"reflect"
	"testing"
	"time"
)

var testNow = time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)

func newTestState(t *testing.T, mode CategoryMode) State {
	t.Helper()
	opts := DefaultOptions()
	opts.CategoryMode = mode
	s, err := NewState(opts, testNow)
	if err != nil {
		t.Fatalf("NewState failed: %v", err)
	}
	return s
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestNewState_Windows(t *testing.T) {
	s := newTestState(t, CategoryPerCategory)

	labels := Windows(s)
	if !reflect.DeepEqual(labels, []string{"7", "14", "30", "90"}) {
		t.Fatalf("Expected windows [7 14 30 90], got %v", labels)
	}
	if s.CurrentPeriod != "7" {
		t.Errorf("Expected current window 7, got %s", s.CurrentPeriod)
	}

	w := s.StatsByPeriod["30"]
	if !w.StartDate.Equal(testNow.AddDate(0, 0, -30)) {
		t.Errorf("Expected start date %v, got %v", testNow.AddDate(0, 0, -30), w.StartDate)
	}
	if !w.EndDate.Equal(testNow) {
		t.Errorf("Expected end date %v, got %v", testNow, w.EndDate)
	}
	if w.Average != nil || w.Lowest != nil || w.Highest != nil {
		t.Error("Expected empty aggregates for a fresh window")
	}
	if w.Count() != 0 {
		t.Errorf("Expected 0 measurements, got %d", w.Count())
	}
}

func TestNewState_Rejects(t *testing.T) {
	opts := DefaultOptions()
	opts.DefaultWindow = "365"
	if _, err := NewState(opts, testNow); !errors.Is(err, ErrInvalidWindow) {
		t.Errorf("Expected ErrInvalidWindow for unknown default window, got %v", err)
	}

	opts = DefaultOptions()
	opts.WindowDays = []int{7, 0}
	if _, err := NewState(opts, testNow); !errors.Is(err, ErrInvalidWindow) {
		t.Errorf("Expected ErrInvalidWindow for zero-day window, got %v", err)
	}

	opts = DefaultOptions()
	opts.Thresholds.High = Interval{Min: 8, Max: 6}
	if _, err := NewState(opts, testNow); !errors.Is(err, ErrInvalidThresholds) {
		t.Errorf("Expected ErrInvalidThresholds, got %v", err)
	}

	opts = DefaultOptions()
	opts.CategoryMode = "median"
	if _, err := NewState(opts, testNow); err == nil {
		t.Error("Expected error for unknown category mode")
	}
}

func TestRecordMeasurement_FirstReading(t *testing.T) {
	s := newTestState(t, CategoryPerCategory)

	s, err := RecordMeasurement(s, 5.2, nil)
	if err != nil {
		t.Fatalf("RecordMeasurement failed: %v", err)
	}

	w, _ := GetCurrentStats(s)
	if w.Count() != 1 {
		t.Fatalf("Expected exactly one counter increment, got total %d", w.Count())
	}
	if w.Counters.Normal != 1 {
		t.Errorf("Expected normal=1, got %+v", w.Counters)
	}
	if *w.Average != 5.2 {
		t.Errorf("Expected average 5.2, got %v", *w.Average)
	}
	if *w.Lowest != 5.2 || *w.Highest != 5.2 {
		t.Errorf("Expected lowest=highest=5.2, got %v/%v", *w.Lowest, *w.Highest)
	}
	if len(w.TimeStats) != 0 {
		t.Errorf("Expected no time stats without a category, got %v", w.TimeStats)
	}
}

func TestRecordMeasurement_SharedCategoryAverage(t *testing.T) {
	s := newTestState(t, CategoryShared)

	s, _ = RecordMeasurement(s, 5.5, BeforeBreakfast.Ptr())
	s, _ = RecordMeasurement(s, 7.8, AfterLunch.Ptr())

	w := s.StatsByPeriod["7"]
	want := Counters{Normal: 1, High: 1}
	if w.Counters != want {
		t.Errorf("Expected counters %+v, got %+v", want, w.Counters)
	}
	if !approx(*w.Average, 6.65) {
		t.Errorf("Expected average 6.65, got %v", *w.Average)
	}
	if *w.Highest != 7.8 || *w.Lowest != 5.5 {
		t.Errorf("Expected highest 7.8 and lowest 5.5, got %v/%v", *w.Highest, *w.Lowest)
	}
	if got := w.TimeStats[BeforeBreakfast].Average; !approx(got, 5.5) {
		t.Errorf("Expected beforeBreakfast 5.5, got %v", got)
	}
	// divisor is the window total (2), not the category count
	if got := w.TimeStats[AfterLunch].Average; !approx(got, 3.9) {
		t.Errorf("Expected afterLunch 3.9, got %v", got)
	}
}

func TestNewState_DefaultsToSharedCategoryAverage(t *testing.T) {
	for name, opts := range map[string]Options{
		"default options": DefaultOptions(),
		"zero mode":       {Thresholds: DefaultThresholds()},
	} {
		s, err := NewState(opts, testNow)
		if err != nil {
			t.Fatalf("%s: NewState failed: %v", name, err)
		}
		if s.CategoryMode != CategoryShared {
			t.Errorf("%s: expected shared mode, got %s", name, s.CategoryMode)
		}

		s, _ = RecordMeasurement(s, 5.5, BeforeBreakfast.Ptr())
		s, _ = RecordMeasurement(s, 7.8, AfterLunch.Ptr())
		if got := s.StatsByPeriod["7"].TimeStats[AfterLunch].Average; !approx(got, 3.9) {
			t.Errorf("%s: expected afterLunch 3.9, got %v", name, got)
		}
	}
}

func TestRecordMeasurement_PerCategoryAverage(t *testing.T) {
	s := newTestState(t, CategoryPerCategory)

	s, _ = RecordMeasurement(s, 5.5, BeforeBreakfast.Ptr())
	s, _ = RecordMeasurement(s, 7.8, AfterLunch.Ptr())
	s, _ = RecordMeasurement(s, 6.2, AfterLunch.Ptr())

	w, _ := GetCurrentStats(s)
	if got := w.TimeStats[BeforeBreakfast]; !approx(got.Average, 5.5) || got.Count != 1 {
		t.Errorf("Expected beforeBreakfast {5.5 1}, got %+v", got)
	}
	if got := w.TimeStats[AfterLunch]; !approx(got.Average, 7.0) || got.Count != 2 {
		t.Errorf("Expected afterLunch {7.0 2}, got %+v", got)
	}
	if !approx(*w.Average, (5.5+7.8+6.2)/3) {
		t.Errorf("Expected average %v, got %v", (5.5+7.8+6.2)/3, *w.Average)
	}
}

func TestRecordMeasurement_MinMaxWiden(t *testing.T) {
	s := newTestState(t, CategoryPerCategory)

	for _, level := range []float64{6.5, 5.0, 9.1, 7.0} {
		var err error
		s, err = RecordMeasurement(s, level, nil)
		if err != nil {
			t.Fatalf("RecordMeasurement(%v) failed: %v", level, err)
		}
	}

	w, _ := GetCurrentStats(s)
	if *w.Lowest != 5.0 {
		t.Errorf("Expected lowest 5.0, got %v", *w.Lowest)
	}
	if *w.Highest != 9.1 {
		t.Errorf("Expected highest 9.1, got %v", *w.Highest)
	}
	want := Counters{VeryHigh: 1, High: 2, Normal: 1}
	if w.Counters != want {
		t.Errorf("Expected counters %+v, got %+v", want, w.Counters)
	}
}

func TestRecordMeasurement_OnlyCurrentWindow(t *testing.T) {
	s := newTestState(t, CategoryPerCategory)
	s, _ = SwitchWindow(s, "30")

	s, _ = RecordMeasurement(s, 3.1, Random.Ptr())

	if got := s.StatsByPeriod["30"].Counters.Low; got != 1 {
		t.Errorf("Expected low=1 in window 30, got %d", got)
	}
	for _, label := range []string{"7", "14", "90"} {
		if n := s.StatsByPeriod[label].Count(); n != 0 {
			t.Errorf("Expected window %s untouched, got %d measurements", label, n)
		}
	}
}

func TestRecordMeasurement_DoesNotMutateInput(t *testing.T) {
	s0 := newTestState(t, CategoryPerCategory)
	s1, _ := RecordMeasurement(s0, 5.5, BeforeSleep.Ptr())
	s2, _ := RecordMeasurement(s1, 8.4, BeforeSleep.Ptr())

	if n := s0.StatsByPeriod["7"].Count(); n != 0 {
		t.Errorf("Expected original state untouched, got %d measurements", n)
	}
	w1 := s1.StatsByPeriod["7"]
	if w1.Count() != 1 || *w1.Highest != 5.5 {
		t.Errorf("Expected intermediate state to keep one reading, got %+v", w1)
	}
	if got := w1.TimeStats[BeforeSleep].Count; got != 1 {
		t.Errorf("Expected intermediate time stats count 1, got %d", got)
	}
	if got := s2.StatsByPeriod["7"].TimeStats[BeforeSleep].Count; got != 2 {
		t.Errorf("Expected latest time stats count 2, got %d", got)
	}
}

func TestRecordMeasurement_InvalidLevel(t *testing.T) {
	s := newTestState(t, CategoryPerCategory)

	for _, level := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		out, err := RecordMeasurement(s, level, nil)
		if !errors.Is(err, ErrInvalidMeasurement) {
			t.Errorf("Expected ErrInvalidMeasurement for %v, got %v", level, err)
		}
		if !reflect.DeepEqual(out, s) {
			t.Errorf("Expected state unchanged after rejecting %v", level)
		}
	}

	bogus := TimeCategory("brunch")
	if _, err := RecordMeasurement(s, 5, &bogus); !errors.Is(err, ErrInvalidMeasurement) {
		t.Errorf("Expected ErrInvalidMeasurement for unknown category, got %v", err)
	}

	// negative levels are accepted and classified low
	out, err := RecordMeasurement(s, -1, nil)
	if err != nil {
		t.Fatalf("Expected negative level to be accepted, got %v", err)
	}
	if out.StatsByPeriod["7"].Counters.Low != 1 {
		t.Errorf("Expected negative level classified low, got %+v", out.StatsByPeriod["7"].Counters)
	}
}

func TestRecordMeasurement_GapIsUnclassified(t *testing.T) {
	opts := DefaultOptions()
	opts.Thresholds = RangeThresholds{
		VeryHigh: 10,
		High:     Interval{Min: 7, Max: 10},
		Normal:   Interval{Min: 4, Max: 6},
		Low:      4,
	}
	s, err := NewState(opts, testNow)
	if err != nil {
		t.Fatalf("NewState failed: %v", err)
	}

	s, _ = RecordMeasurement(s, 6.5, nil)
	s, _ = RecordMeasurement(s, 5.0, nil)

	w, _ := GetCurrentStats(s)
	if w.Counters.Unclassified != 1 || w.Counters.Normal != 1 {
		t.Errorf("Expected unclassified=1 normal=1, got %+v", w.Counters)
	}
	if !approx(*w.Average, 5.75) {
		t.Errorf("Expected average 5.75, got %v", *w.Average)
	}
}

func TestRecordMeasurement_InvalidState(t *testing.T) {
	s := newTestState(t, CategoryPerCategory)
	s.CurrentPeriod = "365"

	if _, err := RecordMeasurement(s, 5, nil); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState, got %v", err)
	}
}

func TestGetCurrentStats_Idempotent(t *testing.T) {
	s := newTestState(t, CategoryPerCategory)
	s, _ = RecordMeasurement(s, 6.1, AfterDinner.Ptr())

	a, err := GetCurrentStats(s)
	if err != nil {
		t.Fatalf("GetCurrentStats failed: %v", err)
	}
	b, _ := GetCurrentStats(s)
	if !reflect.DeepEqual(a, b) {
		t.Errorf("Expected equal stats, got %+v and %+v", a, b)
	}
}

func TestSwitchWindow_ValidLabels(t *testing.T) {
	s := newTestState(t, CategoryPerCategory)
	s, _ = RecordMeasurement(s, 6.1, nil)

	for _, label := range Windows(s) {
		out, err := SwitchWindow(s, label)
		if err != nil {
			t.Fatalf("SwitchWindow(%s) failed: %v", label, err)
		}
		got, err := GetCurrentStats(out)
		if err != nil {
			t.Fatalf("GetCurrentStats failed: %v", err)
		}
		if !reflect.DeepEqual(got, s.StatsByPeriod[label]) {
			t.Errorf("Expected stats of window %s, got %+v", label, got)
		}
	}
}

func TestSwitchWindow_Unknown(t *testing.T) {
	s := newTestState(t, CategoryPerCategory)
	s, _ = SwitchWindow(s, "14")

	out, err := SwitchWindow(s, "nonexistent")
	if !errors.Is(err, ErrInvalidWindow) {
		t.Fatalf("Expected ErrInvalidWindow, got %v", err)
	}
	if !reflect.DeepEqual(out, s) {
		t.Error("Expected state unchanged after failed switch")
	}
	if out.CurrentPeriod != "14" {
		t.Errorf("Expected current window 14, got %s", out.CurrentPeriod)
	}
}

func TestSwitchWindow_Same(t *testing.T) {
	s := newTestState(t, CategoryPerCategory)

	out, err := SwitchWindow(s, s.CurrentPeriod)
	if err != nil {
		t.Fatalf("SwitchWindow failed: %v", err)
	}
	if !reflect.DeepEqual(out, s) {
		t.Error("Expected equivalent state when switching to the current window")
	}
}
