package tracker

import (
	"fmt"
	"math"
)

// Band is the classification range a measurement falls into
type Band string

const (
	BandVeryHigh     Band = "veryHigh"
	BandHigh         Band = "high"
	BandNormal       Band = "normal"
	BandLow          Band = "low"
	BandUnclassified Band = "unclassified"
)

// Interval is a closed range [Min, Max]
type Interval struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Contains reports whether v lies within the interval, bounds included
func (i Interval) Contains(v float64) bool {
	return i.Min <= v && v <= i.Max
}

// RangeThresholds defines the classification bands.
// Values above VeryHigh are very high, values below Low are low.
type RangeThresholds struct {
	VeryHigh float64  `json:"veryHigh"`
	High     Interval `json:"high"`
	Normal   Interval `json:"normal"`
	Low      float64  `json:"low"`
}

// DefaultThresholds returns mmol/L bands for blood glucose
func DefaultThresholds() RangeThresholds {
	return RangeThresholds{
		VeryHigh: 7.8,
		High:     Interval{Min: 6.0, Max: 7.8},
		Normal:   Interval{Min: 4.0, Max: 6.0},
		Low:      4.0,
	}
}

// Classify returns the first band matching level, testing very high, high,
// normal and low in that order. A level in a gap between bands is unclassified.
func (t RangeThresholds) Classify(level float64) Band {
	switch {
	case level > t.VeryHigh:
		return BandVeryHigh
	case t.High.Contains(level):
		return BandHigh
	case t.Normal.Contains(level):
		return BandNormal
	case level < t.Low:
		return BandLow
	default:
		return BandUnclassified
	}
}

// Validate checks that every bound is finite and both intervals are ordered.
// Overlapping bands are allowed; Classify precedence resolves them.
func (t RangeThresholds) Validate() error {
	bounds := map[string]float64{
		"veryHigh":   t.VeryHigh,
		"high.min":   t.High.Min,
		"high.max":   t.High.Max,
		"normal.min": t.Normal.Min,
		"normal.max": t.Normal.Max,
		"low":        t.Low,
	}
	for name, v := range bounds {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s is not a finite number", ErrInvalidThresholds, name)
		}
	}
	if t.High.Min > t.High.Max {
		return fmt.Errorf("%w: high interval [%.2f, %.2f] is inverted", ErrInvalidThresholds, t.High.Min, t.High.Max)
	}
	if t.Normal.Min > t.Normal.Max {
		return fmt.Errorf("%w: normal interval [%.2f, %.2f] is inverted", ErrInvalidThresholds, t.Normal.Min, t.Normal.Max)
	}
	return nil
}

// Gaps reports the open ranges no band covers. An empty result means every
// finite level lands in one of the four named bands.
func (t RangeThresholds) Gaps() []Interval {
	var gaps []Interval
	if t.Low < t.Normal.Min {
		gaps = append(gaps, Interval{Min: t.Low, Max: t.Normal.Min})
	}
	if t.Normal.Max < t.High.Min {
		gaps = append(gaps, Interval{Min: t.Normal.Max, Max: t.High.Min})
	}
	if t.High.Max < t.VeryHigh {
		gaps = append(gaps, Interval{Min: t.High.Max, Max: t.VeryHigh})
	}
	return gaps
}

// Counters holds one tally per band
type Counters struct {
	VeryHigh     int `json:"veryHigh"`
	High         int `json:"high"`
	Normal       int `json:"normal"`
	Low          int `json:"low"`
	Unclassified int `json:"unclassified,omitempty"`
}

// Total returns the number of measurements counted, unclassified included
func (c Counters) Total() int {
	return c.VeryHigh + c.High + c.Normal + c.Low + c.Unclassified
}

// Increment returns a copy of c with the counter for band incremented
func (c Counters) Increment(band Band) Counters {
	switch band {
	case BandVeryHigh:
		c.VeryHigh++
	case BandHigh:
		c.High++
	case BandNormal:
		c.Normal++
	case BandLow:
		c.Low++
	default:
		c.Unclassified++
	}
	return c
}

// Get returns the counter for band
func (c Counters) Get(band Band) int {
	switch band {
	case BandVeryHigh:
		return c.VeryHigh
	case BandHigh:
		return c.High
	case BandNormal:
		return c.Normal
	case BandLow:
		return c.Low
	default:
		return c.Unclassified
	}
}
