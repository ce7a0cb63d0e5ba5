package tracker

import "fmt"

// TimeCategory identifies when during the day a reading was taken
type TimeCategory string

const (
	BeforeBreakfast TimeCategory = "beforeBreakfast"
	AfterBreakfast  TimeCategory = "afterBreakfast"
	BeforeLunch     TimeCategory = "beforeLunch"
	AfterLunch      TimeCategory = "afterLunch"
	BeforeDinner    TimeCategory = "beforeDinner"
	AfterDinner     TimeCategory = "afterDinner"
	BeforeSleep     TimeCategory = "beforeSleep"
	Random          TimeCategory = "random"
)

// AllTimeCategories lists the categories in the order of a day
var AllTimeCategories = []TimeCategory{
	BeforeBreakfast, AfterBreakfast,
	BeforeLunch, AfterLunch,
	BeforeDinner, AfterDinner,
	BeforeSleep, Random,
}

// Valid reports whether c is one of the known categories
func (c TimeCategory) Valid() bool {
	for _, known := range AllTimeCategories {
		if c == known {
			return true
		}
	}
	return false
}

// ParseTimeCategory converts a string to a TimeCategory
func ParseTimeCategory(s string) (TimeCategory, error) {
	c := TimeCategory(s)
	if !c.Valid() {
		return "", fmt.Errorf("unknown time category: %q", s)
	}
	return c, nil
}

// Ptr returns a pointer to c, for the optional category argument of RecordMeasurement
func (c TimeCategory) Ptr() *TimeCategory {
	return &c
}

// CategoryStats is the running average for one time category
type CategoryStats struct {
	Average float64 `json:"average"`
	Count   int     `json:"count"`
}

// TimeStats maps a time category to its running average.
// A category is absent until its first reading.
type TimeStats map[TimeCategory]CategoryStats

// CategoryMode selects the divisor used for time category averages
type CategoryMode string

const (
	// CategoryShared divides by the window's total measurement count. Default.
	CategoryShared CategoryMode = "shared"
	// CategoryPerCategory divides by the number of readings in the category
	CategoryPerCategory CategoryMode = "per-category"
)

// ParseCategoryMode converts a string to a CategoryMode
func ParseCategoryMode(s string) (CategoryMode, error) {
	switch CategoryMode(s) {
	case CategoryShared, CategoryPerCategory:
		return CategoryMode(s), nil
	default:
		return "", fmt.Errorf("unknown category mode: %q", s)
	}
}
