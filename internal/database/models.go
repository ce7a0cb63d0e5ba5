package database

import (
	"time"
)

// Subject is a person whose measurements are tracked
type Subject struct {
	SubjectID string
	Device    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Measurement is one logged reading
type Measurement struct {
	ID           string
	SubjectID    string
	MeasuredAt   time.Time
	Level        float64
	TimeCategory *string
	ReceivedAt   time.Time
}

// DailySnapshot is the state of one window of a subject at the end of a day
type DailySnapshot struct {
	SubjectID    string
	SnapshotDate time.Time
	WindowLabel  string
	IsCurrent    bool
	Average      *float64
	Lowest       *float64
	Highest      *float64
	VeryHigh     int
	High         int
	Normal       int
	Low          int
	Unclassified int
	TimeStats    string // JSON
	CreatedAt    time.Time
}
