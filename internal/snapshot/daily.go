package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/smukkama/glucose-stats/internal/database"
	"github.com/smukkama/glucose-stats/internal/timer"
	"github.com/smukkama/glucose-stats/internal/tracker"
)

// StateSource lists subjects and loads their tracker states
type StateSource interface {
	Subjects(ctx context.Context) ([]string, error)
	Get(ctx context.Context, subjectID string) (tracker.State, bool, error)
}

// SnapshotSink stores daily snapshots
type SnapshotSink interface {
	UpsertSubject(s *database.Subject) error
	UpsertDailySnapshot(s *database.DailySnapshot) error
}

// DailySnapshotter copies every subject's window statistics into the
// daily_snapshots history once a day
type DailySnapshotter struct {
	states StateSource
	sink   SnapshotSink
	now    func() time.Time
}

// NewDailySnapshotter creates a new daily snapshotter
func NewDailySnapshotter(states StateSource, sink SnapshotSink) *DailySnapshotter {
	return &DailySnapshotter{states: states, sink: sink, now: time.Now}
}

// Snapshot stores one row per window for every subject, dated date.
// A failing subject is logged and skipped; the count of subjects stored is returned.
func (d *DailySnapshotter) Snapshot(ctx context.Context, date time.Time) (int, error) {
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	fmt.Printf("Running daily snapshot for %s\n", day.Format("2006-01-02"))

	subjects, err := d.states.Subjects(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list subjects: %w", err)
	}

	stored := 0
	for _, subjectID := range subjects {
		state, found, err := d.states.Get(ctx, subjectID)
		if err != nil {
			log.Printf("Failed to load state of %s: %v", subjectID, err)
			continue
		}
		if !found {
			continue
		}

		if err := d.storeSubject(subjectID, day, state); err != nil {
			log.Printf("Failed to snapshot %s: %v", subjectID, err)
			continue
		}
		stored++
	}

	fmt.Printf("Daily snapshot completed: %d subjects stored\n", stored)
	return stored, nil
}

func (d *DailySnapshotter) storeSubject(subjectID string, day time.Time, state tracker.State) error {
	// A subject that only switched windows has no measurement row yet
	if err := d.sink.UpsertSubject(&database.Subject{SubjectID: subjectID}); err != nil {
		return fmt.Errorf("failed to ensure subject: %w", err)
	}

	for _, label := range tracker.Windows(state) {
		row, err := ToDailySnapshot(subjectID, day, label, state)
		if err != nil {
			return err
		}
		if err := d.sink.UpsertDailySnapshot(row); err != nil {
			return fmt.Errorf("failed to store window %s: %w", label, err)
		}
	}
	return nil
}

// ToDailySnapshot converts one window of a state to a snapshot row
func ToDailySnapshot(subjectID string, day time.Time, label string, state tracker.State) (*database.DailySnapshot, error) {
	w, ok := state.StatsByPeriod[label]
	if !ok {
		return nil, fmt.Errorf("%w: %q", tracker.ErrInvalidWindow, label)
	}

	timeStats, err := json.Marshal(w.TimeStats)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal time stats: %w", err)
	}

	return &database.DailySnapshot{
		SubjectID:    subjectID,
		SnapshotDate: day,
		WindowLabel:  label,
		IsCurrent:    label == state.CurrentPeriod,
		Average:      w.Average,
		Lowest:       w.Lowest,
		Highest:      w.Highest,
		VeryHigh:     w.Counters.VeryHigh,
		High:         w.Counters.High,
		Normal:       w.Counters.Normal,
		Low:          w.Counters.Low,
		Unclassified: w.Counters.Unclassified,
		TimeStats:    string(timeStats),
	}, nil
}

// NextRunTime returns the next occurrence of timeOfDay ("HH:MM") after now
func NextRunTime(timeOfDay string, now time.Time) (time.Time, error) {
	var hour, minute int
	if _, err := fmt.Sscanf(timeOfDay, "%d:%d", &hour, &minute); err != nil {
		return time.Time{}, fmt.Errorf("invalid time format: %s (expected HH:MM)", timeOfDay)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return time.Time{}, fmt.Errorf("invalid time of day: %s", timeOfDay)
	}

	todayRun := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !now.Before(todayRun) {
		return todayRun.AddDate(0, 0, 1), nil
	}
	return todayRun, nil
}

// Schedule runs the snapshot of the previous day at timeOfDay, every day,
// until the scheduler is stopped
func (d *DailySnapshotter) Schedule(ctx context.Context, s *timer.Scheduler, timeOfDay string) error {
	const taskID = "daily-snapshot"

	nextRun, err := NextRunTime(timeOfDay, d.now())
	if err != nil {
		return err
	}
	fmt.Printf("Next daily snapshot scheduled for: %s\n", nextRun.Format("2006-01-02 15:04:05"))

	return s.Schedule(taskID, nextRun, func() {
		yesterday := d.now().AddDate(0, 0, -1)
		if _, err := d.Snapshot(ctx, yesterday); err != nil {
			log.Printf("Daily snapshot failed: %v", err)
		}
		if err := d.Schedule(ctx, s, timeOfDay); err != nil {
			log.Printf("Failed to schedule next snapshot: %v", err)
		}
	})
}
