package snapshot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smukkama/glucose-stats/internal/database"
	"github.com/smukkama/glucose-stats/internal/timer"
	"github.com/smukkama/glucose-stats/internal/tracker"
)

type mapSource struct {
	states  map[string]tracker.State
	failing map[string]bool
}

func (m *mapSource) Subjects(ctx context.Context) ([]string, error) {
	var ids []string
	for id := range m.states {
		ids = append(ids, id)
	}
	for id := range m.failing {
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *mapSource) Get(ctx context.Context, subjectID string) (tracker.State, bool, error) {
	if m.failing[subjectID] {
		return tracker.State{}, false, errors.New("corrupt state")
	}
	s, ok := m.states[subjectID]
	return s, ok, nil
}

type sliceSink struct {
	subjects []string
	rows     []*database.DailySnapshot
}

func (s *sliceSink) UpsertSubject(subject *database.Subject) error {
	s.subjects = append(s.subjects, subject.SubjectID)
	return nil
}

func (s *sliceSink) UpsertDailySnapshot(row *database.DailySnapshot) error {
	s.rows = append(s.rows, row)
	return nil
}

func testState(t *testing.T) tracker.State {
	t.Helper()
	s, err := tracker.NewState(tracker.DefaultOptions(), time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("NewState failed: %v", err)
	}
	s, _ = tracker.RecordMeasurement(s, 5.5, tracker.BeforeBreakfast.Ptr())
	s, _ = tracker.RecordMeasurement(s, 8.2, nil)
	return s
}

func TestDailySnapshotter_Snapshot(t *testing.T) {
	source := &mapSource{
		states:  map[string]tracker.State{"p-1": testState(t)},
		failing: map[string]bool{"p-bad": true},
	}
	sink := &sliceSink{}
	d := NewDailySnapshotter(source, sink)

	stored, err := d.Snapshot(context.Background(), time.Date(2024, 3, 14, 23, 59, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if stored != 1 {
		t.Errorf("Expected 1 subject stored, got %d", stored)
	}
	if len(sink.subjects) != 1 || sink.subjects[0] != "p-1" {
		t.Errorf("Expected subject p-1 ensured, got %v", sink.subjects)
	}
	if len(sink.rows) != 4 {
		t.Fatalf("Expected one row per window (4), got %d", len(sink.rows))
	}

	first := sink.rows[0]
	if first.WindowLabel != "7" || !first.IsCurrent {
		t.Errorf("Expected current window 7 first, got %s (current=%v)", first.WindowLabel, first.IsCurrent)
	}
	if first.VeryHigh != 1 || first.Normal != 1 {
		t.Errorf("Expected very_high=1 normal=1, got %+v", first)
	}
	if !first.SnapshotDate.Equal(time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Expected snapshot date 2024-03-14, got %v", first.SnapshotDate)
	}
	if first.TimeStats != `{"beforeBreakfast":{"average":5.5,"count":1}}` {
		t.Errorf("Unexpected time stats JSON: %s", first.TimeStats)
	}
	if sink.rows[1].Average != nil {
		t.Error("Expected empty window to have a null average")
	}
}

func TestToDailySnapshot_UnknownWindow(t *testing.T) {
	if _, err := ToDailySnapshot("p-1", time.Now(), "365", testState(t)); !errors.Is(err, tracker.ErrInvalidWindow) {
		t.Errorf("Expected ErrInvalidWindow, got %v", err)
	}
}

func TestNextRunTime(t *testing.T) {
	now := time.Date(2024, 3, 15, 0, 3, 0, 0, time.UTC)

	next, err := NextRunTime("00:05", now)
	if err != nil {
		t.Fatalf("NextRunTime failed: %v", err)
	}
	if want := time.Date(2024, 3, 15, 0, 5, 0, 0, time.UTC); !next.Equal(want) {
		t.Errorf("Expected %v, got %v", want, next)
	}

	next, _ = NextRunTime("00:03", now)
	if want := time.Date(2024, 3, 16, 0, 3, 0, 0, time.UTC); !next.Equal(want) {
		t.Errorf("Expected %v, got %v", want, next)
	}

	for _, bad := range []string{"noon", "25:00", "12:75"} {
		if _, err := NextRunTime(bad, now); err == nil {
			t.Errorf("Expected error for %q", bad)
		}
	}
}

func TestDailySnapshotter_Schedule(t *testing.T) {
	source := &mapSource{states: map[string]tracker.State{"p-1": testState(t)}}
	d := NewDailySnapshotter(source, &sliceSink{})

	s := timer.NewScheduler(1)
	s.Start()
	defer s.Stop()

	if err := d.Schedule(context.Background(), s, "00:05"); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	if s.Stats().ScheduledTasks != 1 {
		t.Errorf("Expected 1 scheduled task, got %d", s.Stats().ScheduledTasks)
	}

	if err := d.Schedule(context.Background(), s, "5pm"); err == nil {
		t.Error("Expected error for invalid time of day")
	}
}
