package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/smukkama/glucose-stats/internal/protocol"
	"github.com/smukkama/glucose-stats/internal/queue"
	"github.com/smukkama/glucose-stats/internal/store"
	"github.com/smukkama/glucose-stats/internal/tracker"
)

// StateRepository loads and saves tracker states by subject
type StateRepository interface {
	Get(ctx context.Context, subjectID string) (tracker.State, bool, error)
	Set(ctx context.Context, subjectID string, state tracker.State) error
}

// Publisher sends stats updates downstream
type Publisher interface {
	PublishStatsUpdate(ctx context.Context, u *protocol.StatsUpdate) error
}

// errUnrecoverable marks failures that retrying the same event cannot fix
var errUnrecoverable = errors.New("unrecoverable")

// Processor applies measurement and window events to subjects' tracker states
type Processor struct {
	states     StateRepository
	publisher  Publisher
	opts       tracker.Options
	now        func() time.Time
	retryDelay time.Duration
}

// NewProcessor creates a processor. New subjects get a state built from opts.
func NewProcessor(states StateRepository, publisher Publisher, opts tracker.Options) *Processor {
	return &Processor{
		states:     states,
		publisher:  publisher,
		opts:       opts,
		now:        time.Now,
		retryDelay: time.Second,
	}
}

// Handle applies one event. Rejected measurements and unknown windows are
// logged and dropped, as are events for a subject whose state is corrupt or
// cannot be created. Only transient storage failures are returned.
func (p *Processor) Handle(ctx context.Context, ev *protocol.Event) error {
	state, err := p.loadState(ctx, ev.SubjectID)
	if errors.Is(err, errUnrecoverable) {
		log.Printf("Dropping %s event for %s, it stays in the measurement log for a rebuild: %v", ev.Type, ev.SubjectID, err)
		return nil
	}
	if err != nil {
		return err
	}

	var measurementID string

	switch ev.Type {
	case protocol.EventMeasurement:
		measurementID = ev.Measurement.ID
		category, err := ev.Measurement.Category()
		if err != nil {
			log.Printf("Dropping measurement %s for %s: %v", measurementID, ev.SubjectID, err)
			return nil
		}

		state, err = tracker.RecordMeasurement(state, ev.Measurement.Level, category)
		if errors.Is(err, tracker.ErrInvalidMeasurement) {
			log.Printf("Dropping measurement %s for %s: %v", measurementID, ev.SubjectID, err)
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to record measurement: %w", err)
		}

	case protocol.EventSwitchWindow:
		state, err = tracker.SwitchWindow(state, ev.SwitchWindow.Window)
		if errors.Is(err, tracker.ErrInvalidWindow) {
			log.Printf("Ignoring window switch for %s: %v", ev.SubjectID, err)
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to switch window: %w", err)
		}

	default:
		return fmt.Errorf("unknown event type: %s", ev.Type)
	}

	if err := p.states.Set(ctx, ev.SubjectID, state); err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}

	// The saved state is authoritative; a lost update must not cause the
	// event to be redelivered and counted twice.
	if err := p.publishUpdate(ctx, ev.SubjectID, measurementID, state); err != nil {
		log.Printf("Failed to publish stats update for %s: %v", ev.SubjectID, err)
	}
	return nil
}

// Run consumes events until ctx is cancelled, committing each message once
// it has been handled or found undecodable. An event whose state cannot be
// saved is retried; later events of the partition wait behind it.
func (p *Processor) Run(ctx context.Context, reader queue.EventReader) error {
	for {
		d, err := reader.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("Failed to consume message: %v", err)
			continue
		}

		if d.Event == nil {
			log.Printf("Failed to decode event at partition %d offset %d: %v", d.Message.Partition, d.Message.Offset, d.DecodeErr)
		} else if err := p.handleWithRetry(ctx, d.Event); err != nil {
			return err
		}

		if err := reader.Commit(ctx, d); err != nil {
			log.Printf("Failed to commit offset: %v", err)
		}
	}
}

func (p *Processor) handleWithRetry(ctx context.Context, ev *protocol.Event) error {
	for {
		err := p.Handle(ctx, ev)
		if err == nil {
			return nil
		}
		log.Printf("Failed to handle event for %s, retrying in %s: %v", ev.SubjectID, p.retryDelay, err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.retryDelay):
		}
	}
}

func (p *Processor) loadState(ctx context.Context, subjectID string) (tracker.State, error) {
	state, found, err := p.states.Get(ctx, subjectID)
	if errors.Is(err, store.ErrCorruptState) {
		return tracker.State{}, fmt.Errorf("%w: %v", errUnrecoverable, err)
	}
	if err != nil {
		return tracker.State{}, fmt.Errorf("failed to load state: %w", err)
	}
	if found {
		return state, nil
	}

	state, err = tracker.NewState(p.opts, p.now())
	if err != nil {
		return tracker.State{}, fmt.Errorf("%w: failed to create state: %v", errUnrecoverable, err)
	}
	fmt.Printf("Created tracker state for new subject %s\n", subjectID)
	return state, nil
}

func (p *Processor) publishUpdate(ctx context.Context, subjectID, measurementID string, state tracker.State) error {
	current, err := tracker.GetCurrentStats(state)
	if err != nil {
		return err
	}

	update := &protocol.StatsUpdate{
		SubjectID:     subjectID,
		Window:        state.CurrentPeriod,
		Stats:         current,
		MeasurementID: measurementID,
		UpdatedAt:     p.now(),
	}
	if err := p.publisher.PublishStatsUpdate(ctx, update); err != nil {
		return fmt.Errorf("failed to publish stats update: %w", err)
	}
	return nil
}
