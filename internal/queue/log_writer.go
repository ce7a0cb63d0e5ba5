package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/smukkama/glucose-stats/internal/database"
	"github.com/smukkama/glucose-stats/internal/protocol"
)

// MeasurementLog persists measurements
type MeasurementLog interface {
	InsertMeasurements(measurements []*database.Measurement) error
}

// LogWriter consumes measurement events and batch-writes them to the measurement log
type LogWriter struct {
	reader        EventReader
	log           MeasurementLog
	batchSize     int
	flushInterval time.Duration
	stopCh        chan struct{}
	wg            sync.WaitGroup
}

// NewLogWriter creates a new log writer
func NewLogWriter(reader EventReader, measurementLog MeasurementLog, batchSize int, flushInterval time.Duration) *LogWriter {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &LogWriter{
		reader:        reader,
		log:           measurementLog,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		stopCh:        make(chan struct{}),
	}
}

// Start begins consuming and writing to the database
func (lw *LogWriter) Start(ctx context.Context) {
	lw.wg.Add(1)
	go lw.run(ctx)
}

// Stop flushes the pending batch and stops the writer
func (lw *LogWriter) Stop() {
	close(lw.stopCh)
	lw.wg.Wait()
}

func (lw *LogWriter) run(ctx context.Context) {
	defer lw.wg.Done()

	var batch []Delivery
	ticker := time.NewTicker(lw.flushInterval)
	defer ticker.Stop()

	consumeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	deliveries := make(chan Delivery, lw.batchSize)
	go func() {
		for {
			d, err := lw.reader.Fetch(consumeCtx)
			if err != nil {
				if consumeCtx.Err() != nil || errors.Is(err, context.Canceled) {
					return
				}
				log.Printf("Consumer error: %v", err)
				continue
			}
			select {
			case deliveries <- d:
			case <-consumeCtx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-lw.stopCh:
			batch = append(batch, drain(deliveries)...)
			lw.flush(ctx, batch)
			return

		case <-ctx.Done():
			return

		case <-ticker.C:
			if len(batch) > 0 && lw.flush(ctx, batch) == nil {
				batch = nil
			}

		case d := <-deliveries:
			batch = append(batch, d)
			if len(batch) >= lw.batchSize && lw.flush(ctx, batch) == nil {
				batch = nil
			}
		}
	}
}

// flush writes the measurements of a batch and commits its offsets. Messages
// that are not measurements, or cannot be decoded, are committed without
// being written. On a write failure nothing is committed and the batch is
// kept for the next flush.
func (lw *LogWriter) flush(ctx context.Context, batch []Delivery) error {
	if len(batch) == 0 {
		return nil
	}

	measurements := make([]*database.Measurement, 0, len(batch))
	for _, d := range batch {
		if d.Event == nil {
			log.Printf("Skipping message (partition=%d, offset=%d): %v", d.Message.Partition, d.Message.Offset, d.DecodeErr)
			continue
		}
		if m := measurementFromEvent(d.Event); m != nil {
			measurements = append(measurements, m)
		}
	}

	if len(measurements) > 0 {
		if err := lw.log.InsertMeasurements(measurements); err != nil {
			log.Printf("Failed to write batch of %d measurements: %v", len(measurements), err)
			return err
		}
	}

	if err := lw.reader.Commit(ctx, batch...); err != nil {
		log.Printf("Failed to commit offsets: %v", err)
	}

	fmt.Printf("Flushed %d measurements (%d messages)\n", len(measurements), len(batch))
	return nil
}

// measurementFromEvent returns nil for events that carry no measurement
func measurementFromEvent(ev *protocol.Event) *database.Measurement {
	if ev.Type != protocol.EventMeasurement {
		return nil
	}

	m := &database.Measurement{
		ID:         ev.Measurement.ID,
		SubjectID:  ev.SubjectID,
		MeasuredAt: ev.Measurement.Timestamp,
		Level:      ev.Measurement.Level,
		ReceivedAt: ev.ReceivedAt,
	}
	if ev.Measurement.TimeCategory != "" {
		category := ev.Measurement.TimeCategory
		m.TimeCategory = &category
	}
	return m
}

// drain returns the deliveries already buffered in ch without blocking
func drain(ch <-chan Delivery) []Delivery {
	var out []Delivery
	for {
		select {
		case d := <-ch:
			out = append(out, d)
		default:
			return out
		}
	}
}
