package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/smukkama/glucose-stats/internal/tracker"
)

// EventType distinguishes the payloads carried on the measurements topic
type EventType string

const (
	EventMeasurement  EventType = "MEASUREMENT"
	EventSwitchWindow EventType = "SWITCH_WINDOW"
)

// Event is the internal message format for Kafka. Exactly one of
// Measurement and SwitchWindow is set, matching Type.
type Event struct {
	Type         EventType          `json:"type"`
	SubjectID    string             `json:"subject_id"`
	ReceivedAt   time.Time          `json:"received_at"`
	Measurement  *MeasurementEvent  `json:"measurement,omitempty"`
	SwitchWindow *SwitchWindowEvent `json:"switch_window,omitempty"`
}

// MeasurementEvent is a validated reading routed to a subject's tracker
type MeasurementEvent struct {
	ID           string    `json:"id"`
	Device       string    `json:"device,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	Level        float64   `json:"level"`
	TimeCategory string    `json:"time_category,omitempty"`
}

// Category returns the optional time category in tracker form
func (m *MeasurementEvent) Category() (*tracker.TimeCategory, error) {
	if m.TimeCategory == "" {
		return nil, nil
	}
	c, err := tracker.ParseTimeCategory(m.TimeCategory)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// SwitchWindowEvent requests a change of the subject's active window
type SwitchWindowEvent struct {
	Window string `json:"window"`
}

// NewMeasurementEvent converts a meter message to an event with a fresh ID
func NewMeasurementEvent(subjectID, device string, data MeasurementData, receivedAt time.Time) (*Event, error) {
	ts, err := time.Parse(time.RFC3339, data.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp: %w", err)
	}

	return &Event{
		Type:       EventMeasurement,
		SubjectID:  subjectID,
		ReceivedAt: receivedAt,
		Measurement: &MeasurementEvent{
			ID:           uuid.New().String(),
			Device:       device,
			Timestamp:    ts,
			Level:        data.Level,
			TimeCategory: data.TimeCategory,
		},
	}, nil
}

// NewSwitchWindowEvent builds a window switch event
func NewSwitchWindowEvent(subjectID, window string, receivedAt time.Time) *Event {
	return &Event{
		Type:         EventSwitchWindow,
		SubjectID:    subjectID,
		ReceivedAt:   receivedAt,
		SwitchWindow: &SwitchWindowEvent{Window: window},
	}
}

// StatsUpdate is published after a subject's tracker state changes
type StatsUpdate struct {
	SubjectID     string              `json:"subject_id"`
	Window        string              `json:"window"`
	Stats         tracker.WindowStats `json:"stats"`
	MeasurementID string              `json:"measurement_id,omitempty"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// EncodeEvent encodes an Event to JSON
func EncodeEvent(ev *Event) ([]byte, error) {
	return json.Marshal(ev)
}

// DecodeEvent decodes JSON to an Event and checks that its payload matches its type
func DecodeEvent(data []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	if ev.SubjectID == "" {
		return nil, fmt.Errorf("event without subject_id")
	}

	switch ev.Type {
	case EventMeasurement:
		if ev.Measurement == nil {
			return nil, fmt.Errorf("measurement event without payload")
		}
	case EventSwitchWindow:
		if ev.SwitchWindow == nil {
			return nil, fmt.Errorf("switch_window event without payload")
		}
	default:
		return nil, fmt.Errorf("unknown event type: %s", ev.Type)
	}

	return &ev, nil
}

// EncodeStatsUpdate encodes a StatsUpdate to JSON
func EncodeStatsUpdate(u *StatsUpdate) ([]byte, error) {
	return json.Marshal(u)
}

// DecodeStatsUpdate decodes JSON to a StatsUpdate
func DecodeStatsUpdate(data []byte) (*StatsUpdate, error) {
	var u StatsUpdate
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, err
	}
	return &u, nil
}
