package protocol

import (
	"errors"
	"testing"
	"time"

	"github.com/smukkama/glucose-stats/internal/tracker"
)

func TestParseMessage_Identify(t *testing.T) {
	msg, err := ParseMessage([]byte(`{"type":"identify","subject_id":"p-42","device":"contour"}`))
	if err != nil {
		t.Fatalf("ParseMessage failed: %v", err)
	}

	identify, ok := msg.(*IdentifyMessage)
	if !ok {
		t.Fatalf("Expected *IdentifyMessage, got %T", msg)
	}
	if identify.SubjectID != "p-42" || identify.Device != "contour" {
		t.Errorf("Unexpected identify message: %+v", identify)
	}
}

func TestParseMessage_IdentifyWithoutSubject(t *testing.T) {
	if _, err := ParseMessage([]byte(`{"type":"identify","device":"contour"}`)); err == nil {
		t.Error("Expected error for identify without subject_id")
	}
}

func TestParseMessage_Measurement(t *testing.T) {
	line := `{"type":"measurement","data":{"timestamp":"2024-03-15T07:10:00Z","level":5.5,"time_category":"beforeBreakfast"}}`

	msg, err := ParseMessage([]byte(line))
	if err != nil {
		t.Fatalf("ParseMessage failed: %v", err)
	}

	m, ok := msg.(*MeasurementMessage)
	if !ok {
		t.Fatalf("Expected *MeasurementMessage, got %T", msg)
	}
	if m.Data.Level != 5.5 || m.Data.TimeCategory != "beforeBreakfast" {
		t.Errorf("Unexpected measurement: %+v", m.Data)
	}
}

func TestParseMessage_MeasurementInvalid(t *testing.T) {
	lines := []string{
		`{"type":"measurement","data":{"level":5.5}}`,
		`{"type":"measurement","data":{"timestamp":"yesterday","level":5.5}}`,
		`{"type":"measurement","data":{"timestamp":"2024-03-15T07:10:00Z","level":5.5,"time_category":"brunch"}}`,
	}

	for _, line := range lines {
		if _, err := ParseMessage([]byte(line)); err == nil {
			t.Errorf("Expected error for %s", line)
		}
	}
}

func TestParseMessage_SwitchWindow(t *testing.T) {
	msg, err := ParseMessage([]byte(`{"type":"switch_window","window":"30"}`))
	if err != nil {
		t.Fatalf("ParseMessage failed: %v", err)
	}
	if sw, ok := msg.(*SwitchWindowMessage); !ok || sw.Window != "30" {
		t.Errorf("Expected switch to window 30, got %+v", msg)
	}

	if _, err := ParseMessage([]byte(`{"type":"switch_window"}`)); err == nil {
		t.Error("Expected error for switch_window without window")
	}
}

func TestParseMessage_Ack(t *testing.T) {
	data, err := EncodeMessage(NewAckMessage(AckStatusAccepted))
	if err != nil {
		t.Fatalf("EncodeMessage failed: %v", err)
	}

	msg, err := ParseMessage(data)
	if err != nil {
		t.Fatalf("ParseMessage failed: %v", err)
	}
	ack, ok := msg.(*AckMessage)
	if !ok {
		t.Fatalf("Expected *AckMessage, got %T", msg)
	}
	if ack.Status != AckStatusAccepted {
		t.Errorf("Expected status accepted, got %s", ack.Status)
	}
}

func TestParseMessage_Unknown(t *testing.T) {
	if _, err := ParseMessage([]byte(`{"type":"reboot"}`)); err == nil {
		t.Error("Expected error for unknown message type")
	}
	if _, err := ParseMessage([]byte(`not json`)); err == nil {
		t.Error("Expected error for invalid JSON")
	}
}

func TestDecodeEvent_Measurement(t *testing.T) {
	received := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	ev, err := NewMeasurementEvent("p-42", "contour", MeasurementData{
		Timestamp:    "2024-03-15T11:58:00Z",
		Level:        7.8,
		TimeCategory: "afterLunch",
	}, received)
	if err != nil {
		t.Fatalf("NewMeasurementEvent failed: %v", err)
	}
	if ev.Measurement.ID == "" {
		t.Error("Expected a measurement ID")
	}

	data, err := EncodeEvent(ev)
	if err != nil {
		t.Fatalf("EncodeEvent failed: %v", err)
	}
	decoded, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("DecodeEvent failed: %v", err)
	}

	cat, err := decoded.Measurement.Category()
	if err != nil {
		t.Fatalf("Category failed: %v", err)
	}
	if cat == nil || *cat != tracker.AfterLunch {
		t.Errorf("Expected afterLunch, got %v", cat)
	}
	if !decoded.ReceivedAt.Equal(received) {
		t.Errorf("Expected received_at %v, got %v", received, decoded.ReceivedAt)
	}
}

func TestDecodeEvent_Invalid(t *testing.T) {
	payloads := []string{
		`{"type":"MEASUREMENT","subject_id":"p-1"}`,
		`{"type":"SWITCH_WINDOW","subject_id":"p-1"}`,
		`{"type":"MEASUREMENT","measurement":{"level":5}}`,
		`{"type":"DELETE","subject_id":"p-1"}`,
	}

	for _, p := range payloads {
		if _, err := DecodeEvent([]byte(p)); err == nil {
			t.Errorf("Expected error for %s", p)
		}
	}
}

func TestDecodeState_PreservesStats(t *testing.T) {
	s, err := tracker.NewState(tracker.DefaultOptions(), time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("NewState failed: %v", err)
	}
	s, _ = tracker.RecordMeasurement(s, 5.5, tracker.BeforeBreakfast.Ptr())
	s, _ = tracker.SwitchWindow(s, "90")

	data, err := EncodeState(s)
	if err != nil {
		t.Fatalf("EncodeState failed: %v", err)
	}
	decoded, err := DecodeState(data)
	if err != nil {
		t.Fatalf("DecodeState failed: %v", err)
	}

	if decoded.CurrentPeriod != "90" {
		t.Errorf("Expected current window 90, got %s", decoded.CurrentPeriod)
	}
	w := decoded.StatsByPeriod["7"]
	if w.Average == nil || *w.Average != 5.5 {
		t.Errorf("Expected average 5.5 in window 7, got %v", w.Average)
	}
	if w.TimeStats[tracker.BeforeBreakfast].Count != 1 {
		t.Errorf("Expected beforeBreakfast count 1, got %+v", w.TimeStats)
	}
	if decoded.StatsByPeriod["14"].Average != nil {
		t.Error("Expected window 14 average to stay null")
	}
}

func TestDecodeState_DanglingWindow(t *testing.T) {
	_, err := DecodeState([]byte(`{"statsByPeriod":{"7":{}},"currentPeriod":"30"}`))
	if !errors.Is(err, tracker.ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState, got %v", err)
	}
}
