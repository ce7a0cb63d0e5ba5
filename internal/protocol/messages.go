package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/smukkama/glucose-stats/internal/tracker"
)

// MessageType represents the type of message
type MessageType string

const (
	// Meter to Server
	MsgTypeIdentify     MessageType = "identify"
	MsgTypeMeasurement  MessageType = "measurement"
	MsgTypeSwitchWindow MessageType = "switch_window"
	MsgTypeKeepalive    MessageType = "keepalive"

	// Server to Meter
	MsgTypeAck MessageType = "ack"
)

// BaseMessage is the common structure for all messages
type BaseMessage struct {
	Type MessageType `json:"type"`
}

// IdentifyMessage is sent by the meter on connection
type IdentifyMessage struct {
	Type      MessageType `json:"type"`
	SubjectID string      `json:"subject_id"`
	Device    string      `json:"device"`
}

// MeasurementData is a single reading taken by the meter
type MeasurementData struct {
	Timestamp    string  `json:"timestamp"`
	Level        float64 `json:"level"`
	TimeCategory string  `json:"time_category,omitempty"`
}

// MeasurementMessage carries one reading
type MeasurementMessage struct {
	Type MessageType     `json:"type"`
	Data MeasurementData `json:"data"`
}

// SwitchWindowMessage asks for a different active window
type SwitchWindowMessage struct {
	Type   MessageType `json:"type"`
	Window string      `json:"window"`
}

// KeepaliveMessage is sent by the meter while idle
type KeepaliveMessage struct {
	Type MessageType `json:"type"`
}

// AckMessage is sent by the server in response to messages
type AckMessage struct {
	Type   MessageType `json:"type"`
	Status string      `json:"status"`
}

// AckStatus constants
const (
	AckStatusIdentified = "identified"
	AckStatusAccepted   = "accepted"
	AckStatusAlive      = "alive"
	AckStatusError      = "error"
)

// ParseMessage parses a JSON line into the appropriate message type
func ParseMessage(data []byte) (interface{}, error) {
	var base BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	switch base.Type {
	case MsgTypeIdentify:
		var msg IdentifyMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("invalid identify message: %w", err)
		}
		if err := validateIdentify(&msg); err != nil {
			return nil, err
		}
		return &msg, nil

	case MsgTypeMeasurement:
		var msg MeasurementMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("invalid measurement message: %w", err)
		}
		if err := validateMeasurement(&msg); err != nil {
			return nil, err
		}
		return &msg, nil

	case MsgTypeSwitchWindow:
		var msg SwitchWindowMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("invalid switch_window message: %w", err)
		}
		if msg.Window == "" {
			return nil, fmt.Errorf("window is required")
		}
		return &msg, nil

	case MsgTypeKeepalive:
		var msg KeepaliveMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("invalid keepalive message: %w", err)
		}
		return &msg, nil

	case MsgTypeAck:
		var msg AckMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("invalid ack message: %w", err)
		}
		return &msg, nil

	default:
		return nil, fmt.Errorf("unknown message type: %s", base.Type)
	}
}

// validateIdentify validates an identify message
func validateIdentify(msg *IdentifyMessage) error {
	if msg.SubjectID == "" {
		return fmt.Errorf("subject_id is required")
	}
	return nil
}

// validateMeasurement checks the timestamp and category. The level itself is
// left to the tracker, which owns the rules for acceptable values.
func validateMeasurement(msg *MeasurementMessage) error {
	if msg.Data.Timestamp == "" {
		return fmt.Errorf("timestamp is required")
	}
	if _, err := time.Parse(time.RFC3339, msg.Data.Timestamp); err != nil {
		return fmt.Errorf("invalid timestamp format (must be RFC3339): %w", err)
	}
	if msg.Data.TimeCategory != "" {
		if _, err := tracker.ParseTimeCategory(msg.Data.TimeCategory); err != nil {
			return err
		}
	}
	return nil
}

// EncodeMessage encodes a message to JSON
func EncodeMessage(msg interface{}) ([]byte, error) {
	return json.Marshal(msg)
}

// NewAckMessage creates a new acknowledgment message
func NewAckMessage(status string) *AckMessage {
	return &AckMessage{
		Type:   MsgTypeAck,
		Status: status,
	}
}
