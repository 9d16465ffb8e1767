// Package protocol defines the WebSocket message types exchanged between
// pose estimators, dashboards and fallwatch.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies the type of WebSocket message
type MessageType string

const (
	// Estimator → fallwatch
	TypeLandmarks   MessageType = "landmarks"    // One detected pose
	TypeNoDetection MessageType = "no_detection" // Frame with no person

	// Operator → fallwatch
	TypeCommand MessageType = "command"

	// fallwatch → clients
	TypeAck    MessageType = "ack"    // Command result
	TypeStatus MessageType = "status" // Live detector status
	TypeEvent  MessageType = "event"  // Accepted fall event
	TypeError  MessageType = "error"  // Rejected message

	// Bidirectional
	TypePing MessageType = "ping" // Health check
	TypePong MessageType = "pong" // Health check response
)

// Operator command names.
const (
	CommandCalibrate        = "calibrate"
	CommandReset            = "reset"
	CommandResetCooldown    = "reset-cooldown"
	CommandClearCalibration = "clear-calibration"
	CommandScreenshot       = "screenshot"
)

// Commands lists every accepted command name.
var Commands = []string{
	CommandCalibrate,
	CommandReset,
	CommandResetCooldown,
	CommandClearCalibration,
	CommandScreenshot,
}

// IsCommand reports whether name is a known command.
func IsCommand(name string) bool {
	for _, c := range Commands {
		if c == name {
			return true
		}
	}
	return false
}

// Message is the base wrapper for all WebSocket messages
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"` // Unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data any) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into the provided struct
func (m *Message) ParseData(v any) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("failed to parse message: missing type")
	}
	return &msg, nil
}

// =============================================================================
// Estimator → fallwatch
// =============================================================================

// LandmarkData is one keypoint in image pixels.
type LandmarkData struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Confidence float64 `json:"confidence"`
}

// LandmarksData carries one detected pose.
type LandmarksData struct {
	Sequence   uint64                  `json:"sequence"`
	CapturedAt int64                   `json:"captured_at,omitempty"` // Unix milliseconds, defaults to message ts
	Width      int                     `json:"width,omitempty"`
	Height     int                     `json:"height,omitempty"`
	Landmarks  map[string]LandmarkData `json:"landmarks"`
}

// NoDetectionData marks a frame in which the estimator found nobody.
type NoDetectionData struct {
	Sequence   uint64 `json:"sequence"`
	CapturedAt int64  `json:"captured_at,omitempty"`
}

// =============================================================================
// Operator ↔ fallwatch
// =============================================================================

// CommandData requests an operator action.
type CommandData struct {
	Name string `json:"name"`
}

// AckData reports the result of a command.
type AckData struct {
	Command string `json:"command"`
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
	Path    string `json:"path,omitempty"` // screenshot location
}

// ErrorData explains why a message was rejected.
type ErrorData struct {
	Message string `json:"message"`
}
