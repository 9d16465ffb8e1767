package protocol

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/teslashibe/fallwatch/pkg/pose"
)

// ErrEmptyLandmarks is returned for a landmarks message with no keypoints.
var ErrEmptyLandmarks = errors.New("protocol: landmarks message has no keypoints")

// =============================================================================
// Helper functions for creating messages
// =============================================================================

// NewLandmarksMessage encodes a landmark frame.
func NewLandmarksMessage(f pose.LandmarkFrame) (*Message, error) {
	lms := f.Landmarks()
	data := LandmarksData{
		Sequence:   f.Sequence,
		CapturedAt: f.Timestamp.UnixMilli(),
		Width:      f.Width,
		Height:     f.Height,
		Landmarks:  make(map[string]LandmarkData, len(lms)),
	}
	for name, lm := range lms {
		data.Landmarks[string(name)] = LandmarkData{X: lm.X, Y: lm.Y, Confidence: lm.Confidence}
	}
	return NewMessage(TypeLandmarks, data)
}

// NewNoDetectionMessage encodes an empty frame.
func NewNoDetectionMessage(seq uint64, at time.Time) (*Message, error) {
	return NewMessage(TypeNoDetection, NoDetectionData{Sequence: seq, CapturedAt: at.UnixMilli()})
}

// NewCommandMessage creates a command message
func NewCommandMessage(name string) (*Message, error) {
	return NewMessage(TypeCommand, CommandData{Name: name})
}

// NewAckMessage creates a command result message
func NewAckMessage(command string, path string, err error) (*Message, error) {
	ack := AckData{Command: command, OK: err == nil, Path: path}
	if err != nil {
		ack.Error = err.Error()
	}
	return NewMessage(TypeAck, ack)
}

// NewErrorMessage creates an error message
func NewErrorMessage(err error) (*Message, error) {
	return NewMessage(TypeError, ErrorData{Message: err.Error()})
}

// NewPongMessage answers a ping
func NewPongMessage() (*Message, error) {
	return NewMessage(TypePong, nil)
}

// =============================================================================
// Conversion to detector input
// =============================================================================

func captureTime(capturedAt, fallback int64) time.Time {
	if capturedAt > 0 {
		return time.UnixMilli(capturedAt)
	}
	if fallback > 0 {
		return time.UnixMilli(fallback)
	}
	return time.Now()
}

// Observation converts a landmarks payload into a detected observation.
// Confidences must lie in [0,1] and coordinates must be finite.
func (d LandmarksData) Observation(msgTimestamp int64) (pose.Observation, error) {
	if len(d.Landmarks) == 0 {
		return pose.Observation{}, ErrEmptyLandmarks
	}

	lms := make(map[pose.Name]pose.Landmark, len(d.Landmarks))
	for name, lm := range d.Landmarks {
		if lm.Confidence < 0 || lm.Confidence > 1 || math.IsNaN(lm.Confidence) {
			return pose.Observation{}, fmt.Errorf("protocol: landmark %q confidence %v outside [0,1]", name, lm.Confidence)
		}
		if math.IsNaN(lm.X) || math.IsNaN(lm.Y) || math.IsInf(lm.X, 0) || math.IsInf(lm.Y, 0) {
			return pose.Observation{}, fmt.Errorf("protocol: landmark %q has non-finite coordinates", name)
		}
		lms[pose.Name(name)] = pose.Landmark{Point: pose.Point{X: lm.X, Y: lm.Y}, Confidence: lm.Confidence}
	}

	ts := captureTime(d.CapturedAt, msgTimestamp)
	return pose.Detected(pose.NewFrame(d.Sequence, ts, d.Width, d.Height, lms)), nil
}

// Observation converts a no-detection payload.
func (d NoDetectionData) Observation(msgTimestamp int64) pose.Observation {
	return pose.NoDetection(d.Sequence, captureTime(d.CapturedAt, msgTimestamp))
}

// DecodeObservation turns a landmarks or no_detection message into detector
// input.
func DecodeObservation(m *Message) (pose.Observation, error) {
	switch m.Type {
	case TypeLandmarks:
		var d LandmarksData
		if err := m.ParseData(&d); err != nil {
			return pose.Observation{}, fmt.Errorf("protocol: landmarks: %w", err)
		}
		return d.Observation(m.Timestamp)
	case TypeNoDetection:
		var d NoDetectionData
		if err := m.ParseData(&d); err != nil {
			return pose.Observation{}, fmt.Errorf("protocol: no_detection: %w", err)
		}
		return d.Observation(m.Timestamp), nil
	}
	return pose.Observation{}, fmt.Errorf("protocol: %q is not a frame message", m.Type)
}
