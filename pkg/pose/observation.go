package pose

import "time"

// Observation is the per-frame estimator output: either a detected
// LandmarkFrame or an explicit "no detection" marker.
type Observation struct {
	frame     *LandmarkFrame
	sequence  uint64
	timestamp time.Time
}

// Detected wraps a landmark frame.
func Detected(f LandmarkFrame) Observation {
	return Observation{frame: &f, sequence: f.Sequence, timestamp: f.Timestamp}
}

// NoDetection marks a frame in which no person was found.
func NoDetection(seq uint64, ts time.Time) Observation {
	return Observation{sequence: seq, timestamp: ts}
}

// Frame returns the landmark frame and true when a person was detected.
func (o Observation) Frame() (LandmarkFrame, bool) {
	if o.frame == nil {
		return LandmarkFrame{}, false
	}
	return *o.frame, true
}

// IsDetected reports whether the observation carries landmarks.
func (o Observation) IsDetected() bool {
	return o.frame != nil
}

// Sequence returns the frame sequence number.
func (o Observation) Sequence() uint64 {
	return o.sequence
}

// Timestamp returns the capture time.
func (o Observation) Timestamp() time.Time {
	return o.timestamp
}
