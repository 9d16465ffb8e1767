package fall

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// Severity is the coarse classification of a confirmed fall.
type Severity string

const (
	Mild   Severity = "mild"
	Severe Severity = "severe"
)

// DefaultSevereAngle is the mild/severe boundary in degrees.
const DefaultSevereAngle = 50.0

// Classify returns Severe when the angle is valid and at or above the
// threshold. Without a usable angle the event is Mild.
func Classify(angle Measure, severeAngle float64) Severity {
	if angle.Exceeds(severeAngle) {
		return Severe
	}
	return Mild
}

// Confidence scores an event from the number of criteria that agreed,
// boosted by 20% for severe events and capped at 1.
func Confidence(criteria int, sev Severity) float64 {
	c := float64(criteria) / 3
	if sev == Severe {
		c *= 1.2
	}
	return math.Min(c, 1)
}

// Event is an accepted, de-duplicated fall.
type Event struct {
	ID         uuid.UUID `json:"id"`
	Severity   Severity  `json:"severity"`
	Angle      Measure   `json:"angle"`
	Timestamp  time.Time `json:"timestamp"`
	Sequence   uint64    `json:"sequence"`
	Signals    Signals   `json:"signals"`
	Verdict    Verdict   `json:"verdict"`
	Confidence float64   `json:"confidence"`
}

// AngleDegrees returns the representative angle, or nil when none was measured.
func (e Event) AngleDegrees() *float64 {
	if !e.Angle.Valid {
		return nil
	}
	v := e.Angle.Value
	return &v
}

func newEvent(c Candidate, v Verdict, severeAngle float64) Event {
	sev := Classify(c.Signals.TorsoAngle, severeAngle)
	return Event{
		ID:         uuid.New(),
		Severity:   sev,
		Angle:      c.Signals.TorsoAngle,
		Timestamp:  c.Timestamp,
		Sequence:   c.Sequence,
		Signals:    c.Signals,
		Verdict:    v,
		Confidence: Confidence(v.Count, sev),
	}
}
