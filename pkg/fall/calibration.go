package fall

import (
	"errors"
	"time"

	"github.com/teslashibe/fallwatch/pkg/pose"
)

// ErrCalibrationUnavailable is returned when the current frame cannot serve
// as a baseline (no detection, or nose/torso below the confidence floor).
var ErrCalibrationUnavailable = errors.New("fall: no usable pose to calibrate from")

// CalibrationStore holds the operator-captured neutral standing pose.
// It is only written by explicit operator commands.
type CalibrationStore struct {
	baseline *Reference
	at       time.Time
}

// NewCalibrationStore returns an empty store.
func NewCalibrationStore() *CalibrationStore {
	return &CalibrationStore{}
}

// Calibrate captures the frame as the new baseline. Head drop and center
// shift measured against this frame are zero by construction. On error any
// existing baseline is kept.
func (c *CalibrationStore) Calibrate(f pose.LandmarkFrame, minConfidence float64) error {
	ref := ReferenceFrom(f, minConfidence)
	if !ref.HasNose || !ref.HasCenter {
		return ErrCalibrationUnavailable
	}
	c.baseline = &ref
	c.at = f.Timestamp
	return nil
}

// Baseline returns the stored baseline, if any.
func (c *CalibrationStore) Baseline() (*Reference, bool) {
	if c.baseline == nil {
		return nil, false
	}
	ref := *c.baseline
	return &ref, true
}

// CalibratedAt returns the capture time of the baseline.
func (c *CalibrationStore) CalibratedAt() (time.Time, bool) {
	return c.at, c.baseline != nil
}

// Clear drops the baseline.
func (c *CalibrationStore) Clear() {
	c.baseline = nil
	c.at = time.Time{}
}
