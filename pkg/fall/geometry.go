// Package fall turns a stream of body landmarks into de-duplicated fall
// events: per-frame geometry, 2-of-3 criteria fusion, consecutive-frame
// debounce, alert cooldown and operator calibration.
package fall

import (
	"math"

	"github.com/teslashibe/fallwatch/pkg/pose"
)

// Measure is a scalar signal that may be unavailable for a frame.
type Measure struct {
	Value float64 `json:"value"`
	Valid bool    `json:"valid"`
}

// Valid wraps a computed value. NaN and Inf are reported as invalid.
func Valid(v float64) Measure {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Measure{}
	}
	return Measure{Value: v, Valid: true}
}

// Invalid is the sentinel for a signal that could not be computed.
var Invalid = Measure{}

// Exceeds reports whether a valid measure reaches threshold.
// Invalid measures never exceed.
func (m Measure) Exceeds(threshold float64) bool {
	return m.Valid && m.Value >= threshold
}

// Max returns the larger of two measures; a valid measure beats an invalid one.
func (m Measure) Max(o Measure) Measure {
	switch {
	case !o.Valid:
		return m
	case !m.Valid:
		return o
	case o.Value > m.Value:
		return o
	default:
		return m
	}
}

// Signals is the per-frame geometry derived from one landmark frame.
type Signals struct {
	TorsoAngle  Measure `json:"torso_angle"`  // degrees from vertical, [0, 90]
	HeadDrop    Measure `json:"head_drop"`    // px, positive = nose moved down
	CenterShift Measure `json:"center_shift"` // px, torso midpoint displacement
}

// AnyValid reports whether at least one signal could be computed.
func (s Signals) AnyValid() bool {
	return s.TorsoAngle.Valid || s.HeadDrop.Valid || s.CenterShift.Valid
}

// Worst merges two signal sets keeping the most fall-like value of each.
func (s Signals) Worst(o Signals) Signals {
	return Signals{
		TorsoAngle:  s.TorsoAngle.Max(o.TorsoAngle),
		HeadDrop:    s.HeadDrop.Max(o.HeadDrop),
		CenterShift: s.CenterShift.Max(o.CenterShift),
	}
}

// Reference is the pose that displacement signals are measured against:
// either the operator's calibration baseline or the previous frame.
type Reference struct {
	NoseY      float64    `json:"nose_y"`
	HasNose    bool       `json:"has_nose"`
	Center     pose.Point `json:"center"`
	HasCenter  bool       `json:"has_center"`
	TorsoAngle Measure    `json:"torso_angle"`
}

// torso holds the shoulder and hip midpoints when all four joints are confident.
type torso struct {
	shoulder pose.Point
	hip      pose.Point
}

func (t torso) midpoint() pose.Point {
	return t.shoulder.Midpoint(t.hip)
}

func torsoOf(f pose.LandmarkFrame, floor float64) (torso, bool) {
	var pts [4]pose.Point
	for i, name := range pose.Torso {
		lm, ok := f.Confident(name, floor)
		if !ok {
			return torso{}, false
		}
		pts[i] = lm.Point
	}
	return torso{
		shoulder: pts[0].Midpoint(pts[1]),
		hip:      pts[2].Midpoint(pts[3]),
	}, true
}

// TorsoAngle returns the unsigned tilt of the shoulder-to-hip segment from
// vertical: 0 for upright, approaching 90 when horizontal. The atan2(|dx|, |dy|)
// form folds every fall direction into [0, 90].
func TorsoAngle(shoulder, hip pose.Point) float64 {
	dx := hip.X - shoulder.X
	dy := hip.Y - shoulder.Y
	return math.Atan2(math.Abs(dx), math.Abs(dy)) * 180 / math.Pi
}

// Analyze computes the geometry signals for one frame. ref may be nil, in
// which case displacement signals are invalid. Each signal is invalid when
// any landmark it needs is missing or below minConfidence.
func Analyze(f pose.LandmarkFrame, ref *Reference, minConfidence float64) Signals {
	var s Signals

	t, hasTorso := torsoOf(f, minConfidence)
	if hasTorso {
		s.TorsoAngle = Valid(TorsoAngle(t.shoulder, t.hip))
		if ref != nil && ref.HasCenter {
			s.CenterShift = Valid(t.midpoint().Distance(ref.Center))
		}
	}

	if nose, ok := f.Confident(pose.Nose, minConfidence); ok && ref != nil && ref.HasNose {
		s.HeadDrop = Valid(nose.Y - ref.NoseY)
	}

	return s
}

// ReferenceFrom extracts the displacement reference carried by a frame.
func ReferenceFrom(f pose.LandmarkFrame, minConfidence float64) Reference {
	var ref Reference
	if t, ok := torsoOf(f, minConfidence); ok {
		ref.Center = t.midpoint()
		ref.HasCenter = true
		ref.TorsoAngle = Valid(TorsoAngle(t.shoulder, t.hip))
	}
	if nose, ok := f.Confident(pose.Nose, minConfidence); ok {
		ref.NoseY = nose.Y
		ref.HasNose = true
	}
	return ref
}

// merge overwrites the parts of r that next carries, keeping the rest.
func (r Reference) merge(next Reference) Reference {
	if next.HasNose {
		r.NoseY, r.HasNose = next.NoseY, true
	}
	if next.HasCenter {
		r.Center, r.HasCenter = next.Center, true
		r.TorsoAngle = next.TorsoAngle
	}
	return r
}
