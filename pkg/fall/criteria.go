package fall

// MinAgreement is the smallest number of criteria that may confirm a fall
// frame. A single criterion never does.
const MinAgreement = 2

// Thresholds are the per-criterion cutoffs and the fusion rule.
type Thresholds struct {
	TorsoAngle  float64 `json:"torso_angle"`  // degrees
	HeadDrop    float64 `json:"head_drop"`    // px
	CenterShift float64 `json:"center_shift"` // px
	MinCriteria int     `json:"min_criteria"` // criteria that must agree, 2 or 3
}

// DefaultThresholds returns 35°, 100px, 150px, 2-of-3.
func DefaultThresholds() Thresholds {
	return Thresholds{
		TorsoAngle:  35,
		HeadDrop:    100,
		CenterShift: 150,
		MinCriteria: 2,
	}
}

// Verdict is the per-frame criteria vote.
type Verdict struct {
	AngleExceeded       bool `json:"angle_exceeded"`
	HeadDropExceeded    bool `json:"head_drop_exceeded"`
	CenterShiftExceeded bool `json:"center_shift_exceeded"`
	Count               int  `json:"count"`
	IsFallFrame         bool `json:"is_fall_frame"`
}

// Reasons returns the names of the exceeded criteria.
func (v Verdict) Reasons() []string {
	var out []string
	if v.AngleExceeded {
		out = append(out, "torso_angle")
	}
	if v.HeadDropExceeded {
		out = append(out, "head_drop")
	}
	if v.CenterShiftExceeded {
		out = append(out, "center_shift")
	}
	return out
}

// Evaluate compares each signal with its threshold. Invalid signals count
// as not exceeded.
func Evaluate(s Signals, t Thresholds) Verdict {
	v := Verdict{
		AngleExceeded:       s.TorsoAngle.Exceeds(t.TorsoAngle),
		HeadDropExceeded:    s.HeadDrop.Exceeds(t.HeadDrop),
		CenterShiftExceeded: s.CenterShift.Exceeds(t.CenterShift),
	}
	for _, hit := range []bool{v.AngleExceeded, v.HeadDropExceeded, v.CenterShiftExceeded} {
		if hit {
			v.Count++
		}
	}

	need := t.MinCriteria
	if need < MinAgreement {
		need = MinAgreement
	}
	v.IsFallFrame = v.Count >= need
	return v
}
