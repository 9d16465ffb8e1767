package fall

import (
	"testing"
	"time"
)

func TestEvaluate(t *testing.T) {
	th := DefaultThresholds()

	tests := []struct {
		name   string
		s      Signals
		count  int
		isFall bool
	}{
		{
			name:  "all below",
			s:     Signals{TorsoAngle: Valid(34.9), HeadDrop: Valid(99), CenterShift: Valid(149)},
			count: 0,
		},
		{
			name:  "angle only",
			s:     Signals{TorsoAngle: Valid(89), HeadDrop: Valid(0), CenterShift: Valid(0)},
			count: 1,
		},
		{
			name:   "angle and center shift",
			s:      Signals{TorsoAngle: Valid(40), HeadDrop: Valid(0), CenterShift: Valid(200)},
			count:  2,
			isFall: true,
		},
		{
			name:   "angle and head drop at threshold",
			s:      Signals{TorsoAngle: Valid(35), HeadDrop: Valid(100), CenterShift: Valid(10)},
			count:  2,
			isFall: true,
		},
		{
			name:   "all three",
			s:      Signals{TorsoAngle: Valid(80), HeadDrop: Valid(300), CenterShift: Valid(400)},
			count:  3,
			isFall: true,
		},
		{
			name:  "invalid signals never count",
			s:     Signals{TorsoAngle: Valid(80), HeadDrop: Invalid, CenterShift: Invalid},
			count: 1,
		},
		{
			name:  "nothing valid",
			s:     Signals{},
			count: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Evaluate(tt.s, th)
			if v.Count != tt.count || v.IsFallFrame != tt.isFall {
				t.Errorf("got count=%d fall=%v, want count=%d fall=%v", v.Count, v.IsFallFrame, tt.count, tt.isFall)
			}
		})
	}
}

func TestEvaluate_SingleCriterionNeverSuffices(t *testing.T) {
	th := DefaultThresholds()
	th.MinCriteria = 1

	v := Evaluate(Signals{TorsoAngle: Valid(90)}, th)
	if v.IsFallFrame {
		t.Error("a single criterion must not confirm a fall frame")
	}
}

func TestEvaluate_ThreeOfThree(t *testing.T) {
	th := DefaultThresholds()
	th.MinCriteria = 3

	v := Evaluate(Signals{TorsoAngle: Valid(60), HeadDrop: Valid(150), CenterShift: Valid(0)}, th)
	if v.IsFallFrame {
		t.Error("two criteria must not satisfy a 3-of-3 rule")
	}
}

func TestVerdict_Reasons(t *testing.T) {
	v := Verdict{AngleExceeded: true, CenterShiftExceeded: true}
	got := v.Reasons()
	if len(got) != 2 || got[0] != "torso_angle" || got[1] != "center_shift" {
		t.Errorf("reasons = %v", got)
	}
}

func TestDebouncer(t *testing.T) {
	pos := Verdict{IsFallFrame: true}
	neg := Verdict{}
	s := Signals{TorsoAngle: Valid(40)}

	d := NewDebouncer(5)
	for i := 0; i < 4; i++ {
		if _, ok := d.Observe(pos, s, uint64(i), t0); ok {
			t.Fatalf("frame %d: emitted before threshold", i)
		}
	}
	if d.Count() != 4 {
		t.Fatalf("count = %d, want 4", d.Count())
	}

	// threshold-1 positives then a negative resets
	if _, ok := d.Observe(neg, Signals{}, 4, t0); ok {
		t.Fatal("negative frame emitted")
	}
	if d.Count() != 0 {
		t.Fatalf("count after negative = %d, want 0", d.Count())
	}

	// a fresh run of exactly threshold positives emits
	var (
		c  Candidate
		ok bool
	)
	for i := 0; i < 5; i++ {
		angle := 40.0
		if i == 2 {
			angle = 70
		}
		c, ok = d.Observe(pos, Signals{TorsoAngle: Valid(angle)}, uint64(10+i), t0.Add(time.Duration(i)*100*time.Millisecond))
		if ok && i < 4 {
			t.Fatalf("emitted early at frame %d", i)
		}
	}
	if !ok {
		t.Fatal("expected candidate after 5 positives")
	}
	if c.Frames != 5 || c.Sequence != 14 {
		t.Errorf("candidate = %+v", c)
	}
	if c.Signals.TorsoAngle.Value != 70 {
		t.Errorf("candidate should carry the worst angle, got %v", c.Signals.TorsoAngle.Value)
	}
	if d.Count() != 0 {
		t.Errorf("count after confirmation = %d, want 0", d.Count())
	}
}

func TestDebouncer_CountStaysInRange(t *testing.T) {
	d := NewDebouncer(3)
	for i := 0; i < 20; i++ {
		d.Observe(Verdict{IsFallFrame: true}, Signals{}, uint64(i), t0)
		if d.Count() < 0 || d.Count() >= d.Threshold() {
			t.Fatalf("count %d outside [0, %d)", d.Count(), d.Threshold())
		}
	}
}

func TestCooldownGate(t *testing.T) {
	g := NewCooldownGate(30 * time.Second)

	if !g.Admit(t0) {
		t.Fatal("empty gate should admit")
	}
	if !g.Admit(t0) {
		t.Fatal("Admit must not record")
	}

	g.Record(t0)
	tests := []struct {
		after time.Duration
		want  bool
	}{
		{0, false},
		{29 * time.Second, false},
		{30 * time.Second, true},
		{31 * time.Second, true},
	}
	for _, tt := range tests {
		if got := g.Admit(t0.Add(tt.after)); got != tt.want {
			t.Errorf("Admit(+%s) = %v, want %v", tt.after, got, tt.want)
		}
	}

	if r := g.Remaining(t0.Add(10 * time.Second)); r != 20*time.Second {
		t.Errorf("remaining = %s, want 20s", r)
	}

	if r := g.Remaining(t0.Add(-time.Hour)); r != 0 {
		t.Errorf("remaining before last alert = %s, want 0", r)
	}

	g.Reset()
	if !g.Admit(t0.Add(time.Second)) {
		t.Error("reset gate should admit immediately")
	}
	if _, ok := g.Last(); ok {
		t.Error("reset gate should have no last alert")
	}
}

func TestCooldownGate_ClockReset(t *testing.T) {
	g := NewCooldownGate(30 * time.Second)
	future := t0.Add(365 * 24 * time.Hour)
	g.Record(future)

	if !g.Admit(t0.Add(2 * time.Hour)) {
		t.Error("candidate stamped before the last alert should open the gate")
	}
	if g.Admit(future.Add(time.Second)) {
		t.Error("candidate inside the window after the last alert should be held")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		angle Measure
		want  Severity
	}{
		{"exactly at threshold", Valid(50), Severe},
		{"one degree below", Valid(49), Mild},
		{"well above", Valid(85), Severe},
		{"no angle", Invalid, Mild},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.angle, DefaultSevereAngle); got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestConfidence(t *testing.T) {
	if c := Confidence(2, Mild); !approx(c, 2.0/3) {
		t.Errorf("mild 2/3 = %v", c)
	}
	if c := Confidence(2, Severe); !approx(c, 0.8) {
		t.Errorf("severe 2/3 = %v", c)
	}
	if c := Confidence(3, Severe); c != 1 {
		t.Errorf("severe 3/3 = %v, want capped at 1", c)
	}
}

func TestConfig_Validate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"zero angle", func(c *Config) { c.Thresholds.TorsoAngle = 0 }},
		{"negative head drop", func(c *Config) { c.Thresholds.HeadDrop = -1 }},
		{"zero center shift", func(c *Config) { c.Thresholds.CenterShift = 0 }},
		{"single criterion", func(c *Config) { c.Thresholds.MinCriteria = 1 }},
		{"four criteria", func(c *Config) { c.Thresholds.MinCriteria = 4 }},
		{"zero frames", func(c *Config) { c.ConsecutiveFrames = 0 }},
		{"negative cooldown", func(c *Config) { c.Cooldown = -time.Second }},
		{"zero severe angle", func(c *Config) { c.SevereAngle = 0 }},
		{"confidence above one", func(c *Config) { c.MinConfidence = 1.5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected error")
			}
		})
	}
}
