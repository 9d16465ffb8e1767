package pose

import (
	"math"
	"testing"
	"time"
)

func TestPoint_Midpoint(t *testing.T) {
	got := Point{X: 0, Y: 0}.Midpoint(Point{X: 10, Y: 20})
	if got.X != 5 || got.Y != 10 {
		t.Errorf("Midpoint: got %+v, want {5 10}", got)
	}
}

func TestPoint_Distance(t *testing.T) {
	d := Point{X: 0, Y: 0}.Distance(Point{X: 3, Y: 4})
	if math.Abs(d-5) > 1e-9 {
		t.Errorf("Distance: got %v, want 5", d)
	}
}

func TestNewFrame_CopiesLandmarks(t *testing.T) {
	src := map[Name]Landmark{
		Nose: {Point: Point{X: 1, Y: 2}, Confidence: 0.9},
	}
	f := NewFrame(7, time.Unix(100, 0), 640, 480, src)

	src[Nose] = Landmark{Point: Point{X: 99, Y: 99}, Confidence: 0.1}
	src[LeftHip] = Landmark{}

	lm, ok := f.Landmark(Nose)
	if !ok {
		t.Fatal("nose missing from frame")
	}
	if lm.X != 1 || lm.Y != 2 {
		t.Errorf("frame aliased caller map: got %+v", lm)
	}
	if f.Len() != 1 {
		t.Errorf("Len: got %d, want 1", f.Len())
	}

	out := f.Landmarks()
	out[Nose] = Landmark{}
	if lm, _ := f.Landmark(Nose); lm.X != 1 {
		t.Error("Landmarks() returned the internal map")
	}
}

func TestLandmarkFrame_Confident(t *testing.T) {
	f := NewFrame(1, time.Now(), 640, 480, map[Name]Landmark{
		Nose:         {Point: Point{X: 10, Y: 10}, Confidence: 0.8},
		LeftShoulder: {Point: Point{X: 10, Y: 10}, Confidence: 0.2},
		RightHip:     {Point: Point{X: math.NaN(), Y: 10}, Confidence: 0.9},
	})

	tests := []struct {
		name Name
		want bool
	}{
		{Nose, true},
		{LeftShoulder, false},
		{RightHip, false},
		{LeftAnkle, false},
	}
	for _, tc := range tests {
		t.Run(string(tc.name), func(t *testing.T) {
			if _, ok := f.Confident(tc.name, 0.5); ok != tc.want {
				t.Errorf("Confident(%s): got %v, want %v", tc.name, ok, tc.want)
			}
		})
	}
}

func TestObservation(t *testing.T) {
	ts := time.Unix(42, 0)

	none := NoDetection(3, ts)
	if none.IsDetected() {
		t.Error("NoDetection should not be detected")
	}
	if _, ok := none.Frame(); ok {
		t.Error("NoDetection should not carry a frame")
	}
	if none.Sequence() != 3 || !none.Timestamp().Equal(ts) {
		t.Errorf("NoDetection metadata: got seq=%d ts=%v", none.Sequence(), none.Timestamp())
	}

	some := Detected(NewFrame(4, ts, 640, 480, nil))
	f, ok := some.Frame()
	if !ok || f.Sequence != 4 {
		t.Errorf("Detected: got ok=%v seq=%d", ok, f.Sequence)
	}
}

func TestSelectBest(t *testing.T) {
	tests := []struct {
		name      string
		people    []Person
		expectNil bool
		expectIdx int
	}{
		{name: "empty", people: nil, expectNil: true},
		{
			name:      "single",
			people:    []Person{{W: 0.1, H: 0.1, Confidence: 0.6}},
			expectIdx: 0,
		},
		{
			name: "higher confidence wins at equal size",
			people: []Person{
				{W: 0.2, H: 0.2, Confidence: 0.6},
				{W: 0.2, H: 0.2, Confidence: 0.9},
			},
			expectIdx: 1,
		},
		{
			name: "much larger body wins at similar confidence",
			people: []Person{
				{W: 0.5, H: 0.8, Confidence: 0.7},
				{W: 0.05, H: 0.1, Confidence: 0.75},
			},
			expectIdx: 0,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			best := SelectBest(tc.people)
			if tc.expectNil {
				if best != nil {
					t.Errorf("expected nil, got %+v", best)
				}
				return
			}
			if best != &tc.people[tc.expectIdx] {
				t.Errorf("expected index %d, got %+v", tc.expectIdx, best)
			}
		})
	}
}

func TestObserve(t *testing.T) {
	ts := time.Unix(1, 0)

	if obs := Observe(nil, 1, ts, 640, 480); obs.IsDetected() {
		t.Error("no people should yield NoDetection")
	}

	people := []Person{{
		W: 0.3, H: 0.6, Confidence: 0.9,
		Keypoints: map[Name]Landmark{Nose: {Point: Point{X: 320, Y: 100}, Confidence: 0.9}},
	}}
	obs := Observe(people, 2, ts, 640, 480)
	f, ok := obs.Frame()
	if !ok {
		t.Fatal("expected detection")
	}
	if f.Width != 640 || f.Height != 480 || f.Sequence != 2 {
		t.Errorf("frame metadata: %+v", f)
	}
}
