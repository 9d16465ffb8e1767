package fall

import (
	"math"
	"time"

	"github.com/teslashibe/fallwatch/pkg/pose"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// body describes a synthetic subject: torso tilt, torso midpoint, nose height.
type body struct {
	angle  float64
	center pose.Point
	noseY  float64
	conf   float64
}

func standing() body {
	return body{angle: 0, center: pose.Point{X: 320, Y: 300}, noseY: 100, conf: 0.9}
}

// frame renders b into a landmark frame. The shoulder and hip midpoints sit
// 100px either side of center along the tilted torso axis.
func (b body) frame(seq uint64, ts time.Time) pose.LandmarkFrame {
	const half = 100.0
	rad := b.angle * math.Pi / 180
	off := pose.Point{X: half * math.Sin(rad), Y: half * math.Cos(rad)}
	sh := pose.Point{X: b.center.X - off.X, Y: b.center.Y - off.Y}
	hip := pose.Point{X: b.center.X + off.X, Y: b.center.Y + off.Y}
	conf := b.conf
	if conf == 0 {
		conf = 0.9
	}
	lm := func(x, y float64) pose.Landmark {
		return pose.Landmark{Point: pose.Point{X: x, Y: y}, Confidence: conf}
	}
	return pose.NewFrame(seq, ts, 640, 480, map[pose.Name]pose.Landmark{
		pose.Nose:          lm(sh.X, b.noseY),
		pose.LeftShoulder:  lm(sh.X-30, sh.Y),
		pose.RightShoulder: lm(sh.X+30, sh.Y),
		pose.LeftHip:       lm(hip.X-20, hip.Y),
		pose.RightHip:      lm(hip.X+20, hip.Y),
	})
}

// fallen is the canonical fall pose relative to standing(): 55° tilt, nose
// 120px lower, torso midpoint 10px to the right.
func fallen() body {
	b := standing()
	b.angle = 55
	b.center.X += 10
	b.noseY += 120
	return b
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

type recorder struct {
	events []Event
}

func (r *recorder) Alert(ev Event) {
	r.events = append(r.events, ev)
}
