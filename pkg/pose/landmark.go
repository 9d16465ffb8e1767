// Package pose defines the body-landmark frames produced by a pose estimator
// and consumed by the fall detector.
package pose

import (
	"math"
	"sort"
	"time"
)

// Name identifies a body landmark.
type Name string

// Landmarks used by the detector. Names follow the COCO keypoint set.
const (
	Nose          Name = "nose"
	LeftEye       Name = "left_eye"
	RightEye      Name = "right_eye"
	LeftEar       Name = "left_ear"
	RightEar      Name = "right_ear"
	LeftShoulder  Name = "left_shoulder"
	RightShoulder Name = "right_shoulder"
	LeftElbow     Name = "left_elbow"
	RightElbow    Name = "right_elbow"
	LeftWrist     Name = "left_wrist"
	RightWrist    Name = "right_wrist"
	LeftHip       Name = "left_hip"
	RightHip      Name = "right_hip"
	LeftKnee      Name = "left_knee"
	RightKnee     Name = "right_knee"
	LeftAnkle     Name = "left_ankle"
	RightAnkle    Name = "right_ankle"
)

// COCOKeypoints is the keypoint order emitted by COCO-trained pose models.
var COCOKeypoints = []Name{
	Nose, LeftEye, RightEye, LeftEar, RightEar,
	LeftShoulder, RightShoulder, LeftElbow, RightElbow, LeftWrist, RightWrist,
	LeftHip, RightHip, LeftKnee, RightKnee, LeftAnkle, RightAnkle,
}

// Torso lists the landmarks that define the shoulder-hip torso segment.
var Torso = []Name{LeftShoulder, RightShoulder, LeftHip, RightHip}

// Point is a 2-D image coordinate in pixels (y grows downward).
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Midpoint returns the point halfway between p and q.
func (p Point) Midpoint(q Point) Point {
	return Point{X: (p.X + q.X) / 2, Y: (p.Y + q.Y) / 2}
}

// Distance returns the Euclidean distance between p and q.
func (p Point) Distance(q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// Landmark is a named joint position with the estimator's confidence (0-1).
type Landmark struct {
	Point
	Confidence float64 `json:"confidence"`
}

// LandmarkFrame is the immutable landmark set for one camera frame.
// Construct with NewFrame; the landmark map is copied and never exposed.
type LandmarkFrame struct {
	Sequence  uint64
	Timestamp time.Time
	Width     int
	Height    int

	landmarks map[Name]Landmark
}

// NewFrame creates a frame from a landmark map. The map is copied.
func NewFrame(seq uint64, ts time.Time, width, height int, landmarks map[Name]Landmark) LandmarkFrame {
	copied := make(map[Name]Landmark, len(landmarks))
	for name, lm := range landmarks {
		copied[name] = lm
	}
	return LandmarkFrame{
		Sequence:  seq,
		Timestamp: ts,
		Width:     width,
		Height:    height,
		landmarks: copied,
	}
}

// Landmark returns the named landmark, if present.
func (f LandmarkFrame) Landmark(name Name) (Landmark, bool) {
	lm, ok := f.landmarks[name]
	return lm, ok
}

// Confident returns the named landmark only if its confidence reaches floor.
func (f LandmarkFrame) Confident(name Name, floor float64) (Landmark, bool) {
	lm, ok := f.landmarks[name]
	if !ok || lm.Confidence < floor || math.IsNaN(lm.X) || math.IsNaN(lm.Y) {
		return Landmark{}, false
	}
	return lm, true
}

// Len returns the number of landmarks in the frame.
func (f LandmarkFrame) Len() int {
	return len(f.landmarks)
}

// Names returns the landmark names in sorted order.
func (f LandmarkFrame) Names() []Name {
	names := make([]Name, 0, len(f.landmarks))
	for name := range f.landmarks {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Landmarks returns a copy of the landmark map.
func (f LandmarkFrame) Landmarks() map[Name]Landmark {
	out := make(map[Name]Landmark, len(f.landmarks))
	for name, lm := range f.landmarks {
		out[name] = lm
	}
	return out
}
