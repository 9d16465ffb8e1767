package pose

import "time"

// Person is one detected body with its bounding box and keypoints.
// Box coordinates are normalized to 0-1; keypoints are in image pixels.
type Person struct {
	X, Y, W, H float64
	Confidence float64
	Keypoints  map[Name]Landmark
}

// Area returns the normalized bounding-box area.
func (p Person) Area() float64 {
	return p.W * p.H
}

// Estimator turns an image into zero or more people.
type Estimator interface {
	// Estimate runs pose estimation on a JPEG image.
	Estimate(jpeg []byte) ([]Person, error)

	// Close releases resources
	Close() error
}

// SelectBest picks the primary subject from multiple detections.
// Priority: confidence * 0.7 + relative area * 0.3.
func SelectBest(people []Person) *Person {
	if len(people) == 0 {
		return nil
	}
	if len(people) == 1 {
		return &people[0]
	}

	maxArea := 0.0
	for _, p := range people {
		if p.Area() > maxArea {
			maxArea = p.Area()
		}
	}

	bestScore := -1.0
	var best *Person
	for i := range people {
		areaScore := 0.0
		if maxArea > 0 {
			areaScore = people[i].Area() / maxArea
		}
		score := people[i].Confidence*0.7 + areaScore*0.3
		if score > bestScore {
			bestScore = score
			best = &people[i]
		}
	}
	return best
}

// Observe converts estimator output into an Observation for one frame.
func Observe(people []Person, seq uint64, ts time.Time, width, height int) Observation {
	best := SelectBest(people)
	if best == nil || len(best.Keypoints) == 0 {
		return NoDetection(seq, ts)
	}
	return Detected(NewFrame(seq, ts, width, height, best.Keypoints))
}
