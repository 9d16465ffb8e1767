package pose

import (
	"errors"
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"
)

// ErrEmptyImage is returned when the decoded image has no pixels.
var ErrEmptyImage = errors.New("pose: empty image")

// YOLOPoseConfig holds YOLOv8-pose estimator configuration
type YOLOPoseConfig struct {
	ModelPath        string
	ConfidenceThresh float32
	NMSThresh        float32
	InputWidth       int
	InputHeight      int
}

// DefaultYOLOPoseConfig returns production defaults for YOLOv8n-pose
func DefaultYOLOPoseConfig() YOLOPoseConfig {
	return YOLOPoseConfig{
		ModelPath:        "models/yolov8n-pose.onnx",
		ConfidenceThresh: 0.5,
		NMSThresh:        0.45,
		InputWidth:       640,
		InputHeight:      640,
	}
}

// YOLOPoseEstimator runs a YOLOv8-pose ONNX model through OpenCV DNN.
type YOLOPoseEstimator struct {
	net       gocv.Net
	config    YOLOPoseConfig
	mu        sync.Mutex
	inputSize image.Point
}

// NewYOLOPose loads the pose model.
func NewYOLOPose(cfg YOLOPoseConfig) (*YOLOPoseEstimator, error) {
	if _, err := os.Stat(cfg.ModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("model file not found: %s", cfg.ModelPath)
	}

	net := gocv.ReadNetFromONNX(cfg.ModelPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load pose model from %s", cfg.ModelPath)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	return &YOLOPoseEstimator{
		net:       net,
		config:    cfg,
		inputSize: image.Pt(cfg.InputWidth, cfg.InputHeight),
	}, nil
}

// Estimate finds people and their keypoints in a JPEG image.
func (e *YOLOPoseEstimator) Estimate(jpeg []byte) ([]Person, error) {
	img, err := gocv.IMDecode(jpeg, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	defer img.Close()

	return e.EstimateMat(img)
}

// EstimateMat runs the model on an already-decoded BGR image.
func (e *YOLOPoseEstimator) EstimateMat(img gocv.Mat) ([]Person, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if img.Empty() {
		return nil, ErrEmptyImage
	}

	imgW := float32(img.Cols())
	imgH := float32(img.Rows())

	blob := gocv.BlobFromImage(img, 1.0/255.0, e.inputSize, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	e.net.SetInput(blob, "")
	output := e.net.Forward("")
	defer output.Close()

	return e.parseOutput(output, imgW, imgH)
}

// parseOutput decodes the [1, 56, N] YOLOv8-pose tensor.
// 56 = 4 box (cx, cy, w, h) + 1 person score + 17 keypoints * (x, y, conf).
func (e *YOLOPoseEstimator) parseOutput(output gocv.Mat, imgW, imgH float32) ([]Person, error) {
	dims := output.Size()
	if len(dims) != 3 {
		return nil, fmt.Errorf("unexpected output shape %v", dims)
	}
	channels, anchors := dims[1], dims[2]
	if channels != 5+3*len(COCOKeypoints) {
		return nil, fmt.Errorf("unexpected channel count %d", channels)
	}

	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read output: %w", err)
	}

	scaleX := imgW / float32(e.config.InputWidth)
	scaleY := imgH / float32(e.config.InputHeight)

	var boxes []image.Rectangle
	var scores []float32
	var anchorIdx []int

	for i := 0; i < anchors; i++ {
		score := data[4*anchors+i]
		if score < e.config.ConfidenceThresh {
			continue
		}
		cx, cy := data[i], data[anchors+i]
		w, h := data[2*anchors+i], data[3*anchors+i]

		x1 := int((cx - w/2) * scaleX)
		y1 := int((cy - h/2) * scaleY)
		x2 := int((cx + w/2) * scaleX)
		y2 := int((cy + h/2) * scaleY)

		boxes = append(boxes, image.Rect(x1, y1, x2, y2))
		scores = append(scores, score)
		anchorIdx = append(anchorIdx, i)
	}

	if len(boxes) == 0 {
		return nil, nil
	}

	indices := gocv.NMSBoxes(boxes, scores, e.config.ConfidenceThresh, e.config.NMSThresh)

	people := make([]Person, 0, len(indices))
	for _, idx := range indices {
		box := boxes[idx]
		anchor := anchorIdx[idx]

		keypoints := make(map[Name]Landmark, len(COCOKeypoints))
		for k, name := range COCOKeypoints {
			base := 5 + 3*k
			keypoints[name] = Landmark{
				Point: Point{
					X: float64(data[base*anchors+anchor] * scaleX),
					Y: float64(data[(base+1)*anchors+anchor] * scaleY),
				},
				Confidence: float64(data[(base+2)*anchors+anchor]),
			}
		}

		people = append(people, Person{
			X:          float64(box.Min.X) / float64(imgW),
			Y:          float64(box.Min.Y) / float64(imgH),
			W:          float64(box.Dx()) / float64(imgW),
			H:          float64(box.Dy()) / float64(imgH),
			Confidence: float64(scores[idx]),
			Keypoints:  keypoints,
		})
	}

	return people, nil
}

// Close releases the model.
func (e *YOLOPoseEstimator) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.net.Close()
}

var _ Estimator = (*YOLOPoseEstimator)(nil)
