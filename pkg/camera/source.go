package camera

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

var (
	// ErrNoFrame is returned when the device produced an empty frame.
	ErrNoFrame = errors.New("camera: empty frame")

	// ErrClosed is returned by Read after Close.
	ErrClosed = errors.New("camera: source closed")
)

// Frame is one captured, JPEG-encoded image.
type Frame struct {
	Sequence uint64
	Time     time.Time
	JPEG     []byte
	Width    int
	Height   int
}

// Source reads frames from a local capture device.
type Source struct {
	mu     sync.Mutex
	cap    *gocv.VideoCapture
	img    gocv.Mat
	cfg    Config
	seq    uint64
	closed bool
}

// Open opens the configured device and applies the capture properties.
func Open(cfg Config) (*Source, error) {
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("camera: invalid config: %v", errs)
	}

	vc, err := gocv.OpenVideoCapture(cfg.Device)
	if err != nil {
		return nil, fmt.Errorf("camera: open device %d: %w", cfg.Device, err)
	}

	s := &Source{cap: vc, img: gocv.NewMat(), cfg: cfg}
	s.applyLocked(cfg)
	return s, nil
}

// Apply changes resolution and frame rate on the open device.
func (s *Source) Apply(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.applyLocked(cfg)
	return nil
}

func (s *Source) applyLocked(cfg Config) {
	s.cap.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
	s.cap.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	s.cap.Set(gocv.VideoCaptureFPS, float64(cfg.Framerate))
	s.cfg = cfg
}

// Read grabs the next frame and encodes it as JPEG.
func (s *Source) Read() (Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Frame{}, ErrClosed
	}

	if ok := s.cap.Read(&s.img); !ok || s.img.Empty() {
		return Frame{}, ErrNoFrame
	}
	now := time.Now()

	if s.cfg.Mirror {
		gocv.Flip(s.img, &s.img, 1)
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, s.img, []int{gocv.IMWriteJpegQuality, s.cfg.Quality})
	if err != nil {
		return Frame{}, fmt.Errorf("camera: encode: %w", err)
	}
	defer buf.Close()

	data := make([]byte, buf.Len())
	copy(data, buf.GetBytes())

	s.seq++
	return Frame{
		Sequence: s.seq,
		Time:     now,
		JPEG:     data,
		Width:    s.img.Cols(),
		Height:   s.img.Rows(),
	}, nil
}

// Close releases the device.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.img.Close()
	return s.cap.Close()
}
