package camera

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrNoImage is returned when there is no frame to save.
var ErrNoImage = errors.New("camera: no frame available")

// Screenshotter writes JPEG frames into a directory.
type Screenshotter struct {
	dir string
}

// NewScreenshotter creates the directory if needed.
func NewScreenshotter(dir string) (*Screenshotter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("camera: screenshot dir: %w", err)
	}
	return &Screenshotter{dir: dir}, nil
}

// Save writes jpeg as <prefix>_<timestamp>.jpg and returns the path.
func (s *Screenshotter) Save(jpeg []byte, prefix string, at time.Time) (string, error) {
	if len(jpeg) == 0 {
		return "", ErrNoImage
	}
	name := fmt.Sprintf("%s_%s.jpg", prefix, at.Format("20060102_150405.000"))
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, jpeg, 0o644); err != nil {
		return "", fmt.Errorf("camera: write screenshot: %w", err)
	}
	return path, nil
}

// Dir returns the output directory.
func (s *Screenshotter) Dir() string {
	return s.dir
}
