package monitor

import (
	"context"
	"errors"
	"time"

	"github.com/teslashibe/fallwatch/pkg/camera"
	"github.com/teslashibe/fallwatch/pkg/pose"
)

// FrameSource captures JPEG frames.
type FrameSource interface {
	Read() (camera.Frame, error)
}

// emptyFrameBackoff is the pause after the device returns no image.
const emptyFrameBackoff = 20 * time.Millisecond

// RunCamera reads frames from src, estimates poses with est and feeds the
// loop until ctx is cancelled or the source is closed. Frames wait for
// room in the queue rather than being dropped.
func (m *Monitor) RunCamera(ctx context.Context, src FrameSource, est pose.Estimator) error {
	log := m.logger.With("source", CameraSource)
	log.Info("camera capture started")

	var misses int
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		frame, err := src.Read()
		switch {
		case errors.Is(err, camera.ErrClosed):
			log.Info("camera closed")
			return nil
		case err != nil:
			misses++
			if misses == 50 {
				log.Warn("camera returning no frames", "error", err)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(emptyFrameBackoff):
			}
			continue
		}
		misses = 0

		if m.previewHub != nil && m.previewHub.ClientCount() > 0 {
			m.previewHub.BroadcastBinary(frame.JPEG)
		}

		obs := m.estimate(est, frame)

		select {
		case m.inputs <- input{source: CameraSource, obs: obs, jpeg: frame.JPEG}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// estimate turns a captured frame into an observation. Estimator errors
// count as frames with nobody in view.
func (m *Monitor) estimate(est pose.Estimator, f camera.Frame) pose.Observation {
	people, err := est.Estimate(f.JPEG)
	if err != nil {
		m.logger.Debug("pose estimation failed", "sequence", f.Sequence, "error", err)
		return pose.NoDetection(f.Sequence, f.Time)
	}
	return pose.Observe(people, f.Sequence, f.Time, f.Width, f.Height)
}
