package monitor

import "time"

// fpsCounter measures frame throughput over one-second windows.
type fpsCounter struct {
	start  time.Time
	frames int
	rate   float64
}

func (f *fpsCounter) tick(now time.Time) {
	if f.start.IsZero() {
		f.start = now
	}
	f.frames++
	if elapsed := now.Sub(f.start); elapsed >= time.Second {
		f.rate = float64(f.frames) / elapsed.Seconds()
		f.frames = 0
		f.start = now
	}
}

func (f *fpsCounter) value() float64 {
	return f.rate
}
