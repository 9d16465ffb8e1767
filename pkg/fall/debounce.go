package fall

import "time"

// DefaultConsecutiveFrames is the debounce run length.
const DefaultConsecutiveFrames = 5

// Candidate is emitted when a run of fall frames reaches the threshold.
type Candidate struct {
	Signals   Signals   // most severe values seen during the run
	Sequence  uint64    // sequence of the confirming frame
	Timestamp time.Time // capture time of the confirming frame
	Frames    int       // run length
}

// Debouncer requires N consecutive fall frames before emitting a candidate.
// Any negative frame cancels the run; there is no partial decay.
type Debouncer struct {
	threshold int
	count     int
	worst     Signals
}

// NewDebouncer creates a debouncer. Thresholds below 1 are raised to 1.
func NewDebouncer(threshold int) *Debouncer {
	if threshold < 1 {
		threshold = 1
	}
	return &Debouncer{threshold: threshold}
}

// Observe applies one frame's verdict. It returns a candidate and true on the
// frame that completes the run, after which the debouncer is back at zero.
func (d *Debouncer) Observe(v Verdict, s Signals, seq uint64, ts time.Time) (Candidate, bool) {
	if !v.IsFallFrame {
		d.Reset()
		return Candidate{}, false
	}

	if d.count == 0 {
		d.worst = s
	} else {
		d.worst = d.worst.Worst(s)
	}
	d.count++

	if d.count < d.threshold {
		return Candidate{}, false
	}

	c := Candidate{
		Signals:   d.worst,
		Sequence:  seq,
		Timestamp: ts,
		Frames:    d.count,
	}
	d.Reset()
	return c, true
}

// Reset cancels the current run.
func (d *Debouncer) Reset() {
	d.count = 0
	d.worst = Signals{}
}

// Count returns the length of the current positive run.
func (d *Debouncer) Count() int {
	return d.count
}

// Threshold returns the configured run length.
func (d *Debouncer) Threshold() int {
	return d.threshold
}
