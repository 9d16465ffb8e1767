package fall

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/teslashibe/fallwatch/pkg/pose"
)

// Alerter receives accepted events. Implementations must not block: the
// coordinator calls Alert from inside the frame loop.
type Alerter interface {
	Alert(ev Event)
}

// AlerterFunc adapts a function to Alerter.
type AlerterFunc func(Event)

func (f AlerterFunc) Alert(ev Event) { f(ev) }

// Outcome describes what one frame did to the detection state.
type Outcome struct {
	Sequence   uint64    `json:"sequence"`
	Timestamp  time.Time `json:"timestamp"`
	Detected   bool      `json:"detected"`
	Signals    Signals   `json:"signals"`
	Verdict    Verdict   `json:"verdict"`
	Count      int       `json:"count"`
	Event      *Event    `json:"event,omitempty"`
	Suppressed bool      `json:"suppressed"`
	Recovered  bool      `json:"recovered"`
}

// Status is a snapshot of the coordinator state.
type Status struct {
	Count        int        `json:"count"`
	Threshold    int        `json:"threshold"`
	Calibrated   bool       `json:"calibrated"`
	CalibratedAt *time.Time `json:"calibrated_at,omitempty"`
	LastAlert    *time.Time `json:"last_alert,omitempty"`
	LastSequence uint64     `json:"last_sequence"`
	Detected     bool       `json:"detected"`

	CooldownRemaining        time.Duration `json:"-"`
	CooldownRemainingSeconds float64       `json:"cooldown_remaining_seconds"`
}

// Coordinator owns all detection state and runs the per-frame pipeline:
// geometry, criteria, debounce, cooldown, severity and hand-off. It is not
// safe for concurrent use; one loop drives both frames and commands.
type Coordinator struct {
	cfg     Config
	alerter Alerter
	logger  *slog.Logger

	debounce    *Debouncer
	cooldown    *CooldownGate
	calibration *CalibrationStore

	prev    *Reference
	current *pose.LandmarkFrame
	lastSeq uint64
	lastTS  time.Time
}

// NewCoordinator validates cfg and returns a coordinator with fresh state.
func NewCoordinator(cfg Config, alerter Alerter, logger *slog.Logger) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if alerter == nil {
		alerter = AlerterFunc(func(Event) {})
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		cfg:         cfg,
		alerter:     alerter,
		logger:      logger.With("component", "fall"),
		debounce:    NewDebouncer(cfg.ConsecutiveFrames),
		cooldown:    NewCooldownGate(cfg.Cooldown),
		calibration: NewCalibrationStore(),
	}, nil
}

// Process runs one observation through the pipeline. A failure inside the
// pass is logged and counted as a negative frame. The alerter runs after
// the pass, so an accepted event is reported in the outcome even when the
// alerter fails.
func (c *Coordinator) Process(obs pose.Observation) Outcome {
	out := c.step(obs)
	if out.Event != nil {
		c.alert(*out.Event)
	}
	return out
}

func (c *Coordinator) alert(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("alerter failed", "id", ev.ID, "panic", fmt.Sprint(r))
		}
	}()
	c.alerter.Alert(ev)
}

func (c *Coordinator) step(obs pose.Observation) (out Outcome) {
	out = Outcome{
		Sequence:  obs.Sequence(),
		Timestamp: obs.Timestamp(),
		Detected:  obs.IsDetected(),
	}
	c.lastSeq = obs.Sequence()
	c.lastTS = obs.Timestamp()

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("frame processing failed", "sequence", out.Sequence, "panic", fmt.Sprint(r))
			c.debounce.Reset()
			out = Outcome{
				Sequence:  obs.Sequence(),
				Timestamp: obs.Timestamp(),
				Detected:  obs.IsDetected(),
				Recovered: true,
			}
		}
	}()

	frame, ok := obs.Frame()
	if ok {
		c.current = &frame
		ref := c.reference()
		out.Signals = Analyze(frame, ref, c.cfg.MinConfidence)
		c.advance(frame)
	} else {
		c.current = nil
	}

	out.Verdict = Evaluate(out.Signals, c.cfg.Thresholds)
	candidate, confirmed := c.debounce.Observe(out.Verdict, out.Signals, obs.Sequence(), obs.Timestamp())
	out.Count = c.debounce.Count()
	if !confirmed {
		if out.Verdict.IsFallFrame {
			c.logger.Debug("fall frame", "sequence", out.Sequence, "count", out.Count, "reasons", out.Verdict.Reasons())
		}
		return out
	}

	if !c.cooldown.Admit(candidate.Timestamp) {
		out.Suppressed = true
		c.logger.Info("fall candidate suppressed by cooldown",
			"sequence", candidate.Sequence,
			"remaining", c.cooldown.Remaining(candidate.Timestamp))
		return out
	}

	ev := newEvent(candidate, out.Verdict, c.cfg.SevereAngle)
	c.cooldown.Record(ev.Timestamp)
	out.Event = &ev

	c.logger.Info("fall detected",
		"id", ev.ID,
		"severity", ev.Severity,
		"angle", ev.Angle.Value,
		"sequence", ev.Sequence,
		"reasons", ev.Verdict.Reasons())
	return out
}

// reference picks the baseline when calibrated, otherwise the previous frame.
func (c *Coordinator) reference() *Reference {
	if base, ok := c.calibration.Baseline(); ok {
		return base
	}
	return c.prev
}

func (c *Coordinator) advance(f pose.LandmarkFrame) {
	next := ReferenceFrom(f, c.cfg.MinConfidence)
	if c.prev == nil {
		c.prev = &next
		return
	}
	merged := c.prev.merge(next)
	c.prev = &merged
}

// Calibrate captures the most recent frame as the neutral baseline. It fails
// with ErrCalibrationUnavailable when the last observation had no detection.
func (c *Coordinator) Calibrate() error {
	if c.current == nil {
		return ErrCalibrationUnavailable
	}
	if err := c.calibration.Calibrate(*c.current, c.cfg.MinConfidence); err != nil {
		return err
	}
	c.logger.Info("calibrated", "sequence", c.current.Sequence)
	return nil
}

// ClearCalibration drops the baseline and the previous-frame reference.
func (c *Coordinator) ClearCalibration() {
	c.calibration.Clear()
	c.prev = nil
	c.logger.Info("calibration cleared")
}

// ResetCooldown reopens the cooldown gate.
func (c *Coordinator) ResetCooldown() {
	c.cooldown.Reset()
	c.logger.Info("cooldown reset")
}

// Reset reopens the cooldown gate and cancels any debounce run.
func (c *Coordinator) Reset() {
	c.cooldown.Reset()
	c.debounce.Reset()
	c.logger.Info("detection state reset")
}

// Status returns a snapshot. Cooldown remaining is measured against the
// timestamp of the last processed frame.
func (c *Coordinator) Status() Status {
	st := Status{
		Count:             c.debounce.Count(),
		Threshold:         c.debounce.Threshold(),
		CooldownRemaining: c.cooldown.Remaining(c.lastTS),
		LastSequence:      c.lastSeq,
		Detected:          c.current != nil,
	}
	st.CooldownRemainingSeconds = st.CooldownRemaining.Seconds()
	if at, ok := c.calibration.CalibratedAt(); ok {
		st.Calibrated = true
		st.CalibratedAt = &at
	}
	if last, ok := c.cooldown.Last(); ok {
		st.LastAlert = &last
	}
	return st
}

// Config returns the active configuration.
func (c *Coordinator) Config() Config {
	return c.cfg
}
