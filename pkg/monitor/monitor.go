// Package monitor runs the detection loop: it owns one fall coordinator per
// frame source, serializes frames and operator commands onto one goroutine,
// and fans results out to notifiers and dashboard feeds.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/fallwatch/pkg/camera"
	"github.com/teslashibe/fallwatch/pkg/fall"
	"github.com/teslashibe/fallwatch/pkg/hub"
	"github.com/teslashibe/fallwatch/pkg/ingest"
	"github.com/teslashibe/fallwatch/pkg/notify"
	"github.com/teslashibe/fallwatch/pkg/pose"
	"github.com/teslashibe/fallwatch/pkg/protocol"
)

var (
	// ErrNotRunning is returned for commands sent while the loop is stopped.
	ErrNotRunning = errors.New("monitor: not running")

	// ErrUnknownCommand is returned for command names outside protocol.Commands.
	ErrUnknownCommand = errors.New("monitor: unknown command")

	// ErrScreenshotsDisabled is returned by the screenshot command when no
	// screenshot directory is configured.
	ErrScreenshotsDisabled = errors.New("monitor: screenshots disabled")

	// ErrUnknownSource is returned for commands addressed to a source that
	// has not sent any frames.
	ErrUnknownSource = errors.New("monitor: unknown source")
)

func unknownSource(id string) error {
	return fmt.Errorf("%w: %q", ErrUnknownSource, id)
}

// Snapshot is the dashboard view of the detector. The embedded status is
// that of Source, the feed that delivered the latest frame.
type Snapshot struct {
	fall.Status
	Source    string               `json:"source,omitempty"`
	Sources   []SourceStatus       `json:"sources"`
	Running   bool                 `json:"running"`
	FPS       float64              `json:"fps"`
	Frames    uint64               `json:"frames"`
	Signals   *fall.Signals        `json:"signals,omitempty"`
	Verdict   *fall.Verdict        `json:"verdict,omitempty"`
	Events    uint64               `json:"events"`
	Notify    notify.DispatchStats `json:"notify"`
	UpdatedAt time.Time            `json:"updated_at"`
}

type input struct {
	source string
	obs    pose.Observation
	jpeg   []byte
}

type commandResult struct {
	path string
	err  error
}

type commandRequest struct {
	source string
	name   string
	reply  chan commandResult
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// WithStatusHub publishes status snapshots to h.
func WithStatusHub(h *hub.Hub) Option {
	return func(m *Monitor) { m.statusHub = h }
}

// WithEventsHub publishes accepted events to h.
func WithEventsHub(h *hub.Hub) Option {
	return func(m *Monitor) { m.eventsHub = h }
}

// WithPreviewHub streams camera JPEGs to h.
func WithPreviewHub(h *hub.Hub) Option {
	return func(m *Monitor) { m.previewHub = h }
}

// WithScreenshotter enables alert and on-demand screenshots.
func WithScreenshotter(s *camera.Screenshotter) Option {
	return func(m *Monitor) { m.shots = s }
}

// WithEventStore saves accepted events to st and preloads the event
// history from it.
func WithEventStore(st EventStore) Option {
	return func(m *Monitor) { m.store = st }
}

const (
	// storeTimeout bounds a single event store call.
	storeTimeout = 2 * time.Second

	// storeBacklog is how many events may wait for the store writer.
	storeBacklog = 64
)

// Monitor drives per-source fall coordinators from a single goroutine.
type Monitor struct {
	cfg        Config
	logger     *slog.Logger
	dispatcher *notify.Dispatcher
	shots      *camera.Screenshotter
	store      EventStore

	statusHub  *hub.Hub
	eventsHub  *hub.Hub
	previewHub *hub.Hub

	inputs   chan input
	commands chan commandRequest
	writes   chan EventRecord
	done     chan struct{}
	running  atomic.Bool

	// loop-owned
	sources  map[string]*source
	active   string
	lastJPEG []byte
	fps      fpsCounter
	frames   uint64

	events *eventLog

	mu       sync.RWMutex
	snapshot Snapshot
}

// New creates a monitor. Accepted events are handed to d.
func New(cfg Config, d *notify.Dispatcher, opts ...Option) (*Monitor, error) {
	cfg.normalize()
	if err := cfg.Detection.Validate(); err != nil {
		return nil, err
	}

	m := &Monitor{
		cfg:        cfg,
		logger:     slog.Default(),
		dispatcher: d,
		inputs:     make(chan input, cfg.QueueSize),
		commands:   make(chan commandRequest),
		writes:     make(chan EventRecord, storeBacklog),
		done:       make(chan struct{}),
		sources:    make(map[string]*source),
		events:     newEventLog(cfg.EventHistory),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "monitor")

	if m.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		past, err := m.store.RecentEvents(ctx, cfg.EventHistory)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("load event history: %w", err)
		}
		m.events.load(past)
		m.logger.Debug("event history loaded", "events", len(past))
	}

	m.refresh(nil)
	return m, nil
}

// Run processes observations and commands until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.StatusInterval)
	defer ticker.Stop()

	m.running.Store(true)
	defer func() {
		m.running.Store(false)
		close(m.done)
		m.refresh(nil)
	}()

	if m.store != nil {
		written := make(chan struct{})
		go m.writeEvents(written)
		defer func() {
			close(m.writes)
			<-written
		}()
	}

	cfg := m.cfg.Detection
	m.logger.Info("detector started",
		"consecutive_frames", cfg.ConsecutiveFrames,
		"cooldown", cfg.Cooldown,
		"min_criteria", cfg.Thresholds.MinCriteria,
		"severe_angle", cfg.SevereAngle,
		"source_idle", m.cfg.SourceIdle)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("detector stopped", "frames", m.frames, "events", m.events.count())
			return ctx.Err()

		case in := <-m.inputs:
			m.process(in)

		case req := <-m.commands:
			path, err := m.execute(req.source, req.name)
			req.reply <- commandResult{path: path, err: err}
			m.publishStatus()

		case now := <-ticker.C:
			m.evictIdle(now)
			m.publishStatus()
		}
	}
}

func (m *Monitor) process(in input) {
	src, err := m.source(in.source)
	if err != nil {
		m.logger.Error("source setup failed", "source", in.source, "error", err)
		return
	}

	now := time.Now()
	if len(in.jpeg) > 0 {
		m.lastJPEG = in.jpeg
		src.jpeg = in.jpeg
	}
	src.lastSeen = now
	m.active = src.id
	m.frames++
	m.fps.tick(now)

	out := src.coord.Process(in.obs)
	if out.Event != nil {
		m.accept(src, *out.Event)
	}
	m.refresh(&out)
}

// HandleObservation queues an observation without blocking. It returns
// ingest.ErrBusy when the queue is full.
func (m *Monitor) HandleObservation(source string, obs pose.Observation) error {
	return m.submit(input{source: source, obs: obs})
}

func (m *Monitor) submit(in input) error {
	select {
	case m.inputs <- in:
		return nil
	default:
		return ingest.ErrBusy
	}
}

// HandleCommand runs an operator command against every source and waits
// for it. Calibrate succeeds when at least one source calibrates.
func (m *Monitor) HandleCommand(ctx context.Context, name string) (string, error) {
	return m.command(ctx, "", name)
}

// HandleSourceCommand runs an operator command against one source. It
// returns ErrUnknownSource when that source has sent no frames.
func (m *Monitor) HandleSourceCommand(ctx context.Context, source, name string) (string, error) {
	return m.command(ctx, source, name)
}

func (m *Monitor) command(ctx context.Context, source, name string) (string, error) {
	if !protocol.IsCommand(name) {
		return "", fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
	if !m.running.Load() {
		return "", ErrNotRunning
	}

	req := commandRequest{source: source, name: name, reply: make(chan commandResult, 1)}
	select {
	case m.commands <- req:
	case <-m.done:
		return "", ErrNotRunning
	case <-ctx.Done():
		return "", ctx.Err()
	}

	select {
	case res := <-req.reply:
		return res.path, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (m *Monitor) execute(sourceID, name string) (string, error) {
	m.logger.Info("command", "name", name, "source", sourceID)

	jpeg := m.lastJPEG
	targets, err := m.targets(sourceID)
	if err != nil {
		return "", err
	}
	if sourceID != "" {
		jpeg = targets[0].jpeg
	}

	switch name {
	case protocol.CommandCalibrate:
		if err := m.calibrate(targets); err != nil {
			return "", err
		}
	case protocol.CommandReset:
		for _, s := range targets {
			s.coord.Reset()
		}
	case protocol.CommandResetCooldown:
		for _, s := range targets {
			s.coord.ResetCooldown()
		}
	case protocol.CommandClearCalibration:
		for _, s := range targets {
			s.coord.ClearCalibration()
		}
	case protocol.CommandScreenshot:
		return m.screenshot(jpeg, "manual", time.Now())
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}

	m.refresh(nil)
	return "", nil
}

// calibrate captures a baseline on every target that has a usable frame.
func (m *Monitor) calibrate(targets []*source) error {
	err := fall.ErrCalibrationUnavailable
	var ok int
	for _, s := range targets {
		if cerr := s.coord.Calibrate(); cerr != nil {
			m.logger.Warn("calibration failed", "source", s.id, "error", cerr)
			err = cerr
			continue
		}
		ok++
	}
	if ok == 0 {
		return err
	}
	return nil
}

func (m *Monitor) screenshot(jpeg []byte, prefix string, at time.Time) (string, error) {
	if m.shots == nil {
		return "", ErrScreenshotsDisabled
	}
	path, err := m.shots.Save(jpeg, prefix, at)
	if err != nil {
		return "", err
	}
	m.logger.Info("screenshot saved", "path", path)
	return path, nil
}

// accept hands an event to the dispatcher and the dashboard. It runs on
// the loop goroutine after Coordinator.Process has returned; the store
// write happens on the writer goroutine.
func (m *Monitor) accept(src *source, ev fall.Event) {
	a := notify.Alert{
		ID:         ev.ID.String(),
		Source:     src.id,
		Severity:   string(ev.Severity),
		Angle:      ev.AngleDegrees(),
		Timestamp:  ev.Timestamp,
		Sequence:   ev.Sequence,
		Confidence: ev.Confidence,
		Reasons:    ev.Verdict.Reasons(),
	}

	if m.cfg.IncludeScreenshot && m.shots != nil && len(src.jpeg) > 0 {
		if path, err := m.screenshot(src.jpeg, "fall_"+string(ev.Severity), ev.Timestamp); err != nil {
			m.logger.Warn("alert screenshot failed", "error", err)
		} else {
			a.Screenshot = path
		}
	}

	rec := EventRecord{Alert: a}
	if m.dispatcher != nil {
		rec.Dispatched = m.dispatcher.Dispatch(a)
	}
	m.events.add(rec)
	m.persist(rec)

	if m.eventsHub != nil {
		if err := m.eventsHub.Publish(protocol.TypeEvent, rec); err != nil {
			m.logger.Warn("publish event failed", "error", err)
		}
	}
}

// persist queues rec for the store writer without blocking the loop.
func (m *Monitor) persist(rec EventRecord) {
	if m.store == nil {
		return
	}
	select {
	case m.writes <- rec:
	default:
		m.logger.Warn("event store backlog full, event not saved", "event", rec.ID)
	}
}

// writeEvents saves queued events until the writes channel is closed.
func (m *Monitor) writeEvents(done chan<- struct{}) {
	defer close(done)
	for rec := range m.writes {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		if err := m.store.SaveEvent(ctx, rec); err != nil {
			m.logger.Warn("save event failed", "event", rec.ID, "error", err)
		}
		cancel()
	}
}

// refresh rebuilds the snapshot. Called only from the loop goroutine or
// before Run starts.
func (m *Monitor) refresh(out *fall.Outcome) {
	s := Snapshot{
		Status:    fall.Status{Threshold: m.cfg.Detection.ConsecutiveFrames},
		Sources:   m.sourceStatuses(),
		Running:   m.running.Load(),
		FPS:       m.fps.value(),
		Frames:    m.frames,
		Events:    m.events.count(),
		UpdatedAt: time.Now(),
	}
	if src, ok := m.sources[m.active]; ok {
		s.Status = src.coord.Status()
		s.Source = src.id
	}
	if m.dispatcher != nil {
		s.Notify = m.dispatcher.Stats()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if out != nil {
		if out.Detected {
			sig, v := out.Signals, out.Verdict
			s.Signals, s.Verdict = &sig, &v
		}
	} else {
		s.Signals, s.Verdict = m.snapshot.Signals, m.snapshot.Verdict
	}
	m.snapshot = s
}

func (m *Monitor) publishStatus() {
	if m.statusHub == nil || m.statusHub.ClientCount() == 0 {
		return
	}
	if err := m.statusHub.Publish(protocol.TypeStatus, m.Snapshot()); err != nil {
		m.logger.Warn("publish status failed", "error", err)
	}
}

// Snapshot returns the latest detector state. Safe for concurrent use.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.snapshot
	if m.dispatcher != nil {
		s.Notify = m.dispatcher.Stats()
	}
	return s
}

// Events returns up to limit recent events, newest first.
func (m *Monitor) Events(limit int) []EventRecord {
	return m.events.recent(limit)
}

// IsRunning reports whether the loop is active.
func (m *Monitor) IsRunning() bool {
	return m.running.Load()
}
