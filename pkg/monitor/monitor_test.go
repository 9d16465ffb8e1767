package monitor

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/fallwatch/pkg/camera"
	"github.com/teslashibe/fallwatch/pkg/fall"
	"github.com/teslashibe/fallwatch/pkg/hub"
	"github.com/teslashibe/fallwatch/pkg/ingest"
	"github.com/teslashibe/fallwatch/pkg/notify"
	"github.com/teslashibe/fallwatch/pkg/pose"
	"github.com/teslashibe/fallwatch/pkg/protocol"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func lm(x, y float64) pose.Landmark {
	return pose.Landmark{Point: pose.Point{X: x, Y: y}, Confidence: 0.9}
}

// Upright subject: torso vertical around (320,300), nose at y=100.
func standingKeypoints() map[pose.Name]pose.Landmark {
	return map[pose.Name]pose.Landmark{
		pose.Nose:          lm(320, 100),
		pose.LeftShoulder:  lm(290, 200),
		pose.RightShoulder: lm(350, 200),
		pose.LeftHip:       lm(300, 400),
		pose.RightHip:      lm(340, 400),
	}
}

// Subject on the ground: torso tilted about 55 degrees, nose 120px lower.
func fallenKeypoints() map[pose.Name]pose.Landmark {
	return map[pose.Name]pose.Landmark{
		pose.Nose:          lm(248, 220),
		pose.LeftShoulder:  lm(218, 243),
		pose.RightShoulder: lm(278, 243),
		pose.LeftHip:       lm(392, 357),
		pose.RightHip:      lm(432, 357),
	}
}

// Subject lying still with the torso at 60 degrees, centred on (cx, 300).
func lyingKeypoints(cx float64) map[pose.Name]pose.Landmark {
	return map[pose.Name]pose.Landmark{
		pose.Nose:          lm(cx-130, 230),
		pose.LeftShoulder:  lm(cx-116.6, 250),
		pose.RightShoulder: lm(cx-56.6, 250),
		pose.LeftHip:       lm(cx+56.6, 350),
		pose.RightHip:      lm(cx+116.6, 350),
	}
}

func frameAt(seq uint64, kp map[pose.Name]pose.Landmark) pose.Observation {
	ts := t0.Add(time.Duration(seq) * 100 * time.Millisecond)
	return pose.Detected(pose.NewFrame(seq, ts, 640, 480, kp))
}

type harness struct {
	m      *Monitor
	mock   *notify.Mock
	d      *notify.Dispatcher
	cancel context.CancelFunc
	errc   chan error
}

func start(t *testing.T, cfg Config, opts ...Option) *harness {
	t.Helper()
	mock := notify.NewMock()
	d := notify.NewDispatcher(mock, nil)
	m, err := New(cfg, d, opts...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{m: m, mock: mock, d: d, cancel: cancel, errc: make(chan error, 1)}
	go func() { h.errc <- m.Run(ctx) }()
	require.Eventually(t, m.IsRunning, time.Second, 5*time.Millisecond)

	t.Cleanup(func() {
		cancel()
		<-h.errc
		d.Close()
	})
	return h
}

func (h *harness) feed(t *testing.T, obs pose.Observation) {
	t.Helper()
	h.feedFrom(t, "test", obs)
}

func (h *harness) feedFrom(t *testing.T, source string, obs pose.Observation) {
	t.Helper()
	require.NoError(t, h.m.HandleObservation(source, obs))
	require.Eventually(t, func() bool {
		s := h.m.Snapshot()
		return s.Source == source && s.LastSequence == obs.Sequence()
	}, time.Second, 2*time.Millisecond)
}

func (h *harness) sourceCommand(t *testing.T, source, name string) (string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return h.m.HandleSourceCommand(ctx, source, name)
}

func sourceByID(t *testing.T, s Snapshot, id string) SourceStatus {
	t.Helper()
	for _, st := range s.Sources {
		if st.ID == id {
			return st
		}
	}
	t.Fatalf("source %q not in snapshot", id)
	return SourceStatus{}
}

func (h *harness) command(t *testing.T, name string) (string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return h.m.HandleCommand(ctx, name)
}

func TestMonitor_AlertFlow(t *testing.T) {
	events := hub.New("events")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go events.Run(ctx)
	require.Eventually(t, events.IsRunning, time.Second, 5*time.Millisecond)

	h := start(t, DefaultConfig(), WithEventsHub(events))

	h.feed(t, frameAt(1, standingKeypoints()))
	_, err := h.command(t, protocol.CommandCalibrate)
	require.NoError(t, err)
	assert.True(t, h.m.Snapshot().Calibrated)

	for seq := uint64(2); seq <= 6; seq++ {
		h.feed(t, frameAt(seq, fallenKeypoints()))
	}

	h.d.Wait()
	require.Equal(t, 1, h.mock.CallCount())
	a := h.mock.Alerts()[0]
	assert.Equal(t, "severe", a.Severity)
	require.NotNil(t, a.Angle)
	assert.InDelta(t, 55, *a.Angle, 1)
	assert.Equal(t, uint64(6), a.Sequence)
	assert.Contains(t, a.Reasons, "torso_angle")
	assert.Equal(t, "test", a.Source)
	assert.Empty(t, a.Screenshot)

	recs := h.m.Events(0)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Dispatched)
	assert.Equal(t, a.ID, recs[0].ID)

	snap := h.m.Snapshot()
	assert.Equal(t, uint64(1), snap.Events)
	assert.Equal(t, uint64(6), snap.Frames)
	assert.NotNil(t, snap.LastAlert)
	assert.Equal(t, uint64(1), events.Stats().Broadcasts)
}

func TestMonitor_CooldownAndReset(t *testing.T) {
	h := start(t, DefaultConfig())

	h.feed(t, frameAt(1, standingKeypoints()))
	_, err := h.command(t, protocol.CommandCalibrate)
	require.NoError(t, err)

	for seq := uint64(2); seq <= 11; seq++ {
		h.feed(t, frameAt(seq, fallenKeypoints()))
	}
	h.d.Wait()
	assert.Equal(t, 1, h.mock.CallCount(), "second run inside cooldown is suppressed")

	_, err = h.command(t, protocol.CommandResetCooldown)
	require.NoError(t, err)
	for seq := uint64(12); seq <= 16; seq++ {
		h.feed(t, frameAt(seq, fallenKeypoints()))
	}
	h.d.Wait()
	assert.Equal(t, 2, h.mock.CallCount())
	assert.Len(t, h.m.Events(1), 1)
	assert.Len(t, h.m.Events(0), 2)
}

func TestMonitor_DroppedWhileBusy(t *testing.T) {
	h := start(t, DefaultConfig())

	release := make(chan struct{})
	h.mock.SendFunc = func(ctx context.Context, a notify.Alert) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}
	defer close(release)

	h.feed(t, frameAt(1, standingKeypoints()))
	_, err := h.command(t, protocol.CommandCalibrate)
	require.NoError(t, err)

	for seq := uint64(2); seq <= 6; seq++ {
		h.feed(t, frameAt(seq, fallenKeypoints()))
	}
	require.Eventually(t, h.d.Busy, time.Second, 2*time.Millisecond)

	_, err = h.command(t, protocol.CommandResetCooldown)
	require.NoError(t, err)
	for seq := uint64(7); seq <= 11; seq++ {
		h.feed(t, frameAt(seq, fallenKeypoints()))
	}

	recs := h.m.Events(0)
	require.Len(t, recs, 2)
	assert.False(t, recs[0].Dispatched, "newest event was dropped")
	assert.True(t, recs[1].Dispatched)
	assert.Equal(t, uint64(1), h.d.Stats().Dropped)
}

func TestMonitor_Commands(t *testing.T) {
	h := start(t, DefaultConfig())

	_, err := h.command(t, protocol.CommandCalibrate)
	assert.ErrorIs(t, err, fall.ErrCalibrationUnavailable)

	_, err = h.command(t, "explode")
	assert.ErrorIs(t, err, ErrUnknownCommand)

	_, err = h.command(t, protocol.CommandScreenshot)
	assert.ErrorIs(t, err, ErrScreenshotsDisabled)

	h.feed(t, frameAt(1, standingKeypoints()))
	_, err = h.command(t, protocol.CommandCalibrate)
	require.NoError(t, err)
	_, err = h.command(t, protocol.CommandClearCalibration)
	require.NoError(t, err)
	assert.False(t, h.m.Snapshot().Calibrated)

	_, err = h.command(t, protocol.CommandReset)
	assert.NoError(t, err)
}

func TestMonitor_NotRunning(t *testing.T) {
	m, err := New(DefaultConfig(), nil)
	require.NoError(t, err)
	_, err = m.HandleCommand(context.Background(), protocol.CommandReset)
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestMonitor_QueueFull(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QueueSize = 1
	m, err := New(cfg, nil)
	require.NoError(t, err)

	require.NoError(t, m.HandleObservation("a", frameAt(1, standingKeypoints())))
	assert.ErrorIs(t, m.HandleObservation("a", frameAt(2, standingKeypoints())), ingest.ErrBusy)
}

func TestMonitor_InvalidDetectionConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Detection.Thresholds.MinCriteria = 1
	_, err := New(cfg, nil)
	assert.ErrorIs(t, err, fall.ErrInvalidConfig)
}

// fakeCamera serves a scripted sequence of frames, then reports closed.
type fakeCamera struct {
	mu     sync.Mutex
	frames []camera.Frame
}

func (c *fakeCamera) Read() (camera.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.frames) == 0 {
		return camera.Frame{}, camera.ErrClosed
	}
	f := c.frames[0]
	c.frames = c.frames[1:]
	return f, nil
}

// fakeEstimator maps the frame payload to a pose.
type fakeEstimator struct{}

func (fakeEstimator) Estimate(jpeg []byte) ([]pose.Person, error) {
	switch string(jpeg) {
	case "standing":
		return []pose.Person{{W: 0.3, H: 0.8, Confidence: 0.9, Keypoints: standingKeypoints()}}, nil
	case "fallen":
		return []pose.Person{{W: 0.6, H: 0.3, Confidence: 0.9, Keypoints: fallenKeypoints()}}, nil
	case "empty":
		return nil, nil
	}
	return nil, errors.New("decode failed")
}

func (fakeEstimator) Close() error { return nil }

func TestMonitor_RunCameraWithScreenshot(t *testing.T) {
	shots, err := camera.NewScreenshotter(t.TempDir())
	require.NoError(t, err)
	h := start(t, DefaultConfig(), WithScreenshotter(shots))

	// calibrate against one standing frame first
	cam := &fakeCamera{frames: []camera.Frame{{Sequence: 1, Time: t0, JPEG: []byte("standing"), Width: 640, Height: 480}}}
	require.NoError(t, h.m.RunCamera(context.Background(), cam, fakeEstimator{}))
	require.Eventually(t, func() bool { return h.m.Snapshot().LastSequence == 1 }, time.Second, 2*time.Millisecond)
	_, err = h.command(t, protocol.CommandCalibrate)
	require.NoError(t, err)

	payloads := []string{"garbage", "empty", "fallen", "fallen", "fallen", "fallen", "fallen"}
	cam = &fakeCamera{}
	for i, p := range payloads {
		seq := uint64(i + 2)
		cam.frames = append(cam.frames, camera.Frame{
			Sequence: seq,
			Time:     t0.Add(time.Duration(seq) * 100 * time.Millisecond),
			JPEG:     []byte(p),
			Width:    640,
			Height:   480,
		})
	}
	require.NoError(t, h.m.RunCamera(context.Background(), cam, fakeEstimator{}))

	require.Eventually(t, func() bool { return h.mock.CallCount() == 1 }, time.Second, 5*time.Millisecond)
	a := h.mock.Alerts()[0]
	require.NotEmpty(t, a.Screenshot)
	data, err := os.ReadFile(a.Screenshot)
	require.NoError(t, err)
	assert.Equal(t, "fallen", string(data))

	path, err := h.command(t, protocol.CommandScreenshot)
	require.NoError(t, err)
	assert.FileExists(t, path)
}

func TestEventLog_Ring(t *testing.T) {
	l := newEventLog(3)
	for i := 0; i < 5; i++ {
		l.add(EventRecord{Alert: notify.Alert{Sequence: uint64(i)}})
	}
	got := l.recent(0)
	require.Len(t, got, 3)
	assert.Equal(t, uint64(4), got[0].Sequence)
	assert.Equal(t, uint64(2), got[2].Sequence)
	assert.Equal(t, uint64(5), l.count())
	assert.Len(t, l.recent(2), 2)
}

func TestFPSCounter(t *testing.T) {
	var f fpsCounter
	for i := 0; i <= 30; i++ {
		f.tick(t0.Add(time.Duration(i) * time.Second / 30))
	}
	assert.InDelta(t, 30, f.value(), 1)
}

type memStore struct {
	mu      sync.Mutex
	saved   []EventRecord
	past    []EventRecord
	loadErr error
}

func (s *memStore) SaveEvent(_ context.Context, rec EventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, rec)
	return nil
}

func (s *memStore) RecentEvents(_ context.Context, limit int) ([]EventRecord, error) {
	return s.past, s.loadErr
}

func (s *memStore) savedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for _, r := range s.saved {
		ids = append(ids, r.ID)
	}
	return ids
}

func TestMonitor_EventStore(t *testing.T) {
	st := &memStore{past: []EventRecord{
		{Alert: notify.Alert{ID: "yesterday-2"}},
		{Alert: notify.Alert{ID: "yesterday-1"}},
	}}
	h := start(t, DefaultConfig(), WithEventStore(st))

	h.feed(t, frameAt(1, standingKeypoints()))
	_, err := h.command(t, protocol.CommandCalibrate)
	require.NoError(t, err)
	for seq := uint64(2); seq <= 6; seq++ {
		h.feed(t, frameAt(seq, fallenKeypoints()))
	}
	h.d.Wait()

	recs := h.m.Events(0)
	require.Len(t, recs, 3)
	assert.Equal(t, "yesterday-2", recs[1].ID)
	assert.Equal(t, "yesterday-1", recs[2].ID)
	require.Eventually(t, func() bool { return len(st.savedIDs()) == 1 }, time.Second, 2*time.Millisecond)
	assert.Equal(t, []string{recs[0].ID}, st.savedIDs())
	assert.Equal(t, uint64(1), h.m.Snapshot().Events)
}

// blockingStore holds every save until release is closed.
type blockingStore struct {
	memStore
	release chan struct{}
}

func (s *blockingStore) SaveEvent(ctx context.Context, rec EventRecord) error {
	<-s.release
	return s.memStore.SaveEvent(ctx, rec)
}

func TestMonitor_SlowStoreDoesNotStallLoop(t *testing.T) {
	st := &blockingStore{release: make(chan struct{})}
	h := start(t, DefaultConfig(), WithEventStore(st))

	h.feed(t, frameAt(1, standingKeypoints()))
	_, err := h.command(t, protocol.CommandCalibrate)
	require.NoError(t, err)
	for seq := uint64(2); seq <= 6; seq++ {
		h.feed(t, frameAt(seq, fallenKeypoints()))
	}

	// frames after the event keep flowing while the write is pending
	for seq := uint64(7); seq <= 9; seq++ {
		h.feed(t, frameAt(seq, standingKeypoints()))
	}
	require.Len(t, h.m.Events(0), 1)
	assert.Empty(t, st.savedIDs())

	close(st.release)
	require.Eventually(t, func() bool { return len(st.savedIDs()) == 1 }, time.Second, 2*time.Millisecond)
	assert.Equal(t, h.m.Events(0)[0].ID, st.savedIDs()[0])
}

func TestMonitor_SourcesKeepSeparateState(t *testing.T) {
	h := start(t, DefaultConfig())

	// two stationary subjects on two feeds; each frame alone is a tilted
	// torso with no motion
	for seq := uint64(1); seq <= 12; seq++ {
		h.feedFrom(t, "left", frameAt(seq, lyingKeypoints(150)))
		h.feedFrom(t, "right", frameAt(seq, lyingKeypoints(500)))
	}
	h.d.Wait()
	assert.Equal(t, 0, h.mock.CallCount())
	assert.Empty(t, h.m.Events(0))

	snap := h.m.Snapshot()
	require.Len(t, snap.Sources, 2)
	assert.Equal(t, "left", snap.Sources[0].ID)
	assert.Equal(t, "right", snap.Sources[1].ID)
	for _, st := range snap.Sources {
		assert.Equal(t, uint64(12), st.LastSequence)
		assert.Zero(t, st.Count)
	}
}

func TestMonitor_SingleSourceStillDetects(t *testing.T) {
	h := start(t, DefaultConfig())

	h.feedFrom(t, "left", frameAt(1, standingKeypoints()))
	h.feedFrom(t, "right", frameAt(1, lyingKeypoints(500)))
	_, err := h.sourceCommand(t, "left", protocol.CommandCalibrate)
	require.NoError(t, err)

	for seq := uint64(2); seq <= 6; seq++ {
		h.feedFrom(t, "left", frameAt(seq, fallenKeypoints()))
		h.feedFrom(t, "right", frameAt(seq, lyingKeypoints(500)))
	}
	h.d.Wait()
	require.Equal(t, 1, h.mock.CallCount())
	assert.Equal(t, "left", h.mock.Alerts()[0].Source)

	snap := h.m.Snapshot()
	assert.NotNil(t, sourceByID(t, snap, "left").LastAlert)
	assert.Nil(t, sourceByID(t, snap, "right").LastAlert)
}

func TestMonitor_SourceCommands(t *testing.T) {
	h := start(t, DefaultConfig())

	_, err := h.sourceCommand(t, "nowhere", protocol.CommandReset)
	assert.ErrorIs(t, err, ErrUnknownSource)

	h.feedFrom(t, "left", frameAt(1, standingKeypoints()))
	h.feedFrom(t, "right", pose.NoDetection(1, t0))

	_, err = h.sourceCommand(t, "right", protocol.CommandCalibrate)
	assert.ErrorIs(t, err, fall.ErrCalibrationUnavailable)

	// fan-out succeeds when any source can calibrate
	_, err = h.command(t, protocol.CommandCalibrate)
	require.NoError(t, err)
	snap := h.m.Snapshot()
	assert.True(t, sourceByID(t, snap, "left").Calibrated)
	assert.False(t, sourceByID(t, snap, "right").Calibrated)

	_, err = h.sourceCommand(t, "left", protocol.CommandClearCalibration)
	require.NoError(t, err)
	assert.False(t, sourceByID(t, h.m.Snapshot(), "left").Calibrated)
}

func TestMonitor_EvictIdleSources(t *testing.T) {
	m, err := New(DefaultConfig(), nil)
	require.NoError(t, err)
	now := time.Now()

	m.process(input{source: "stale", obs: frameAt(1, standingKeypoints())})
	m.process(input{source: "calibrated", obs: frameAt(1, standingKeypoints())})
	require.NoError(t, m.sources["calibrated"].coord.Calibrate())
	m.process(input{source: "fresh", obs: frameAt(1, standingKeypoints())})

	m.sources["stale"].lastSeen = now.Add(-10 * time.Minute)
	m.sources["calibrated"].lastSeen = now.Add(-10 * time.Minute)

	m.evictIdle(now)
	assert.NotContains(t, m.sources, "stale")
	assert.Contains(t, m.sources, "calibrated")
	assert.Contains(t, m.sources, "fresh")
}

func TestMonitor_EventStoreLoadError(t *testing.T) {
	st := &memStore{loadErr: errors.New("disk gone")}
	_, err := New(DefaultConfig(), nil, WithEventStore(st))
	assert.ErrorContains(t, err, "disk gone")
}
