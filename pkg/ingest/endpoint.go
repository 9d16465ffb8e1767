// Package ingest accepts landmark frames from external pose estimators over
// WebSocket and hands them to the detection loop.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/teslashibe/fallwatch/pkg/pose"
	"github.com/teslashibe/fallwatch/pkg/protocol"
)

const (
	// CommandTimeout bounds how long a socket command waits for the loop.
	CommandTimeout = 5 * time.Second

	// MaxClockSkew is how far ahead of the server clock a capture time may
	// run before it is replaced with the receive time.
	MaxClockSkew = 2 * time.Second
)

// ErrBusy is returned by a Handler that cannot accept a frame right now.
var ErrBusy = errors.New("ingest: detector busy")

// Handler is the detection side of the endpoint.
type Handler interface {
	// HandleObservation queues one frame without blocking.
	HandleObservation(source string, obs pose.Observation) error
	// HandleSourceCommand applies an operator command to one source's
	// detection state and returns an optional artifact path (screenshots).
	HandleSourceCommand(ctx context.Context, source, name string) (string, error)
}

// Source is a connected estimator.
type Source struct {
	ID        string
	Conn      *websocket.Conn
	Connected time.Time

	mu       sync.Mutex
	lastSeen time.Time
	lastSeq  uint64
	lastTS   time.Time
	frames   uint64
}

// Send writes a message to the estimator.
func (s *Source) Send(msg *protocol.Message) error {
	data, err := msg.Bytes()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Conn.WriteMessage(websocket.TextMessage, data)
}

// nextSequence validates seq against the last accepted frame. A zero
// sequence is assigned the next number.
func (s *Source) nextSequence(seq uint64) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeen = time.Now()
	if seq == 0 {
		seq = s.lastSeq + 1
	}
	if seq <= s.lastSeq {
		return 0, false
	}
	s.lastSeq = seq
	s.frames++
	return seq, true
}

// captureTime keeps the source's capture times plausible: a time further
// than MaxClockSkew ahead of now, or earlier than the previous frame, is
// replaced with now (or the previous frame's time if that is later).
// The second result reports whether ts was replaced.
func (s *Source) captureTime(ts, now time.Time) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	adjusted := false
	if ts.After(now.Add(MaxClockSkew)) || ts.Before(s.lastTS) {
		ts = now
		if ts.Before(s.lastTS) {
			ts = s.lastTS
		}
		adjusted = true
	}
	s.lastTS = ts
	return ts, adjusted
}

// Endpoint manages estimator connections.
type Endpoint struct {
	handler Handler
	logger  *slog.Logger

	mu      sync.RWMutex
	sources map[string]*Source

	messagesReceived atomic.Uint64
	framesAccepted   atomic.Uint64
	framesDropped    atomic.Uint64
	framesStale      atomic.Uint64
	framesRetimed    atomic.Uint64
	invalidMessages  atomic.Uint64
	commands         atomic.Uint64
}

// NewEndpoint creates an endpoint that forwards to h.
func NewEndpoint(h Handler, logger *slog.Logger) *Endpoint {
	if logger == nil {
		logger = slog.Default()
	}
	return &Endpoint{
		handler: h,
		logger:  logger.With("component", "ingest"),
		sources: make(map[string]*Source),
	}
}

// RegisterRoutes registers the estimator WebSocket routes.
func (e *Endpoint) RegisterRoutes(app fiber.Router) {
	upgrade := func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
	app.Get("/ws/landmarks", upgrade, websocket.New(e.handleSource))
	app.Get("/ws/landmarks/:id", upgrade, websocket.New(e.handleSource))
}

func (e *Endpoint) handleSource(c *websocket.Conn) {
	id := c.Params("id")
	if id == "" {
		id = uuid.NewString()
	}

	src := &Source{ID: id, Conn: c, Connected: time.Now(), lastSeen: time.Now()}

	e.mu.Lock()
	if old, ok := e.sources[id]; ok {
		old.Conn.Close()
	}
	e.sources[id] = src
	count := len(e.sources)
	e.mu.Unlock()
	e.logger.Info("estimator connected", "source", id, "sources", count)

	defer func() {
		e.mu.Lock()
		if e.sources[id] == src {
			delete(e.sources, id)
		}
		count := len(e.sources)
		e.mu.Unlock()
		e.logger.Info("estimator disconnected", "source", id, "sources", count)
	}()

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			e.logger.Debug("read error", "source", id, "error", err)
			return
		}
		e.messagesReceived.Add(1)
		e.handleMessage(src, data)
	}
}

func (e *Endpoint) handleMessage(src *Source, data []byte) {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		e.reject(src, err)
		return
	}

	switch msg.Type {
	case protocol.TypeLandmarks, protocol.TypeNoDetection:
		obs, err := protocol.DecodeObservation(msg)
		if err != nil {
			e.reject(src, err)
			return
		}
		e.submit(src, obs)

	case protocol.TypeCommand:
		var cmd protocol.CommandData
		if err := msg.ParseData(&cmd); err != nil || !protocol.IsCommand(cmd.Name) {
			e.reject(src, fmt.Errorf("ingest: unknown command %q", cmd.Name))
			return
		}
		e.commands.Add(1)
		ctx, cancel := context.WithTimeout(context.Background(), CommandTimeout)
		path, err := e.handler.HandleSourceCommand(ctx, src.ID, cmd.Name)
		cancel()
		if ack, aerr := protocol.NewAckMessage(cmd.Name, path, err); aerr == nil {
			_ = src.Send(ack)
		}

	case protocol.TypePing:
		if pong, err := protocol.NewPongMessage(); err == nil {
			_ = src.Send(pong)
		}

	default:
		e.reject(src, fmt.Errorf("ingest: unexpected message type %q", msg.Type))
	}
}

// submit re-stamps the observation with the validated sequence and capture
// time, then queues it.
func (e *Endpoint) submit(src *Source, obs pose.Observation) {
	seq, ok := src.nextSequence(obs.Sequence())
	if !ok {
		e.framesStale.Add(1)
		e.logger.Debug("stale frame dropped", "source", src.ID, "sequence", obs.Sequence())
		return
	}
	ts, retimed := src.captureTime(obs.Timestamp(), time.Now())
	if retimed {
		if e.framesRetimed.Add(1) == 1 {
			e.logger.Warn("estimator clock out of range, using receive time",
				"source", src.ID, "captured_at", obs.Timestamp())
		}
	}
	if f, detected := obs.Frame(); detected {
		f.Sequence = seq
		f.Timestamp = ts
		obs = pose.Detected(f)
	} else {
		obs = pose.NoDetection(seq, ts)
	}

	if err := e.handler.HandleObservation(src.ID, obs); err != nil {
		e.framesDropped.Add(1)
		e.logger.Debug("frame dropped", "source", src.ID, "error", err)
		return
	}
	e.framesAccepted.Add(1)
}

func (e *Endpoint) reject(src *Source, err error) {
	e.invalidMessages.Add(1)
	e.logger.Debug("invalid message", "source", src.ID, "error", err)
	if msg, merr := protocol.NewErrorMessage(err); merr == nil {
		_ = src.Send(msg)
	}
}

// SourceCount returns the number of connected estimators.
func (e *Endpoint) SourceCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.sources)
}

// Stats contains endpoint statistics
type Stats struct {
	Sources          int    `json:"sources"`
	MessagesReceived uint64 `json:"messages_received"`
	FramesAccepted   uint64 `json:"frames_accepted"`
	FramesDropped    uint64 `json:"frames_dropped"`
	FramesStale      uint64 `json:"frames_stale"`
	FramesRetimed    uint64 `json:"frames_retimed"`
	InvalidMessages  uint64 `json:"invalid_messages"`
	Commands         uint64 `json:"commands"`
}

// GetStats returns endpoint statistics
func (e *Endpoint) GetStats() Stats {
	return Stats{
		Sources:          e.SourceCount(),
		MessagesReceived: e.messagesReceived.Load(),
		FramesAccepted:   e.framesAccepted.Load(),
		FramesDropped:    e.framesDropped.Load(),
		FramesStale:      e.framesStale.Load(),
		FramesRetimed:    e.framesRetimed.Load(),
		InvalidMessages:  e.invalidMessages.Load(),
		Commands:         e.commands.Load(),
	}
}

// SourceInfo describes a connected estimator.
type SourceInfo struct {
	ID        string    `json:"id"`
	Connected time.Time `json:"connected"`
	LastSeen  time.Time `json:"last_seen"`
	LastSeq   uint64    `json:"last_sequence"`
	Frames    uint64    `json:"frames"`
}

// GetSourceInfos returns info about all connected estimators
func (e *Endpoint) GetSourceInfos() []SourceInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()

	infos := make([]SourceInfo, 0, len(e.sources))
	for _, s := range e.sources {
		s.mu.Lock()
		infos = append(infos, SourceInfo{
			ID:        s.ID,
			Connected: s.Connected,
			LastSeen:  s.lastSeen,
			LastSeq:   s.lastSeq,
			Frames:    s.frames,
		})
		s.mu.Unlock()
	}
	return infos
}

// RegisterAPIRoutes registers estimator management routes.
func (e *Endpoint) RegisterAPIRoutes(api fiber.Router) {
	sources := api.Group("/sources")

	sources.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"sources": e.GetSourceInfos(),
			"count":   e.SourceCount(),
		})
	})

	sources.Get("/stats", func(c *fiber.Ctx) error {
		return c.JSON(e.GetStats())
	})
}
