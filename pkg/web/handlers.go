package web

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/fallwatch/pkg/camera"
	"github.com/teslashibe/fallwatch/pkg/fall"
	"github.com/teslashibe/fallwatch/pkg/hub"
	"github.com/teslashibe/fallwatch/pkg/monitor"
	"github.com/teslashibe/fallwatch/pkg/protocol"
)

const (
	commandTimeout = 5 * time.Second

	defaultEventLimit = 20
)

// CommandInfo describes an operator command
type CommandInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Operator commands exposed on the dashboard
var availableCommands = []CommandInfo{
	{Name: protocol.CommandCalibrate, Description: "Use the current pose as the standing baseline"},
	{Name: protocol.CommandClearCalibration, Description: "Forget the baseline and compare frame to frame"},
	{Name: protocol.CommandReset, Description: "Clear the fall counter and the alert cooldown"},
	{Name: protocol.CommandResetCooldown, Description: "Allow the next fall to alert immediately"},
	{Name: protocol.CommandScreenshot, Description: "Save the current camera frame"},
}

// handleHealth reports liveness
func (s *Server) handleHealth(c *fiber.Ctx) error {
	snap := s.cfg.Detector.Snapshot()
	status := "ok"
	if !snap.Running {
		status = "stopped"
	}
	return c.JSON(fiber.Map{
		"status":  status,
		"running": snap.Running,
		"time":    time.Now(),
	})
}

// handleStatus returns the detector state
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.cfg.Detector.Snapshot())
}

// handleEvents returns recent fall events, newest first
func (s *Server) handleEvents(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", defaultEventLimit)
	events := s.cfg.Detector.Events(limit)
	return c.JSON(fiber.Map{
		"events": events,
		"count":  len(events),
	})
}

// handleListCommands returns available commands
func (s *Server) handleListCommands(c *fiber.Ctx) error {
	return c.JSON(availableCommands)
}

// handleCommand runs an operator command on the detection loop. The
// optional source query addresses one frame feed; without it the command
// applies to every feed.
func (s *Server) handleCommand(c *fiber.Ctx) error {
	name := c.Params("name")
	if !protocol.IsCommand(name) {
		return fiber.NewError(fiber.StatusNotFound, "unknown command: "+name)
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), commandTimeout)
	defer cancel()

	var (
		path string
		err  error
	)
	source := c.Query("source")
	if source != "" {
		path, err = s.cfg.Detector.HandleSourceCommand(ctx, source, name)
	} else {
		path, err = s.cfg.Detector.HandleCommand(ctx, name)
	}
	ack := protocol.AckData{Command: name, OK: err == nil, Path: path}
	if err != nil {
		ack.Error = err.Error()
		s.logger.Warn("command failed", "command", name, "source", source, "error", err)
		return c.Status(commandStatus(err)).JSON(ack)
	}
	return c.JSON(ack)
}

// commandStatus maps a command error to an HTTP status.
func commandStatus(err error) int {
	switch {
	case errors.Is(err, monitor.ErrUnknownCommand),
		errors.Is(err, monitor.ErrUnknownSource):
		return fiber.StatusNotFound
	case errors.Is(err, fall.ErrCalibrationUnavailable),
		errors.Is(err, monitor.ErrScreenshotsDisabled),
		errors.Is(err, camera.ErrNoImage):
		return fiber.StatusConflict
	case errors.Is(err, monitor.ErrNotRunning),
		errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

// handleGetCamera returns the capture settings and presets
func (s *Server) handleGetCamera(c *fiber.Ctx) error {
	if s.cfg.Camera == nil {
		return fiber.NewError(fiber.StatusNotFound, "camera disabled")
	}
	return c.JSON(fiber.Map{
		"config":  s.cfg.Camera.GetConfigJSON(),
		"presets": camera.PresetNames(),
	})
}

// handleUpdateCamera applies a partial capture settings update
func (s *Server) handleUpdateCamera(c *fiber.Ctx) error {
	if s.cfg.Camera == nil {
		return fiber.NewError(fiber.StatusNotFound, "camera disabled")
	}

	var params map[string]any
	if err := c.BodyParser(&params); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body: "+err.Error())
	}
	if err := s.cfg.Camera.UpdateConfig(params); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	s.logger.Info("camera settings updated", "params", params)
	return c.JSON(fiber.Map{"config": s.cfg.Camera.GetConfigJSON()})
}

// feed returns a WebSocket handler that subscribes the connection to h.
func (s *Server) feed(h *hub.Hub) fiber.Handler {
	if h == nil {
		return func(c *fiber.Ctx) error {
			return fiber.ErrNotFound
		}
	}
	return websocket.New(func(c *websocket.Conn) {
		client, err := hub.NewClient(h, c)
		if err != nil {
			c.Close()
			return
		}
		client.Run()
	})
}

// handleMetrics exposes counters in Prometheus text format
func (s *Server) handleMetrics(c *fiber.Ctx) error {
	snap := s.cfg.Detector.Snapshot()

	var b strings.Builder
	metric := func(name, kind, help string, value any) {
		fmt.Fprintf(&b, "# HELP fallwatch_%s %s\n# TYPE fallwatch_%s %s\nfallwatch_%s %v\n\n", name, help, name, kind, name, value)
	}

	metric("frames_total", "counter", "Frames processed by the detector", snap.Frames)
	metric("events_total", "counter", "Accepted fall events", snap.Events)
	metric("fps", "gauge", "Detector frame rate", fmt.Sprintf("%.2f", snap.FPS))
	metric("sources", "gauge", "Frame feeds with detection state", len(snap.Sources))
	metric("fall_frame_count", "gauge", "Consecutive fall frames in the current run", snap.Count)
	metric("cooldown_remaining_seconds", "gauge", "Seconds until the next alert is allowed", snap.CooldownRemainingSeconds)
	metric("alerts_sent_total", "counter", "Alerts delivered", snap.Notify.Sent)
	metric("alerts_failed_total", "counter", "Alert deliveries that failed", snap.Notify.Failed)
	metric("alerts_dropped_total", "counter", "Alerts dropped while a delivery was in flight", snap.Notify.Dropped)

	if s.cfg.Ingest != nil {
		st := s.cfg.Ingest.GetStats()
		metric("ingest_sources", "gauge", "Connected landmark sources", st.Sources)
		metric("ingest_frames_accepted_total", "counter", "Landmark frames queued for detection", st.FramesAccepted)
		metric("ingest_frames_dropped_total", "counter", "Landmark frames dropped because the detector was busy", st.FramesDropped)
		metric("ingest_invalid_messages_total", "counter", "Rejected ingest messages", st.InvalidMessages)
	}

	c.Set(fiber.HeaderContentType, "text/plain; version=0.0.4")
	return c.SendString(b.String())
}
