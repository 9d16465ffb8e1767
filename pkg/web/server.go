// Package web serves the caregiver dashboard: a JSON API over the detector
// and live WebSocket feeds for status, events and camera preview.
package web

import (
	"context"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/fallwatch/pkg/camera"
	"github.com/teslashibe/fallwatch/pkg/hub"
	"github.com/teslashibe/fallwatch/pkg/ingest"
	"github.com/teslashibe/fallwatch/pkg/monitor"
)

// Detector is the part of the monitor the dashboard needs.
type Detector interface {
	Snapshot() monitor.Snapshot
	Events(limit int) []monitor.EventRecord
	HandleCommand(ctx context.Context, name string) (string, error)
	HandleSourceCommand(ctx context.Context, source, name string) (string, error)
}

// Config wires the server to the rest of the process. Only Addr and
// Detector are required.
type Config struct {
	Addr     string
	Detector Detector

	Camera *camera.Manager
	Ingest *ingest.Endpoint

	StatusHub  *hub.Hub
	EventsHub  *hub.Hub
	PreviewHub *hub.Hub

	// StaticDir serves dashboard assets at / when set.
	StaticDir string

	Logger *slog.Logger
}

// Server is the web dashboard server
type Server struct {
	app    *fiber.App
	cfg    Config
	logger *slog.Logger
}

// NewServer creates a new web dashboard server
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		logger: logger.With("component", "web"),
	}

	app := fiber.New(fiber.Config{
		AppName:               "fallwatch",
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})

	app.Use(recover.New())
	app.Use(cors.New())

	if cfg.StaticDir != "" {
		app.Static("/", cfg.StaticDir)
	}

	app.Get("/metrics", s.handleMetrics)

	// API routes
	api := app.Group("/api")
	api.Get("/health", s.handleHealth)
	api.Get("/status", s.handleStatus)
	api.Get("/events", s.handleEvents)
	api.Get("/commands", s.handleListCommands)
	api.Post("/commands/:name", s.handleCommand)
	api.Get("/camera", s.handleGetCamera)
	api.Put("/camera", s.handleUpdateCamera)
	if cfg.Ingest != nil {
		cfg.Ingest.RegisterAPIRoutes(api)
	}

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/status", s.feed(cfg.StatusHub))
	app.Get("/ws/events", s.feed(cfg.EventsHub))
	app.Get("/ws/preview", s.feed(cfg.PreviewHub))
	if cfg.Ingest != nil {
		cfg.Ingest.RegisterRoutes(app)
	}

	s.app = app
	return s
}

// App exposes the fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start listens on the configured address and blocks.
func (s *Server) Start() error {
	s.logger.Info("dashboard listening", "addr", s.cfg.Addr)
	return s.app.Listen(s.cfg.Addr)
}

// StartAsync starts the web server in a goroutine
func (s *Server) StartAsync() {
	go func() {
		if err := s.Start(); err != nil {
			s.logger.Error("web server stopped", "error", err)
		}
	}()
}

// Shutdown gracefully stops the web server
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}
	if code >= fiber.StatusInternalServerError {
		s.logger.Error("request failed", "method", c.Method(), "path", c.Path(), "error", err)
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
