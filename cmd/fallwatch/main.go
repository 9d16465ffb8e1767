// fallwatch: fall detection service for elderly monitoring.
// Watches a camera (or accepts landmark frames over WebSocket), confirms
// falls over consecutive frames and notifies caregivers.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/teslashibe/fallwatch/internal/config"
	"github.com/teslashibe/fallwatch/internal/log"
	"github.com/teslashibe/fallwatch/pkg/camera"
	"github.com/teslashibe/fallwatch/pkg/hub"
	"github.com/teslashibe/fallwatch/pkg/ingest"
	"github.com/teslashibe/fallwatch/pkg/monitor"
	"github.com/teslashibe/fallwatch/pkg/notify"
	"github.com/teslashibe/fallwatch/pkg/pose"
	"github.com/teslashibe/fallwatch/pkg/store"
	"github.com/teslashibe/fallwatch/pkg/web"
)

var (
	version = "0.3.0"

	configPath = flag.String("config", config.DefaultPath, "Path to TOML config file")
	addr       = flag.String("addr", "", "HTTP listen address (overrides config)")
	logLevel   = flag.String("log-level", "", "Log level: debug, info, warn, error")
	model      = flag.String("model", "", "Pose model path for camera mode")
	useCamera  = flag.Bool("camera", true, "Capture from the local camera")
	useIngest  = flag.Bool("ingest", false, "Accept landmark frames on /ws/landmarks")
	staticDir  = flag.String("static", "", "Serve dashboard assets from this directory")
)

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fallwatch: %v\n", err)
		os.Exit(1)
	}

	logger := log.Init(log.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	logger.Info("fallwatch starting", "version", version, "config", cfg.Path)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("fallwatch stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("👋 shut down cleanly")
}

// loadConfig reads the config file and applies explicitly set flags.
func loadConfig() (*config.Config, error) {
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	path, required := *configPath, set["config"]
	if v := os.Getenv("FALLWATCH_CONFIG"); v != "" && !required {
		path, required = v, true
	}

	cfg, err := config.Load(path, required)
	if err != nil {
		return nil, err
	}

	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *model != "" {
		cfg.Server.Model = *model
	}
	if set["camera"] {
		cfg.Server.EnableCamera = *useCamera
	}
	if set["ingest"] {
		cfg.Server.EnableIngest = *useIngest
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	notifier, closers, err := buildNotifier(ctx, cfg.Notify, logger)
	if err != nil {
		return err
	}
	defer closeAll(closers)
	dispatcher := notify.NewDispatcher(notifier, logger)
	defer dispatcher.Close()
	logger.Info("notifications enabled", "notifier", notifier.Name())

	statusHub := hub.New("status", hub.WithReplayLast(), hub.WithLogger(logger))
	eventsHub := hub.New("events", hub.WithLogger(logger))
	previewHub := hub.New("preview", hub.WithLogger(logger))
	for _, h := range []*hub.Hub{statusHub, eventsHub, previewHub} {
		go h.Run(ctx)
	}

	opts := []monitor.Option{
		monitor.WithLogger(logger),
		monitor.WithStatusHub(statusHub),
		monitor.WithEventsHub(eventsHub),
		monitor.WithPreviewHub(previewHub),
	}
	if cfg.Server.EnableCamera && cfg.Camera.ScreenshotDir != "" {
		shots, err := camera.NewScreenshotter(cfg.Camera.ScreenshotDir)
		if err != nil {
			return err
		}
		opts = append(opts, monitor.WithScreenshotter(shots))
	}

	if cfg.Store.Path != "" {
		db, err := store.Open(cfg.Store.Path)
		if err != nil {
			return err
		}
		defer db.Close()
		opts = append(opts, monitor.WithEventStore(db))
		logger.Info("event history enabled", "path", cfg.Store.Path)
	}

	mcfg := monitor.DefaultConfig()
	mcfg.Detection = cfg.Detection
	mcfg.IncludeScreenshot = cfg.Camera.IncludeScreenshot
	mon, err := monitor.New(mcfg, dispatcher, opts...)
	if err != nil {
		return err
	}

	srvCfg := web.Config{
		Addr:       cfg.Server.Addr,
		Detector:   mon,
		StatusHub:  statusHub,
		EventsHub:  eventsHub,
		PreviewHub: previewHub,
		StaticDir:  *staticDir,
		Logger:     logger,
	}

	if cfg.Server.EnableIngest {
		srvCfg.Ingest = ingest.NewEndpoint(mon, logger)
		logger.Info("landmark ingest enabled", "path", "/ws/landmarks")
	}

	errc := make(chan error, 2)
	camDone := make(chan struct{})

	if cfg.Server.EnableCamera {
		src, err := camera.Open(cfg.Camera)
		if err != nil {
			return err
		}
		defer src.Close()

		poseCfg := pose.DefaultYOLOPoseConfig()
		poseCfg.ModelPath = cfg.Server.Model
		est, err := pose.NewYOLOPose(poseCfg)
		if err != nil {
			return err
		}
		defer est.Close()

		manager := camera.NewManager(cfg.Camera)
		manager.OnConfigChange = src.Apply
		srvCfg.Camera = manager

		logger.Info("camera enabled",
			"device", cfg.Camera.Device,
			"width", cfg.Camera.Width,
			"height", cfg.Camera.Height,
			"model", cfg.Server.Model)

		go func() {
			defer close(camDone)
			if err := mon.RunCamera(ctx, src, est); err != nil && !errors.Is(err, context.Canceled) {
				errc <- fmt.Errorf("camera: %w", err)
			}
		}()
	} else {
		close(camDone)
	}

	server := web.NewServer(srvCfg)
	go func() {
		if err := server.Start(); err != nil {
			errc <- fmt.Errorf("web: %w", err)
		}
	}()

	monErr := make(chan error, 1)
	go func() { monErr <- mon.Run(ctx) }()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errc:
	}

	logger.Info("shutting down")
	cancel()
	<-camDone

	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	if err := server.App().ShutdownWithContext(shutdownCtx); err != nil {
		logger.Warn("web shutdown", "error", err)
	}

	if err := <-monErr; err != nil && !errors.Is(err, context.Canceled) && runErr == nil {
		runErr = err
	}
	return runErr
}
