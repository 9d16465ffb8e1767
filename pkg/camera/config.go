// Package camera captures frames from a local video device for fall
// detection and writes screenshots of alert frames.
package camera

// Config holds the capture settings. Resolution and frame rate can be
// changed at runtime through the Manager.
type Config struct {
	Device    int `json:"device" toml:"device"`       // V4L2 / DirectShow index
	Width     int `json:"width" toml:"width"`         // Frame width in pixels
	Height    int `json:"height" toml:"height"`       // Frame height in pixels
	Framerate int `json:"framerate" toml:"framerate"` // Target FPS
	Quality   int `json:"quality" toml:"quality"`     // JPEG quality 1-100

	// Mirror flips frames horizontally before pose estimation.
	Mirror bool `json:"mirror" toml:"mirror"`

	ScreenshotDir     string `json:"screenshot_dir" toml:"screenshot_dir"`
	IncludeScreenshot bool   `json:"include_screenshot" toml:"include_screenshot"` // save a frame with every alert
}

// Capture limits.
const (
	MaxWidth     = 3840
	MaxHeight    = 2160
	MaxFramerate = 60
)

// DefaultConfig returns 640x480 at 30 FPS, which keeps a CPU pose model
// above 10 frames per second.
func DefaultConfig() Config {
	return Config{
		Device:            0,
		Width:             640,
		Height:            480,
		Framerate:         30,
		Quality:           85,
		ScreenshotDir:     "screenshots",
		IncludeScreenshot: true,
	}
}

// Validate checks if the config values are within valid ranges.
// Returns a list of validation errors, or nil if valid.
func (c *Config) Validate() []string {
	var errors []string

	if c.Device < 0 {
		errors = append(errors, "device must be >= 0")
	}
	if c.Width < 160 || c.Width > MaxWidth {
		errors = append(errors, "width must be between 160 and 3840")
	}
	if c.Height < 120 || c.Height > MaxHeight {
		errors = append(errors, "height must be between 120 and 2160")
	}
	if c.Framerate < 1 || c.Framerate > MaxFramerate {
		errors = append(errors, "framerate must be between 1 and 60")
	}
	if c.Quality < 1 || c.Quality > 100 {
		errors = append(errors, "quality must be between 1 and 100")
	}
	if c.IncludeScreenshot && c.ScreenshotDir == "" {
		errors = append(errors, "screenshot_dir is required when include_screenshot is set")
	}

	return errors
}
