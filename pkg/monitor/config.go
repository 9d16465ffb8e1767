package monitor

import (
	"time"

	"github.com/teslashibe/fallwatch/pkg/fall"
)

// Config holds monitor settings.
type Config struct {
	Detection fall.Config

	// QueueSize is the number of observations buffered ahead of the loop.
	QueueSize int

	// EventHistory is how many accepted events are kept for the API.
	EventHistory int

	// StatusInterval is how often status is pushed to dashboard clients.
	StatusInterval time.Duration

	// IncludeScreenshot saves the triggering frame with each alert.
	IncludeScreenshot bool

	// SourceIdle is how long an uncalibrated source may stay silent before
	// its detection state is dropped.
	SourceIdle time.Duration
}

// DefaultConfig returns the default monitor configuration.
func DefaultConfig() Config {
	return Config{
		Detection:         fall.DefaultConfig(),
		QueueSize:         32,
		EventHistory:      100,
		StatusInterval:    time.Second,
		IncludeScreenshot: true,
		SourceIdle:        5 * time.Minute,
	}
}

func (c *Config) normalize() {
	d := DefaultConfig()
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.EventHistory <= 0 {
		c.EventHistory = d.EventHistory
	}
	if c.StatusInterval <= 0 {
		c.StatusInterval = d.StatusInterval
	}
	if c.SourceIdle <= 0 {
		c.SourceIdle = d.SourceIdle
	}
}
