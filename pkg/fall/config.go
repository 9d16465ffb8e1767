package fall

import (
	"errors"
	"fmt"
	"time"
)

// DefaultMinConfidence is the landmark confidence floor.
const DefaultMinConfidence = 0.5

// Config holds the detection parameters. It is read once at startup.
type Config struct {
	Thresholds        Thresholds
	ConsecutiveFrames int           // debounce run length
	Cooldown          time.Duration // minimum gap between alerts
	SevereAngle       float64       // mild/severe boundary, degrees
	MinConfidence     float64       // landmarks below this are ignored
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Thresholds:        DefaultThresholds(),
		ConsecutiveFrames: DefaultConsecutiveFrames,
		Cooldown:          DefaultCooldown,
		SevereAngle:       DefaultSevereAngle,
		MinConfidence:     DefaultMinConfidence,
	}
}

// Validate rejects values that would change the meaning of the fusion rule
// or disable a stage.
func (c Config) Validate() error {
	switch {
	case !(c.Thresholds.TorsoAngle > 0):
		return invalid("torso angle threshold must be > 0, got %v", c.Thresholds.TorsoAngle)
	case !(c.Thresholds.HeadDrop > 0):
		return invalid("head drop threshold must be > 0, got %v", c.Thresholds.HeadDrop)
	case !(c.Thresholds.CenterShift > 0):
		return invalid("center shift threshold must be > 0, got %v", c.Thresholds.CenterShift)
	case c.Thresholds.MinCriteria < MinAgreement || c.Thresholds.MinCriteria > 3:
		return invalid("min criteria must be in [%d, 3], got %d", MinAgreement, c.Thresholds.MinCriteria)
	case c.ConsecutiveFrames < 1:
		return invalid("consecutive frames must be >= 1, got %d", c.ConsecutiveFrames)
	case c.Cooldown < 0:
		return invalid("cooldown must not be negative, got %s", c.Cooldown)
	case !(c.SevereAngle > 0):
		return invalid("severe angle must be > 0, got %v", c.SevereAngle)
	case !(c.MinConfidence >= 0 && c.MinConfidence <= 1):
		return invalid("min confidence must be in [0, 1], got %v", c.MinConfidence)
	}
	return nil
}

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("fall: invalid config")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...)
}
