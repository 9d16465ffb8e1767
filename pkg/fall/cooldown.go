package fall

import "time"

// DefaultCooldown is the minimum gap between accepted alerts.
const DefaultCooldown = 30 * time.Second

// CooldownGate suppresses repeat alerts inside a window. Admit never writes;
// the coordinator calls Record once it has accepted an event.
type CooldownGate struct {
	window time.Duration
	last   time.Time
	set    bool
}

// NewCooldownGate creates an open gate.
func NewCooldownGate(window time.Duration) *CooldownGate {
	return &CooldownGate{window: window}
}

// Admit reports whether a candidate at ts may raise an alert. A candidate
// stamped before the last alert means the source clock was reset, and
// opens the gate.
func (g *CooldownGate) Admit(ts time.Time) bool {
	if !g.set {
		return true
	}
	gap := ts.Sub(g.last)
	return gap < 0 || gap >= g.window
}

// Record stores the timestamp of an accepted alert.
func (g *CooldownGate) Record(ts time.Time) {
	g.last = ts
	g.set = true
}

// Reset clears the stored timestamp, opening the gate immediately.
func (g *CooldownGate) Reset() {
	g.last = time.Time{}
	g.set = false
}

// Last returns the last accepted alert time, if any.
func (g *CooldownGate) Last() (time.Time, bool) {
	return g.last, g.set
}

// Remaining returns how long the gate stays closed as of now.
func (g *CooldownGate) Remaining(now time.Time) time.Duration {
	if !g.set || now.Before(g.last) {
		return 0
	}
	left := g.window - now.Sub(g.last)
	if left < 0 {
		return 0
	}
	return left
}

// Window returns the configured cooldown.
func (g *CooldownGate) Window() time.Duration {
	return g.window
}
