// Package notify delivers fall alerts to caregivers.
//
// A Notifier is a thin transport: one call, one attempt. The Dispatcher runs
// at most one call at a time off the detection loop and drops alerts that
// arrive while a call is in flight.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Alert is the transport-neutral payload for one accepted fall event.
type Alert struct {
	ID         string    `json:"id"`
	Source     string    `json:"source,omitempty"` // frame feed that saw the fall
	Severity   string    `json:"severity"`         // "mild" or "severe"
	Angle      *float64  `json:"angle"`            // degrees, nil when not measured
	Timestamp  time.Time `json:"timestamp"`
	Sequence   uint64    `json:"sequence"`
	Confidence float64   `json:"confidence"`
	Reasons    []string  `json:"reasons,omitempty"`
	Screenshot string    `json:"screenshot,omitempty"` // local path
}

// Title returns a one-line summary.
func (a Alert) Title() string {
	if a.Severity == "severe" {
		return "Severe fall detected"
	}
	return "Fall detected"
}

// Text renders the alert as a plain-text message.
func (a Alert) Text() string {
	var b strings.Builder
	b.WriteString(a.Title())
	b.WriteString("\nTime: ")
	b.WriteString(a.Timestamp.Local().Format("2006-01-02 15:04:05"))
	b.WriteString("\nSeverity: ")
	b.WriteString(a.Severity)
	if a.Source != "" {
		b.WriteString("\nCamera: ")
		b.WriteString(a.Source)
	}
	if a.Angle != nil {
		fmt.Fprintf(&b, "\nTorso angle: %.1f°", *a.Angle)
	}
	if a.Confidence > 0 {
		fmt.Fprintf(&b, "\nConfidence: %.0f%%", a.Confidence*100)
	}
	if len(a.Reasons) > 0 {
		b.WriteString("\nCriteria: ")
		b.WriteString(strings.Join(a.Reasons, ", "))
	}
	return b.String()
}

// Notifier sends one alert. A nil error means the transport accepted it.
type Notifier interface {
	SendAlert(ctx context.Context, a Alert) error
	Name() string
}
