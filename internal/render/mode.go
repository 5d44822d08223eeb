package render

import "time"

// Severity ranks a notification; it selects pulse speed and default color.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityNormal
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityNormal:
		return "normal"
	case SeverityCritical:
		return "critical"
	default:
		return "normal"
	}
}

// Mode is the single active visual state driving frame generation.
// It is a closed set: exactly the five variants below implement it.
type Mode interface {
	Name() string
	mode()
}

// Startup is the one-shot sweep shown for a fixed duration after process start.
type Startup struct {
	StartedAt time.Time
}

// Idle is the ambient base pattern at nominal brightness.
type Idle struct{}

// Dimmed is the idle pattern scaled down while the screen is locked.
type Dimmed struct{}

// Notification pulses the whole surface in the notification's color.
type Notification struct {
	Severity  Severity
	Color     Color
	StartedAt time.Time
}

// Progress fills a bar proportional to Fraction. Fraction is clamped on render.
type Progress struct {
	Fraction  float64
	Kind      string
	StartedAt time.Time
}

func (Startup) mode()      {}
func (Idle) mode()         {}
func (Dimmed) mode()       {}
func (Notification) mode() {}
func (Progress) mode()     {}

func (Startup) Name() string      { return "startup" }
func (Idle) Name() string         { return "idle" }
func (Dimmed) Name() string       { return "dimmed" }
func (Notification) Name() string { return "notification" }
func (Progress) Name() string     { return "progress" }
