package render

import (
	"math"
	"time"
)

// Pulse shapes the notification envelope for one severity.
type Pulse struct {
	Period time.Duration // one full bright-dark-bright cycle
	Floor  float64       // minimum envelope value, 0..1
}

// Options carries the static parameters the generators need. All fields are
// value types; an Animator never mutates them after construction.
type Options struct {
	// Base is the idle substrate. Indices past its length fall back to BaseFill.
	Base     Frame
	BaseFill Color

	// DimFactor scales the idle pattern while dimmed. Values <= 0 fall back
	// to a faint gray so a dimmed surface is never fully dark.
	DimFactor float64

	StartupDuration time.Duration

	// Pulses maps severity to its notification envelope. Missing severities
	// use the normal pulse.
	Pulses map[Severity]Pulse

	// KindColors maps a progress kind ("copy", "download", ...) to its bar
	// color. Unknown kinds use KindFill.
	KindColors map[string]Color
	KindFill   Color

	// ProgressBackground is the unfilled remainder of a progress bar.
	ProgressBackground Color
}

// DefaultPulses returns the severity table used when configuration does not
// override it.
func DefaultPulses() map[Severity]Pulse {
	return map[Severity]Pulse{
		SeverityLow:      {Period: 2 * time.Second, Floor: 0.25},
		SeverityNormal:   {Period: 1200 * time.Millisecond, Floor: 0.15},
		SeverityCritical: {Period: 500 * time.Millisecond, Floor: 0.0},
	}
}

// Animator turns (mode, now, ledCount) into one frame. It is pure: identical
// arguments always yield identical frames.
type Animator struct {
	opts Options
}

func NewAnimator(opts Options) *Animator {
	if opts.DimFactor <= 0 {
		opts.DimFactor = 0.1
	}
	if opts.Pulses == nil {
		opts.Pulses = DefaultPulses()
	}
	if opts.StartupDuration <= 0 {
		opts.StartupDuration = 2 * time.Second
	}
	if opts.BaseFill == (Color{}) {
		opts.BaseFill = Gray
	}
	if opts.KindFill == (Color{}) {
		opts.KindFill = White
	}
	return &Animator{opts: opts}
}

// SetBase replaces the idle substrate, for surfaces whose LED layout is only
// known after a (re)attach. Not safe concurrently with Render; the render loop
// calls both from its own goroutine.
func (a *Animator) SetBase(f Frame) {
	a.opts.Base = f
}

// Render produces the frame for mode at instant now. ledCount == 0 yields an
// empty frame.
func (a *Animator) Render(mode Mode, now time.Time, ledCount int) Frame {
	if ledCount <= 0 {
		return Frame{}
	}
	switch m := mode.(type) {
	case Startup:
		return a.startupFrame(now.Sub(m.StartedAt), ledCount)
	case Idle:
		return a.idleFrame(ledCount)
	case Dimmed:
		return a.dimmedFrame(ledCount)
	case Notification:
		return a.notificationFrame(m, now, ledCount)
	case Progress:
		return a.progressFrame(m, ledCount)
	default:
		// Unreachable for the closed mode set; keep the device sane anyway.
		return a.idleFrame(ledCount)
	}
}

func (a *Animator) baseAt(i int) Color {
	if i < len(a.opts.Base) {
		return a.opts.Base[i]
	}
	return a.opts.BaseFill
}

func (a *Animator) idleFrame(n int) Frame {
	f := make(Frame, n)
	for i := range f {
		f[i] = a.baseAt(i)
	}
	return f
}

func (a *Animator) dimmedFrame(n int) Frame {
	f := make(Frame, n)
	dark := true
	for i := range f {
		f[i] = a.baseAt(i).Scale(a.opts.DimFactor)
		if f[i] != Black {
			dark = false
		}
	}
	if dark {
		// Signal "alive but dimmed" even over a black substrate.
		for i := range f {
			f[i] = DimGray.Scale(a.opts.DimFactor * 2)
		}
	}
	return f
}

// startupFrame sweeps a white highlight across the strip once over the
// configured startup duration, revealing the idle substrate behind it.
func (a *Animator) startupFrame(elapsed time.Duration, n int) Frame {
	const width = 4.0
	progress := clamp01(elapsed.Seconds() / a.opts.StartupDuration.Seconds())
	pos := progress * (float64(n) + width*2)

	f := make(Frame, n)
	for i := range f {
		d := float64(i) - (pos - width)
		switch {
		case d <= 0:
			// Behind the sweep: substrate revealed.
			f[i] = a.baseAt(i)
		case d < width:
			// Inside the highlight: white fading into the substrate.
			f[i] = Lerp(White, a.baseAt(i), d/width)
		default:
			// Ahead of the sweep: still dark.
			f[i] = Lerp(White, Black, (d-width)/width)
		}
	}
	return f
}

func (a *Animator) notificationFrame(m Notification, now time.Time, n int) Frame {
	p, ok := a.opts.Pulses[m.Severity]
	if !ok {
		p = a.opts.Pulses[SeverityNormal]
	}
	if p.Period <= 0 {
		p.Period = time.Second
	}
	phase := now.Sub(m.StartedAt).Seconds() / p.Period.Seconds()
	// Cosine envelope starting bright so arrival is immediately visible.
	env := (math.Cos(2*math.Pi*phase) + 1) / 2
	env = p.Floor + (1-p.Floor)*env
	return Solid(Lerp(Black, m.Color, env), n)
}

func (a *Animator) progressFrame(m Progress, n int) Frame {
	frac := m.Fraction
	if math.IsNaN(frac) {
		frac = 0
	}
	frac = clamp01(frac)

	bar := a.opts.KindFill
	if c, ok := a.opts.KindColors[m.Kind]; ok {
		bar = c
	}

	filled := int(math.Round(frac * float64(n)))
	f := make(Frame, n)
	for i := range f {
		if i < filled {
			f[i] = bar
		} else {
			f[i] = a.opts.ProgressBackground
		}
	}
	return f
}
