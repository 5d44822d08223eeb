package render

import (
	"math"
	"time"
)

// BacklightOptions shapes the ambient wave: two colors blended by a slowly
// drifting sine interference pattern.
type BacklightOptions struct {
	Wave1, Wave2 Color

	StartupDuration time.Duration
}

// Backlight renders the secondary ambient surface. It ignores notification and
// progress modes: those belong to the primary surface, the backlight just
// breathes. Locked screens turn it off entirely.
type Backlight struct {
	opts  BacklightOptions
	epoch time.Time
}

// NewBacklight creates the ambient renderer. The epoch anchors the wave phase
// so rendering stays a pure function of now.
func NewBacklight(opts BacklightOptions, epoch time.Time) *Backlight {
	if opts.Wave1 == (Color{}) && opts.Wave2 == (Color{}) {
		opts.Wave1 = MustHex("#662a00")
		opts.Wave2 = MustHex("#2a0066")
	}
	if opts.StartupDuration <= 0 {
		opts.StartupDuration = 2 * time.Second
	}
	return &Backlight{opts: opts, epoch: epoch}
}

// Wave drift rates in rad/s. The spatial term repeats roughly every 25 LEDs.
const (
	waveSpatialStep = 0.25
	waveDrift1      = 0.8
	waveDrift2      = 0.467
	waveDrift2Phase = 0.8
)

func (b *Backlight) Render(mode Mode, now time.Time, ledCount int) Frame {
	if ledCount <= 0 {
		return Frame{}
	}
	switch m := mode.(type) {
	case Dimmed:
		return Solid(Black, ledCount)
	case Startup:
		ramp := clamp01(now.Sub(m.StartedAt).Seconds() / b.opts.StartupDuration.Seconds())
		return b.waveFrame(now, ledCount, ramp)
	default:
		return b.waveFrame(now, ledCount, 1)
	}
}

func (b *Backlight) waveFrame(now time.Time, n int, brightness float64) Frame {
	s := now.Sub(b.epoch).Seconds()
	depth := math.Sin(waveDrift2Phase + waveDrift2*s)

	f := make(Frame, n)
	for i := range f {
		t := (math.Sin(float64(i)*waveSpatialStep+waveDrift1*s)*depth + 1) / 2
		f[i] = Lerp(b.opts.Wave1, b.opts.Wave2, t).Scale(brightness)
	}
	return f
}
