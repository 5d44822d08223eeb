// Package loop runs the fixed-cadence render loop: resolve the active visual
// mode, render one frame, write it to the device surface. Device failures stay
// contained here; the resolver and animator never see them.
package loop

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/dgudim/keyboard-vis/internal/device"
	"github.com/dgudim/keyboard-vis/internal/render"
	"github.com/dgudim/keyboard-vis/internal/state"
)

// connState is the device connection state machine: connected <-> retrying.
type connState int

const (
	connected connState = iota
	retrying
)

// Backoff is the reconnect policy: the wait doubles per failure up to Max.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

func (b Backoff) next(cur time.Duration) time.Duration {
	if cur <= 0 {
		return b.Initial
	}
	cur *= 2
	if cur > b.Max {
		cur = b.Max
	}
	return cur
}

// Metrics receives loop observations; all methods must be cheap and non-nil
// implementations must be safe for use from the loop goroutine.
type Metrics interface {
	FrameRendered(mode string)
	FrameDropped()
	Reconnected()
}

// Renderer turns (mode, now, ledCount) into one frame. *render.Animator and
// *render.Backlight both satisfy it.
type Renderer interface {
	Render(mode render.Mode, now time.Time, ledCount int) render.Frame
}

// Config wires the loop's collaborators.
type Config struct {
	Surface  device.Surface
	Resolver *state.Resolver
	Animator Renderer

	Tick    time.Duration
	Backoff Backoff

	// Fade is the crossfade length on visual mode changes, so transitions
	// blend instead of cutting. Zero means the 230ms default; negative
	// disables fading.
	Fade time.Duration

	// Clock is swappable for tests; nil means the real clock.
	Clock clockwork.Clock
	// Metrics may be nil.
	Metrics Metrics

	// OnAttach, when set, runs on every successful attach with the fresh LED
	// count, from the loop goroutine.
	OnAttach func(ledCount int)

	// AttachedLedCount > 0 means the caller already attached the surface
	// (to read its layout) and the loop starts connected.
	AttachedLedCount int
}

// Loop is the sole writer to the device surface.
type Loop struct {
	cfg      Config
	clock    clockwork.Clock
	ledCount int

	st        connState
	backoff   time.Duration
	nextRetry time.Time

	lastFrame render.Frame
	lastMode  string
	fadeFrom  render.Frame
	fadeStart time.Time
}

func New(cfg Config) *Loop {
	if cfg.Tick <= 0 {
		cfg.Tick = 75 * time.Millisecond
	}
	if cfg.Fade == 0 {
		cfg.Fade = 230 * time.Millisecond
	}
	if cfg.Backoff.Initial <= 0 {
		cfg.Backoff.Initial = 500 * time.Millisecond
	}
	if cfg.Backoff.Max <= 0 {
		cfg.Backoff.Max = 15 * time.Second
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	l := &Loop{cfg: cfg, clock: clock, st: retrying}
	if cfg.AttachedLedCount > 0 {
		l.st = connected
		l.ledCount = cfg.AttachedLedCount
	}
	return l
}

// Run drives the loop until ctx is cancelled. The first attach failure does
// not abort: the loop keeps computing frames and retrying with backoff, so
// rendering resumes on its own once the device appears.
func (l *Loop) Run(ctx context.Context) error {
	defer l.cfg.Surface.Close()

	if l.st != connected {
		l.tryAttach(ctx)
	}

	ticker := l.clock.NewTicker(l.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.shutdown()
			return ctx.Err()
		case <-ticker.Chan():
			l.tickOnce(ctx)
		}
	}
}

// tickOnce computes the current frame and writes it if connected. State stays
// current during an outage; frames are simply discarded.
func (l *Loop) tickOnce(ctx context.Context) {
	now := l.clock.Now()
	mode := l.cfg.Resolver.CurrentMode(now)
	frame := l.cfg.Animator.Render(mode, now, l.ledCountForRender())

	if l.st == retrying {
		if now.Before(l.nextRetry) || !l.tryAttach(ctx) {
			if l.cfg.Metrics != nil {
				l.cfg.Metrics.FrameDropped()
			}
			return
		}
		// Reconnected: recompute for the real LED count.
		frame = l.cfg.Animator.Render(mode, now, l.ledCount)
	}
	frame = l.blend(mode, now, frame)

	if err := l.writeFrame(ctx, frame); err != nil {
		l.enterRetry(now, err)
		return
	}
	l.lastFrame = frame
	if l.cfg.Metrics != nil {
		l.cfg.Metrics.FrameRendered(mode.Name())
	}
}

// blend crossfades from the previous frame when the visual mode changes, so a
// notification does not cut in and out abruptly.
func (l *Loop) blend(mode render.Mode, now time.Time, target render.Frame) render.Frame {
	if mode.Name() != l.lastMode {
		l.lastMode = mode.Name()
		l.fadeFrom = nil
		if l.cfg.Fade > 0 && len(l.lastFrame) == len(target) {
			l.fadeFrom = l.lastFrame.Clone()
			l.fadeStart = now
		}
	}
	if l.fadeFrom == nil || len(l.fadeFrom) != len(target) {
		return target
	}
	// The first blended frame already moves one tick into the fade.
	alpha := float64(now.Sub(l.fadeStart)+l.cfg.Tick) / float64(l.cfg.Fade)
	if alpha >= 1 {
		l.fadeFrom = nil
		return target
	}
	out := make(render.Frame, len(target))
	render.MixFrames(out, l.fadeFrom, target, alpha)
	return out
}

func (l *Loop) writeFrame(ctx context.Context, f render.Frame) error {
	if err := l.cfg.Surface.SetFrame(f); err != nil {
		return err
	}
	return l.cfg.Surface.Flush(ctx)
}

// ledCountForRender keeps the animator fed while disconnected so mode timing
// (pulse phases, sweep position) stays warm for reconnect.
func (l *Loop) ledCountForRender() int {
	return l.ledCount
}

func (l *Loop) tryAttach(ctx context.Context) bool {
	n, err := l.cfg.Surface.Attach(ctx)
	now := l.clock.Now()
	if err != nil {
		l.enterRetry(now, err)
		return false
	}
	if l.st == retrying && l.cfg.Metrics != nil && l.ledCount > 0 {
		l.cfg.Metrics.Reconnected()
	}
	log.Info().Int("leds", n).Msg("device attached")
	l.st = connected
	l.ledCount = n
	l.backoff = 0
	if l.cfg.OnAttach != nil {
		l.cfg.OnAttach(n)
	}
	return true
}

func (l *Loop) enterRetry(now time.Time, err error) {
	l.backoff = l.cfg.Backoff.next(l.backoff)
	l.nextRetry = now.Add(l.backoff)
	if l.st != retrying {
		log.Warn().Err(err).Dur("retry_in", l.backoff).Msg("device lost, entering retry")
		// Drop the dead connection; the next attach dials fresh.
		_ = l.cfg.Surface.Close()
	} else {
		log.Debug().Err(err).Dur("retry_in", l.backoff).Msg("device still unavailable")
	}
	l.st = retrying
}

// shutdown plays a short red flicker fade-out, then blacks the surface. Best
// effort: skipped entirely while disconnected, and no partial frame is ever
// left staged.
func (l *Loop) shutdown() {
	if l.st != connected || l.ledCount == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	from := l.lastFrame
	if len(from) != l.ledCount {
		from = render.Solid(render.Black, l.ledCount)
	}
	steps := 6
	for i := 1; i <= steps; i++ {
		f := make(render.Frame, l.ledCount)
		fade := 1 - float64(i)/float64(steps)
		for j := range f {
			c := from[j].Scale(fade)
			// Fade through red whatever the frame's hue was.
			r := c.R
			if c.G > r {
				r = c.G
			}
			if c.B > r {
				r = c.B
			}
			f[j] = render.Color{R: r}
		}
		if err := l.writeFrame(ctx, f); err != nil {
			return
		}
		l.clock.Sleep(l.cfg.Tick)
	}
	_ = l.writeFrame(ctx, render.Solid(render.Black, l.ledCount))
}
