package loop

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgudim/keyboard-vis/internal/device/fake"
	"github.com/dgudim/keyboard-vis/internal/render"
	"github.com/dgudim/keyboard-vis/internal/state"
)

const tick = 75 * time.Millisecond

type countingMetrics struct {
	mu         sync.Mutex
	rendered   int
	dropped    int
	reconnects int
	lastMode   string
}

func (m *countingMetrics) FrameRendered(mode string) {
	m.mu.Lock()
	m.rendered++
	m.lastMode = mode
	m.mu.Unlock()
}

func (m *countingMetrics) FrameDropped() {
	m.mu.Lock()
	m.dropped++
	m.mu.Unlock()
}

func (m *countingMetrics) Reconnected() {
	m.mu.Lock()
	m.reconnects++
	m.mu.Unlock()
}

func (m *countingMetrics) snapshot() (rendered, dropped, reconnects int, lastMode string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rendered, m.dropped, m.reconnects, m.lastMode
}

func newTestLoop(surface *fake.Surface, clk clockwork.Clock, m Metrics) (*Loop, *state.Resolver) {
	resolver := state.New(state.Config{
		StartupDuration: time.Millisecond, // past immediately
		DisplayDuration: 8 * time.Second,
		StallTimeout:    30 * time.Second,
	}, clk.Now().Add(-time.Minute))

	anim := render.NewAnimator(render.Options{
		Base:     render.Solid(render.Gray, surface.LedCount),
		BaseFill: render.Gray,
	})
	l := New(Config{
		Surface:  surface,
		Resolver: resolver,
		Animator: anim,
		Tick:     tick,
		Backoff:  Backoff{Initial: tick, Max: 4 * tick},
		Clock:    clk,
		Metrics:  m,
	})
	return l, resolver
}

func advanceTicks(clk *clockwork.FakeClock, n int) {
	for i := 0; i < n; i++ {
		clk.BlockUntil(1)
		clk.Advance(tick)
		// Give the loop goroutine a moment to consume the tick, so advances
		// are not coalesced into one dropped tick.
		time.Sleep(5 * time.Millisecond)
	}
}

// waitDone drains the shutdown fade, which sleeps on the fake clock.
func waitDone(t *testing.T, clk *clockwork.FakeClock, done chan error) error {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case err := <-done:
			return err
		case <-deadline:
			t.Fatal("loop did not stop")
		default:
			clk.Advance(tick)
			time.Sleep(time.Millisecond)
		}
	}
}

func TestLoopRendersFrames(t *testing.T) {
	clk := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	surface := &fake.Surface{LedCount: 6}
	m := &countingMetrics{}
	l, _ := newTestLoop(surface, clk, m)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	advanceTicks(clk, 3)
	require.Eventually(t, func() bool { return surface.FlushCount() >= 3 },
		time.Second, time.Millisecond)

	f := surface.LastFrame()
	require.Len(t, f, 6)
	assert.Equal(t, render.Gray, f[0], "idle substrate rendered")

	rendered, _, _, lastMode := m.snapshot()
	assert.GreaterOrEqual(t, rendered, 3)
	assert.Equal(t, "idle", lastMode)

	cancel()
	assert.ErrorIs(t, waitDone(t, clk, done), context.Canceled)
}

func TestLoopSurvivesWriteFailuresAndReconnects(t *testing.T) {
	clk := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	surface := &fake.Surface{LedCount: 6, FailFlushes: 1}
	m := &countingMetrics{}
	l, _ := newTestLoop(surface, clk, m)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	// First tick fails its flush, the following ones back off, reattach and
	// resume writing.
	advanceTicks(clk, 4)
	require.Eventually(t, func() bool { return surface.FlushCount() >= 1 },
		time.Second, time.Millisecond)

	_, dropped, reconnects, _ := m.snapshot()
	assert.GreaterOrEqual(t, reconnects, 1)
	// The tick that re-attaches writes its frame; only ticks spent fully
	// disconnected count as dropped.
	assert.Zero(t, dropped)

	cancel()
	waitDone(t, clk, done)
}

func TestLoopKeepsRunningWithoutDevice(t *testing.T) {
	clk := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	surface := &fake.Surface{LedCount: 6}
	surface.SetFailAttach(true)
	m := &countingMetrics{}
	l, resolver := newTestLoop(surface, clk, m)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	// State keeps flowing in while the device is absent.
	resolver.SetLocked(true)
	advanceTicks(clk, 3)
	require.Eventually(t, func() bool {
		_, dropped, _, _ := m.snapshot()
		return dropped >= 3
	}, time.Second, time.Millisecond)
	assert.Zero(t, surface.FlushCount())

	// Device appears; rendering resumes with the current (dimmed) state.
	surface.SetFailAttach(false)
	advanceTicks(clk, 6)
	require.Eventually(t, func() bool { return surface.FlushCount() >= 1 },
		time.Second, time.Millisecond)

	cancel()
	waitDone(t, clk, done)
}

func TestModeChangeCrossfades(t *testing.T) {
	clk := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	surface := &fake.Surface{LedCount: 6}
	l, resolver := newTestLoop(surface, clk, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	advanceTicks(clk, 2)
	require.Eventually(t, func() bool { return surface.FlushCount() >= 2 },
		time.Second, time.Millisecond)
	require.Equal(t, render.Gray, surface.LastFrame()[0])

	resolver.IngestNotification(state.NotificationEvent{
		ID:          1,
		Severity:    render.SeverityCritical,
		ColorHint:   render.Color{R: 255},
		ArrivalTime: clk.Now(),
	})

	// The first notification tick blends out of the idle substrate rather
	// than cutting straight to red.
	advanceTicks(clk, 1)
	require.Eventually(t, func() bool { return surface.FlushCount() >= 3 },
		time.Second, time.Millisecond)
	f := surface.LastFrame()
	assert.Greater(t, f[0].R, render.Gray.R, "moving toward the notification color")
	assert.Greater(t, f[0].G, uint8(0), "still carries some substrate")
	assert.Less(t, f[0].G, render.Gray.G)

	// Fade over: pure notification color, no green left.
	advanceTicks(clk, 4)
	require.Eventually(t, func() bool { return surface.FlushCount() >= 7 },
		time.Second, time.Millisecond)
	assert.Zero(t, surface.LastFrame()[0].G)
	assert.Zero(t, surface.LastFrame()[0].B)

	cancel()
	waitDone(t, clk, done)
}

func TestOnAttachRunsOnReconnect(t *testing.T) {
	clk := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	surface := &fake.Surface{LedCount: 6}
	surface.SetFailAttach(true)
	attached := make(chan int, 4)

	resolver := state.New(state.Config{
		StartupDuration: time.Millisecond,
		DisplayDuration: 8 * time.Second,
		StallTimeout:    30 * time.Second,
	}, clk.Now().Add(-time.Minute))
	anim := render.NewAnimator(render.Options{BaseFill: render.Gray})
	l := New(Config{
		Surface:  surface,
		Resolver: resolver,
		Animator: anim,
		Tick:     tick,
		Backoff:  Backoff{Initial: tick, Max: 4 * tick},
		Clock:    clk,
		OnAttach: func(n int) { attached <- n },
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	advanceTicks(clk, 3)
	select {
	case <-attached:
		t.Fatal("attach reported while the device was absent")
	default:
	}

	surface.SetFailAttach(false)
	advanceTicks(clk, 6)
	select {
	case n := <-attached:
		assert.Equal(t, 6, n)
	case <-time.After(time.Second):
		t.Fatal("attach callback never ran")
	}

	cancel()
	waitDone(t, clk, done)
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	b := Backoff{Initial: 100 * time.Millisecond, Max: 350 * time.Millisecond}

	d := b.next(0)
	assert.Equal(t, 100*time.Millisecond, d)
	d = b.next(d)
	assert.Equal(t, 200*time.Millisecond, d)
	d = b.next(d)
	assert.Equal(t, 350*time.Millisecond, d, "capped at max")
	assert.Equal(t, 350*time.Millisecond, b.next(d))
}

func TestShutdownEndsOnBlackFrame(t *testing.T) {
	clk := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	surface := &fake.Surface{LedCount: 4}
	l, _ := newTestLoop(surface, clk, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	advanceTicks(clk, 2)
	require.Eventually(t, func() bool { return surface.FlushCount() >= 2 },
		time.Second, time.Millisecond)

	cancel()
	require.ErrorIs(t, waitDone(t, clk, done), context.Canceled)
	assert.Equal(t, render.Solid(render.Black, 4), surface.LastFrame())
}
