package render

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBacklight() (*Backlight, time.Time) {
	epoch := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	b := NewBacklight(BacklightOptions{
		Wave1:           Color{R: 0x66, G: 0x2a},
		Wave2:           Color{R: 0x2a, B: 0x66},
		StartupDuration: 2 * time.Second,
	}, epoch)
	return b, epoch
}

func TestBacklightWaveIsDeterministicAndNonFlat(t *testing.T) {
	b, epoch := testBacklight()
	now := epoch.Add(500 * time.Millisecond)

	f := b.Render(Idle{}, now, 30)
	require.Len(t, f, 30)
	assert.Equal(t, f, b.Render(Idle{}, now, 30), "pure in (mode, now, count)")

	flat := true
	for _, c := range f {
		if c != f[0] {
			flat = false
			break
		}
	}
	assert.False(t, flat, "wave varies along the strip")
	assert.NotEqual(t, f, b.Render(Idle{}, now.Add(time.Second), 30),
		"wave drifts over time")
}

func TestBacklightIgnoresKeyboardModes(t *testing.T) {
	b, epoch := testBacklight()
	now := epoch.Add(3 * time.Second)

	idle := b.Render(Idle{}, now, 12)
	assert.Equal(t, idle, b.Render(Notification{Severity: SeverityCritical, StartedAt: now}, now, 12))
	assert.Equal(t, idle, b.Render(Progress{Fraction: 0.5, Kind: "copy"}, now, 12))
}

func TestBacklightTurnsOffWhenLocked(t *testing.T) {
	b, epoch := testBacklight()
	f := b.Render(Dimmed{}, epoch.Add(time.Second), 8)
	assert.Equal(t, Solid(Black, 8), f)
}

func TestBacklightRampsInDuringStartup(t *testing.T) {
	b, epoch := testBacklight()
	start := Startup{StartedAt: epoch}

	assert.Equal(t, Solid(Black, 8), b.Render(start, epoch, 8),
		"dark at the first instant")

	mid := b.Render(start, epoch.Add(time.Second), 8)
	full := b.Render(Idle{}, epoch.Add(time.Second), 8)
	for i := range mid {
		assert.LessOrEqual(t, mid[i].R, full[i].R)
		assert.LessOrEqual(t, mid[i].G, full[i].G)
		assert.LessOrEqual(t, mid[i].B, full[i].B)
	}

	done := b.Render(Startup{StartedAt: epoch.Add(-2 * time.Second)}, epoch.Add(time.Second), 8)
	assert.Equal(t, full, done, "fully ramped once the sweep window passes")
}

func TestBacklightEmptyForZeroLeds(t *testing.T) {
	b, epoch := testBacklight()
	assert.Empty(t, b.Render(Idle{}, epoch, 0))
}
