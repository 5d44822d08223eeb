package device_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgudim/keyboard-vis/internal/device"
	"github.com/dgudim/keyboard-vis/internal/device/fake"
	"github.com/dgudim/keyboard-vis/internal/render"
)

func TestMultiConcatenatesSurfaces(t *testing.T) {
	a := &fake.Surface{LedCount: 3}
	b := &fake.Surface{LedCount: 5}
	m := device.NewMulti(a, b)

	n, err := m.Attach(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 8, n)

	frame := make(render.Frame, 8)
	for i := range frame {
		frame[i] = render.Color{R: uint8(i)}
	}
	require.NoError(t, m.SetFrame(frame))
	require.NoError(t, m.Flush(context.Background()))

	require.Len(t, a.LastFrame(), 3)
	require.Len(t, b.LastFrame(), 5)
	assert.Equal(t, render.Color{R: 2}, a.LastFrame()[2])
	assert.Equal(t, render.Color{R: 3}, b.LastFrame()[0], "offset mapping is contiguous")
	assert.Equal(t, render.Color{R: 7}, b.LastFrame()[4])
}

func TestMultiRejectsLengthMismatch(t *testing.T) {
	a := &fake.Surface{LedCount: 3}
	m := device.NewMulti(a)
	_, err := m.Attach(context.Background())
	require.NoError(t, err)

	err = m.SetFrame(make(render.Frame, 4))
	var werr *device.WriteError
	require.ErrorAs(t, err, &werr)
}

func TestMultiAttachFailures(t *testing.T) {
	_, err := device.NewMulti().Attach(context.Background())
	assert.ErrorIs(t, err, device.ErrDeviceUnavailable)

	bad := &fake.Surface{LedCount: 3}
	bad.SetFailAttach(true)
	_, err = device.NewMulti(bad).Attach(context.Background())
	assert.ErrorIs(t, err, device.ErrDeviceUnavailable)
}
