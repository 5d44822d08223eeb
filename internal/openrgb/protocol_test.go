package openrgb

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgudim/keyboard-vis/internal/render"
)

func TestHeaderRoundTrip(t *testing.T) {
	buf := encodeHeader(3, cmdUpdateZoneLEDs, 42)
	require.Len(t, buf, 16)
	assert.Equal(t, []byte("ORGB"), buf[0:4])

	h, err := decodeHeader(buf)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), h.DeviceID)
	assert.Equal(t, cmdUpdateZoneLEDs, h.PacketID)
	assert.Equal(t, uint32(42), h.Length)
}

func TestDecodeHeaderRejectsGarbage(t *testing.T) {
	_, err := decodeHeader([]byte("ORG"))
	assert.Error(t, err)

	bad := encodeHeader(0, 0, 0)
	bad[0] = 'X'
	_, err = decodeHeader(bad)
	assert.ErrorContains(t, err, "bad magic")
}

func TestEncodeColorsLayout(t *testing.T) {
	buf := encodeColors([]render.Color{{R: 1, G: 2, B: 3}, {R: 0xff}})
	require.Len(t, buf, 2+8)
	assert.Equal(t, uint16(2), binary.LittleEndian.Uint16(buf[0:2]))
	assert.Equal(t, []byte{1, 2, 3, 0}, buf[2:6])
	assert.Equal(t, []byte{0xff, 0, 0, 0}, buf[6:10])
}

func TestEncodeZoneColors(t *testing.T) {
	colors := []render.Color{{R: 9}}
	buf := encodeZoneColors(7, colors)
	assert.Equal(t, uint32(len(buf)), binary.LittleEndian.Uint32(buf[0:4]))
	assert.Equal(t, uint32(7), binary.LittleEndian.Uint32(buf[4:8]))
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(buf[8:10]))
}

func TestColorWordRoundTrip(t *testing.T) {
	c := render.Color{R: 0x12, G: 0x34, B: 0x56}
	assert.Equal(t, c, decodeColor(encodeColor(c)))
}

// buildControllerPayload assembles a version-1 controller blob the same way
// the server serializes it.
func buildControllerPayload() []byte {
	w := &writer{}
	w.u32(0) // data size, unchecked
	w.i32(5) // device type
	w.str("Razer Ornata Chroma")
	w.str("Razer")
	w.str("keyboard")
	w.str("1.0")
	w.str("SN123")
	w.str("/dev/hidraw0")

	w.u16(2) // mode count
	w.i32(1) // active mode
	for _, name := range []string{"Static", "Direct"} {
		w.str(name)
		w.i32(0) // value
		w.u32(0) // flags
		w.u32(0) // speed min
		w.u32(0) // speed max
		w.u32(0) // colors min
		w.u32(0) // colors max
		w.u32(0) // speed
		w.u32(0) // direction
		w.u32(0) // color mode
		w.u16(0) // color count
	}

	w.u16(1) // zone count
	w.str("Keyboard")
	w.i32(2) // matrix type
	w.u32(104)
	w.u32(104)
	w.u32(104)
	w.u16(0) // matrix length

	w.u16(2) // led count
	w.str("Key: A")
	w.u32(0)
	w.str("Key: B")
	w.u32(0)

	w.u16(1) // color count
	w.u32(encodeColor(render.Color{R: 0x9e, G: 0x20}))

	return w.buf.Bytes()
}

func TestDecodeController(t *testing.T) {
	c, err := decodeController(buildControllerPayload(), 1)
	require.NoError(t, err)

	assert.Equal(t, "Razer Ornata Chroma", c.Name)
	assert.Equal(t, "Razer", c.Vendor)
	require.Len(t, c.Modes, 2)
	assert.Equal(t, "Direct", c.Modes[1].Name)
	assert.Equal(t, 1, c.DirectModeIndex())

	require.Len(t, c.Zones, 1)
	assert.Equal(t, uint32(104), c.Zones[0].LedCount)

	require.Len(t, c.LEDs, 2)
	assert.Equal(t, "Key: A", c.LEDs[0].Name)

	require.Len(t, c.Colors, 1)
	assert.Equal(t, render.Color{R: 0x9e, G: 0x20}, c.Colors[0])
}

func TestDecodeControllerTruncated(t *testing.T) {
	payload := buildControllerPayload()
	_, err := decodeController(payload[:len(payload)/2], 1)
	assert.ErrorContains(t, err, "truncated")
}

func TestDirectModeIndexMissing(t *testing.T) {
	c := &Controller{Modes: []Mode{{Name: "Static"}}}
	assert.Equal(t, -1, c.DirectModeIndex())
}

func TestEncodeModeUpdateSizePrefix(t *testing.T) {
	m := Mode{Name: "Direct", Colors: []render.Color{{R: 1}}}
	buf := encodeModeUpdate(1, m, 1)
	assert.Equal(t, uint32(len(buf)), binary.LittleEndian.Uint32(buf[0:4]))
	// index follows the size prefix
	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(buf[4:8]))
}
