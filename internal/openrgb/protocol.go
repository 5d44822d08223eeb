// Package openrgb speaks the OpenRGB SDK server protocol over TCP and adapts
// a controller zone into a device.Surface.
package openrgb

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/dgudim/keyboard-vis/internal/render"
)

// Net packet IDs from the OpenRGB SDK protocol.
const (
	cmdRequestControllerCount uint32 = 0
	cmdRequestControllerData  uint32 = 1
	cmdRequestProtocolVersion uint32 = 40
	cmdSetClientName          uint32 = 50
	cmdUpdateLEDs             uint32 = 1050
	cmdUpdateZoneLEDs         uint32 = 1051
	cmdSetCustomMode          uint32 = 1100
	cmdUpdateMode             uint32 = 1101
)

// clientProtocolVersion is the highest protocol revision this client speaks.
// The effective version is min(ours, server's).
const clientProtocolVersion uint32 = 1

var headerMagic = [4]byte{'O', 'R', 'G', 'B'}

// encodeHeader builds the 16-byte packet header: magic, device id, packet id,
// payload length, all little-endian.
func encodeHeader(deviceID, packetID, length uint32) []byte {
	buf := make([]byte, 16)
	copy(buf[0:4], headerMagic[:])
	binary.LittleEndian.PutUint32(buf[4:8], deviceID)
	binary.LittleEndian.PutUint32(buf[8:12], packetID)
	binary.LittleEndian.PutUint32(buf[12:16], length)
	return buf
}

type header struct {
	DeviceID uint32
	PacketID uint32
	Length   uint32
}

func decodeHeader(buf []byte) (header, error) {
	if len(buf) < 16 {
		return header{}, fmt.Errorf("short header: %d bytes", len(buf))
	}
	if !bytes.Equal(buf[0:4], headerMagic[:]) {
		return header{}, fmt.Errorf("bad magic %q", buf[0:4])
	}
	return header{
		DeviceID: binary.LittleEndian.Uint32(buf[4:8]),
		PacketID: binary.LittleEndian.Uint32(buf[8:12]),
		Length:   binary.LittleEndian.Uint32(buf[12:16]),
	}, nil
}

// encodeColors packs colors as the protocol's 4-byte BGR0 words prefixed with
// a u16 count.
func encodeColors(colors []render.Color) []byte {
	buf := make([]byte, 2+4*len(colors))
	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(colors)))
	for i, c := range colors {
		o := 2 + i*4
		buf[o+0] = c.R
		buf[o+1] = c.G
		buf[o+2] = c.B
		buf[o+3] = 0
	}
	return buf
}

// encodeZoneColors prefixes the color block with the zone index and the total
// payload size, as UpdateZoneLEDs expects.
func encodeZoneColors(zone uint32, colors []render.Color) []byte {
	body := encodeColors(colors)
	buf := make([]byte, 8+len(body))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(buf)))
	binary.LittleEndian.PutUint32(buf[4:8], zone)
	copy(buf[8:], body)
	return buf
}

// encodeLEDColors carries the whole controller's colors for UpdateLEDs.
func encodeLEDColors(colors []render.Color) []byte {
	body := encodeColors(colors)
	buf := make([]byte, 4+len(body))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(buf)))
	copy(buf[4:], body)
	return buf
}

// reader consumes little-endian protocol fields from a payload.
type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) fail(what string) {
	if r.err == nil {
		r.err = fmt.Errorf("truncated controller data at %s (offset %d)", what, r.off)
	}
}

func (r *reader) bytes(n int, what string) []byte {
	if r.err != nil {
		return nil
	}
	if r.off+n > len(r.buf) {
		r.fail(what)
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) u16(what string) uint16 {
	b := r.bytes(2, what)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *reader) u32(what string) uint32 {
	b := r.bytes(4, what)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *reader) i32(what string) int32 { return int32(r.u32(what)) }

// str reads a u16-length-prefixed string; the length includes the trailing NUL.
func (r *reader) str(what string) string {
	n := int(r.u16(what))
	if n == 0 {
		return ""
	}
	b := r.bytes(n, what)
	if b == nil {
		return ""
	}
	return string(bytes.TrimRight(b, "\x00"))
}

// writer mirrors reader for packets that echo structures back to the server.
type writer struct {
	buf bytes.Buffer
}

func (w *writer) u16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf.Write(b[:])
}

func (w *writer) u32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

func (w *writer) i32(v int32) { w.u32(uint32(v)) }

func (w *writer) str(s string) {
	w.u16(uint16(len(s) + 1))
	w.buf.WriteString(s)
	w.buf.WriteByte(0)
}

// Mode is one lighting mode of a controller, kept complete so it can be echoed
// back via UpdateMode when switching to direct control.
type Mode struct {
	Name      string
	Value     int32
	Flags     uint32
	SpeedMin  uint32
	SpeedMax  uint32
	ColorsMin uint32
	ColorsMax uint32
	Speed     uint32
	Direction uint32
	ColorMode uint32
	Colors    []render.Color
}

// Zone is one addressable region of a controller.
type Zone struct {
	Name     string
	Type     int32
	LedsMin  uint32
	LedsMax  uint32
	LedCount uint32
}

// LED is one addressable light with its key name.
type LED struct {
	Name  string
	Value uint32
}

// Controller is the subset of controller data this client needs: identity,
// modes (to find "Direct"), zones and per-LED names.
type Controller struct {
	Type        int32
	Name        string
	Vendor      string
	Description string
	Version     string
	Serial      string
	Location    string
	ActiveMode  int32
	Modes       []Mode
	Zones       []Zone
	LEDs        []LED
	Colors      []render.Color
}

// DirectModeIndex returns the index of the "Direct" mode, or -1.
func (c *Controller) DirectModeIndex() int {
	for i, m := range c.Modes {
		if strings.EqualFold(m.Name, "Direct") {
			return i
		}
	}
	return -1
}

func decodeColor(v uint32) render.Color {
	return render.Color{R: uint8(v), G: uint8(v >> 8), B: uint8(v >> 16)}
}

func encodeColor(c render.Color) uint32 {
	return uint32(c.R) | uint32(c.G)<<8 | uint32(c.B)<<16
}

// decodeController parses a REQUEST_CONTROLLER_DATA payload for the given
// negotiated protocol version.
func decodeController(payload []byte, ver uint32) (*Controller, error) {
	r := &reader{buf: payload}
	_ = r.u32("data size")

	c := &Controller{}
	c.Type = r.i32("type")
	c.Name = r.str("name")
	if ver >= 1 {
		c.Vendor = r.str("vendor")
	}
	c.Description = r.str("description")
	c.Version = r.str("version")
	c.Serial = r.str("serial")
	c.Location = r.str("location")

	numModes := int(r.u16("mode count"))
	c.ActiveMode = r.i32("active mode")
	for i := 0; i < numModes && r.err == nil; i++ {
		var m Mode
		m.Name = r.str("mode name")
		m.Value = r.i32("mode value")
		m.Flags = r.u32("mode flags")
		m.SpeedMin = r.u32("mode speed min")
		m.SpeedMax = r.u32("mode speed max")
		if ver >= 3 {
			_ = r.u32("mode brightness min")
			_ = r.u32("mode brightness max")
		}
		m.ColorsMin = r.u32("mode colors min")
		m.ColorsMax = r.u32("mode colors max")
		m.Speed = r.u32("mode speed")
		if ver >= 3 {
			_ = r.u32("mode brightness")
		}
		m.Direction = r.u32("mode direction")
		m.ColorMode = r.u32("mode color mode")
		numColors := int(r.u16("mode color count"))
		for j := 0; j < numColors && r.err == nil; j++ {
			m.Colors = append(m.Colors, decodeColor(r.u32("mode color")))
		}
		c.Modes = append(c.Modes, m)
	}

	numZones := int(r.u16("zone count"))
	for i := 0; i < numZones && r.err == nil; i++ {
		var z Zone
		z.Name = r.str("zone name")
		z.Type = r.i32("zone type")
		z.LedsMin = r.u32("zone leds min")
		z.LedsMax = r.u32("zone leds max")
		z.LedCount = r.u32("zone led count")
		matrixLen := int(r.u16("zone matrix length"))
		r.bytes(matrixLen, "zone matrix")
		c.Zones = append(c.Zones, z)
	}

	numLEDs := int(r.u16("led count"))
	for i := 0; i < numLEDs && r.err == nil; i++ {
		var l LED
		l.Name = r.str("led name")
		l.Value = r.u32("led value")
		c.LEDs = append(c.LEDs, l)
	}

	numColors := int(r.u16("color count"))
	for i := 0; i < numColors && r.err == nil; i++ {
		c.Colors = append(c.Colors, decodeColor(r.u32("color")))
	}

	if r.err != nil {
		return nil, r.err
	}
	return c, nil
}

// encodeModeUpdate builds the UpdateMode payload: total size, mode index, then
// the full mode structure echoed back.
func encodeModeUpdate(index int, m Mode, ver uint32) []byte {
	w := &writer{}
	w.u32(0) // placeholder for total size
	w.i32(int32(index))
	w.str(m.Name)
	w.i32(m.Value)
	w.u32(m.Flags)
	w.u32(m.SpeedMin)
	w.u32(m.SpeedMax)
	if ver >= 3 {
		w.u32(0)
		w.u32(0)
	}
	w.u32(m.ColorsMin)
	w.u32(m.ColorsMax)
	w.u32(m.Speed)
	if ver >= 3 {
		w.u32(0)
	}
	w.u32(m.Direction)
	w.u32(m.ColorMode)
	w.u16(uint16(len(m.Colors)))
	for _, c := range m.Colors {
		w.u32(encodeColor(c))
	}
	out := w.buf.Bytes()
	binary.LittleEndian.PutUint32(out[0:4], uint32(len(out)))
	return out
}
