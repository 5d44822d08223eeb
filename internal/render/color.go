package render

import (
	"fmt"
	"strconv"
	"strings"
)

// Color is one LED color, 8 bits per channel.
type Color struct {
	R, G, B uint8
}

// Frame is an ordered per-LED color sequence, index order matching the device.
type Frame []Color

var (
	Black   = Color{0, 0, 0}
	White   = Color{255, 255, 255}
	Gray    = Color{80, 65, 80}
	DimGray = Color{40, 35, 40}
)

// ParseHex parses "#rrggbb" (leading '#' optional) into a Color.
func ParseHex(s string) (Color, error) {
	h := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(h) != 6 {
		return Black, fmt.Errorf("bad hex color %q", s)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return Black, fmt.Errorf("bad hex color %q: %w", s, err)
	}
	return Color{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v)}, nil
}

// MustHex is ParseHex for compile-time constants; panics on malformed input.
func MustHex(s string) Color {
	c, err := ParseHex(s)
	if err != nil {
		panic(err)
	}
	return c
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

func clamp255(x float64) uint8 {
	if x <= 0 {
		return 0
	}
	if x >= 255 {
		return 255
	}
	return uint8(x)
}

// Lerp linearly interpolates from -> to. t is clamped to [0,1].
func Lerp(from, to Color, t float64) Color {
	t = clamp01(t)
	return Color{
		R: clamp255(float64(from.R)*(1-t) + float64(to.R)*t),
		G: clamp255(float64(from.G)*(1-t) + float64(to.G)*t),
		B: clamp255(float64(from.B)*(1-t) + float64(to.B)*t),
	}
}

// Scale multiplies all channels by s (clamped to [0,1]).
func (c Color) Scale(s float64) Color {
	s = clamp01(s)
	return Color{
		R: clamp255(float64(c.R) * s),
		G: clamp255(float64(c.G) * s),
		B: clamp255(float64(c.B) * s),
	}
}

// Solid returns a frame of n copies of c.
func Solid(c Color, n int) Frame {
	f := make(Frame, n)
	for i := range f {
		f[i] = c
	}
	return f
}

// Clone returns an independent copy of the frame.
func (f Frame) Clone() Frame {
	out := make(Frame, len(f))
	copy(out, f)
	return out
}

// MixFrames blends a and b into dst by alpha (0..1). All three must share a length.
func MixFrames(dst, a, b Frame, alpha float64) {
	if alpha <= 0 {
		copy(dst, a)
		return
	}
	if alpha >= 1 {
		copy(dst, b)
		return
	}
	for i := range dst {
		dst[i] = Lerp(a[i], b[i], alpha)
	}
}
