// Package device abstracts the addressable-LED output as one logical ordered
// LED sequence, possibly spread over several physical devices.
package device

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgudim/keyboard-vis/internal/render"
)

// ErrDeviceUnavailable means no usable device was found at attach time.
var ErrDeviceUnavailable = errors.New("device unavailable")

// WriteError wraps a transient frame-write failure. The render loop treats it
// as retryable.
type WriteError struct {
	Op  string
	Err error
}

func (e *WriteError) Error() string { return fmt.Sprintf("device write %s: %v", e.Op, e.Err) }
func (e *WriteError) Unwrap() error { return e.Err }

// Surface is the render loop's only view of hardware. Attach must be called
// once before SetFrame/Flush; the LED count it returns never changes afterward.
type Surface interface {
	Attach(ctx context.Context) (ledCount int, err error)
	// SetFrame stages a frame. Fails if the frame length does not match the
	// attached LED count.
	SetFrame(f render.Frame) error
	// Flush commits the staged frame to the device in one write.
	Flush(ctx context.Context) error
	Close() error
}

// segment is one physical device's slice of the logical sequence.
type segment struct {
	surface Surface
	offset  int
	count   int
}

// Multi concatenates several surfaces into one logical sequence. The
// logical-index mapping is built once at attach and immutable afterward.
type Multi struct {
	surfaces []Surface
	segments []segment
	total    int
}

func NewMulti(surfaces ...Surface) *Multi {
	return &Multi{surfaces: surfaces}
}

func (m *Multi) Attach(ctx context.Context) (int, error) {
	if len(m.surfaces) == 0 {
		return 0, ErrDeviceUnavailable
	}
	m.segments = m.segments[:0]
	m.total = 0
	for _, s := range m.surfaces {
		n, err := s.Attach(ctx)
		if err != nil {
			return 0, err
		}
		m.segments = append(m.segments, segment{surface: s, offset: m.total, count: n})
		m.total += n
	}
	return m.total, nil
}

func (m *Multi) SetFrame(f render.Frame) error {
	if len(f) != m.total {
		return &WriteError{Op: "set", Err: fmt.Errorf("frame length %d, want %d", len(f), m.total)}
	}
	for _, seg := range m.segments {
		if err := seg.surface.SetFrame(f[seg.offset : seg.offset+seg.count]); err != nil {
			return err
		}
	}
	return nil
}

func (m *Multi) Flush(ctx context.Context) error {
	for _, seg := range m.segments {
		if err := seg.surface.Flush(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (m *Multi) Close() error {
	var first error
	for _, s := range m.surfaces {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
