// Package fake provides an in-memory Surface for headless runs and tests.
package fake

import (
	"context"
	"fmt"
	"sync"

	"github.com/dgudim/keyboard-vis/internal/device"
	"github.com/dgudim/keyboard-vis/internal/render"
)

// Surface captures staged frames instead of writing to hardware.
type Surface struct {
	LedCount int

	// FailFlushes makes the next N flushes fail with a WriteError.
	FailFlushes int

	mu         sync.Mutex
	failAttach bool
	staged     render.Frame
	Last       render.Frame
	Flushes    int
	Closed     bool
}

// SetFailAttach toggles whether Attach reports ErrDeviceUnavailable.
func (s *Surface) SetFailAttach(fail bool) {
	s.mu.Lock()
	s.failAttach = fail
	s.mu.Unlock()
}

func (s *Surface) Attach(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAttach {
		return 0, device.ErrDeviceUnavailable
	}
	return s.LedCount, nil
}

func (s *Surface) SetFrame(f render.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(f) != s.LedCount {
		return &device.WriteError{Op: "set", Err: fmt.Errorf("frame length %d, want %d", len(f), s.LedCount)}
	}
	s.staged = f.Clone()
	return nil
}

func (s *Surface) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailFlushes > 0 {
		s.FailFlushes--
		return &device.WriteError{Op: "flush", Err: context.DeadlineExceeded}
	}
	s.Last = s.staged
	s.Flushes++
	return nil
}

func (s *Surface) Close() error {
	s.mu.Lock()
	s.Closed = true
	s.mu.Unlock()
	return nil
}

// LastFrame returns a copy of the most recently flushed frame.
func (s *Surface) LastFrame() render.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Last.Clone()
}

// FlushCount returns how many frames were committed.
func (s *Surface) FlushCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Flushes
}
