// Package spi drives a local NRZ (WS2812-class) LED strip over SPI, for
// setups without an OpenRGB server.
package spi

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"sync"

	"github.com/rs/zerolog/log"
	"periph.io/x/conn/v3/display"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/devices/v3/nrzled"
	"periph.io/x/host/v3"

	"github.com/dgudim/keyboard-vis/internal/device"
	"github.com/dgudim/keyboard-vis/internal/render"
)

// refreshRate is the NRZ bit clock base in kHz.
const refreshRate physic.Frequency = 800

var hostInit sync.Once

// Surface implements device.Surface over one SPI-attached strip.
type Surface struct {
	dev      string
	ledCount int

	drawer display.Drawer
	closer interface{ Halt() error }
	img    *image.NRGBA
}

func NewSurface(dev string, ledCount int) *Surface {
	return &Surface{dev: dev, ledCount: ledCount}
}

func (s *Surface) Attach(ctx context.Context) (int, error) {
	var initErr error
	hostInit.Do(func() { _, initErr = host.Init() })
	if initErr != nil {
		return 0, fmt.Errorf("%w: periph init: %v", device.ErrDeviceUnavailable, initErr)
	}

	port, err := spireg.Open(s.dev)
	if err != nil {
		return 0, fmt.Errorf("%w: spi open %s: %v", device.ErrDeviceUnavailable, s.dev, err)
	}

	opts := nrzled.Opts{
		NumPixels: s.ledCount,
		Channels:  3,
		Freq:      (refreshRate*3 + 100) * physic.KiloHertz,
	}
	d, err := nrzled.NewSPI(port, &opts)
	if err != nil {
		port.Close()
		return 0, fmt.Errorf("%w: nrzled: %v", device.ErrDeviceUnavailable, err)
	}
	if err := d.Halt(); err != nil {
		log.Warn().Err(err).Msg("strip halt failed")
	}

	s.drawer = d
	s.closer = d
	s.img = image.NewNRGBA(image.Rect(0, 0, s.ledCount, 1))
	log.Info().Str("dev", s.dev).Int("leds", s.ledCount).Msg("spi strip attached")
	return s.ledCount, nil
}

func (s *Surface) SetFrame(f render.Frame) error {
	if s.img == nil {
		return &device.WriteError{Op: "set", Err: fmt.Errorf("not attached")}
	}
	if len(f) != s.ledCount {
		return &device.WriteError{Op: "set", Err: fmt.Errorf("frame length %d, want %d", len(f), s.ledCount)}
	}
	for i, c := range f {
		s.img.SetNRGBA(i, 0, color.NRGBA{R: c.R, G: c.G, B: c.B, A: 255})
	}
	return nil
}

func (s *Surface) Flush(ctx context.Context) error {
	if s.drawer == nil {
		return &device.WriteError{Op: "flush", Err: fmt.Errorf("not attached")}
	}
	if err := s.drawer.Draw(s.drawer.Bounds(), s.img, image.Point{}); err != nil {
		return &device.WriteError{Op: "flush", Err: err}
	}
	return nil
}

func (s *Surface) Close() error {
	if s.closer == nil {
		return nil
	}
	err := s.closer.Halt()
	s.drawer = nil
	s.closer = nil
	return err
}
