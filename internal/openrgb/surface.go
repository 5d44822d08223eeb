package openrgb

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dgudim/keyboard-vis/internal/device"
	"github.com/dgudim/keyboard-vis/internal/render"
)

// SurfaceConfig selects which controller and zone the surface drives.
type SurfaceConfig struct {
	Addr       string
	ClientName string
	// Controller is matched against controller names verbatim.
	Controller string
	// Zone selects one zone of the controller; empty means the whole
	// controller.
	Zone string
	// Timeout bounds each network operation.
	Timeout time.Duration
}

// Surface drives one zone of one OpenRGB controller. It implements
// device.Surface; Attach performs discovery and zone hygiene, Flush commits
// the staged frame in a single zone write.
type Surface struct {
	cfg SurfaceConfig

	client       *Client
	controllerID int
	zoneID       int
	wholeDevice  bool
	ledCount     int
	ledNames     []string
	staged       render.Frame
}

func NewSurface(cfg SurfaceConfig) *Surface {
	if cfg.ClientName == "" {
		cfg.ClientName = "keyboard-vis"
	}
	return &Surface{cfg: cfg}
}

func (s *Surface) Attach(ctx context.Context) (int, error) {
	client, err := Dial(ctx, s.cfg.Addr, s.cfg.ClientName, s.cfg.Timeout)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", device.ErrDeviceUnavailable, err)
	}

	count, err := client.ControllerCount()
	if err != nil {
		client.Close()
		return 0, fmt.Errorf("%w: %v", device.ErrDeviceUnavailable, err)
	}

	found := false
	for id := 0; id < count; id++ {
		ctrl, err := client.Controller(id)
		if err != nil {
			client.Close()
			return 0, fmt.Errorf("%w: controller %d: %v", device.ErrDeviceUnavailable, id, err)
		}
		log.Info().Int("id", id).Str("name", ctrl.Name).
			Strs("zones", zoneNames(ctrl)).Msg("controller")

		if ctrl.Name != s.cfg.Controller {
			// Not ours: leave nothing glowing behind.
			blackOut(client, id, ctrl, "")
			continue
		}
		if err := s.adopt(client, id, ctrl); err != nil {
			client.Close()
			return 0, err
		}
		found = true
	}
	if !found {
		client.Close()
		return 0, fmt.Errorf("%w: controller %q not found", device.ErrDeviceUnavailable, s.cfg.Controller)
	}

	s.client = client
	s.staged = make(render.Frame, s.ledCount)
	return s.ledCount, nil
}

func (s *Surface) adopt(client *Client, id int, ctrl *Controller) error {
	// Direct mode gives us per-LED software control; fall back to the
	// custom-mode request when the controller has no mode named Direct.
	if di := ctrl.DirectModeIndex(); di >= 0 {
		if err := client.UpdateMode(id, di, ctrl.Modes[di]); err != nil {
			return fmt.Errorf("%w: switch to direct: %v", device.ErrDeviceUnavailable, err)
		}
	} else if err := client.SetCustomMode(id); err != nil {
		return fmt.Errorf("%w: set custom mode: %v", device.ErrDeviceUnavailable, err)
	}

	s.controllerID = id
	if s.cfg.Zone == "" {
		s.wholeDevice = true
		s.ledCount = len(ctrl.LEDs)
		s.ledNames = ledNames(ctrl.LEDs)
		return nil
	}

	for zi, z := range ctrl.Zones {
		if z.Name == s.cfg.Zone {
			s.wholeDevice = false
			s.zoneID = zi
			s.ledCount = int(z.LedCount)
			s.ledNames = zoneLEDNames(ctrl, zi)
			blackOut(client, id, ctrl, s.cfg.Zone)
			return nil
		}
	}
	return fmt.Errorf("%w: zone %q not found on %q", device.ErrDeviceUnavailable, s.cfg.Zone, ctrl.Name)
}

// blackOut turns off every zone except keep ("" = all zones).
func blackOut(client *Client, id int, ctrl *Controller, keep string) {
	if len(ctrl.Zones) <= 1 && keep == "" {
		if err := client.UpdateLEDs(id, make([]render.Color, len(ctrl.LEDs))); err != nil {
			log.Warn().Err(err).Str("controller", ctrl.Name).Msg("blackout failed")
		}
		return
	}
	for zi, z := range ctrl.Zones {
		if z.Name == keep {
			continue
		}
		if err := client.UpdateZoneLEDs(id, zi, make([]render.Color, z.LedCount)); err != nil {
			log.Warn().Err(err).Str("controller", ctrl.Name).Str("zone", z.Name).
				Msg("zone blackout failed")
		}
	}
}

func (s *Surface) SetFrame(f render.Frame) error {
	if len(f) != s.ledCount {
		return &device.WriteError{Op: "set", Err: fmt.Errorf("frame length %d, want %d", len(f), s.ledCount)}
	}
	copy(s.staged, f)
	return nil
}

func (s *Surface) Flush(ctx context.Context) error {
	if s.client == nil {
		return &device.WriteError{Op: "flush", Err: fmt.Errorf("not attached")}
	}
	var err error
	if s.wholeDevice {
		err = s.client.UpdateLEDs(s.controllerID, s.staged)
	} else {
		err = s.client.UpdateZoneLEDs(s.controllerID, s.zoneID, s.staged)
	}
	if err != nil {
		return &device.WriteError{Op: "flush", Err: err}
	}
	return nil
}

func (s *Surface) Close() error {
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

// LEDNames lists the attached zone's per-LED key names, for painting the idle
// substrate. Empty before Attach.
func (s *Surface) LEDNames() []string {
	return append([]string(nil), s.ledNames...)
}

func ledNames(leds []LED) []string {
	out := make([]string, len(leds))
	for i, l := range leds {
		out[i] = l.Name
	}
	return out
}

// zoneLEDNames slices the controller's flat LED list by zone order.
func zoneLEDNames(ctrl *Controller, zone int) []string {
	start := 0
	for zi := 0; zi < zone; zi++ {
		start += int(ctrl.Zones[zi].LedCount)
	}
	end := start + int(ctrl.Zones[zone].LedCount)
	if end > len(ctrl.LEDs) {
		end = len(ctrl.LEDs)
	}
	if start > end {
		start = end
	}
	return ledNames(ctrl.LEDs[start:end])
}

func zoneNames(ctrl *Controller) []string {
	out := make([]string, len(ctrl.Zones))
	for i, z := range ctrl.Zones {
		out[i] = z.Name
	}
	return out
}
