package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dgudim/keyboard-vis/internal/config"
	"github.com/dgudim/keyboard-vis/internal/device"
	"github.com/dgudim/keyboard-vis/internal/device/spi"
	"github.com/dgudim/keyboard-vis/internal/loop"
	"github.com/dgudim/keyboard-vis/internal/metrics"
	"github.com/dgudim/keyboard-vis/internal/openrgb"
	"github.com/dgudim/keyboard-vis/internal/render"
	"github.com/dgudim/keyboard-vis/internal/sources"
	"github.com/dgudim/keyboard-vis/internal/state"
	"github.com/dgudim/keyboard-vis/internal/ws"
)

func main() {
	var (
		configPath  = flag.String("config", "keyboard-vis.yaml", "path to config file")
		driver      = flag.String("driver", "", "device driver: openrgb | spi | sim (overrides config)")
		addr        = flag.String("addr", "", "OpenRGB server address (overrides config)")
		previewLeds = flag.Int("preview-leds", 132, "virtual LED count for the sim driver")
		logLevel    = flag.String("log-level", "info", "log level: debug | info | warn | error")
	)
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen})
	if lvl, err := zerolog.ParseLevel(*logLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Fatal().Err(err).Str("path", *configPath).Msg("config load failed")
		}
		log.Warn().Str("path", *configPath).Msg("no config file, using defaults")
		cfg = config.Default()
	}
	if *driver != "" {
		cfg.Driver = *driver
	}
	if *addr != "" {
		cfg.OpenRGB.Addr = *addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clock := clockwork.NewRealClock()
	m := metrics.New()

	resolver := state.New(state.Config{
		StartupDuration: cfg.StartupDuration(),
		DisplayDuration: cfg.DisplayDuration(),
		StallTimeout:    cfg.StallTimeout(),
	}, clock.Now())
	resolver.Ingested = m.EventIngested

	surface, preview := buildSurface(cfg, *previewLeds)
	ledCount, err := surface.Attach(ctx)
	if err != nil {
		// Not fatal: the render loop keeps retrying. Render against an
		// empty surface until it appears.
		log.Warn().Err(err).Msg("device not available yet")
	}

	anim := render.NewAnimator(render.Options{
		Base:               buildSubstrate(cfg, surface, ledCount),
		BaseFill:           render.MustHex(cfg.MainColor),
		DimFactor:          cfg.DimFactor,
		StartupDuration:    cfg.StartupDuration(),
		Pulses:             cfg.Pulses(),
		KindColors:         cfg.ProgressColors(),
		ProgressBackground: render.DimGray,
	})

	go sources.RunAll(ctx,
		sources.NewNotificationWatcher(resolver, clock, cfg.SeverityColor),
		sources.NewProgressWatcher(resolver, clock),
		sources.NewLockWatcher(resolver, clock),
	)

	if cfg.MetricsAddr != "" {
		go func() {
			if err := m.Serve(ctx, cfg.MetricsAddr); err != nil {
				log.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}
	if preview != nil && cfg.PreviewAddr != "" {
		go func() {
			if err := preview.Serve(ctx, cfg.PreviewAddr); err != nil {
				log.Error().Err(err).Msg("preview server failed")
			}
		}()
	}

	var backlightDone sync.WaitGroup
	if cfg.Backlight.Controller != "" {
		backlightDone.Add(1)
		go func() {
			defer backlightDone.Done()
			runBacklight(ctx, cfg, resolver, clock)
		}()
	}

	l := loop.New(loop.Config{
		Surface:  surface,
		Resolver: resolver,
		Animator: anim,
		Tick:     cfg.Tick(),
		Fade:     cfg.Fade(),
		Clock:    clock,
		Metrics:  m,
		// The substrate depends on the LED names, which may only appear on a
		// later reconnect.
		OnAttach:         func(n int) { anim.SetBase(buildSubstrate(cfg, surface, n)) },
		AttachedLedCount: ledCount,
	})
	log.Info().Str("driver", cfg.Driver).Dur("tick", cfg.Tick()).Msg("starting render loop")
	if err := l.Run(ctx); err != nil && err != context.Canceled {
		log.Fatal().Err(err).Msg("render loop failed")
	}
	// Let the backlight finish its own fade-out.
	backlightDone.Wait()
	log.Info().Msg("exited")
}

// runBacklight drives the secondary ambient controller with its own client
// connection and render loop, sharing the resolver for lock state.
func runBacklight(ctx context.Context, cfg *config.Config, resolver *state.Resolver, clock clockwork.Clock) {
	w1, w2 := cfg.BacklightWaves()
	bl := loop.New(loop.Config{
		Surface: openrgb.NewSurface(openrgb.SurfaceConfig{
			Addr:       cfg.OpenRGB.Addr,
			ClientName: "keyboard-vis-backlight",
			Controller: cfg.Backlight.Controller,
			Zone:       cfg.Backlight.Zone,
		}),
		Resolver: resolver,
		Animator: render.NewBacklight(render.BacklightOptions{
			Wave1:           w1,
			Wave2:           w2,
			StartupDuration: cfg.StartupDuration(),
		}, clock.Now()),
		Tick: cfg.Tick(),
		// A long fade here is the lock/unlock brightness ramp.
		Fade:  time.Second,
		Clock: clock,
	})
	log.Info().Str("controller", cfg.Backlight.Controller).Msg("starting backlight loop")
	if err := bl.Run(ctx); err != nil && err != context.Canceled {
		log.Error().Err(err).Msg("backlight loop failed")
	}
}

// buildSurface picks the device backend. The preview surface is returned
// separately so its HTTP endpoint can be served.
func buildSurface(cfg *config.Config, previewLeds int) (device.Surface, *ws.Preview) {
	switch cfg.Driver {
	case "spi":
		return spi.NewSurface(cfg.SPI.Dev, cfg.SPI.LedCount), nil
	case "sim":
		p := ws.NewPreview(previewLeds)
		return p, p
	default:
		return openrgb.NewSurface(openrgb.SurfaceConfig{
			Addr:       cfg.OpenRGB.Addr,
			Controller: cfg.OpenRGB.Controller,
			Zone:       cfg.OpenRGB.Zone,
		}), nil
	}
}

// buildSubstrate paints the idle pattern. Surfaces that know their per-LED key
// names get the named rules; anything else gets the positional fallback only.
func buildSubstrate(cfg *config.Config, surface device.Surface, ledCount int) render.Frame {
	topRow := render.MustHex(cfg.TopRowColor)
	main := render.MustHex(cfg.MainColor)
	fallback := func(_ string, index int) render.Color {
		if index < cfg.TopRowLength {
			return topRow
		}
		return main
	}

	if named, ok := surface.(interface{ LEDNames() []string }); ok {
		if names := named.LEDNames(); len(names) > 0 {
			return render.FrameByKeyNames(names, cfg.SubstrateRules(), fallback)
		}
	}
	f := make(render.Frame, ledCount)
	for i := range f {
		f[i] = fallback("", i)
	}
	return f
}
