// Package config loads the static startup options from a YAML file. There is
// no runtime reconfiguration; the file is read once.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dgudim/keyboard-vis/internal/render"
)

type OpenRGB struct {
	Addr       string `yaml:"addr"`
	Controller string `yaml:"controller"`
	Zone       string `yaml:"zone"`
}

type SPI struct {
	Dev      string `yaml:"dev"`       // e.g. /dev/spidev0.0
	LedCount int    `yaml:"led_count"` // strip length
}

// Backlight selects a second OpenRGB controller carrying the ambient wave.
// An empty controller name disables it.
type Backlight struct {
	Controller string `yaml:"controller"`
	Zone       string `yaml:"zone"`
	Wave1      string `yaml:"wave1"`
	Wave2      string `yaml:"wave2"`
}

// SeverityStyle is one row of the severity table: color and pulse shape.
type SeverityStyle struct {
	Color      string  `yaml:"color"`
	PulseMs    int     `yaml:"pulse_ms"`
	PulseFloor float64 `yaml:"pulse_floor"`
}

// KeyColor paints LEDs whose key name contains any of the substrings.
type KeyColor struct {
	Keys  []string `yaml:"keys"`
	Color string   `yaml:"color"`
}

type Config struct {
	Driver string `yaml:"driver"` // "openrgb" | "spi" | "sim"

	OpenRGB   OpenRGB   `yaml:"openrgb"`
	SPI       SPI       `yaml:"spi,omitempty"`
	Backlight Backlight `yaml:"backlight,omitempty"`

	FPS int `yaml:"fps"`

	StartupMs      int     `yaml:"startup_ms"`
	NotificationMs int     `yaml:"notification_ms"`
	StallTimeoutMs int     `yaml:"stall_timeout_ms"`
	DimFactor      float64 `yaml:"dim_factor"`
	FadeMs         int     `yaml:"fade_ms"` // mode-change crossfade; 0 disables

	Severities map[string]SeverityStyle `yaml:"severities"` // low|normal|critical
	KindColors map[string]string        `yaml:"kind_colors"`

	// Substrate paints the idle pattern: named key rules first, then the
	// positional fallback colors.
	Substrate    []KeyColor `yaml:"substrate"`
	TopRowColor  string     `yaml:"top_row_color"`
	TopRowLength int        `yaml:"top_row_length"`
	MainColor    string     `yaml:"main_color"`

	PreviewAddr string `yaml:"preview_addr,omitempty"`
	MetricsAddr string `yaml:"metrics_addr,omitempty"`
}

// Default returns the built-in configuration, matching a full-size keyboard on
// a local OpenRGB server.
func Default() *Config {
	return &Config{
		Driver: "openrgb",
		OpenRGB: OpenRGB{
			Addr:       "127.0.0.1:6742",
			Controller: "Razer Ornata Chroma",
			Zone:       "Keyboard",
		},
		Backlight: Backlight{
			Wave1: "#662a00",
			Wave2: "#2a0066",
		},
		FPS:            13, // ~75ms per frame
		StartupMs:      2000,
		NotificationMs: 8000,
		StallTimeoutMs: 30000,
		DimFactor:      0.1,
		FadeMs:         230,
		Severities: map[string]SeverityStyle{
			"low":      {Color: "#42adff", PulseMs: 2000, PulseFloor: 0.25},
			"normal":   {Color: "#68ff42", PulseMs: 1200, PulseFloor: 0.15},
			"critical": {Color: "#ff4242", PulseMs: 500, PulseFloor: 0},
		},
		KindColors: map[string]string{
			"copy":     "#0094FF",
			"download": "#68ff42",
		},
		Substrate: []KeyColor{
			{Keys: []string{"Key: Number Pad", "Key: Num Lock"}, Color: "#005da1"},
			{Keys: []string{"Insert", "Delete", "Page", "Arrow", "End", "Home"}, Color: "#7800ab"},
			{Keys: []string{"Print", "Scroll", "Pause"}, Color: "#8a0084"},
		},
		TopRowColor:  "#d19900",
		TopRowLength: 15,
		MainColor:    "#9e2000",
	}
}

// Load reads path and overlays it on Default.
func Load(path string) (*Config, error) {
	c := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, err
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func Save(path string, c *Config) error {
	b, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0644)
}

func (c *Config) validate() error {
	switch c.Driver {
	case "openrgb", "spi", "sim":
	default:
		return fmt.Errorf("unknown driver %q", c.Driver)
	}
	if c.FPS <= 0 || c.FPS > 240 {
		return fmt.Errorf("fps %d out of range", c.FPS)
	}
	if c.DimFactor <= 0 || c.DimFactor > 1 {
		return fmt.Errorf("dim_factor %v out of range (0,1]", c.DimFactor)
	}
	for name, s := range c.Severities {
		if _, err := render.ParseHex(s.Color); err != nil {
			return fmt.Errorf("severity %s: %w", name, err)
		}
	}
	// Colors that would otherwise only blow up at wiring time.
	if _, err := render.ParseHex(c.MainColor); err != nil {
		return fmt.Errorf("main_color: %w", err)
	}
	if _, err := render.ParseHex(c.TopRowColor); err != nil {
		return fmt.Errorf("top_row_color: %w", err)
	}
	for kind, hex := range c.KindColors {
		if _, err := render.ParseHex(hex); err != nil {
			return fmt.Errorf("kind_colors[%s]: %w", kind, err)
		}
	}
	if c.Backlight.Controller != "" {
		if _, err := render.ParseHex(c.Backlight.Wave1); err != nil {
			return fmt.Errorf("backlight wave1: %w", err)
		}
		if _, err := render.ParseHex(c.Backlight.Wave2); err != nil {
			return fmt.Errorf("backlight wave2: %w", err)
		}
	}
	return nil
}

func (c *Config) Tick() time.Duration {
	return time.Second / time.Duration(c.FPS)
}

func (c *Config) StartupDuration() time.Duration {
	return time.Duration(c.StartupMs) * time.Millisecond
}

func (c *Config) DisplayDuration() time.Duration {
	return time.Duration(c.NotificationMs) * time.Millisecond
}

func (c *Config) StallTimeout() time.Duration {
	return time.Duration(c.StallTimeoutMs) * time.Millisecond
}

// Fade is the mode-change crossfade length; fade_ms <= 0 disables fading.
func (c *Config) Fade() time.Duration {
	if c.FadeMs <= 0 {
		return -1
	}
	return time.Duration(c.FadeMs) * time.Millisecond
}

// BacklightWaves parses the ambient wave colors.
func (c *Config) BacklightWaves() (render.Color, render.Color) {
	w1, err1 := render.ParseHex(c.Backlight.Wave1)
	w2, err2 := render.ParseHex(c.Backlight.Wave2)
	if err1 != nil || err2 != nil {
		return render.MustHex("#662a00"), render.MustHex("#2a0066")
	}
	return w1, w2
}

// Pulses converts the severity table into animator pulse settings.
func (c *Config) Pulses() map[render.Severity]render.Pulse {
	out := render.DefaultPulses()
	for name, s := range c.Severities {
		sev, ok := severityByName(name)
		if !ok || s.PulseMs <= 0 {
			continue
		}
		out[sev] = render.Pulse{
			Period: time.Duration(s.PulseMs) * time.Millisecond,
			Floor:  s.PulseFloor,
		}
	}
	return out
}

// SeverityColor returns the configured color hint for a severity.
func (c *Config) SeverityColor(sev render.Severity) render.Color {
	if s, ok := c.Severities[sev.String()]; ok {
		if col, err := render.ParseHex(s.Color); err == nil {
			return col
		}
	}
	return render.White
}

// ProgressColors parses the kind color table, dropping malformed entries.
func (c *Config) ProgressColors() map[string]render.Color {
	out := map[string]render.Color{}
	for kind, hex := range c.KindColors {
		if col, err := render.ParseHex(hex); err == nil {
			out[kind] = col
		}
	}
	return out
}

// SubstrateRules converts the key-color table to render rules.
func (c *Config) SubstrateRules() []render.KeyRule {
	out := make([]render.KeyRule, 0, len(c.Substrate))
	for _, kc := range c.Substrate {
		col, err := render.ParseHex(kc.Color)
		if err != nil {
			continue
		}
		out = append(out, render.KeyRule{Keys: kc.Keys, Color: col})
	}
	return out
}

func severityByName(name string) (render.Severity, bool) {
	switch name {
	case "low":
		return render.SeverityLow, true
	case "normal":
		return render.SeverityNormal, true
	case "critical":
		return render.SeverityCritical, true
	default:
		return render.SeverityNormal, false
	}
}
