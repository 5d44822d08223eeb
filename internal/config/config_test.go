package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgudim/keyboard-vis/internal/render"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "keyboard-vis.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	c := Default()
	require.NoError(t, c.validate())
	assert.Equal(t, "openrgb", c.Driver)
	assert.Equal(t, 8*time.Second, c.DisplayDuration())
	assert.Equal(t, 30*time.Second, c.StallTimeout())
	assert.Equal(t, 230*time.Millisecond, c.Fade())
	assert.InDelta(t, 76.9, c.Tick().Seconds()*1000, 1.0)
}

func TestFadeZeroDisables(t *testing.T) {
	c := Default()
	c.FadeMs = 0
	assert.Negative(t, c.Fade())
}

func TestBacklightWavesFallBackOnUnset(t *testing.T) {
	c := Default()
	w1, w2 := c.BacklightWaves()
	assert.Equal(t, render.Color{R: 0x66, G: 0x2a}, w1)
	assert.Equal(t, render.Color{R: 0x2a, B: 0x66}, w2)

	c.Backlight.Wave1 = ""
	w1, w2 = c.BacklightWaves()
	assert.Equal(t, render.Color{R: 0x66, G: 0x2a}, w1)
	assert.Equal(t, render.Color{R: 0x2a, B: 0x66}, w2)
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
driver: sim
fps: 20
dim_factor: 0.3
openrgb:
  controller: Some Other Board
kind_colors:
  upload: "#112233"
`)
	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sim", c.Driver)
	assert.Equal(t, 20, c.FPS)
	assert.Equal(t, "Some Other Board", c.OpenRGB.Controller)
	// untouched fields keep their defaults
	assert.Equal(t, "127.0.0.1:6742", c.OpenRGB.Addr)
	assert.Equal(t, 8000, c.NotificationMs)

	assert.Equal(t, render.Color{R: 0x11, G: 0x22, B: 0x33}, c.ProgressColors()["upload"])
}

func TestLoadRejectsBadValues(t *testing.T) {
	for name, body := range map[string]string{
		"driver":         "driver: dmx",
		"fps":            "fps: 0",
		"dim":            "dim_factor: 1.5",
		"sev color":      "severities: {low: {color: notacolor}}",
		"main color":     "main_color: nope",
		"top row color":  "top_row_color: '#12345'",
		"kind color":     "kind_colors: {copy: zzz}",
		"backlight wave": "backlight: {controller: Light Strip, wave1: bad}",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.True(t, os.IsNotExist(err))
}

func TestPulsesOverride(t *testing.T) {
	c := Default()
	c.Severities["critical"] = SeverityStyle{Color: "#ff0000", PulseMs: 250, PulseFloor: 0.1}
	p := c.Pulses()
	assert.Equal(t, 250*time.Millisecond, p[render.SeverityCritical].Period)
	// unconfigured severities fall back to the built-in shape
	assert.Equal(t, render.DefaultPulses()[render.SeverityLow], p[render.SeverityLow])
}

func TestSeverityColorFallsBackToWhite(t *testing.T) {
	c := Default()
	delete(c.Severities, "critical")
	assert.Equal(t, render.White, c.SeverityColor(render.SeverityCritical))
	assert.NotEqual(t, render.White, c.SeverityColor(render.SeverityLow))
}

func TestSubstrateRulesSkipMalformed(t *testing.T) {
	c := Default()
	c.Substrate = append(c.Substrate, KeyColor{Keys: []string{"F"}, Color: "oops"})
	rules := c.SubstrateRules()
	assert.Len(t, rules, 3)
}

func TestSaveRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	orig := Default()
	orig.Driver = "sim"
	require.NoError(t, Save(path, orig))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, orig, loaded)
}
