package sources

import (
	"context"
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/dgudim/keyboard-vis/internal/state"
)

// ProgressWatcher subscribes to com.canonical.Unity.LauncherEntry Update
// signals, the convention file managers and browsers use to report transfer
// progress on their launcher icon.
type ProgressWatcher struct {
	sink  Sink
	clock clockwork.Clock
}

func NewProgressWatcher(sink Sink, clock clockwork.Clock) *ProgressWatcher {
	return &ProgressWatcher{sink: sink, clock: clock}
}

func (w *ProgressWatcher) Name() string { return "progress" }

func (w *ProgressWatcher) Run(ctx context.Context) error {
	return runWithReconnect(ctx, w.clock, w.Name(), w.listen)
}

func (w *ProgressWatcher) listen(ctx context.Context) error {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface("com.canonical.Unity.LauncherEntry"),
		dbus.WithMatchMember("Update"),
	); err != nil {
		return fmt.Errorf("add match: %w", err)
	}

	ch := make(chan *dbus.Signal, 16)
	conn.Signal(ch)
	log.Info().Msg("watching transfer progress")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig, ok := <-ch:
			if !ok {
				return fmt.Errorf("progress signal channel closed")
			}
			if ev, ok := w.decodeUpdate(sig.Body); ok {
				w.sink.IngestProgress(ev)
			}
		}
	}
}

// decodeUpdate unpacks (app_uri s, properties a{sv}). A hidden progress bar
// counts as completion.
func (w *ProgressWatcher) decodeUpdate(body []interface{}) (state.ProgressEvent, bool) {
	if len(body) < 2 {
		return state.ProgressEvent{}, false
	}
	uri, _ := body[0].(string)
	props, ok := body[1].(map[string]dbus.Variant)
	if !ok {
		return state.ProgressEvent{}, false
	}

	fraction, hasFraction := 0.0, false
	if v, ok := props["progress"]; ok {
		if f, ok := v.Value().(float64); ok {
			fraction, hasFraction = f, true
		}
	}
	visible := true
	if v, ok := props["progress-visible"]; ok {
		if b, ok := v.Value().(bool); ok {
			visible = b
		}
	}
	if !hasFraction {
		return state.ProgressEvent{}, false
	}
	if !visible {
		fraction = 1 // treat a hidden bar as finished
	}
	return state.ProgressEvent{
		Kind:      kindFromURI(uri),
		Fraction:  fraction,
		UpdatedAt: w.clock.Now(),
	}, true
}

// kindFromURI reduces "application://org.kde.dolphin.desktop" to "dolphin".
func kindFromURI(uri string) string {
	s := uri
	if i := strings.LastIndex(s, "/"); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(s, ".desktop")
	if i := strings.LastIndex(s, "."); i >= 0 {
		s = s[i+1:]
	}
	if s == "" {
		return "transfer"
	}
	return s
}
