package sources

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/dgudim/keyboard-vis/internal/render"
	"github.com/dgudim/keyboard-vis/internal/state"
)

// SeverityColors maps urgency to the color hint used when a notification
// carries no color of its own.
type SeverityColors func(render.Severity) render.Color

// NotificationWatcher monitors org.freedesktop.Notifications.Notify calls on
// the session bus and turns them into NotificationEvents.
type NotificationWatcher struct {
	sink   Sink
	clock  clockwork.Clock
	colors SeverityColors

	// nextID backs synthetic IDs for daemons that pass replaces_id == 0.
	nextID uint32
}

func NewNotificationWatcher(sink Sink, clock clockwork.Clock, colors SeverityColors) *NotificationWatcher {
	return &NotificationWatcher{sink: sink, clock: clock, colors: colors}
}

func (w *NotificationWatcher) Name() string { return "notifications" }

func (w *NotificationWatcher) Run(ctx context.Context) error {
	return runWithReconnect(ctx, w.clock, w.Name(), w.listen)
}

func (w *NotificationWatcher) listen(ctx context.Context) error {
	// Monitoring method calls needs a private connection in monitor mode;
	// a monitor connection cannot be used for anything else.
	conn, err := dbus.SessionBusPrivate()
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := conn.Auth(nil); err != nil {
		return err
	}
	if err := conn.Hello(); err != nil {
		return err
	}

	rules := []string{
		"type='method_call',interface='org.freedesktop.Notifications',member='Notify'",
		"type='method_call',interface='org.freedesktop.Notifications',member='CloseNotification'",
	}
	call := conn.BusObject().Call("org.freedesktop.DBus.Monitoring.BecomeMonitor", 0, rules, uint32(0))
	if call.Err != nil {
		return fmt.Errorf("become monitor: %w", call.Err)
	}

	ch := make(chan *dbus.Message, 16)
	conn.Eavesdrop(ch)
	log.Info().Msg("watching desktop notifications")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("notification monitor channel closed")
			}
			w.handle(msg)
		}
	}
}

func (w *NotificationWatcher) handle(msg *dbus.Message) {
	member, _ := msg.Headers[dbus.FieldMember].Value().(string)
	switch member {
	case "Notify":
		ev, ok := w.decodeNotify(msg.Body)
		if !ok {
			log.Warn().Msg("discarding malformed Notify call")
			return
		}
		log.Debug().Uint32("id", ev.ID).Stringer("severity", ev.Severity).
			Msg("notification arrived")
		w.sink.IngestNotification(ev)
	case "CloseNotification":
		if len(msg.Body) == 1 {
			if id, ok := msg.Body[0].(uint32); ok {
				w.sink.DismissNotification(id)
			}
		}
	}
}

// decodeNotify unpacks the Notify signature
// (app_name s, replaces_id u, icon s, summary s, body s, actions as, hints a{sv}, timeout i).
func (w *NotificationWatcher) decodeNotify(body []interface{}) (state.NotificationEvent, bool) {
	if len(body) < 8 {
		return state.NotificationEvent{}, false
	}
	id, ok := body[1].(uint32)
	if !ok {
		return state.NotificationEvent{}, false
	}
	hints, _ := body[6].(map[string]dbus.Variant)

	sev := severityFromHints(hints)
	if id == 0 {
		w.nextID++
		// Synthetic IDs live above the daemon's range.
		id = 1<<31 + w.nextID
	}
	return state.NotificationEvent{
		ID:          id,
		Severity:    sev,
		ColorHint:   w.colors(sev),
		ArrivalTime: w.clock.Now(),
	}, true
}

// severityFromHints maps the freedesktop urgency byte (0 low, 1 normal,
// 2 critical) to a severity, defaulting to normal.
func severityFromHints(hints map[string]dbus.Variant) render.Severity {
	v, ok := hints["urgency"]
	if !ok {
		return render.SeverityNormal
	}
	switch u := v.Value().(type) {
	case byte:
		return severityFromUrgency(int(u))
	case uint32:
		return severityFromUrgency(int(u))
	case int32:
		return severityFromUrgency(int(u))
	default:
		return render.SeverityNormal
	}
}

func severityFromUrgency(u int) render.Severity {
	switch u {
	case 0:
		return render.SeverityLow
	case 2:
		return render.SeverityCritical
	default:
		return render.SeverityNormal
	}
}
