package sources

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// LockWatcher follows org.freedesktop.ScreenSaver ActiveChanged transitions.
type LockWatcher struct {
	sink  Sink
	clock clockwork.Clock
}

func NewLockWatcher(sink Sink, clock clockwork.Clock) *LockWatcher {
	return &LockWatcher{sink: sink, clock: clock}
}

func (w *LockWatcher) Name() string { return "lock" }

func (w *LockWatcher) Run(ctx context.Context) error {
	return runWithReconnect(ctx, w.clock, w.Name(), w.listen)
}

func (w *LockWatcher) listen(ctx context.Context) error {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface("org.freedesktop.ScreenSaver"),
		dbus.WithMatchMember("ActiveChanged"),
	); err != nil {
		return fmt.Errorf("add match: %w", err)
	}

	ch := make(chan *dbus.Signal, 4)
	conn.Signal(ch)
	log.Info().Msg("watching screen lock state")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig, ok := <-ch:
			if !ok {
				return fmt.Errorf("lock signal channel closed")
			}
			if len(sig.Body) != 1 {
				continue
			}
			if locked, ok := sig.Body[0].(bool); ok {
				log.Debug().Bool("locked", locked).Msg("lock state changed")
				w.sink.SetLocked(locked)
			}
		}
	}
}
