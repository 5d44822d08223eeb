// Package sources hosts the desktop event watchers: notifications, transfer
// progress and screen lock, all delivered over the D-Bus session bus. Each
// watcher runs one goroutine and feeds typed events into the sink; the bus
// connection is re-established with a flat delay when it drops.
package sources

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/dgudim/keyboard-vis/internal/state"
)

// Sink receives the events the watchers produce. *state.Resolver satisfies it.
type Sink interface {
	IngestNotification(state.NotificationEvent)
	DismissNotification(id uint32)
	IngestProgress(state.ProgressEvent)
	SetLocked(bool)
}

const reconnectDelay = 3 * time.Second

// Watcher is one event source with a blocking run loop.
type Watcher interface {
	Name() string
	// Run blocks until ctx is cancelled, reconnecting internally on bus
	// failures.
	Run(ctx context.Context) error
}

// RunAll starts every watcher on its own goroutine and blocks until ctx ends.
func RunAll(ctx context.Context, watchers ...Watcher) {
	for _, w := range watchers {
		go func(w Watcher) {
			if err := w.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Str("watcher", w.Name()).Msg("watcher stopped")
			}
		}(w)
	}
	<-ctx.Done()
}

// runWithReconnect repeats connect-and-listen until ctx is done.
func runWithReconnect(ctx context.Context, clock clockwork.Clock, name string, attempt func(ctx context.Context) error) error {
	for {
		err := attempt(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn().Err(err).Str("watcher", name).Dur("delay", reconnectDelay).
			Msg("bus connection lost, reconnecting")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clock.After(reconnectDelay):
		}
	}
}
