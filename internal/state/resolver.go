// Package state reduces asynchronously arriving desktop events (notifications,
// transfer progress, screen lock) into the single visual mode the animator
// renders. All mutation and reads go through one mutex so a render tick never
// observes a half-applied event set.
package state

import (
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dgudim/keyboard-vis/internal/render"
)

// NotificationEvent is one desktop notification as delivered by the
// notification watcher.
type NotificationEvent struct {
	ID          uint32
	Severity    render.Severity
	ColorHint   render.Color
	ArrivalTime time.Time
}

// ProgressEvent is one report for a transfer identified by Kind.
type ProgressEvent struct {
	Kind      string
	Fraction  float64
	UpdatedAt time.Time
}

// Config bounds the lifetimes the resolver enforces.
type Config struct {
	StartupDuration time.Duration // Startup mode window after process start
	DisplayDuration time.Duration // how long one notification stays active
	StallTimeout    time.Duration // drop a progress with no update for this long
}

type progressEntry struct {
	fraction  float64
	updatedAt time.Time
}

// Resolver holds the current desktop state. The zero value is not usable;
// construct with New.
type Resolver struct {
	mu  sync.Mutex
	cfg Config

	startedAt     time.Time
	locked        bool
	notifications []NotificationEvent
	progresses    map[string]progressEntry

	// Ingested is notified per accepted event; nil means no metrics.
	Ingested func(kind string)
}

func New(cfg Config, startedAt time.Time) *Resolver {
	if cfg.StartupDuration <= 0 {
		cfg.StartupDuration = 2 * time.Second
	}
	if cfg.DisplayDuration <= 0 {
		cfg.DisplayDuration = 8 * time.Second
	}
	if cfg.StallTimeout <= 0 {
		cfg.StallTimeout = 30 * time.Second
	}
	return &Resolver{
		cfg:        cfg,
		startedAt:  startedAt,
		progresses: map[string]progressEntry{},
	}
}

func (r *Resolver) ingested(kind string) {
	if r.Ingested != nil {
		r.Ingested(kind)
	}
}

// IngestNotification records a notification. Replaces an existing entry with
// the same ID (notification daemons reuse IDs for updates).
func (r *Resolver) IngestNotification(ev NotificationEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.notifications {
		if r.notifications[i].ID == ev.ID {
			r.notifications[i] = ev
			r.ingested("notification")
			return
		}
	}
	r.notifications = append(r.notifications, ev)
	r.ingested("notification")
}

// DismissNotification removes a notification before its display duration ends.
func (r *Resolver) DismissNotification(id uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.notifications {
		if r.notifications[i].ID == id {
			r.notifications = append(r.notifications[:i], r.notifications[i+1:]...)
			return
		}
	}
}

// IngestProgress records a transfer report. A fraction outside [0,1] is
// clamped; NaN is discarded. A fraction reaching 1.0 completes the transfer
// and removes it.
func (r *Resolver) IngestProgress(ev ProgressEvent) {
	if ev.Kind == "" || math.IsNaN(ev.Fraction) || math.IsInf(ev.Fraction, 0) {
		log.Warn().Str("kind", ev.Kind).Float64("fraction", ev.Fraction).
			Msg("discarding malformed progress event")
		return
	}
	frac := ev.Fraction
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.progresses[ev.Kind]; ok && ev.UpdatedAt.Before(cur.updatedAt) {
		// Out-of-order report; keep the most recent by timestamp.
		return
	}
	if frac >= 1 {
		delete(r.progresses, ev.Kind)
		r.ingested("progress")
		return
	}
	r.progresses[ev.Kind] = progressEntry{fraction: frac, updatedAt: ev.UpdatedAt}
	r.ingested("progress")
}

// SetLocked records the screen lock state.
func (r *Resolver) SetLocked(locked bool) {
	r.mu.Lock()
	r.locked = locked
	r.mu.Unlock()
	r.ingested("lock")
}

// CurrentMode resolves the active visual mode at instant now. Expired entries
// are pruned as a side effect; the returned mode depends only on the ingested
// events and now.
func (r *Resolver) CurrentMode(now time.Time) render.Mode {
	r.mu.Lock()
	defer r.mu.Unlock()

	if now.Sub(r.startedAt) < r.cfg.StartupDuration {
		return render.Startup{StartedAt: r.startedAt}
	}

	r.pruneLocked(now)

	if n, ok := r.latestNotificationLocked(); ok {
		return render.Notification{
			Severity:  n.Severity,
			Color:     n.ColorHint,
			StartedAt: n.ArrivalTime,
		}
	}
	if kind, p, ok := r.latestProgressLocked(); ok {
		return render.Progress{Fraction: p.fraction, Kind: kind, StartedAt: p.updatedAt}
	}
	if r.locked {
		return render.Dimmed{}
	}
	return render.Idle{}
}

func (r *Resolver) pruneLocked(now time.Time) {
	kept := r.notifications[:0]
	for _, n := range r.notifications {
		if now.Sub(n.ArrivalTime) < r.cfg.DisplayDuration {
			kept = append(kept, n)
		}
	}
	r.notifications = kept

	for kind, p := range r.progresses {
		if now.Sub(p.updatedAt) > r.cfg.StallTimeout {
			log.Debug().Str("kind", kind).Msg("dropping stalled progress")
			delete(r.progresses, kind)
		}
	}
}

// latestNotificationLocked returns the most recently arrived unexpired
// notification. Most-recent wins so racing sources stay deterministic.
func (r *Resolver) latestNotificationLocked() (NotificationEvent, bool) {
	var best NotificationEvent
	found := false
	for _, n := range r.notifications {
		if !found || n.ArrivalTime.After(best.ArrivalTime) {
			best = n
			found = true
		}
	}
	return best, found
}

func (r *Resolver) latestProgressLocked() (string, progressEntry, bool) {
	var bestKind string
	var best progressEntry
	found := false
	for kind, p := range r.progresses {
		switch {
		case !found, p.updatedAt.After(best.updatedAt):
			bestKind, best = kind, p
			found = true
		case p.updatedAt.Equal(best.updatedAt) && kind < bestKind:
			// Map order is random; break exact-timestamp ties by kind.
			bestKind, best = kind, p
		}
	}
	return bestKind, best, found
}
