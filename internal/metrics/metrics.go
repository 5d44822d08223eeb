// Package metrics exposes render-loop and ingestion counters to Prometheus.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

type Metrics struct {
	registry *prometheus.Registry

	framesRendered *prometheus.CounterVec
	framesDropped  prometheus.Counter
	reconnects     prometheus.Counter
	eventsIngested *prometheus.CounterVec
	activeMode     *prometheus.GaugeVec
}

var modeNames = []string{"startup", "idle", "dimmed", "notification", "progress"}

func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.framesRendered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "keyboardvis_frames_rendered_total",
		Help: "Frames written to the device, by visual mode.",
	}, []string{"mode"})
	m.framesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "keyboardvis_frames_dropped_total",
		Help: "Frames computed but discarded while the device was unreachable.",
	})
	m.reconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "keyboardvis_device_reconnects_total",
		Help: "Successful device re-attachments after a loss.",
	})
	m.eventsIngested = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "keyboardvis_events_ingested_total",
		Help: "Desktop events accepted by the resolver, by kind.",
	}, []string{"kind"})
	m.activeMode = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "keyboardvis_active_mode",
		Help: "1 for the currently rendered visual mode, 0 otherwise.",
	}, []string{"mode"})

	m.registry.MustRegister(
		m.framesRendered, m.framesDropped, m.reconnects, m.eventsIngested, m.activeMode,
	)
	return m
}

func (m *Metrics) FrameRendered(mode string) {
	m.framesRendered.WithLabelValues(mode).Inc()
	for _, name := range modeNames {
		v := 0.0
		if name == mode {
			v = 1
		}
		m.activeMode.WithLabelValues(name).Set(v)
	}
}

func (m *Metrics) FrameDropped() { m.framesDropped.Inc() }
func (m *Metrics) Reconnected()  { m.reconnects.Inc() }

// EventIngested is wired as the resolver's Ingested callback.
func (m *Metrics) EventIngested(kind string) {
	m.eventsIngested.WithLabelValues(kind).Inc()
}

// Handler serves the registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx ends.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Info().Str("addr", addr).Msg("metrics listening")
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
