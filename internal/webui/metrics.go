package webui

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tobert/otlp-timeline/internal/storage"
)

// metrics are registered on a per-server registry so several servers can
// coexist in one process (tests, embedded use).
type metrics struct {
	registry *prometheus.Registry

	sessionsActive prometheus.Gauge
	sessionsTotal  prometheus.Counter
	events         *prometheus.CounterVec
	updatesSent    prometheus.Counter
	minimapRedraws prometheus.Counter
	minimapPNGs    prometheus.Counter
}

func newMetrics(store *storage.TraceStore) *metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &metrics{
		registry: reg,
		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "otlp_timeline_sessions_active",
			Help: "Interactive timeline sessions currently connected",
		}),
		sessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "otlp_timeline_sessions_total",
			Help: "Interactive timeline sessions opened",
		}),
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "otlp_timeline_session_events_total",
			Help: "Client events applied to timeline sessions",
		}, []string{"type"}),
		updatesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "otlp_timeline_session_updates_total",
			Help: "View updates pushed to timeline sessions",
		}),
		minimapRedraws: factory.NewCounter(prometheus.CounterOpts{
			Name: "otlp_timeline_minimap_redraws_total",
			Help: "Full minimap span raster passes",
		}),
		minimapPNGs: factory.NewCounter(prometheus.CounterOpts{
			Name: "otlp_timeline_minimap_png_total",
			Help: "Minimap images served over HTTP",
		}),
	}

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "otlp_timeline_traces_stored",
		Help: "Traces currently held in the store",
	}, func() float64 { return float64(store.Stats().TraceCount) })
	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "otlp_timeline_spans_received_total",
		Help: "Spans received over OTLP",
	}, func() float64 { return float64(store.Stats().SpansReceived) })
	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "otlp_timeline_traces_evicted_total",
		Help: "Traces evicted to stay within capacity",
	}, func() float64 { return float64(store.Stats().Evicted) })

	return m
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}
