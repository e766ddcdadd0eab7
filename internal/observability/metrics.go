package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "quake_alert"

// Metrics holds the Prometheus counters, histograms, and gauges for the monitor.
type Metrics struct {
	MonitorRunning  prometheus.Gauge
	Cycles          *prometheus.CounterVec // labels: outcome={ok,transient,fatal}
	CycleDuration   prometheus.Histogram
	LastSuccessPoll prometheus.Gauge

	// Feed client metrics.
	FeedRequests *prometheus.CounterVec // labels: outcome={success,transport,protocol,rate_limited}
	FeedDuration prometheus.Histogram
	FeedEvents   prometheus.Histogram

	// Per-event decisions and notification results.
	EventsEvaluated *prometheus.CounterVec // labels: decision={duplicate,out_of_range,invalid,notify}
	Notifications   *prometheus.CounterVec // labels: outcome={sent,failed}
	RenderFailures  prometheus.Counter
	MapCache        *prometheus.CounterVec // labels: result={hit,miss}

	// Store metrics.
	StoreCommits prometheus.Counter
	NotifiedSize prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.MonitorRunning,
		m.Cycles,
		m.CycleDuration,
		m.LastSuccessPoll,
		m.FeedRequests,
		m.FeedDuration,
		m.FeedEvents,
		m.EventsEvaluated,
		m.Notifications,
		m.RenderFailures,
		m.MapCache,
		m.StoreCommits,
		m.NotifiedSize,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		MonitorRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "monitor_running",
			Help:      "1 when the monitor loop is active, 0 when shut down.",
		}),
		Cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Poll cycles by outcome.",
		}, []string{"outcome"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of a complete poll-evaluate-notify-commit cycle.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		LastSuccessPoll: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_successful_poll_timestamp_seconds",
			Help:      "Unix time of the last feed query that succeeded.",
		}),
		FeedRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_requests_total",
			Help:      "USGS feed queries by outcome.",
		}, []string{"outcome"}),
		FeedDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "feed_request_duration_seconds",
			Help:      "USGS feed request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		FeedEvents: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "feed_batch_size",
			Help:      "Number of events returned per feed query.",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
		}),
		EventsEvaluated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_evaluated_total",
			Help:      "Feed events by evaluation decision.",
		}, []string{"decision"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification attempts by outcome.",
		}, []string{"outcome"}),
		RenderFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "map_render_failures_total",
			Help:      "Map renders that failed; the text alert was still sent.",
		}),
		MapCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "map_cache_total",
			Help:      "Rendered map cache lookups by result.",
		}, []string{"result"}),
		StoreCommits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_commits_total",
			Help:      "Event ids durably marked as notified.",
		}),
		NotifiedSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "notified_events",
			Help:      "Number of ids in the notified set.",
		}),
	}
}
