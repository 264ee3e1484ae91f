// Package metrics exposes prometheus instruments for the live question client. Every method is
// safe on a nil *Metrics so callers can leave instrumentation off.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ama"

type Metrics struct {
	registry *prometheus.Registry

	framesReceived   prometheus.Counter
	framesDropped    prometheus.Counter
	eventsApplied    *prometheus.CounterVec
	reconnects       prometheus.Counter
	liveState        *prometheus.GaugeVec
	snapshotFetches  *prometheus.CounterVec
	submissions      *prometheus.CounterVec
	staleResultDrops prometheus.Counter
}

// New creates the instruments on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		framesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "live", Name: "frames_received_total",
			Help: "Frames read from the live channel.",
		}),
		framesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "live", Name: "frames_dropped_total",
			Help: "Frames that could not be decoded and were dropped.",
		}),
		eventsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store", Name: "events_applied_total",
			Help: "Live events that changed the store, by kind.",
		}, []string{"kind"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "live", Name: "reconnect_attempts_total",
			Help: "Attempts to re-establish a dropped live channel.",
		}),
		liveState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "live", Name: "state",
			Help: "1 for the current live channel state, 0 otherwise.",
		}, []string{"state"}),
		snapshotFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "snapshot", Name: "fetches_total",
			Help: "Room snapshot fetches, by result.",
		}, []string{"result"}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "submit", Name: "submissions_total",
			Help: "Question submissions, by result.",
		}, []string{"result"}),
		staleResultDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "snapshot", Name: "stale_results_total",
			Help: "Snapshot results discarded because the view moved to another room.",
		}),
	}
	m.registry.MustRegister(
		m.framesReceived, m.framesDropped, m.eventsApplied, m.reconnects,
		m.liveState, m.snapshotFetches, m.submissions, m.staleResultDrops,
	)
	return m
}

// Registry is where the instruments live.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) FrameReceived() {
	if m != nil {
		m.framesReceived.Inc()
	}
}

func (m *Metrics) FrameDropped() {
	if m != nil {
		m.framesDropped.Inc()
	}
}

func (m *Metrics) EventApplied(kind string) {
	if m != nil {
		m.eventsApplied.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) ReconnectAttempt() {
	if m != nil {
		m.reconnects.Inc()
	}
}

// LiveState marks current as the only active state among all.
func (m *Metrics) LiveState(current string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		m.liveState.WithLabelValues(s).Set(v)
	}
}

func (m *Metrics) SnapshotFetch(result string) {
	if m != nil {
		m.snapshotFetches.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) StaleResult() {
	if m != nil {
		m.staleResultDrops.Inc()
	}
}

func (m *Metrics) Submission(result string) {
	if m != nil {
		m.submissions.WithLabelValues(result).Inc()
	}
}
