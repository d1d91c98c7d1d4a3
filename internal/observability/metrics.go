package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	Registry *prometheus.Registry

	eventsDispatched *prometheus.CounterVec
	eventsDropped    *prometheus.CounterVec
	reconnects       prometheus.Counter
	connectedChans   prometheus.Gauge
	gradings         *prometheus.CounterVec
	gradingLatency   *prometheus.HistogramVec
	generation       *prometheus.CounterVec
	durableWrites    *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		eventsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "studysync_events_dispatched_total",
			Help: "Push events dispatched to domain handlers.",
		}, []string{"domain", "kind"}),
		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "studysync_events_dropped_total",
			Help: "Push frames dropped at the channel boundary.",
		}, []string{"reason"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "studysync_channel_reconnects_total",
			Help: "Channel re-establishments after a drop or failed dial.",
		}),
		connectedChans: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "studysync_channels_connected",
			Help: "Workspace channels currently holding a live connection.",
		}),
		gradings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "studysync_gradings_total",
			Help: "Answer verifications by grading mode and outcome.",
		}, []string{"mode", "outcome"}),
		gradingLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "studysync_grading_duration_seconds",
			Help:    "Answer verification latency.",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 15, 30},
		}, []string{"mode"}),
		generation: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "studysync_generation_transitions_total",
			Help: "Generation lifecycle transitions by domain and target state.",
		}, []string{"domain", "state"}),
		durableWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "studysync_durable_writes_total",
			Help: "Progress durable writes by outcome.",
		}, []string{"outcome"}),
	}
	m.Registry.MustRegister(
		m.eventsDispatched, m.eventsDropped, m.reconnects, m.connectedChans,
		m.gradings, m.gradingLatency, m.generation, m.durableWrites,
	)
	return m
}

func (m *Metrics) EventDispatched(domain, kind string) {
	if m == nil {
		return
	}
	m.eventsDispatched.WithLabelValues(domain, kind).Inc()
}

func (m *Metrics) EventDropped(reason string) {
	if m == nil {
		return
	}
	m.eventsDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) ChannelConnected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.connectedChans.Inc()
	} else {
		m.connectedChans.Dec()
	}
}

func (m *Metrics) ObserveGrading(mode, outcome string, dur time.Duration) {
	if m == nil {
		return
	}
	m.gradings.WithLabelValues(mode, outcome).Inc()
	m.gradingLatency.WithLabelValues(mode).Observe(dur.Seconds())
}

func (m *Metrics) GenerationTransition(domain, state string) {
	if m == nil {
		return
	}
	m.generation.WithLabelValues(domain, state).Inc()
}

func (m *Metrics) DurableWrite(outcome string) {
	if m == nil {
		return
	}
	m.durableWrites.WithLabelValues(outcome).Inc()
}
