package metrics

import "github.com/prometheus/client_golang/prometheus"

// IntakeMetrics exposes counters/histograms for the transcript intake pipeline.
type IntakeMetrics struct {
	eventsTotal      *prometheus.CounterVec
	extractionsTotal *prometheus.CounterVec
	topicTotal       *prometheus.CounterVec
	lifecycleTotal   *prometheus.CounterVec
	activeSessions   prometheus.Gauge
	eventLatency     *prometheus.HistogramVec
}

func NewIntakeMetrics(reg prometheus.Registerer) *IntakeMetrics {
	m := &IntakeMetrics{
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "physio",
			Subsystem: "intake",
			Name:      "events_total",
			Help:      "Transcript events by role and pipeline outcome",
		}, []string{"role", "outcome"}),
		extractionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "physio",
			Subsystem: "intake",
			Name:      "extractions_total",
			Help:      "Entity extraction attempts by extractor and result",
		}, []string{"kind", "result"}),
		topicTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "physio",
			Subsystem: "intake",
			Name:      "topic_transitions_total",
			Help:      "Topic tracker transitions by target topic",
		}, []string{"topic"}),
		lifecycleTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "physio",
			Subsystem: "intake",
			Name:      "lifecycle_signals_total",
			Help:      "Transport lifecycle signals received",
		}, []string{"state"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "physio",
			Subsystem: "intake",
			Name:      "active_sessions",
			Help:      "Sessions currently held by the registry",
		}),
		eventLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "physio",
			Subsystem: "intake",
			Name:      "event_processing_seconds",
			Help:      "Time spent running one transcript event through the pipeline",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}, []string{"role"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.eventsTotal, m.extractionsTotal, m.topicTotal, m.lifecycleTotal, m.activeSessions, m.eventLatency)
	return m
}

func (m *IntakeMetrics) ObserveEvent(role, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(role, outcome).Inc()
	m.eventLatency.WithLabelValues(role).Observe(seconds)
}

func (m *IntakeMetrics) ObserveExtraction(kind string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.extractionsTotal.WithLabelValues(kind, result).Inc()
}

func (m *IntakeMetrics) ObserveTopic(topic string) {
	if m == nil {
		return
	}
	m.topicTotal.WithLabelValues(topic).Inc()
}

func (m *IntakeMetrics) ObserveLifecycle(state string) {
	if m == nil {
		return
	}
	m.lifecycleTotal.WithLabelValues(state).Inc()
}

func (m *IntakeMetrics) SessionStarted() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

func (m *IntakeMetrics) SessionEnded() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}
