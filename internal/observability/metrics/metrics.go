package metrics

import "github.com/prometheus/client_golang/prometheus"

// ClinicMetrics exposes counters/histograms for callables, the
// availability mirror and the signup gate.
type ClinicMetrics struct {
	callableTotal   *prometheus.CounterVec
	callableLatency *prometheus.HistogramVec
	mirrorTotal     *prometheus.CounterVec
	signupTotal     *prometheus.CounterVec
}

func NewClinicMetrics(reg prometheus.Registerer) *ClinicMetrics {
	m := &ClinicMetrics{
		callableTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "callable",
			Name:      "invocations_total",
			Help:      "Total callable invocations by outcome code",
		}, []string{"function", "code"}),
		callableLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "callable",
			Name:      "latency_seconds",
			Help:      "Latency of callable invocations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"function"}),
		mirrorTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "availability",
			Name:      "mirror_total",
			Help:      "Busy-block mirror passes by outcome",
		}, []string{"outcome"}),
		signupTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "signup",
			Name:      "decisions_total",
			Help:      "Signup gate decisions",
		}, []string{"decision"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.callableTotal, m.callableLatency, m.mirrorTotal, m.signupTotal)
	return m
}

func (m *ClinicMetrics) ObserveCallable(function, code string, seconds float64) {
	if m == nil {
		return
	}
	m.callableTotal.WithLabelValues(function, code).Inc()
	m.callableLatency.WithLabelValues(function).Observe(seconds)
}

func (m *ClinicMetrics) ObserveMirror(outcome string) {
	if m == nil {
		return
	}
	m.mirrorTotal.WithLabelValues(outcome).Inc()
}

func (m *ClinicMetrics) ObserveSignup(decision string) {
	if m == nil {
		return
	}
	m.signupTotal.WithLabelValues(decision).Inc()
}
