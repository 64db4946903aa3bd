package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestClinicMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewClinicMetrics(reg)

	m.ObserveCallable("createAppointment", "ok", 0.2)
	m.ObserveCallable("createAppointment", "ok", 0.1)
	m.ObserveCallable("createAppointment", "failed-precondition", 0.1)
	m.ObserveMirror("upserted")
	m.ObserveSignup("denied")

	assert.Equal(t, 2.0, counterValue(t, m.callableTotal.WithLabelValues("createAppointment", "ok")))
	assert.Equal(t, 1.0, counterValue(t, m.callableTotal.WithLabelValues("createAppointment", "failed-precondition")))
	assert.Equal(t, 1.0, counterValue(t, m.mirrorTotal.WithLabelValues("upserted")))
	assert.Equal(t, 1.0, counterValue(t, m.signupTotal.WithLabelValues("denied")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["clinic_callable_invocations_total"])
	assert.True(t, names["clinic_callable_latency_seconds"])
	assert.True(t, names["clinic_availability_mirror_total"])
	assert.True(t, names["clinic_signup_decisions_total"])
}

func TestClinicMetricsNilSafe(t *testing.T) {
	var m *ClinicMetrics
	m.ObserveCallable("createPatient", "ok", 0.1)
	m.ObserveMirror("removed")
	m.ObserveSignup("allowlist")
}
