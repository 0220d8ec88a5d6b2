package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestNewMetricsRegistersAllCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	require.NotNil(t, m.MatchesStarted)

	m.MatchesStarted.Inc()
	m.ShieldDenials.WithLabelValues("denied_low_trust").Inc()

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}

func TestNewTracerProviderInstallsGlobal(t *testing.T) {
	tp, err := NewTracerProvider("lkarbiter-test")
	require.NoError(t, err)
	require.NotNil(t, tp)
	require.Equal(t, tp, otel.GetTracerProvider())

	tracer := Tracer("lkarbiter-test")
	require.NotNil(t, tracer)
}
