package obs

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsSentIncrements(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.Sent.WithLabelValues("1", "email").Inc()
	m.Sent.WithLabelValues("1", "email").Inc()

	var out dto.Metric
	require.NoError(t, m.Sent.WithLabelValues("1", "email").Write(&out))
	assert.Equal(t, float64(2), out.GetCounter().GetValue())
}

func TestMetricsLeasesReclaimed(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.LeasesReclaimed.Add(3)

	var out dto.Metric
	require.NoError(t, m.LeasesReclaimed.Write(&out))
	assert.Equal(t, float64(3), out.GetCounter().GetValue())
}
