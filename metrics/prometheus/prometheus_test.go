package prometheusmetrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fledge/fledge-server/config"
	"github.com/fledge/fledge-server/metrics"
)

func newTestMetrics() *Metrics {
	return NewMetrics(config.PrometheusMetrics{
		Namespace: "fledge",
		Subsystem: "adselection",
	})
}

func counterValue(t *testing.T, vec *prometheus.CounterVec, labels prometheus.Labels) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, vec.With(labels).Write(&m))
	return m.GetCounter().GetValue()
}

func TestRecordAdScoringResults(t *testing.T) {
	m := newTestMetrics()
	m.RecordAdScoring(metrics.AdScoringLabels{
		Result:              metrics.ResultSuccess,
		OverallLatency:      30 * time.Millisecond,
		FetchLogicLatency:   metrics.LatencyUnset,
		FetchSignalsLatency: metrics.LatencyUnset,
		ScoringLatency:      metrics.LatencyUnset,
	})

	assert.Equal(t, float64(1), counterValue(t, m.scoringResults, prometheus.Labels{resultLabel: "success"}))
	assert.Equal(t, float64(0), counterValue(t, m.scoringResults, prometheus.Labels{resultLabel: "timeout"}))
}

func TestRecordHistogramUpdate(t *testing.T) {
	m := newTestMetrics()
	m.RecordHistogramUpdate(metrics.HistogramLabels{
		Result:         metrics.ResultSuccess,
		EventsEvicted:  7,
		OverallLatency: 5 * time.Millisecond,
	})

	var evicted dto.Metric
	require.NoError(t, m.histogramEvicted.Write(&evicted))
	assert.Equal(t, float64(7), evicted.GetCounter().GetValue())
}

func TestRecordFrequencyCapCheck(t *testing.T) {
	m := newTestMetrics()
	m.RecordFrequencyCapCheck(true)
	m.RecordFrequencyCapCheck(false)

	assert.Equal(t, float64(1), counterValue(t, m.frequencyCapChecks, prometheus.Labels{filteredLabel: "true"}))
	assert.Equal(t, float64(1), counterValue(t, m.frequencyCapChecks, prometheus.Labels{filteredLabel: "false"}))
}

func TestRecordRequest(t *testing.T) {
	m := newTestMetrics()
	m.RecordRequest("select_ads", metrics.RequestStatusOK, 10*time.Millisecond)
	m.RecordRequest("select_ads", metrics.RequestStatusBadInput, 10*time.Millisecond)

	assert.Equal(t, float64(1), counterValue(t, m.requests, prometheus.Labels{endpointLabel: "select_ads", statusLabel: "ok"}))
	assert.Equal(t, float64(1), counterValue(t, m.requests, prometheus.Labels{endpointLabel: "select_ads", statusLabel: "badinput"}))
}
