package metrics

import (
	"time"
)

// NilMetricsEngine discards everything. Used when no metrics backend is
// configured and as the default in tests.
type NilMetricsEngine struct{}

func (m *NilMetricsEngine) RecordAdScoring(labels AdScoringLabels)           {}
func (m *NilMetricsEngine) RecordImpressionReporting(labels ReportingLabels) {}
func (m *NilMetricsEngine) RecordHistogramUpdate(labels HistogramLabels)     {}
func (m *NilMetricsEngine) RecordFrequencyCapCheck(filtered bool)            {}
func (m *NilMetricsEngine) RecordRequest(endpoint string, status RequestStatus, length time.Duration) {
}
