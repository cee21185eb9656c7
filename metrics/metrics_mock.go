package metrics

import (
	"time"

	"github.com/stretchr/testify/mock"
)

// MetricsEngineMock is a mock for the MetricsEngine interface, used by tests
// that assert telemetry is emitted exactly once per operation.
type MetricsEngineMock struct {
	mock.Mock
}

func (me *MetricsEngineMock) RecordAdScoring(labels AdScoringLabels) {
	me.Called(labels)
}

func (me *MetricsEngineMock) RecordImpressionReporting(labels ReportingLabels) {
	me.Called(labels)
}

func (me *MetricsEngineMock) RecordHistogramUpdate(labels HistogramLabels) {
	me.Called(labels)
}

func (me *MetricsEngineMock) RecordFrequencyCapCheck(filtered bool) {
	me.Called(filtered)
}

func (me *MetricsEngineMock) RecordRequest(endpoint string, status RequestStatus, length time.Duration) {
	me.Called(endpoint, status, length)
}
