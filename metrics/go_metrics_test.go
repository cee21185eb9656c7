package metrics

import (
	"testing"
	"time"

	gometrics "github.com/rcrowley/go-metrics"
	"github.com/stretchr/testify/assert"
)

func newTestGoMetrics() *GoMetrics {
	return NewGoMetrics(gometrics.NewRegistry(), []string{"select_ads"})
}

func TestRecordAdScoring(t *testing.T) {
	m := newTestGoMetrics()
	m.RecordAdScoring(AdScoringLabels{
		Result:              ResultSuccess,
		FetchLogicResult:    ResultSuccess,
		FetchSignalsResult:  ResultSuccess,
		ScoringScriptResult: ResultSuccess,
		FetchLogicLatency:   5 * time.Millisecond,
		FetchSignalsLatency: 5 * time.Millisecond,
		ScoringLatency:      20 * time.Millisecond,
		OverallLatency:      30 * time.Millisecond,
		AdsIn:               4,
		AdsScored:           3,
		CustomAudiences:     2,
		DecisionLogicSize:   512,
	})

	assert.Equal(t, int64(1), m.ScoringTimer.Count())
	assert.Equal(t, int64(1), m.ScoringScriptTimer.Count())
	assert.Equal(t, int64(1), m.ScoringResultMeters[ResultSuccess].Count())
	assert.Equal(t, int64(0), m.ScoringResultMeters[ResultTimeout].Count())
	assert.Equal(t, int64(4), m.AdsInHistogram.Max())
	assert.Equal(t, int64(3), m.AdsScoredHistogram.Max())
	assert.Equal(t, int64(2), m.CustomAudiencesHistogram.Max())
	assert.Equal(t, int64(512), m.LogicSizeHistogram.Max())
}

func TestRecordAdScoringSkipsUnsetLatencies(t *testing.T) {
	m := newTestGoMetrics()
	m.RecordAdScoring(AdScoringLabels{
		Result:              ResultFetchError,
		FetchLogicResult:    ResultFetchError,
		FetchSignalsResult:  ResultSkipped,
		ScoringScriptResult: ResultSkipped,
		FetchLogicLatency:   5 * time.Millisecond,
		FetchSignalsLatency: LatencyUnset,
		ScoringLatency:      LatencyUnset,
		OverallLatency:      5 * time.Millisecond,
	})

	assert.Equal(t, int64(1), m.ScoringFetchLogicTimer.Count())
	assert.Equal(t, int64(0), m.ScoringFetchSignalsTimer.Count(), "unreached stages must not pollute latency series")
	assert.Equal(t, int64(0), m.ScoringScriptTimer.Count())
}

func TestRecordImpressionReporting(t *testing.T) {
	m := newTestGoMetrics()
	m.RecordImpressionReporting(ReportingLabels{
		Result:            ResultSuccess,
		SellerResult:      ResultSuccess,
		BuyerResult:       ResultSuccess,
		SellerLatency:     10 * time.Millisecond,
		BuyerLatency:      10 * time.Millisecond,
		OverallLatency:    25 * time.Millisecond,
		BeaconsRegistered: 2,
	})

	assert.Equal(t, int64(1), m.ReportingTimer.Count())
	assert.Equal(t, int64(1), m.ReportingSellerTimer.Count())
	assert.Equal(t, int64(1), m.ReportingResultMeters[ResultSuccess].Count())
}

func TestRecordFrequencyCapCheck(t *testing.T) {
	m := newTestGoMetrics()
	m.RecordFrequencyCapCheck(true)
	m.RecordFrequencyCapCheck(false)
	m.RecordFrequencyCapCheck(false)

	assert.Equal(t, int64(1), m.FrequencyCapFilteredMeter.Count())
	assert.Equal(t, int64(2), m.FrequencyCapPassedMeter.Count())
}

func TestRecordRequest(t *testing.T) {
	m := newTestGoMetrics()
	m.RecordRequest("select_ads", RequestStatusOK, 10*time.Millisecond)
	m.RecordRequest("unknown_endpoint", RequestStatusOK, 10*time.Millisecond)

	assert.Equal(t, int64(1), m.RequestTimers["select_ads"].Count())
	assert.Equal(t, int64(1), m.RequestMeters["select_ads"][RequestStatusOK].Count())
}
