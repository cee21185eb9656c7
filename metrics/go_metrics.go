package metrics

import (
	"fmt"
	"time"

	gometrics "github.com/rcrowley/go-metrics"
)

// GoMetrics wraps a rcrowley/go-metrics registry. The registry can be flushed
// to InfluxDB by the config package.
type GoMetrics struct {
	Registry gometrics.Registry

	ScoringTimer             gometrics.Timer
	ScoringFetchLogicTimer   gometrics.Timer
	ScoringFetchSignalsTimer gometrics.Timer
	ScoringScriptTimer       gometrics.Timer
	ScoringResultMeters      map[StageResult]gometrics.Meter
	AdsInHistogram           gometrics.Histogram
	AdsScoredHistogram       gometrics.Histogram
	CustomAudiencesHistogram gometrics.Histogram
	LogicSizeHistogram       gometrics.Histogram

	ReportingTimer             gometrics.Timer
	ReportingSellerTimer       gometrics.Timer
	ReportingBuyerTimer        gometrics.Timer
	ReportingResultMeters      map[StageResult]gometrics.Meter
	BeaconsRegisteredHistogram gometrics.Histogram
	BeaconsDroppedHistogram    gometrics.Histogram

	HistogramUpdateTimer  gometrics.Timer
	HistogramResultMeters map[StageResult]gometrics.Meter
	HistogramEvictedMeter gometrics.Meter

	FrequencyCapFilteredMeter gometrics.Meter
	FrequencyCapPassedMeter   gometrics.Meter

	RequestTimers map[string]gometrics.Timer
	RequestMeters map[string]map[RequestStatus]gometrics.Meter
}

// NewGoMetrics registers all metrics up front so exporters see a stable set
// from the first flush.
func NewGoMetrics(registry gometrics.Registry, endpoints []string) *GoMetrics {
	m := &GoMetrics{
		Registry: registry,

		ScoringTimer:             gometrics.GetOrRegisterTimer("ad_scoring.request_time", registry),
		ScoringFetchLogicTimer:   gometrics.GetOrRegisterTimer("ad_scoring.fetch_logic_time", registry),
		ScoringFetchSignalsTimer: gometrics.GetOrRegisterTimer("ad_scoring.fetch_signals_time", registry),
		ScoringScriptTimer:       gometrics.GetOrRegisterTimer("ad_scoring.script_time", registry),
		ScoringResultMeters:      make(map[StageResult]gometrics.Meter),
		AdsInHistogram:           gometrics.GetOrRegisterHistogram("ad_scoring.ads_in", registry, gometrics.NewExpDecaySample(1028, 0.015)),
		AdsScoredHistogram:       gometrics.GetOrRegisterHistogram("ad_scoring.ads_scored", registry, gometrics.NewExpDecaySample(1028, 0.015)),
		CustomAudiencesHistogram: gometrics.GetOrRegisterHistogram("ad_scoring.custom_audiences", registry, gometrics.NewExpDecaySample(1028, 0.015)),
		LogicSizeHistogram:       gometrics.GetOrRegisterHistogram("ad_scoring.decision_logic_bytes", registry, gometrics.NewExpDecaySample(1028, 0.015)),

		ReportingTimer:             gometrics.GetOrRegisterTimer("impression_reporting.request_time", registry),
		ReportingSellerTimer:       gometrics.GetOrRegisterTimer("impression_reporting.seller_time", registry),
		ReportingBuyerTimer:        gometrics.GetOrRegisterTimer("impression_reporting.buyer_time", registry),
		ReportingResultMeters:      make(map[StageResult]gometrics.Meter),
		BeaconsRegisteredHistogram: gometrics.GetOrRegisterHistogram("impression_reporting.beacons_registered", registry, gometrics.NewExpDecaySample(1028, 0.015)),
		BeaconsDroppedHistogram:    gometrics.GetOrRegisterHistogram("impression_reporting.beacons_dropped", registry, gometrics.NewExpDecaySample(1028, 0.015)),

		HistogramUpdateTimer:  gometrics.GetOrRegisterTimer("histogram_update.request_time", registry),
		HistogramResultMeters: make(map[StageResult]gometrics.Meter),
		HistogramEvictedMeter: gometrics.GetOrRegisterMeter("histogram_update.events_evicted", registry),

		FrequencyCapFilteredMeter: gometrics.GetOrRegisterMeter("frequency_cap.filtered", registry),
		FrequencyCapPassedMeter:   gometrics.GetOrRegisterMeter("frequency_cap.passed", registry),

		RequestTimers: make(map[string]gometrics.Timer),
		RequestMeters: make(map[string]map[RequestStatus]gometrics.Meter),
	}

	for _, result := range StageResults() {
		m.ScoringResultMeters[result] = gometrics.GetOrRegisterMeter(fmt.Sprintf("ad_scoring.result.%s", result), registry)
		m.ReportingResultMeters[result] = gometrics.GetOrRegisterMeter(fmt.Sprintf("impression_reporting.result.%s", result), registry)
		m.HistogramResultMeters[result] = gometrics.GetOrRegisterMeter(fmt.Sprintf("histogram_update.result.%s", result), registry)
	}
	for _, endpoint := range endpoints {
		m.RequestTimers[endpoint] = gometrics.GetOrRegisterTimer(fmt.Sprintf("requests.%s.request_time", endpoint), registry)
		statusMeters := make(map[RequestStatus]gometrics.Meter)
		for _, status := range RequestStatuses() {
			statusMeters[status] = gometrics.GetOrRegisterMeter(fmt.Sprintf("requests.%s.%s", endpoint, status), registry)
		}
		m.RequestMeters[endpoint] = statusMeters
	}
	return m
}

func (m *GoMetrics) RecordAdScoring(labels AdScoringLabels) {
	m.ScoringTimer.Update(labels.OverallLatency)
	if labels.FetchLogicLatency != LatencyUnset {
		m.ScoringFetchLogicTimer.Update(labels.FetchLogicLatency)
	}
	if labels.FetchSignalsLatency != LatencyUnset {
		m.ScoringFetchSignalsTimer.Update(labels.FetchSignalsLatency)
	}
	if labels.ScoringLatency != LatencyUnset {
		m.ScoringScriptTimer.Update(labels.ScoringLatency)
	}
	if meter, ok := m.ScoringResultMeters[labels.Result]; ok {
		meter.Mark(1)
	}
	m.AdsInHistogram.Update(int64(labels.AdsIn))
	m.AdsScoredHistogram.Update(int64(labels.AdsScored))
	m.CustomAudiencesHistogram.Update(int64(labels.CustomAudiences))
	m.LogicSizeHistogram.Update(int64(labels.DecisionLogicSize))
}

func (m *GoMetrics) RecordImpressionReporting(labels ReportingLabels) {
	m.ReportingTimer.Update(labels.OverallLatency)
	if labels.SellerLatency != LatencyUnset {
		m.ReportingSellerTimer.Update(labels.SellerLatency)
	}
	if labels.BuyerLatency != LatencyUnset {
		m.ReportingBuyerTimer.Update(labels.BuyerLatency)
	}
	if meter, ok := m.ReportingResultMeters[labels.Result]; ok {
		meter.Mark(1)
	}
	m.BeaconsRegisteredHistogram.Update(int64(labels.BeaconsRegistered))
	m.BeaconsDroppedHistogram.Update(int64(labels.BeaconsDropped))
}

func (m *GoMetrics) RecordHistogramUpdate(labels HistogramLabels) {
	m.HistogramUpdateTimer.Update(labels.OverallLatency)
	if meter, ok := m.HistogramResultMeters[labels.Result]; ok {
		meter.Mark(1)
	}
	m.HistogramEvictedMeter.Mark(int64(labels.EventsEvicted))
}

func (m *GoMetrics) RecordFrequencyCapCheck(filtered bool) {
	if filtered {
		m.FrequencyCapFilteredMeter.Mark(1)
	} else {
		m.FrequencyCapPassedMeter.Mark(1)
	}
}

func (m *GoMetrics) RecordRequest(endpoint string, status RequestStatus, length time.Duration) {
	if timer, ok := m.RequestTimers[endpoint]; ok {
		timer.Update(length)
	}
	if statusMeters, ok := m.RequestMeters[endpoint]; ok {
		if meter, ok := statusMeters[status]; ok {
			meter.Mark(1)
		}
	}
}
