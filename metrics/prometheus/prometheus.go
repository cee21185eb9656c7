// Package prometheusmetrics exposes the telemetry event stream as prometheus
// series, served from the admin port.
package prometheusmetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fledge/fledge-server/config"
	"github.com/fledge/fledge-server/metrics"
)

type Metrics struct {
	Registry *prometheus.Registry

	scoringDuration    *prometheus.HistogramVec
	scoringResults     *prometheus.CounterVec
	adsScored          prometheus.Histogram
	reportingDuration  *prometheus.HistogramVec
	reportingResults   *prometheus.CounterVec
	beaconsRegistered  prometheus.Histogram
	beaconsDropped     prometheus.Histogram
	histogramDuration  prometheus.Histogram
	histogramResults   *prometheus.CounterVec
	histogramEvicted   prometheus.Counter
	frequencyCapChecks *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	requests           *prometheus.CounterVec
}

const (
	stageLabel    = "stage"
	resultLabel   = "result"
	endpointLabel = "endpoint"
	statusLabel   = "status"
	filteredLabel = "filtered"
)

func timeBuckets() []float64 {
	return []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
}

func NewMetrics(cfg config.PrometheusMetrics) *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{Registry: registry}

	m.scoringDuration = newHistogramVec(cfg, registry, "ad_scoring_duration_seconds",
		"Seconds spent in each runAdScoring stage.", []string{stageLabel})
	m.scoringResults = newCounterVec(cfg, registry, "ad_scoring_results",
		"Count of runAdScoring calls by result.", []string{resultLabel})
	m.adsScored = newHistogram(cfg, registry, "ad_scoring_ads_scored",
		"Number of ads scored per call.", []float64{0, 1, 2, 5, 10, 25, 50, 100})
	m.reportingDuration = newHistogramVec(cfg, registry, "impression_reporting_duration_seconds",
		"Seconds spent in each reportImpression stage.", []string{stageLabel})
	m.reportingResults = newCounterVec(cfg, registry, "impression_reporting_results",
		"Count of reportImpression calls by result.", []string{resultLabel})
	m.beaconsRegistered = newHistogram(cfg, registry, "impression_reporting_beacons_registered",
		"Beacons persisted per reportImpression call.", []float64{0, 1, 2, 5, 10, 25})
	m.beaconsDropped = newHistogram(cfg, registry, "impression_reporting_beacons_dropped",
		"Beacons dropped per reportImpression call.", []float64{0, 1, 2, 5, 10, 25})
	m.histogramDuration = newHistogram(cfg, registry, "histogram_update_duration_seconds",
		"Seconds spent updating the frequency cap histogram.", timeBuckets())
	m.histogramResults = newCounterVec(cfg, registry, "histogram_update_results",
		"Count of histogram updates by result.", []string{resultLabel})
	m.histogramEvicted = newCounter(cfg, registry, "histogram_events_evicted",
		"Total histogram events removed by eviction.")
	m.frequencyCapChecks = newCounterVec(cfg, registry, "frequency_cap_checks",
		"Frequency cap filter decisions.", []string{filteredLabel})
	m.requestDuration = newHistogramVec(cfg, registry, "request_duration_seconds",
		"Seconds to resolve each HTTP request.", []string{endpointLabel})
	m.requests = newCounterVec(cfg, registry, "requests",
		"Count of HTTP requests by endpoint and status.", []string{endpointLabel, statusLabel})

	return m
}

func newCounter(cfg config.PrometheusMetrics, registry *prometheus.Registry, name, help string) prometheus.Counter {
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: cfg.Namespace,
		Subsystem: cfg.Subsystem,
		Name:      name,
		Help:      help,
	})
	registry.MustRegister(counter)
	return counter
}

func newCounterVec(cfg config.PrometheusMetrics, registry *prometheus.Registry, name, help string, labels []string) *prometheus.CounterVec {
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.Namespace,
		Subsystem: cfg.Subsystem,
		Name:      name,
		Help:      help,
	}, labels)
	registry.MustRegister(counter)
	return counter
}

func newHistogram(cfg config.PrometheusMetrics, registry *prometheus.Registry, name, help string, buckets []float64) prometheus.Histogram {
	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: cfg.Namespace,
		Subsystem: cfg.Subsystem,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	})
	registry.MustRegister(histogram)
	return histogram
}

func newHistogramVec(cfg config.PrometheusMetrics, registry *prometheus.Registry, name, help string, labels []string) *prometheus.HistogramVec {
	histogram := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: cfg.Namespace,
		Subsystem: cfg.Subsystem,
		Name:      name,
		Help:      help,
		Buckets:   timeBuckets(),
	}, labels)
	registry.MustRegister(histogram)
	return histogram
}

func observeStage(vec *prometheus.HistogramVec, stage string, latency time.Duration) {
	if latency == metrics.LatencyUnset {
		return
	}
	vec.With(prometheus.Labels{stageLabel: stage}).Observe(latency.Seconds())
}

func (m *Metrics) RecordAdScoring(labels metrics.AdScoringLabels) {
	observeStage(m.scoringDuration, "overall", labels.OverallLatency)
	observeStage(m.scoringDuration, "fetch_logic", labels.FetchLogicLatency)
	observeStage(m.scoringDuration, "fetch_signals", labels.FetchSignalsLatency)
	observeStage(m.scoringDuration, "script", labels.ScoringLatency)
	m.scoringResults.With(prometheus.Labels{resultLabel: string(labels.Result)}).Inc()
	m.adsScored.Observe(float64(labels.AdsScored))
}

func (m *Metrics) RecordImpressionReporting(labels metrics.ReportingLabels) {
	observeStage(m.reportingDuration, "overall", labels.OverallLatency)
	observeStage(m.reportingDuration, "seller", labels.SellerLatency)
	observeStage(m.reportingDuration, "buyer", labels.BuyerLatency)
	m.reportingResults.With(prometheus.Labels{resultLabel: string(labels.Result)}).Inc()
	m.beaconsRegistered.Observe(float64(labels.BeaconsRegistered))
	m.beaconsDropped.Observe(float64(labels.BeaconsDropped))
}

func (m *Metrics) RecordHistogramUpdate(labels metrics.HistogramLabels) {
	if labels.OverallLatency != metrics.LatencyUnset {
		m.histogramDuration.Observe(labels.OverallLatency.Seconds())
	}
	m.histogramResults.With(prometheus.Labels{resultLabel: string(labels.Result)}).Inc()
	m.histogramEvicted.Add(float64(labels.EventsEvicted))
}

func (m *Metrics) RecordFrequencyCapCheck(filtered bool) {
	label := "false"
	if filtered {
		label = "true"
	}
	m.frequencyCapChecks.With(prometheus.Labels{filteredLabel: label}).Inc()
}

func (m *Metrics) RecordRequest(endpoint string, status metrics.RequestStatus, length time.Duration) {
	m.requestDuration.With(prometheus.Labels{endpointLabel: endpoint}).Observe(length.Seconds())
	m.requests.With(prometheus.Labels{endpointLabel: endpoint, statusLabel: string(status)}).Inc()
}
