// Package metricsconfig builds the configured metrics engines and fans events
// out to all of them.
package metricsconfig

import (
	"time"

	"github.com/golang/glog"
	gometrics "github.com/rcrowley/go-metrics"
	influxdb "github.com/vrischmann/go-metrics-influxdb"

	"github.com/fledge/fledge-server/config"
	"github.com/fledge/fledge-server/metrics"
	prometheusmetrics "github.com/fledge/fledge-server/metrics/prometheus"
)

// DetailedMetricsEngine holds the concrete engines so the server can expose
// backend-specific handles (the prometheus registry for the admin endpoint).
type DetailedMetricsEngine struct {
	MultiMetricsEngine
	GoMetrics         *metrics.GoMetrics
	PrometheusMetrics *prometheusmetrics.Metrics
}

// NewMetricsEngine reads the configuration to determine the appropriate
// metrics handlers. The influx exporter flushes the go-metrics registry on a
// ticker; its goroutine lives for the process lifetime.
func NewMetricsEngine(cfg *config.Configuration, endpoints []string) *DetailedMetricsEngine {
	engineList := make(MultiMetricsEngine, 0, 2)
	returnEngine := DetailedMetricsEngine{}

	if cfg.Metrics.Influxdb.Enabled {
		returnEngine.GoMetrics = metrics.NewGoMetrics(gometrics.NewPrefixedRegistry("fledge."), endpoints)
		engineList = append(engineList, returnEngine.GoMetrics)

		go influxdb.InfluxDB(
			returnEngine.GoMetrics.Registry,
			time.Duration(cfg.Metrics.Influxdb.IntervalSeconds)*time.Second,
			cfg.Metrics.Influxdb.Host,
			cfg.Metrics.Influxdb.Database,
			cfg.Metrics.Influxdb.Username,
			cfg.Metrics.Influxdb.Password,
		)
	}
	if cfg.Metrics.Prometheus.Enabled {
		returnEngine.PrometheusMetrics = prometheusmetrics.NewMetrics(cfg.Metrics.Prometheus)
		engineList = append(engineList, returnEngine.PrometheusMetrics)
	}

	if len(engineList) == 0 {
		glog.Info("no metrics backend configured, telemetry will be discarded")
		engineList = append(engineList, &metrics.NilMetricsEngine{})
	}
	returnEngine.MultiMetricsEngine = engineList
	return &returnEngine
}

// MultiMetricsEngine logs metrics to multiple metrics databases.
type MultiMetricsEngine []metrics.MetricsEngine

func (me MultiMetricsEngine) RecordAdScoring(labels metrics.AdScoringLabels) {
	for _, engine := range me {
		engine.RecordAdScoring(labels)
	}
}

func (me MultiMetricsEngine) RecordImpressionReporting(labels metrics.ReportingLabels) {
	for _, engine := range me {
		engine.RecordImpressionReporting(labels)
	}
}

func (me MultiMetricsEngine) RecordHistogramUpdate(labels metrics.HistogramLabels) {
	for _, engine := range me {
		engine.RecordHistogramUpdate(labels)
	}
}

func (me MultiMetricsEngine) RecordFrequencyCapCheck(filtered bool) {
	for _, engine := range me {
		engine.RecordFrequencyCapCheck(filtered)
	}
}

func (me MultiMetricsEngine) RecordRequest(endpoint string, status metrics.RequestStatus, length time.Duration) {
	for _, engine := range me {
		engine.RecordRequest(endpoint, status, length)
	}
}
