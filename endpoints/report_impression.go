package endpoints

import (
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/fledge/fledge-server/adselection"
	"github.com/fledge/fledge-server/adselection/entities"
	"github.com/fledge/fledge-server/metrics"
)

// ReportImpressionRequest identifies a completed auction and the config that
// produced it.
type ReportImpressionRequest struct {
	CallerPackageName string                     `json:"caller_package_name"`
	AdSelectionID     int64                      `json:"ad_selection_id"`
	AdSelectionConfig entities.AdSelectionConfig `json:"ad_selection_config"`
}

// ReportImpressionResponse is the success payload.
type ReportImpressionResponse struct {
	StatusCode string `json:"status_code"`
}

// NewReportImpressionEndpoint returns the handler for POST /fledge/impression.
func NewReportImpressionEndpoint(reporter *adselection.ImpressionReporter, maxRequestSize int64, me metrics.MetricsEngine) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		start := time.Now()
		status := metrics.RequestStatusOK
		defer func() { me.RecordRequest("report_impression", status, time.Since(start)) }()

		var req ReportImpressionRequest
		if err := readRequest(r, maxRequestSize, &req); err != nil {
			status = metrics.RequestStatusBadInput
			writeError(w, err)
			return
		}

		if err := reporter.ReportImpression(r.Context(), req.AdSelectionID, &req.AdSelectionConfig, req.CallerPackageName); err != nil {
			status = requestStatusOf(err)
			writeError(w, err)
			return
		}
		writeJSON(w, ReportImpressionResponse{StatusCode: StatusSuccess})
	}
}
