package endpoints

import (
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/fledge/fledge-server/adselection"
	"github.com/fledge/fledge-server/adselection/entities"
	"github.com/fledge/fledge-server/errortypes"
	"github.com/fledge/fledge-server/filters"
	"github.com/fledge/fledge-server/metrics"
)

// InteractionRequest records one ad interaction event against a past auction.
type InteractionRequest struct {
	CallerPackageName string `json:"caller_package_name"`
	CallerAdTech      string `json:"caller_ad_tech"`
	AdSelectionID     int64  `json:"ad_selection_id"`
	EventType         string `json:"event_type"`
}

// InteractionResponse is the success payload.
type InteractionResponse struct {
	StatusCode string `json:"status_code"`
}

// NewInteractionEndpoint returns the handler for POST /fledge/interaction.
func NewInteractionEndpoint(updater *adselection.HistogramUpdater, callers *filters.CallerFilter, maxRequestSize int64, me metrics.MetricsEngine) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		start := time.Now()
		status := metrics.RequestStatusOK
		defer func() { me.RecordRequest("update_histogram", status, time.Since(start)) }()

		var req InteractionRequest
		if err := readRequest(r, maxRequestSize, &req); err != nil {
			status = metrics.RequestStatusBadInput
			writeError(w, err)
			return
		}
		eventType, ok := parseEventType(req.EventType)
		if !ok {
			status = metrics.RequestStatusBadInput
			writeError(w, &errortypes.InvalidArgument{Message: "unknown event type: " + req.EventType})
			return
		}

		if err := callers.Assert(req.CallerPackageName, req.CallerAdTech, filters.APIUpdateHistogram); err != nil {
			status = requestStatusOf(err)
			writeError(w, err)
			return
		}
		if err := updater.UpdateHistogram(r.Context(), req.AdSelectionID, eventType, req.CallerAdTech, req.CallerPackageName); err != nil {
			status = requestStatusOf(err)
			writeError(w, err)
			return
		}
		writeJSON(w, InteractionResponse{StatusCode: StatusSuccess})
	}
}

func parseEventType(raw string) (entities.AdEventType, bool) {
	switch entities.AdEventType(raw) {
	case entities.AdEventWin, entities.AdEventView, entities.AdEventClick, entities.AdEventCustom:
		return entities.AdEventType(raw), true
	}
	return "", false
}
