package endpoints

import (
	"io"
	"io/ioutil"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/fledge/fledge-server/adselection"
	"github.com/fledge/fledge-server/adselection/entities"
	"github.com/fledge/fledge-server/errortypes"
	"github.com/fledge/fledge-server/metrics"
	"github.com/fledge/fledge-server/util/jsonutil"
)

// SelectAdsRequest carries the auction config plus the candidates bidding
// produced. Bidding itself happens upstream of this service.
type SelectAdsRequest struct {
	CallerPackageName string                     `json:"caller_package_name"`
	AdSelectionConfig entities.AdSelectionConfig `json:"ad_selection_config"`
	Candidates        []selectAdsCandidate       `json:"candidates"`
}

type selectAdsCandidate struct {
	Outcome entities.AdBiddingOutcome       `json:"outcome"`
	Filters *entities.FrequencyCapAdFilters `json:"filters,omitempty"`
}

// SelectAdsResponse is the success payload.
type SelectAdsResponse struct {
	AdSelectionID int64   `json:"ad_selection_id"`
	RenderURI     string  `json:"render_uri"`
	Bid           float64 `json:"bid"`
	Score         float64 `json:"score"`
}

// NewSelectAdsEndpoint returns the handler for POST /fledge/select.
func NewSelectAdsEndpoint(runner *adselection.Runner, maxRequestSize int64, me metrics.MetricsEngine) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		start := time.Now()
		status := metrics.RequestStatusOK
		defer func() { me.RecordRequest("select_ads", status, time.Since(start)) }()

		var req SelectAdsRequest
		if err := readRequest(r, maxRequestSize, &req); err != nil {
			status = metrics.RequestStatusBadInput
			writeError(w, err)
			return
		}

		candidates := make([]adselection.Candidate, 0, len(req.Candidates))
		for i := range req.Candidates {
			candidates = append(candidates, adselection.Candidate{
				Outcome: &req.Candidates[i].Outcome,
				Filters: req.Candidates[i].Filters,
			})
		}

		result, err := runner.SelectAds(r.Context(), candidates, &req.AdSelectionConfig, req.CallerPackageName)
		if err != nil {
			status = requestStatusOf(err)
			writeError(w, err)
			return
		}
		writeJSON(w, SelectAdsResponse{
			AdSelectionID: result.AdSelectionID,
			RenderURI:     result.RenderURI,
			Bid:           result.Bid,
			Score:         result.Score,
		})
	}
}

func readRequest(r *http.Request, maxRequestSize int64, into interface{}) error {
	defer r.Body.Close()
	limited := &io.LimitedReader{R: r.Body, N: maxRequestSize + 1}
	body, err := ioutil.ReadAll(limited)
	if err != nil {
		return &errortypes.InvalidArgument{Message: "failed to read request body: " + err.Error()}
	}
	if limited.N <= 0 {
		return &errortypes.InvalidArgument{Message: "request body exceeds the configured size limit"}
	}
	if err := jsonutil.UnmarshalValid(body, into); err != nil {
		return &errortypes.InvalidArgument{Message: "malformed request body: " + err.Error()}
	}
	return nil
}

func requestStatusOf(err error) metrics.RequestStatus {
	switch errortypes.ReadCode(err) {
	case errortypes.InvalidArgumentErrorCode:
		return metrics.RequestStatusBadInput
	case errortypes.UnauthorizedErrorCode, errortypes.CallerNotAllowedErrorCode,
		errortypes.UserConsentRevokedErrorCode, errortypes.RateLimitReachedErrorCode,
		errortypes.BackgroundCallerErrorCode:
		return metrics.RequestStatusBlocked
	default:
		return metrics.RequestStatusErr
	}
}
