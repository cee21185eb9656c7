// Package endpoints exposes the ad selection pipeline over HTTP. Callers
// always receive either a success payload or a FledgeErrorResponse with a
// stable status code string.
package endpoints

import (
	"net/http"

	"github.com/golang/glog"

	"github.com/fledge/fledge-server/errortypes"
	"github.com/fledge/fledge-server/util/jsonutil"
)

// Status code strings surfaced to callers.
const (
	StatusSuccess            = "SUCCESS"
	StatusInvalidArgument    = "INVALID_ARGUMENT"
	StatusInternalError      = "INTERNAL_ERROR"
	StatusUnauthorized       = "UNAUTHORIZED"
	StatusCallerNotAllowed   = "CALLER_NOT_ALLOWED"
	StatusUserConsentRevoked = "USER_CONSENT_REVOKED"
	StatusRateLimitReached   = "RATE_LIMIT_REACHED"
	StatusBackgroundCaller   = "BACKGROUND_CALLER"
)

// FledgeErrorResponse is the error payload every endpoint returns on failure.
type FledgeErrorResponse struct {
	StatusCode string `json:"status_code"`
	Message    string `json:"message"`
}

func statusOf(err error) (string, int) {
	switch errortypes.ReadCode(err) {
	case errortypes.InvalidArgumentErrorCode:
		return StatusInvalidArgument, http.StatusBadRequest
	case errortypes.UnauthorizedErrorCode:
		return StatusUnauthorized, http.StatusForbidden
	case errortypes.CallerNotAllowedErrorCode:
		return StatusCallerNotAllowed, http.StatusForbidden
	case errortypes.UserConsentRevokedErrorCode:
		return StatusUserConsentRevoked, http.StatusForbidden
	case errortypes.RateLimitReachedErrorCode:
		return StatusRateLimitReached, http.StatusTooManyRequests
	case errortypes.BackgroundCallerErrorCode:
		return StatusBackgroundCaller, http.StatusForbidden
	default:
		return StatusInternalError, http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	statusCode, httpStatus := statusOf(err)
	body, encErr := jsonutil.Marshal(FledgeErrorResponse{StatusCode: statusCode, Message: err.Error()})
	if encErr != nil {
		glog.Errorf("/fledge endpoint failed to encode error response: %v", encErr)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	if _, err := w.Write(body); err != nil {
		glog.Errorf("/fledge endpoint failed to write error response: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, payload interface{}) {
	body, err := jsonutil.Marshal(payload)
	if err != nil {
		glog.Errorf("/fledge endpoint failed to encode response: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(body); err != nil {
		glog.Errorf("/fledge endpoint failed to write response: %v", err)
	}
}
