package metrics

import (
	"time"
)

// StageResult labels the outcome of one pipeline stage.
type StageResult string

const (
	ResultSuccess       StageResult = "success"
	ResultTimeout       StageResult = "timeout"
	ResultFetchError    StageResult = "fetch_error"
	ResultScriptError   StageResult = "script_error"
	ResultStoreError    StageResult = "store_error"
	ResultInvalidInput  StageResult = "invalid_input"
	// ResultSkipped is the sentinel for stages never reached because an
	// earlier stage failed.
	ResultSkipped StageResult = "skipped"
)

// StageResults enumerates every result label, for engines that pre-register
// label values.
func StageResults() []StageResult {
	return []StageResult{
		ResultSuccess,
		ResultTimeout,
		ResultFetchError,
		ResultScriptError,
		ResultStoreError,
		ResultInvalidInput,
		ResultSkipped,
	}
}

// LatencyUnset is the sentinel duration for stages never reached.
const LatencyUnset = time.Duration(-1)

// AdScoringLabels is the structured telemetry for one runAdScoring call.
// Every call emits exactly one of these, whichever stage failed.
type AdScoringLabels struct {
	Result              StageResult
	FetchLogicResult    StageResult
	FetchSignalsResult  StageResult
	ScoringScriptResult StageResult

	FetchLogicLatency   time.Duration
	FetchSignalsLatency time.Duration
	ScoringLatency      time.Duration
	OverallLatency      time.Duration

	// AdsIn is the number of ads entering scoring, custom audience and
	// contextual combined. AdsScored is how many outcomes were produced.
	AdsIn             int
	AdsScored         int
	CustomAudiences   int
	DecisionLogicSize int
}

// ReportingLabels is the structured telemetry for one reportImpression call.
type ReportingLabels struct {
	Result       StageResult
	SellerResult StageResult
	BuyerResult  StageResult

	SellerLatency  time.Duration
	BuyerLatency   time.Duration
	OverallLatency time.Duration

	BeaconsRegistered int
	BeaconsDropped    int
}

// HistogramLabels is the structured telemetry for one histogram update.
type HistogramLabels struct {
	Result         StageResult
	EventsInserted int
	EventsEvicted  int
	OverallLatency time.Duration
}

// RequestStatus labels HTTP-level request outcomes.
type RequestStatus string

const (
	RequestStatusOK       RequestStatus = "ok"
	RequestStatusBadInput RequestStatus = "badinput"
	RequestStatusErr      RequestStatus = "err"
	RequestStatusBlocked  RequestStatus = "blocked"
)

func RequestStatuses() []RequestStatus {
	return []RequestStatus{
		RequestStatusOK,
		RequestStatusBadInput,
		RequestStatusErr,
		RequestStatusBlocked,
	}
}

// MetricsEngine is the telemetry collaborator. One structured event is
// recorded per top-level operation; engines may fan the fields out to
// whatever backend they wrap.
//
// Implementations must be threadsafe.
type MetricsEngine interface {
	RecordAdScoring(labels AdScoringLabels)
	RecordImpressionReporting(labels ReportingLabels)
	RecordHistogramUpdate(labels HistogramLabels)
	RecordFrequencyCapCheck(filtered bool)
	RecordRequest(endpoint string, status RequestStatus, length time.Duration)
}
