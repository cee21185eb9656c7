package adselection

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/buger/jsonparser"
	"github.com/golang/glog"

	"github.com/fledge/fledge-server/adselection/entities"
	"github.com/fledge/fledge-server/config"
	"github.com/fledge/fledge-server/errortypes"
	"github.com/fledge/fledge-server/filters"
	"github.com/fledge/fledge-server/jsengine"
	"github.com/fledge/fledge-server/metrics"
	"github.com/fledge/fledge-server/signals"
	"github.com/fledge/fledge-server/storage"
)

// Entry points the reporting scripts must define.
const (
	ReportResultFunction = "reportResult"
	ReportWinFunction    = "reportWin"
)

// ErrMsgReportingTimedOut is the overall reporting deadline marker.
const ErrMsgReportingTimedOut = "impression reporting timed out"

// ImpressionReporter runs the seller and buyer reporting scripts for a
// completed auction and persists the beacons they register.
//
// The seller stage always runs before the buyer stage, since reportWin may
// consume seller-produced signals_for_buyer. The two reporting-URI dispatches
// at the end are concurrent and isolated from each other.
type ImpressionReporter struct {
	selections storage.AdSelectionStore
	logic      *signals.LogicSource
	executor   jsengine.Executor
	filter     *filters.CallerFilter
	cfg        *config.Configuration
	me         metrics.MetricsEngine
}

func NewImpressionReporter(selections storage.AdSelectionStore, logic *signals.LogicSource, executor jsengine.Executor, filter *filters.CallerFilter, cfg *config.Configuration, me metrics.MetricsEngine) *ImpressionReporter {
	return &ImpressionReporter{
		selections: selections,
		logic:      logic,
		executor:   executor,
		filter:     filter,
		cfg:        cfg,
		me:         me,
	}
}

// stageOutcome captures one party's reporting result. Branch failures are
// folded into a caller-visible status only after both branches resolve.
type stageOutcome struct {
	result          metrics.StageResult
	err             error
	reportingURI    string
	signalsForBuyer string
	beacons         []entities.RegisteredAdInteraction
	dropped         int
	latency         time.Duration
}

func skippedStage() stageOutcome {
	return stageOutcome{result: metrics.ResultSkipped, latency: metrics.LatencyUnset}
}

// ReportImpression validates the ad selection, authorizes the caller, runs
// reportResult then reportWin, persists validated beacons and dispatches the
// reporting URIs.
//
// Beacon persistence rules: seller beacons persist iff the seller stage
// succeeded; buyer beacons persist iff both stages succeeded. When both
// stages fail, the seller's error surfaces (deterministic precedence).
func (r *ImpressionReporter) ReportImpression(ctx context.Context, adSelectionID int64, adSelectionConfig *entities.AdSelectionConfig, callerPackage string) error {
	start := time.Now()
	labels := metrics.ReportingLabels{
		Result:        metrics.ResultSuccess,
		SellerResult:  metrics.ResultSkipped,
		BuyerResult:   metrics.ResultSkipped,
		SellerLatency: metrics.LatencyUnset,
		BuyerLatency:  metrics.LatencyUnset,
	}
	defer func() {
		labels.OverallLatency = time.Since(start)
		r.me.RecordImpressionReporting(labels)
	}()

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeouts.ReportImpression())
	defer cancel()

	// Stage 1: validate before any network call.
	selection, err := r.selections.GetAdSelection(ctx, adSelectionID)
	if err != nil {
		labels.Result = metrics.ResultStoreError
		return err
	}
	if selection == nil || selection.CallerPackageName != callerPackage {
		labels.Result = metrics.ResultInvalidInput
		return &errortypes.InvalidArgument{Message: fmt.Sprintf("no ad selection with id %d for caller %s", adSelectionID, callerPackage)}
	}
	if adSelectionConfig.Seller != selection.Seller || adSelectionConfig.DecisionLogicURI != selection.DecisionLogicURI {
		labels.Result = metrics.ResultInvalidInput
		return &errortypes.InvalidArgument{Message: "ad selection config does not match the persisted auction"}
	}

	// Stage 2: authorization. The filter logs its own rejections.
	if err := r.filter.Assert(callerPackage, adSelectionConfig.Seller, filters.APIReportImpression); err != nil {
		labels.Result = metrics.ResultInvalidInput
		return err
	}

	// Stage 3+4: seller reportResult.
	seller := r.runSellerStage(ctx, adSelectionID, adSelectionConfig, selection)
	labels.SellerResult = seller.result
	labels.SellerLatency = seller.latency

	// Stage 5+6: buyer reportWin, attempted regardless of the seller result.
	buyer := r.runBuyerStage(ctx, adSelectionID, adSelectionConfig, selection, seller.signalsForBuyer, len(seller.beacons))
	labels.BuyerResult = buyer.result
	labels.BuyerLatency = buyer.latency

	// Stage 8: persist beacons per stage, honoring the persistence rules.
	sellerOK := seller.err == nil
	buyerOK := buyer.err == nil
	if sellerOK {
		if err := r.selections.PersistInteractions(ctx, seller.beacons); err != nil {
			glog.Errorf("failed to persist seller beacons for ad selection %d: %v", adSelectionID, err)
		} else {
			labels.BeaconsRegistered += len(seller.beacons)
		}
		if buyerOK {
			if err := r.selections.PersistInteractions(ctx, buyer.beacons); err != nil {
				glog.Errorf("failed to persist buyer beacons for ad selection %d: %v", adSelectionID, err)
			} else {
				labels.BeaconsRegistered += len(buyer.beacons)
			}
		}
	}
	labels.BeaconsDropped = seller.dropped + buyer.dropped

	// Stage 7: concurrent best-effort dispatch. Each branch's network
	// failure is logged inside FetchAndForget and never propagates.
	var wg sync.WaitGroup
	if sellerOK && seller.reportingURI != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.logic.Fetcher().FetchAndForget(ctx, seller.reportingURI)
		}()
	}
	if buyerOK && buyer.reportingURI != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.logic.Fetcher().FetchAndForget(ctx, buyer.reportingURI)
		}()
	}
	wg.Wait()

	if seller.err != nil {
		labels.Result = seller.result
		return seller.err
	}
	if buyer.err != nil {
		labels.Result = buyer.result
		return buyer.err
	}
	return nil
}

func (r *ImpressionReporter) runSellerStage(ctx context.Context, adSelectionID int64, adSelectionConfig *entities.AdSelectionConfig, selection *entities.DBAdSelection) stageOutcome {
	stageStart := time.Now()
	outcome := stageOutcome{result: metrics.ResultSuccess}
	defer func() { outcome.latency = time.Since(stageStart) }()

	fetchCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeouts.Fetch())
	sellerLogic, err := r.logic.ResolveSellerLogic(fetchCtx, adSelectionConfig, selection.CallerPackageName)
	cancel()
	if err != nil {
		outcome.result = metrics.ResultFetchError
		outcome.err = &errortypes.InternalError{Message: "failed to fetch seller reporting logic: " + err.Error()}
		return outcome
	}

	args, err := marshalArgs(
		adSelectionConfig,
		selection.WinningAdRenderURI,
		selection.WinningAdBid,
		selection.ContextualSignals,
	)
	if err != nil {
		outcome.result = metrics.ResultScriptError
		outcome.err = &errortypes.InternalError{Message: "failed to encode reportResult arguments: " + err.Error()}
		return outcome
	}

	resp, err := r.executeReporting(ctx, ReportResultFunction, sellerLogic.JS, args)
	if err != nil {
		outcome.result, outcome.err = reportingError(ReportResultFunction, err)
		return outcome
	}

	parsed, err := parseReportingResponse(resp.Result)
	if err != nil {
		outcome.result = metrics.ResultScriptError
		outcome.err = err
		return outcome
	}
	if parsed.status != 0 {
		outcome.result = metrics.ResultScriptError
		outcome.err = &errortypes.InternalError{Message: fmt.Sprintf("reportResult returned status %d", parsed.status)}
		return outcome
	}
	outcome.reportingURI = parsed.reportingURI
	outcome.signalsForBuyer = parsed.signalsForBuyer
	outcome.beacons, outcome.dropped = r.collectBeacons(adSelectionID, entities.DestinationSeller, adSelectionConfig.Seller, resp.Beacons, 0)
	return outcome
}

func (r *ImpressionReporter) runBuyerStage(ctx context.Context, adSelectionID int64, adSelectionConfig *entities.AdSelectionConfig, selection *entities.DBAdSelection, signalsForBuyer string, sellerBeaconCount int) stageOutcome {
	stageStart := time.Now()
	outcome := stageOutcome{result: metrics.ResultSuccess}
	defer func() { outcome.latency = time.Since(stageStart) }()

	fetchCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeouts.Fetch())
	buyerLogic, err := r.logic.ResolveBuyerLogic(fetchCtx, selection.BiddingLogicURI)
	cancel()
	if err != nil {
		outcome.result = metrics.ResultFetchError
		outcome.err = &errortypes.InternalError{Message: "failed to fetch buyer reporting logic: " + err.Error()}
		return outcome
	}

	buyer := selection.CustomAudienceSignals.Buyer
	args, err := marshalArgs(
		orEmptyObject(adSelectionConfig.AuctionSignals),
		orEmptyObject(adSelectionConfig.PerBuyerSignals[buyer]),
		signalsForBuyer,
		selection.ContextualSignals,
		selection.CustomAudienceSignals,
	)
	if err != nil {
		outcome.result = metrics.ResultScriptError
		outcome.err = &errortypes.InternalError{Message: "failed to encode reportWin arguments: " + err.Error()}
		return outcome
	}

	resp, err := r.executeReporting(ctx, ReportWinFunction, buyerLogic.JS, args)
	if err != nil {
		outcome.result, outcome.err = reportingError(ReportWinFunction, err)
		return outcome
	}

	parsed, err := parseReportingResponse(resp.Result)
	if err != nil {
		outcome.result = metrics.ResultScriptError
		outcome.err = err
		return outcome
	}
	if parsed.status != 0 {
		outcome.result = metrics.ResultScriptError
		outcome.err = &errortypes.InternalError{Message: fmt.Sprintf("reportWin returned status %d", parsed.status)}
		return outcome
	}
	outcome.reportingURI = parsed.reportingURI
	outcome.beacons, outcome.dropped = r.collectBeacons(adSelectionID, entities.DestinationBuyer, buyer, resp.Beacons, sellerBeaconCount)
	return outcome
}

func (r *ImpressionReporter) executeReporting(ctx context.Context, functionName, source string, args []json.RawMessage) (*jsengine.Response, error) {
	scriptCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeouts.PerScript())
	defer cancel()
	return r.executor.Execute(scriptCtx, functionName, source, args, r.cfg.Timeouts.PerScript())
}

func reportingError(functionName string, err error) (metrics.StageResult, error) {
	if _, isTimeout := err.(*errortypes.Timeout); isTimeout {
		return metrics.ResultTimeout, &errortypes.Timeout{Message: fmt.Sprintf("%s: %s", functionName, ErrMsgReportingTimedOut)}
	}
	return metrics.ResultScriptError, &errortypes.InternalError{Message: err.Error()}
}

type reportingResponse struct {
	status          int64
	reportingURI    string
	signalsForBuyer string
}

// parseReportingResponse extracts the reporting script contract:
// {status: int, results: {reporting_uri: string, signals_for_buyer?: string}}.
func parseReportingResponse(raw json.RawMessage) (*reportingResponse, error) {
	status, err := jsonparser.GetInt(raw, "status")
	if err != nil {
		return nil, &errortypes.FailedToUnmarshal{Message: "reporting script output has no numeric status: " + err.Error()}
	}
	parsed := &reportingResponse{status: status}
	if uri, err := jsonparser.GetString(raw, "results", "reporting_uri"); err == nil {
		parsed.reportingURI = uri
	}
	if signalsForBuyer, err := jsonparser.GetString(raw, "results", "signals_for_buyer"); err == nil {
		parsed.signalsForBuyer = signalsForBuyer
	}
	return parsed, nil
}

// collectBeacons validates beacon registrations one by one. Invalid entries
// are dropped without failing the stage: oversized keys, URIs outside the
// reporting ad tech's domain, malformed URIs, and registrations beyond the
// combined total cap. alreadyRegistered counts beacons from the earlier
// stage so the cap spans seller and buyer together.
func (r *ImpressionReporter) collectBeacons(adSelectionID int64, dest entities.ReportingDestination, adTech string, beacons []jsengine.Beacon, alreadyRegistered int) ([]entities.RegisteredAdInteraction, int) {
	if !r.cfg.Reporting.BeaconsEnabled {
		return nil, 0
	}
	kept := make([]entities.RegisteredAdInteraction, 0, len(beacons))
	dropped := 0
	for _, beacon := range beacons {
		if alreadyRegistered+len(kept) >= r.cfg.Reporting.MaxRegisteredBeaconsTotal {
			glog.Warningf("dropping %s beacon %q for ad selection %d: total cap %d reached",
				dest, beacon.Key, adSelectionID, r.cfg.Reporting.MaxRegisteredBeaconsTotal)
			dropped++
			continue
		}
		if len(beacon.Key) > r.cfg.Reporting.MaxInteractionKeySizeBytes {
			glog.Warningf("dropping %s beacon for ad selection %d: key exceeds %d bytes",
				dest, adSelectionID, r.cfg.Reporting.MaxInteractionKeySizeBytes)
			dropped++
			continue
		}
		if !wellFormedBeaconURI(beacon.URI) {
			glog.Warningf("dropping %s beacon %q for ad selection %d: malformed URI", dest, beacon.Key, adSelectionID)
			dropped++
			continue
		}
		if !filters.URIMatchesAdTech(beacon.URI, adTech) {
			glog.Warningf("dropping %s beacon %q for ad selection %d: URI domain does not match %s",
				dest, beacon.Key, adSelectionID, adTech)
			dropped++
			continue
		}
		kept = append(kept, entities.RegisteredAdInteraction{
			AdSelectionID:  adSelectionID,
			InteractionKey: beacon.Key,
			Destination:    dest,
			InteractionURI: beacon.URI,
		})
	}
	return kept, dropped
}

func wellFormedBeaconURI(uri string) bool {
	parsed, err := url.Parse(uri)
	if err != nil {
		return false
	}
	return (parsed.Scheme == "https" || parsed.Scheme == "http") && parsed.Host != ""
}
