package adselection

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/golang/glog"

	"github.com/fledge/fledge-server/adselection/entities"
	"github.com/fledge/fledge-server/config"
	"github.com/fledge/fledge-server/errortypes"
	"github.com/fledge/fledge-server/jsengine"
	"github.com/fledge/fledge-server/metrics"
	"github.com/fledge/fledge-server/signals"
	"github.com/fledge/fledge-server/util/jsonutil"
)

// Error markers surfaced by RunAdScoring. Tests and callers match on these
// exact strings.
const (
	ErrMsgMissingTrustedScoringSignals = "missing trusted scoring signals"
	ErrMsgScoresCountLessThanExpected  = "scores count less than expected"
	ErrMsgScoringTimedOut              = "scoring timed out"
)

// ScoreAdsFunction is the entry point the seller's decision logic must define.
const ScoreAdsFunction = "scoreAds"

// AdsScoreGenerator produces ranked scoring outcomes for the bidding
// outcomes of one auction.
type AdsScoreGenerator struct {
	logic    *signals.LogicSource
	executor jsengine.Executor
	cfg      *config.Configuration
	me       metrics.MetricsEngine
}

func NewAdsScoreGenerator(logic *signals.LogicSource, executor jsengine.Executor, cfg *config.Configuration, me metrics.MetricsEngine) *AdsScoreGenerator {
	return &AdsScoreGenerator{
		logic:    logic,
		executor: executor,
		cfg:      cfg,
		me:       me,
	}
}

// scoringInput is one ad submitted to scoreAds together with the provenance
// its outcome must carry.
type scoringInput struct {
	ad                     entities.AdWithBid
	customAudienceSignals  entities.CustomAudienceSignals
	biddingLogicURI        string
	biddingLogicJS         string
	biddingLogicDownloaded bool
}

// RunAdScoring fetches the seller logic and trusted signals, runs scoreAds
// over every candidate (auction plus contextual), validates the score count
// and zips scores to ads in submission order.
//
// Telemetry is emitted exactly once per call, with LatencyUnset and
// ResultSkipped for stages never reached.
func (g *AdsScoreGenerator) RunAdScoring(ctx context.Context, biddingOutcomes []*entities.AdBiddingOutcome, adSelectionConfig *entities.AdSelectionConfig, callerPackage string) ([]*entities.AdScoringOutcome, error) {
	start := time.Now()
	labels := metrics.AdScoringLabels{
		Result:              metrics.ResultSuccess,
		FetchLogicResult:    metrics.ResultSkipped,
		FetchSignalsResult:  metrics.ResultSkipped,
		ScoringScriptResult: metrics.ResultSkipped,
		FetchLogicLatency:   metrics.LatencyUnset,
		FetchSignalsLatency: metrics.LatencyUnset,
		ScoringLatency:      metrics.LatencyUnset,
		CustomAudiences:     len(biddingOutcomes),
	}
	defer func() {
		labels.OverallLatency = time.Since(start)
		g.me.RecordAdScoring(labels)
	}()

	// Stage 1: seller decision logic, override or fetch.
	fetchStart := time.Now()
	fetchCtx, cancelFetch := context.WithTimeout(ctx, g.cfg.Timeouts.Fetch())
	sellerLogic, err := g.logic.ResolveSellerLogic(fetchCtx, adSelectionConfig, callerPackage)
	cancelFetch()
	labels.FetchLogicLatency = time.Since(fetchStart)
	if err != nil {
		labels.Result = metrics.ResultFetchError
		labels.FetchLogicResult = metrics.ResultFetchError
		return nil, &errortypes.InternalError{Message: "failed to fetch seller decision logic: " + err.Error()}
	}
	labels.FetchLogicResult = metrics.ResultSuccess
	labels.DecisionLogicSize = len(sellerLogic.JS)

	inputs := buildScoringInputs(biddingOutcomes)
	if g.cfg.Scoring.ContextualAdsEnabled {
		contextual, err := g.contextualInputs(ctx, adSelectionConfig)
		if err != nil {
			labels.Result = metrics.ResultFetchError
			return nil, err
		}
		inputs = append(inputs, contextual...)
	}
	labels.AdsIn = len(inputs)

	// Stage 2: trusted scoring signals. An override substitutes the fetch;
	// otherwise a failed or empty fetch is a hard failure, never retried.
	trustedSignals, err := g.resolveTrustedSignals(ctx, adSelectionConfig, sellerLogic, inputs, &labels)
	if err != nil {
		return nil, err
	}

	// Stage 3: invoke scoreAds under the overall scoring timeout.
	scriptStart := time.Now()
	scores, err := g.invokeScoreAds(ctx, sellerLogic.JS, adSelectionConfig, trustedSignals, inputs)
	labels.ScoringLatency = time.Since(scriptStart)
	if err != nil {
		if _, isTimeout := err.(*errortypes.Timeout); isTimeout {
			labels.Result = metrics.ResultTimeout
			labels.ScoringScriptResult = metrics.ResultTimeout
			return nil, &errortypes.Timeout{Message: ErrMsgScoringTimedOut}
		}
		labels.Result = metrics.ResultScriptError
		labels.ScoringScriptResult = metrics.ResultScriptError
		return nil, err
	}
	labels.ScoringScriptResult = metrics.ResultSuccess

	// Stage 4: cardinality check. Fewer scores than ads means the script
	// output is malformed; this is not retryable.
	if len(scores) < len(inputs) {
		labels.Result = metrics.ResultScriptError
		return nil, &errortypes.InternalError{Message: ErrMsgScoresCountLessThanExpected}
	}

	outcomes := make([]*entities.AdScoringOutcome, 0, len(inputs))
	for i, input := range inputs {
		outcomes = append(outcomes, &entities.AdScoringOutcome{
			AdWithScore: entities.AdWithScore{
				AdWithBid: input.ad,
				Score:     scores[i],
			},
			CustomAudienceSignals:  input.customAudienceSignals,
			BiddingLogicURI:        input.biddingLogicURI,
			BiddingLogicJS:         input.biddingLogicJS,
			BiddingLogicDownloaded: input.biddingLogicDownloaded,
		})
	}
	labels.AdsScored = len(outcomes)
	return outcomes, nil
}

func buildScoringInputs(biddingOutcomes []*entities.AdBiddingOutcome) []scoringInput {
	inputs := make([]scoringInput, 0, len(biddingOutcomes))
	for _, outcome := range biddingOutcomes {
		inputs = append(inputs, scoringInput{
			ad:                     outcome.AdWithBid,
			customAudienceSignals:  outcome.CustomAudienceSignals,
			biddingLogicURI:        outcome.BiddingLogicURI,
			biddingLogicJS:         outcome.BiddingLogicJS,
			biddingLogicDownloaded: outcome.BiddingLogicDownloaded,
		})
	}
	return inputs
}

// contextualInputs appends each buyer's contextual ads. Their bidding logic
// is resolved from the per-buyer override store when developer mode has one;
// otherwise it stays marked as not yet downloaded.
func (g *AdsScoreGenerator) contextualInputs(ctx context.Context, adSelectionConfig *entities.AdSelectionConfig) ([]scoringInput, error) {
	var inputs []scoringInput
	for _, buyer := range sortedBuyers(adSelectionConfig.BuyerContextualAds) {
		contextual := adSelectionConfig.BuyerContextualAds[buyer]
		js := ""
		downloaded := false
		if contextual.DecisionLogicURI != "" {
			override, err := g.logic.ResolveBuyerOverrideOnly(ctx, contextual.DecisionLogicURI)
			if err != nil {
				return nil, err
			}
			if override != "" {
				js = override
				downloaded = true
			}
		}
		for _, ad := range contextual.AdsWithBid {
			inputs = append(inputs, scoringInput{
				ad: ad,
				customAudienceSignals: entities.CustomAudienceSignals{
					Owner: buyer,
					Buyer: buyer,
					Name:  "contextual",
				},
				biddingLogicURI:        contextual.DecisionLogicURI,
				biddingLogicJS:         js,
				biddingLogicDownloaded: downloaded,
			})
		}
	}
	return inputs, nil
}

func (g *AdsScoreGenerator) resolveTrustedSignals(ctx context.Context, adSelectionConfig *entities.AdSelectionConfig, sellerLogic *signals.ResolvedLogic, inputs []scoringInput, labels *metrics.AdScoringLabels) (json.RawMessage, error) {
	if sellerLogic.FromOverride && sellerLogic.TrustedSignalsOverride != "" {
		labels.FetchSignalsResult = metrics.ResultSuccess
		return json.RawMessage(sellerLogic.TrustedSignalsOverride), nil
	}

	renderURIs := make([]string, 0, len(inputs))
	for _, input := range inputs {
		renderURIs = append(renderURIs, input.ad.RenderURI)
	}
	queryURI, err := signals.TrustedScoringSignalsURI(adSelectionConfig.TrustedScoringSignalsURI, renderURIs)
	if err != nil {
		labels.Result = metrics.ResultInvalidInput
		labels.FetchSignalsResult = metrics.ResultInvalidInput
		return nil, &errortypes.InvalidArgument{Message: err.Error()}
	}

	fetchStart := time.Now()
	fetchCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeouts.Fetch())
	body, err := g.logic.Fetcher().Fetch(fetchCtx, queryURI)
	cancel()
	labels.FetchSignalsLatency = time.Since(fetchStart)
	if err != nil || len(body) == 0 {
		if err != nil {
			glog.Errorf("trusted scoring signals fetch failed: %v", err)
		}
		labels.Result = metrics.ResultFetchError
		labels.FetchSignalsResult = metrics.ResultFetchError
		return nil, &errortypes.InternalError{Message: ErrMsgMissingTrustedScoringSignals}
	}
	labels.FetchSignalsResult = metrics.ResultSuccess
	return json.RawMessage(body), nil
}

func (g *AdsScoreGenerator) invokeScoreAds(ctx context.Context, sellerJS string, adSelectionConfig *entities.AdSelectionConfig, trustedSignals json.RawMessage, inputs []scoringInput) ([]float64, error) {
	ads := make([]entities.AdWithBid, 0, len(inputs))
	caSignals := make([]entities.CustomAudienceSignals, 0, len(inputs))
	for _, input := range inputs {
		ads = append(ads, input.ad)
		caSignals = append(caSignals, input.customAudienceSignals)
	}

	args, err := marshalArgs(
		ads,
		adSelectionConfig,
		orEmptyObject(adSelectionConfig.SellerSignals),
		trustedSignals,
		orEmptyObject(adSelectionConfig.AuctionSignals),
		caSignals,
	)
	if err != nil {
		return nil, &errortypes.InternalError{Message: "failed to encode scoreAds arguments: " + err.Error()}
	}

	scoringCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeouts.Scoring())
	defer cancel()
	resp, err := g.executor.Execute(scoringCtx, ScoreAdsFunction, sellerJS, args, g.cfg.Timeouts.Scoring())
	if err != nil {
		return nil, err
	}

	var scores []float64
	if err := jsonutil.Unmarshal(resp.Result, &scores); err != nil {
		return nil, &errortypes.FailedToUnmarshal{Message: "scoreAds did not return a numeric score list: " + err.Error()}
	}
	return scores, nil
}

func sortedBuyers(contextualAds map[string]entities.ContextualAds) []string {
	buyers := make([]string, 0, len(contextualAds))
	for buyer := range contextualAds {
		buyers = append(buyers, buyer)
	}
	sort.Strings(buyers)
	return buyers
}

func marshalArgs(values ...interface{}) ([]json.RawMessage, error) {
	args := make([]json.RawMessage, 0, len(values))
	for _, value := range values {
		raw, err := jsonutil.Marshal(value)
		if err != nil {
			return nil, err
		}
		args = append(args, raw)
	}
	return args, nil
}

func orEmptyObject(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`{}`)
	}
	return raw
}
