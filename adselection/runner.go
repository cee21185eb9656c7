package adselection

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/gofrs/uuid"
	"github.com/golang/glog"

	"github.com/fledge/fledge-server/adselection/entities"
	"github.com/fledge/fledge-server/errortypes"
	"github.com/fledge/fledge-server/filters"
	"github.com/fledge/fledge-server/storage"
)

// Runner executes one full auction: frequency cap filtering, scoring and
// winner persistence. Bidding happens upstream; candidates arrive with bids.
type Runner struct {
	filter     *FrequencyCapFilter
	scorer     *AdsScoreGenerator
	selections storage.AdSelectionStore
	callers    *filters.CallerFilter
}

func NewRunner(filter *FrequencyCapFilter, scorer *AdsScoreGenerator, selections storage.AdSelectionStore, callers *filters.CallerFilter) *Runner {
	return &Runner{
		filter:     filter,
		scorer:     scorer,
		selections: selections,
		callers:    callers,
	}
}

// Candidate is one bidding outcome plus the frequency caps its ad carries.
type Candidate struct {
	Outcome *entities.AdBiddingOutcome
	Filters *entities.FrequencyCapAdFilters
}

// Result is the caller-visible outcome of a completed auction.
type Result struct {
	AdSelectionID int64
	RenderURI     string
	Bid           float64
	Score         float64
}

// SelectAds narrows the candidates through the frequency cap filter, scores
// the survivors and persists the winner. The highest score wins; ties keep
// submission order.
func (r *Runner) SelectAds(ctx context.Context, candidates []Candidate, adSelectionConfig *entities.AdSelectionConfig, callerPackage string) (*Result, error) {
	if err := r.callers.Assert(callerPackage, adSelectionConfig.Seller, filters.APISelectAds); err != nil {
		return nil, err
	}

	surviving := make([]*entities.AdBiddingOutcome, 0, len(candidates))
	for _, candidate := range candidates {
		filtered, err := r.filter.ShouldFilter(ctx, candidate.Filters, candidate.Outcome.CustomAudienceSignals.Buyer)
		if err != nil {
			return nil, err
		}
		if filtered {
			glog.V(2).Infof("frequency cap excluded ad %s", candidate.Outcome.AdWithBid.RenderURI)
			continue
		}
		surviving = append(surviving, candidate.Outcome)
	}
	if len(surviving) == 0 && len(adSelectionConfig.BuyerContextualAds) == 0 {
		return nil, &errortypes.InternalError{Message: "no candidate ads survived filtering"}
	}

	outcomes, err := r.scorer.RunAdScoring(ctx, surviving, adSelectionConfig, callerPackage)
	if err != nil {
		return nil, err
	}

	winner := pickWinner(outcomes)
	if winner == nil {
		return nil, &errortypes.InternalError{Message: "scoring produced no outcomes"}
	}

	adSelectionID, err := newAdSelectionID()
	if err != nil {
		return nil, &errortypes.InternalError{Message: "failed to generate ad selection id: " + err.Error()}
	}
	selection := &entities.DBAdSelection{
		AdSelectionID:         adSelectionID,
		Seller:                adSelectionConfig.Seller,
		DecisionLogicURI:      adSelectionConfig.DecisionLogicURI,
		WinningAdRenderURI:    winner.AdWithScore.AdWithBid.RenderURI,
		WinningAdBid:          winner.AdWithScore.AdWithBid.Bid,
		CustomAudienceSignals: winner.CustomAudienceSignals,
		ContextualSignals:     string(orEmptyObject(adSelectionConfig.SellerSignals)),
		BiddingLogicURI:       winner.BiddingLogicURI,
		CreationTime:          time.Now(),
		CallerPackageName:     callerPackage,
		AdCounterKeys:         winner.AdWithScore.AdWithBid.AdCounterKeys,
	}
	if err := r.selections.PersistAdSelection(ctx, selection); err != nil {
		return nil, err
	}

	return &Result{
		AdSelectionID: adSelectionID,
		RenderURI:     winner.AdWithScore.AdWithBid.RenderURI,
		Bid:           winner.AdWithScore.AdWithBid.Bid,
		Score:         winner.AdWithScore.Score,
	}, nil
}

// pickWinner returns the highest-scoring outcome, first one on ties.
func pickWinner(outcomes []*entities.AdScoringOutcome) *entities.AdScoringOutcome {
	var winner *entities.AdScoringOutcome
	for _, outcome := range outcomes {
		if winner == nil || outcome.AdWithScore.Score > winner.AdWithScore.Score {
			winner = outcome
		}
	}
	return winner
}

// newAdSelectionID derives a positive 63-bit id from a v4 UUID.
func newAdSelectionID() (int64, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return 0, err
	}
	raw := binary.BigEndian.Uint64(id.Bytes()[:8])
	return int64(raw & 0x7fffffffffffffff), nil
}
