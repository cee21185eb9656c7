package adselection

import (
	"context"
	"time"

	"github.com/fledge/fledge-server/adselection/entities"
	"github.com/fledge/fledge-server/metrics"
	"github.com/fledge/fledge-server/storage"
)

// FrequencyCapFilter decides whether a candidate ad's frequency caps exclude
// it from the auction. It only reads the histogram store; no network or
// script execution is involved.
type FrequencyCapFilter struct {
	histograms storage.HistogramStore
	me         metrics.MetricsEngine
	// now is swappable so tests can move time instead of sleeping.
	now func() time.Time
}

func NewFrequencyCapFilter(histograms storage.HistogramStore, me metrics.MetricsEngine) *FrequencyCapFilter {
	return &FrequencyCapFilter{
		histograms: histograms,
		me:         me,
		now:        time.Now,
	}
}

// ShouldFilter reports whether any of the ad's caps has been reached by the
// buyer's histogram. Ads with no filters always pass. A store read error
// propagates; the auction must not silently pass an ad it could not check.
func (f *FrequencyCapFilter) ShouldFilter(ctx context.Context, filters *entities.FrequencyCapAdFilters, buyer string) (bool, error) {
	if filters.IsEmpty() {
		f.me.RecordFrequencyCapCheck(false)
		return false, nil
	}

	segments := []struct {
		eventType entities.AdEventType
		caps      []entities.KeyedFrequencyCap
	}{
		{entities.AdEventWin, filters.WinCaps},
		{entities.AdEventView, filters.ViewCaps},
		{entities.AdEventClick, filters.ClickCaps},
		{entities.AdEventCustom, filters.CustomCaps},
	}
	for _, segment := range segments {
		for _, cap := range segment.caps {
			since := f.now().Add(-cap.Interval)
			count, err := f.histograms.CountEvents(ctx, cap.AdCounterKey, buyer, segment.eventType, since)
			if err != nil {
				return false, err
			}
			if count >= cap.MaxCount {
				f.me.RecordFrequencyCapCheck(true)
				return true, nil
			}
		}
	}
	f.me.RecordFrequencyCapCheck(false)
	return false, nil
}

// CandidateAd pairs an ad's frequency caps with the context the filter needs.
type CandidateAd struct {
	Ad      entities.AdWithBid
	Buyer   string
	Filters *entities.FrequencyCapAdFilters
}

// FilterCandidates narrows the candidate list to ads whose caps have not been
// reached, preserving order.
func (f *FrequencyCapFilter) FilterCandidates(ctx context.Context, candidates []CandidateAd) ([]CandidateAd, error) {
	passed := make([]CandidateAd, 0, len(candidates))
	for _, candidate := range candidates {
		filtered, err := f.ShouldFilter(ctx, candidate.Filters, candidate.Buyer)
		if err != nil {
			return nil, err
		}
		if !filtered {
			passed = append(passed, candidate)
		}
	}
	return passed, nil
}
