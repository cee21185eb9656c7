package adselection

import (
	"context"
	"time"

	"github.com/golang/glog"

	"github.com/fledge/fledge-server/adselection/entities"
	"github.com/fledge/fledge-server/config"
	"github.com/fledge/fledge-server/errortypes"
	"github.com/fledge/fledge-server/metrics"
	"github.com/fledge/fledge-server/storage"
)

// HistogramUpdater records ad interaction events for the frequency cap
// histogram, keyed by the winning ad's counter keys.
type HistogramUpdater struct {
	selections storage.AdSelectionStore
	histograms storage.HistogramStore
	cfg        config.FrequencyCap
	me         metrics.MetricsEngine
	now        func() time.Time
}

func NewHistogramUpdater(selections storage.AdSelectionStore, histograms storage.HistogramStore, cfg config.FrequencyCap, me metrics.MetricsEngine) *HistogramUpdater {
	return &HistogramUpdater{
		selections: selections,
		histograms: histograms,
		cfg:        cfg,
		me:         me,
		now:        time.Now,
	}
}

// UpdateHistogram appends one event per ad counter key of the ad selection's
// winning ad.
//
// Unknown ad selection ids succeed as no-ops: the id may reference an auction
// run on another device. A caller package mismatch is also a no-op, so one
// app cannot pollute another app's histogram, and so is an ad tech that does
// not own the winning ad's buyer audience. Eviction is amortized: it only
// runs when the absolute maximum is exceeded, and shrinks the table down to
// the lower target.
func (u *HistogramUpdater) UpdateHistogram(ctx context.Context, adSelectionID int64, eventType entities.AdEventType, callerAdTech, callerPackage string) error {
	start := u.now()
	labels := metrics.HistogramLabels{Result: metrics.ResultSuccess}
	defer func() {
		labels.OverallLatency = u.now().Sub(start)
		u.me.RecordHistogramUpdate(labels)
	}()

	if !u.cfg.Enabled {
		labels.Result = metrics.ResultInvalidInput
		return &errortypes.InternalError{Message: "ad counter histograms are disabled"}
	}

	selection, err := u.selections.GetAdSelection(ctx, adSelectionID)
	if err != nil {
		labels.Result = metrics.ResultStoreError
		return err
	}
	if selection == nil {
		glog.V(2).Infof("no ad selection with id %d, skipping histogram update", adSelectionID)
		return nil
	}
	if selection.CallerPackageName != callerPackage {
		glog.Warningf("histogram update for ad selection %d from %s does not match persisted caller %s, skipping",
			adSelectionID, callerPackage, selection.CallerPackageName)
		return nil
	}
	if callerAdTech != selection.CustomAudienceSignals.Buyer {
		glog.Warningf("histogram update for ad selection %d from ad tech %s does not match winning buyer %s, skipping",
			adSelectionID, callerAdTech, selection.CustomAudienceSignals.Buyer)
		return nil
	}

	now := u.now()
	events := make([]entities.HistogramEvent, 0, len(selection.AdCounterKeys))
	for _, key := range selection.AdCounterKeys {
		events = append(events, entities.HistogramEvent{
			AdCounterKey: key,
			Buyer:        selection.CustomAudienceSignals.Buyer,
			EventType:    eventType,
			Timestamp:    now,
		})
	}
	if err := u.histograms.InsertEvents(ctx, events); err != nil {
		labels.Result = metrics.ResultStoreError
		return err
	}
	labels.EventsInserted = len(events)

	total, err := u.histograms.TotalEventCount(ctx)
	if err != nil {
		labels.Result = metrics.ResultStoreError
		return err
	}
	if total > u.cfg.AbsoluteMaxTotalEvents {
		evicted, err := u.histograms.EvictOldest(ctx, u.cfg.LowerMaxTotalEvents)
		if err != nil {
			labels.Result = metrics.ResultStoreError
			return err
		}
		labels.EventsEvicted = evicted
		glog.Infof("histogram exceeded %d events, evicted %d down to %d",
			u.cfg.AbsoluteMaxTotalEvents, evicted, u.cfg.LowerMaxTotalEvents)
	}
	return nil
}
