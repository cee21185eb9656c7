package storage

import (
	"context"
	"time"

	"github.com/fledge/fledge-server/adselection/entities"
)

// AdSelectionStore persists completed auctions and the ad interactions their
// reporting scripts register.
//
// Implementations must be safe for concurrent access by multiple goroutines.
// Callers are expected to share a single instance as much as possible.
type AdSelectionStore interface {
	// GetAdSelection returns the persisted auction record, or nil with a nil
	// error when no record exists for the id.
	GetAdSelection(ctx context.Context, adSelectionID int64) (*entities.DBAdSelection, error)

	// PersistAdSelection writes the record of a completed auction. Records
	// are logically append-only; persisting the same id twice is an error.
	PersistAdSelection(ctx context.Context, selection *entities.DBAdSelection) error

	// PersistInteractions writes a batch of validated beacon registrations
	// for one ad selection. The batch is applied atomically.
	PersistInteractions(ctx context.Context, interactions []entities.RegisteredAdInteraction) error

	// InteractionExists reports whether a beacon was registered for the
	// given key and destination.
	InteractionExists(ctx context.Context, adSelectionID int64, key string, dest entities.ReportingDestination) (bool, error)

	// InteractionURI returns the registered URI, or "" with a nil error when
	// no such registration exists.
	InteractionURI(ctx context.Context, adSelectionID int64, key string, dest entities.ReportingDestination) (string, error)

	// TotalInteractionCount returns the number of registered interactions
	// across all ad selections.
	TotalInteractionCount(ctx context.Context) (int, error)
}

// HistogramStore records ad interaction events and answers the count queries
// the frequency-cap filter makes.
type HistogramStore interface {
	// InsertEvents appends the events. The batch is applied atomically.
	InsertEvents(ctx context.Context, events []entities.HistogramEvent) error

	// CountEvents returns how many events exist for the key, buyer and event
	// type with a timestamp strictly after since.
	CountEvents(ctx context.Context, key, buyer string, eventType entities.AdEventType, since time.Time) (int, error)

	// EvictOldest deletes the oldest events until at most downTo remain,
	// returning how many were removed.
	EvictOldest(ctx context.Context, downTo int) (int, error)

	// TotalEventCount returns the number of stored events.
	TotalEventCount(ctx context.Context) (int, error)
}

// DecisionLogicOverride is a developer-mode substitute for fetched JS and
// trusted signals.
type DecisionLogicOverride struct {
	DecisionLogicJS       string
	TrustedScoringSignals string
}

// OverrideStore resolves developer-mode overrides. Keys are deterministic
// hashes of (ad selection config, caller package); buyer overrides key on the
// buyer's decision logic URI.
type OverrideStore interface {
	// GetOverride returns the override for the key, or nil with a nil error
	// when developer mode has nothing registered for it.
	GetOverride(ctx context.Context, key string) (*DecisionLogicOverride, error)

	// GetBuyerOverride returns the buyer-side bidding logic registered for
	// the URI, or "" when absent.
	GetBuyerOverride(ctx context.Context, biddingLogicURI string) (string, error)

	// SetOverride registers an override for tests and developer tooling.
	SetOverride(ctx context.Context, key string, override DecisionLogicOverride) error
}
