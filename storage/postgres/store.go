// Package postgres backs the ad selection stores with a Postgres database.
// The schema is three tables: ad_selections, registered_interactions and
// histogram_events, plus decision_logic_overrides for developer mode.
package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/golang/glog"
	"github.com/lib/pq"

	"github.com/fledge/fledge-server/adselection/entities"
	"github.com/fledge/fledge-server/storage"
	"github.com/fledge/fledge-server/util/jsonutil"
)

// Store implements the storage interfaces on top of *sql.DB. Instantiate it
// through NewStore.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	if db == nil {
		glog.Fatalf("The Postgres ad selection store requires a database connection. Please report this as a bug.")
	}
	return &Store{db: db}
}

// Connect opens the database and pings it. A failed ping is logged but not
// fatal; the service can come up before the database does.
func Connect(connString string) (*Store, error) {
	db, err := sql.Open("postgres", connString)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		glog.Errorf("failed to connect to ad selection db: %v", err)
	}
	return NewStore(db), nil
}

func (s *Store) GetAdSelection(ctx context.Context, adSelectionID int64) (*entities.DBAdSelection, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT ad_selection_id, seller, decision_logic_uri, winning_ad_render_uri, winning_ad_bid,
		       custom_audience_signals, contextual_signals, bidding_logic_uri, creation_time,
		       caller_package_name, ad_counter_keys
		FROM ad_selections WHERE ad_selection_id = $1`, adSelectionID)

	var sel entities.DBAdSelection
	var signals []byte
	var keys pq.StringArray
	err := row.Scan(&sel.AdSelectionID, &sel.Seller, &sel.DecisionLogicURI, &sel.WinningAdRenderURI,
		&sel.WinningAdBid, &signals, &sel.ContextualSignals, &sel.BiddingLogicURI, &sel.CreationTime,
		&sel.CallerPackageName, &keys)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := jsonutil.Unmarshal(signals, &sel.CustomAudienceSignals); err != nil {
		return nil, err
	}
	sel.AdCounterKeys = keys
	return &sel, nil
}

func (s *Store) PersistAdSelection(ctx context.Context, selection *entities.DBAdSelection) error {
	signals, err := jsonutil.Marshal(selection.CustomAudienceSignals)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO ad_selections
		(ad_selection_id, seller, decision_logic_uri, winning_ad_render_uri, winning_ad_bid,
		 custom_audience_signals, contextual_signals, bidding_logic_uri, creation_time,
		 caller_package_name, ad_counter_keys)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		selection.AdSelectionID, selection.Seller, selection.DecisionLogicURI,
		selection.WinningAdRenderURI, selection.WinningAdBid, signals,
		selection.ContextualSignals, selection.BiddingLogicURI, selection.CreationTime,
		selection.CallerPackageName, pq.StringArray(selection.AdCounterKeys))
	return err
}

func (s *Store) PersistInteractions(ctx context.Context, interactions []entities.RegisteredAdInteraction) error {
	if len(interactions) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, in := range interactions {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO registered_interactions (ad_selection_id, interaction_key, destination, interaction_uri)
			VALUES ($1, $2, $3, $4)`,
			in.AdSelectionID, in.InteractionKey, string(in.Destination), in.InteractionURI); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				glog.Errorf("error rolling back interaction batch: %v", rbErr)
			}
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) InteractionExists(ctx context.Context, adSelectionID int64, key string, dest entities.ReportingDestination) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM registered_interactions
		WHERE ad_selection_id = $1 AND interaction_key = $2 AND destination = $3`,
		adSelectionID, key, string(dest)).Scan(&count)
	return count > 0, err
}

func (s *Store) InteractionURI(ctx context.Context, adSelectionID int64, key string, dest entities.ReportingDestination) (string, error) {
	var uri string
	err := s.db.QueryRowContext(ctx, `
		SELECT interaction_uri FROM registered_interactions
		WHERE ad_selection_id = $1 AND interaction_key = $2 AND destination = $3`,
		adSelectionID, key, string(dest)).Scan(&uri)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return uri, err
}

func (s *Store) TotalInteractionCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM registered_interactions`).Scan(&count)
	return count, err
}

func (s *Store) InsertEvents(ctx context.Context, events []entities.HistogramEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, ev := range events {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO histogram_events (ad_counter_key, buyer, event_type, event_time)
			VALUES ($1, $2, $3, $4)`,
			ev.AdCounterKey, ev.Buyer, string(ev.EventType), ev.Timestamp); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				glog.Errorf("error rolling back histogram batch: %v", rbErr)
			}
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) CountEvents(ctx context.Context, key, buyer string, eventType entities.AdEventType, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM histogram_events
		WHERE ad_counter_key = $1 AND buyer = $2 AND event_type = $3 AND event_time > $4`,
		key, buyer, string(eventType), since).Scan(&count)
	return count, err
}

func (s *Store) EvictOldest(ctx context.Context, downTo int) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM histogram_events WHERE ctid IN (
			SELECT ctid FROM histogram_events ORDER BY event_time DESC OFFSET $1
		)`, downTo)
	if err != nil {
		return 0, err
	}
	evicted, err := res.RowsAffected()
	return int(evicted), err
}

func (s *Store) TotalEventCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM histogram_events`).Scan(&count)
	return count, err
}

func (s *Store) GetOverride(ctx context.Context, key string) (*storage.DecisionLogicOverride, error) {
	var ov storage.DecisionLogicOverride
	err := s.db.QueryRowContext(ctx, `
		SELECT decision_logic_js, trusted_scoring_signals FROM decision_logic_overrides WHERE override_key = $1`,
		key).Scan(&ov.DecisionLogicJS, &ov.TrustedScoringSignals)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ov, nil
}

func (s *Store) GetBuyerOverride(ctx context.Context, biddingLogicURI string) (string, error) {
	var js string
	err := s.db.QueryRowContext(ctx, `
		SELECT bidding_logic_js FROM buyer_logic_overrides WHERE bidding_logic_uri = $1`,
		biddingLogicURI).Scan(&js)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return js, err
}

func (s *Store) SetOverride(ctx context.Context, key string, override storage.DecisionLogicOverride) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO decision_logic_overrides (override_key, decision_logic_js, trusted_scoring_signals)
		VALUES ($1, $2, $3)
		ON CONFLICT (override_key) DO UPDATE
		SET decision_logic_js = $2, trusted_scoring_signals = $3`,
		key, override.DecisionLogicJS, override.TrustedScoringSignals)
	return err
}
