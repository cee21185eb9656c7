// Package memory holds the on-device storage backend. Everything lives in
// mutex-guarded maps; this is the default backend when no database is
// configured.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fledge/fledge-server/adselection/entities"
	"github.com/fledge/fledge-server/storage"
)

type interactionKey struct {
	adSelectionID int64
	key           string
	dest          entities.ReportingDestination
}

// Store implements storage.AdSelectionStore, storage.HistogramStore and
// storage.OverrideStore in memory.
type Store struct {
	mu           sync.RWMutex
	selections   map[int64]*entities.DBAdSelection
	interactions map[interactionKey]string
	// interactionOrder preserves registration order so eviction and counting
	// stay deterministic.
	interactionOrder []interactionKey
	events           []entities.HistogramEvent
	overrides        map[string]storage.DecisionLogicOverride
	buyerOverrides   map[string]string
}

func NewStore() *Store {
	return &Store{
		selections:     make(map[int64]*entities.DBAdSelection),
		interactions:   make(map[interactionKey]string),
		overrides:      make(map[string]storage.DecisionLogicOverride),
		buyerOverrides: make(map[string]string),
	}
}

func (s *Store) GetAdSelection(_ context.Context, adSelectionID int64) (*entities.DBAdSelection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sel, ok := s.selections[adSelectionID]
	if !ok {
		return nil, nil
	}
	cp := *sel
	return &cp, nil
}

func (s *Store) PersistAdSelection(_ context.Context, selection *entities.DBAdSelection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.selections[selection.AdSelectionID]; exists {
		return fmt.Errorf("ad selection %d already persisted", selection.AdSelectionID)
	}
	cp := *selection
	s.selections[selection.AdSelectionID] = &cp
	return nil
}

func (s *Store) PersistInteractions(_ context.Context, interactions []entities.RegisteredAdInteraction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, in := range interactions {
		k := interactionKey{in.AdSelectionID, in.InteractionKey, in.Destination}
		if _, exists := s.interactions[k]; !exists {
			s.interactionOrder = append(s.interactionOrder, k)
		}
		s.interactions[k] = in.InteractionURI
	}
	return nil
}

func (s *Store) InteractionExists(_ context.Context, adSelectionID int64, key string, dest entities.ReportingDestination) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.interactions[interactionKey{adSelectionID, key, dest}]
	return ok, nil
}

func (s *Store) InteractionURI(_ context.Context, adSelectionID int64, key string, dest entities.ReportingDestination) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.interactions[interactionKey{adSelectionID, key, dest}], nil
}

func (s *Store) TotalInteractionCount(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.interactions), nil
}

func (s *Store) InsertEvents(_ context.Context, events []entities.HistogramEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return nil
}

func (s *Store) CountEvents(_ context.Context, key, buyer string, eventType entities.AdEventType, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, ev := range s.events {
		if ev.AdCounterKey == key && ev.Buyer == buyer && ev.EventType == eventType && ev.Timestamp.After(since) {
			count++
		}
	}
	return count, nil
}

func (s *Store) EvictOldest(_ context.Context, downTo int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) <= downTo {
		return 0, nil
	}
	sort.SliceStable(s.events, func(i, j int) bool {
		return s.events[i].Timestamp.Before(s.events[j].Timestamp)
	})
	evicted := len(s.events) - downTo
	s.events = append([]entities.HistogramEvent(nil), s.events[evicted:]...)
	return evicted, nil
}

func (s *Store) TotalEventCount(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events), nil
}

func (s *Store) GetOverride(_ context.Context, key string) (*storage.DecisionLogicOverride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ov, ok := s.overrides[key]
	if !ok {
		return nil, nil
	}
	return &ov, nil
}

func (s *Store) GetBuyerOverride(_ context.Context, biddingLogicURI string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.buyerOverrides[biddingLogicURI], nil
}

func (s *Store) SetOverride(_ context.Context, key string, override storage.DecisionLogicOverride) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[key] = override
	return nil
}

// SetBuyerOverride registers buyer-side bidding logic for developer mode.
func (s *Store) SetBuyerOverride(_ context.Context, biddingLogicURI, js string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buyerOverrides[biddingLogicURI] = js
	return nil
}
