package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fledge/fledge-server/adselection/entities"
	"github.com/fledge/fledge-server/storage"
)

func TestAdSelectionRoundTrip(t *testing.T) {
	store := NewStore()
	selection := &entities.DBAdSelection{
		AdSelectionID:      1,
		Seller:             "seller.example.com",
		DecisionLogicURI:   "https://seller.example.com/logic.js",
		WinningAdRenderURI: "https://cdn.example.com/ad",
		WinningAdBid:       2.5,
		CustomAudienceSignals: entities.CustomAudienceSignals{
			Owner: "buyer.example.com",
			Buyer: "buyer.example.com",
			Name:  "shoes",
		},
		CreationTime:      time.Now(),
		CallerPackageName: "com.example.shopping",
		AdCounterKeys:     []string{"sneakers"},
	}
	require.NoError(t, store.PersistAdSelection(context.Background(), selection))

	got, err := store.GetAdSelection(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, selection.WinningAdRenderURI, got.WinningAdRenderURI)
	assert.Equal(t, selection.CustomAudienceSignals.Buyer, got.CustomAudienceSignals.Buyer)

	// The returned record is a copy; mutating it must not affect the store.
	got.WinningAdBid = 99
	again, err := store.GetAdSelection(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 2.5, again.WinningAdBid)
}

func TestGetAdSelectionAbsent(t *testing.T) {
	store := NewStore()
	got, err := store.GetAdSelection(context.Background(), 404)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPersistAdSelectionDuplicate(t *testing.T) {
	store := NewStore()
	selection := &entities.DBAdSelection{AdSelectionID: 1}
	require.NoError(t, store.PersistAdSelection(context.Background(), selection))
	assert.Error(t, store.PersistAdSelection(context.Background(), selection))
}

func TestInteractions(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.PersistInteractions(context.Background(), []entities.RegisteredAdInteraction{
		{AdSelectionID: 1, InteractionKey: "click", Destination: entities.DestinationSeller, InteractionURI: "https://seller.example.com/click"},
		{AdSelectionID: 1, InteractionKey: "click", Destination: entities.DestinationBuyer, InteractionURI: "https://buyer.example.com/click"},
	}))

	exists, err := store.InteractionExists(context.Background(), 1, "click", entities.DestinationSeller)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = store.InteractionExists(context.Background(), 1, "view", entities.DestinationSeller)
	require.NoError(t, err)
	assert.False(t, exists)

	uri, err := store.InteractionURI(context.Background(), 1, "click", entities.DestinationBuyer)
	require.NoError(t, err)
	assert.Equal(t, "https://buyer.example.com/click", uri)

	total, err := store.TotalInteractionCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func TestCountEventsWindow(t *testing.T) {
	store := NewStore()
	base := time.Now()
	require.NoError(t, store.InsertEvents(context.Background(), []entities.HistogramEvent{
		{AdCounterKey: "k", Buyer: "b", EventType: entities.AdEventWin, Timestamp: base.Add(-2 * time.Hour)},
		{AdCounterKey: "k", Buyer: "b", EventType: entities.AdEventWin, Timestamp: base.Add(-10 * time.Minute)},
		{AdCounterKey: "k", Buyer: "b", EventType: entities.AdEventWin, Timestamp: base},
	}))

	count, err := store.CountEvents(context.Background(), "k", "b", entities.AdEventWin, base.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = store.CountEvents(context.Background(), "k", "other", entities.AdEventWin, base.Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestEvictOldest(t *testing.T) {
	store := NewStore()
	base := time.Now()
	events := make([]entities.HistogramEvent, 0, 5)
	for i := 0; i < 5; i++ {
		events = append(events, entities.HistogramEvent{
			AdCounterKey: "k",
			Buyer:        "b",
			EventType:    entities.AdEventWin,
			Timestamp:    base.Add(time.Duration(i) * time.Minute),
		})
	}
	require.NoError(t, store.InsertEvents(context.Background(), events))

	evicted, err := store.EvictOldest(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 3, evicted)

	total, err := store.TotalEventCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	// The survivors are the newest two.
	count, err := store.CountEvents(context.Background(), "k", "b", entities.AdEventWin, base.Add(2*time.Minute+30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestEvictOldestUnderTarget(t *testing.T) {
	store := NewStore()
	evicted, err := store.EvictOldest(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, evicted)
}

func TestOverrides(t *testing.T) {
	store := NewStore()

	got, err := store.GetOverride(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, store.SetOverride(context.Background(), "key", storage.DecisionLogicOverride{
		DecisionLogicJS:       "function scoreAds() {}",
		TrustedScoringSignals: `{"a": 1}`,
	}))
	got, err = store.GetOverride(context.Background(), "key")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "function scoreAds() {}", got.DecisionLogicJS)

	js, err := store.GetBuyerOverride(context.Background(), "https://buyer.example.com/bidding.js")
	require.NoError(t, err)
	assert.Empty(t, js)

	require.NoError(t, store.SetBuyerOverride(context.Background(), "https://buyer.example.com/bidding.js", "function reportWin() {}"))
	js, err = store.GetBuyerOverride(context.Background(), "https://buyer.example.com/bidding.js")
	require.NoError(t, err)
	assert.Equal(t, "function reportWin() {}", js)
}
