package signals

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fledge/fledge-server/adselection/entities"
	"github.com/fledge/fledge-server/storage"
	"github.com/fledge/fledge-server/storage/memory"
)

func testAdSelectionConfig(decisionLogicURI string) *entities.AdSelectionConfig {
	return &entities.AdSelectionConfig{
		Seller:               "seller.example.com",
		DecisionLogicURI:     decisionLogicURI,
		CustomAudienceBuyers: []string{"buyer.example.com"},
	}
}

func TestResolveSellerLogicFetches(t *testing.T) {
	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte("function scoreAds() {}"))
	}))
	defer server.Close()

	source := NewLogicSource(server.Client(), memory.NewStore(), false, 256*1024, 60)
	logic, err := source.ResolveSellerLogic(context.Background(), testAdSelectionConfig(server.URL), "com.example.shopping")
	require.NoError(t, err)
	assert.Equal(t, "function scoreAds() {}", logic.JS)
	assert.False(t, logic.FromOverride)
	assert.Equal(t, 1, hits)
}

func TestResolveSellerLogicCachesFetches(t *testing.T) {
	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte("function scoreAds() {}"))
	}))
	defer server.Close()

	source := NewLogicSource(server.Client(), memory.NewStore(), false, 256*1024, 60)
	cfg := testAdSelectionConfig(server.URL)
	for i := 0; i < 3; i++ {
		_, err := source.ResolveSellerLogic(context.Background(), cfg, "com.example.shopping")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, hits, "repeated resolutions must hit the cache")
}

func TestResolveSellerLogicPrefersOverride(t *testing.T) {
	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
	}))
	defer server.Close()

	overrides := memory.NewStore()
	cfg := testAdSelectionConfig(server.URL)
	key := OverrideKey(cfg, "com.example.shopping")
	require.NoError(t, overrides.SetOverride(context.Background(), key, storage.DecisionLogicOverride{
		DecisionLogicJS:       "function scoreAds() { return [1]; }",
		TrustedScoringSignals: `{"a": 1}`,
	}))

	source := NewLogicSource(server.Client(), overrides, true, 256*1024, 60)
	logic, err := source.ResolveSellerLogic(context.Background(), cfg, "com.example.shopping")
	require.NoError(t, err)
	assert.True(t, logic.FromOverride)
	assert.Equal(t, "function scoreAds() { return [1]; }", logic.JS)
	assert.Equal(t, `{"a": 1}`, logic.TrustedSignalsOverride)
	assert.Zero(t, hits, "an override must suppress the fetch")
}

func TestResolveSellerLogicOverrideDisabled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("fetched"))
	}))
	defer server.Close()

	overrides := memory.NewStore()
	cfg := testAdSelectionConfig(server.URL)
	key := OverrideKey(cfg, "com.example.shopping")
	require.NoError(t, overrides.SetOverride(context.Background(), key, storage.DecisionLogicOverride{
		DecisionLogicJS: "overridden",
	}))

	source := NewLogicSource(server.Client(), overrides, false, 256*1024, 60)
	logic, err := source.ResolveSellerLogic(context.Background(), cfg, "com.example.shopping")
	require.NoError(t, err)
	assert.Equal(t, "fetched", logic.JS, "overrides must be inert outside developer mode")
}

func TestResolveBuyerLogic(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("function reportWin() {}"))
	}))
	defer server.Close()

	source := NewLogicSource(server.Client(), memory.NewStore(), false, 256*1024, 60)
	logic, err := source.ResolveBuyerLogic(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, "function reportWin() {}", logic.JS)
}

func TestResolveBuyerOverrideOnly(t *testing.T) {
	overrides := memory.NewStore()
	require.NoError(t, overrides.SetBuyerOverride(context.Background(), "https://buyer.example.com/bidding.js", "js"))

	source := NewLogicSource(http.DefaultClient, overrides, true, 256*1024, 60)
	js, err := source.ResolveBuyerOverrideOnly(context.Background(), "https://buyer.example.com/bidding.js")
	require.NoError(t, err)
	assert.Equal(t, "js", js)

	js, err = source.ResolveBuyerOverrideOnly(context.Background(), "https://buyer.example.com/other.js")
	require.NoError(t, err)
	assert.Empty(t, js, "no fetch fallback: absent overrides resolve to empty")

	disabled := NewLogicSource(http.DefaultClient, overrides, false, 256*1024, 60)
	js, err = disabled.ResolveBuyerOverrideOnly(context.Background(), "https://buyer.example.com/bidding.js")
	require.NoError(t, err)
	assert.Empty(t, js)
}

func TestOverrideKeyDeterministic(t *testing.T) {
	cfg := testAdSelectionConfig("https://seller.example.com/logic.js")
	assert.Equal(t, OverrideKey(cfg, "com.example.a"), OverrideKey(cfg, "com.example.a"))
	assert.NotEqual(t, OverrideKey(cfg, "com.example.a"), OverrideKey(cfg, "com.example.b"))

	other := testAdSelectionConfig("https://seller.example.com/logic.js")
	other.Seller = "other-seller.example.com"
	assert.NotEqual(t, OverrideKey(cfg, "com.example.a"), OverrideKey(other, "com.example.a"))
}
