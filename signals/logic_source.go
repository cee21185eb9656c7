package signals

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"time"

	"github.com/coocood/freecache"
	"github.com/golang/glog"

	"github.com/fledge/fledge-server/adselection/entities"
	"github.com/fledge/fledge-server/storage"
)

// LogicSource resolves decision logic JS two ways: a developer-mode override
// when one is registered, otherwise an HTTP fetch of the logic URI. Fetched
// logic is cached with a TTL so repeated auctions against the same seller do
// not refetch.
type LogicSource struct {
	fetcher          *HttpFetcher
	overrides        storage.OverrideStore
	overridesEnabled bool
	cache            *freecache.Cache
	ttlSeconds       int
}

// ResolvedLogic is decision logic JS plus where it came from.
type ResolvedLogic struct {
	JS string
	// FromOverride is true when developer mode supplied the JS.
	FromOverride bool
	// TrustedSignalsOverride substitutes the trusted-signals fetch when the
	// override carries one.
	TrustedSignalsOverride string
}

func NewLogicSource(client *http.Client, overrides storage.OverrideStore, overridesEnabled bool, cacheSizeBytes, ttlSeconds int) *LogicSource {
	return &LogicSource{
		fetcher:          NewHttpFetcher(client),
		overrides:        overrides,
		overridesEnabled: overridesEnabled,
		cache:            freecache.NewCache(cacheSizeBytes),
		ttlSeconds:       ttlSeconds,
	}
}

// Fetcher exposes the underlying HTTP fetcher for callers that need raw
// fetches (trusted signals, reporting dispatch).
func (s *LogicSource) Fetcher() *HttpFetcher {
	return s.fetcher
}

// ResolveSellerLogic returns the seller decision logic for the config,
// preferring a developer override keyed on (config, caller package).
func (s *LogicSource) ResolveSellerLogic(ctx context.Context, config *entities.AdSelectionConfig, callerPackage string) (*ResolvedLogic, error) {
	if s.overridesEnabled {
		key := OverrideKey(config, callerPackage)
		ov, err := s.overrides.GetOverride(ctx, key)
		if err != nil {
			return nil, err
		}
		if ov != nil {
			glog.Infof("using developer override for seller %s", config.Seller)
			return &ResolvedLogic{JS: ov.DecisionLogicJS, FromOverride: true, TrustedSignalsOverride: ov.TrustedScoringSignals}, nil
		}
	}
	js, err := s.fetchCached(ctx, config.DecisionLogicURI)
	if err != nil {
		return nil, err
	}
	return &ResolvedLogic{JS: js}, nil
}

// ResolveBuyerLogic returns the bidding logic behind the URI, preferring a
// per-buyer developer override.
func (s *LogicSource) ResolveBuyerLogic(ctx context.Context, biddingLogicURI string) (*ResolvedLogic, error) {
	if s.overridesEnabled {
		js, err := s.overrides.GetBuyerOverride(ctx, biddingLogicURI)
		if err != nil {
			return nil, err
		}
		if js != "" {
			return &ResolvedLogic{JS: js, FromOverride: true}, nil
		}
	}
	js, err := s.fetchCached(ctx, biddingLogicURI)
	if err != nil {
		return nil, err
	}
	return &ResolvedLogic{JS: js}, nil
}

// ResolveBuyerOverrideOnly looks up a per-buyer override without falling
// back to a fetch. Contextual ads default to "not yet downloaded" when no
// override exists.
func (s *LogicSource) ResolveBuyerOverrideOnly(ctx context.Context, biddingLogicURI string) (string, error) {
	if !s.overridesEnabled {
		return "", nil
	}
	return s.overrides.GetBuyerOverride(ctx, biddingLogicURI)
}

func (s *LogicSource) fetchCached(ctx context.Context, uri string) (string, error) {
	cacheKey := []byte(uri)
	if cached, err := s.cache.Get(cacheKey); err == nil {
		return string(cached), nil
	}
	body, err := s.fetcher.Fetch(ctx, uri)
	if err != nil {
		return "", err
	}
	if err := s.cache.Set(cacheKey, body, s.ttlSeconds); err != nil {
		glog.Warningf("failed to cache decision logic for %s: %v", uri, err)
	}
	return string(body), nil
}

// OverrideKey derives the deterministic developer-override key for one
// (config, caller package) pair. The key covers the fields that identify the
// auction so two sellers never collide.
func OverrideKey(config *entities.AdSelectionConfig, callerPackage string) string {
	h := sha256.New()
	h.Write([]byte(callerPackage))
	h.Write([]byte{0})
	h.Write([]byte(config.Seller))
	h.Write([]byte{0})
	h.Write([]byte(config.DecisionLogicURI))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(len(config.CustomAudienceBuyers))))
	return hex.EncodeToString(h.Sum(nil))
}

// DefaultHTTPClient builds the client used for all ad tech fetches.
func DefaultHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}
