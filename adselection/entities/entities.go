package entities

import (
	"encoding/json"
	"time"
)

// ReportingDestination says which party a registered ad interaction belongs to.
type ReportingDestination string

const (
	DestinationSeller ReportingDestination = "seller"
	DestinationBuyer  ReportingDestination = "buyer"
)

// AdEventType labels a frequency-cap histogram event.
type AdEventType string

const (
	AdEventWin    AdEventType = "win"
	AdEventView   AdEventType = "view"
	AdEventClick  AdEventType = "click"
	AdEventCustom AdEventType = "custom"
)

// AdWithBid is a candidate ad paired with the bid its bidding logic produced.
// Instances must not be mutated once built.
type AdWithBid struct {
	RenderURI     string          `json:"render_uri"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	AdCounterKeys []string        `json:"ad_counter_keys,omitempty"`
	Bid           float64         `json:"bid"`
}

// CustomAudienceSignals identifies the custom audience whose bidding logic
// produced a candidate ad, plus the signals that logic ran with.
type CustomAudienceSignals struct {
	Owner              string          `json:"owner"`
	Buyer              string          `json:"buyer"`
	Name               string          `json:"name"`
	ActivationTime     time.Time       `json:"activation_time"`
	ExpirationTime     time.Time       `json:"expiration_time"`
	UserBiddingSignals json.RawMessage `json:"user_bidding_signals,omitempty"`
}

// AdBiddingOutcome is one ad surviving the bidding phase, together with the
// identity of the logic that bid for it.
type AdBiddingOutcome struct {
	AdWithBid              AdWithBid             `json:"ad_with_bid"`
	CustomAudienceSignals  CustomAudienceSignals `json:"custom_audience_signals"`
	BiddingLogicURI        string                `json:"bidding_logic_uri,omitempty"`
	BiddingLogicJS         string                `json:"bidding_logic_js,omitempty"`
	BiddingLogicDownloaded bool                  `json:"bidding_logic_downloaded,omitempty"`
}

// AdWithScore pairs a candidate ad with the score the seller logic assigned.
type AdWithScore struct {
	AdWithBid AdWithBid
	Score     float64
}

// AdScoringOutcome is the scoring result for one candidate ad. Outcomes rank
// by Score descending; ties keep submission order.
type AdScoringOutcome struct {
	AdWithScore            AdWithScore
	CustomAudienceSignals  CustomAudienceSignals
	BiddingLogicURI        string
	BiddingLogicJS         string
	BiddingLogicDownloaded bool
}

// ContextualAds is a buyer-supplied set of ads which bypass the custom
// audience bidding flow and are scored directly alongside auction ads.
type ContextualAds struct {
	Buyer            string      `json:"buyer"`
	DecisionLogicURI string      `json:"decision_logic_uri,omitempty"`
	AdsWithBid       []AdWithBid `json:"ads_with_bid"`
}

// AdSelectionConfig carries the seller's auction parameters. It is supplied
// by the caller per request and never mutated.
type AdSelectionConfig struct {
	Seller                   string                     `json:"seller"`
	DecisionLogicURI         string                     `json:"decision_logic_uri"`
	TrustedScoringSignalsURI string                     `json:"trusted_scoring_signals_uri"`
	CustomAudienceBuyers     []string                   `json:"custom_audience_buyers,omitempty"`
	AuctionSignals           json.RawMessage            `json:"auction_signals,omitempty"`
	SellerSignals            json.RawMessage            `json:"seller_signals,omitempty"`
	PerBuyerSignals          map[string]json.RawMessage `json:"per_buyer_signals,omitempty"`
	BuyerContextualAds       map[string]ContextualAds   `json:"buyer_contextual_ads,omitempty"`
}

// DBAdSelection is the persisted record of a completed auction. Records are
// append-only: reporting and histogram code read them but never mutate them.
type DBAdSelection struct {
	AdSelectionID         int64
	Seller                string
	DecisionLogicURI      string
	WinningAdRenderURI    string
	WinningAdBid          float64
	CustomAudienceSignals CustomAudienceSignals
	ContextualSignals     string
	BiddingLogicURI       string
	CreationTime          time.Time
	CallerPackageName     string
	AdCounterKeys         []string
}

// RegisteredAdInteraction maps (ad selection, interaction key, destination)
// to the URI a reporting script registered for it.
type RegisteredAdInteraction struct {
	AdSelectionID  int64
	InteractionKey string
	Destination    ReportingDestination
	InteractionURI string
}

// HistogramEvent is one recorded ad interaction, queried later by the
// frequency-cap filter.
type HistogramEvent struct {
	AdCounterKey string
	Buyer        string
	EventType    AdEventType
	Timestamp    time.Time
}

// KeyedFrequencyCap filters an ad out when the histogram count for its key,
// buyer and event type within the trailing Interval reaches MaxCount.
type KeyedFrequencyCap struct {
	AdCounterKey string        `json:"ad_counter_key"`
	MaxCount     int           `json:"max_count"`
	Interval     time.Duration `json:"interval"`
}

// FrequencyCapAdFilters groups an ad's frequency caps by the event type each
// one counts.
type FrequencyCapAdFilters struct {
	WinCaps    []KeyedFrequencyCap `json:"win_caps,omitempty"`
	ViewCaps   []KeyedFrequencyCap `json:"view_caps,omitempty"`
	ClickCaps  []KeyedFrequencyCap `json:"click_caps,omitempty"`
	CustomCaps []KeyedFrequencyCap `json:"custom_caps,omitempty"`
}

// IsEmpty reports whether no caps are configured at all.
func (f *FrequencyCapAdFilters) IsEmpty() bool {
	if f == nil {
		return true
	}
	return len(f.WinCaps) == 0 && len(f.ViewCaps) == 0 && len(f.ClickCaps) == 0 && len(f.CustomCaps) == 0
}
