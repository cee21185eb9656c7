package filters

import (
	"sync"

	"golang.org/x/time/rate"
)

// Throttler rate limits mutating API calls per (caller package, API) pair.
// It is an injected instance owned by the composing application; there is no
// process-global throttler to destroy between tests.
type Throttler struct {
	ratePerSecond float64
	burst         int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewThrottler(ratePerSecond float64, burst int) *Throttler {
	return &Throttler{
		ratePerSecond: ratePerSecond,
		burst:         burst,
		limiters:      make(map[string]*rate.Limiter),
	}
}

// Allow consumes one token for the caller+API bucket, creating the bucket on
// first use.
func (t *Throttler) Allow(callerPackage, api string) bool {
	key := callerPackage + "|" + api
	t.mu.Lock()
	limiter, ok := t.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(t.ratePerSecond), t.burst)
		t.limiters[key] = limiter
	}
	t.mu.Unlock()
	return limiter.Allow()
}
