// Package filters gates entry to the ad selection APIs: enrollment, consent,
// foreground and rate limit checks run before any fetch or script execution.
package filters

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/golang/glog"

	"github.com/fledge/fledge-server/errortypes"
)

// API names used for throttling buckets.
const (
	APISelectAds        = "select_ads"
	APIReportImpression = "report_impression"
	APIUpdateHistogram  = "update_histogram"
)

// ConsentChecker answers whether the user has granted the calling package
// consent for ad selection APIs.
type ConsentChecker interface {
	HasConsent(callerPackage string) bool
}

// ForegroundChecker answers whether the calling app is currently foreground.
type ForegroundChecker interface {
	IsForeground(callerPackage string) bool
}

// AllowAll satisfies both checker interfaces and approves everything. It is
// the default when the host platform supplies no checker.
type AllowAll struct{}

func (AllowAll) HasConsent(string) bool   { return true }
func (AllowAll) IsForeground(string) bool { return true }

// Enrollment validates ad tech identities against the enrolled domain list.
// An empty list disables the check.
type Enrollment struct {
	domains []string
}

func NewEnrollment(domains []string) *Enrollment {
	normalized := make([]string, 0, len(domains))
	for _, d := range domains {
		normalized = append(normalized, strings.ToLower(strings.TrimPrefix(d, ".")))
	}
	return &Enrollment{domains: normalized}
}

// IsEnrolled reports whether the ad tech identity belongs to an enrolled
// domain (exact match or subdomain).
func (e *Enrollment) IsEnrolled(adTech string) bool {
	if len(e.domains) == 0 {
		return true
	}
	host := hostOf(adTech)
	for _, domain := range e.domains {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

// URIMatchesAdTech reports whether the URI's host belongs to the ad tech's
// domain. Beacon URIs registered by a party must point back at that party.
func URIMatchesAdTech(uri, adTech string) bool {
	parsed, err := url.Parse(uri)
	if err != nil || parsed.Host == "" {
		return false
	}
	adTechHost := hostOf(adTech)
	uriHost := strings.ToLower(parsed.Hostname())
	return uriHost == adTechHost || strings.HasSuffix(uriHost, "."+adTechHost)
}

func hostOf(adTech string) string {
	adTech = strings.ToLower(adTech)
	if strings.Contains(adTech, "://") {
		if parsed, err := url.Parse(adTech); err == nil && parsed.Host != "" {
			return parsed.Hostname()
		}
	}
	return adTech
}

// CallerFilter is the composite authorization gate. Rejections are logged
// here, exactly once, so callers must not log them again.
type CallerFilter struct {
	enrollment *Enrollment
	consent    ConsentChecker
	foreground ForegroundChecker
	throttler  *Throttler
}

func NewCallerFilter(enrollment *Enrollment, consent ConsentChecker, foreground ForegroundChecker, throttler *Throttler) *CallerFilter {
	return &CallerFilter{
		enrollment: enrollment,
		consent:    consent,
		foreground: foreground,
		throttler:  throttler,
	}
}

// Assert runs every gate in order and returns the first rejection as a typed
// error, or nil when the call may proceed.
func (f *CallerFilter) Assert(callerPackage, adTech, api string) error {
	if !f.enrollment.IsEnrolled(adTech) {
		glog.Warningf("rejecting %s call from %s: ad tech %s is not enrolled", api, callerPackage, adTech)
		return &errortypes.Unauthorized{Message: fmt.Sprintf("ad tech %s is not enrolled", adTech)}
	}
	if callerPackage == "" {
		glog.Warningf("rejecting %s call with empty caller package", api)
		return &errortypes.CallerNotAllowed{Message: "caller package name is required"}
	}
	if !f.consent.HasConsent(callerPackage) {
		glog.Warningf("rejecting %s call from %s: user consent revoked", api, callerPackage)
		return &errortypes.UserConsentRevoked{Message: fmt.Sprintf("user revoked consent for %s", callerPackage)}
	}
	if !f.foreground.IsForeground(callerPackage) {
		glog.Warningf("rejecting %s call from %s: caller is not foreground", api, callerPackage)
		return &errortypes.BackgroundCaller{Message: fmt.Sprintf("%s is not a foreground caller", callerPackage)}
	}
	if f.throttler != nil && !f.throttler.Allow(callerPackage, api) {
		glog.Warningf("rejecting %s call from %s: rate limit reached", api, callerPackage)
		return &errortypes.RateLimitReached{Message: fmt.Sprintf("rate limit reached for %s on %s", callerPackage, api)}
	}
	return nil
}
