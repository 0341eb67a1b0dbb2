// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package navigation

import (
	"context"
	"path"
	"strings"

	"github.com/pdiddy/academic-agent/internal/browser"
	"github.com/pdiddy/academic-agent/internal/failure"
	"github.com/pdiddy/academic-agent/pkg/types"
)

// Risk grades a domain decision.
type Risk string

const (
	RiskLow      Risk = "low"
	RiskHigh     Risk = "high"
	RiskCritical Risk = "critical"
)

// DefaultBlocked are shadow libraries; the browser never opens them.
var DefaultBlocked = []string{
	"sci-hub.*", "*.sci-hub.*",
	"libgen.*", "*.libgen.*",
	"z-lib.*", "*.z-lib.*", "z-library.*", "*.z-library.*",
	"annas-archive.*", "*.annas-archive.*",
}

// DefaultTrustedProxies are opened without an active session: the DBIS
// portal and the DOI resolver.
var DefaultTrustedProxies = append(append([]string(nil), dbisDomains...), "doi.org")

// Decision is the verdict on one URL.
type Decision struct {
	URL     string `json:"url"`
	Host    string `json:"host"`
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
	Risk    Risk   `json:"risk_level"`
}

// DomainPolicy decides which hosts a tracked browser may open. Blocked
// hosts are always refused and trusted proxies always allowed. Any other
// host is allowed only inside a session started at DBIS and, when an
// allow list is configured, only if it is on it.
type DomainPolicy struct {
	trusted []string
	blocked []string
	allowed []string
}

// NewDomainPolicy returns the built-in policy extended by cfg.
func NewDomainPolicy(cfg types.DomainConfig) *DomainPolicy {
	return &DomainPolicy{
		trusted: lowerAll(append(append([]string(nil), DefaultTrustedProxies...), cfg.TrustedProxies...)),
		blocked: lowerAll(append(append([]string(nil), DefaultBlocked...), cfg.Blocked...)),
		allowed: lowerAll(cfg.Allowed),
	}
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Check decides whether rawURL may be opened. fromDBIS reports whether
// the browser session was started at the DBIS portal.
func (p *DomainPolicy) Check(rawURL string, fromDBIS bool) Decision {
	d := Decision{URL: rawURL, Host: hostOf(rawURL)}
	switch {
	case d.Host == "":
		d.Reason, d.Risk = "not a valid URL", RiskHigh
	case p.isBlocked(d.Host):
		d.Reason, d.Risk = "domain is blocked: "+d.Host, RiskCritical
	case underAny(d.Host, p.trusted):
		d.Allowed, d.Reason, d.Risk = true, "trusted proxy: "+d.Host, RiskLow
	case len(p.allowed) > 0 && !underAny(d.Host, p.allowed):
		d.Reason, d.Risk = "domain is not on the allow list: "+d.Host, RiskHigh
	case fromDBIS:
		d.Allowed, d.Reason, d.Risk = true, "database access via DBIS: "+d.Host, RiskLow
	default:
		d.Reason, d.Risk = "direct database access; start at the DBIS portal: "+d.Host, RiskHigh
	}
	return d
}

func (p *DomainPolicy) isBlocked(host string) bool {
	for _, pat := range p.blocked {
		if ok, err := path.Match(pat, host); err == nil && ok {
			return true
		}
	}
	return false
}

func underAny(host string, domains []string) bool {
	for _, d := range domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// Hook refuses navigations the policy rejects, judging the session state
// of t. It runs before the tracker hook so refused URLs are never recorded.
func (p *DomainPolicy) Hook(t *Tracker) browser.NavigateHook {
	return func(_ context.Context, rawURL string) error {
		d := p.Check(rawURL, t.Active() || IsDBISDomain(rawURL))
		if d.Allowed {
			return nil
		}
		return failure.Newf(failure.KindInvariantViolation, "navigation.DomainPolicy", "%s", d.Reason)
	}
}

// Attach binds t to a freshly launched browser. Session state persisted by
// an earlier browser is dropped, so the new one must start at the DBIS
// portal again. Every navigation of the returned session is checked
// against policy (when non-nil) and then recorded in t.
func Attach(s browser.Session, t *Tracker, policy *DomainPolicy) (browser.Session, error) {
	if _, err := t.Reset(); err != nil {
		return nil, err
	}
	var check browser.NavigateHook
	if policy != nil {
		check = policy.Hook(t)
	}
	return browser.WithNavigateHook(s, browser.ChainHooks(check, t.Hook())), nil
}
