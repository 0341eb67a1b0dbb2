// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package fetch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/academic-agent/internal/browser"
	"github.com/pdiddy/academic-agent/internal/eventlog"
	"github.com/pdiddy/academic-agent/internal/failure"
	"github.com/pdiddy/academic-agent/internal/navigation"
	"github.com/pdiddy/academic-agent/internal/publisher"
	"github.com/pdiddy/academic-agent/internal/shibboleth"
	"github.com/pdiddy/academic-agent/pkg/types"
)

// DefaultPortalURL is the DBIS entry page opened before any publisher.
const DefaultPortalURL = "https://dbis.ur.de/UBTIB/browse/subjects/"

const defaultNavigationTimeout = 60 * time.Second

// DBIS fetches PDFs through the institution's licensed access: the portal
// is opened first, a Shibboleth login is completed when the publisher
// asks for one, and the publisher's PDF link is downloaded from inside the
// authenticated browser. The session is shared, so calls are serialized.
type DBIS struct {
	Session           browser.Session
	Tracker           *navigation.Tracker
	Auth              *shibboleth.Authenticator
	Navigator         *publisher.Navigator
	PortalURL         string
	NavigationTimeout time.Duration
	Sink              *eventlog.Sink
	Log               *zap.Logger

	mu sync.Mutex
}

// Name returns the strategy identifier.
func (d *DBIS) Name() string { return "dbis_browser" }

// Fetch opens the paper's landing page in the tracked session and
// downloads the PDF link the publisher navigator finds there.
func (d *DBIS) Fetch(ctx context.Context, src types.RankedSource) (*Document, error) {
	if d.Session == nil || d.Tracker == nil {
		return nil, failure.Newf(failure.KindBackendUnavailable, "fetch.DBIS", "no browser session configured")
	}
	target := landingURL(src)
	if target == "" {
		return nil, ErrNoCandidate
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ensurePortal(ctx); err != nil {
		d.Sink.Error(AgentName, "dbis-session-rejected", eventlog.Payload{"source_id": src.ID, "error": err})
		return nil, err
	}
	if err := d.navigate(ctx, target); err != nil {
		return nil, fmt.Errorf("opening %s: %w", target, err)
	}
	cur, err := d.Session.URL(ctx)
	if err != nil {
		return nil, err
	}
	if shibboleth.IsLoginPage(cur) {
		if cur, err = d.login(ctx, cur); err != nil {
			return nil, err
		}
	}

	pub := publisher.Detect(cur)
	if pub == publisher.Unknown {
		pub = publisher.DetectDOI(src.DOI)
	}
	nav := d.Navigator
	if nav == nil {
		nav = publisher.NewNavigator(nil)
	}
	pdfURL, err := nav.FindPDFURL(ctx, d.Session, pub)
	if err != nil {
		return nil, err
	}
	if pdfURL == "" {
		return nil, fmt.Errorf("%w on %s page %s", ErrNoCandidate, pub, cur)
	}
	eventlog.OrNop(d.Log).Debug("publisher PDF link found",
		zap.String("source", src.ID), zap.String("publisher", string(pub)), zap.String("url", pdfURL))

	resp, err := d.Session.Fetch(ctx, pdfURL)
	if err != nil {
		return nil, fmt.Errorf("browser download: %w", err)
	}
	return &Document{URL: resp.URL, Status: resp.Status, ContentType: resp.ContentType, Body: resp.Body}, nil
}

// ensurePortal starts the tracked session at the DBIS portal when it is
// not yet active, and fails when the session did not start from DBIS.
func (d *DBIS) ensurePortal(ctx context.Context) error {
	if !d.Tracker.Active() {
		portal := d.PortalURL
		if portal == "" {
			portal = DefaultPortalURL
		}
		if err := d.navigate(ctx, portal); err != nil {
			return err
		}
	}
	if st := d.Tracker.Status(); !st.Active || !st.StartedFromDBIS {
		return failure.Newf(failure.KindInvariantViolation, "fetch.DBIS", "browser session was not started from DBIS")
	}
	return nil
}

func (d *DBIS) navigate(ctx context.Context, rawURL string) error {
	timeout := d.NavigationTimeout
	if timeout <= 0 {
		timeout = defaultNavigationTimeout
	}
	nctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return d.Session.Navigate(nctx, rawURL)
}

// login completes the identity provider form and returns the page the
// provider redirects to.
func (d *DBIS) login(ctx context.Context, loginURL string) (string, error) {
	if d.Auth == nil {
		return "", failure.Newf(failure.KindAuthentication, "fetch.DBIS", "login required at %s and no credentials are configured", loginURL)
	}
	res, err := d.Auth.Authenticate(ctx, d.Session)
	if err != nil {
		return "", err
	}
	if !res.Success {
		d.Sink.Warn(AgentName, "login-failed", eventlog.Payload{"requires_2fa": res.Requires2FA, "error": res.Error})
		return "", failure.Newf(failure.KindAuthentication, "fetch.DBIS", "login failed: %s", res.Error)
	}
	return d.Session.URL(ctx)
}

// landingURL returns the article page of src: the DOI resolver when a DOI
// is known, otherwise the recorded landing page.
func landingURL(src types.RankedSource) string {
	if doi := types.NormalizeDOI(src.DOI); doi != "" {
		return "https://doi.org/" + doi
	}
	return src.URL
}
