// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package fetch

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/pdiddy/academic-agent/internal/browser"
	"github.com/pdiddy/academic-agent/internal/browser/browsertest"
	"github.com/pdiddy/academic-agent/internal/failure"
	"github.com/pdiddy/academic-agent/internal/navigation"
	"github.com/pdiddy/academic-agent/internal/shibboleth"
	"github.com/pdiddy/academic-agent/pkg/types"
)

const (
	testPortal = "https://dbis.ur.de/UBTIB/browse/subjects/"
	ieeeDoc    = "https://ieeexplore.ieee.org/document/9876543"
	ieeeStamp  = "https://ieeexplore.ieee.org/stamp/stamp.jsp?arnumber=9876543"
	idpLogin   = "https://idp.tib.eu/idp/profile/SAML2/Redirect/SSO?execution=e1s1&shibboleth=1"
	acmDoc     = "https://dl.acm.org/doi/10.1145/3368089"
)

func dbisFixture(t *testing.T) (*browsertest.Fake, *navigation.Tracker, *DBIS) {
	t.Helper()
	fake := browsertest.New().
		SetPage(testPortal, &browsertest.Page{HTML: "<html>DBIS</html>"}).
		SetPage(ieeeDoc, &browsertest.Page{Elements: map[string]browsertest.Element{
			`a:has-text("Download PDF")`: {Attrs: map[string]string{"href": "/stamp/stamp.jsp?arnumber=9876543"}},
		}})
	fake.Redirects["https://doi.org/10.1109/tse.2021.1"] = ieeeDoc
	fake.Responses[ieeeStamp] = &browser.Response{Status: 200, ContentType: "application/pdf", Body: pdfBody()}

	tracker, err := navigation.NewTracker("")
	require.NoError(t, err)
	d := &DBIS{
		Session:   browser.WithNavigateHook(fake, tracker.Hook()),
		Tracker:   tracker,
		PortalURL: testPortal,
		Log:       zaptest.NewLogger(t),
	}
	return fake, tracker, d
}

func TestDBIS_Fetch(t *testing.T) {
	fake, tracker, d := dbisFixture(t)

	doc, err := d.Fetch(context.Background(), source("S01", "10.1109/TSE.2021.1", "A", 2021, "T"))
	require.NoError(t, err)
	assert.Equal(t, ieeeStamp, doc.URL)
	_, err = Accept(doc)
	assert.NoError(t, err)

	require.Len(t, fake.Navigations, 2, fake.String())
	assert.Equal(t, testPortal, fake.Navigations[0], "the portal is opened first")
	st := tracker.Status()
	assert.True(t, st.StartedFromDBIS)
	assert.Equal(t, 2, st.Count)

	// A second paper reuses the active session.
	_, err = d.Fetch(context.Background(), source("S02", "10.1109/tse.2021.1", "A", 2021, "T"))
	require.NoError(t, err)
	assert.Len(t, fake.Navigations, 3)
}

func TestDBIS_RejectsNonDBISSession(t *testing.T) {
	fake, tracker, d := dbisFixture(t)
	_, err := tracker.Track("https://example.org/start")
	require.Error(t, err)

	d.PortalURL = "https://ieeexplore.ieee.org/"
	_, err = d.Fetch(context.Background(), source("S01", "10.1109/tse.2021.1", "A", 2021, "T"))
	require.Error(t, err)
	assert.True(t, failure.Is(err, failure.KindInvariantViolation), "got %v", err)
	assert.Empty(t, fake.Navigations, "the rejected navigation never reaches the browser")
	assert.Equal(t, types.OutcomeBlocked, outcomeOf(err))
}

func TestDBIS_ShibbolethLogin(t *testing.T) {
	fake, _, d := dbisFixture(t)
	fake.Redirects["https://doi.org/10.1145/3368089"] = idpLogin
	fake.SetPage(idpLogin, &browsertest.Page{
		Elements: map[string]browsertest.Element{
			shibboleth.UsernameSelector: {},
			shibboleth.PasswordSelector: {},
			shibboleth.SubmitSelector:   {},
		},
		OnClick: map[string]string{shibboleth.SubmitSelector: acmDoc},
	})
	fake.SetPage(acmDoc, &browsertest.Page{Elements: map[string]browsertest.Element{
		`a:has-text("PDF")`: {Attrs: map[string]string{"href": "/doi/pdf/10.1145/3368089"}},
	}})
	fake.Responses["https://dl.acm.org/doi/pdf/10.1145/3368089"] = &browser.Response{Status: 200, ContentType: "application/pdf", Body: pdfBody()}
	d.Auth = shibboleth.New(shibboleth.Credentials{Username: "user", Password: "pw"}, zaptest.NewLogger(t))

	doc, err := d.Fetch(context.Background(), source("S01", "10.1145/3368089", "A", 2020, "T"))
	require.NoError(t, err)
	assert.Equal(t, "https://dl.acm.org/doi/pdf/10.1145/3368089", doc.URL)
	assert.Equal(t, "user", fake.Filled[shibboleth.UsernameSelector])
	assert.Equal(t, []string{shibboleth.SubmitSelector}, fake.Clicked)
}

func TestDBIS_LoginWithoutCredentials(t *testing.T) {
	fake, _, d := dbisFixture(t)
	fake.Redirects["https://doi.org/10.1145/3368089"] = idpLogin

	_, err := d.Fetch(context.Background(), source("S01", "10.1145/3368089", "A", 2020, "T"))
	require.Error(t, err)
	assert.True(t, failure.Is(err, failure.KindAuthentication))
	assert.Empty(t, fake.Fetched)
}

func TestDBIS_NoPDFLink(t *testing.T) {
	fake, _, d := dbisFixture(t)
	fake.Redirects["https://doi.org/10.1016/j.x.2020.1"] = "https://www.sciencedirect.com/science/article/pii/S1"

	_, err := d.Fetch(context.Background(), source("S01", "10.1016/j.x.2020.1", "A", 2020, "T"))
	assert.ErrorIs(t, err, ErrNoCandidate)
}

func TestDBIS_NoSession(t *testing.T) {
	_, err := (&DBIS{}).Fetch(context.Background(), source("S01", "10.1/x", "A", 2020, "T"))
	assert.True(t, failure.Is(err, failure.KindBackendUnavailable))
}

func TestDBIS_FetchReopensPortalInNewBrowser(t *testing.T) {
	fake, _, d := dbisFixture(t)
	path := filepath.Join(t.TempDir(), "navigation_session.json")
	prev, err := navigation.NewTracker(path)
	require.NoError(t, err)
	_, err = prev.Track(testPortal)
	require.NoError(t, err)

	tracker, err := navigation.NewTracker(path)
	require.NoError(t, err)
	require.True(t, tracker.Active(), "the earlier run left an active session on disk")
	d.Session, err = navigation.Attach(fake, tracker, navigation.NewDomainPolicy(types.DomainConfig{}))
	require.NoError(t, err)
	d.Tracker = tracker

	_, err = d.Fetch(context.Background(), source("S01", "10.1109/tse.2021.1", "A", 2021, "T"))
	require.NoError(t, err)
	require.NotEmpty(t, fake.Navigations)
	assert.Equal(t, testPortal, fake.Navigations[0], "the portal is opened first")
	assert.Equal(t, 2, tracker.Status().Count)
}
