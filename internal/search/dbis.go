// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/pdiddy/academic-agent/internal/browser"
	"github.com/pdiddy/academic-agent/internal/failure"
	"github.com/pdiddy/academic-agent/internal/navigation"
	"github.com/pdiddy/academic-agent/internal/shibboleth"
	"github.com/pdiddy/academic-agent/pkg/types"
)

// DefaultDBISDatabases are the publisher databases browsed when none are
// configured.
var DefaultDBISDatabases = []types.DBISDatabase{
	{Name: "IEEE Xplore", SearchURL: "https://ieeexplore.ieee.org/search/searchresult.jsp?queryText={query}"},
	{Name: "ACM Digital Library", SearchURL: "https://dl.acm.org/action/doSearch?AllField={query}"},
	{Name: "SpringerLink", SearchURL: "https://link.springer.com/search?query={query}"},
	{Name: "ScienceDirect", SearchURL: "https://www.sciencedirect.com/search?qs={query}"},
}

// DefaultDBISPortal is the TIB Hannover DBIS entry page.
const DefaultDBISPortal = "https://dbis.ur.de/UBTIB/browse/subjects/"

// Access is the DBIS traffic-light access level of a database.
type Access string

const (
	AccessFree     Access = "free"     // green
	AccessLicensed Access = "licensed" // yellow
	AccessNone     Access = "none"     // red
	AccessUnknown  Access = "unknown"
)

// PortalEntry is one database row on a DBIS listing page.
type PortalEntry struct {
	Name   string
	URL    string
	Access Access
}

// DBISBackend finds candidates by browsing publisher databases through the
// DBIS portal. Its session must be guarded by the navigation tracker so the
// first navigation of the session is the portal.
type DBISBackend struct {
	Session   browser.Session
	Tracker   *navigation.Tracker
	Auth      *shibboleth.Authenticator
	PortalURL string
	Databases []types.DBISDatabase
	Log       *zap.Logger
}

// Name returns the backend identifier.
func (b *DBISBackend) Name() string { return "dbis" }

// Search opens the portal (starting the tracked session when needed),
// then runs the query on each selected database and scrapes its result
// page. A database that fails is skipped; the search fails only when the
// session cannot be established from DBIS.
func (b *DBISBackend) Search(ctx context.Context, query string, opts Options) ([]types.Candidate, error) {
	log := b.Log
	if log == nil {
		log = zap.NewNop()
	}
	if b.Session == nil || b.Tracker == nil {
		return nil, failure.Newf(failure.KindBackendUnavailable, "dbis.Search", "no browser session configured")
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("empty DBIS query")
	}

	portal := b.PortalURL
	if portal == "" {
		portal = DefaultDBISPortal
	}
	var entries []PortalEntry
	if !b.Tracker.Active() {
		if err := b.Session.Navigate(ctx, portal); err != nil {
			return nil, fmt.Errorf("opening DBIS portal: %w", err)
		}
		if page, err := b.Session.HTML(ctx); err == nil {
			entries = ParsePortal(page, portal)
		}
	}
	if st := b.Tracker.Status(); !st.Active || !st.StartedFromDBIS {
		return nil, failure.Newf(failure.KindInvariantViolation, "dbis.Search", "browser session was not started from DBIS")
	}

	dbs := b.selectDatabases(opts.Databases, entries)
	limit := opts.limit()
	var out []types.Candidate
	for _, db := range dbs {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		found, err := b.searchDatabase(ctx, db, query, limit)
		if err != nil {
			log.Warn("DBIS database search failed", zap.String("database", db.Name), zap.Error(err))
			if failure.Is(err, failure.KindInvariantViolation) {
				return out, err
			}
			continue
		}
		log.Debug("DBIS database searched", zap.String("database", db.Name), zap.Int("results", len(found)))
		for _, c := range found {
			if opts.MinYear > 0 && c.Year > 0 && c.Year < opts.MinYear {
				continue
			}
			out = append(out, c)
		}
	}
	return out, nil
}

// selectDatabases narrows the configured databases to the requested
// primary databases (by name substring) and drops those the portal marks
// as inaccessible.
func (b *DBISBackend) selectDatabases(primary []string, entries []PortalEntry) []types.DBISDatabase {
	all := b.Databases
	if len(all) == 0 {
		all = DefaultDBISDatabases
	}
	blocked := map[string]bool{}
	for _, e := range entries {
		if e.Access == AccessNone {
			blocked[strings.ToLower(e.Name)] = true
		}
	}
	var out []types.DBISDatabase
	for _, db := range all {
		if blocked[strings.ToLower(db.Name)] {
			continue
		}
		if len(primary) > 0 && !matchesAny(db.Name, primary) {
			continue
		}
		out = append(out, db)
	}
	if len(out) == 0 && len(primary) > 0 {
		// None of the primary databases is browsable; use all accessible ones.
		return b.selectDatabases(nil, entries)
	}
	return out
}

func matchesAny(name string, wanted []string) bool {
	n := strings.ToLower(name)
	for _, w := range wanted {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" && (strings.Contains(n, w) || strings.Contains(w, n)) {
			return true
		}
	}
	return false
}

func (b *DBISBackend) searchDatabase(ctx context.Context, db types.DBISDatabase, query string, limit int) ([]types.Candidate, error) {
	target := strings.ReplaceAll(db.SearchURL, "{query}", url.QueryEscape(query))
	if err := b.Session.Navigate(ctx, target); err != nil {
		return nil, err
	}
	cur, err := b.Session.URL(ctx)
	if err != nil {
		return nil, err
	}
	if shibboleth.IsLoginPage(cur) {
		if b.Auth == nil {
			return nil, failure.Newf(failure.KindAuthentication, "dbis.Search", "%s requires login and no credentials are configured", db.Name)
		}
		res, err := b.Auth.Authenticate(ctx, b.Session)
		if err != nil {
			return nil, err
		}
		if !res.Success {
			return nil, failure.Newf(failure.KindAuthentication, "dbis.Search", "%s login failed: %s", db.Name, res.Error)
		}
		if cur, err = b.Session.URL(ctx); err != nil {
			return nil, err
		}
	}
	page, err := b.Session.HTML(ctx)
	if err != nil {
		return nil, err
	}
	found := ParseResults(page, cur, limit)
	for i := range found {
		found[i].Database = db.Name
		found[i].Source = db.Name + " via DBIS"
		found[i].SourceType = types.SourceDBIS
	}
	return found, nil
}

var (
	doiInText  = regexp.MustCompile(`10\.\d{4,9}/[^\s"'<>?#&]+`)
	yearInText = regexp.MustCompile(`\b(19|20)\d{2}\b`)

	// articlePath matches landing-page paths of the supported publishers.
	articlePath = regexp.MustCompile(`/(document/\d+|doi/(abs/|full/)?10\.|article/10\.|chapter/10\.|science/article/pii/)`)
)

// ParseResults scrapes article links from a publisher result page. An
// anchor counts when its href looks like an article landing page; its text
// becomes the title and any DOI in the href is kept.
func ParseResults(page, pageURL string, limit int) []types.Candidate {
	root, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return nil
	}
	base, _ := url.Parse(pageURL)
	seen := map[string]bool{}
	var out []types.Candidate

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if limit > 0 && len(out) >= limit {
			return
		}
		if n.Type == html.ElementNode && n.Data == "a" {
			href := attr(n, "href")
			title := strings.Join(strings.Fields(textOf(n)), " ")
			if href != "" && articlePath.MatchString(href) && len([]rune(title)) >= 10 {
				abs := href
				if base != nil {
					if ref, err := url.Parse(href); err == nil {
						abs = base.ResolveReference(ref).String()
					}
				}
				if !seen[abs] {
					seen[abs] = true
					c := types.Candidate{Title: title, URL: abs}
					if doi := doiInText.FindString(href); doi != "" {
						c.DOI = types.NormalizeDOI(strings.TrimSuffix(doi, "/"))
					}
					if n.Parent != nil {
						if y := yearInText.FindString(textOf(n.Parent)); y != "" {
							c.Year, _ = strconv.Atoi(y)
						}
					}
					out = append(out, c)
				}
			}
			return
		}
		for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
			walk(ch)
		}
	}
	walk(root)
	return out
}

// ParsePortal reads database rows (tr id="db_...") from a DBIS listing
// page. The access level comes from the traffic-light image name.
func ParsePortal(page, pageURL string) []PortalEntry {
	root, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return nil
	}
	base, _ := url.Parse(pageURL)
	var out []PortalEntry

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "tr" && strings.HasPrefix(attr(n, "id"), "db_") {
			e := PortalEntry{Access: AccessUnknown}
			if a := find(n, func(m *html.Node) bool { return m.Data == "a" && hasClassAncestor(m, n, "td2") }); a != nil {
				e.Name = strings.Join(strings.Fields(textOf(a)), " ")
				e.URL = attr(a, "href")
				if base != nil {
					if ref, err := url.Parse(e.URL); err == nil {
						e.URL = base.ResolveReference(ref).String()
					}
				}
			}
			if img := find(n, func(m *html.Node) bool { return m.Data == "img" && strings.Contains(attr(m, "src"), "dbis_") }); img != nil {
				src := attr(img, "src")
				switch {
				case strings.Contains(src, "dbis_gr_"):
					e.Access = AccessFree
				case strings.Contains(src, "dbis_ge_"):
					e.Access = AccessLicensed
				case strings.Contains(src, "dbis_ro_"):
					e.Access = AccessNone
				}
			}
			if e.Name != "" {
				out = append(out, e)
			}
			return
		}
		for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
			walk(ch)
		}
	}
	walk(root)
	return out
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
			walk(ch)
		}
	}
	walk(n)
	return b.String()
}

func find(n *html.Node, match func(*html.Node) bool) *html.Node {
	for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
		if ch.Type == html.ElementNode && match(ch) {
			return ch
		}
		if f := find(ch, match); f != nil {
			return f
		}
	}
	return nil
}

// hasClassAncestor reports whether an element between n and stop carries class.
func hasClassAncestor(n, stop *html.Node, class string) bool {
	for p := n.Parent; p != nil && p != stop; p = p.Parent {
		for _, c := range strings.Fields(attr(p, "class")) {
			if c == class {
				return true
			}
		}
	}
	return false
}
