// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pubMedTestServer(t *testing.T, handler http.HandlerFunc) {
	t.Helper()
	ts := httptest.NewServer(handler)
	old := pubMedAPIBase
	pubMedAPIBase = ts.URL
	t.Cleanup(func() {
		pubMedAPIBase = old
		ts.Close()
	})
}

func TestPubMedSearch(t *testing.T) {
	pubMedTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "pubmed", q.Get("db"))
		assert.Equal(t, "ncbi-key", q.Get("api_key"))
		switch r.URL.Path {
		case "/esearch.fcgi":
			assert.Equal(t, "sepsis AND machine learning", q.Get("term"))
			assert.Equal(t, "2019", q.Get("mindate"))
			fmt.Fprint(w, `{"esearchresult": {"count": "2", "idlist": ["111", "222"]}}`)
		case "/esummary.fcgi":
			assert.Equal(t, "111,222", q.Get("id"))
			fmt.Fprint(w, `{"result": {
				"uids": ["111", "222"],
				"111": {
					"title": "Machine learning for sepsis.",
					"pubdate": "2021 Mar 4",
					"fulljournalname": "Critical Care",
					"authors": [{"name": "Smith JA", "authtype": "Author"}, {"name": "Sepsis Group", "authtype": "CollectiveName"}],
					"articleids": [{"idtype": "pubmed", "value": "111"}, {"idtype": "doi", "value": "10.1186/CC.1"}]
				},
				"222": {"title": "", "pubdate": "2020"}
			}}`)
		default:
			http.NotFound(w, r)
		}
	})

	opts := testOpts()
	opts.MinYear = 2019
	b := &PubMedBackend{Client: http.DefaultClient, APIKey: "ncbi-key"}
	results, err := b.Search(context.Background(), "sepsis AND machine learning", opts)
	require.NoError(t, err)
	require.Len(t, results, 1)

	c := results[0]
	assert.Equal(t, "Machine learning for sepsis", c.Title)
	assert.Equal(t, 2021, c.Year)
	assert.Equal(t, "10.1186/cc.1", c.DOI)
	assert.Equal(t, "Critical Care", c.Venue)
	assert.Equal(t, []string{"Smith, J. A."}, c.Authors)
	assert.Equal(t, "https://pubmed.ncbi.nlm.nih.gov/111/", c.URL)
	assert.Equal(t, "PubMed", c.Database)
}

func TestPubMedNoHits(t *testing.T) {
	pubMedTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/esearch.fcgi" {
			t.Errorf("unexpected request to %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"esearchresult": {"count": "0", "idlist": []}}`)
	})
	results, err := (&PubMedBackend{Client: http.DefaultClient}).Search(context.Background(), "nothing", testOpts())
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestPubMedAuthor(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Smith JA", "Smith, J. A."},
		{"van der Berg H", "van der Berg, H."},
		{"Consortium", "Consortium"},
		{"Ng Andrew", "Ng Andrew"},
	}
	for _, tt := range tests {
		if got := pubMedAuthor(tt.in); got != tt.want {
			t.Errorf("pubMedAuthor(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLeadingYear(t *testing.T) {
	assert.Equal(t, 2021, leadingYear("2021 Mar 4"))
	assert.Equal(t, 0, leadingYear("Mar"))
	assert.Equal(t, 0, leadingYear(""))
}
