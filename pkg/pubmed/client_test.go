package pubmed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexbio/trials-cli/internal/fetch"
)

func newTestFetcher() *fetch.Client {
	return fetch.NewClient(fetch.Options{DefaultInterval: time.Millisecond})
}

func TestSearchTrial(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/esearch.fcgi":
			assert.Equal(t, "pubmed", r.URL.Query().Get("db"))
			assert.Equal(t, "5", r.URL.Query().Get("retmax"))
			assert.Contains(t, r.URL.Query().Get("term"), "NCT01234567")
			w.Write([]byte(`{"esearchresult": {"idlist": ["111", "222"]}}`))
		case "/esummary.fcgi":
			assert.Equal(t, "111,222", r.URL.Query().Get("id"))
			w.Write([]byte(`{"result": {
				"111": {"title": "Phase 2 study of drug X", "authors": [
					{"name": "Smith A"}, {"name": "Jones B"}, {"name": "Lee C"}, {"name": "Wong D"}
				]},
				"222": {"title": "Safety analysis", "authors": [{"name": "Patel E"}]}
			}}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	c := NewClient(newTestFetcher(), WithBaseURL(server.URL))
	results, err := c.SearchTrial(context.Background(), "NCT01234567", "drug X")
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "111", results[0].PMID)
	assert.Equal(t, "Phase 2 study of drug X", results[0].Title)
	assert.Equal(t, []string{"Smith A", "Jones B", "Lee C"}, results[0].Authors)

	assert.Equal(t, "222", results[1].PMID)
	assert.Equal(t, []string{"Patel E"}, results[1].Authors)
}

func TestSearchTrial_NoHits(t *testing.T) {
	var summaryCalled bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/esummary.fcgi" {
			summaryCalled = true
		}
		w.Write([]byte(`{"esearchresult": {"idlist": []}}`))
	}))
	defer server.Close()

	c := NewClient(newTestFetcher(), WithBaseURL(server.URL))
	results, err := c.SearchTrial(context.Background(), "NCT00000000", "nothing")
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.False(t, summaryCalled)
}
