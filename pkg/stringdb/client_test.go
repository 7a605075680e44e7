package stringdb

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

func TestNetwork(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/json/network", r.URL.Path)
		assert.Equal(t, "P00519", r.URL.Query().Get("identifiers"))
		assert.Equal(t, "9606", r.URL.Query().Get("species"))
		assert.Equal(t, "700", r.URL.Query().Get("required_score"))
		w.Write([]byte(`[
			{"preferredName_A": "ABL1", "preferredName_B": "BCR", "score": 0.999},
			{"preferredName_A": "ABL1", "preferredName_B": "CRK", "score": 0.95}
		]`))
	}))
	defer server.Close()

	c := NewClient(newTestFetcher(), WithBaseURL(server.URL))
	edges, err := c.Network(context.Background(), "P00519")
	require.NoError(t, err)
	require.Len(t, edges, 2)
	assert.Equal(t, "ABL1", edges[0].PreferredNameA)
	assert.Equal(t, "BCR", edges[0].PreferredNameB)
	assert.Equal(t, 0.999, edges[0].Score)
}

func TestNetwork_Empty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	c := NewClient(newTestFetcher(), WithBaseURL(server.URL))
	edges, err := c.Network(context.Background(), "Q99999")
	require.NoError(t, err)
	assert.Empty(t, edges)
}
