// Package stringdb provides a client for the STRING protein-protein
// interaction database API.
package stringdb

import (
	"context"
	"fmt"
	"net/url"

	"github.com/rotisserie/eris"
)

// Human taxon and the confidence floor used for network queries.
const (
	speciesHuman  = 9606
	requiredScore = 700
)

// Fetcher performs rate-limited JSON GETs keyed by source id.
type Fetcher interface {
	GetJSON(ctx context.Context, source, url string, out any) error
}

// Client defines the STRING operations used for PPI enrichment.
type Client interface {
	// Network returns high-confidence human interactions for a protein.
	Network(ctx context.Context, identifier string) ([]Edge, error)
}

// Edge is a single interaction from the STRING network endpoint.
type Edge struct {
	PreferredNameA string  `json:"preferredName_A"`
	PreferredNameB string  `json:"preferredName_B"`
	Score          float64 `json:"score"`
}

// Option configures the STRING client.
type Option func(*client)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *client) {
		c.baseURL = url
	}
}

type client struct {
	fetcher Fetcher
	source  string
	baseURL string
}

// NewClient creates a STRING client backed by the shared fetcher.
func NewClient(fetcher Fetcher, opts ...Option) Client {
	c := &client{
		fetcher: fetcher,
		source:  "stringdb",
		baseURL: "https://string-db.org/api",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *client) Network(ctx context.Context, identifier string) ([]Edge, error) {
	reqURL := fmt.Sprintf("%s/json/network?identifiers=%s&species=%d&required_score=%d",
		c.baseURL, url.QueryEscape(identifier), speciesHuman, requiredScore)

	var edges []Edge
	if err := c.fetcher.GetJSON(ctx, c.source, reqURL, &edges); err != nil {
		return nil, eris.Wrap(err, "stringdb: network query")
	}
	return edges, nil
}
