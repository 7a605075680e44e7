// Package uniprot provides a client for the UniProt REST API. The
// reviewed-protein search serves as a fallback target source when
// ChEMBL yields no UniProt accessions for a drug.
package uniprot

import (
	"context"
	"fmt"
	"net/url"

	"github.com/rotisserie/eris"
)

// Fetcher performs rate-limited JSON GETs keyed by source id.
type Fetcher interface {
	GetJSON(ctx context.Context, source, url string, out any) error
}

// Client defines the UniProt operations used for target fallback.
type Client interface {
	// SearchReviewed searches reviewed (Swiss-Prot) entries matching a
	// drug name, returning at most limit accessions.
	SearchReviewed(ctx context.Context, query string, limit int) ([]Entry, error)
}

// Entry is a UniProtKB search hit.
type Entry struct {
	PrimaryAccession string `json:"primaryAccession"`
}

type searchResponse struct {
	Results []Entry `json:"results"`
}

// Option configures the UniProt client.
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

// NewClient creates a UniProt client backed by the shared fetcher.
func NewClient(fetcher Fetcher, opts ...Option) Client {
	c := &client{
		fetcher: fetcher,
		source:  "uniprot",
		baseURL: "https://rest.uniprot.org",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *client) SearchReviewed(ctx context.Context, query string, limit int) ([]Entry, error) {
	q := url.QueryEscape(fmt.Sprintf("(%s) AND (reviewed:true)", query))
	reqURL := fmt.Sprintf("%s/uniprotkb/search?query=%s&fields=accession,protein_name&format=json&size=10",
		c.baseURL, q)

	var resp searchResponse
	if err := c.fetcher.GetJSON(ctx, c.source, reqURL, &resp); err != nil {
		return nil, eris.Wrap(err, "uniprot: search")
	}
	if limit > 0 && len(resp.Results) > limit {
		resp.Results = resp.Results[:limit]
	}
	return resp.Results, nil
}
