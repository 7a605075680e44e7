// Package pubmed provides a client for the NCBI E-utilities API, used
// to find publications tied to a trial.
package pubmed

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
)

// Fetcher performs rate-limited JSON GETs keyed by source id.
type Fetcher interface {
	GetJSON(ctx context.Context, source, url string, out any) error
}

// Client defines the PubMed operations used for failure-detail
// enrichment.
type Client interface {
	// SearchTrial finds publications for a trial by registry id and
	// drug name, returning at most 5 summaries.
	SearchTrial(ctx context.Context, nctID, drugName string) ([]Summary, error)
}

// Summary is a condensed esummary record.
type Summary struct {
	PMID    string   `json:"pmid"`
	Title   string   `json:"title"`
	Authors []string `json:"authors"`
}

type esearchResponse struct {
	ESearchResult struct {
		IDList []string `json:"idlist"`
	} `json:"esearchresult"`
}

type esummaryResponse struct {
	Result map[string]struct {
		Title   string `json:"title"`
		Authors []struct {
			Name string `json:"name"`
		} `json:"authors"`
	} `json:"result"`
}

// Option configures the PubMed client.
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

// NewClient creates a PubMed client backed by the shared fetcher.
func NewClient(fetcher Fetcher, opts ...Option) Client {
	c := &client{
		fetcher: fetcher,
		source:  "pubmed",
		baseURL: "https://eutils.ncbi.nlm.nih.gov/entrez/eutils",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *client) SearchTrial(ctx context.Context, nctID, drugName string) ([]Summary, error) {
	term := fmt.Sprintf("%s OR (%s AND clinical trial)", nctID, drugName)
	searchURL := fmt.Sprintf("%s/esearch.fcgi?db=pubmed&term=%s&retmode=json&retmax=5",
		c.baseURL, url.QueryEscape(term))

	var search esearchResponse
	if err := c.fetcher.GetJSON(ctx, c.source, searchURL, &search); err != nil {
		return nil, eris.Wrap(err, "pubmed: esearch")
	}
	pmids := search.ESearchResult.IDList
	if len(pmids) == 0 {
		return nil, nil
	}

	summaryURL := fmt.Sprintf("%s/esummary.fcgi?db=pubmed&id=%s&retmode=json",
		c.baseURL, strings.Join(pmids, ","))

	var summaries esummaryResponse
	if err := c.fetcher.GetJSON(ctx, c.source, summaryURL, &summaries); err != nil {
		return nil, eris.Wrap(err, "pubmed: esummary")
	}

	results := make([]Summary, 0, len(pmids))
	for _, pmid := range pmids {
		record, ok := summaries.Result[pmid]
		if !ok {
			continue
		}
		summary := Summary{PMID: pmid, Title: record.Title}
		for i, author := range record.Authors {
			if i >= 3 {
				break
			}
			summary.Authors = append(summary.Authors, author.Name)
		}
		results = append(results, summary)
	}
	return results, nil
}
