// Package pubchem provides a client for the PubChem PUG REST API, used
// to normalize drug names before ChEMBL lookup.
package pubchem

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

// Client defines the PubChem operations used for name normalization.
type Client interface {
	// NormalizeName resolves a drug name to its IUPAC name via CID
	// lookup. Returns "" when PubChem has no match.
	NormalizeName(ctx context.Context, drugName string) (string, error)
}

type cidsResponse struct {
	IdentifierList struct {
		CID []int64 `json:"CID"`
	} `json:"IdentifierList"`
}

type propertiesResponse struct {
	PropertyTable struct {
		Properties []struct {
			IUPACName string `json:"IUPACName"`
		} `json:"Properties"`
	} `json:"PropertyTable"`
}

// Option configures the PubChem client.
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

// NewClient creates a PubChem client backed by the shared fetcher.
func NewClient(fetcher Fetcher, opts ...Option) Client {
	c := &client{
		fetcher: fetcher,
		source:  "pubchem",
		baseURL: "https://pubchem.ncbi.nlm.nih.gov/rest/pug",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *client) NormalizeName(ctx context.Context, drugName string) (string, error) {
	cidURL := fmt.Sprintf("%s/compound/name/%s/cids/JSON", c.baseURL, url.PathEscape(drugName))

	var cids cidsResponse
	if err := c.fetcher.GetJSON(ctx, c.source, cidURL, &cids); err != nil {
		return "", eris.Wrap(err, "pubchem: cid lookup")
	}
	if len(cids.IdentifierList.CID) == 0 {
		return "", nil
	}

	propsURL := fmt.Sprintf("%s/compound/cid/%d/property/IUPACName/JSON",
		c.baseURL, cids.IdentifierList.CID[0])

	var props propertiesResponse
	if err := c.fetcher.GetJSON(ctx, c.source, propsURL, &props); err != nil {
		return "", eris.Wrap(err, "pubchem: property lookup")
	}
	if len(props.PropertyTable.Properties) == 0 {
		return "", nil
	}
	return props.PropertyTable.Properties[0].IUPACName, nil
}
