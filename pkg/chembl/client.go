// Package chembl provides a client for the ChEMBL REST API.
package chembl

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/rotisserie/eris"
)

// Fetcher performs rate-limited JSON GETs keyed by source id.
type Fetcher interface {
	GetJSON(ctx context.Context, source, url string, out any) error
}

// Client defines the ChEMBL operations used for target enrichment.
type Client interface {
	// SearchMolecule looks up a molecule by name and returns the best match.
	SearchMolecule(ctx context.Context, name string) (*Molecule, error)
	// Activities returns IC50 activity records for a molecule.
	Activities(ctx context.Context, moleculeChemblID string) ([]Activity, error)
	// TargetUniprotID resolves a target's UniProt accession via xrefs.
	TargetUniprotID(ctx context.Context, targetChemblID string) (string, error)
}

// Molecule is a ChEMBL molecule search hit.
type Molecule struct {
	MoleculeChemblID string `json:"molecule_chembl_id"`
	PrefName         string `json:"pref_name"`
}

// Activity is a single bioactivity measurement.
type Activity struct {
	TargetChemblID string `json:"target_chembl_id"`
	StandardValue  string `json:"standard_value"`
	StandardUnits  string `json:"standard_units"`
	StandardType   string `json:"standard_type"`
}

// Value parses the standard value as a float. Returns false when the
// record carries no usable measurement.
func (a Activity) Value() (float64, bool) {
	if a.StandardValue == "" || a.StandardUnits == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(a.StandardValue, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

type searchResponse struct {
	Molecules []Molecule `json:"molecules"`
}

type activitiesResponse struct {
	Activities []Activity `json:"activities"`
}

type targetResponse struct {
	TargetComponents []struct {
		Xrefs []struct {
			XrefSrcDB string `json:"xref_src_db"`
			XrefID    string `json:"xref_id"`
		} `json:"target_component_xrefs"`
	} `json:"target_components"`
}

// Option configures the ChEMBL client.
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

// NewClient creates a ChEMBL client backed by the shared fetcher.
func NewClient(fetcher Fetcher, opts ...Option) Client {
	c := &client{
		fetcher: fetcher,
		source:  "chembl",
		baseURL: "https://www.ebi.ac.uk/chembl/api/data",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *client) SearchMolecule(ctx context.Context, name string) (*Molecule, error) {
	reqURL := fmt.Sprintf("%s/molecule/search?q=%s&format=json", c.baseURL, url.QueryEscape(name))

	var resp searchResponse
	if err := c.fetcher.GetJSON(ctx, c.source, reqURL, &resp); err != nil {
		return nil, eris.Wrap(err, "chembl: molecule search")
	}
	if len(resp.Molecules) == 0 {
		return nil, nil
	}
	return &resp.Molecules[0], nil
}

func (c *client) Activities(ctx context.Context, moleculeChemblID string) ([]Activity, error) {
	reqURL := fmt.Sprintf("%s/activity?molecule_chembl_id=%s&standard_type=IC50&format=json&limit=1000",
		c.baseURL, url.QueryEscape(moleculeChemblID))

	var resp activitiesResponse
	if err := c.fetcher.GetJSON(ctx, c.source, reqURL, &resp); err != nil {
		return nil, eris.Wrap(err, "chembl: activities")
	}
	return resp.Activities, nil
}

func (c *client) TargetUniprotID(ctx context.Context, targetChemblID string) (string, error) {
	reqURL := fmt.Sprintf("%s/target/%s?format=json", c.baseURL, url.PathEscape(targetChemblID))

	var resp targetResponse
	if err := c.fetcher.GetJSON(ctx, c.source, reqURL, &resp); err != nil {
		return "", eris.Wrap(err, "chembl: target lookup")
	}
	if len(resp.TargetComponents) == 0 {
		return "", nil
	}
	for _, xref := range resp.TargetComponents[0].Xrefs {
		if xref.XrefSrcDB == "UniProt" {
			return xref.XrefID, nil
		}
	}
	return "", nil
}
