package enrich

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexbio/trials-cli/internal/model"
	"github.com/apexbio/trials-cli/internal/resilience"
	"github.com/apexbio/trials-cli/pkg/chembl"
	"github.com/apexbio/trials-cli/pkg/ctgov"
	"github.com/apexbio/trials-cli/pkg/pubmed"
	"github.com/apexbio/trials-cli/pkg/stringdb"
	"github.com/apexbio/trials-cli/pkg/uniprot"
)

func testTrial() *model.Trial {
	return &model.Trial{
		NCTID:         "NCT01234567",
		DrugName:      "examplimab",
		Phase:         "PHASE2",
		OverallStatus: "TERMINATED",
		Sponsor:       "Apex Pharma Inc",
		Status:        model.NewEnrichmentStatus(time.Now().UTC()),
	}
}

type fakeChembl struct {
	molecule   *chembl.Molecule
	searchErr  error
	activities []chembl.Activity
	accessions map[string]string
}

func (f *fakeChembl) SearchMolecule(ctx context.Context, name string) (*chembl.Molecule, error) {
	return f.molecule, f.searchErr
}

func (f *fakeChembl) Activities(ctx context.Context, id string) ([]chembl.Activity, error) {
	return f.activities, nil
}

func (f *fakeChembl) TargetUniprotID(ctx context.Context, id string) (string, error) {
	return f.accessions[id], nil
}

type fakeNormalizer struct {
	name string
	err  error
}

func (f *fakeNormalizer) NormalizeName(ctx context.Context, drugName string) (string, error) {
	return f.name, f.err
}

type fakeUniprot struct {
	entries []uniprot.Entry
	err     error
}

func (f *fakeUniprot) SearchReviewed(ctx context.Context, query string, limit int) ([]uniprot.Entry, error) {
	if f.err != nil {
		return nil, f.err
	}
	if limit > 0 && len(f.entries) > limit {
		return f.entries[:limit], nil
	}
	return f.entries, nil
}

type fakeStringDB struct {
	networks map[string][]stringdb.Edge
	err      error
}

func (f *fakeStringDB) Network(ctx context.Context, identifier string) ([]stringdb.Edge, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.networks[identifier], nil
}

type fakePubmed struct {
	summaries []pubmed.Summary
	err       error
}

func (f *fakePubmed) SearchTrial(ctx context.Context, nctID, drugName string) ([]pubmed.Summary, error) {
	return f.summaries, f.err
}

type fakeCTGov struct {
	study *ctgov.Study
	err   error
}

func (f *fakeCTGov) Study(ctx context.Context, nctID string) (*ctgov.Study, error) {
	return f.study, f.err
}

func TestChemblFetcher(t *testing.T) {
	client := &fakeChembl{
		molecule: &chembl.Molecule{MoleculeChemblID: "CHEMBL941", PrefName: "EXAMPLIMAB"},
		activities: []chembl.Activity{
			{TargetChemblID: "CHEMBL1862", StandardValue: "38.0", StandardUnits: "nM"},
			{TargetChemblID: "CHEMBL1862", StandardValue: "150", StandardUnits: "nM"},
			{TargetChemblID: "CHEMBL2034", StandardValue: "", StandardUnits: ""},
		},
		accessions: map[string]string{"CHEMBL1862": "P00519"},
	}
	fetcher := &chemblFetcher{chembl: client}

	result, err := fetcher.Fetch(context.Background(), testTrial())
	require.NoError(t, err)

	enrichment, ok := result.(model.TargetEnrichment)
	require.True(t, ok)
	assert.True(t, enrichment.Found)
	assert.Equal(t, "CHEMBL941", enrichment.ChemblID)
	assert.True(t, enrichment.HasUniprotTargets)
	require.Len(t, enrichment.Targets, 2)

	first := enrichment.Targets[0]
	assert.Equal(t, "CHEMBL1862", first.ChemblID)
	assert.Equal(t, "P00519", first.UniprotID)
	require.Len(t, first.IC50Values, 2)
	assert.Equal(t, 38.0, first.IC50Values[0].Value)

	second := enrichment.Targets[1]
	assert.Empty(t, second.UniprotID)
	assert.Empty(t, second.IC50Values)
}

func TestChemblFetcher_UsesNormalizedName(t *testing.T) {
	var searched string
	client := &fakeChembl{}
	fetcher := &chemblFetcher{
		chembl:  searchRecorder{inner: client, searched: &searched},
		pubchem: &fakeNormalizer{name: "canonical-name"},
	}

	_, err := fetcher.Fetch(context.Background(), testTrial())
	require.Error(t, err) // no molecule found
	assert.True(t, resilience.IsNotFound(err))
	assert.Equal(t, "canonical-name", searched)
}

type searchRecorder struct {
	inner    chembl.Client
	searched *string
}

func (r searchRecorder) SearchMolecule(ctx context.Context, name string) (*chembl.Molecule, error) {
	*r.searched = name
	return r.inner.SearchMolecule(ctx, name)
}

func (r searchRecorder) Activities(ctx context.Context, id string) ([]chembl.Activity, error) {
	return r.inner.Activities(ctx, id)
}

func (r searchRecorder) TargetUniprotID(ctx context.Context, id string) (string, error) {
	return r.inner.TargetUniprotID(ctx, id)
}

func TestChemblFetcher_NoUniprotTargetsFallsThrough(t *testing.T) {
	client := &fakeChembl{
		molecule: &chembl.Molecule{MoleculeChemblID: "CHEMBL941"},
		activities: []chembl.Activity{
			{TargetChemblID: "CHEMBL1862", StandardValue: "38.0", StandardUnits: "nM"},
		},
		accessions: map[string]string{},
	}
	fetcher := &chemblFetcher{chembl: client}

	_, err := fetcher.Fetch(context.Background(), testTrial())
	require.Error(t, err)
	assert.True(t, resilience.IsNotFound(err))
}

func TestUniprotFallbackFetcher(t *testing.T) {
	client := &fakeUniprot{entries: []uniprot.Entry{
		{PrimaryAccession: "P00519"},
		{PrimaryAccession: "P10721"},
	}}
	fetcher := &uniprotFallbackFetcher{uniprot: client}

	result, err := fetcher.Fetch(context.Background(), testTrial())
	require.NoError(t, err)

	enrichment, ok := result.(model.TargetEnrichment)
	require.True(t, ok)
	assert.True(t, enrichment.Found)
	assert.True(t, enrichment.UniprotFallback)
	assert.True(t, enrichment.HasUniprotTargets)
	require.Len(t, enrichment.Targets, 2)
	assert.Equal(t, "uniprot_fallback", enrichment.Targets[0].Source)
	assert.Equal(t, "P00519", enrichment.Targets[0].UniprotID)
}

func TestUniprotFallbackFetcher_Empty(t *testing.T) {
	fetcher := &uniprotFallbackFetcher{uniprot: &fakeUniprot{}}

	_, err := fetcher.Fetch(context.Background(), testTrial())
	require.Error(t, err)
	assert.True(t, resilience.IsNotFound(err))
}

func TestStringdbFetcher_NoTargetsCompletesEmpty(t *testing.T) {
	fetcher := &stringdbFetcher{stringdb: &fakeStringDB{}}

	result, err := fetcher.Fetch(context.Background(), testTrial())
	require.NoError(t, err)

	enrichment, ok := result.(model.PPIEnrichment)
	require.True(t, ok)
	assert.Zero(t, enrichment.UniprotCount)
	assert.Empty(t, enrichment.Interactions)
	assert.Zero(t, enrichment.NetworkFeatures.AvgDegree)
}

func TestStringdbFetcher_BuildsNetwork(t *testing.T) {
	trial := testTrial()
	trial.Payloads = map[string]json.RawMessage{
		model.StageTargets: json.RawMessage(`{
			"found": true,
			"has_uniprot_targets": true,
			"targets": [
				{"uniprot_id": "P00519", "ic50_values": []},
				{"uniprot_id": "P00519", "ic50_values": []}
			]
		}`),
	}

	fetcher := &stringdbFetcher{stringdb: &fakeStringDB{networks: map[string][]stringdb.Edge{
		"P00519": {
			{PreferredNameA: "ABL1", PreferredNameB: "BCR", Score: 0.999},
			{PreferredNameA: "ABL1", PreferredNameB: "CRK", Score: 0.95},
		},
	}}}

	result, err := fetcher.Fetch(context.Background(), trial)
	require.NoError(t, err)

	enrichment, ok := result.(model.PPIEnrichment)
	require.True(t, ok)
	assert.Equal(t, 1, enrichment.UniprotCount)
	require.Len(t, enrichment.Interactions, 2)
	assert.Equal(t, "physical", enrichment.Interactions[0].InteractionType)

	// Degrees: ABL1=2, BCR=1, CRK=1; 2 edges over 3 nodes.
	assert.InDelta(t, 1.33, enrichment.NetworkFeatures.AvgDegree, 0.01)
	assert.InDelta(t, 0.67, enrichment.NetworkFeatures.ClusteringCoefficient, 0.01)
}

func TestFailureDetailsFetcher(t *testing.T) {
	fetcher := &failureDetailsFetcher{
		pubmed: &fakePubmed{summaries: []pubmed.Summary{
			{PMID: "111", Title: "Phase 2 results", Authors: []string{"Smith A"}},
		}},
		ctgov: &fakeCTGov{study: &ctgov.Study{
			HasResults:   true,
			BriefSummary: "A study.",
			AdverseEvents: ctgov.AdverseEvents{
				Found: true,
				SeriousEvents: []ctgov.EventGroup{
					{Title: "Arm 1", Deaths: 1, SeriousAffected: 12, SeriousAtRisk: 100},
				},
				Summary: ctgov.SAESummary{
					TotalDeaths:        1,
					SAERate:            0.12,
					TotalSeriousAtRisk: 100,
					HasSafetySignal:    true,
				},
			},
			DoseInfo: ctgov.DoseInfo{Found: true, Arms: []ctgov.Arm{{Label: "Arm 1"}}},
		}},
	}

	result, err := fetcher.Fetch(context.Background(), testTrial())
	require.NoError(t, err)

	enrichment, ok := result.(model.FailureEnrichment)
	require.True(t, ok)
	require.Len(t, enrichment.PubmedResults, 1)
	assert.Equal(t, "111", enrichment.PubmedResults[0].PMID)

	require.NotNil(t, enrichment.ClinicalTrialsAPI)
	assert.True(t, enrichment.ClinicalTrialsAPI.HasResults)
	require.NotNil(t, enrichment.ClinicalTrialsAPI.AdverseEvents)
	assert.True(t, enrichment.ClinicalTrialsAPI.AdverseEvents.Summary.HasSafetySignal)
	require.NotNil(t, enrichment.ClinicalTrialsAPI.DoseInfo)

	require.Len(t, enrichment.CompanySearchURLs, 2)
	assert.Contains(t, enrichment.CompanySearchURLs[0], "NCT01234567")
}

func TestFailureDetailsFetcher_ToleratesMissingStudy(t *testing.T) {
	fetcher := &failureDetailsFetcher{
		pubmed: &fakePubmed{},
		ctgov:  &fakeCTGov{err: notFoundErr("ctgov")},
	}

	result, err := fetcher.Fetch(context.Background(), testTrial())
	require.NoError(t, err)

	enrichment, ok := result.(model.FailureEnrichment)
	require.True(t, ok)
	assert.Nil(t, enrichment.ClinicalTrialsAPI)
	assert.NotEmpty(t, enrichment.CompanySearchURLs)
}

func TestCompanySearchURLs_NoSponsor(t *testing.T) {
	assert.Nil(t, companySearchURLs("", "NCT01234567", "drug"))
}

func TestNewFetcherRegistry(t *testing.T) {
	registry := NewFetcherRegistry(Deps{
		Chembl:     &fakeChembl{},
		Uniprot:    &fakeUniprot{},
		StringDB:   &fakeStringDB{},
		Pubmed:     &fakePubmed{},
		CTGov:      &fakeCTGov{},
		Classifier: &stubFetcher{name: "llm_classify", results: always(nil, nil)},
	})

	for _, name := range []string{"chembl", "uniprot_fallback", "stringdb", "failure_details", "llm_classify"} {
		_, ok := registry[name]
		assert.True(t, ok, "missing fetcher %s", name)
	}

	// Default wiring must resolve against the registry.
	_, err := DefaultStagesConfig().Build(registry)
	require.NoError(t, err)
}
