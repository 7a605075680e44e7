package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/url"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/apexbio/trials-cli/internal/aact"
	"github.com/apexbio/trials-cli/internal/model"
	"github.com/apexbio/trials-cli/internal/resilience"
	"github.com/apexbio/trials-cli/pkg/chembl"
	"github.com/apexbio/trials-cli/pkg/ctgov"
	"github.com/apexbio/trials-cli/pkg/pubmed"
	"github.com/apexbio/trials-cli/pkg/stringdb"
	"github.com/apexbio/trials-cli/pkg/uniprot"
)

// uniprotFallbackLimit caps how many reviewed proteins the fallback
// target source takes per drug.
const uniprotFallbackLimit = 5

// Deps carries the external clients the built-in fetchers need. AACT
// is optional; without it the failure-details fetcher skips the
// registry description and document lookups.
type Deps struct {
	Chembl   chembl.Client
	Pubchem  NameNormalizer
	Uniprot  uniprot.Client
	StringDB stringdb.Client
	Pubmed   pubmed.Client
	CTGov    ctgov.Client
	AACT     *aact.Client

	// Classifier handles the llm_classify stage.
	Classifier Fetcher
}

// NameNormalizer resolves a drug name to a canonical form.
type NameNormalizer interface {
	NormalizeName(ctx context.Context, drugName string) (string, error)
}

// NewFetcherRegistry builds the named fetchers the stage config can
// reference.
func NewFetcherRegistry(deps Deps) map[string]Fetcher {
	registry := map[string]Fetcher{
		"chembl":           &chemblFetcher{chembl: deps.Chembl, pubchem: deps.Pubchem},
		"uniprot_fallback": &uniprotFallbackFetcher{uniprot: deps.Uniprot},
		"stringdb":         &stringdbFetcher{stringdb: deps.StringDB},
		"failure_details": &failureDetailsFetcher{
			aact:   deps.AACT,
			pubmed: deps.Pubmed,
			ctgov:  deps.CTGov,
		},
	}
	if deps.Classifier != nil {
		registry["llm_classify"] = deps.Classifier
	}
	return registry
}

func notFound(source string) error {
	return resilience.NewFetchError(resilience.KindNotFound, source, 0, nil)
}

// chemblFetcher resolves a drug to its ChEMBL molecule, aggregates IC50
// activities per target, and cross-references each target's UniProt
// accession. Returns NotFound when ChEMBL has no molecule or none of
// the targets map to UniProt, so the chain can fall back.
type chemblFetcher struct {
	chembl  chembl.Client
	pubchem NameNormalizer
}

func (f *chemblFetcher) Name() string { return "chembl" }

func (f *chemblFetcher) Fetch(ctx context.Context, trial *model.Trial) (any, error) {
	searchName := trial.DrugName
	if f.pubchem != nil {
		normalized, err := f.pubchem.NormalizeName(ctx, trial.DrugName)
		if err != nil {
			// Normalization is best-effort; the raw name still works.
			zap.L().Debug("pubchem normalization unavailable",
				zap.String("drug", trial.DrugName), zap.Error(err))
		} else if normalized != "" {
			searchName = normalized
		}
	}

	molecule, err := f.chembl.SearchMolecule(ctx, searchName)
	if err != nil {
		return nil, err
	}
	if molecule == nil {
		return nil, notFound("chembl")
	}

	activities, err := f.chembl.Activities(ctx, molecule.MoleculeChemblID)
	if err != nil {
		return nil, err
	}

	targets, err := f.aggregateTargets(ctx, activities)
	if err != nil {
		return nil, err
	}

	enrichment := model.TargetEnrichment{
		Found:      true,
		ChemblID:   molecule.MoleculeChemblID,
		PrefName:   molecule.PrefName,
		SearchName: searchName,
		Targets:    targets,
	}
	for _, target := range targets {
		if target.UniprotID != "" {
			enrichment.HasUniprotTargets = true
			break
		}
	}
	if !enrichment.HasUniprotTargets {
		// Without protein accessions the downstream PPI stage has
		// nothing to work with; let the fallback source try.
		return nil, notFound("chembl")
	}
	return enrichment, nil
}

func (f *chemblFetcher) aggregateTargets(ctx context.Context, activities []chembl.Activity) ([]model.DrugTarget, error) {
	byTarget := make(map[string]*model.DrugTarget)
	var order []string
	for _, activity := range activities {
		if activity.TargetChemblID == "" {
			continue
		}
		target, ok := byTarget[activity.TargetChemblID]
		if !ok {
			target = &model.DrugTarget{
				ChemblID:   activity.TargetChemblID,
				IC50Values: []model.IC50Value{},
			}
			byTarget[activity.TargetChemblID] = target
			order = append(order, activity.TargetChemblID)
		}
		if value, ok := activity.Value(); ok {
			target.IC50Values = append(target.IC50Values, model.IC50Value{
				Value: value,
				Units: activity.StandardUnits,
			})
		}
	}

	targets := make([]model.DrugTarget, 0, len(order))
	for _, id := range order {
		target := byTarget[id]
		uniprotID, err := f.chembl.TargetUniprotID(ctx, id)
		if err != nil {
			if resilience.IsNotFound(err) {
				// Target record gone; keep the activity data.
				targets = append(targets, *target)
				continue
			}
			return nil, err
		}
		target.UniprotID = uniprotID
		targets = append(targets, *target)
	}
	return targets, nil
}

// uniprotFallbackFetcher maps a drug name straight to reviewed UniProt
// entries when ChEMBL cannot. No binding data, accessions only.
type uniprotFallbackFetcher struct {
	uniprot uniprot.Client
}

func (f *uniprotFallbackFetcher) Name() string { return "uniprot_fallback" }

func (f *uniprotFallbackFetcher) Fetch(ctx context.Context, trial *model.Trial) (any, error) {
	entries, err := f.uniprot.SearchReviewed(ctx, trial.DrugName, uniprotFallbackLimit)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, notFound("uniprot")
	}

	targets := make([]model.DrugTarget, 0, len(entries))
	for _, entry := range entries {
		targets = append(targets, model.DrugTarget{
			UniprotID:  entry.PrimaryAccession,
			IC50Values: []model.IC50Value{},
			Source:     "uniprot_fallback",
		})
	}
	return model.TargetEnrichment{
		Found:             true,
		SearchName:        trial.DrugName,
		UniprotFallback:   true,
		Targets:           targets,
		HasUniprotTargets: true,
	}, nil
}

// stringdbFetcher builds the PPI network for a trial's protein targets.
// A trial with no UniProt accessions completes with an empty network;
// that is a terminal result, not an error.
type stringdbFetcher struct {
	stringdb stringdb.Client
}

func (f *stringdbFetcher) Name() string { return "stringdb" }

func (f *stringdbFetcher) Fetch(ctx context.Context, trial *model.Trial) (any, error) {
	var targetData model.TargetEnrichment
	if raw := trial.Payload(model.StageTargets); raw != nil {
		if err := json.Unmarshal(raw, &targetData); err != nil {
			return nil, resilience.NewFetchError(resilience.KindFatal, "stringdb", 0,
				eris.Wrap(err, "decode targets payload"))
		}
	}

	uniprotIDs := targetData.UniprotIDs()
	enrichment := model.PPIEnrichment{
		UniprotCount: len(uniprotIDs),
		Interactions: []model.Interaction{},
	}
	if len(uniprotIDs) == 0 {
		return enrichment, nil
	}

	for _, id := range uniprotIDs {
		edges, err := f.stringdb.Network(ctx, id)
		if err != nil {
			if resilience.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		for _, edge := range edges {
			enrichment.Interactions = append(enrichment.Interactions, model.Interaction{
				ProteinA:        edge.PreferredNameA,
				ProteinB:        edge.PreferredNameB,
				CombinedScore:   edge.Score,
				InteractionType: "physical",
			})
		}
	}

	enrichment.NetworkFeatures = networkFeatures(enrichment.Interactions)
	return enrichment, nil
}

// networkFeatures computes average degree and a clustering
// approximation (edges per node) over the interaction list.
func networkFeatures(interactions []model.Interaction) model.NetworkFeatures {
	if len(interactions) == 0 {
		return model.NetworkFeatures{}
	}

	adjacency := make(map[string]int)
	for _, edge := range interactions {
		adjacency[edge.ProteinA]++
		adjacency[edge.ProteinB]++
	}

	total := 0
	for _, degree := range adjacency {
		total += degree
	}
	return model.NetworkFeatures{
		AvgDegree:             round2(float64(total) / float64(len(adjacency))),
		ClusteringCoefficient: round2(float64(len(interactions)) / float64(len(adjacency))),
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// failureDetailsFetcher gathers termination context from four sources:
// AACT descriptions and documents, PubMed publications, the
// ClinicalTrials.gov results API, and sponsor disclosure search URLs.
// Sources that have nothing contribute empty fields; the payload is
// always written.
type failureDetailsFetcher struct {
	aact   *aact.Client
	pubmed pubmed.Client
	ctgov  ctgov.Client
}

func (f *failureDetailsFetcher) Name() string { return "failure_details" }

func (f *failureDetailsFetcher) Fetch(ctx context.Context, trial *model.Trial) (any, error) {
	enrichment := model.FailureEnrichment{
		CompanySearchURLs: companySearchURLs(trial.Sponsor, trial.NCTID, trial.DrugName),
	}

	if f.aact != nil {
		description, err := f.aact.DetailedDescription(ctx, trial.NCTID)
		if err != nil {
			return nil, resilience.NewFetchError(resilience.KindTransient, "aact", 0, err)
		}
		enrichment.AACTDescription = description

		documents, err := f.aact.Documents(ctx, trial.NCTID)
		if err != nil {
			return nil, resilience.NewFetchError(resilience.KindTransient, "aact", 0, err)
		}
		enrichment.AACTDocuments = documents
	}

	if f.pubmed != nil {
		publications, err := f.pubmed.SearchTrial(ctx, trial.NCTID, trial.DrugName)
		if err != nil && !resilience.IsNotFound(err) {
			return nil, err
		}
		for _, pub := range publications {
			enrichment.PubmedResults = append(enrichment.PubmedResults, model.PubmedResult{
				PMID:    pub.PMID,
				Title:   pub.Title,
				Authors: pub.Authors,
			})
		}
	}

	if f.ctgov != nil {
		study, err := f.ctgov.Study(ctx, trial.NCTID)
		if err != nil {
			if !resilience.IsNotFound(err) {
				return nil, err
			}
		} else {
			enrichment.ClinicalTrialsAPI = toStudyDetails(study)
		}
	}

	return enrichment, nil
}

func toStudyDetails(study *ctgov.Study) *model.StudyDetails {
	details := &model.StudyDetails{
		HasResults:          study.HasResults,
		BriefSummary:        study.BriefSummary,
		DetailedDescription: study.DetailedDescription,
	}
	if study.AdverseEvents.Found {
		details.AdverseEvents = toAdverseEvents(study.AdverseEvents)
	}
	if study.DoseInfo.Found {
		details.DoseInfo = toDoseInfo(study.DoseInfo)
	}
	return details
}

func toAdverseEvents(ae ctgov.AdverseEvents) *model.AdverseEvents {
	out := &model.AdverseEvents{
		Found:              ae.Found,
		FrequencyThreshold: ae.FrequencyThreshold,
		TimeFrame:          ae.TimeFrame,
		Description:        ae.Description,
		SeriousEvents:      toEventGroups(ae.SeriousEvents),
		OtherEvents:        toEventGroups(ae.OtherEvents),
		Summary: model.SAESummary{
			TotalDeaths:          ae.Summary.TotalDeaths,
			TotalSeriousAffected: ae.Summary.TotalSeriousAffected,
			TotalSeriousAtRisk:   ae.Summary.TotalSeriousAtRisk,
			SAERate:              ae.Summary.SAERate,
			DeathRate:            ae.Summary.DeathRate,
			HasSafetySignal:      ae.Summary.HasSafetySignal,
		},
	}
	return out
}

func toEventGroups(groups []ctgov.EventGroup) []model.EventGroup {
	out := make([]model.EventGroup, 0, len(groups))
	for _, group := range groups {
		converted := model.EventGroup{
			Title:           group.Title,
			Deaths:          group.Deaths,
			SeriousAffected: group.SeriousAffected,
			SeriousAtRisk:   group.SeriousAtRisk,
			Affected:        group.Affected,
			AtRisk:          group.AtRisk,
		}
		for _, event := range group.Events {
			converted.Events = append(converted.Events, model.AdverseEvent{
				Term:        event.Term,
				OrganSystem: event.OrganSystem,
				Affected:    event.Affected,
				AtRisk:      event.AtRisk,
			})
		}
		out = append(out, converted)
	}
	return out
}

func toDoseInfo(dose ctgov.DoseInfo) *model.DoseInfo {
	out := &model.DoseInfo{Found: dose.Found}
	for _, arm := range dose.Arms {
		out.Arms = append(out.Arms, model.Arm{
			Label:             arm.Label,
			Type:              arm.Type,
			Description:       arm.Description,
			InterventionNames: arm.InterventionNames,
		})
	}
	for _, intervention := range dose.Interventions {
		out.Interventions = append(out.Interventions, model.Intervention{
			Type:           intervention.Type,
			Name:           intervention.Name,
			Description:    intervention.Description,
			ArmGroupLabels: intervention.ArmGroupLabels,
		})
	}
	return out
}

// companySearchURLs builds sponsor disclosure search links for manual
// follow-up.
func companySearchURLs(sponsor, nctID, drugName string) []string {
	if sponsor == "" {
		return nil
	}
	return []string{
		fmt.Sprintf("https://www.google.com/search?q=%s",
			url.QueryEscape(fmt.Sprintf("%s %s terminated", sponsor, nctID))),
		fmt.Sprintf("https://www.google.com/search?q=%s",
			url.QueryEscape(fmt.Sprintf("%s %s clinical trial terminated", sponsor, drugName))),
	}
}
