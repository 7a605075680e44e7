// Package export flattens fully-enriched trials into an ML-ready
// dataset: one record per trial-intervention pair with target, binding,
// network, and classification features.
package export

import (
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/apexbio/trials-cli/internal/model"
	"github.com/apexbio/trials-cli/internal/store"
)

// Record is one flattened dataset row.
type Record struct {
	NCTID    string `json:"nct_id"`
	DrugName string `json:"drug_name"`

	FailureCategory model.FailureCategory `json:"failure_category"`
	Confidence      model.Confidence      `json:"confidence"`
	LabelReasoning  string                `json:"label_reasoning"`

	TargetCount       int      `json:"target_count"`
	HasUniprotTargets bool     `json:"has_uniprot_targets"`
	UniprotIDs        []string `json:"uniprot_ids"`

	IC50Count int      `json:"ic50_count"`
	MinIC50   *float64 `json:"min_ic50"`
	MaxIC50   *float64 `json:"max_ic50"`
	AvgIC50   *float64 `json:"avg_ic50"`

	PPINetworkSize           int     `json:"ppi_network_size"`
	PPIAvgDegree             float64 `json:"ppi_avg_degree"`
	PPIClusteringCoefficient float64 `json:"ppi_clustering_coefficient"`

	Sponsor        string `json:"sponsor"`
	SponsorType    string `json:"sponsor_type"`
	Phase          string `json:"phase"`
	OverallStatus  string `json:"overall_status"`
	WhyStopped     string `json:"why_stopped"`
	StartDate      string `json:"start_date"`
	CompletionDate string `json:"completion_date"`

	PPIInteractions []model.Interaction `json:"ppi_interactions"`
	ChemblTargets   []model.DrugTarget  `json:"chembl_targets"`
}

// Options controls which trials make it into the dataset.
type Options struct {
	// MinConfidence drops classifications below this tier.
	MinConfidence model.Confidence
	// RequireTargets keeps only trials with resolved UniProt targets.
	RequireTargets bool
	// ValidationMode enforces the strict completeness rules used for
	// held-out validation sets.
	ValidationMode bool
}

// Report summarizes an export run.
type Report struct {
	Total      int
	Exported   int
	Dropped    map[string]int
	Categories map[model.FailureCategory]int
	Confidence map[model.Confidence]int
	Sponsors   map[string]int
}

// Exporter reads converged trials from the store and writes the dataset.
type Exporter struct {
	store store.Store
}

// New creates an exporter over the given store.
func New(s store.Store) *Exporter {
	return &Exporter{store: s}
}

// Export writes the filtered dataset as a JSON array to w.
func (e *Exporter) Export(ctx context.Context, w io.Writer, opts Options) (*Report, error) {
	trials, err := e.store.ListTrialsByStageStatus(ctx, model.StageLLMClassify, model.StageDone)
	if err != nil {
		return nil, eris.Wrap(err, "export: list classified trials")
	}

	report := &Report{
		Total:      len(trials),
		Dropped:    make(map[string]int),
		Categories: make(map[model.FailureCategory]int),
		Confidence: make(map[model.Confidence]int),
		Sponsors:   make(map[string]int),
	}

	minRank := model.ConfidenceRank(opts.MinConfidence)
	records := make([]Record, 0, len(trials))
	for i := range trials {
		record := buildRecord(&trials[i])

		if model.ConfidenceRank(record.Confidence) < minRank {
			report.Dropped["below_min_confidence"]++
			continue
		}
		if opts.RequireTargets && !record.HasUniprotTargets {
			report.Dropped["missing_uniprot_targets"]++
			continue
		}
		if opts.ValidationMode {
			if reason := validationDropReason(record); reason != "" {
				report.Dropped[reason]++
				continue
			}
		}

		records = append(records, record)
		report.Categories[record.FailureCategory]++
		report.Confidence[record.Confidence]++
		report.Sponsors[record.SponsorType]++
	}
	report.Exported = len(records)

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return nil, eris.Wrap(err, "export: write dataset")
	}

	zap.L().Info("dataset exported",
		zap.Int("total", report.Total),
		zap.Int("exported", report.Exported),
		zap.Any("dropped", report.Dropped),
	)
	return report, nil
}

// validationDropReason applies the strict completeness rules. An empty
// string means the record qualifies.
func validationDropReason(r Record) string {
	switch {
	case !r.HasUniprotTargets:
		return "missing_uniprot_targets"
	case r.PPINetworkSize == 0:
		return "missing_ppi_network"
	case !strings.HasPrefix(string(r.FailureCategory), "FAILURE_"):
		return "invalid_failure_category"
	case r.FailureCategory == model.FailureSafety && r.Confidence == model.ConfidenceLow:
		return "low_confidence_safety_classification"
	case r.TargetCount == 0:
		return "no_target_data"
	default:
		return ""
	}
}

func buildRecord(trial *model.Trial) Record {
	targets := targetEnrichment(trial)
	ppi := ppiEnrichment(trial)
	classification := classificationPayload(trial)

	record := Record{
		NCTID:          trial.NCTID,
		DrugName:       trial.DrugName,
		Sponsor:        trial.Sponsor,
		SponsorType:    ClassifySponsor(trial.Sponsor),
		Phase:          trial.Phase,
		OverallStatus:  trial.OverallStatus,
		WhyStopped:     trial.WhyStopped,
		StartDate:      trial.StartDate,
		CompletionDate: trial.CompletionDate,

		FailureCategory: "UNKNOWN",
		Confidence:      model.ConfidenceLow,
	}

	if classification != nil {
		record.FailureCategory = classification.Category
		record.Confidence = classification.Confidence
		record.LabelReasoning = classification.Reasoning
	}

	if targets != nil {
		record.TargetCount = len(targets.Targets)
		record.HasUniprotTargets = targets.HasUniprotTargets
		record.UniprotIDs = targets.UniprotIDs()
		record.ChemblTargets = targets.Targets

		values := ic50Values(targets)
		record.IC50Count = len(values)
		record.MinIC50, record.MaxIC50, record.AvgIC50 = ic50Stats(values)
	}

	if ppi != nil {
		record.PPINetworkSize = len(ppi.Interactions)
		record.PPIAvgDegree = ppi.NetworkFeatures.AvgDegree
		record.PPIClusteringCoefficient = ppi.NetworkFeatures.ClusteringCoefficient
		record.PPIInteractions = ppi.Interactions
	}

	return record
}

// ic50Values collects all nM-denominated IC50 measurements across targets.
func ic50Values(targets *model.TargetEnrichment) []float64 {
	var values []float64
	for _, target := range targets.Targets {
		for _, ic50 := range target.IC50Values {
			if ic50.Units == "nM" {
				values = append(values, ic50.Value)
			}
		}
	}
	return values
}

func ic50Stats(values []float64) (min, max, avg *float64) {
	if len(values) == 0 {
		return nil, nil, nil
	}
	lo, hi, sum := values[0], values[0], 0.0
	for _, v := range values {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
		sum += v
	}
	mean := sum / float64(len(values))
	return &lo, &hi, &mean
}

func targetEnrichment(trial *model.Trial) *model.TargetEnrichment {
	raw := trial.Payload(model.StageTargets)
	if raw == nil {
		return nil
	}
	var out model.TargetEnrichment
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return &out
}

func ppiEnrichment(trial *model.Trial) *model.PPIEnrichment {
	raw := trial.Payload(model.StagePPI)
	if raw == nil {
		return nil
	}
	var out model.PPIEnrichment
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return &out
}

func classificationPayload(trial *model.Trial) *model.Classification {
	raw := trial.Payload(model.StageLLMClassify)
	if raw == nil {
		return nil
	}
	var out model.Classification
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return &out
}

var (
	industryKeywords = []string{
		"pharma", "therapeutics", "biotech", "inc", "ltd",
		"corporation", "labs", "gmbh", "ag", "sa",
	}
	academicKeywords = []string{
		"university", "college", "institute", "medical center",
		"hospital", "clinic",
	}
	governmentKeywords = []string{"nih", "niaid", "nci", "nhlbi", "national"}
)

// ClassifySponsor buckets a lead sponsor name into industry, academic,
// government, other, or unknown. Keyword order matters: industry wins
// over academic, academic over government.
func ClassifySponsor(name string) string {
	if name == "" {
		return "unknown"
	}
	lower := strings.ToLower(name)
	for _, kw := range industryKeywords {
		if strings.Contains(lower, kw) {
			return "industry"
		}
	}
	for _, kw := range academicKeywords {
		if strings.Contains(lower, kw) {
			return "academic"
		}
	}
	for _, kw := range governmentKeywords {
		if strings.Contains(lower, kw) {
			return "government"
		}
	}
	return "other"
}
