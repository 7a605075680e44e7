package model

import (
	"encoding/json"
	"time"
)

// StageStatus represents the enrichment state of a single stage on a trial.
type StageStatus string

const (
	StagePending    StageStatus = "pending"
	StageInProgress StageStatus = "in_progress"
	StageDone       StageStatus = "done"
	StageFailed     StageStatus = "failed"
)

// Enrichment stage names, in pipeline order. PPI depends on targets;
// LLM classification depends on failure details.
const (
	StageTargets        = "targets"
	StagePPI            = "ppi"
	StageFailureDetails = "failure_details"
	StageLLMClassify    = "llm_classify"
)

// StageNames lists all enrichment stages in dependency order.
var StageNames = []string{StageTargets, StagePPI, StageFailureDetails, StageLLMClassify}

// EnrichmentStatus tracks per-stage progress for one trial.
type EnrichmentStatus struct {
	Stages      map[string]StageStatus `json:"stages"`
	RetryCount  int                    `json:"retry_count"`
	ExtractedAt time.Time              `json:"extracted_at"`
	LastUpdated time.Time              `json:"last_updated"`
}

// NewEnrichmentStatus returns a status with every stage pending.
func NewEnrichmentStatus(now time.Time) EnrichmentStatus {
	stages := make(map[string]StageStatus, len(StageNames))
	for _, name := range StageNames {
		stages[name] = StagePending
	}
	return EnrichmentStatus{
		Stages:      stages,
		ExtractedAt: now,
		LastUpdated: now,
	}
}

// Stage returns the status for a stage, defaulting to pending for
// stages added after the trial was extracted.
func (s EnrichmentStatus) Stage(name string) StageStatus {
	if st, ok := s.Stages[name]; ok {
		return st
	}
	return StagePending
}

// Trial is one unit of enrichment work: a trial-intervention pair
// extracted from AACT. Core fields are set once at extraction and never
// change; only Status and Payloads are mutated by the enrichment runner.
type Trial struct {
	NCTID            string `json:"nct_id"`
	DrugName         string `json:"drug_name"`
	InterventionType string `json:"intervention_type"`
	DrugDescription  string `json:"drug_description,omitempty"`
	Phase            string `json:"phase"`
	OverallStatus    string `json:"overall_status"`
	WhyStopped       string `json:"why_stopped,omitempty"`
	Title            string `json:"title"`
	StartDate        string `json:"start_date,omitempty"`
	CompletionDate   string `json:"completion_date,omitempty"`
	Sponsor          string `json:"sponsor,omitempty"`

	Status EnrichmentStatus `json:"enrichment_status"`

	// Payloads maps stage name to that stage's enrichment result.
	// Additive only: a payload is never deleted once written.
	Payloads map[string]json.RawMessage `json:"enrichment_payloads,omitempty"`
}

// Key identifies the trial-intervention pair in the store. A trial
// with several drug interventions yields one record per drug, so the
// NCT id alone is not unique.
func (t *Trial) Key() string {
	return t.NCTID + "|" + t.DrugName
}

// Payload returns the stage payload, or nil if the stage has not written one.
func (t *Trial) Payload(stage string) json.RawMessage {
	if t.Payloads == nil {
		return nil
	}
	return t.Payloads[stage]
}

// TargetEnrichment is the payload for the targets stage (ChEMBL with
// UniProt fallback).
type TargetEnrichment struct {
	Found             bool         `json:"found"`
	ChemblID          string       `json:"chembl_id,omitempty"`
	PrefName          string       `json:"pref_name,omitempty"`
	SearchName        string       `json:"search_name,omitempty"`
	UniprotFallback   bool         `json:"uniprot_fallback,omitempty"`
	Targets           []DrugTarget `json:"targets"`
	HasUniprotTargets bool         `json:"has_uniprot_targets"`
}

// DrugTarget is one protein target with binding data.
type DrugTarget struct {
	ChemblID   string      `json:"chembl_id,omitempty"`
	UniprotID  string      `json:"uniprot_id,omitempty"`
	IC50Values []IC50Value `json:"ic50_values"`
	Source     string      `json:"source,omitempty"`
}

// IC50Value is a single binding affinity measurement.
type IC50Value struct {
	Value float64 `json:"value"`
	Units string  `json:"units"`
}

// UniprotIDs returns the distinct UniProt accessions across all targets.
func (e TargetEnrichment) UniprotIDs() []string {
	var ids []string
	seen := make(map[string]bool)
	for _, t := range e.Targets {
		if t.UniprotID != "" && !seen[t.UniprotID] {
			seen[t.UniprotID] = true
			ids = append(ids, t.UniprotID)
		}
	}
	return ids
}

// PPIEnrichment is the payload for the ppi stage (STRING network).
type PPIEnrichment struct {
	UniprotCount    int             `json:"uniprot_count"`
	Interactions    []Interaction   `json:"interactions"`
	NetworkFeatures NetworkFeatures `json:"network_features"`
}

// Interaction is one protein-protein edge from STRING.
type Interaction struct {
	ProteinA        string  `json:"protein_a"`
	ProteinB        string  `json:"protein_b"`
	CombinedScore   float64 `json:"combined_score"`
	InteractionType string  `json:"interaction_type"`
}

// NetworkFeatures summarizes PPI network topology.
type NetworkFeatures struct {
	AvgDegree             float64 `json:"avg_degree"`
	ClusteringCoefficient float64 `json:"clustering_coefficient"`
}

// FailureEnrichment is the payload for the failure_details stage.
type FailureEnrichment struct {
	AACTDescription   string          `json:"aact_description,omitempty"`
	AACTDocuments     []TrialDocument `json:"aact_documents,omitempty"`
	PubmedResults     []PubmedResult  `json:"pubmed_results,omitempty"`
	ClinicalTrialsAPI *StudyDetails   `json:"clinicaltrials_api,omitempty"`
	CompanySearchURLs []string        `json:"company_search_urls,omitempty"`
}

// TrialDocument is a registry document reference from AACT.
type TrialDocument struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// PubmedResult is one publication hit for a trial.
type PubmedResult struct {
	PMID    string   `json:"pmid"`
	Title   string   `json:"title"`
	Authors []string `json:"authors,omitempty"`
}

// StudyDetails holds results-section data from the ClinicalTrials.gov API.
type StudyDetails struct {
	HasResults          bool           `json:"has_results"`
	BriefSummary        string         `json:"brief_summary,omitempty"`
	DetailedDescription string         `json:"detailed_description,omitempty"`
	AdverseEvents       *AdverseEvents `json:"adverse_events,omitempty"`
	DoseInfo            *DoseInfo      `json:"dose_info,omitempty"`
}

// AdverseEvents is the parsed adverseEventsModule.
type AdverseEvents struct {
	Found              bool         `json:"found"`
	FrequencyThreshold string       `json:"frequency_threshold,omitempty"`
	TimeFrame          string       `json:"time_frame,omitempty"`
	Description        string       `json:"description,omitempty"`
	SeriousEvents      []EventGroup `json:"serious_events,omitempty"`
	OtherEvents        []EventGroup `json:"other_events,omitempty"`
	Summary            SAESummary   `json:"summary"`
}

// EventGroup is one arm's adverse event tally.
type EventGroup struct {
	Title           string         `json:"title"`
	Deaths          int            `json:"deaths,omitempty"`
	SeriousAffected int            `json:"serious_affected,omitempty"`
	SeriousAtRisk   int            `json:"serious_at_risk,omitempty"`
	Affected        int            `json:"affected,omitempty"`
	AtRisk          int            `json:"at_risk,omitempty"`
	Events          []AdverseEvent `json:"events,omitempty"`
}

// AdverseEvent is a single reported event term.
type AdverseEvent struct {
	Term        string `json:"term"`
	OrganSystem string `json:"organ_system,omitempty"`
	Affected    int    `json:"affected"`
	AtRisk      int    `json:"at_risk"`
}

// SAESummary aggregates serious adverse event metrics across groups.
type SAESummary struct {
	TotalDeaths          int     `json:"total_deaths"`
	TotalSeriousAffected int     `json:"total_serious_affected"`
	TotalSeriousAtRisk   int     `json:"total_serious_at_risk"`
	SAERate              float64 `json:"sae_rate"`
	DeathRate            float64 `json:"death_rate"`
	HasSafetySignal      bool    `json:"has_safety_signal"`
}

// DoseInfo holds dosing details from the arms/interventions module.
type DoseInfo struct {
	Found         bool           `json:"found"`
	Arms          []Arm          `json:"arms,omitempty"`
	Interventions []Intervention `json:"interventions,omitempty"`
}

// Arm is one study arm.
type Arm struct {
	Label             string   `json:"label"`
	Type              string   `json:"type,omitempty"`
	Description       string   `json:"description,omitempty"`
	InterventionNames []string `json:"intervention_names,omitempty"`
}

// Intervention is one study intervention.
type Intervention struct {
	Type           string   `json:"type,omitempty"`
	Name           string   `json:"name"`
	Description    string   `json:"description,omitempty"`
	ArmGroupLabels []string `json:"arm_group_labels,omitempty"`
}
