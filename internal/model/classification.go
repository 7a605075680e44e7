package model

import "time"

// FailureCategory is the terminal classification of why a trial stopped.
type FailureCategory string

const (
	FailureSafety         FailureCategory = "FAILURE_SAFETY"
	FailureEfficacy       FailureCategory = "FAILURE_EFFICACY"
	FailureAdministrative FailureCategory = "FAILURE_ADMINISTRATIVE"
)

// Confidence is the classifier's self-reported confidence tier.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// ConfidenceRank orders confidence tiers for threshold filtering.
// Unknown values rank lowest.
func ConfidenceRank(c Confidence) int {
	switch c {
	case ConfidenceHigh:
		return 2
	case ConfidenceMedium:
		return 1
	default:
		return 0
	}
}

// Classification is the llm_classify stage payload: the failure category
// with the evidence trail from the two-pass analysis.
type Classification struct {
	Category           FailureCategory `json:"classification"`
	Confidence         Confidence      `json:"confidence"`
	Reasoning          string          `json:"reasoning"`
	VerificationPassed bool            `json:"verification_passed"`
	Contradictions     []string        `json:"contradictions_found,omitempty"`
	HeuristicOverride  bool            `json:"heuristic_override,omitempty"`
	SAESummary         *SAESummary     `json:"sae_summary,omitempty"`
	Model              string          `json:"claude_model,omitempty"`
	TokensUsed         int64           `json:"tokens_used"`
	AnalyzedAt         time.Time       `json:"analysis_timestamp"`
}
