package classify

import (
	"encoding/json"
	"fmt"

	"github.com/apexbio/trials-cli/internal/model"
)

const (
	descriptionLimitClassify = 1000
	descriptionLimitVerify   = 500
)

func failureContext(trial *model.Trial) (description string, pubmedCount int) {
	raw := trial.Payload(model.StageFailureDetails)
	if raw == nil {
		return "", 0
	}
	var failure model.FailureEnrichment
	if err := json.Unmarshal(raw, &failure); err != nil {
		return "", 0
	}
	return failure.AACTDescription, len(failure.PubmedResults)
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}

func orFallback(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func classificationPrompt(trial *model.Trial) string {
	description, pubmedCount := failureContext(trial)

	return fmt.Sprintf(`You are analyzing a clinical trial that was terminated, suspended, or withdrawn.

**Trial Information:**
- NCT ID: %s
- Drug: %s
- Title: %s
- Status: %s
- Official Reason: %s

**Additional Context:**
- Detailed Description: %s
- PubMed Publications: %d found
- Sponsor: %s

**Task:**
Classify the reason for trial failure into ONE of these categories:

1. **FAILURE_SAFETY**: Terminated due to safety concerns, adverse events, toxicity, or tolerability issues
2. **FAILURE_EFFICACY**: Terminated due to lack of efficacy, poor results, or inability to meet endpoints
3. **FAILURE_ADMINISTRATIVE**: Terminated due to enrollment issues, funding, strategic decisions, or operational problems

**Output Format:**
Category: [FAILURE_SAFETY | FAILURE_EFFICACY | FAILURE_ADMINISTRATIVE]
Confidence: [high | medium | low]
Reasoning: [2-3 sentences explaining your classification based on the evidence]

**Example:**
Category: FAILURE_SAFETY
Confidence: high
Reasoning: The detailed description mentions "unexpected toxicity events" and "safety concerns leading to early termination." The official reason states "adverse events," confirming safety-related failure.
`,
		trial.NCTID,
		trial.DrugName,
		trial.Title,
		trial.OverallStatus,
		orFallback(trial.WhyStopped, "Not provided"),
		orFallback(truncate(description, descriptionLimitClassify), "None"),
		pubmedCount,
		orFallback(trial.Sponsor, "Unknown"),
	)
}

func verificationPrompt(trial *model.Trial, initial parsedClassification) string {
	description, _ := failureContext(trial)

	return fmt.Sprintf(`You previously classified this clinical trial as:
Category: %s
Confidence: %s
Reasoning: %s

**Re-examine the evidence and check for:**
1. Any contradictions in the data
2. Whether the confidence level is appropriate
3. If a different category might be more accurate

**Trial Data:**
- Official Reason: %s
- Description Excerpt: %s...
- Sponsor: %s

**Output Format:**
Verification: [PASS | FAIL]
Final Confidence: [high | medium | low]
Contradictions Found: [List any contradictions, or "None"]
Revised Category (if needed): [Same category or new one]

**Example:**
Verification: PASS
Final Confidence: high
Contradictions Found: None
Revised Category: FAILURE_SAFETY
`,
		initial.Category,
		initial.Confidence,
		initial.Reasoning,
		orFallback(trial.WhyStopped, "Not provided"),
		truncate(description, descriptionLimitVerify),
		orFallback(trial.Sponsor, "Unknown"),
	)
}
