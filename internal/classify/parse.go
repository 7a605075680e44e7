package classify

import (
	"strings"

	"github.com/apexbio/trials-cli/internal/model"
)

// parsedClassification is the structured form of the first pass.
type parsedClassification struct {
	Category   model.FailureCategory
	Confidence model.Confidence
	Reasoning  string
}

// parsedVerification is the structured form of the second pass.
type parsedVerification struct {
	Passed          bool
	Confidence      model.Confidence
	Contradictions  []string
	RevisedCategory model.FailureCategory
}

// parseClassification pulls the category, confidence, and reasoning out
// of the model's line-oriented response. Missing or malformed fields
// fall back to the most conservative values.
func parseClassification(text string) parsedClassification {
	result := parsedClassification{
		Category:   model.FailureAdministrative,
		Confidence: model.ConfidenceLow,
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case hasPrefixFold(line, "Category:"):
			result.Category = parseCategory(lineValue(line), result.Category)
		case hasPrefixFold(line, "Confidence:"):
			result.Confidence = parseConfidence(lineValue(line), result.Confidence)
		case hasPrefixFold(line, "Reasoning:"):
			result.Reasoning = lineValue(line)
		}
	}
	return result
}

// parseVerification pulls the verification verdict out of the second
// pass. Absent fields default to a passing, medium-confidence verdict
// with no revision.
func parseVerification(text string) parsedVerification {
	result := parsedVerification{
		Passed:     true,
		Confidence: model.ConfidenceMedium,
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case hasPrefixFold(line, "Verification:"):
			result.Passed = !strings.Contains(strings.ToUpper(lineValue(line)), "FAIL")
		case hasPrefixFold(line, "Final Confidence:"):
			result.Confidence = parseConfidence(lineValue(line), result.Confidence)
		case hasPrefixFold(line, "Contradictions Found:"):
			value := lineValue(line)
			if value != "" && !strings.EqualFold(value, "none") {
				result.Contradictions = []string{value}
			}
		case hasPrefixFold(line, "Revised Category"):
			value := strings.ToUpper(lineValue(line))
			if strings.Contains(value, "FAILURE_") {
				result.RevisedCategory = parseCategory(value, "")
			}
		}
	}
	return result
}

func parseCategory(value string, fallback model.FailureCategory) model.FailureCategory {
	value = strings.ToUpper(value)
	switch {
	case strings.Contains(value, string(model.FailureSafety)):
		return model.FailureSafety
	case strings.Contains(value, string(model.FailureEfficacy)):
		return model.FailureEfficacy
	case strings.Contains(value, string(model.FailureAdministrative)):
		return model.FailureAdministrative
	default:
		return fallback
	}
}

func parseConfidence(value string, fallback model.Confidence) model.Confidence {
	value = strings.ToLower(value)
	switch {
	case strings.Contains(value, string(model.ConfidenceHigh)):
		return model.ConfidenceHigh
	case strings.Contains(value, string(model.ConfidenceMedium)):
		return model.ConfidenceMedium
	case strings.Contains(value, string(model.ConfidenceLow)):
		return model.ConfidenceLow
	default:
		return fallback
	}
}

func hasPrefixFold(line, prefix string) bool {
	return len(line) >= len(prefix) && strings.EqualFold(line[:len(prefix)], prefix)
}

// lineValue returns everything after the first colon, trimmed of
// whitespace and markdown bracket noise.
func lineValue(line string) string {
	_, rest, ok := strings.Cut(line, ":")
	if !ok {
		return ""
	}
	rest = strings.TrimSpace(rest)
	rest = strings.Trim(rest, "[]*")
	return strings.TrimSpace(rest)
}
