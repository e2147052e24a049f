package policy

import "fmt"

// DefaultConfidenceThreshold applies when a tenant has not configured one.
const DefaultConfidenceThreshold = 0.65

// ConfidenceResult reports whether a classification is trusted.
type ConfidenceResult struct {
	Handoff bool
	Reason  string
}

// CheckConfidence forces a handoff when confidence falls strictly below the
// threshold. The reason embeds the exact confidence value to two decimal
// places for debuggability.
func CheckConfidence(confidence, threshold float64) ConfidenceResult {
	if threshold <= 0 {
		threshold = DefaultConfidenceThreshold
	}
	if confidence < threshold {
		return ConfidenceResult{
			Handoff: true,
			Reason:  fmt.Sprintf("low confidence (%.2f < %.2f)", confidence, threshold),
		}
	}
	return ConfidenceResult{}
}
