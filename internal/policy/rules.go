package policy

import "encoding/json"

// Rules is the parsed per-tenant policy rule blob. Every field has a
// documented default; a missing or malformed blob degrades to defaults and
// never fails the pipeline.
type Rules struct {
	// ScrubDisabled turns off the outbound self-disclosure scrub.
	// Default: false.
	ScrubDisabled bool `json:"scrub_disabled"`

	// ConfidenceThreshold overrides the tenant-level classification
	// threshold. Default: 0 (caller falls back to the tenant column or
	// DefaultConfidenceThreshold).
	ConfidenceThreshold float64 `json:"confidence_threshold"`

	// MaxTurns caps turns per session before the input screen forces a
	// handoff. Default: 0 (caller supplies the engine-wide ceiling).
	MaxTurns int `json:"max_turns"`
}

// ParseRules decodes a tenant policy blob, returning defaults for an empty
// or malformed payload.
func ParseRules(blob string) Rules {
	var r Rules
	if blob == "" {
		return r
	}
	if err := json.Unmarshal([]byte(blob), &r); err != nil {
		return Rules{}
	}
	if r.ConfidenceThreshold < 0 || r.ConfidenceThreshold > 1 {
		r.ConfidenceThreshold = 0
	}
	if r.MaxTurns < 0 {
		r.MaxTurns = 0
	}
	return r
}
