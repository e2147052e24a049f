// Package policy implements the stateless text policies applied around the
// pipeline: the inbound screen, the outbound scrub, and the classification
// confidence policy. Everything here is a pure function over text plus a
// small parsed rule set; no storage, no network.
package policy

import (
	"fmt"
	"regexp"
)

// Input screen reasons, machine-readable.
const (
	ReasonAbuse      = "abuse"
	ReasonSelfHarm   = "high-risk:self_harm"
	ReasonLegal      = "high-risk:legal"
	ReasonFraud      = "high-risk:fraud"
	ReasonEmergency  = "high-risk:emergency"
	ReasonTurnLimit  = "turn_limit"
	ActionHandoff    = "handoff"
)

// InputResult is the outcome of screening one inbound message.
type InputResult struct {
	Passed bool
	Action string // "handoff" when not passed
	Reason string
}

// inputCheck pairs a compiled pattern with its denial reason. Checks run in
// order; the first match short-circuits.
type inputCheck struct {
	re     *regexp.Regexp
	reason string
}

var inputChecks = []inputCheck{
	{regexp.MustCompile(`(?i)\b(fuck(?:ing|ed)?|shit|bitch|asshole|cunt)\b`), ReasonAbuse},
	{regexp.MustCompile(`(?i)\b(kill myself|suicide|end my life|self[- ]harm|hurt myself)\b`), ReasonSelfHarm},
	{regexp.MustCompile(`(?i)\b(sue you|lawsuit|lawyer|attorney|legal action|take you to court)\b`), ReasonLegal},
	{regexp.MustCompile(`(?i)\b(chargeback|fraud|scam(?:med)?|stolen (?:card|credit card))\b`), ReasonFraud},
	{regexp.MustCompile(`(?i)\b(emergency|call (?:911|112|999)|ambulance|fire department|someone is hurt)\b`), ReasonEmergency},
}

// ScreenInput runs the ordered inbound checks against text, then the
// turn-count ceiling. The first failing check wins and forces a handoff.
func ScreenInput(text string, turnCount, maxTurns int) InputResult {
	for _, c := range inputChecks {
		if c.re.MatchString(text) {
			return InputResult{Action: ActionHandoff, Reason: c.reason}
		}
	}
	if maxTurns > 0 && turnCount >= maxTurns {
		return InputResult{
			Action: ActionHandoff,
			Reason: fmt.Sprintf("%s (%d turns)", ReasonTurnLimit, turnCount),
		}
	}
	return InputResult{Passed: true}
}
