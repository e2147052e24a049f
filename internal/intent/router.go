// Package intent wraps the classification collaborator with the confidence
// policy and the intent-to-module mapping. The router fails safe: any
// classifier misconfiguration or call failure yields intent "unknown" with a
// forced handoff, never an error surfaced to the pipeline.
package intent

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/llm"
	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/policy"
)

// Module names module handlers register under. The registry in
// internal/module keys its handlers by these.
const (
	ModuleGreeting = "greeting"
	ModuleGoodbye  = "goodbye"
	ModuleFAQ      = "faq"
	ModuleHandoff  = "handoff"
	ModuleContact  = "collect_contact"
	ModuleBooking  = "booking"
	ModuleTakeaway = "takeaway"
)

// IntentUnknown is the fail-safe intent label.
const IntentUnknown = "unknown"

// Decision is the routing verdict for one inbound message.
type Decision struct {
	Intent           string
	Confidence       float64
	SuggestedModules []string
	RequiresHandoff  bool
	HandoffReason    string
	// ClassifierCalled reports whether a billable classifier call actually
	// happened. Fail-safe verdicts leave it false so nothing is charged.
	ClassifierCalled bool
}

// Router delegates raw classification to the LLM collaborator and applies
// confidence policy plus module mapping on top.
type Router struct {
	llm     llm.Client
	intents []llm.IntentDef
}

// NewRouter builds a Router over the default allow-listed intent set.
func NewRouter(client llm.Client) *Router {
	return &Router{llm: client, intents: defaultIntents}
}

// defaultIntents is the allow list fed to the classifier.
var defaultIntents = []llm.IntentDef{
	{Name: "greeting", Description: "salutation or small talk opening", Examples: []string{"hi", "good morning"}},
	{Name: "goodbye", Description: "closing the conversation", Examples: []string{"bye", "thanks, that's all"}},
	{Name: "faq", Description: "question about the business: hours, location, services, prices"},
	{Name: "booking", Description: "check, create, change, or cancel an appointment"},
	{Name: "order.start", Description: "start or add to a takeaway order", Examples: []string{"two margheritas please"}},
	{Name: "order.modify", Description: "change an order in progress"},
	{Name: "order.cancel", Description: "cancel an order"},
	{Name: "order.confirm", Description: "confirm an order", Examples: []string{"yes, confirm"}},
	{Name: "menu.inquiry", Description: "ask what is on the menu"},
	{Name: "payment.status", Description: "ask about a payment or payment link"},
	{Name: "handoff", Description: "explicit request for a human"},
	{Name: IntentUnknown, Description: "anything else"},
}

// Classify runs the collaborator and applies the confidence policy and module
// mapping. threshold <= 0 falls back to the policy default.
func (r *Router) Classify(ctx context.Context, systemPrompt, text string, history []llm.ChatMessage, threshold float64) Decision {
	if r.llm == nil || !r.llm.IsConfigured() {
		return failSafe("classifier not configured")
	}

	res, err := r.llm.ClassifyIntent(ctx, llm.ClassifyRequest{
		SystemPrompt:        systemPrompt,
		Intents:             r.intents,
		History:             history,
		UserText:            text,
		ConfidenceThreshold: threshold,
	})
	if err != nil {
		log.Warn().Err(err).Msg("intent classification failed, failing safe")
		return failSafe("classification failed")
	}

	d := Decision{
		Intent:           res.Intent,
		Confidence:       res.Confidence,
		SuggestedModules: res.SuggestedModules,
		ClassifierCalled: true,
	}

	// handoff and unknown force a handoff independent of confidence.
	if d.Intent == ModuleHandoff || d.Intent == IntentUnknown || d.Intent == "" {
		if d.Intent == "" {
			d.Intent = IntentUnknown
		}
		d.RequiresHandoff = true
		d.HandoffReason = "intent " + d.Intent
	} else if cp := policy.CheckConfidence(d.Confidence, threshold); cp.Handoff {
		d.RequiresHandoff = true
		d.HandoffReason = cp.Reason
	}

	// A forced handoff overrides whatever the classifier suggested.
	if d.RequiresHandoff {
		d.SuggestedModules = []string{ModuleHandoff}
	} else if len(d.SuggestedModules) == 0 {
		d.SuggestedModules = ModulesFor(d.Intent)
	}
	return d
}

// failSafe is the verdict for any collaborator failure.
func failSafe(reason string) Decision {
	return Decision{
		Intent:           IntentUnknown,
		Confidence:       0,
		SuggestedModules: []string{ModuleHandoff},
		RequiresHandoff:  true,
		HandoffReason:    reason,
	}
}

// ModulesFor is the fixed intent-to-module lookup applied when the classifier
// supplied no explicit suggestions. The order.*, menu.* and payment.*
// families all route to the ordering module.
func ModulesFor(intentName string) []string {
	switch intentName {
	case "greeting":
		return []string{ModuleGreeting}
	case "goodbye":
		return []string{ModuleGoodbye}
	case "faq":
		return []string{ModuleFAQ}
	case "booking":
		return []string{ModuleBooking}
	case ModuleHandoff, IntentUnknown:
		return []string{ModuleHandoff}
	}
	if strings.HasPrefix(intentName, "order.") ||
		strings.HasPrefix(intentName, "menu.") ||
		strings.HasPrefix(intentName, "payment.") {
		return []string{ModuleTakeaway}
	}
	return []string{ModuleHandoff}
}
