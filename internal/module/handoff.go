package module

import (
	"context"

	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/intent"
)

// HandoffHandler is the terminal escalation module: it tells the contact a
// person will take over and marks the run as handed off. It always produces
// a result, so every dispatch chain that ends here terminates.
type HandoffHandler struct{}

func (HandoffHandler) Name() string { return intent.ModuleHandoff }

func (HandoffHandler) Handle(_ context.Context, req *Request) (Result, error) {
	reason := req.MetaString("handoffReason")
	if reason == "" {
		reason = "escalation requested"
	}
	return Result{
		ReplyText:        "I'm passing this over to a member of the team, who will get back to you shortly.",
		HandoffTriggered: true,
		HandoffReason:    reason,
	}, nil
}
