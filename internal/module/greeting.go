package module

import (
	"context"

	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/intent"
)

// GreetingHandler answers salutations with a templated welcome. Greetings
// never spend LLM budget.
type GreetingHandler struct{}

func (GreetingHandler) Name() string { return intent.ModuleGreeting }

func (GreetingHandler) Handle(_ context.Context, req *Request) (Result, error) {
	name := ""
	if req.Tenant != nil {
		name = req.Tenant.Name
	}
	reply := "Hi there! How can I help you today?"
	if name != "" {
		reply = "Hi, welcome to " + name + "! How can I help you today?"
	}
	return Result{ReplyText: reply}, nil
}
