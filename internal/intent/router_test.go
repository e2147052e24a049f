package intent

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/llm"
)

// ----- Fake classifier -----

type fakeLLM struct {
	configured bool
	result     *llm.ClassifyResult
	err        error

	gotReq llm.ClassifyRequest
}

func (f *fakeLLM) IsConfigured() bool { return f.configured }

func (f *fakeLLM) ClassifyIntent(_ context.Context, req llm.ClassifyRequest) (*llm.ClassifyResult, error) {
	f.gotReq = req
	return f.result, f.err
}

func (f *fakeLLM) GenerateResponse(context.Context, llm.GenerateRequest) (*llm.GenerateResult, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeLLM) ChatCompletionWithFunctions(context.Context, []llm.ChatMessage, []llm.FunctionDef, llm.FunctionCallOptions) (*llm.FunctionCallResult, error) {
	return nil, errors.New("not implemented")
}

// ----- Tests -----

func TestClassify_FailsSafeWhenNotConfigured(t *testing.T) {
	r := NewRouter(&fakeLLM{configured: false})
	d := r.Classify(context.Background(), "", "hello", nil, 0.65)

	if d.Intent != IntentUnknown || d.Confidence != 0 || !d.RequiresHandoff {
		t.Fatalf("got %+v, want fail-safe unknown/0/handoff", d)
	}
	if d.ClassifierCalled {
		t.Fatal("no call happened, ClassifierCalled must be false")
	}
}

func TestClassify_FailsSafeOnError(t *testing.T) {
	r := NewRouter(&fakeLLM{configured: true, err: errors.New("timeout")})
	d := r.Classify(context.Background(), "", "hello", nil, 0.65)

	if d.Intent != IntentUnknown || !d.RequiresHandoff {
		t.Fatalf("got %+v, want fail-safe", d)
	}
	if d.ClassifierCalled {
		t.Fatal("failed call must not read as billable")
	}
}

func TestClassify_LowConfidenceForcesHandoff(t *testing.T) {
	f := &fakeLLM{configured: true, result: &llm.ClassifyResult{Intent: "faq", Confidence: 0.4}}
	r := NewRouter(f)

	d := r.Classify(context.Background(), "", "what are your hours?", nil, 0.65)
	if !d.RequiresHandoff {
		t.Fatal("confidence below threshold must force handoff")
	}
	if d.Intent != "faq" {
		t.Fatalf("intent label must be preserved, got %q", d.Intent)
	}
	if d.HandoffReason != "low confidence (0.40 < 0.65)" {
		t.Fatalf("reason = %q", d.HandoffReason)
	}
	if !d.ClassifierCalled {
		t.Fatal("a completed call is billable even when it hands off")
	}
}

func TestClassify_LiteralHandoffIgnoresConfidence(t *testing.T) {
	f := &fakeLLM{configured: true, result: &llm.ClassifyResult{Intent: "handoff", Confidence: 0.99}}
	r := NewRouter(f)

	d := r.Classify(context.Background(), "", "human please", nil, 0.65)
	if !d.RequiresHandoff {
		t.Fatal("literal handoff intent must hand off even at high confidence")
	}
}

func TestClassify_TrustsSuggestedModules(t *testing.T) {
	f := &fakeLLM{configured: true, result: &llm.ClassifyResult{
		Intent:           "faq",
		Confidence:       0.9,
		SuggestedModules: []string{ModuleContact, ModuleFAQ},
	}}
	r := NewRouter(f)

	d := r.Classify(context.Background(), "", "hi", nil, 0.65)
	if !reflect.DeepEqual(d.SuggestedModules, []string{ModuleContact, ModuleFAQ}) {
		t.Fatalf("suggested modules not trusted: %v", d.SuggestedModules)
	}
}

func TestClassify_PassesHistoryAndThreshold(t *testing.T) {
	f := &fakeLLM{configured: true, result: &llm.ClassifyResult{Intent: "greeting", Confidence: 0.9}}
	r := NewRouter(f)

	hist := []llm.ChatMessage{{Role: "user", Content: "earlier"}}
	r.Classify(context.Background(), "sys", "hi", hist, 0.7)

	if f.gotReq.ConfidenceThreshold != 0.7 {
		t.Fatalf("threshold = %v", f.gotReq.ConfidenceThreshold)
	}
	if len(f.gotReq.History) != 1 || f.gotReq.History[0].Content != "earlier" {
		t.Fatalf("history not forwarded: %+v", f.gotReq.History)
	}
	if len(f.gotReq.Intents) == 0 {
		t.Fatal("allow-listed intents must be forwarded")
	}
}

func TestModulesFor(t *testing.T) {
	cases := []struct {
		intent string
		want   []string
	}{
		{"greeting", []string{ModuleGreeting}},
		{"goodbye", []string{ModuleGoodbye}},
		{"faq", []string{ModuleFAQ}},
		{"booking", []string{ModuleBooking}},
		{"handoff", []string{ModuleHandoff}},
		{IntentUnknown, []string{ModuleHandoff}},
		{"order.start", []string{ModuleTakeaway}},
		{"order.confirm", []string{ModuleTakeaway}},
		{"menu.inquiry", []string{ModuleTakeaway}},
		{"payment.status", []string{ModuleTakeaway}},
		{"nonsense", []string{ModuleHandoff}},
	}
	for _, c := range cases {
		if got := ModulesFor(c.intent); !reflect.DeepEqual(got, c.want) {
			t.Fatalf("ModulesFor(%q) = %v, want %v", c.intent, got, c.want)
		}
	}
}
