package policy

import (
	"strings"
	"testing"
)

func TestScreenInput_HighRiskLegal(t *testing.T) {
	res := ScreenInput("I want to sue you", 1, 100)
	if res.Passed {
		t.Fatal("legal threat must not pass")
	}
	if res.Action != ActionHandoff {
		t.Fatalf("action = %q, want handoff", res.Action)
	}
	if !strings.Contains(res.Reason, "high-risk") {
		t.Fatalf("reason = %q, want high-risk tag", res.Reason)
	}
}

func TestScreenInput_Ordering(t *testing.T) {
	// Abuse is checked before the legal pattern; the first match wins.
	res := ScreenInput("this is fucking ridiculous, I'll get a lawyer", 1, 100)
	if res.Passed || res.Reason != ReasonAbuse {
		t.Fatalf("got %+v, want abuse (first match short-circuits)", res)
	}
}

func TestScreenInput_Categories(t *testing.T) {
	cases := []struct {
		text   string
		reason string
	}{
		{"I want to hurt myself", ReasonSelfHarm},
		{"I'm filing a chargeback", ReasonFraud},
		{"this is an emergency, someone is hurt", ReasonEmergency},
	}
	for _, c := range cases {
		res := ScreenInput(c.text, 1, 100)
		if res.Passed || res.Reason != c.reason {
			t.Fatalf("%q: got %+v, want reason %q", c.text, res, c.reason)
		}
	}
}

func TestScreenInput_TurnCeiling(t *testing.T) {
	if res := ScreenInput("hello", 199, 200); !res.Passed {
		t.Fatalf("below ceiling should pass: %+v", res)
	}
	res := ScreenInput("hello", 200, 200)
	if res.Passed {
		t.Fatal("at ceiling must force handoff")
	}
	if !strings.Contains(res.Reason, ReasonTurnLimit) {
		t.Fatalf("reason = %q", res.Reason)
	}
}

func TestScreenInput_CleanTextPasses(t *testing.T) {
	res := ScreenInput("can I order two pizzas for 7pm?", 3, 200)
	if !res.Passed {
		t.Fatalf("clean text blocked: %+v", res)
	}
}

func TestScrubOutput_RewritesDisclosure(t *testing.T) {
	in := "As an AI language model, I cannot taste food. Your order is ready."
	out := ScrubOutput(in, false)
	if strings.Contains(strings.ToLower(out), "language model") {
		t.Fatalf("disclosure survived: %q", out)
	}
	if !strings.Contains(out, "Your order is ready.") {
		t.Fatalf("unrelated text must survive: %q", out)
	}
}

func TestScrubOutput_VendorLeak(t *testing.T) {
	out := ScrubOutput("This reply was powered by OpenAI GPT-4.", false)
	low := strings.ToLower(out)
	if strings.Contains(low, "openai") || strings.Contains(low, "gpt") {
		t.Fatalf("vendor name survived: %q", out)
	}
}

func TestScrubOutput_Idempotent(t *testing.T) {
	in := "I'm a chatbot built on ChatGPT. Anyway, see you at 7."
	once := ScrubOutput(in, false)
	twice := ScrubOutput(once, false)
	if once != twice {
		t.Fatalf("second pass changed text:\n once=%q\ntwice=%q", once, twice)
	}
}

func TestScrubOutput_DisabledPassesThrough(t *testing.T) {
	in := "I am a bot."
	if out := ScrubOutput(in, true); out != in {
		t.Fatalf("disabled scrub must not rewrite: %q", out)
	}
}

func TestCheckConfidence(t *testing.T) {
	res := CheckConfidence(0.42, 0.65)
	if !res.Handoff {
		t.Fatal("below threshold must hand off")
	}
	if res.Reason != "low confidence (0.42 < 0.65)" {
		t.Fatalf("reason = %q", res.Reason)
	}

	if res := CheckConfidence(0.65, 0.65); res.Handoff {
		t.Fatal("at threshold must not hand off")
	}

	// Zero threshold falls back to the default.
	if res := CheckConfidence(0.5, 0); !res.Handoff {
		t.Fatal("default threshold 0.65 should reject 0.5")
	}
}

func TestParseRules_Defaults(t *testing.T) {
	for _, blob := range []string{"", "{bad json", `{"max_turns": -4}`} {
		r := ParseRules(blob)
		if r.ScrubDisabled || r.ConfidenceThreshold != 0 || r.MaxTurns != 0 {
			t.Fatalf("blob %q: got %+v, want zero defaults", blob, r)
		}
	}
}

func TestParseRules_Values(t *testing.T) {
	r := ParseRules(`{"scrub_disabled":true,"confidence_threshold":0.8,"max_turns":50}`)
	if !r.ScrubDisabled || r.ConfidenceThreshold != 0.8 || r.MaxTurns != 50 {
		t.Fatalf("got %+v", r)
	}
}
