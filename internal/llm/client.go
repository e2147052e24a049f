// Package llm defines the generation/classification collaborator contract
// the engine consumes, plus provider implementations.
package llm

import (
	"context"
	"encoding/json"
)

// ChatMessage is one turn of conversation context fed to the model.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// IntentDef describes one allow-listed intent for classification. Description
// and Examples are optional hints for the classifier.
type IntentDef struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Examples    []string `json:"examples,omitempty"`
}

// ClassifyRequest carries everything the classifier sees.
type ClassifyRequest struct {
	SystemPrompt        string
	Intents             []IntentDef
	History             []ChatMessage // last turns, most recent last
	UserText            string
	ConfidenceThreshold float64
}

// ClassifyResult is the raw classifier verdict before confidence policy.
type ClassifyResult struct {
	Intent           string   `json:"intent"`
	Confidence       float64  `json:"confidence"`
	Rationale        string   `json:"rationale,omitempty"`
	SuggestedModules []string `json:"suggested_modules,omitempty"`
}

// GenerateRequest is a free-text generation call.
type GenerateRequest struct {
	SystemPrompt    string
	History         []ChatMessage
	UserText        string
	MaxOutputTokens int
	Temperature     float64
}

// GenerateResult carries the generated text and its cost counters.
type GenerateResult struct {
	Text         string
	InputTokens  int
	OutputTokens int
	ModelUsed    string
	FinishReason string
}

// FunctionDef declares one callable function for function-calling chat.
type FunctionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

// FunctionCall is one function invocation the model requested.
type FunctionCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// FunctionCallOptions tunes a function-calling completion.
type FunctionCallOptions struct {
	MaxOutputTokens int
	Temperature     float64
}

// FunctionCallResult is the outcome of a function-calling completion: plain
// content, requested calls, or both.
type FunctionCallResult struct {
	Content       string
	FunctionCalls []FunctionCall
	InputTokens   int
	OutputTokens  int
	ModelUsed     string
}

// Client is the collaborator interface the pipeline depends on. A nil or
// unconfigured client makes the intent router fail safe to handoff.
type Client interface {
	// IsConfigured reports whether the provider can actually be called.
	IsConfigured() bool

	// ClassifyIntent maps user text onto one of the allow-listed intents.
	ClassifyIntent(ctx context.Context, req ClassifyRequest) (*ClassifyResult, error)

	// GenerateResponse produces free-text output for a module.
	GenerateResponse(ctx context.Context, req GenerateRequest) (*GenerateResult, error)

	// ChatCompletionWithFunctions runs a function-calling completion for the
	// conversational-ordering handler.
	ChatCompletionWithFunctions(ctx context.Context, messages []ChatMessage, fns []FunctionDef, opts FunctionCallOptions) (*FunctionCallResult, error)
}
