package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient implements Client against the OpenAI chat completion API.
// Every call runs under a per-call deadline with a small bounded retry.
type OpenAIClient struct {
	client     *openai.Client
	model      string
	timeout    time.Duration
	maxRetries uint64
}

// NewOpenAIClient builds a client. An empty apiKey yields a client whose
// IsConfigured reports false, which downstream callers must treat as
// "fail safe to handoff".
func NewOpenAIClient(apiKey, model string, timeout time.Duration, maxRetries int) *OpenAIClient {
	c := &OpenAIClient{
		model:      model,
		timeout:    timeout,
		maxRetries: uint64(maxRetries),
	}
	if apiKey != "" {
		c.client = openai.NewClient(apiKey)
	}
	return c
}

// IsConfigured reports whether an API key was supplied.
func (c *OpenAIClient) IsConfigured() bool { return c.client != nil }

// ErrNotConfigured is returned when a call is attempted without credentials.
var ErrNotConfigured = errors.New("llm: client not configured")

// ClassifyIntent asks the model for a JSON verdict over the allow-listed
// intents and parses it. Unknown or unparseable verdicts surface as errors so
// the router can fail safe.
func (c *OpenAIClient) ClassifyIntent(ctx context.Context, req ClassifyRequest) (*ClassifyResult, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	var sb strings.Builder
	sb.WriteString("Classify the user's message into exactly one of these intents:\n")
	for _, it := range req.Intents {
		sb.WriteString("- ")
		sb.WriteString(it.Name)
		if it.Description != "" {
			sb.WriteString(": ")
			sb.WriteString(it.Description)
		}
		if len(it.Examples) > 0 {
			sb.WriteString(" (e.g. ")
			sb.WriteString(strings.Join(it.Examples, "; "))
			sb.WriteString(")")
		}
		sb.WriteString("\n")
	}
	sb.WriteString(`Respond with JSON: {"intent":"...","confidence":0.0,"rationale":"...","suggested_modules":[]}`)

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt + "\n\n" + sb.String()},
	}
	for _, h := range req.History {
		messages = append(messages, openai.ChatCompletionMessage{Role: h.Role, Content: h.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.UserText})

	resp, err := c.complete(ctx, openai.ChatCompletionRequest{
		Model:          c.model,
		Messages:       messages,
		MaxTokens:      256,
		Temperature:    0,
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("llm: empty classification response")
	}

	var out ClassifyResult
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &out); err != nil {
		return nil, fmt.Errorf("llm: parse classification: %w", err)
	}
	if out.Confidence < 0 {
		out.Confidence = 0
	}
	if out.Confidence > 1 {
		out.Confidence = 1
	}
	return &out, nil
}

// GenerateResponse produces free text from the system prompt, history window,
// and user message.
func (c *OpenAIClient) GenerateResponse(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	maxTokens := req.MaxOutputTokens
	if maxTokens == 0 {
		maxTokens = 512
	}

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt},
	}
	for _, h := range req.History {
		messages = append(messages, openai.ChatCompletionMessage{Role: h.Role, Content: h.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.UserText})

	resp, err := c.complete(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: float32(req.Temperature),
	})
	if err != nil {
		return nil, err
	}

	out := &GenerateResult{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		ModelUsed:    resp.Model,
	}
	if len(resp.Choices) > 0 {
		out.Text = resp.Choices[0].Message.Content
		out.FinishReason = string(resp.Choices[0].FinishReason)
	}
	return out, nil
}

// ChatCompletionWithFunctions runs a function-calling completion.
func (c *OpenAIClient) ChatCompletionWithFunctions(ctx context.Context, msgs []ChatMessage, fns []FunctionDef, opts FunctionCallOptions) (*FunctionCallResult, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	maxTokens := opts.MaxOutputTokens
	if maxTokens == 0 {
		maxTokens = 512
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	tools := make([]openai.Tool, 0, len(fns))
	for _, f := range fns {
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        f.Name,
				Description: f.Description,
				Parameters:  json.RawMessage(f.Parameters),
			},
		})
	}

	resp, err := c.complete(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: float32(opts.Temperature),
		Tools:       tools,
	})
	if err != nil {
		return nil, err
	}

	out := &FunctionCallResult{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		ModelUsed:    resp.Model,
	}
	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		out.Content = choice.Message.Content
		for _, tc := range choice.Message.ToolCalls {
			out.FunctionCalls = append(out.FunctionCalls, FunctionCall{
				Name:      tc.Function.Name,
				Arguments: json.RawMessage(tc.Function.Arguments),
			})
		}
	}
	return out, nil
}

// complete issues one chat completion under the configured deadline, retrying
// transient failures with exponential backoff up to the retry bound.
func (c *OpenAIClient) complete(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	var resp openai.ChatCompletionResponse

	op := func() error {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		var err error
		resp, err = c.client.CreateChatCompletion(callCtx, req)
		if err == nil {
			return nil
		}
		// Context cancellation from the caller is not retryable.
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode >= 400 && apiErr.HTTPStatusCode < 500 && apiErr.HTTPStatusCode != 429 {
			return backoff.Permanent(err)
		}
		return err
	}

	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries)
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return resp, err
	}
	return resp, nil
}
