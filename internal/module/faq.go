package module

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/collab"
	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/intent"
	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/llm"
)

// maxAnswerTokens bounds one FAQ completion.
const maxAnswerTokens = 300

// FAQHandler answers questions from the tenant's FAQ corpus. Before spending
// any budget it runs an answerability pre-filter: if the question shares no
// meaningful term with the corpus, the handler declines and lets the
// dispatch chain fall through rather than generating a guess.
type FAQHandler struct {
	LLM     llm.Client
	Budget  collab.Budget
	Model   string // pricing lookup for the budget reservation
	Timeout time.Duration
}

func (FAQHandler) Name() string { return intent.ModuleFAQ }

func (h FAQHandler) Handle(ctx context.Context, req *Request) (Result, error) {
	corpus := faqCorpus(req)
	if corpus == "" {
		return Result{}, nil
	}
	if h.LLM == nil || !h.LLM.IsConfigured() {
		return Result{}, nil
	}
	if !answerable(req.Text, corpus) {
		return Result{}, nil
	}

	estimate := llm.EstimateTokens(corpus) + llm.EstimateTokens(req.Text) + maxAnswerTokens
	if h.Budget != nil {
		if err := h.Budget.RequireBudget(ctx, req.Tenant.ID, llm.CostMicros(h.Model, estimate, maxAnswerTokens)); err != nil {
			var be *collab.BudgetExceededError
			if errors.As(err, &be) {
				log.Warn().Str("tenant_id", req.Tenant.ID).Msg("faq answer skipped, budget exhausted")
				return Result{
					ReplyText:        "I can't answer that right now, but a member of the team will follow up with you.",
					HandoffTriggered: true,
					HandoffReason:    "budget exceeded",
				}, nil
			}
			return Result{}, err
		}
	}

	callCtx := ctx
	if h.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, h.Timeout)
		defer cancel()
	}
	res, err := h.LLM.GenerateResponse(callCtx, llm.GenerateRequest{
		SystemPrompt:    faqSystemPrompt(req.Tenant.SystemPrompt, corpus),
		History:         req.History,
		UserText:        req.Text,
		MaxOutputTokens: maxAnswerTokens,
	})
	if err != nil {
		return Result{}, err
	}
	if h.Budget != nil {
		h.Budget.RecordCost(ctx, req.Tenant.ID, llm.CostMicros(res.ModelUsed, res.InputTokens, res.OutputTokens), res.InputTokens, res.OutputTokens)
	}
	text := strings.TrimSpace(res.Text)
	if text == "" {
		return Result{}, nil
	}
	return Result{ReplyText: text}, nil
}

// faqCorpus joins the tenant FAQ with the industry-shared one.
func faqCorpus(req *Request) string {
	if req.Tenant == nil {
		return ""
	}
	parts := make([]string, 0, 2)
	if t := strings.TrimSpace(req.Tenant.FAQText); t != "" {
		parts = append(parts, t)
	}
	if t := strings.TrimSpace(req.Tenant.IndustryFAQText); t != "" {
		parts = append(parts, t)
	}
	return strings.Join(parts, "\n\n")
}

// stopwords excluded from the overlap check.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "can": true, "do": true,
	"for": true, "how": true, "i": true, "in": true, "is": true, "it": true,
	"me": true, "my": true, "of": true, "on": true, "or": true, "the": true,
	"to": true, "what": true, "when": true, "where": true, "you": true,
	"your": true,
}

// answerable reports whether at least one meaningful question term appears
// in the corpus.
func answerable(question, corpus string) bool {
	lc := strings.ToLower(corpus)
	for _, w := range strings.Fields(strings.ToLower(question)) {
		w = strings.Trim(w, ".,!?\"'")
		if len(w) < 3 || stopwords[w] {
			continue
		}
		if strings.Contains(lc, w) {
			return true
		}
	}
	return false
}

func faqSystemPrompt(tenantPrompt, corpus string) string {
	var b strings.Builder
	if tenantPrompt != "" {
		b.WriteString(tenantPrompt)
		b.WriteString("\n\n")
	}
	b.WriteString("Answer the customer's question using only the FAQ below. ")
	b.WriteString("If the FAQ does not cover the question, say you don't know and offer to pass the question to the team.\n\nFAQ:\n")
	b.WriteString(corpus)
	return b.String()
}
