// Package engine runs the per-message pipeline: rate limit, session
// resolution, input policy, intent classification, entitlement-gated module
// dispatch, output scrub, and the audit record. One inbound message in, one
// reply out; everything that can go wrong past validation degrades into a
// handoff or a safe reply rather than an error to the contact.
package engine

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/collab"
	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/config"
	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/domain"
	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/gate"
	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/intent"
	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/llm"
	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/module"
	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/observability"
	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/policy"
	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/ratelimit"
	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/session"
)

// InboundMessage is one message entering the pipeline. The transport layer
// has already resolved the tenant from its webhook token.
type InboundMessage struct {
	Channel domain.Channel
	From    string // channel-native contact address
	Text    string
	Raw     string // original provider payload, stored verbatim on the turn
}

// Reply is the pipeline's answer for the transport layer.
type Reply struct {
	Text          string  `json:"text"`
	Status        string  `json:"status"` // success|handoff|blocked|error
	Intent        string  `json:"intent,omitempty"`
	Confidence    float64 `json:"confidence,omitempty"`
	Handoff       bool    `json:"handoff,omitempty"`
	HandoffReason string  `json:"handoff_reason,omitempty"`
	BlockedBy     string  `json:"blocked_by,omitempty"`
	SessionID     string  `json:"session_id,omitempty"`
	SessionEnded  bool    `json:"session_ended,omitempty"`
	RunID         string  `json:"engine_run_id,omitempty"`
	InputTokens   int     `json:"input_tokens,omitempty"`
	OutputTokens  int     `json:"output_tokens,omitempty"`

	// RetryIn is populated on rate-limit blocks.
	RetryIn time.Duration `json:"retry_in,omitempty"`
}

// Engine wires the pipeline stages together.
type Engine struct {
	DB       *gorm.DB
	Limiter  *ratelimit.Limiter
	Sessions *session.Manager
	Router   *intent.Router
	Modules  *module.Registry
	Budget   collab.Budget
	Cfg      config.EngineConfig
	LLMModel string

	tracker tracker
}

func New(db *gorm.DB, limiter *ratelimit.Limiter, sessions *session.Manager, router *intent.Router, registry *module.Registry, budget collab.Budget, cfg config.EngineConfig, llmModel string) *Engine {
	if budget == nil {
		budget = collab.UnlimitedBudget{}
	}
	return &Engine{
		DB:       db,
		Limiter:  limiter,
		Sessions: sessions,
		Router:   router,
		Modules:  registry,
		Budget:   budget,
		Cfg:      cfg,
		LLMModel: llmModel,
		tracker:  tracker{db: db},
	}
}

// classifyOutputTokens is the output allowance assumed when estimating the
// cost of a classifier call for the budget check.
const classifyOutputTokens = 50

// channelCapability maps an inbound channel to the capability gating it.
func channelCapability(c domain.Channel) gate.Capability {
	switch c {
	case domain.ChannelSMS:
		return gate.CapSMS
	case domain.ChannelWhatsApp:
		return gate.CapWhatsApp
	case domain.ChannelVoice:
		return gate.CapVoice
	}
	return gate.Capability(string(c))
}

// Process runs one message through the pipeline. An error return means the
// input never entered the pipeline (validation); every later failure is
// absorbed into the reply and the run record.
func (e *Engine) Process(ctx context.Context, tenant *domain.Tenant, in InboundMessage) (reply *Reply, err error) {
	if tenant == nil {
		return nil, ErrTenantMissing
	}
	if !in.Channel.Valid() {
		return nil, ErrChannelInvalid
	}
	if strings.TrimSpace(in.From) == "" {
		return nil, ErrContactMissing
	}
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	if max := e.Cfg.MaxPromptRunes; max > 0 && utf8.RuneCountInString(text) > max {
		return nil, ErrMessageTooLong
	}

	ctx, span := otel.Tracer("engine").Start(ctx, "engine.Process",
		trace.WithAttributes(
			attribute.String("tenant.id", tenant.ID),
			attribute.String("channel", string(in.Channel)),
		))
	defer span.End()

	rec := newRunRecord(tenant.ID)
	defer e.tracker.finish(ctx, rec)
	defer func() {
		if reply != nil {
			reply.RunID = rec.ID
			reply.InputTokens = rec.InputTokens
			reply.OutputTokens = rec.OutputTokens
		}
	}()

	// The pipeline itself never panics out to the transport layer.
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("tenant_id", tenant.ID).Msg("engine panic recovered")
			rec.Status = domain.RunError
			rec.BlockReason = "internal panic"
			reply = &Reply{Text: InternalReply, Status: domain.RunError, SessionID: rec.SessionID}
			err = nil
		}
	}()

	snapshot := gate.SnapshotFrom(tenant)
	canUse := func(c gate.Capability) gate.Result { return gate.CanUse(c, snapshot) }

	// Channel entitlement comes first: a tenant not cleared for the channel
	// never consumes rate-limit or LLM budget.
	if g := canUse(channelCapability(in.Channel)); !g.Allowed {
		rec.Status = domain.RunBlocked
		rec.BlockReason = g.BlockedBy + ": " + g.Reason
		return &Reply{
			Text:      "This channel isn't available right now.",
			Status:    domain.RunBlocked,
			BlockedBy: g.BlockedBy,
		}, nil
	}

	limit := tenant.RateLimitPerMin
	if limit <= 0 {
		limit = e.Cfg.DefaultRateLimitPerMin
	}
	if rl := e.Limiter.Admit(tenant.ID, limit); !rl.Allowed {
		observability.ObserveRateLimited()
		rec.Status = domain.RunBlocked
		rec.BlockReason = rl.Reason
		return &Reply{
			Text:      "You're sending messages a little too quickly. Give it a moment and try again.",
			Status:    domain.RunBlocked,
			BlockedBy: rl.Reason,
			RetryIn:   rl.ResetIn,
		}, nil
	}

	sess, _, err := e.Sessions.Resolve(ctx, tenant.ID, in.Channel, in.From)
	if err != nil {
		log.Error().Err(err).Str("tenant_id", tenant.ID).Msg("session resolution failed")
		rec.BlockReason = "session resolution failed"
		return &Reply{Text: InternalReply, Status: domain.RunError}, nil
	}
	rec.SessionID = sess.ID

	if _, err := e.Sessions.AppendTurn(ctx, sess.ID, domain.RoleUser, in.Channel, text, in.Raw); err != nil {
		log.Error().Err(err).Str("session_id", sess.ID).Msg("user turn write failed")
	}

	rules := policy.ParseRules(tenant.PolicyRules)
	maxTurns := rules.MaxTurns
	if maxTurns <= 0 {
		maxTurns = e.Cfg.MaxTurnsPerSession
	}
	turnCount, err := e.Sessions.TurnCount(ctx, sess.ID)
	if err != nil {
		log.Warn().Err(err).Str("session_id", sess.ID).Msg("turn count failed")
	}

	meta := session.Metadata(sess)

	if screened := policy.ScreenInput(text, int(turnCount), maxTurns); !screened.Passed {
		meta["handoffReason"] = screened.Reason
		return e.dispatch(ctx, tenant, sess, in, text, nil, meta, rec, intent.Decision{
			Intent:           intent.ModuleHandoff,
			SuggestedModules: []string{intent.ModuleHandoff},
			RequiresHandoff:  true,
			HandoffReason:    screened.Reason,
		}, "policy", rules)
	}

	threshold := rules.ConfidenceThreshold
	if threshold <= 0 {
		threshold = tenant.ConfidenceThreshold
	}
	if threshold <= 0 {
		threshold = e.Cfg.DefaultConfidence
	}

	history, err := e.Sessions.Recent(ctx, sess.ID)
	if err != nil {
		log.Warn().Err(err).Str("session_id", sess.ID).Msg("history load failed")
	}
	chatHistory := toChatHistory(history)

	// The classifier is a billable call: check the budget before it and only
	// charge the run when a call actually happened.
	inputTokens := llm.EstimateTokens(text)
	estimate := llm.CostMicros(e.LLMModel, inputTokens, classifyOutputTokens)
	if err := e.Budget.RequireBudget(ctx, tenant.ID, estimate); err != nil {
		var exceeded *collab.BudgetExceededError
		if errors.As(err, &exceeded) {
			rec.Status = domain.RunBlocked
			rec.BlockReason = "budget: cost budget exhausted"
			return &Reply{
				Text:      "We can't take automated messages right now. Please try again later.",
				Status:    domain.RunBlocked,
				BlockedBy: "budget",
				SessionID: sess.ID,
			}, nil
		}
		log.Error().Err(err).Str("tenant_id", tenant.ID).Msg("budget check failed")
	}

	decision := e.Router.Classify(ctx, tenant.SystemPrompt, text, chatHistory, threshold)

	rec.Intent = decision.Intent
	rec.Confidence = decision.Confidence
	if decision.ClassifierCalled {
		rec.Model = e.LLMModel
		rec.InputTokens = inputTokens
		rec.CostMicros = llm.CostMicros(e.LLMModel, rec.InputTokens, 0)
	}

	if decision.RequiresHandoff {
		meta["handoffReason"] = decision.HandoffReason
	}
	return e.dispatch(ctx, tenant, sess, in, text, chatHistory, meta, rec, decision, "classifier", rules)
}

// dispatch runs the module chain and finishes the turn: metadata merge,
// output scrub, assistant turn, session close.
func (e *Engine) dispatch(ctx context.Context, tenant *domain.Tenant, sess *domain.Session, in InboundMessage, text string, history []llm.ChatMessage, meta map[string]any, rec *runRecord, decision intent.Decision, handoffTag string, rules policy.Rules) (*Reply, error) {
	snapshot := gate.SnapshotFrom(tenant)
	req := &module.Request{
		Tenant:     tenant,
		Session:    sess,
		Channel:    in.Channel,
		Text:       text,
		Intent:     decision.Intent,
		Confidence: decision.Confidence,
		History:    history,
		Metadata:   meta,
		CanUse:     func(c gate.Capability) gate.Result { return gate.CanUse(c, snapshot) },
	}
	rec.Modules = decision.SuggestedModules

	res := e.Modules.Dispatch(ctx, decision.SuggestedModules, req)

	if err := e.Sessions.MergeMetadata(ctx, sess, res.MetadataUpdates); err != nil {
		log.Error().Err(err).Str("session_id", sess.ID).Msg("metadata merge failed")
	}

	replyText := policy.ScrubOutput(res.ReplyText, rules.ScrubDisabled)
	if rec.Model != "" {
		rec.OutputTokens = llm.EstimateTokens(replyText)
		rec.CostMicros = llm.CostMicros(rec.Model, rec.InputTokens, rec.OutputTokens)
		e.Budget.RecordCost(ctx, tenant.ID, rec.CostMicros, rec.InputTokens, rec.OutputTokens)
	}

	if _, err := e.Sessions.AppendTurn(ctx, sess.ID, domain.RoleAssistant, in.Channel, replyText, ""); err != nil {
		log.Error().Err(err).Str("session_id", sess.ID).Msg("assistant turn write failed")
	}

	if res.EndSession {
		if err := e.Sessions.Close(ctx, sess); err != nil {
			log.Error().Err(err).Str("session_id", sess.ID).Msg("session close failed")
		}
	}

	reply := &Reply{
		Text:         replyText,
		Status:       domain.RunSuccess,
		Intent:       decision.Intent,
		Confidence:   decision.Confidence,
		SessionID:    sess.ID,
		SessionEnded: res.EndSession,
	}
	switch {
	case res.HandoffTriggered:
		reply.Status = domain.RunHandoff
		reply.Handoff = true
		reply.HandoffReason = res.HandoffReason
		tag := "module"
		if decision.RequiresHandoff {
			tag = handoffTag
		}
		observability.ObserveHandoff(tag)
	case res.BlockedBy != "":
		reply.Status = domain.RunBlocked
		reply.BlockedBy = res.BlockedBy
	}
	rec.Status = reply.Status
	if res.HandoffTriggered {
		rec.BlockReason = res.HandoffReason
	} else if res.BlockedBy != "" {
		rec.BlockReason = res.BlockedBy + ": " + res.BlockReason
	}
	return reply, nil
}

func toChatHistory(turns []domain.Turn) []llm.ChatMessage {
	out := make([]llm.ChatMessage, 0, len(turns))
	for _, t := range turns {
		out = append(out, llm.ChatMessage{Role: t.Role, Content: t.Content})
	}
	return out
}
