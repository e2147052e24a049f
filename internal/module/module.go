// Package module hosts the business-capability handlers the engine
// dispatches to after intent classification. Handlers are registered under
// fixed names and tried in the order the classifier suggested; the first
// non-empty result wins. A handler that panics or errors is treated as
// having produced nothing, so one faulty module never takes down a run.
package module

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/domain"
	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/gate"
	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/llm"
)

// Request is the per-turn payload handed to each handler. Metadata is the
// decoded session scratch space; handlers return changes through
// Result.MetadataUpdates rather than mutating it.
type Request struct {
	Tenant     *domain.Tenant
	Session    *domain.Session
	Channel    domain.Channel
	Text       string
	Intent     string
	Confidence float64
	History    []llm.ChatMessage
	Metadata   map[string]any

	// CanUse is the entitlement check bound to this tenant.
	CanUse func(gate.Capability) gate.Result
}

// MetaString reads a string value from the session metadata.
func (r *Request) MetaString(key string) string {
	if v, ok := r.Metadata[key].(string); ok {
		return v
	}
	return ""
}

// MetaInt reads an integer value from the session metadata. JSON decoding
// yields float64, so both forms are accepted.
func (r *Request) MetaInt(key string) int {
	switch v := r.Metadata[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// Result is one handler's contribution to the turn.
type Result struct {
	ReplyText        string
	HandoffTriggered bool
	HandoffReason    string
	// BlockedBy and BlockReason carry the gate denial for the audit record;
	// the customer only ever sees ReplyText.
	BlockedBy   string
	BlockReason string
	EndSession  bool
	// MetadataUpdates is shallow-merged into the session metadata after the
	// run; a nil value deletes the key.
	MetadataUpdates map[string]any
}

// Empty reports whether the handler produced nothing actionable.
func (r Result) Empty() bool {
	return r.ReplyText == "" && !r.HandoffTriggered
}

// Handler is one registered business capability.
type Handler interface {
	Name() string
	Handle(ctx context.Context, req *Request) (Result, error)
}

// FallbackReply is returned when no suggested module produces output. The
// fallback always hands off: a turn no module could answer needs a human.
const FallbackReply = "Sorry, I didn't quite catch that. Let me connect you with a member of the team."

// fallbackHandoffReason tags fallback handoffs on the run record.
const fallbackHandoffReason = "no module produced a result"

// Registry holds the named handlers and dispatches to them.
type Registry struct {
	handlers map[string]Handler
}

func NewRegistry(hs ...Handler) *Registry {
	r := &Registry{handlers: make(map[string]Handler, len(hs))}
	for _, h := range hs {
		r.Register(h)
	}
	return r
}

// Register adds or replaces a handler under its name.
func (g *Registry) Register(h Handler) {
	g.handlers[h.Name()] = h
}

// Dispatch tries the named handlers in order and returns the first non-empty
// result. Unknown names are skipped. Panics and errors inside a handler are
// logged and treated as an empty result. When every handler comes back
// empty, a hard-coded fallback reply is returned and a handoff is triggered
// so the contact never gets silence.
func (g *Registry) Dispatch(ctx context.Context, names []string, req *Request) Result {
	for _, name := range names {
		h, ok := g.handlers[name]
		if !ok {
			log.Warn().Str("module", name).Msg("no handler registered for suggested module")
			continue
		}
		res, err := g.invoke(ctx, h, req)
		if err != nil {
			log.Error().Err(err).Str("module", name).Msg("module handler failed")
			continue
		}
		if !res.Empty() {
			return res
		}
	}
	return Result{ReplyText: FallbackReply, HandoffTriggered: true, HandoffReason: fallbackHandoffReason}
}

// invoke runs one handler with panic containment.
func (g *Registry) invoke(ctx context.Context, h Handler, req *Request) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("module", h.Name()).Msg("module handler panicked")
			res = Result{}
			err = nil
		}
	}()
	return h.Handle(ctx, req)
}

// blockedResult shapes a gate denial into a customer-safe reply. Gate
// reasons are operator-facing tags and never reach the contact.
func blockedResult(feature string, g gate.Result) Result {
	return Result{
		ReplyText:   "Sorry, " + feature + " isn't available right now. Is there anything else I can help with?",
		BlockedBy:   g.BlockedBy,
		BlockReason: g.Reason,
	}
}
