package module

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/domain"
	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/gate"
	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/intent"
	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/order"
	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/repo"
)

// Metadata keys owned by the takeaway handler.
const (
	metaOrderID      = "order.id"
	metaOrderDraft   = "order.draft"
	metaClarifyCount = "clarifyCount"
)

var (
	yesRE = regexp.MustCompile(`(?i)^\s*(yes|yep|yeah|sure|confirm|correct|ok|okay|that's right|go ahead)\b`)
	noRE  = regexp.MustCompile(`(?i)^\s*(no|nope|nah|wait|actually|change|wrong)\b`)
)

// TakeawayHandler drives the takeaway order lifecycle: item extraction from
// free text, the confirmation exchange, payment-link issuance, and the
// cancel/modify rules. Once the clarification ceiling is hit the
// conversation is handed off rather than looping.
type TakeawayHandler struct {
	DB      *gorm.DB
	Machine *order.Machine
	// ClarifyCeiling is the number of consecutive non-advancing turns
	// tolerated before handing off.
	ClarifyCeiling int
	// PickupExpiry bounds how long an unconfirmed order is honored.
	PickupExpiry time.Duration
}

func NewTakeawayHandler(db *gorm.DB, m *order.Machine) *TakeawayHandler {
	return &TakeawayHandler{DB: db, Machine: m, ClarifyCeiling: 3}
}

func (*TakeawayHandler) Name() string { return intent.ModuleTakeaway }

func (h *TakeawayHandler) Handle(ctx context.Context, req *Request) (Result, error) {
	if g := req.CanUse(gate.CapTakeaway); !g.Allowed {
		return blockedResult("ordering", g), nil
	}

	current, err := h.openOrder(ctx, req)
	if err != nil {
		return Result{}, err
	}

	switch req.Intent {
	case "menu.inquiry":
		return h.menuReply(req), nil
	case "order.cancel":
		return h.cancel(ctx, req, current)
	case "payment.status":
		return h.paymentStatus(ctx, req, current)
	case "order.modify":
		return h.modify(ctx, req, current)
	case "order.confirm":
		if current == nil {
			return h.clarify(req, "I don't see an open order for you yet. What would you like to order?")
		}
		return h.confirm(ctx, req, current)
	}

	// order.start and everything routed here mid-flow.
	if current != nil {
		switch current.Status {
		case domain.OrderPendingConfirmation:
			return h.confirmationReply(ctx, req, current)
		case domain.OrderPendingPayment:
			return h.paymentStatus(ctx, req, current)
		case domain.OrderDraft:
			return h.advanceDraft(ctx, req, current)
		}
	}
	if blob := req.MetaString(metaOrderDraft); blob != "" {
		return h.resumeDraft(ctx, req, blob)
	}
	return h.startOrder(ctx, req)
}

// openOrder resolves the order in progress and expires it on touch when it
// has sat unconfirmed past the pickup-expiry window.
func (h *TakeawayHandler) openOrder(ctx context.Context, req *Request) (*domain.Order, error) {
	o, err := h.lookupOrder(ctx, req)
	if err != nil || o == nil {
		return o, err
	}
	if h.PickupExpiry > 0 && time.Since(o.UpdatedAt) > h.PickupExpiry {
		switch o.Status {
		case domain.OrderPendingConfirmation, domain.OrderPendingPayment:
			if err := h.Machine.Expire(ctx, o); err != nil {
				if errors.Is(err, order.ErrStateConflict) {
					return o, nil
				}
				return nil, err
			}
			log.Info().Str("order_id", o.ID).Msg("stale order expired on touch")
			return nil, nil
		}
	}
	return o, nil
}

// lookupOrder resolves the order in progress: the metadata reference first,
// then the newest open order on the session.
func (h *TakeawayHandler) lookupOrder(ctx context.Context, req *Request) (*domain.Order, error) {
	if id := req.MetaString(metaOrderID); id != "" {
		o, err := repo.GetOrder(ctx, h.DB, req.Tenant.ID, id)
		if err == nil {
			return o, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return nil, err
		}
	}
	o, err := repo.FindOpenOrderBySession(ctx, h.DB, req.Tenant.ID, req.Session.ID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return o, nil
}

func (h *TakeawayHandler) menuReply(req *Request) Result {
	menu := order.ParseMenu(req.Tenant.MenuConfig)
	if len(menu.Items) == 0 {
		return Result{ReplyText: "I don't have the menu to hand right now, but tell me what you're after and I'll check."}
	}
	var b strings.Builder
	b.WriteString("Here's our menu:")
	for _, mi := range menu.Items {
		b.WriteString("\n- " + mi.Name + " (" + mi.Price.StringFixed(2) + " " + menu.Currency + ")")
	}
	b.WriteString("\nWhat can I get you?")
	return Result{ReplyText: b.String()}
}

func (h *TakeawayHandler) startOrder(ctx context.Context, req *Request) (Result, error) {
	menu := order.ParseMenu(req.Tenant.MenuConfig)
	items, rejected := order.ExtractItems(req.Text, menu)
	if len(items) == 0 {
		if len(rejected) > 0 {
			return h.clarify(req, "Sorry, we don't have "+humanJoin(rejected)+" on the menu. Would you like something else? You can ask for the menu.")
		}
		return h.clarify(req, "What would you like to order? You can ask for the menu if that helps.")
	}

	note := offMenuNote(rejected)
	name := strings.TrimSpace(req.MetaString(metaContactName))
	if name == "" {
		// No row yet: nothing is persisted until the required fields are
		// in, so the items wait in session metadata.
		return h.clarify(req, note+"What name should I put the order under?", metaOrderDraft, stashItems(items))
	}
	return h.createDraft(ctx, req, menu, items, name, note)
}

// resumeDraft continues an order parked in session metadata. The row is only
// created once the customer name is known.
func (h *TakeawayHandler) resumeDraft(ctx context.Context, req *Request, blob string) (Result, error) {
	menu := order.ParseMenu(req.Tenant.MenuConfig)

	name := strings.TrimSpace(req.MetaString(metaContactName))
	if name == "" && looksLikeName(req.Text) {
		name = strings.TrimSpace(req.Text)
	}
	if name == "" {
		// Maybe the contact restated the order instead of answering.
		if items, rejected := order.ExtractItems(req.Text, menu); len(items) > 0 {
			return h.clarify(req, offMenuNote(rejected)+"Got it. What name should I put the order under?", metaOrderDraft, stashItems(items))
		}
		return h.clarify(req, "What name should I put the order under?")
	}

	items := unstashItems(blob, menu)
	if len(items) == 0 {
		res, err := h.clarify(req, "Sorry, I lost track of that order. What would you like?")
		if err == nil {
			if res.MetadataUpdates == nil {
				res.MetadataUpdates = map[string]any{}
			}
			res.MetadataUpdates[metaOrderDraft] = nil
		}
		return res, err
	}
	return h.createDraft(ctx, req, menu, items, name, "")
}

// createDraft persists the order row, by now complete, and moves straight to
// the confirmation exchange.
func (h *TakeawayHandler) createDraft(ctx context.Context, req *Request, menu order.Menu, items []domain.OrderItem, name, note string) (Result, error) {
	pay := order.ParsePaymentSettings(req.Tenant.PaymentConfig)
	in := order.DraftInput{
		TenantID:        req.Tenant.ID,
		SessionID:       req.Session.ID,
		CustomerName:    name,
		CustomerPhone:   req.Session.ContactKey,
		Items:           items,
		Currency:        menu.Currency,
		PaymentRequired: pay.PaymentRequired(nil),
	}
	o, dup, err := h.Machine.CreateDraft(ctx, in)
	if err != nil {
		return Result{}, err
	}
	if dup {
		log.Info().Str("order_id", o.ID).Msg("duplicate order request collapsed onto existing order")
	}
	res, err := h.advanceDraft(ctx, req, o)
	if err != nil {
		return Result{}, err
	}
	if note != "" {
		res.ReplyText = note + res.ReplyText
	}
	if res.MetadataUpdates == nil {
		res.MetadataUpdates = map[string]any{}
	}
	res.MetadataUpdates[metaOrderDraft] = nil
	return res, nil
}

// advanceDraft fills missing required fields from the current turn and moves
// the draft to the confirmation exchange when complete.
func (h *TakeawayHandler) advanceDraft(ctx context.Context, req *Request, o *domain.Order) (Result, error) {
	if o.CustomerName == "" {
		if name := strings.TrimSpace(req.MetaString(metaContactName)); name != "" {
			o.CustomerName = name
		} else if looksLikeName(req.Text) {
			o.CustomerName = strings.TrimSpace(req.Text)
		}
		if o.CustomerName != "" {
			if err := repo.UpdateOrderFields(ctx, h.DB, o.ID, map[string]any{"customer_name": o.CustomerName}); err != nil {
				return Result{}, err
			}
		}
	}

	if missing := order.MissingFields(o); len(missing) > 0 {
		switch missing[0] {
		case "name":
			return h.clarify(req, "Almost there! What name should I put the order under?", metaOrderID, o.ID)
		case "pickup_time":
			return h.clarify(req, "What time would you like to pick it up?", metaOrderID, o.ID)
		}
	}

	if err := h.Machine.RequestConfirmation(ctx, o); err != nil {
		if errors.Is(err, order.ErrStateConflict) {
			return h.confirmationReply(ctx, req, o)
		}
		return Result{}, err
	}
	return Result{
		ReplyText:       h.summary(o) + "\nShall I confirm the order?",
		MetadataUpdates: map[string]any{metaOrderID: o.ID, metaClarifyCount: nil},
	}, nil
}

// confirmationReply interprets the contact's answer to "shall I confirm?".
func (h *TakeawayHandler) confirmationReply(ctx context.Context, req *Request, o *domain.Order) (Result, error) {
	switch {
	case yesRE.MatchString(req.Text):
		return h.confirm(ctx, req, o)
	case noRE.MatchString(req.Text):
		return Result{
			ReplyText:       "No problem. What would you like to change? You can also say cancel to drop the order.",
			MetadataUpdates: map[string]any{metaClarifyCount: nil},
		}, nil
	}
	// Maybe a modification phrased as a new request.
	menu := order.ParseMenu(req.Tenant.MenuConfig)
	if items, _ := order.ExtractItems(req.Text, menu); len(items) > 0 {
		return h.applyItems(ctx, req, o, items)
	}
	return h.clarify(req, h.summary(o)+"\nShall I confirm the order? A simple yes or no works.")
}

func (h *TakeawayHandler) confirm(ctx context.Context, req *Request, o *domain.Order) (Result, error) {
	if o.PaymentRequired {
		if g := req.CanUse(gate.CapPayment); !g.Allowed {
			return blockedResult("card payment", g), nil
		}
	}

	res, err := h.Machine.Confirm(ctx, o, order.NotifyTargets{
		Customer: req.Session.ContactKey,
		Business: req.Tenant.NotifyPhone,
	})
	if err != nil {
		if errors.Is(err, order.ErrPaymentSetup) {
			return Result{
				ReplyText:        "I couldn't set up the payment just now. A member of the team will be in touch to finish your order.",
				HandoffTriggered: true,
				HandoffReason:    "payment link creation failed",
			}, nil
		}
		if errors.Is(err, order.ErrStateConflict) {
			return h.clarify(req, "I can't confirm that order in its current state. Would you like to start a new one?")
		}
		return Result{}, err
	}

	updates := map[string]any{metaOrderID: o.ID, metaClarifyCount: nil}
	switch {
	case res.AlreadyConfirmed:
		return Result{ReplyText: "Your order is already confirmed. See you at pickup!", MetadataUpdates: updates}, nil
	case res.AwaitingPayment:
		return Result{
			ReplyText:       "Great! To finish up, please pay here: " + res.PaymentURL + "\nYour order is confirmed as soon as the payment goes through.",
			MetadataUpdates: updates,
		}, nil
	default:
		return Result{ReplyText: "Your order is confirmed, thank you! " + h.pickupLine(o), MetadataUpdates: updates}, nil
	}
}

func (h *TakeawayHandler) modify(ctx context.Context, req *Request, o *domain.Order) (Result, error) {
	if o == nil {
		if blob := req.MetaString(metaOrderDraft); blob != "" {
			return h.resumeDraft(ctx, req, blob)
		}
		return h.clarify(req, "There's no open order to change. Would you like to start one?")
	}
	menu := order.ParseMenu(req.Tenant.MenuConfig)
	items, rejected := order.ExtractItems(req.Text, menu)
	if len(items) == 0 {
		if len(rejected) > 0 {
			return h.clarify(req, "Sorry, we don't have "+humanJoin(rejected)+" on the menu. What would you like instead?", metaOrderID, o.ID)
		}
		return h.clarify(req, "What would you like the order to be instead?", metaOrderID, o.ID)
	}
	res, err := h.applyItems(ctx, req, o, items)
	if err == nil {
		res.ReplyText = offMenuNote(rejected) + res.ReplyText
	}
	return res, err
}

func (h *TakeawayHandler) applyItems(ctx context.Context, req *Request, o *domain.Order, items []domain.OrderItem) (Result, error) {
	if err := h.Machine.ReplaceItems(ctx, o, items); err != nil {
		if errors.Is(err, order.ErrOrderCommitted) {
			return h.committedHandoff("change"), nil
		}
		if errors.Is(err, order.ErrStateConflict) {
			return h.clarify(req, "That order can't be changed anymore. Would you like to start a new one?")
		}
		return Result{}, err
	}
	// Back through the confirmation exchange with the new contents.
	if o.Status == domain.OrderPendingConfirmation {
		return Result{
			ReplyText:       h.summary(o) + "\nShall I confirm the order?",
			MetadataUpdates: map[string]any{metaOrderID: o.ID, metaClarifyCount: nil},
		}, nil
	}
	return h.advanceDraft(ctx, req, o)
}

func (h *TakeawayHandler) cancel(ctx context.Context, req *Request, o *domain.Order) (Result, error) {
	if o == nil {
		if req.MetaString(metaOrderDraft) != "" {
			return Result{
				ReplyText:       "No problem, I've dropped that order. Anything else I can help with?",
				MetadataUpdates: map[string]any{metaOrderDraft: nil, metaClarifyCount: nil},
			}, nil
		}
		return Result{ReplyText: "I don't see an open order to cancel. Anything else I can help with?"}, nil
	}
	if err := h.Machine.Cancel(ctx, o); err != nil {
		if errors.Is(err, order.ErrOrderCommitted) {
			return h.committedHandoff("cancel"), nil
		}
		if errors.Is(err, order.ErrStateConflict) {
			return Result{ReplyText: "That order is already closed. Anything else I can help with?"}, nil
		}
		return Result{}, err
	}
	return Result{
		ReplyText:       "Your order has been canceled. Anything else I can do for you?",
		MetadataUpdates: map[string]any{metaOrderID: nil, metaClarifyCount: nil},
	}, nil
}

func (h *TakeawayHandler) paymentStatus(ctx context.Context, req *Request, o *domain.Order) (Result, error) {
	if o == nil {
		return Result{ReplyText: "I don't see an open order for you. Would you like to place one?"}, nil
	}
	switch o.Status {
	case domain.OrderPendingPayment:
		if wantsNewLink(req.Text) {
			url, err := h.Machine.RetryPaymentLink(ctx, o, req.Session.ContactKey)
			if err != nil {
				if errors.Is(err, order.ErrPaymentAttemptsExhausted) {
					return Result{
						ReplyText:        "The payment hasn't gone through after several tries, so I'm looping in the team to sort it out with you.",
						HandoffTriggered: true,
						HandoffReason:    "payment attempts exhausted",
					}, nil
				}
				if errors.Is(err, order.ErrPaymentSetup) {
					return Result{
						ReplyText:        "I couldn't issue a new payment link. A member of the team will be in touch.",
						HandoffTriggered: true,
						HandoffReason:    "payment link creation failed",
					}, nil
				}
				return Result{}, err
			}
			return Result{ReplyText: "Here's a fresh payment link: " + url}, nil
		}
		return Result{ReplyText: "Your order is waiting on payment. You can pay here: " + o.PaymentURL + "\nSay \"new link\" if that one has expired."}, nil
	case domain.OrderConfirmed:
		return Result{ReplyText: "All paid and confirmed, thank you! " + h.pickupLine(o)}, nil
	default:
		return Result{ReplyText: "There's no payment due on your order right now."}, nil
	}
}

// clarify issues a clarifying question, counting consecutive clarifications
// and handing off at the ceiling. Extra key/value pairs are merged into the
// metadata updates.
func (h *TakeawayHandler) clarify(req *Request, question string, kv ...string) (Result, error) {
	count := req.MetaInt(metaClarifyCount) + 1
	ceiling := h.ClarifyCeiling
	if ceiling <= 0 {
		ceiling = 3
	}
	if count > ceiling {
		return Result{
			ReplyText:        "I'm having trouble getting this right, so I'm passing you to a member of the team.",
			HandoffTriggered: true,
			HandoffReason:    "clarification ceiling reached",
			MetadataUpdates:  map[string]any{metaClarifyCount: nil},
		}, nil
	}
	updates := map[string]any{metaClarifyCount: count}
	for i := 0; i+1 < len(kv); i += 2 {
		updates[kv[i]] = kv[i+1]
	}
	return Result{ReplyText: question, MetadataUpdates: updates}, nil
}

func (h *TakeawayHandler) committedHandoff(what string) Result {
	return Result{
		ReplyText:        "The kitchen has already started on your order, so I can't " + what + " it from here. I'm looping in the team to help.",
		HandoffTriggered: true,
		HandoffReason:    what + " after confirmation",
	}
}

func (h *TakeawayHandler) summary(o *domain.Order) string {
	var b strings.Builder
	b.WriteString("Here's your order:")
	for _, it := range o.Items {
		b.WriteString("\n- " + strconv.Itoa(it.Quantity) + "x " + it.Name)
	}
	b.WriteString("\nTotal: " + o.Total.StringFixed(2) + " " + o.Currency + ".")
	return b.String()
}

func (h *TakeawayHandler) pickupLine(o *domain.Order) string {
	if o.PickupMode == domain.PickupTime && o.PickupTime != nil {
		return "Pickup at " + o.PickupTime.Format("15:04") + "."
	}
	return "It'll be ready as soon as possible."
}

func wantsNewLink(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "new link") || strings.Contains(lower, "again") ||
		strings.Contains(lower, "resend") || strings.Contains(lower, "expired")
}

// stashedItem is one parked order line. Prices are not stashed; they are
// re-read from the menu when the row is created.
type stashedItem struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

func stashItems(items []domain.OrderItem) string {
	st := make([]stashedItem, len(items))
	for i, it := range items {
		st[i] = stashedItem{Name: it.Name, Quantity: it.Quantity}
	}
	b, _ := json.Marshal(st)
	return string(b)
}

func unstashItems(blob string, menu order.Menu) []domain.OrderItem {
	var st []stashedItem
	if err := json.Unmarshal([]byte(blob), &st); err != nil {
		return nil
	}
	items := make([]domain.OrderItem, 0, len(st))
	for _, s := range st {
		it := domain.OrderItem{Name: s.Name, Quantity: s.Quantity}
		for _, mi := range menu.Items {
			if strings.EqualFold(mi.Name, s.Name) {
				it.UnitPrice = mi.Price
				break
			}
		}
		items = append(items, it)
	}
	return items
}

// offMenuNote renders the heads-up line for rejected off-menu requests.
func offMenuNote(rejected []string) string {
	if len(rejected) == 0 {
		return ""
	}
	return "Just so you know, we don't have " + humanJoin(rejected) + " on the menu, so I've left that off.\n"
}

func humanJoin(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0]
	case 2:
		return names[0] + " or " + names[1]
	}
	return strings.Join(names[:len(names)-1], ", ") + " or " + names[len(names)-1]
}

// looksLikeName accepts a short capitalized reply as a customer name.
func looksLikeName(text string) bool {
	t := strings.TrimSpace(text)
	if t == "" || len(t) > 60 {
		return false
	}
	words := strings.Fields(t)
	if len(words) > 4 {
		return false
	}
	for _, w := range words {
		r := rune(w[0])
		if !(r >= 'A' && r <= 'Z') {
			return false
		}
	}
	return true
}
