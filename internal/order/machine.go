// Order state machine.
//
// States: draft → pending_confirmation → {pending_payment → confirmed} |
// confirmed → {canceled (pre-confirm only) | expired}. Transitions are
// one-way except explicit payment-link retries. Consistency is per-order:
// every transition is status-conditioned at the database (the UPDATE carries
// the expected source statuses), and creation is keyed on the idempotency
// key, so concurrent duplicate deliveries collapse onto one row without
// locking.
package order

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/collab"
	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/domain"
	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/repo"
)

// Sentinel errors surfaced to modules; each maps to a state-appropriate
// customer message, never a raw error.
var (
	// ErrStateConflict: the order's status precondition no longer holds.
	ErrStateConflict = errors.New("order state conflict")
	// ErrOrderCommitted: cancel/modify attempted after confirmation.
	ErrOrderCommitted = errors.New("order already confirmed")
	// ErrPaymentSetup: checkout-link creation failed; order keeps its state.
	ErrPaymentSetup = errors.New("payment link creation failed")
	// ErrPaymentAttemptsExhausted: the retry ceiling was hit.
	ErrPaymentAttemptsExhausted = errors.New("payment attempts exhausted")
)

var decimalHundred = decimal.NewFromInt(100)

// Machine drives a single tenant order through its lifecycle.
type Machine struct {
	DB       *gorm.DB
	Payments collab.PaymentProvider
	Notifier collab.Notifier

	AttemptCeiling int           // payment-link issuances per order
	LinkExpiry     time.Duration // checkout link validity
	CollabTimeout  time.Duration // payment/notification call deadline
	DefaultRegion  string        // phone parsing region
}

// NewMachine applies defaults for zero-valued tuning fields.
func NewMachine(db *gorm.DB, payments collab.PaymentProvider, notifier collab.Notifier) *Machine {
	return &Machine{
		DB:             db,
		Payments:       payments,
		Notifier:       notifier,
		AttemptCeiling: 3,
		LinkExpiry:     30 * time.Minute,
		CollabTimeout:  10 * time.Second,
		DefaultRegion:  "US",
	}
}

// DraftInput describes one order-creation attempt.
type DraftInput struct {
	TenantID        string
	SessionID       string
	CustomerName    string
	CustomerPhone   string
	Items           []domain.OrderItem
	PickupMode      string // asap|time
	PickupTime      *time.Time
	Currency        string
	PaymentRequired bool
}

// CreateDraft creates an order draft idempotently: the key is computed
// first and an existing order under the same key is returned unchanged with
// isDuplicate=true. The unique index backs the race between concurrent
// duplicate deliveries.
func (m *Machine) CreateDraft(ctx context.Context, in DraftInput) (o *domain.Order, isDuplicate bool, err error) {
	phone := NormalizePhone(in.CustomerPhone, m.DefaultRegion)
	key := IdempotencyKey(in.TenantID, in.SessionID, phone, in.Items, in.PickupTime)

	if existing, err := repo.GetOrderByIdempotencyKey(ctx, m.DB, key); err == nil {
		return existing, true, nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return nil, false, err
	}

	mode := in.PickupMode
	if mode == "" {
		mode = domain.PickupASAP
	}
	currency := in.Currency
	if currency == "" {
		currency = "EUR"
	}
	o = &domain.Order{
		TenantID:        in.TenantID,
		SessionID:       in.SessionID,
		Status:          domain.OrderDraft,
		CustomerName:    in.CustomerName,
		CustomerPhone:   phone,
		PickupMode:      mode,
		PickupTime:      in.PickupTime,
		Total:           Total(in.Items),
		Currency:        currency,
		PaymentRequired: in.PaymentRequired,
		PaymentStatus:   domain.PaymentNone,
		IdempotencyKey:  key,
		Items:           in.Items,
	}
	if err := repo.CreateOrder(ctx, m.DB, o); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			// Lost the insert race to a concurrent duplicate; resolve the winner.
			existing, lookupErr := repo.GetOrderByIdempotencyKey(ctx, m.DB, key)
			if lookupErr != nil {
				return nil, false, lookupErr
			}
			return existing, true, nil
		}
		return nil, false, err
	}

	m.logEvent(ctx, o.ID, domain.EventDraftCreated, map[string]any{
		"items": len(o.Items), "total": o.Total.String(),
	})
	return o, false, nil
}

// MissingFields lists the required fields still blocking confirmation:
// customer name always, pickup time when mode is "time".
func MissingFields(o *domain.Order) []string {
	var missing []string
	if o.CustomerName == "" {
		missing = append(missing, "name")
	}
	if o.PickupMode == domain.PickupTime && o.PickupTime == nil {
		missing = append(missing, "pickup_time")
	}
	return missing
}

// RequestConfirmation moves draft → pending_confirmation. The required-field
// gate must already be satisfied; callers ask MissingFields first.
func (m *Machine) RequestConfirmation(ctx context.Context, o *domain.Order) error {
	if missing := MissingFields(o); len(missing) > 0 {
		return ErrStateConflict
	}
	ok, err := repo.UpdateOrderStatus(ctx, m.DB, o.ID, domain.OrderPendingConfirmation,
		[]string{domain.OrderDraft}, nil)
	if err != nil {
		return err
	}
	if !ok {
		return ErrStateConflict
	}
	o.Status = domain.OrderPendingConfirmation
	m.logEvent(ctx, o.ID, domain.EventConfirmationRequested, nil)
	return nil
}

// NotifyTargets carries the delivery addresses used around confirmation.
type NotifyTargets struct {
	Customer string // payment link recipient
	Business string // new-order alert recipient
}

// ConfirmResult is the outcome of Confirm or MarkPaid.
type ConfirmResult struct {
	Order            *domain.Order
	PaymentURL       string
	AwaitingPayment  bool
	AlreadyConfirmed bool
}

// Confirm handles an explicit affirmative reply on a pending_confirmation
// order. If payment is required the order moves to pending_payment and a
// checkout link is issued and delivered; otherwise it confirms directly and
// alerts the business best-effort. Confirming an already-confirmed order
// returns the same success with no side effects.
func (m *Machine) Confirm(ctx context.Context, o *domain.Order, targets NotifyTargets) (*ConfirmResult, error) {
	switch o.Status {
	case domain.OrderConfirmed:
		return &ConfirmResult{Order: o, AlreadyConfirmed: true}, nil
	case domain.OrderCanceled, domain.OrderExpired, domain.OrderDraft:
		return nil, ErrStateConflict
	}

	if o.PaymentRequired {
		ok, err := repo.UpdateOrderStatus(ctx, m.DB, o.ID, domain.OrderPendingPayment,
			[]string{domain.OrderPendingConfirmation}, map[string]any{
				"payment_status": domain.PaymentPending,
			})
		if err != nil {
			return nil, err
		}
		if !ok && o.Status != domain.OrderPendingPayment {
			return m.resolveLostRace(ctx, o)
		}
		o.Status = domain.OrderPendingPayment
		o.PaymentStatus = domain.PaymentPending
		m.logEvent(ctx, o.ID, domain.EventPendingPayment, nil)

		url, err := m.issueLink(ctx, o, targets.Customer)
		if err != nil {
			// Link setup failed: put the order back so a later confirm can
			// retry the whole transition instead of stranding it with no URL.
			if errors.Is(err, ErrPaymentSetup) {
				m.revertPendingPayment(ctx, o)
			}
			return nil, err
		}
		return &ConfirmResult{Order: o, PaymentURL: url, AwaitingPayment: true}, nil
	}

	ok, err := repo.UpdateOrderStatus(ctx, m.DB, o.ID, domain.OrderConfirmed,
		[]string{domain.OrderPendingConfirmation}, nil)
	if err != nil {
		return nil, err
	}
	if !ok {
		return m.resolveLostRace(ctx, o)
	}
	o.Status = domain.OrderConfirmed
	m.logEvent(ctx, o.ID, domain.EventConfirmed, nil)
	m.notifyBusiness(ctx, o, targets.Business)
	return &ConfirmResult{Order: o}, nil
}

// MarkPaid applies a payment-completion notice: pending_payment → confirmed.
// A second notice for an already-confirmed order short-circuits to the same
// success without re-dispatching notifications.
func (m *Machine) MarkPaid(ctx context.Context, o *domain.Order, targets NotifyTargets) (*ConfirmResult, error) {
	if o.Status == domain.OrderConfirmed {
		return &ConfirmResult{Order: o, AlreadyConfirmed: true}, nil
	}
	ok, err := repo.UpdateOrderStatus(ctx, m.DB, o.ID, domain.OrderConfirmed,
		[]string{domain.OrderPendingPayment}, map[string]any{
			"payment_status": domain.PaymentPaid,
		})
	if err != nil {
		return nil, err
	}
	if !ok {
		return m.resolveLostRace(ctx, o)
	}
	o.Status = domain.OrderConfirmed
	o.PaymentStatus = domain.PaymentPaid
	m.logEvent(ctx, o.ID, domain.EventConfirmed, map[string]any{"paid": true})
	m.notifyBusiness(ctx, o, targets.Business)
	return &ConfirmResult{Order: o}, nil
}

// RetryPaymentLink issues a fresh checkout link for a pending_payment order,
// up to the attempt ceiling. Beyond the ceiling the caller must hand off;
// no further retries are possible for this order.
func (m *Machine) RetryPaymentLink(ctx context.Context, o *domain.Order, customerTo string) (string, error) {
	if o.Status != domain.OrderPendingPayment {
		return "", ErrStateConflict
	}
	if o.PaymentAttempts >= m.AttemptCeiling {
		m.logEvent(ctx, o.ID, domain.EventHandoffTriggered, map[string]any{
			"reason": "payment attempts exhausted", "attempts": o.PaymentAttempts,
		})
		return "", ErrPaymentAttemptsExhausted
	}
	return m.issueLink(ctx, o, customerTo)
}

// Cancel voids an open order. Confirmed orders are refused with
// ErrOrderCommitted - the business has committed resources - and the caller
// must hand off.
func (m *Machine) Cancel(ctx context.Context, o *domain.Order) error {
	if o.Status == domain.OrderConfirmed {
		m.logEvent(ctx, o.ID, domain.EventHandoffTriggered, map[string]any{"reason": "cancel after confirm"})
		return ErrOrderCommitted
	}
	ok, err := repo.UpdateOrderStatus(ctx, m.DB, o.ID, domain.OrderCanceled,
		[]string{domain.OrderDraft, domain.OrderPendingConfirmation, domain.OrderPendingPayment}, nil)
	if err != nil {
		return err
	}
	if !ok {
		return ErrStateConflict
	}
	o.Status = domain.OrderCanceled
	m.logEvent(ctx, o.ID, domain.EventCanceled, nil)
	return nil
}

// ReplaceItems swaps the line items of an open order and recomputes the
// total. Modification after confirmation is refused with ErrOrderCommitted.
// The idempotency key never changes once assigned.
func (m *Machine) ReplaceItems(ctx context.Context, o *domain.Order, items []domain.OrderItem) error {
	switch o.Status {
	case domain.OrderConfirmed:
		m.logEvent(ctx, o.ID, domain.EventHandoffTriggered, map[string]any{"reason": "modify after confirm"})
		return ErrOrderCommitted
	case domain.OrderCanceled, domain.OrderExpired:
		return ErrStateConflict
	}
	if err := repo.ReplaceOrderItems(ctx, m.DB, o.ID, items); err != nil {
		return err
	}
	total := Total(items)
	if err := repo.UpdateOrderFields(ctx, m.DB, o.ID, map[string]any{"total": total}); err != nil {
		return err
	}
	o.Items = items
	o.Total = total
	return nil
}

// Expire times out an order still waiting on confirmation or payment.
func (m *Machine) Expire(ctx context.Context, o *domain.Order) error {
	ok, err := repo.UpdateOrderStatus(ctx, m.DB, o.ID, domain.OrderExpired,
		[]string{domain.OrderPendingConfirmation, domain.OrderPendingPayment}, nil)
	if err != nil {
		return err
	}
	if !ok {
		return ErrStateConflict
	}
	o.Status = domain.OrderExpired
	m.logEvent(ctx, o.ID, domain.EventExpired, nil)
	return nil
}

// resolveLostRace re-reads the order after a conditioned update matched no
// rows. A concurrent invocation that already confirmed wins idempotently;
// anything else is a genuine conflict.
func (m *Machine) resolveLostRace(ctx context.Context, o *domain.Order) (*ConfirmResult, error) {
	fresh, err := repo.GetOrder(ctx, m.DB, o.TenantID, o.ID)
	if err != nil {
		return nil, err
	}
	*o = *fresh
	if fresh.Status == domain.OrderConfirmed {
		return &ConfirmResult{Order: fresh, AlreadyConfirmed: true}, nil
	}
	return nil, ErrStateConflict
}

// revertPendingPayment undoes the pending_payment transition after a failed
// link setup, best-effort. The status-conditioned UPDATE means a concurrent
// paid notice wins the race and the revert becomes a no-op.
func (m *Machine) revertPendingPayment(ctx context.Context, o *domain.Order) {
	ok, err := repo.UpdateOrderStatus(ctx, m.DB, o.ID, domain.OrderPendingConfirmation,
		[]string{domain.OrderPendingPayment}, map[string]any{
			"payment_status": domain.PaymentNone,
		})
	if err != nil || !ok {
		log.Error().Err(err).Str("order_id", o.ID).Msg("could not revert pending payment")
		return
	}
	o.Status = domain.OrderPendingConfirmation
	o.PaymentStatus = domain.PaymentNone
	m.logEvent(ctx, o.ID, domain.EventPaymentReverted, map[string]any{"cause": "payment_setup"})
}

// issueLink creates a checkout link, increments the attempt counter, stores
// the URL, and delivers it to the customer. Every issuance - initial and
// retry - counts against the ceiling.
func (m *Machine) issueLink(ctx context.Context, o *domain.Order, customerTo string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, m.CollabTimeout)
	defer cancel()

	link, err := m.Payments.CreateCheckoutLink(callCtx, collab.CheckoutRequest{
		OrderID:         o.ID,
		AmountCents:     o.Total.Mul(decimalHundred).IntPart(),
		Currency:        o.Currency,
		CustomerContact: customerTo,
		ExpiryMinutes:   int(m.LinkExpiry.Minutes()),
	})
	if err != nil {
		log.Error().Err(err).Str("order_id", o.ID).Msg("checkout link creation failed")
		m.logEvent(ctx, o.ID, domain.EventError, map[string]any{"error": "payment_setup", "detail": err.Error()})
		return "", ErrPaymentSetup
	}

	attempts := o.PaymentAttempts + 1
	if err := repo.UpdateOrderFields(ctx, m.DB, o.ID, map[string]any{
		"payment_url":      link.PaymentURL,
		"payment_attempts": attempts,
	}); err != nil {
		return "", err
	}
	o.PaymentURL = link.PaymentURL
	o.PaymentAttempts = attempts
	m.logEvent(ctx, o.ID, domain.EventPaymentLinkCreated, map[string]any{
		"attempt": attempts, "expires_at": link.ExpiresAt,
	})

	m.deliver(ctx, o, customerTo, "Secure payment link for your order: "+link.PaymentURL)
	return link.PaymentURL, nil
}

// notifyBusiness sends the new-order alert best-effort: a delivery failure
// is logged to the event trail and never reverts the confirmation.
func (m *Machine) notifyBusiness(ctx context.Context, o *domain.Order, businessTo string) {
	if businessTo == "" {
		return
	}
	m.deliver(ctx, o, businessTo, "New confirmed order "+o.ID+" - total "+o.Total.StringFixed(2)+" "+o.Currency)
}

// deliver pushes one notification under the collaborator deadline, recording
// the outcome on the trail.
func (m *Machine) deliver(ctx context.Context, o *domain.Order, to, body string) {
	if m.Notifier == nil || to == "" {
		return
	}
	callCtx, cancel := context.WithTimeout(ctx, m.CollabTimeout)
	defer cancel()

	res, err := m.Notifier.Deliver(callCtx, collab.Delivery{TenantID: o.TenantID, To: to, Body: body})
	if err != nil || !res.Delivered {
		log.Warn().Err(err).Str("order_id", o.ID).Str("to", to).Msg("notification delivery failed")
		m.logEvent(ctx, o.ID, domain.EventNotificationFailed, map[string]any{"to": to})
		return
	}
	m.logEvent(ctx, o.ID, domain.EventNotificationSent, map[string]any{
		"to": to, "provider_message_id": res.ProviderMessageID,
	})
}

// logEvent appends to the order trail; trail failures are swallowed so they
// never fail the operation being audited.
func (m *Machine) logEvent(ctx context.Context, orderID, eventType string, details map[string]any) {
	payload := ""
	if details != nil {
		if b, err := json.Marshal(details); err == nil {
			payload = string(b)
		}
	}
	if err := repo.AppendOrderEvent(ctx, m.DB, orderID, eventType, payload); err != nil {
		log.Warn().Err(err).Str("order_id", orderID).Str("event", eventType).Msg("order event write failed")
	}
}
