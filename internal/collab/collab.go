// Package collab declares the narrow contracts of the external collaborators
// the engine consumes: payment-link creation, outbound notification delivery,
// calendar access for bookings, and tenant budget accounting. Implementations
// live outside the core; this package additionally ships deterministic fakes
// for test mode.
package collab

import (
	"context"
	"fmt"
	"time"
)

// CheckoutRequest asks the payment collaborator for a hosted checkout link.
type CheckoutRequest struct {
	OrderID         string
	AmountCents     int64
	Currency        string
	CustomerContact string
	ExpiryMinutes   int
}

// CheckoutLink is a created payment link.
type CheckoutLink struct {
	PaymentURL string
	ExpiresAt  time.Time
}

// PaymentProvider creates checkout links.
type PaymentProvider interface {
	CreateCheckoutLink(ctx context.Context, req CheckoutRequest) (*CheckoutLink, error)
}

// Delivery is one outbound message: a customer payment link or a business
// new-order alert.
type Delivery struct {
	TenantID string
	To       string
	Body     string
}

// DeliveryResult reports the provider outcome.
type DeliveryResult struct {
	Delivered         bool
	ProviderMessageID string
}

// Notifier delivers outbound messages.
type Notifier interface {
	Deliver(ctx context.Context, d Delivery) (DeliveryResult, error)
}

// Slot is one bookable window.
type Slot struct {
	Start time.Time
	End   time.Time
}

// EventRequest creates or modifies a calendar event.
type EventRequest struct {
	TenantID      string
	SessionID     string
	CustomerName  string
	CustomerPhone string
	Start         time.Time
	End           time.Time
	Notes         string
}

// Calendar is the booking collaborator.
type Calendar interface {
	CheckAvailability(ctx context.Context, tenantID string, from, to time.Time) ([]Slot, error)
	CreateEvent(ctx context.Context, req EventRequest) (eventID string, err error)
	UpdateEvent(ctx context.Context, tenantID, eventID string, req EventRequest) error
	CancelEvent(ctx context.Context, tenantID, eventID string) error

	// FindEvent is the fallback lookup by session or phone when the direct
	// event reference is missing from session metadata.
	FindEvent(ctx context.Context, tenantID, sessionID, phone string) (eventID string, err error)
}

// BudgetExceededError is returned by RequireBudget when the tenant's cost
// ceiling would be crossed by the estimated spend.
type BudgetExceededError struct {
	TenantID        string
	EstimatedMicros int64
	RemainingMicros int64
}

// Error implements error.
func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("budget exceeded for tenant %s: estimated %dµ$, remaining %dµ$",
		e.TenantID, e.EstimatedMicros, e.RemainingMicros)
}

// Budget is the tenant cost-accounting collaborator. RequireBudget must run
// before every billable external call; RecordCost immediately after a
// successful one. Amounts are USD millionths.
type Budget interface {
	RequireBudget(ctx context.Context, tenantID string, estimatedMicros int64) error
	RecordCost(ctx context.Context, tenantID string, actualMicros int64, tokensIn, tokensOut int)
}

// ---- Deterministic fakes for test mode ----

// FakePaymentProvider issues deterministic links derived from the order id.
// Used when the engine runs in test mode.
type FakePaymentProvider struct {
	BaseURL string // defaults to https://pay.test.invalid
}

// CreateCheckoutLink implements PaymentProvider.
func (f *FakePaymentProvider) CreateCheckoutLink(_ context.Context, req CheckoutRequest) (*CheckoutLink, error) {
	base := f.BaseURL
	if base == "" {
		base = "https://pay.test.invalid"
	}
	expiry := req.ExpiryMinutes
	if expiry <= 0 {
		expiry = 30
	}
	return &CheckoutLink{
		PaymentURL: fmt.Sprintf("%s/checkout/%s", base, req.OrderID),
		ExpiresAt:  time.Now().UTC().Add(time.Duration(expiry) * time.Minute),
	}, nil
}

// NopNotifier accepts every delivery without sending anything.
type NopNotifier struct{}

// Deliver implements Notifier.
func (NopNotifier) Deliver(context.Context, Delivery) (DeliveryResult, error) {
	return DeliveryResult{Delivered: true, ProviderMessageID: "nop"}, nil
}

// UnlimitedBudget never denies and records nothing. Used in test mode and
// when no budget collaborator is wired.
type UnlimitedBudget struct{}

// RequireBudget implements Budget.
func (UnlimitedBudget) RequireBudget(context.Context, string, int64) error { return nil }

// RecordCost implements Budget.
func (UnlimitedBudget) RecordCost(context.Context, string, int64, int, int) {}
