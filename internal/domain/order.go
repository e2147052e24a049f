// Package domain defines the core persistence models for the application.
// This file holds the takeaway order aggregate: the order row, its line
// items, and the append-only event trail.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order statuses. Transitions are one-way except explicit payment retries;
// the state machine in internal/order guards every move.
const (
	OrderDraft               = "draft"
	OrderPendingConfirmation = "pending_confirmation"
	OrderPendingPayment      = "pending_payment"
	OrderConfirmed           = "confirmed"
	OrderCanceled            = "canceled"
	OrderExpired             = "expired"
)

// Payment statuses on an order.
const (
	PaymentNone    = "none"
	PaymentPending = "pending"
	PaymentPaid    = "paid"
)

// Pickup modes.
const (
	PickupASAP = "asap"
	PickupTime = "time"
)

// Order is a takeaway order owned by a tenant and (optionally) a session.
//
// IdempotencyKey is derived deterministically from (tenant, session,
// normalized phone, items-summary hash, pickup-time bucket) and is immutable
// once assigned. The unique index on it is the sole duplicate-suppression
// mechanism for retried or duplicate webhook delivery.
type Order struct {
	ID        string `json:"id"         gorm:"type:char(36);primaryKey"`
	TenantID  string `json:"tenant_id"  gorm:"type:char(36);not null;index"`
	SessionID string `json:"session_id" gorm:"type:char(36);index"`
	Status    string `json:"status"     gorm:"type:varchar(32);not null;default:'draft'"`

	CustomerName  string     `json:"customer_name"  gorm:"type:varchar(128)"`
	CustomerPhone string     `json:"customer_phone" gorm:"type:varchar(32)"`
	PickupMode    string     `json:"pickup_mode"    gorm:"type:varchar(16);not null;default:'asap'"`
	PickupTime    *time.Time `json:"pickup_time,omitempty"`

	Total    decimal.Decimal `json:"total"    gorm:"type:decimal(10,2)"`
	Currency string          `json:"currency" gorm:"type:char(3);not null;default:'EUR'"`

	PaymentRequired bool   `json:"payment_required"`
	PaymentStatus   string `json:"payment_status" gorm:"type:varchar(16);not null;default:'none'"`
	PaymentURL      string `json:"payment_url"    gorm:"type:text"`
	PaymentAttempts int    `json:"payment_attempts" gorm:"not null;default:0"`

	IdempotencyKey string `json:"-" gorm:"type:char(64);not null;uniqueIndex:ux_orders_idem_key"`

	Items []OrderItem `json:"items" gorm:"foreignKey:OrderID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for Order.
func (Order) TableName() string { return "orders" }

// OrderItem is a single line item owned exclusively by one order.
type OrderItem struct {
	ID        string          `json:"id"       gorm:"type:char(36);primaryKey"`
	OrderID   string          `json:"order_id" gorm:"type:char(36);not null;index"`
	Name      string          `json:"name"     gorm:"type:varchar(128);not null"`
	Quantity  int             `json:"quantity" gorm:"not null;default:1"`
	Options   string          `json:"options"  gorm:"type:text"`
	Notes     string          `json:"notes"    gorm:"type:text"`
	UnitPrice decimal.Decimal `json:"unit_price" gorm:"type:decimal(10,2)"`
	CreatedAt time.Time       `json:"created_at"`
}

// TableName returns the database table name for OrderItem.
func (OrderItem) TableName() string { return "order_items" }

// Order event types written to the trail. The trail exists for support and
// debugging; the state machine never reads it back.
const (
	EventDraftCreated          = "draft_created"
	EventConfirmationRequested = "confirmation_requested"
	EventConfirmed             = "confirmed"
	EventPendingPayment        = "pending_payment"
	EventPaymentLinkCreated    = "payment_link_created"
	EventPaymentReverted       = "payment_reverted"
	EventCanceled              = "canceled"
	EventExpired               = "expired"
	EventHandoffTriggered      = "handoff_triggered"
	EventNotificationSent      = "notification_sent"
	EventNotificationFailed    = "notification_failed"
	EventError                 = "error"
)

// OrderEvent is one append-only entry in an order's event trail.
type OrderEvent struct {
	ID        string    `json:"id"       gorm:"type:char(36);primaryKey"`
	OrderID   string    `json:"order_id" gorm:"type:char(36);not null;index"`
	Type      string    `json:"type"     gorm:"type:varchar(32);not null"`
	Details   string    `json:"details"  gorm:"type:text"` // JSON payload
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for OrderEvent.
func (OrderEvent) TableName() string { return "order_events" }
