// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the takeaway
// order aggregate and its append-only event trail.
//
// Error semantics:
//   - ErrDuplicate on a unique violation of orders.idempotency_key - the
//     caller resolves the existing row instead.
//   - ErrNotFound when a lookup misses.
//   - Raw gorm errors otherwise.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/domain"
)

// ErrDuplicate indicates an order already exists for the idempotency key.
var ErrDuplicate = errors.New("duplicate")

// CreateOrder inserts an order with its items in one transaction. A unique
// violation on the idempotency key maps to ErrDuplicate.
func CreateOrder(ctx context.Context, db *gorm.DB, o *domain.Order) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	o.CreatedAt = now
	for i := range o.Items {
		if o.Items[i].ID == "" {
			o.Items[i].ID = uuid.NewString()
		}
		o.Items[i].OrderID = o.ID
		o.Items[i].CreatedAt = now
	}
	if err := db.WithContext(ctx).Create(o).Error; err != nil {
		// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
		low := strings.ToLower(err.Error())
		if errors.Is(err, gorm.ErrDuplicatedKey) ||
			strings.Contains(low, "unique constraint failed") ||
			strings.Contains(low, "constraint failed: unique") {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetOrder fetches an order with its items, scoped to a tenant.
func GetOrder(ctx context.Context, db *gorm.DB, tenantID, id string) (*domain.Order, error) {
	var o domain.Order
	err := db.WithContext(ctx).
		Preload("Items").
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&o).Error
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// GetOrderByIdempotencyKey returns the order previously created for key, or
// ErrNotFound.
func GetOrderByIdempotencyKey(ctx context.Context, db *gorm.DB, key string) (*domain.Order, error) {
	var o domain.Order
	err := db.WithContext(ctx).
		Preload("Items").
		Where("idempotency_key = ?", key).
		First(&o).Error
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// openStatuses are the order states still subject to customer action.
var openStatuses = []string{
	domain.OrderDraft,
	domain.OrderPendingConfirmation,
	domain.OrderPendingPayment,
}

// FindOpenOrderBySession returns the most recent not-yet-settled order for a
// session, or ErrNotFound.
func FindOpenOrderBySession(ctx context.Context, db *gorm.DB, tenantID, sessionID string) (*domain.Order, error) {
	var o domain.Order
	err := db.WithContext(ctx).
		Preload("Items").
		Where("tenant_id = ? AND session_id = ? AND status IN ?", tenantID, sessionID, openStatuses).
		Order("created_at desc").
		First(&o).Error
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// UpdateOrderStatus moves an order to status only if its current status is
// one of from; it reports whether the row was updated. This is the
// status-conditioned transition primitive the state machine builds on.
func UpdateOrderStatus(ctx context.Context, db *gorm.DB, id, status string, from []string, fields map[string]any) (bool, error) {
	updates := map[string]any{"status": status, "updated_at": time.Now().UTC()}
	for k, v := range fields {
		updates[k] = v
	}
	res := db.WithContext(ctx).
		Model(&domain.Order{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// UpdateOrderFields applies a partial update to an order regardless of
// status. Used for draft accumulation only.
func UpdateOrderFields(ctx context.Context, db *gorm.DB, id string, fields map[string]any) error {
	fields["updated_at"] = time.Now().UTC()
	return db.WithContext(ctx).
		Model(&domain.Order{}).
		Where("id = ?", id).
		Updates(fields).Error
}

// ReplaceOrderItems swaps an order's line items inside one transaction.
func ReplaceOrderItems(ctx context.Context, db *gorm.DB, orderID string, items []domain.OrderItem) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("order_id = ?", orderID).Delete(&domain.OrderItem{}).Error; err != nil {
			return err
		}
		now := time.Now().UTC()
		for i := range items {
			if items[i].ID == "" {
				items[i].ID = uuid.NewString()
			}
			items[i].OrderID = orderID
			items[i].CreatedAt = now
		}
		if len(items) == 0 {
			return nil
		}
		return tx.Create(&items).Error
	})
}

// AppendOrderEvent writes one entry to the order's event trail.
func AppendOrderEvent(ctx context.Context, db *gorm.DB, orderID, eventType, details string) error {
	ev := &domain.OrderEvent{
		ID:        uuid.NewString(),
		OrderID:   orderID,
		Type:      eventType,
		Details:   details,
		CreatedAt: time.Now().UTC(),
	}
	return db.WithContext(ctx).Create(ev).Error
}

// ListOrderEvents returns the trail for an order, oldest first.
func ListOrderEvents(ctx context.Context, db *gorm.DB, orderID string) ([]domain.OrderEvent, error) {
	var out []domain.OrderEvent
	err := db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at asc").
		Find(&out).Error
	return out, err
}
