// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides read access to tenant rows; tenants are
// provisioned externally and never written by the engine.
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// GetTenant fetches a tenant by ID, or ErrNotFound.
func GetTenant(ctx context.Context, db *gorm.DB, id string) (*domain.Tenant, error) {
	var t domain.Tenant
	if err := db.WithContext(ctx).Where("id = ?", id).First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

// GetTenantByWebhookToken resolves the tenant owning a webhook token, or
// ErrNotFound. The ingress layer uses this to authenticate provider
// callbacks.
func GetTenantByWebhookToken(ctx context.Context, db *gorm.DB, token string) (*domain.Tenant, error) {
	var t domain.Tenant
	if err := db.WithContext(ctx).Where("webhook_token = ?", token).First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}
