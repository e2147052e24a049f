// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file persists the append-only engine-run audit
// records.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/domain"
)

// CreateEngineRun appends one audit record. The caller supplies everything
// except the id and creation timestamp.
func CreateEngineRun(ctx context.Context, db *gorm.DB, run *domain.EngineRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	run.CreatedAt = time.Now().UTC()
	return db.WithContext(ctx).Create(run).Error
}

// ListEngineRuns returns a page of a tenant's runs, most recent first.
func ListEngineRuns(ctx context.Context, db *gorm.DB, tenantID string, offset, limit int) ([]domain.EngineRun, error) {
	var out []domain.EngineRun
	err := db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
