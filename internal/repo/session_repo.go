// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for conversation
// sessions and their turns.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/domain"
)

// FindActiveSession returns the active session for (tenant, channel, contact)
// or ErrNotFound.
func FindActiveSession(ctx context.Context, db *gorm.DB, tenantID string, channel domain.Channel, contactKey string) (*domain.Session, error) {
	var s domain.Session
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND channel = ? AND contact_key = ? AND status = ?",
			tenantID, channel, contactKey, domain.SessionActive).
		Order("created_at desc").
		First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// CreateSession inserts a new active session row.
func CreateSession(ctx context.Context, db *gorm.DB, tenantID string, channel domain.Channel, contactKey string) (*domain.Session, error) {
	now := time.Now().UTC()
	s := &domain.Session{
		ID:           uuid.NewString(),
		TenantID:     tenantID,
		Channel:      channel,
		ContactKey:   contactKey,
		Status:       domain.SessionActive,
		Metadata:     "{}",
		LastActiveAt: now,
		CreatedAt:    now,
	}
	if err := db.WithContext(ctx).Create(s).Error; err != nil {
		return nil, err
	}
	return s, nil
}

// TouchSession refreshes the session's last-active timestamp.
func TouchSession(ctx context.Context, db *gorm.DB, id string, at time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.Session{}).
		Where("id = ?", id).
		Update("last_active_at", at).Error
}

// UpdateSessionMetadata replaces the session's metadata blob.
func UpdateSessionMetadata(ctx context.Context, db *gorm.DB, id, metadata string) error {
	res := db.WithContext(ctx).
		Model(&domain.Session{}).
		Where("id = ?", id).
		Update("metadata", metadata)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// CloseSession marks a session closed. Sessions are never deleted.
func CloseSession(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).
		Model(&domain.Session{}).
		Where("id = ?", id).
		Update("status", domain.SessionClosed).Error
}

// CreateTurn appends one immutable turn to a session.
func CreateTurn(ctx context.Context, db *gorm.DB, sessionID, role string, channel domain.Channel, content, raw string) (*domain.Turn, error) {
	t := &domain.Turn{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      role,
		Channel:   channel,
		Content:   content,
		Raw:       raw,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(t).Error; err != nil {
		return nil, err
	}
	return t, nil
}

// ListRecentTurns returns the last limit turns of a session in chronological
// order (oldest first), forming the LLM context window.
func ListRecentTurns(ctx context.Context, db *gorm.DB, sessionID string, limit int) ([]domain.Turn, error) {
	var out []domain.Turn
	err := db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at desc").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	// Reverse into chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// CountTurns returns the number of turns recorded for a session.
func CountTurns(ctx context.Context, db *gorm.DB, sessionID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Turn{}).
		Where("session_id = ?", sessionID).
		Count(&total).Error
	return total, err
}
