// Package session resolves conversation sessions and their turn history.
//
// A session is keyed by (tenant, channel, contact): one active session per
// key, reused across messages until explicitly closed or a new one is
// needed. Metadata is a JSON object modules use as scratch space between
// turns; writes are shallow merges so one module never clobbers another's
// keys.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/domain"
	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/repo"
)

// Manager owns session lifecycle and turn persistence for the engine.
type Manager struct {
	DB *gorm.DB
	// HistoryWindow bounds how many prior turns Recent returns.
	HistoryWindow int
}

func NewManager(db *gorm.DB, historyWindow int) *Manager {
	if historyWindow <= 0 {
		historyWindow = 5
	}
	return &Manager{DB: db, HistoryWindow: historyWindow}
}

// Resolve returns the active session for the contact, creating one when
// none exists. The returned bool reports whether a new session was created.
func (m *Manager) Resolve(ctx context.Context, tenantID string, channel domain.Channel, contactKey string) (*domain.Session, bool, error) {
	s, err := repo.FindActiveSession(ctx, m.DB, tenantID, channel, contactKey)
	if err == nil {
		if err := repo.TouchSession(ctx, m.DB, s.ID, time.Now().UTC()); err != nil {
			log.Warn().Err(err).Str("session_id", s.ID).Msg("session touch failed")
		}
		return s, false, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, false, err
	}
	s, err = repo.CreateSession(ctx, m.DB, tenantID, channel, contactKey)
	if err != nil {
		return nil, false, err
	}
	return s, true, nil
}

// AppendTurn persists one turn on the session.
func (m *Manager) AppendTurn(ctx context.Context, sessionID, role string, channel domain.Channel, content, raw string) (*domain.Turn, error) {
	return repo.CreateTurn(ctx, m.DB, sessionID, role, channel, content, raw)
}

// Recent returns the last HistoryWindow turns in chronological order.
func (m *Manager) Recent(ctx context.Context, sessionID string) ([]domain.Turn, error) {
	return repo.ListRecentTurns(ctx, m.DB, sessionID, m.HistoryWindow)
}

// TurnCount reports how many turns the session holds.
func (m *Manager) TurnCount(ctx context.Context, sessionID string) (int64, error) {
	return repo.CountTurns(ctx, m.DB, sessionID)
}

// Metadata decodes the session's metadata blob. A malformed blob degrades to
// an empty map rather than failing the run.
func Metadata(s *domain.Session) map[string]any {
	out := map[string]any{}
	if s == nil || s.Metadata == "" {
		return out
	}
	if err := json.Unmarshal([]byte(s.Metadata), &out); err != nil {
		log.Warn().Err(err).Str("session_id", s.ID).Msg("malformed session metadata, resetting")
		return map[string]any{}
	}
	return out
}

// MergeMetadata shallow-merges updates into the session's metadata object
// and persists it. A nil value under a key deletes that key. The in-memory
// session is kept in sync on success.
func (m *Manager) MergeMetadata(ctx context.Context, s *domain.Session, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	meta := Metadata(s)
	for k, v := range updates {
		if v == nil {
			delete(meta, k)
			continue
		}
		meta[k] = v
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	if err := repo.UpdateSessionMetadata(ctx, m.DB, s.ID, string(b)); err != nil {
		return err
	}
	s.Metadata = string(b)
	return nil
}

// Close ends the session; subsequent messages from the contact start fresh.
func (m *Manager) Close(ctx context.Context, s *domain.Session) error {
	if err := repo.CloseSession(ctx, m.DB, s.ID); err != nil {
		return err
	}
	s.Status = domain.SessionClosed
	return nil
}
