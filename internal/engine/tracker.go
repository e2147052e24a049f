package engine

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/domain"
	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/observability"
	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/repo"
)

// tracker writes the audit record and metrics for every pipeline run.
// Recording is best-effort: a failed write is logged, never propagated, so
// auditing can't take down message handling.
type tracker struct {
	db *gorm.DB
}

// runRecord accumulates run facts as the pipeline progresses.
type runRecord struct {
	ID          string
	TenantID    string
	SessionID   string
	Status      string
	Intent      string
	Confidence  float64
	Modules     []string
	BlockReason string

	InputTokens  int
	OutputTokens int
	CostMicros   int64
	Model        string

	startedAt time.Time
}

func newRunRecord(tenantID string) *runRecord {
	return &runRecord{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		SessionID: domain.PlaceholderSessionID,
		Status:    domain.RunError,
		startedAt: time.Now().UTC(),
	}
}

// finish persists the record. ctx deadlines from the aborted request do not
// apply here; the audit write gets its own short deadline.
func (t *tracker) finish(ctx context.Context, rec *runRecord) {
	elapsed := time.Since(rec.startedAt)
	observability.ObserveRun(rec.Status, rec.Intent, elapsed)
	observability.ObserveLLMCost(rec.Model, rec.CostMicros)

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	run := &domain.EngineRun{
		ID:           rec.ID,
		TenantID:     rec.TenantID,
		SessionID:    rec.SessionID,
		Status:       rec.Status,
		Intent:       rec.Intent,
		Confidence:   rec.Confidence,
		Modules:      strings.Join(rec.Modules, ","),
		BlockReason:  rec.BlockReason,
		InputTokens:  rec.InputTokens,
		OutputTokens: rec.OutputTokens,
		CostMicros:   rec.CostMicros,
		Model:        rec.Model,
		DurationMs:   elapsed.Milliseconds(),
	}
	if err := repo.CreateEngineRun(writeCtx, t.db, run); err != nil {
		log.Error().Err(err).
			Str("tenant_id", rec.TenantID).
			Str("status", rec.Status).
			Msg("engine run write failed")
	}
}
