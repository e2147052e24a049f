package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/ratelimit"
)

// RateLimitStatus is the non-consuming view of a tenant's current window.
type RateLimitStatus struct {
	LimitPerMinute int   `json:"limit_per_minute"`
	Remaining      int   `json:"remaining"`
	ResetInSeconds int64 `json:"reset_in_seconds"`
}

// RateLimitHandler exposes the tenant's rate-limit window. Reading the
// status never consumes an admission.
type RateLimitHandler struct {
	DB      *gorm.DB
	Limiter *ratelimit.Limiter
	// DefaultLimit applies when the tenant row carries no override.
	DefaultLimit int
}

// Status handles GET /webhook/ratelimit. Auth reuses the webhook token.
func (h *RateLimitHandler) Status(c *gin.Context) {
	wh := WebhookHandler{DB: h.DB}
	tenant, httpOK := wh.authenticate(c)
	if !httpOK {
		return
	}
	limit := tenant.RateLimitPerMin
	if limit <= 0 {
		limit = h.DefaultLimit
	}
	st := h.Limiter.Status(tenant.ID, limit)
	ok(c, http.StatusOK, RateLimitStatus{
		LimitPerMinute: limit,
		Remaining:      st.Remaining,
		ResetInSeconds: int64(st.ResetIn / time.Second),
	})
}

func formatSeconds(d time.Duration) string {
	secs := int64(d / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}
