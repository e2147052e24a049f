package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/domain"
	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/engine"
	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/http/middleware"
	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/repo"
)

// webhookTokenHeader authenticates the tenant on every webhook call.
const webhookTokenHeader = "X-Webhook-Token"

// WebhookRequest is one inbound message as posted by a channel provider
// integration.
type WebhookRequest struct {
	From string `json:"from" binding:"required"`
	Text string `json:"text" binding:"required"`
	Raw  string `json:"raw,omitempty"`
}

// WebhookHandler terminates the provider webhooks and feeds the engine.
type WebhookHandler struct {
	DB     *gorm.DB
	Engine *engine.Engine
}

func NewWebhookHandler(db *gorm.DB, eng *engine.Engine) *WebhookHandler {
	return &WebhookHandler{DB: db, Engine: eng}
}

// Receive handles POST /webhook/:channel. The tenant is resolved from the
// webhook token header; an unknown token is indistinguishable from a missing
// one in the response.
func (h *WebhookHandler) Receive(c *gin.Context) {
	channel := domain.Channel(c.Param("channel"))
	if !channel.Valid() {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "unknown channel")
		return
	}

	tenant, httpOK := h.authenticate(c)
	if !httpOK {
		return
	}

	var req WebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "from and text are required")
		return
	}

	reply, err := h.Engine.Process(c.Request.Context(), tenant, engine.InboundMessage{
		Channel: channel,
		From:    req.From,
		Text:    req.Text,
		Raw:     req.Raw,
	})
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrEmptyMessage),
			errors.Is(err, engine.ErrContactMissing),
			errors.Is(err, engine.ErrMessageTooLong),
			errors.Is(err, engine.ErrChannelInvalid):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, "message processing failed")
		}
		return
	}

	status := http.StatusOK
	if reply.Status == domain.RunBlocked && reply.RetryIn > 0 {
		status = http.StatusTooManyRequests
		c.Header("Retry-After", formatSeconds(reply.RetryIn))
	}
	ok(c, status, reply)
}

// authenticate resolves the tenant from the token header. It writes the
// error response itself and reports success in the second return.
func (h *WebhookHandler) authenticate(c *gin.Context) (*domain.Tenant, bool) {
	token := c.GetHeader(webhookTokenHeader)
	if token == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "missing webhook token")
		return nil, false
	}
	tenant, err := repo.GetTenantByWebhookToken(c.Request.Context(), h.DB, token)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid webhook token")
			return nil, false
		}
		middleware.LoggerFrom(c).Error().Err(err).Msg("tenant lookup failed")
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "tenant lookup failed")
		return nil, false
	}
	return tenant, true
}
