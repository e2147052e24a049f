// Package httpapi wires the webhook transport (Gin) to the engine: shared
// middleware, health and metrics endpoints, and the channel webhook routes.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/engine"
	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/http/handlers"
	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/http/middleware"
	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/ratelimit"
)

// RegisterRoutes attaches middleware and endpoints to the Gin engine.
//
// Middleware order: RequestID first so every log line and error envelope
// carries the correlation ID, then the access logger, then Recovery so
// panics are logged with request context, then metrics.
func RegisterRoutes(r *gin.Engine, db *gorm.DB, eng *engine.Engine, limiter *ratelimit.Limiter) {
	r.HandleMethodNotAllowed = true

	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.Recovery())
	r.Use(middleware.Metrics())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	wh := handlers.NewWebhookHandler(db, eng)
	r.POST("/webhook/:channel", wh.Receive)

	rl := &handlers.RateLimitHandler{
		DB:           db,
		Limiter:      limiter,
		DefaultLimit: eng.Cfg.DefaultRateLimitPerMin,
	}
	r.GET("/webhook/ratelimit", rl.Status)

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "resource not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})
}
