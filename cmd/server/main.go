// Package main is the entry point for the conversation engine server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/collab"
	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/config"
	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/engine"
	httpapi "github.com/Nanou1412/IA-AGENT-APP-sub000/internal/http"
	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/intent"
	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/llm"
	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/module"
	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/order"
	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/ratelimit"
	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/repo"
	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/session"
	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/sysutil"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := config.MustLoad()
	sysutil.SetupLogging(cfg.LogLevel, cfg.LogPretty)
	gin.SetMode(cfg.GinMode)

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}

	limiter, err := ratelimit.New(cfg.Engine.MaxTrackedTenants)
	if err != nil {
		log.Fatal().Err(err).Msg("init rate limiter")
	}

	llmClient := llm.NewOpenAIClient(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.Timeout, cfg.LLM.MaxRetries)
	if !llmClient.IsConfigured() {
		log.Warn().Msg("OPENAI_API_KEY not set; classification falls back to handoff")
	}

	// Payment, notification and budget collaborators. The deterministic
	// implementations stand in until live provider credentials are wired;
	// in test mode they are always used.
	var (
		payments collab.PaymentProvider = &collab.FakePaymentProvider{}
		notifier collab.Notifier        = collab.NopNotifier{}
		budget   collab.Budget          = collab.UnlimitedBudget{}
	)
	if cfg.Engine.TestMode {
		log.Info().Msg("test mode: deterministic payment links, no outbound notifications")
	}

	machine := order.NewMachine(db, payments, notifier)
	machine.AttemptCeiling = cfg.Engine.PaymentAttemptCeiling
	machine.LinkExpiry = cfg.Engine.PaymentLinkExpiry
	machine.CollabTimeout = cfg.Engine.CollaboratorTimeout

	takeaway := module.NewTakeawayHandler(db, machine)
	takeaway.ClarifyCeiling = cfg.Engine.ClarificationCeiling
	takeaway.PickupExpiry = cfg.Engine.OrderExpiry

	registry := module.NewRegistry(
		module.GreetingHandler{},
		module.GoodbyeHandler{},
		module.HandoffHandler{},
		module.ContactHandler{},
		&module.FAQHandler{LLM: llmClient, Budget: budget, Model: cfg.LLM.Model, Timeout: cfg.LLM.Timeout},
		// No calendar collaborator is configured yet; booking requests
		// escalate to a human instead of falling through as unknown.
		module.NewBookingHandler(nil),
		takeaway,
	)

	sessions := session.NewManager(db, cfg.Engine.HistoryWindow)
	eng := engine.New(db, limiter, sessions, intent.NewRouter(llmClient), registry, budget, cfg.Engine, cfg.LLM.Model)

	r := gin.New()
	httpapi.RegisterRoutes(r, db, eng, limiter)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	log.Info().Msg("server stopped")
}
