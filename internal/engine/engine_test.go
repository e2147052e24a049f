package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/collab"
	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/config"
	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/domain"
	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/intent"
	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/llm"
	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/module"
	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/order"
	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/ratelimit"
	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/repo"
	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/session"
)

type fakeLLM struct {
	configured  bool
	classifyRes *llm.ClassifyResult
	classifyErr error
	generateRes *llm.GenerateResult
}

func (f *fakeLLM) IsConfigured() bool { return f.configured }

func (f *fakeLLM) ClassifyIntent(context.Context, llm.ClassifyRequest) (*llm.ClassifyResult, error) {
	return f.classifyRes, f.classifyErr
}

func (f *fakeLLM) GenerateResponse(context.Context, llm.GenerateRequest) (*llm.GenerateResult, error) {
	if f.generateRes == nil {
		return &llm.GenerateResult{Text: "generated answer"}, nil
	}
	return f.generateRes, nil
}

func (f *fakeLLM) ChatCompletionWithFunctions(context.Context, []llm.ChatMessage, []llm.FunctionDef, llm.FunctionCallOptions) (*llm.FunctionCallResult, error) {
	return nil, errors.New("not used")
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func testTenant() *domain.Tenant {
	return &domain.Tenant{
		ID:                  "t1",
		Name:                "Luigi's",
		WebhookToken:        "tok-1",
		SandboxStatus:       "approved",
		BillingStatus:       "active",
		RateLimitPerMin:     30,
		ConfidenceThreshold: 0.65,
		FAQText:             "Opening hours: 9am to 5pm Monday to Friday.",
		MenuConfig:          `{"currency":"EUR","items":[{"name":"Margherita Pizza","price":9.5,"keywords":["margherita"]}]}`,
		NotifyPhone:         "+15550009999",
	}
}

func newTestEngine(t *testing.T, client llm.Client) *Engine {
	t.Helper()
	db := newTestDB(t)
	limiter, err := ratelimit.New(100)
	if err != nil {
		t.Fatalf("limiter: %v", err)
	}
	machine := order.NewMachine(db, &collab.FakePaymentProvider{}, collab.NopNotifier{})
	registry := module.NewRegistry(
		module.GreetingHandler{},
		module.GoodbyeHandler{},
		module.HandoffHandler{},
		module.ContactHandler{DefaultRegion: "US"},
		module.FAQHandler{LLM: client},
		module.NewTakeawayHandler(db, machine),
	)
	cfg := config.EngineConfig{
		DefaultRateLimitPerMin: 30,
		DefaultConfidence:      0.65,
		HistoryWindow:          5,
		MaxTurnsPerSession:     50,
		MaxPromptRunes:         2000,
	}
	return New(db, limiter, session.NewManager(db, 5), intent.NewRouter(client), registry, collab.UnlimitedBudget{}, cfg, "gpt-4o-mini")
}

func inbound(text string) InboundMessage {
	return InboundMessage{Channel: domain.ChannelSMS, From: "+15551234567", Text: text}
}

func classification(name string, confidence float64) *fakeLLM {
	return &fakeLLM{configured: true, classifyRes: &llm.ClassifyResult{Intent: name, Confidence: confidence}}
}

func TestProcess_ValidationErrors(t *testing.T) {
	e := newTestEngine(t, classification("greeting", 0.9))
	ctx := context.Background()

	if _, err := e.Process(ctx, nil, inbound("hi")); !errors.Is(err, ErrTenantMissing) {
		t.Fatalf("nil tenant: %v", err)
	}
	in := inbound("hi")
	in.Channel = "carrier-pigeon"
	if _, err := e.Process(ctx, testTenant(), in); !errors.Is(err, ErrChannelInvalid) {
		t.Fatalf("bad channel: %v", err)
	}
	if _, err := e.Process(ctx, testTenant(), inbound("   ")); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("empty text: %v", err)
	}
	if _, err := e.Process(ctx, testTenant(), inbound(strings.Repeat("x", 3000))); !errors.Is(err, ErrMessageTooLong) {
		t.Fatalf("oversized text: %v", err)
	}
}

func TestProcess_GreetingSuccess(t *testing.T) {
	e := newTestEngine(t, classification("greeting", 0.95))
	reply, err := e.Process(context.Background(), testTenant(), inbound("hello there"))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if reply.Status != domain.RunSuccess {
		t.Fatalf("status = %s, want success", reply.Status)
	}
	if !strings.Contains(reply.Text, "Luigi's") {
		t.Fatalf("expected greeting, got %q", reply.Text)
	}
	if reply.SessionID == "" {
		t.Fatalf("reply should carry the session id")
	}
	if reply.RunID == "" {
		t.Fatalf("reply should carry the run id")
	}
}

func TestProcess_HighRiskInputHandsOffBeforeClassification(t *testing.T) {
	// The classifier would say greeting; the input screen must win first.
	client := classification("greeting", 0.99)
	e := newTestEngine(t, client)

	reply, err := e.Process(context.Background(), testTenant(), inbound("I am going to sue you"))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if reply.Status != domain.RunHandoff || !reply.Handoff {
		t.Fatalf("high-risk input must hand off, got %+v", reply)
	}
	if reply.HandoffReason != "high-risk:legal" {
		t.Fatalf("handoff reason = %q, want high-risk:legal", reply.HandoffReason)
	}
}

func TestProcess_LowConfidenceHandsOff(t *testing.T) {
	e := newTestEngine(t, classification("faq", 0.40))
	reply, err := e.Process(context.Background(), testTenant(), inbound("erm about the thing"))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if reply.Status != domain.RunHandoff {
		t.Fatalf("status = %s, want handoff", reply.Status)
	}
	if reply.HandoffReason != "low confidence (0.40 < 0.65)" {
		t.Fatalf("reason = %q", reply.HandoffReason)
	}
}

func TestProcess_UnconfiguredLLMFailsSafe(t *testing.T) {
	e := newTestEngine(t, &fakeLLM{configured: false})
	reply, err := e.Process(context.Background(), testTenant(), inbound("what are your opening hours?"))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if reply.Status != domain.RunHandoff {
		t.Fatalf("unconfigured classifier must fail safe to handoff, got %+v", reply)
	}
}

func TestProcess_RateLimitBlocks(t *testing.T) {
	e := newTestEngine(t, classification("greeting", 0.9))
	tenant := testTenant()
	tenant.RateLimitPerMin = 2
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := e.Process(ctx, tenant, inbound("hi")); err != nil {
			t.Fatalf("message %d: %v", i+1, err)
		}
	}
	reply, err := e.Process(ctx, tenant, inbound("hi"))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if reply.Status != domain.RunBlocked || reply.BlockedBy != ratelimit.ReasonRateLimit {
		t.Fatalf("expected rate-limit block, got %+v", reply)
	}
	if reply.RetryIn <= 0 {
		t.Fatalf("rate-limit block should say when to retry")
	}
}

func TestProcess_SandboxTenantBlockedOnChannel(t *testing.T) {
	e := newTestEngine(t, classification("greeting", 0.9))
	tenant := testTenant()
	tenant.SandboxStatus = "required"

	got, err := e.Process(context.Background(), tenant, inbound("hello"))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if got.Status != domain.RunBlocked || got.BlockedBy != "sandbox" {
		t.Fatalf("unapproved tenant must be blocked at the channel, got %+v", got)
	}
}

func TestProcess_OutputScrubApplied(t *testing.T) {
	client := classification("faq", 0.9)
	client.generateRes = &llm.GenerateResult{Text: "As an AI language model, we open at 9am.", ModelUsed: "gpt-4o-mini"}
	e := newTestEngine(t, client)

	reply, err := e.Process(context.Background(), testTenant(), inbound("what are your opening hours?"))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	lower := strings.ToLower(reply.Text)
	if strings.Contains(lower, "ai") || strings.Contains(lower, "language model") {
		t.Fatalf("self-disclosure leaked: %q", reply.Text)
	}
}

func TestProcess_GoodbyeClosesSession(t *testing.T) {
	e := newTestEngine(t, classification("goodbye", 0.95))
	tenant := testTenant()
	ctx := context.Background()

	reply, err := e.Process(ctx, tenant, inbound("bye!"))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !reply.SessionEnded {
		t.Fatalf("goodbye should end the session")
	}

	// The next message starts a fresh session.
	next, err := e.Process(ctx, tenant, inbound("bye!"))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if next.SessionID == reply.SessionID {
		t.Fatalf("closed session must not be reused")
	}
}

func TestProcess_OrderFlowEndToEnd(t *testing.T) {
	client := classification("order.start", 0.9)
	e := newTestEngine(t, client)
	tenant := testTenant()
	ctx := context.Background()

	reply, err := e.Process(ctx, tenant, inbound("2 margheritas please"))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !strings.Contains(strings.ToLower(reply.Text), "name") {
		t.Fatalf("expected name question, got %q", reply.Text)
	}

	reply, err = e.Process(ctx, tenant, inbound("Alice"))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !strings.Contains(reply.Text, "2x Margherita Pizza") {
		t.Fatalf("expected summary, got %q", reply.Text)
	}

	client.classifyRes = &llm.ClassifyResult{Intent: "order.confirm", Confidence: 0.9}
	reply, err = e.Process(ctx, tenant, inbound("yes"))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !strings.Contains(reply.Text, "confirmed") {
		t.Fatalf("expected confirmation, got %q", reply.Text)
	}

	var count int64
	if err := e.DB.Model(&domain.Order{}).Where("status = ?", domain.OrderConfirmed).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one confirmed order, got %d", count)
	}
}

// trackingBudget counts checks and captures what gets charged.
type trackingBudget struct {
	denyAll   bool
	requires  int
	recorded  int64
	tokensIn  int
	tokensOut int
}

func (b *trackingBudget) RequireBudget(_ context.Context, tenantID string, estimated int64) error {
	b.requires++
	if b.denyAll {
		return &collab.BudgetExceededError{TenantID: tenantID, EstimatedMicros: estimated}
	}
	return nil
}

func (b *trackingBudget) RecordCost(_ context.Context, _ string, micros int64, in, out int) {
	b.recorded += micros
	b.tokensIn += in
	b.tokensOut += out
}

func loadSingleRun(t *testing.T, e *Engine, tenantID string) domain.EngineRun {
	t.Helper()
	runs, err := repo.ListEngineRuns(context.Background(), e.DB, tenantID, 0, 10)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected one run record, got %d", len(runs))
	}
	return runs[0]
}

func TestProcess_BudgetExhaustedBlocksBeforeClassifier(t *testing.T) {
	e := newTestEngine(t, classification("greeting", 0.9))
	budget := &trackingBudget{denyAll: true}
	e.Budget = budget
	tenant := testTenant()

	reply, err := e.Process(context.Background(), tenant, inbound("hello"))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if reply.Status != domain.RunBlocked || reply.BlockedBy != "budget" {
		t.Fatalf("expected budget block, got %+v", reply)
	}
	if budget.requires != 1 {
		t.Fatalf("budget must be checked exactly once, got %d", budget.requires)
	}
	if budget.recorded != 0 {
		t.Fatalf("nothing may be charged when the call never ran, got %d", budget.recorded)
	}
	run := loadSingleRun(t, e, tenant.ID)
	if run.Model != "" || run.CostMicros != 0 || run.InputTokens != 0 {
		t.Fatalf("blocked run must carry no cost, got %+v", run)
	}
}

func TestProcess_FailedClassifierChargesNothing(t *testing.T) {
	e := newTestEngine(t, &fakeLLM{configured: true, classifyErr: errors.New("upstream 500")})
	budget := &trackingBudget{}
	e.Budget = budget
	tenant := testTenant()

	reply, err := e.Process(context.Background(), tenant, inbound("what are your opening hours?"))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if reply.Status != domain.RunHandoff {
		t.Fatalf("classifier failure must fail safe, got %+v", reply)
	}
	if budget.recorded != 0 || budget.tokensIn != 0 {
		t.Fatalf("failed call must not be charged, got %+v", budget)
	}
	run := loadSingleRun(t, e, tenant.ID)
	if run.Model != "" || run.CostMicros != 0 {
		t.Fatalf("failed call must not appear as cost on the run, got %+v", run)
	}
}

func TestProcess_SuccessfulClassifierRecordsCost(t *testing.T) {
	e := newTestEngine(t, classification("greeting", 0.9))
	budget := &trackingBudget{}
	e.Budget = budget
	tenant := testTenant()

	if _, err := e.Process(context.Background(), tenant, inbound("hello")); err != nil {
		t.Fatalf("process: %v", err)
	}
	if budget.requires != 1 {
		t.Fatalf("budget must be checked before the call, got %d checks", budget.requires)
	}
	if budget.recorded <= 0 || budget.tokensIn == 0 || budget.tokensOut == 0 {
		t.Fatalf("actual cost must be recorded, got %+v", budget)
	}
	run := loadSingleRun(t, e, tenant.ID)
	if run.CostMicros != budget.recorded {
		t.Fatalf("run cost %d does not match the recorded charge %d", run.CostMicros, budget.recorded)
	}
}

func TestProcess_WritesRunRecord(t *testing.T) {
	e := newTestEngine(t, classification("greeting", 0.9))
	tenant := testTenant()

	reply, err := e.Process(context.Background(), tenant, inbound("hello"))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	runs, err := repo.ListEngineRuns(context.Background(), e.DB, tenant.ID, 0, 10)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected one run record, got %d", len(runs))
	}
	run := runs[0]
	if run.Status != domain.RunSuccess || run.Intent != "greeting" {
		t.Fatalf("unexpected run record: %+v", run)
	}
	if run.SessionID == domain.PlaceholderSessionID {
		t.Fatalf("successful run should carry the real session id")
	}
	if run.ID != reply.RunID {
		t.Fatalf("run id %s does not match reply %s", run.ID, reply.RunID)
	}
}
