// Package domain defines the persistence models for tenants, conversation
// sessions, turns, and engine runs. These types are mapped with GORM and form
// the core data layer of the message engine.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// Channel identifies the transport an inbound message arrived on.
type Channel string

// Supported inbound channels.
const (
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelVoice    Channel = "voice"
)

// Valid reports whether c is one of the supported channels.
func (c Channel) Valid() bool {
	switch c {
	case ChannelSMS, ChannelWhatsApp, ChannelVoice:
		return true
	}
	return false
}

// Tenant represents one business customer of the platform. It is the unit of
// isolation for budgets, rate limits, and feature entitlement. Tenants are
// provisioned by an external admin surface; the engine only reads them.
//
// The JSON blob columns (PolicyRules, PaymentConfig, MenuConfig,
// KillSwitches) are parsed through defaulting parse functions in the packages
// that own them; a malformed blob never crashes the pipeline.
type Tenant struct {
	ID           string `json:"id"            gorm:"type:char(36);primaryKey"`
	Name         string `json:"name"          gorm:"type:varchar(255);not null"`
	Industry     string `json:"industry"      gorm:"type:varchar(64);not null;default:''"`
	WebhookToken string `json:"-"             gorm:"type:varchar(64);not null;uniqueIndex"`
	// NotifyPhone receives new-order alerts for the business.
	NotifyPhone string `json:"notify_phone" gorm:"type:varchar(32);not null;default:''"`

	// Entitlement lifecycle state, evaluated by the feature gate.
	SandboxStatus   string `json:"sandbox_status" gorm:"type:varchar(32);not null;default:'required'"`
	BillingStatus   string `json:"billing_status" gorm:"type:varchar(32);not null;default:'inactive'"`
	OnboardingDone  int    `json:"onboarding_done"  gorm:"not null;default:0"`
	OnboardingTotal int    `json:"onboarding_total" gorm:"not null;default:0"`

	// Per-tenant engine tuning.
	RateLimitPerMin     int     `json:"rate_limit_per_min"   gorm:"not null;default:30"`
	ConfidenceThreshold float64 `json:"confidence_threshold" gorm:"not null;default:0.65"`
	SystemPrompt        string  `json:"system_prompt"        gorm:"type:text"`
	FAQText             string  `json:"faq_text"             gorm:"type:text"`
	IndustryFAQText     string  `json:"industry_faq_text"    gorm:"type:text"`

	// JSON blobs; see internal/policy, internal/order for their parsers.
	KillSwitches  string `json:"-" gorm:"type:text"`
	PolicyRules   string `json:"-" gorm:"type:text"`
	PaymentConfig string `json:"-" gorm:"type:text"`
	MenuConfig    string `json:"-" gorm:"type:text"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

// TableName returns the database table name for Tenant.
func (Tenant) TableName() string { return "tenants" }

// Session status values.
const (
	SessionActive = "active"
	SessionClosed = "closed"
)

// Session identifies one ongoing exchange with one external contact on one
// channel. Sessions are created on the first inbound message for a
// (tenant, channel, contact) triple with no active session, updated on every
// turn, and closed rather than deleted.
type Session struct {
	ID           string    `json:"id"          gorm:"type:char(36);primaryKey"`
	TenantID     string    `json:"tenant_id"   gorm:"type:char(36);not null;index:idx_tenant_sessions"`
	Channel      Channel   `json:"channel"     gorm:"type:varchar(16);not null"`
	ContactKey   string    `json:"contact_key" gorm:"type:varchar(128);not null;index:idx_tenant_sessions"`
	Status       string    `json:"status"      gorm:"type:varchar(16);not null;default:'active';check:status IN ('active','closed')"`
	Metadata     string    `json:"-"           gorm:"type:text"` // JSON bag, namespaced keys per handler
	LastActiveAt time.Time `json:"last_active_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for Session.
func (Session) TableName() string { return "sessions" }

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Turn is one message within a session. Turns are immutable once written and
// ordered by creation time; the trailing window forms the LLM context.
type Turn struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	SessionID string    `json:"session_id" gorm:"type:char(36);not null;index:idx_session_turns,priority:1"`
	Role      string    `json:"role"       gorm:"type:varchar(16);not null;check:role IN ('user','assistant','system')"`
	Channel   Channel   `json:"channel"    gorm:"type:varchar(16);not null"`
	Content   string    `json:"content"    gorm:"type:text;not null"`
	Raw       string    `json:"-"          gorm:"type:text"` // provider payload, verbatim
	CreatedAt time.Time `json:"created_at" gorm:"index:idx_session_turns,priority:2"`
}

// TableName returns the database table name for Turn.
func (Turn) TableName() string { return "turns" }

// EngineRun statuses.
const (
	RunSuccess = "success"
	RunHandoff = "handoff"
	RunBlocked = "blocked"
	RunError   = "error"
)

// PlaceholderSessionID is recorded on runs that fail before a session could
// be resolved, so error runs are never lost.
const PlaceholderSessionID = "pre-session"

// EngineRun is the append-only audit record written once per pipeline
// invocation: what was decided, what it cost, and how long it took.
type EngineRun struct {
	ID        string `json:"id"         gorm:"type:char(36);primaryKey"`
	TenantID  string `json:"tenant_id"  gorm:"type:char(36);not null;index"`
	SessionID string `json:"session_id" gorm:"type:char(36);not null;index"`
	Status    string `json:"status"     gorm:"type:varchar(16);not null;check:status IN ('success','handoff','blocked','error')"`

	// Decision payload.
	Intent      string  `json:"intent"       gorm:"type:varchar(64)"`
	Confidence  float64 `json:"confidence"`
	Modules     string  `json:"modules"      gorm:"type:varchar(255)"` // comma-joined candidates
	BlockReason string  `json:"block_reason" gorm:"type:varchar(255)"`

	// Cost accounting.
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	CostMicros   int64  `json:"cost_micros"` // USD millionths
	Model        string `json:"model"        gorm:"type:varchar(64)"`
	DurationMs   int64  `json:"duration_ms"`

	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for EngineRun.
func (EngineRun) TableName() string { return "engine_runs" }
