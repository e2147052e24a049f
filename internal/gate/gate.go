// Package gate computes feature entitlement for tenants.
//
// A capability is a named feature area. Non-restricted capabilities are
// always allowed; restricted ones run through an ordered decision chain over
// the tenant's snapshot: kill switch, industry profile, sandbox lifecycle,
// billing state. Every denial carries a machine-readable BlockedBy tag and a
// list of next-actions so callers can render actionable guidance without
// re-deriving the reason.
package gate

import (
	"encoding/json"
	"fmt"

	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/domain"
)

// Capability names a potentially gated feature area.
type Capability string

// Restricted capabilities. Anything else is allowed unconditionally.
const (
	CapVoice    Capability = "voice"
	CapSMS      Capability = "sms"
	CapWhatsApp Capability = "whatsapp"
	CapPayment  Capability = "payment"
	CapBooking  Capability = "booking"
	CapTakeaway Capability = "takeaway"
)

// restricted is the fixed set of gated capabilities.
var restricted = map[Capability]bool{
	CapVoice:    true,
	CapSMS:      true,
	CapWhatsApp: true,
	CapPayment:  true,
	CapBooking:  true,
	CapTakeaway: true,
}

// Sandbox lifecycle states, in progression order.
const (
	SandboxRequired      = "required"
	SandboxInProgress    = "in_progress"
	SandboxPendingReview = "pending_review"
	SandboxApproved      = "approved"
	SandboxRevoked       = "revoked"
)

// Billing states.
const (
	BillingActive     = "active"
	BillingInactive   = "inactive"
	BillingIncomplete = "incomplete"
	BillingPastDue    = "past_due"
	BillingCanceled   = "canceled"
)

// Denial tags carried in Result.BlockedBy.
const (
	BlockedByKillSwitch = "kill_switch"
	BlockedByIndustry   = "industry"
	BlockedBySandbox    = "sandbox"
	BlockedByBilling    = "billing"
)

// Next-action hints carried in Result.Requires.
const (
	ActionStartSandbox         = "start_sandbox"
	ActionCompleteSandbox      = "complete_sandbox"
	ActionAwaitReview          = "await_review"
	ActionContactSupport       = "contact_support"
	ActionActivateSubscription = "activate_subscription"
	ActionUpdatePaymentMethod  = "update_payment_method"
)

// Result is the value object returned from every gate check. It is never
// persisted.
type Result struct {
	Allowed   bool     `json:"allowed"`
	Reason    string   `json:"reason,omitempty"`
	BlockedBy string   `json:"blocked_by,omitempty"`
	Requires  []string `json:"requires,omitempty"`
}

// TenantContext is the read-only snapshot the gate evaluates. Build one with
// SnapshotFrom.
type TenantContext struct {
	Industry        string
	SandboxStatus   string
	BillingStatus   string
	KillSwitches    map[Capability]bool
	OnboardingDone  int
	OnboardingTotal int
}

// SnapshotFrom derives a gate snapshot from a tenant row. A malformed
// kill-switch blob degrades to no switches rather than failing the check.
func SnapshotFrom(t *domain.Tenant) TenantContext {
	ctx := TenantContext{
		Industry:        t.Industry,
		SandboxStatus:   t.SandboxStatus,
		BillingStatus:   t.BillingStatus,
		KillSwitches:    map[Capability]bool{},
		OnboardingDone:  t.OnboardingDone,
		OnboardingTotal: t.OnboardingTotal,
	}
	if t.KillSwitches != "" {
		var names []string
		if err := json.Unmarshal([]byte(t.KillSwitches), &names); err == nil {
			for _, n := range names {
				ctx.KillSwitches[Capability(n)] = true
			}
		}
	}
	return ctx
}

// industryExclusions lists capabilities a vertical profile rules out
// regardless of entitlement state.
var industryExclusions = map[string][]Capability{
	"legal":   {CapTakeaway, CapPayment},
	"medical": {CapTakeaway, CapPayment},
	"finance": {CapTakeaway},
}

// reviewThreshold is the fraction of onboarding steps that must be complete
// before a sandbox review can be requested.
const reviewThreshold = 0.8

// CanUse evaluates the decision chain for cap against the tenant snapshot.
// Order matters: the kill switch wins over every other check.
func CanUse(cap Capability, tc TenantContext) Result {
	if !restricted[cap] {
		return Result{Allowed: true}
	}

	if tc.KillSwitches[cap] {
		return Result{
			Reason:    fmt.Sprintf("%s is temporarily disabled", cap),
			BlockedBy: BlockedByKillSwitch,
			Requires:  []string{ActionContactSupport},
		}
	}

	for _, excluded := range industryExclusions[tc.Industry] {
		if excluded == cap {
			return Result{
				Reason:    fmt.Sprintf("%s is not available for the %s industry", cap, tc.Industry),
				BlockedBy: BlockedByIndustry,
				Requires:  []string{ActionContactSupport},
			}
		}
	}

	if tc.SandboxStatus != SandboxApproved {
		return sandboxDenial(tc.SandboxStatus)
	}

	if tc.BillingStatus != BillingActive {
		return billingDenial(tc.BillingStatus)
	}

	return Result{Allowed: true}
}

// CanRequestReview reports whether the tenant may ask for sandbox review:
// only while in progress and with at least 80% of onboarding steps complete.
func CanRequestReview(tc TenantContext) Result {
	if tc.SandboxStatus != SandboxInProgress {
		return Result{
			Reason:    fmt.Sprintf("review can only be requested while sandbox is in progress (current: %s)", tc.SandboxStatus),
			BlockedBy: BlockedBySandbox,
		}
	}
	if tc.OnboardingTotal <= 0 {
		return Result{
			Reason:    "no onboarding steps are configured",
			BlockedBy: BlockedBySandbox,
			Requires:  []string{ActionContactSupport},
		}
	}
	frac := float64(tc.OnboardingDone) / float64(tc.OnboardingTotal)
	if frac < reviewThreshold {
		remaining := tc.OnboardingTotal - tc.OnboardingDone
		return Result{
			Reason:    fmt.Sprintf("%d onboarding steps remaining before review", remaining),
			BlockedBy: BlockedBySandbox,
			Requires:  []string{ActionCompleteSandbox},
		}
	}
	return Result{Allowed: true}
}

// sandboxDenial maps a non-approved lifecycle state to its denial, with a
// sub-reason per stage.
func sandboxDenial(status string) Result {
	r := Result{BlockedBy: BlockedBySandbox}
	switch status {
	case SandboxRequired:
		r.Reason = "sandbox: required"
		r.Requires = []string{ActionStartSandbox}
	case SandboxInProgress:
		r.Reason = "sandbox: in_progress"
		r.Requires = []string{ActionCompleteSandbox}
	case SandboxPendingReview:
		r.Reason = "sandbox: pending_review"
		r.Requires = []string{ActionAwaitReview}
	case SandboxRevoked:
		r.Reason = "sandbox: revoked"
		r.Requires = []string{ActionContactSupport}
	default:
		r.Reason = "sandbox: " + status
		r.Requires = []string{ActionStartSandbox}
	}
	return r
}

// billingDenial maps a non-active billing state to its denial, with a
// sub-reason per state.
func billingDenial(status string) Result {
	r := Result{BlockedBy: BlockedByBilling}
	switch status {
	case BillingInactive, BillingIncomplete, BillingCanceled:
		r.Reason = "billing: " + status
		r.Requires = []string{ActionActivateSubscription}
	case BillingPastDue:
		r.Reason = "billing: past_due"
		r.Requires = []string{ActionUpdatePaymentMethod}
	default:
		r.Reason = "billing: " + status
		r.Requires = []string{ActionActivateSubscription}
	}
	return r
}
