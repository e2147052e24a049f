package gate

import (
	"testing"

	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/domain"
)

// approvedTenant returns a snapshot that passes every check for restricted
// capabilities.
func approvedTenant() TenantContext {
	return TenantContext{
		Industry:      "hospitality",
		SandboxStatus: SandboxApproved,
		BillingStatus: BillingActive,
		KillSwitches:  map[Capability]bool{},
	}
}

func TestCanUse_NonRestrictedAlwaysAllowed(t *testing.T) {
	tc := TenantContext{SandboxStatus: SandboxRequired, BillingStatus: BillingInactive}
	res := CanUse(Capability("faq"), tc)
	if !res.Allowed {
		t.Fatalf("non-restricted capability denied: %+v", res)
	}
}

func TestCanUse_KillSwitchTakesPrecedence(t *testing.T) {
	tc := approvedTenant()
	tc.KillSwitches[CapTakeaway] = true

	res := CanUse(CapTakeaway, tc)
	if res.Allowed {
		t.Fatal("expected denial")
	}
	if res.BlockedBy != BlockedByKillSwitch {
		t.Fatalf("blockedBy = %q, want %q", res.BlockedBy, BlockedByKillSwitch)
	}
	if len(res.Requires) == 0 {
		t.Fatal("denial must carry next-actions")
	}
}

func TestCanUse_IndustryExclusion(t *testing.T) {
	tc := approvedTenant()
	tc.Industry = "legal"

	res := CanUse(CapTakeaway, tc)
	if res.Allowed || res.BlockedBy != BlockedByIndustry {
		t.Fatalf("got %+v, want industry denial", res)
	}
	// Booking is not excluded for legal.
	if res := CanUse(CapBooking, tc); !res.Allowed {
		t.Fatalf("booking should remain allowed: %+v", res)
	}
}

func TestCanUse_SandboxChain(t *testing.T) {
	cases := []struct {
		status  string
		require string
	}{
		{SandboxRequired, ActionStartSandbox},
		{SandboxInProgress, ActionCompleteSandbox},
		{SandboxPendingReview, ActionAwaitReview},
		{SandboxRevoked, ActionContactSupport},
	}
	for _, c := range cases {
		tc := approvedTenant()
		tc.SandboxStatus = c.status

		res := CanUse(CapWhatsApp, tc)
		if res.Allowed {
			t.Fatalf("%s: expected denial", c.status)
		}
		if res.BlockedBy != BlockedBySandbox {
			t.Fatalf("%s: blockedBy = %q", c.status, res.BlockedBy)
		}
		if len(res.Requires) != 1 || res.Requires[0] != c.require {
			t.Fatalf("%s: requires = %v, want [%s]", c.status, res.Requires, c.require)
		}
	}
}

func TestCanUse_BillingChain(t *testing.T) {
	cases := []struct {
		status  string
		require string
	}{
		{BillingInactive, ActionActivateSubscription},
		{BillingIncomplete, ActionActivateSubscription},
		{BillingPastDue, ActionUpdatePaymentMethod},
		{BillingCanceled, ActionActivateSubscription},
	}
	for _, c := range cases {
		tc := approvedTenant()
		tc.BillingStatus = c.status

		res := CanUse(CapPayment, tc)
		if res.Allowed || res.BlockedBy != BlockedByBilling {
			t.Fatalf("%s: got %+v, want billing denial", c.status, res)
		}
		if len(res.Requires) != 1 || res.Requires[0] != c.require {
			t.Fatalf("%s: requires = %v, want [%s]", c.status, res.Requires, c.require)
		}
	}
}

func TestCanUse_ApprovedAndActiveAllows(t *testing.T) {
	res := CanUse(CapTakeaway, approvedTenant())
	if !res.Allowed {
		t.Fatalf("expected allow, got %+v", res)
	}
}

func TestCanRequestReview(t *testing.T) {
	tc := approvedTenant()
	tc.SandboxStatus = SandboxInProgress
	tc.OnboardingDone = 8
	tc.OnboardingTotal = 10

	if res := CanRequestReview(tc); !res.Allowed {
		t.Fatalf("80%% complete should allow review: %+v", res)
	}

	tc.OnboardingDone = 7
	res := CanRequestReview(tc)
	if res.Allowed {
		t.Fatal("below threshold should deny")
	}
	if res.Reason != "3 onboarding steps remaining before review" {
		t.Fatalf("reason = %q", res.Reason)
	}

	tc.SandboxStatus = SandboxApproved
	if res := CanRequestReview(tc); res.Allowed {
		t.Fatal("review only while in progress")
	}
}

func TestSnapshotFrom_MalformedKillSwitchBlob(t *testing.T) {
	tnt := &domain.Tenant{
		Industry:      "hospitality",
		SandboxStatus: SandboxApproved,
		BillingStatus: BillingActive,
		KillSwitches:  "{not json",
	}
	tc := SnapshotFrom(tnt)
	if len(tc.KillSwitches) != 0 {
		t.Fatalf("malformed blob must degrade to no switches, got %v", tc.KillSwitches)
	}
	if res := CanUse(CapTakeaway, tc); !res.Allowed {
		t.Fatalf("expected allow, got %+v", res)
	}
}

func TestSnapshotFrom_ParsesKillSwitches(t *testing.T) {
	tnt := &domain.Tenant{
		SandboxStatus: SandboxApproved,
		BillingStatus: BillingActive,
		KillSwitches:  `["voice","payment"]`,
	}
	tc := SnapshotFrom(tnt)
	if !tc.KillSwitches[CapVoice] || !tc.KillSwitches[CapPayment] {
		t.Fatalf("switches not parsed: %v", tc.KillSwitches)
	}
}
