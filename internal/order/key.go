// Package order implements the takeaway ordering state machine: menu-based
// item extraction, idempotent order creation, confirmation with conditional
// payment gating, and cancellation rules.
//
// This file derives the order idempotency key. The key is a deterministic
// hash over (tenant, session, normalized phone, items summary, pickup-time
// bucket); the unique index on it is the sole duplicate-suppression
// mechanism under retried or duplicate webhook delivery. Tenant id is a key
// component, so keys can never collide across tenants.
package order

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ttacon/libphonenumber"

	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/domain"
)

// pickupBucket quantizes pickup times so sub-bucket jitter between retries
// still lands on the same key.
const pickupBucket = 15 * time.Minute

// NormalizePhone canonicalizes a phone number to E.164 using defaultRegion
// for national-format input. Input that cannot be parsed degrades to its
// bare digit string so the key stays deterministic.
func NormalizePhone(raw, defaultRegion string) string {
	if defaultRegion == "" {
		defaultRegion = "US"
	}
	p, err := libphonenumber.Parse(raw, defaultRegion)
	if err == nil && libphonenumber.IsValidNumber(p) {
		return libphonenumber.Format(p, libphonenumber.E164)
	}
	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	return digits.String()
}

// itemsSummary renders line items into a canonical, order-independent string.
func itemsSummary(items []domain.OrderItem) string {
	lines := make([]string, 0, len(items))
	for _, it := range items {
		lines = append(lines, fmt.Sprintf("%dx%s|%s", it.Quantity, strings.ToLower(strings.TrimSpace(it.Name)), strings.ToLower(it.Options)))
	}
	sort.Strings(lines)
	return strings.Join(lines, ";")
}

// IdempotencyKey computes the deterministic key for an order-creation
// attempt. pickupTime may be nil (ASAP pickup).
func IdempotencyKey(tenantID, sessionID, normalizedPhone string, items []domain.OrderItem, pickupTime *time.Time) string {
	bucket := "asap"
	if pickupTime != nil {
		bucket = pickupTime.UTC().Truncate(pickupBucket).Format(time.RFC3339)
	}

	itemsHash := sha256.Sum256([]byte(itemsSummary(items)))

	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%s",
		tenantID, sessionID, normalizedPhone, hex.EncodeToString(itemsHash[:]), bucket)
	return hex.EncodeToString(h.Sum(nil))
}
