package module

import (
	"context"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/intent"
	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/order"
)

// Metadata keys owned by the contact handler.
const (
	metaContactAwaiting = "contact.awaiting"
	metaContactName     = "contact.name"
	metaContactPhone    = "contact.phone"
)

// Awaiting states for the two-step collection flow.
const (
	awaitingName  = "name"
	awaitingPhone = "phone"
)

var phoneRE = regexp.MustCompile(`\+?[\d\s().-]{7,20}`)

// nameRE accepts one to four capitalizable word tokens.
var nameRE = regexp.MustCompile(`^[\p{L}'-]+(?:\s+[\p{L}'-]+){0,3}$`)

// ContactHandler collects a caller's name and phone number over two turns,
// tracking progress in session metadata so the flow survives interleaved
// messages. Collected values land under contact.name and contact.phone for
// other modules to read.
type ContactHandler struct {
	// DefaultRegion is the phone-parsing region for numbers without a
	// country prefix.
	DefaultRegion string
}

func (ContactHandler) Name() string { return intent.ModuleContact }

func (h ContactHandler) Handle(_ context.Context, req *Request) (Result, error) {
	switch req.MetaString(metaContactAwaiting) {
	case awaitingName:
		return h.acceptName(req)
	case awaitingPhone:
		return h.acceptPhone(req)
	}
	return Result{
		ReplyText:       "I can take your details. What's your name?",
		MetadataUpdates: map[string]any{metaContactAwaiting: awaitingName},
	}, nil
}

func (h ContactHandler) acceptName(req *Request) (Result, error) {
	raw := strings.TrimSpace(req.Text)
	if raw == "" || !nameRE.MatchString(raw) {
		return Result{ReplyText: "Sorry, I didn't get that. Could you tell me your name?"}, nil
	}
	name := cases.Title(language.English, cases.NoLower).String(raw)
	return Result{
		ReplyText: "Thanks, " + firstWord(name) + ". And what's the best phone number to reach you on?",
		MetadataUpdates: map[string]any{
			metaContactName:     name,
			metaContactAwaiting: awaitingPhone,
		},
	}, nil
}

func (h ContactHandler) acceptPhone(req *Request) (Result, error) {
	match := phoneRE.FindString(req.Text)
	if match == "" {
		return Result{ReplyText: "That doesn't look like a phone number. Could you try again, digits only is fine?"}, nil
	}
	region := h.DefaultRegion
	if region == "" {
		region = "US"
	}
	normalized := order.NormalizePhone(match, region)
	if len(normalized) < 7 {
		return Result{ReplyText: "That doesn't look like a phone number. Could you try again, digits only is fine?"}, nil
	}
	return Result{
		ReplyText: "Got it, thanks! Someone will be in touch soon.",
		MetadataUpdates: map[string]any{
			metaContactPhone:    normalized,
			metaContactAwaiting: nil,
		},
	}, nil
}

func firstWord(s string) string {
	if i := strings.IndexByte(s, ' '); i > 0 {
		return s[:i]
	}
	return s
}
