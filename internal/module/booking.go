package module

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/collab"
	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/gate"
	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/intent"
)

// Metadata keys owned by the booking handler.
const (
	metaBookingEventID = "booking.eventID"
	metaBookingStart   = "booking.start"
)

// BookingHandler books, reschedules, and cancels appointments through the
// calendar collaborator. The event reference lives in session metadata under
// booking.eventID; when it is missing (session expired, channel switch) the
// handler falls back to a calendar search by session and phone.
type BookingHandler struct {
	Calendar collab.Calendar
	// SlotLength is the appointment duration booked per event.
	SlotLength time.Duration
	Timeout    time.Duration
	// Now is swapped in tests.
	Now func() time.Time
}

func NewBookingHandler(cal collab.Calendar) *BookingHandler {
	return &BookingHandler{
		Calendar:   cal,
		SlotLength: 30 * time.Minute,
		Timeout:    10 * time.Second,
		Now:        time.Now,
	}
}

func (*BookingHandler) Name() string { return intent.ModuleBooking }

func (h *BookingHandler) Handle(ctx context.Context, req *Request) (Result, error) {
	if g := req.CanUse(gate.CapBooking); !g.Allowed {
		return blockedResult("booking", g), nil
	}
	if h.Calendar == nil {
		return Result{
			ReplyText:        "I can't manage bookings right now, but a member of the team will sort this out for you.",
			HandoffTriggered: true,
			HandoffReason:    "calendar collaborator unavailable",
		}, nil
	}

	callCtx := ctx
	if h.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, h.Timeout)
		defer cancel()
	}

	lower := strings.ToLower(req.Text)
	switch {
	case strings.Contains(lower, "cancel"):
		return h.cancel(callCtx, req)
	case strings.Contains(lower, "reschedule") || strings.Contains(lower, "move"):
		return h.reschedule(callCtx, req)
	case strings.Contains(lower, "available") || strings.Contains(lower, "availability") || strings.Contains(lower, "free"):
		return h.availability(callCtx, req)
	default:
		return h.create(callCtx, req)
	}
}

func (h *BookingHandler) availability(ctx context.Context, req *Request) (Result, error) {
	from := h.Now().UTC()
	slots, err := h.Calendar.CheckAvailability(ctx, req.Tenant.ID, from, from.Add(48*time.Hour))
	if err != nil {
		return h.collabFailure(err, "availability check failed")
	}
	if len(slots) == 0 {
		return Result{ReplyText: "I'm afraid there are no open slots in the next two days. Would you like me to check further out?"}, nil
	}
	if len(slots) > 3 {
		slots = slots[:3]
	}
	var b strings.Builder
	b.WriteString("Here's what we have available:")
	for _, s := range slots {
		b.WriteString("\n- " + s.Start.Format("Mon 2 Jan 15:04"))
	}
	b.WriteString("\nWhich one works for you?")
	return Result{ReplyText: b.String()}, nil
}

func (h *BookingHandler) create(ctx context.Context, req *Request) (Result, error) {
	// An event already on file makes a repeat request idempotent.
	if id := h.resolveEventID(ctx, req); id != "" {
		when := req.MetaString(metaBookingStart)
		reply := "You already have a booking with us"
		if when != "" {
			reply += " for " + when
		}
		return Result{ReplyText: reply + ". Would you like to reschedule or cancel it?"}, nil
	}

	start, ok := parseWhen(req.Text, h.Now().UTC())
	if !ok {
		return Result{ReplyText: "Happy to book you in! What day and time suit you?"}, nil
	}
	eventID, err := h.Calendar.CreateEvent(ctx, collab.EventRequest{
		TenantID:      req.Tenant.ID,
		SessionID:     req.Session.ID,
		CustomerName:  req.MetaString(metaContactName),
		CustomerPhone: req.MetaString(metaContactPhone),
		Start:         start,
		End:           start.Add(h.slotLength()),
	})
	if err != nil {
		return h.collabFailure(err, "event creation failed")
	}
	when := start.Format("Mon 2 Jan 15:04")
	return Result{
		ReplyText: "You're booked in for " + when + ". See you then!",
		MetadataUpdates: map[string]any{
			metaBookingEventID: eventID,
			metaBookingStart:   when,
		},
	}, nil
}

func (h *BookingHandler) reschedule(ctx context.Context, req *Request) (Result, error) {
	id := h.resolveEventID(ctx, req)
	if id == "" {
		return Result{ReplyText: "I couldn't find a booking for you. Would you like to make a new one?"}, nil
	}
	start, ok := parseWhen(req.Text, h.Now().UTC())
	if !ok {
		return Result{ReplyText: "Sure, when would you like to move it to?"}, nil
	}
	err := h.Calendar.UpdateEvent(ctx, req.Tenant.ID, id, collab.EventRequest{
		TenantID:  req.Tenant.ID,
		SessionID: req.Session.ID,
		Start:     start,
		End:       start.Add(h.slotLength()),
	})
	if err != nil {
		return h.collabFailure(err, "event update failed")
	}
	when := start.Format("Mon 2 Jan 15:04")
	return Result{
		ReplyText: "Done, your booking is now " + when + ".",
		MetadataUpdates: map[string]any{
			metaBookingEventID: id,
			metaBookingStart:   when,
		},
	}, nil
}

func (h *BookingHandler) cancel(ctx context.Context, req *Request) (Result, error) {
	id := h.resolveEventID(ctx, req)
	if id == "" {
		return Result{ReplyText: "I couldn't find a booking to cancel. Could you give me the name or number it was made under?"}, nil
	}
	if err := h.Calendar.CancelEvent(ctx, req.Tenant.ID, id); err != nil {
		return h.collabFailure(err, "event cancellation failed")
	}
	return Result{
		ReplyText: "Your booking has been canceled. Anything else I can do for you?",
		MetadataUpdates: map[string]any{
			metaBookingEventID: nil,
			metaBookingStart:   nil,
		},
	}, nil
}

// resolveEventID returns the event reference from session metadata, falling
// back to a calendar search. A found event is not written back here; the
// handler action that uses it persists it.
func (h *BookingHandler) resolveEventID(ctx context.Context, req *Request) string {
	if id := req.MetaString(metaBookingEventID); id != "" {
		return id
	}
	id, err := h.Calendar.FindEvent(ctx, req.Tenant.ID, req.Session.ID, req.MetaString(metaContactPhone))
	if err != nil {
		log.Warn().Err(err).Str("tenant_id", req.Tenant.ID).Msg("calendar event lookup failed")
		return ""
	}
	return id
}

func (h *BookingHandler) collabFailure(err error, reason string) (Result, error) {
	log.Error().Err(err).Msg("calendar collaborator error")
	return Result{
		ReplyText:        "Something went wrong on our side with the booking system. A member of the team will follow up with you.",
		HandoffTriggered: true,
		HandoffReason:    reason,
	}, nil
}

func (h *BookingHandler) slotLength() time.Duration {
	if h.SlotLength > 0 {
		return h.SlotLength
	}
	return 30 * time.Minute
}

var (
	timeRE = regexp.MustCompile(`\b(\d{1,2})(?::(\d{2}))?\s*(am|pm)?\b`)
	dayRE  = regexp.MustCompile(`\b(today|tomorrow|monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`)
)

// parseWhen extracts a concrete start time from free text: a weekday or
// today/tomorrow plus a clock time. Anything less specific reports false so
// the handler can ask a clarifying question.
func parseWhen(text string, now time.Time) (time.Time, bool) {
	lower := strings.ToLower(text)
	dm := dayRE.FindString(lower)
	tm := timeRE.FindStringSubmatch(lower)
	if dm == "" || tm == nil {
		return time.Time{}, false
	}

	hour, _ := strconv.Atoi(tm[1])
	minute := 0
	if tm[2] != "" {
		minute, _ = strconv.Atoi(tm[2])
	}
	if tm[3] == "pm" && hour < 12 {
		hour += 12
	}
	if hour > 23 || minute > 59 {
		return time.Time{}, false
	}

	day := now
	switch dm {
	case "today":
	case "tomorrow":
		day = now.AddDate(0, 0, 1)
	default:
		day = nextWeekday(now, dm)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, time.UTC), true
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday,
	"friday": time.Friday, "saturday": time.Saturday,
}

func nextWeekday(now time.Time, name string) time.Time {
	target := weekdays[name]
	d := int(target - now.Weekday())
	if d <= 0 {
		d += 7
	}
	return now.AddDate(0, 0, d)
}
