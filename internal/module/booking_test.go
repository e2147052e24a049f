package module

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/collab"
	"github.com/Nanou1412/IA-AGENT-APP-sub000/internal/gate"
)

type fakeCalendar struct {
	slots     []collab.Slot
	createdID string
	createErr error
	created   []collab.EventRequest
	updated   []string
	canceled  []string
	foundID   string
	findErr   error
}

func (f *fakeCalendar) CheckAvailability(context.Context, string, time.Time, time.Time) ([]collab.Slot, error) {
	return f.slots, nil
}

func (f *fakeCalendar) CreateEvent(_ context.Context, req collab.EventRequest) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created = append(f.created, req)
	if f.createdID == "" {
		return "ev-1", nil
	}
	return f.createdID, nil
}

func (f *fakeCalendar) UpdateEvent(_ context.Context, _, eventID string, _ collab.EventRequest) error {
	f.updated = append(f.updated, eventID)
	return nil
}

func (f *fakeCalendar) CancelEvent(_ context.Context, _, eventID string) error {
	f.canceled = append(f.canceled, eventID)
	return nil
}

func (f *fakeCalendar) FindEvent(context.Context, string, string, string) (string, error) {
	return f.foundID, f.findErr
}

func fixedNow() time.Time {
	return time.Date(2026, 3, 13, 10, 0, 0, 0, time.UTC) // a Friday
}

func newBooking(cal *fakeCalendar) *BookingHandler {
	h := NewBookingHandler(cal)
	h.Now = fixedNow
	return h
}

func TestBooking_GateDenied(t *testing.T) {
	h := newBooking(&fakeCalendar{})
	req := baseRequest()
	req.CanUse = func(gate.Capability) gate.Result {
		return gate.Result{Reason: "sandbox: required", BlockedBy: gate.BlockedBySandbox}
	}
	req.Text = "book me in tomorrow at 3pm"

	res, err := h.Handle(context.Background(), req)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if res.BlockedBy != gate.BlockedBySandbox {
		t.Fatalf("expected gate denial, got %+v", res)
	}
}

func TestBooking_CreateWithConcreteTime(t *testing.T) {
	cal := &fakeCalendar{}
	h := newBooking(cal)
	req := baseRequest()
	req.Text = "can I come in tomorrow at 3pm"
	req.Metadata[metaContactName] = "Alice"

	res, err := h.Handle(context.Background(), req)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(cal.created) != 1 {
		t.Fatalf("expected one event, got %d", len(cal.created))
	}
	ev := cal.created[0]
	want := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)
	if !ev.Start.Equal(want) {
		t.Fatalf("start = %v, want %v", ev.Start, want)
	}
	if ev.CustomerName != "Alice" {
		t.Fatalf("contact name not carried onto the event")
	}
	if res.MetadataUpdates[metaBookingEventID] != "ev-1" {
		t.Fatalf("event id not stored in metadata: %+v", res.MetadataUpdates)
	}
}

func TestBooking_VagueTimeAsksBack(t *testing.T) {
	cal := &fakeCalendar{}
	h := newBooking(cal)
	req := baseRequest()
	req.Text = "I'd like to book an appointment"

	res, err := h.Handle(context.Background(), req)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(cal.created) != 0 {
		t.Fatalf("no event should be created from a vague request")
	}
	if !strings.Contains(strings.ToLower(res.ReplyText), "time") {
		t.Fatalf("expected a clarifying question, got %q", res.ReplyText)
	}
}

func TestBooking_RepeatRequestIsIdempotent(t *testing.T) {
	cal := &fakeCalendar{}
	h := newBooking(cal)
	req := baseRequest()
	req.Text = "book me tomorrow at 3pm"
	req.Metadata[metaBookingEventID] = "ev-9"

	res, err := h.Handle(context.Background(), req)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(cal.created) != 0 {
		t.Fatalf("existing booking must not be duplicated")
	}
	if !strings.Contains(res.ReplyText, "already have a booking") {
		t.Fatalf("expected already-booked reply, got %q", res.ReplyText)
	}
}

func TestBooking_CancelFallsBackToCalendarSearch(t *testing.T) {
	cal := &fakeCalendar{foundID: "ev-7"}
	h := newBooking(cal)
	req := baseRequest()
	req.Text = "please cancel my appointment"

	res, err := h.Handle(context.Background(), req)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(cal.canceled) != 1 || cal.canceled[0] != "ev-7" {
		t.Fatalf("expected cancel of ev-7, got %v", cal.canceled)
	}
	if v, ok := res.MetadataUpdates[metaBookingEventID]; !ok || v != nil {
		t.Fatalf("event reference should be cleared, got %v", v)
	}
}

func TestBooking_RescheduleMovesEvent(t *testing.T) {
	cal := &fakeCalendar{}
	h := newBooking(cal)
	req := baseRequest()
	req.Text = "can we reschedule to monday at 9:30"
	req.Metadata[metaBookingEventID] = "ev-2"

	_, err := h.Handle(context.Background(), req)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(cal.updated) != 1 || cal.updated[0] != "ev-2" {
		t.Fatalf("expected update of ev-2, got %v", cal.updated)
	}
}

func TestBooking_CollaboratorFailureHandsOff(t *testing.T) {
	cal := &fakeCalendar{createErr: errors.New("calendar 500")}
	h := newBooking(cal)
	req := baseRequest()
	req.Text = "book me tomorrow at 3pm"

	res, err := h.Handle(context.Background(), req)
	if err != nil {
		t.Fatalf("collaborator failure must not surface as an error: %v", err)
	}
	if !res.HandoffTriggered {
		t.Fatalf("collaborator failure should hand off, got %+v", res)
	}
}

func TestParseWhen(t *testing.T) {
	now := fixedNow()
	cases := []struct {
		text string
		want time.Time
		ok   bool
	}{
		{"tomorrow at 3pm", time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC), true},
		{"today at 11:15", time.Date(2026, 3, 13, 11, 15, 0, 0, time.UTC), true},
		{"monday at 9:30", time.Date(2026, 3, 16, 9, 30, 0, 0, time.UTC), true},
		{"sometime next week", time.Time{}, false},
		{"at 3pm", time.Time{}, false}, // no day
	}
	for _, tc := range cases {
		got, ok := parseWhen(tc.text, now)
		if ok != tc.ok {
			t.Errorf("parseWhen(%q) ok = %v, want %v", tc.text, ok, tc.ok)
			continue
		}
		if ok && !got.Equal(tc.want) {
			t.Errorf("parseWhen(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}
