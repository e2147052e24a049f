package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func init() { gin.SetMode(gin.TestMode) }

func TestRedact(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"", ""},
		{"call me at +1 555 123-4567 please", "call me at [phone] please"},
		{"order 550e8400-e29b-41d4-a716-446655440000 shipped", "order [uuid] shipped"},
		{"contact bob@example.com", "contact [email]"},
		{"no pii here", "no pii here"},
		// uuid digit runs must not be half-eaten by the phone pattern
		{"id=550e8400-e29b-41d4-a716-446655440000&to=+442079460958", "id=[uuid]&to=[phone]"},
	}
	for _, tc := range cases {
		if got := Redact(tc.in); got != tc.want {
			t.Fatalf("Redact(%q) = %q; want %q", tc.in, got, tc.want)
		}
	}
}

func TestMaskedHeaderValue(t *testing.T) {
	if got := MaskedHeaderValue("X-Webhook-Token", "tok-secret"); got != "[REDACTED]" {
		t.Fatalf("token header leaked: %q", got)
	}
	if got := MaskedHeaderValue("Authorization", "Bearer abc"); got != "[REDACTED]" {
		t.Fatalf("authorization leaked: %q", got)
	}
	if got := MaskedHeaderValue("X-Custom", "reach me at +15551234567"); got != "reach me at [phone]" {
		t.Fatalf("custom header not scrubbed: %q", got)
	}
}

func TestRequestID_GeneratesAndEchoes(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	var seen string
	r.GET("/", func(c *gin.Context) {
		seen = RequestIDFrom(c)
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if seen == "" {
		t.Fatalf("no request id in context")
	}
	if got := w.Header().Get("X-Request-ID"); got != seen {
		t.Fatalf("response header %q, context %q", got, seen)
	}
}

func TestRequestID_PropagatesIncoming(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "rid-42")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "rid-42" {
		t.Fatalf("header = %q, want rid-42", got)
	}
}

func TestRecovery_ConvertsPanicTo500(t *testing.T) {
	r := gin.New()
	r.Use(RequestID(), Logger(), Recovery())
	r.GET("/boom", func(*gin.Context) { panic("kaboom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "internal_error") {
		t.Fatalf("body = %s", w.Body.String())
	}
}
