package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func serveWithHeaders(tls bool) *httptest.ResponseRecorder {
	handler := SecurityHeaders(tls)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/twilio-voice/dialer", nil))
	return rr
}

func TestSecurityHeadersSetAllHeaders(t *testing.T) {
	rr := serveWithHeaders(false)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected handler status 201, got %d", rr.Code)
	}
	expected := map[string]string{
		"X-Frame-Options":        "DENY",
		"X-Content-Type-Options": "nosniff",
		"Referrer-Policy":        "no-referrer",
		"Cache-Control":          "no-store",
	}
	for header, want := range expected {
		if got := rr.Header().Get(header); got != want {
			t.Errorf("%s: expected %q, got %q", header, want, got)
		}
	}

	csp := rr.Header().Get("Content-Security-Policy")
	for _, d := range []string{"default-src 'none'", "frame-ancestors 'none'"} {
		if !strings.Contains(csp, d) {
			t.Errorf("CSP missing directive %q in: %s", d, csp)
		}
	}
}

func TestSecurityHeadersHSTS(t *testing.T) {
	if got := serveWithHeaders(false).Header().Get("Strict-Transport-Security"); got != "" {
		t.Fatalf("expected no HSTS without TLS, got %q", got)
	}
	if got := serveWithHeaders(true).Header().Get("Strict-Transport-Security"); got != "max-age=63072000; includeSubDomains" {
		t.Fatalf("unexpected HSTS value: %q", got)
	}
}
