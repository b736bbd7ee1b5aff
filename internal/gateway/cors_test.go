package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/FeelPulse/repostalker/internal/config"
)

func TestCORSAllowed(t *testing.T) {
	c, err := NewCORS(config.Default().Gateway.AllowedOrigins)
	if err != nil {
		t.Fatalf("NewCORS failed: %v", err)
	}

	tests := []struct {
		origin string
		want   bool
	}{
		{"http://localhost:5173", true},
		{"http://localhost:3000", true},
		{"https://preview-123.lovableproject.com", true},
		{"https://myapp.lovable.app", true},
		{"http://myapp.lovable.app", false},
		{"https://lovable.app.evil.com", false},
		{"http://localhost:8080", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := c.Allowed(tt.origin); got != tt.want {
			t.Errorf("Allowed(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
}

func TestCORSInvalidPattern(t *testing.T) {
	if _, err := NewCORS([]string{"^https://(unclosed$"}); err == nil {
		t.Error("expected error for invalid pattern")
	}
}

func TestCORSMiddleware(t *testing.T) {
	c, _ := NewCORS([]string{"http://localhost:5173"})
	called := false
	h := c.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name       string
		method     string
		origin     string
		wantStatus int
		wantOrigin string
		wantMethod string
		wantCalled bool
	}{
		{"preflight allowed", http.MethodOptions, "http://localhost:5173", http.StatusNoContent, "http://localhost:5173", "POST, GET, OPTIONS", false},
		{"preflight denied", http.MethodOptions, "https://evil.example", http.StatusNoContent, "null", "", false},
		{"post allowed", http.MethodPost, "http://localhost:5173", http.StatusOK, "http://localhost:5173", "POST, GET, OPTIONS", true},
		{"post without origin", http.MethodPost, "", http.StatusOK, "null", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called = false
			req := httptest.NewRequest(tt.method, "/api/chat-with-pr", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantOrigin)
			}
			if got := rec.Header().Get("Access-Control-Allow-Methods"); got != tt.wantMethod {
				t.Errorf("Allow-Methods = %q, want %q", got, tt.wantMethod)
			}
			if got := rec.Header().Get("Access-Control-Allow-Headers"); got != corsAllowHeaders {
				t.Errorf("Allow-Headers = %q", got)
			}
			if called != tt.wantCalled {
				t.Errorf("handler called = %v, want %v", called, tt.wantCalled)
			}
		})
	}
}
