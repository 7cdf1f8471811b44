package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Deniallugo/jsonrpc-v2/endpoint"
)

func okEndpoint(_ http.ResponseWriter, _ *http.Request, _ struct{}) (endpoint.Renderer, error) {
	return &endpoint.StringRenderer{Body: "ok"}, nil
}

func TestSecurityHeadersProcessor_Defaults(t *testing.T) {
	rec := httptest.NewRecorder()
	endpoint.Handler(okEndpoint, NewSecurityHeadersProcessor()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	want := map[string]string{
		"Strict-Transport-Security":    "max-age=31536000; includeSubDomains",
		"Referrer-Policy":              "no-referrer",
		"X-Content-Type-Options":       "nosniff",
		"X-Frame-Options":              "DENY",
		"Content-Security-Policy":      "default-src 'none'; frame-ancestors 'none'",
		"Cross-Origin-Resource-Policy": "same-origin",
		"Cache-Control":                "no-store",
	}
	for k, v := range want {
		if got := rec.Header().Get(k); got != v {
			t.Errorf("%s: got %q, want %q", k, got, v)
		}
	}
}

func TestSecurityHeadersProcessor_Options(t *testing.T) {
	tests := []struct {
		name   string
		opts   []SecurityHeadersOption
		header string
		want   string
	}{
		{"without hsts", []SecurityHeadersOption{WithoutHSTS()}, "Strict-Transport-Security", ""},
		{"hsts preload", []SecurityHeadersOption{WithHSTS(600, false, true)}, "Strict-Transport-Security", "max-age=600; preload"},
		{"zero max age", []SecurityHeadersOption{WithHSTS(0, true, true)}, "Strict-Transport-Security", ""},
		{"corp", []SecurityHeadersOption{WithCrossOriginResourcePolicy("cross-origin")}, "Cross-Origin-Resource-Policy", "cross-origin"},
		{"no cache control", []SecurityHeadersOption{WithCacheControl("")}, "Cache-Control", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			endpoint.Handler(okEndpoint, NewSecurityHeadersProcessor(tt.opts...)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
			if got := rec.Header().Get(tt.header); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSecurityHeadersProcessor_AppliedToErrors(t *testing.T) {
	failing := func(_ http.ResponseWriter, _ *http.Request, _ struct{}) (endpoint.Renderer, error) {
		return nil, endpoint.Error(http.StatusBadRequest, "bad", nil)
	}
	rec := httptest.NewRecorder()
	endpoint.Handler(failing, NewSecurityHeadersProcessor()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got status %d", rec.Code)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("headers missing on error response")
	}
}
