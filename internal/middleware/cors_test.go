package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCORS(t *testing.T) {
	allowed := []string{"chrome-extension://*", "https://stackoverflow.com"}

	tests := []struct {
		name       string
		origin     string
		wantOrigin string
		wantCreds  string
	}{
		{name: "extension prefix", origin: "chrome-extension://abcdef", wantOrigin: "chrome-extension://abcdef"},
		{name: "explicit", origin: "https://stackoverflow.com", wantOrigin: "https://stackoverflow.com", wantCreds: "true"},
		{name: "rejected", origin: "https://evil.example"},
		{name: "no origin"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var called bool
			h := CORS(allowed)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.True(t, called)
			assert.Equal(t, tt.wantOrigin, rec.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, tt.wantCreds, rec.Header().Get("Access-Control-Allow-Credentials"))
		})
	}
}

func TestCORS_Preflight(t *testing.T) {
	var called bool
	h := CORS([]string{"*"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	req := httptest.NewRequest(http.MethodOptions, "/api/runtime/message", nil)
	req.Header.Set("Origin", "chrome-extension://x")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.False(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "chrome-extension://x", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestOriginAllowed(t *testing.T) {
	assert.True(t, OriginAllowed([]string{"chrome-extension://*"}, "chrome-extension://id"))
	assert.False(t, OriginAllowed([]string{"chrome-extension://*"}, "moz-extension://id"))
	assert.False(t, OriginAllowed([]string{"*"}, ""))
}
