package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCORS(t *testing.T) {
	tests := []struct {
		name        string
		allowed     []string
		method      string
		origin      string
		preflight   bool
		wantStatus  int
		wantOrigin  string
		wantHandler bool
	}{
		{name: "listed origin", allowed: []string{"https://app.example.com/"}, method: http.MethodPost,
			origin: "https://app.example.com", wantStatus: http.StatusOK, wantOrigin: "https://app.example.com", wantHandler: true},
		{name: "unknown origin still served", allowed: []string{"https://app.example.com"}, method: http.MethodPost,
			origin: "https://evil.example", wantStatus: http.StatusOK, wantHandler: true},
		{name: "wildcard", allowed: []string{"*"}, method: http.MethodGet,
			origin: "https://random.example", wantStatus: http.StatusOK, wantOrigin: "https://random.example", wantHandler: true},
		{name: "no origin", allowed: []string{"https://app.example.com"}, method: http.MethodGet,
			wantStatus: http.StatusOK, wantHandler: true},
		{name: "preflight", allowed: []string{"https://app.example.com"}, method: http.MethodOptions, preflight: true,
			origin: "https://app.example.com", wantStatus: http.StatusNoContent, wantOrigin: "https://app.example.com"},
		{name: "preflight from unknown origin", allowed: []string{"https://app.example.com"}, method: http.MethodOptions, preflight: true,
			origin: "https://evil.example", wantStatus: http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := CORS(tt.allowed)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				w.WriteHeader(http.StatusOK)
			}))
			req := httptest.NewRequest(tt.method, "/callable/createPatient", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.preflight {
				req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantHandler, called)
			assert.Equal(t, tt.wantOrigin, rec.Header().Get("Access-Control-Allow-Origin"))
			if tt.wantOrigin != "" {
				assert.Equal(t, corsAllowedMethods, rec.Header().Get("Access-Control-Allow-Methods"))
				assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Authorization")
			}
		})
	}
}
