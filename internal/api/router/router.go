package router

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/clinic-functions/internal/callable"
	httpmiddleware "github.com/wolfman30/clinic-functions/internal/http/middleware"
	"github.com/wolfman30/clinic-functions/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	Dispatcher         *callable.Dispatcher
	Cognito            httpmiddleware.CognitoConfig
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string
	// Ready reports whether downstream dependencies are reachable. Optional.
	Ready func(ctx context.Context) error
}

// New serves the callables the way the HTTP API gateway does, for local
// development and integration tests.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if cfg.Ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
			defer cancel()
			if err := cfg.Ready(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	r.Group(func(authed chi.Router) {
		authed.Use(httpmiddleware.CognitoJWT(cfg.Cognito, cfg.Logger))
		authed.Post("/callable/{name}", callable.HTTPHandler(cfg.Dispatcher, func(r *http.Request) string {
			return chi.URLParam(r, "name")
		}).ServeHTTP)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
