// Package httpapi exposes the admin HTTP surface: health, Prometheus metrics,
// cache statistics and the divergence log.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/kilianp07/arrivalcast/core/divergence"
	"github.com/kilianp07/arrivalcast/core/history"
)

// Stats summarizes the in-memory state of the engine.
type Stats struct {
	Cache              history.Stats `json:"cache"`
	ErrorValues        int           `json:"error_values"`
	DwellModels        int           `json:"dwell_models"`
	DroppedDivergences int64         `json:"dropped_divergences"`
}

// StatsSource reports engine statistics.
type StatsSource interface {
	Stats() Stats
}

// Pinger checks a backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps groups what the router serves. Nil fields disable their routes.
type Deps struct {
	Stats       StatsSource
	Divergences divergence.Store
	Store       Pinger
	Metrics     http.Handler
	// Token protects the /api routes when non-empty.
	Token          string
	AllowedOrigins []string
}

// NewRouter builds the admin router.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if len(d.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: d.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", healthHandler(d.Store))
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(bearer(d.Token))
		if d.Stats != nil {
			r.Get("/cache/stats", func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, http.StatusOK, d.Stats.Stats())
			})
		}
		if d.Divergences != nil {
			r.Get("/divergences", NewDivergenceHandler(d.Divergences).ServeHTTP)
		}
	})
	return r
}

func healthHandler(p Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if p == nil {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error", "store": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "store": "connected"})
	}
}

func bearer(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
