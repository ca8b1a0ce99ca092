// Package api serves the CityScope REST surface: city and indicator reads,
// city creation, and token-based authentication.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/cityscope/cityscope/internal/auth"
	"github.com/cityscope/cityscope/internal/store"
)

type Server struct {
	store         *store.Store
	tokens        *auth.TokenManager
	addr          string
	secureCookies bool
	log           zerolog.Logger
}

func NewServer(st *store.Store, tokens *auth.TokenManager, addr string, secureCookies bool, logger zerolog.Logger) *Server {
	return &Server{
		store:         st,
		tokens:        tokens,
		addr:          addr,
		secureCookies: secureCookies,
		log:           logger,
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/auth", func(r chi.Router) {
		r.Post("/signup", s.handleSignup)
		r.Post("/login", s.handleLogin)
		r.Post("/refresh", s.handleRefresh)
		r.Post("/logout", s.handleLogout)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Get("/cities", s.handleListCities)
		r.Post("/cities", s.handleCreateCity)
		r.Get("/cities/debug/token", s.handleDebugToken)
		r.Get("/cities/{cityID}/indicators", s.handleCityIndicators)
		r.Get("/indicators", s.handleListIndicators)
		r.Get("/states", s.handleListStates)
		r.Get("/states/{uf}/cities", s.handleCitiesByState)
	})

	return r
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", s.addr).Msg("http server listening")
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// writeError mirrors the {"detail": ...} error shape clients already consume.
func writeError(w http.ResponseWriter, code int, detail string) {
	writeJSON(w, code, map[string]string{"detail": detail})
}
