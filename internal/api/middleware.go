package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/cityscope/cityscope/internal/metrics"
	"github.com/cityscope/cityscope/internal/models"
)

type contextKey string

const userContextKey contextKey = "user"

// requireAuth resolves the bearer token to an active user and stores it on
// the request context. Endpoints behind it perform no further authorization.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "Not authenticated")
			return
		}

		email, err := s.tokens.Validate(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid token")
			return
		}

		user, err := s.store.GetUserByEmail(email)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		if user == nil || !user.IsActive {
			writeError(w, http.StatusUnauthorized, "Inactive user")
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFromContext(ctx context.Context) *models.User {
	user, _ := ctx.Value(userContextKey).(*models.User)
	return user
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		// Metric labels use the route pattern, not the raw path, to keep
		// cardinality bounded.
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		metrics.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(ww.Status())).Inc()
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}
