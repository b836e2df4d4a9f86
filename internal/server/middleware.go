package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/aristath/fundfolio/internal/domain"
	"github.com/aristath/fundfolio/internal/server/scope"
)

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}

// sessionMiddleware resolves the tenant scope for the request. Single-tenant
// deployments skip tokens entirely and every request runs in the global
// scope. Multi-tenant deployments require a live bearer token; the matching
// session pins the scope and its expiry slides forward on each use.
func (s *Server) sessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.cfg.MultiTenant {
			next.ServeHTTP(w, r)
			return
		}

		token := bearerToken(r)
		if token == "" {
			writeError(s.log, w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		session, err := s.deps.SessionStore.Get(r.Context(), token)
		if err != nil {
			s.log.Error().Err(err).Msg("Session lookup failed")
			writeError(s.log, w, http.StatusInternalServerError, "internal error")
			return
		}
		if session == nil {
			writeError(s.log, w, http.StatusUnauthorized, "invalid or expired session")
			return
		}

		if err := s.deps.SessionStore.Touch(r.Context(), token); err != nil {
			// extending the deadline is best effort; the request still runs
			s.log.Warn().Err(err).Msg("Failed to touch session")
		}

		ctx := scope.WithScope(r.Context(), domain.ScopeForUser(session.UserID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return ""
	}
	return strings.TrimSpace(auth[len(prefix):])
}
