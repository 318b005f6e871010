package httpapi

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/quartier/community-app/internal/auth"
	"github.com/quartier/community-app/internal/metrics"
	"github.com/quartier/community-app/internal/ratelimit"
)

type contextKey string

const identityKey contextKey = "identity"

// identityFrom returns the authenticated identity stored by requireAuth.
func identityFrom(r *http.Request) (auth.Identity, bool) {
	id, ok := r.Context().Value(identityKey).(auth.Identity)
	return id, ok
}

// requireAuth verifies the bearer token on the Authorization header and
// stores the resolved identity on the request context.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		identity, err := s.tokens.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), identityKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireRole rejects authenticated users that hold none of the given roles.
func requireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := identityFrom(r)
			if !ok || !identity.HasRole(roles...) {
				writeError(w, http.StatusForbidden, "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// rateLimit applies a per-user rate limiting rule. Requests over the limit
// get 429; Redis failures let the request through (the limiter fails open).
func (s *Server) rateLimit(rule ratelimit.Rule) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := identityFrom(r)
			if ok && s.limiter != nil {
				allowed, _ := s.limiter.Allow(r.Context(), identity.UserID, rule)
				if !allowed {
					writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// observeLatency records mutation handling latency per chi route pattern.
func observeLatency(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		route := chi.RouteContext(r.Context()).RoutePattern()
		metrics.MutationLatency.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("httpapi: encode response: %v", err)
	}
}

// writeError writes a JSON error body with the given status code.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// parseJSONBody decodes the request body into dst, rejecting unknown fields.
func parseJSONBody(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
