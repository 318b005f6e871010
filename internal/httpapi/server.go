// Package httpapi exposes the platform's HTTP surface: the mutation
// endpoints feeding the real-time core, the tally polling fallback, the
// notification feed, and the WebSocket upgrade endpoint.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/quartier/community-app/internal/auth"
	"github.com/quartier/community-app/internal/content"
	"github.com/quartier/community-app/internal/idempotency"
	"github.com/quartier/community-app/internal/messaging"
	"github.com/quartier/community-app/internal/metrics"
	"github.com/quartier/community-app/internal/notification"
	"github.com/quartier/community-app/internal/ratelimit"
	"github.com/quartier/community-app/internal/report"
	"github.com/quartier/community-app/internal/vote"
	"github.com/quartier/community-app/internal/ws"
)

// Server wires the HTTP routes to the stores, the vote engine, and the
// real-time dispatcher.
type Server struct {
	tokens        *auth.Manager
	contentStore  *content.Store
	reportStore   *report.Store
	notifications *notification.Store
	votes         *vote.Engine
	dispatcher    *ws.Dispatcher
	registry      *ws.Registry
	guard         *idempotency.Guard
	limiter       *ratelimit.Limiter
	events        *messaging.Client // nil disables cross-service events
	gateway       http.Handler
}

// Deps bundles the collaborators the Server needs.
type Deps struct {
	Tokens        *auth.Manager
	ContentStore  *content.Store
	ReportStore   *report.Store
	Notifications *notification.Store
	Votes         *vote.Engine
	Dispatcher    *ws.Dispatcher
	Registry      *ws.Registry
	Guard         *idempotency.Guard
	Limiter       *ratelimit.Limiter
	Events        *messaging.Client
	Gateway       http.Handler
}

// NewServer creates the HTTP server over its collaborators.
func NewServer(deps Deps) *Server {
	return &Server{
		tokens:        deps.Tokens,
		contentStore:  deps.ContentStore,
		reportStore:   deps.ReportStore,
		notifications: deps.Notifications,
		votes:         deps.Votes,
		dispatcher:    deps.Dispatcher,
		registry:      deps.Registry,
		guard:         deps.Guard,
		limiter:       deps.Limiter,
		events:        deps.Events,
		gateway:       deps.Gateway,
	}
}

// Router builds the chi route tree.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Handle("/ws", s.gateway)

	r.Route("/api", func(r chi.Router) {
		// Polling fallback for clients without a socket. Pure read, no auth.
		r.Get("/posts/{id}/votes/tally", s.handleReadTally)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Use(observeLatency)

			r.Group(func(r chi.Router) {
				r.Use(requireRole("resident", "moderator", "admin"))
				r.Use(s.guard.Middleware)

				r.With(s.rateLimit(ratelimit.RulePost)).Post("/posts", s.handleCreatePost)
				r.With(s.rateLimit(ratelimit.RuleComment)).Post("/posts/{id}/comments", s.handleCreateComment)
				r.Post("/posts/{id}/votes", s.handleCastVote)
				r.With(s.rateLimit(ratelimit.RuleReport)).Post("/reports", s.handleCreateReport)
			})

			r.Get("/notifications", s.handleListNotifications)
			r.Get("/notifications/unread-count", s.handleUnreadCount)
			r.Post("/notifications/{id}/read", s.handleMarkNotificationRead)

			r.With(requireRole("moderator", "admin")).
				Get("/moderation/reports", s.handleListReports)
			r.With(requireRole("moderator", "admin")).
				Post("/moderation/reports/{id}/status", s.handleSetReportStatus)
		})
	})

	return r
}

// handleHealth reports liveness plus the current connection count, for load
// balancer health checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"connections": s.registry.Count(),
	})
}
