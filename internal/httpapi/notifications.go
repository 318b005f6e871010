package httpapi

import (
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/quartier/community-app/internal/notification"
)

// handleListNotifications returns the caller's notification feed.
func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFrom(r)

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}

	items, err := s.notifications.ListForUser(r.Context(), identity.UserID, limit)
	if err != nil {
		log.Printf("httpapi: list notifications user=%s: %v", identity.UserID, err)
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	if items == nil {
		items = []notification.Notification{}
	}

	writeJSON(w, http.StatusOK, items)
}

// handleUnreadCount returns the caller's unread notification count.
func (s *Server) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFrom(r)

	count, err := s.notifications.UnreadCount(r.Context(), identity.UserID)
	if err != nil {
		log.Printf("httpapi: unread count user=%s: %v", identity.UserID, err)
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"count": count})
}

// handleMarkNotificationRead marks one of the caller's notifications read.
func (s *Server) handleMarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFrom(r)
	id := chi.URLParam(r, "id")

	if err := s.notifications.MarkRead(r.Context(), id, identity.UserID); err != nil {
		log.Printf("httpapi: mark read user=%s id=%s: %v", identity.UserID, id, err)
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}
