package httpapi

import (
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/quartier/community-app/internal/content"
)

type castVoteRequest struct {
	OptionIndex *int `json:"optionIndex"`
}

// handleCastVote records a poll vote and returns the recomputed tally. The
// upsert in the vote store makes re-voting overwrite the previous choice, so
// the one-vote-per-user invariant holds without any check-then-insert race.
func (s *Server) handleCastVote(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFrom(r)
	postID := chi.URLParam(r, "id")

	var req castVoteRequest
	if err := parseJSONBody(r, &req); err != nil || req.OptionIndex == nil {
		writeError(w, http.StatusBadRequest, "optionIndex is required")
		return
	}

	post, err := s.contentStore.GetPost(r.Context(), postID)
	if errors.Is(err, content.ErrPostNotFound) {
		writeError(w, http.StatusNotFound, "post not found")
		return
	}
	if err != nil {
		log.Printf("httpapi: load post for vote: %v", err)
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	if !post.IsPoll() {
		writeError(w, http.StatusBadRequest, "post is not a poll")
		return
	}
	if *req.OptionIndex < 0 || *req.OptionIndex >= len(post.Options) {
		writeError(w, http.StatusBadRequest, "optionIndex out of range")
		return
	}

	result, err := s.votes.CastVote(r.Context(), post.ID, post.CommunityID, identity.UserID, *req.OptionIndex)
	if err != nil {
		log.Printf("httpapi: cast vote post=%s user=%s: %v", post.ID, identity.UserID, err)
		writeError(w, http.StatusInternalServerError, "vote may not have been recorded")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleReadTally returns the current tally with no side effects, as a
// polling fallback when sockets are unavailable.
func (s *Server) handleReadTally(w http.ResponseWriter, r *http.Request) {
	postID := chi.URLParam(r, "id")

	result, err := s.votes.ReadTally(r.Context(), postID)
	if err != nil {
		log.Printf("httpapi: read tally post=%s: %v", postID, err)
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
