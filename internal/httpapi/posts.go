package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/quartier/community-app/internal/content"
	"github.com/quartier/community-app/internal/messaging"
)

type createPostRequest struct {
	CommunityID string   `json:"communityId"`
	Type        string   `json:"type"`
	Title       string   `json:"title"`
	Body        string   `json:"body"`
	Options     []string `json:"options"`
}

var postTypes = map[string]bool{
	content.PostTypeAnnouncement: true,
	content.PostTypeService:      true,
	content.PostTypeListing:      true,
	content.PostTypePoll:         true,
}

// handleCreatePost persists a post and announces it to the community room,
// excluding the author.
func (s *Server) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFrom(r)

	var req createPostRequest
	if err := parseJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.CommunityID == "" || req.Title == "" {
		writeError(w, http.StatusBadRequest, "communityId and title are required")
		return
	}
	if !postTypes[req.Type] {
		writeError(w, http.StatusBadRequest, "unknown post type")
		return
	}
	if req.Type == content.PostTypePoll && len(req.Options) < 2 {
		writeError(w, http.StatusBadRequest, "a poll needs at least two options")
		return
	}
	if !memberOf(identity.CommunityIDs, req.CommunityID) {
		writeError(w, http.StatusForbidden, "not a member of this community")
		return
	}

	post, err := s.contentStore.CreatePost(r.Context(), &content.Post{
		CommunityID: req.CommunityID,
		AuthorID:    identity.UserID,
		Type:        req.Type,
		Title:       req.Title,
		Body:        req.Body,
		Options:     req.Options,
	})
	if err != nil {
		log.Printf("httpapi: create post: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to create post")
		return
	}

	s.dispatcher.EmitPostCreated(post.CommunityID, post.AuthorID, post)
	s.publishEvent(messaging.SubjectPostCreated, messaging.PostCreatedEvent{
		PostID:      post.ID,
		CommunityID: post.CommunityID,
		AuthorID:    post.AuthorID,
		Title:       post.Title,
	})

	writeJSON(w, http.StatusCreated, post)
}

type createCommentRequest struct {
	Body string `json:"body"`
}

// handleCreateComment persists a comment and announces it to the post's
// thread room, excluding the author.
func (s *Server) handleCreateComment(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFrom(r)
	postID := chi.URLParam(r, "id")

	var req createCommentRequest
	if err := parseJSONBody(r, &req); err != nil || req.Body == "" {
		writeError(w, http.StatusBadRequest, "comment body is required")
		return
	}

	post, err := s.contentStore.GetPost(r.Context(), postID)
	if errors.Is(err, content.ErrPostNotFound) {
		writeError(w, http.StatusNotFound, "post not found")
		return
	}
	if err != nil {
		log.Printf("httpapi: load post for comment: %v", err)
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}

	comment, err := s.contentStore.CreateComment(r.Context(), &content.Comment{
		PostID:   post.ID,
		AuthorID: identity.UserID,
		Body:     req.Body,
	})
	if err != nil {
		log.Printf("httpapi: create comment: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to create comment")
		return
	}

	s.dispatcher.EmitCommentCreated(post.ID, comment.AuthorID, comment)
	s.publishEvent(messaging.SubjectCommentCreated, messaging.CommentCreatedEvent{
		CommentID:    comment.ID,
		PostID:       post.ID,
		PostAuthorID: post.AuthorID,
		AuthorID:     comment.AuthorID,
		PostTitle:    post.Title,
	})

	writeJSON(w, http.StatusCreated, comment)
}

// publishEvent marshals and publishes a domain event for the notifier.
// Publish failures are logged and swallowed: the mutation is already durable
// and socket delivery already happened.
func (s *Server) publishEvent(subject string, event interface{}) {
	if s.events == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("httpapi: marshal %s event: %v", subject, err)
		return
	}
	if err := s.events.Publish(subject, data); err != nil {
		log.Printf("httpapi: publish %s event: %v", subject, err)
	}
}

func memberOf(communityIDs []string, communityID string) bool {
	for _, id := range communityIDs {
		if id == communityID {
			return true
		}
	}
	return false
}
