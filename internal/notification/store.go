// Package notification persists per-user notifications and pushes them to
// connected clients. Delivery over the socket is best-effort; the store is
// what an offline user catches up from on reconnect.
package notification

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Notification kinds.
const (
	KindNewPost    = "post.created"
	KindNewComment = "comment.created"
	KindModeration = "moderation"
)

// Notification is one entry in a user's notification feed.
type Notification struct {
	ID        string     `json:"id"`
	UserID    string     `json:"userId"`
	Kind      string     `json:"kind"`
	Title     string     `json:"title"`
	Body      string     `json:"body,omitempty"`
	RefID     string     `json:"refId,omitempty"` // related post/comment/report ID
	ReadAt    *time.Time `json:"readAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

// Store manages notifications in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a notification store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts a notification for a user.
func (s *Store) Create(ctx context.Context, n *Notification) (*Notification, error) {
	n.ID = uuid.New().String()
	n.CreatedAt = time.Now()

	const query = `
		INSERT INTO notifications (id, user_id, kind, title, body, ref_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.db.ExecContext(ctx, query,
		n.ID, n.UserID, n.Kind, n.Title, n.Body, n.RefID, n.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("notification: insert: %w", err)
	}
	return n, nil
}

// ListForUser returns the user's notifications, newest first.
func (s *Store) ListForUser(ctx context.Context, userID string, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 20
	}

	const query = `
		SELECT id, user_id, kind, title, body, ref_id, read_at, created_at
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("notification: list: %w", err)
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var n Notification
		var refID sql.NullString
		var readAt sql.NullTime
		if err := rows.Scan(&n.ID, &n.UserID, &n.Kind, &n.Title, &n.Body,
			&refID, &readAt, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("notification: list scan: %w", err)
		}
		n.RefID = refID.String
		if readAt.Valid {
			t := readAt.Time
			n.ReadAt = &t
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkRead stamps a notification as read. Only the owner can mark their own.
func (s *Store) MarkRead(ctx context.Context, id, userID string) error {
	const query = `
		UPDATE notifications SET read_at = NOW()
		WHERE id = $1 AND user_id = $2 AND read_at IS NULL`

	if _, err := s.db.ExecContext(ctx, query, id, userID); err != nil {
		return fmt.Errorf("notification: mark read: %w", err)
	}
	return nil
}

// UnreadCount returns the number of unread notifications for a user.
func (s *Store) UnreadCount(ctx context.Context, userID string) (int, error) {
	const query = `
		SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND read_at IS NULL`

	var count int
	if err := s.db.QueryRowContext(ctx, query, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("notification: unread count: %w", err)
	}
	return count, nil
}
