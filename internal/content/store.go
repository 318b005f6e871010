// Package content provides PostgreSQL-backed storage for posts, comments,
// and the user directory. The real-time core treats this package as context:
// it reads posts to validate vote targets and resolves users to their
// community memberships when a connection authenticates.
package content

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/quartier/community-app/internal/auth"
)

// Sentinel errors for missing rows.
var (
	ErrPostNotFound = errors.New("content: post not found")
	ErrUserNotFound = errors.New("content: user not found")
)

// Store manages posts, comments, and users in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a content store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreatePost persists a new post and returns it with its generated ID.
func (s *Store) CreatePost(ctx context.Context, post *Post) (*Post, error) {
	post.ID = uuid.New().String()
	post.CreatedAt = time.Now()
	if post.Status == "" {
		post.Status = PostStatusPublished
	}

	const query = `
		INSERT INTO posts (id, community_id, author_id, type, title, body, options, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.db.ExecContext(ctx, query,
		post.ID, post.CommunityID, post.AuthorID, post.Type,
		post.Title, post.Body, pq.Array(post.Options), post.Status, post.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("content: insert post: %w", err)
	}
	return post, nil
}

// GetPost fetches a post by ID. Returns ErrPostNotFound for a missing row.
func (s *Store) GetPost(ctx context.Context, id string) (*Post, error) {
	const query = `
		SELECT id, community_id, author_id, type, title, body, options, status, created_at
		FROM posts
		WHERE id = $1`

	var post Post
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&post.ID, &post.CommunityID, &post.AuthorID, &post.Type,
		&post.Title, &post.Body, pq.Array(&post.Options), &post.Status, &post.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPostNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("content: get post: %w", err)
	}
	return &post, nil
}

// CreateComment persists a comment on a post.
func (s *Store) CreateComment(ctx context.Context, comment *Comment) (*Comment, error) {
	comment.ID = uuid.New().String()
	comment.CreatedAt = time.Now()

	const query = `
		INSERT INTO comments (id, post_id, author_id, body, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := s.db.ExecContext(ctx, query,
		comment.ID, comment.PostID, comment.AuthorID, comment.Body, comment.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("content: insert comment: %w", err)
	}
	return comment, nil
}

// GetUser fetches a user with their community memberships aggregated in.
// Returns ErrUserNotFound for a missing row.
func (s *Store) GetUser(ctx context.Context, id string) (*User, error) {
	const query = `
		SELECT u.id, u.email, u.name, u.roles,
		       COALESCE(array_agg(m.community_id) FILTER (WHERE m.community_id IS NOT NULL), '{}')
		FROM users u
		LEFT JOIN community_members m ON m.user_id = u.id
		WHERE u.id = $1
		GROUP BY u.id`

	var user User
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID, &user.Email, &user.Name,
		pq.Array(&user.Roles), pq.Array(&user.CommunityIDs),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("content: get user: %w", err)
	}
	return &user, nil
}

// Resolve implements the gateway's Directory: it maps a verified subject to
// its current roles and community memberships. An unknown subject surfaces
// ErrUserNotFound, which the gateway treats as an authentication failure.
func (s *Store) Resolve(ctx context.Context, userID string) (auth.Identity, error) {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return auth.Identity{}, err
	}
	return auth.Identity{
		UserID:       user.ID,
		Roles:        user.Roles,
		CommunityIDs: user.CommunityIDs,
	}, nil
}

// CommunityMembers returns the user IDs belonging to a community. The
// notifier uses this to fan a new-post notification out to members.
func (s *Store) CommunityMembers(ctx context.Context, communityID string) ([]string, error) {
	const query = `
		SELECT user_id FROM community_members WHERE community_id = $1`

	rows, err := s.db.QueryContext(ctx, query, communityID)
	if err != nil {
		return nil, fmt.Errorf("content: community members: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("content: community members scan: %w", err)
		}
		users = append(users, id)
	}
	return users, rows.Err()
}
