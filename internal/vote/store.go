// Package vote implements poll voting: a PostgreSQL-backed vote store with a
// one-vote-per-user uniqueness constraint, and the aggregation engine that
// recomputes tallies and hands them to the real-time dispatcher.
package vote

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// Store persists votes in PostgreSQL. The votes table carries a UNIQUE
// (post_id, user_id) constraint, so one-vote-per-user is enforced by storage
// rather than by a racy check-then-insert in application code.
type Store struct {
	db *sql.DB
}

// NewStore creates a vote store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Upsert records a vote, overwriting any prior option choice for the same
// (post, user) pair. Two concurrent upserts for the same pair serialize on
// the unique index; last write wins.
func (s *Store) Upsert(ctx context.Context, postID, userID string, optionIndex int) error {
	const query = `
		INSERT INTO votes (id, post_id, user_id, option_index, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (post_id, user_id)
		DO UPDATE SET option_index = EXCLUDED.option_index, updated_at = NOW()`

	_, err := s.db.ExecContext(ctx, query, uuid.New().String(), postID, userID, optionIndex)
	if err != nil {
		return fmt.Errorf("vote: upsert: %w", err)
	}
	return nil
}

// Tally recomputes the full per-option vote count for a post by scanning all
// of its vote rows. Whatever option index is stored gets counted, in or out
// of the poll's declared range.
func (s *Store) Tally(ctx context.Context, postID string) (map[int]int, int, error) {
	const query = `
		SELECT option_index, COUNT(*)
		FROM votes
		WHERE post_id = $1
		GROUP BY option_index`

	rows, err := s.db.QueryContext(ctx, query, postID)
	if err != nil {
		return nil, 0, fmt.Errorf("vote: tally query: %w", err)
	}
	defer rows.Close()

	tally := make(map[int]int)
	total := 0
	for rows.Next() {
		var option, count int
		if err := rows.Scan(&option, &count); err != nil {
			return nil, 0, fmt.Errorf("vote: tally scan: %w", err)
		}
		tally[option] = count
		total += count
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("vote: tally rows: %w", err)
	}
	return tally, total, nil
}
