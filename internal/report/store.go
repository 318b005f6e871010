// Package report provides PostgreSQL-backed storage for content reports.
// Residents flag posts or comments; moderators work the open-report queue.
package report

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Report statuses.
const (
	StatusOpen      = "open"
	StatusResolved  = "resolved"
	StatusDismissed = "dismissed"
)

// Target kinds a report can point at.
const (
	TargetPost    = "post"
	TargetComment = "comment"
)

// validReasons is the set of allowed reason values, matching the CHECK
// constraint on the reports table.
var validReasons = map[string]bool{
	"spam":          true,
	"harassment":    true,
	"inappropriate": true,
	"other":         true,
}

// Report is a single content report.
type Report struct {
	ID         string    `json:"id"`
	ReporterID string    `json:"reporterId"`
	TargetType string    `json:"targetType"`
	TargetID   string    `json:"targetId"`
	Reason     string    `json:"reason"`
	Details    string    `json:"details,omitempty"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Store manages reports in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a report store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts a report in open status. The reason is validated against
// the allowed set before insertion.
func (s *Store) Create(ctx context.Context, report *Report) (*Report, error) {
	if !validReasons[report.Reason] {
		return nil, fmt.Errorf("report: invalid reason %q", report.Reason)
	}
	if report.TargetType != TargetPost && report.TargetType != TargetComment {
		return nil, fmt.Errorf("report: invalid target type %q", report.TargetType)
	}

	report.ID = uuid.New().String()
	report.Status = StatusOpen
	report.CreatedAt = time.Now()

	const query = `
		INSERT INTO reports (id, reporter_id, target_type, target_id, reason, details, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.db.ExecContext(ctx, query,
		report.ID, report.ReporterID, report.TargetType, report.TargetID,
		report.Reason, report.Details, report.Status, report.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("report: insert: %w", err)
	}
	return report, nil
}

// ListByStatus returns reports with the given status, newest first.
func (s *Store) ListByStatus(ctx context.Context, status string, limit int) ([]Report, error) {
	if limit <= 0 {
		limit = 50
	}

	const query = `
		SELECT id, reporter_id, target_type, target_id, reason, details, status, created_at
		FROM reports
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, status, limit)
	if err != nil {
		return nil, fmt.Errorf("report: list: %w", err)
	}
	defer rows.Close()

	var reports []Report
	for rows.Next() {
		var r Report
		if err := rows.Scan(&r.ID, &r.ReporterID, &r.TargetType, &r.TargetID,
			&r.Reason, &r.Details, &r.Status, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("report: list scan: %w", err)
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// SetStatus moves a report to resolved or dismissed.
func (s *Store) SetStatus(ctx context.Context, id, status string) error {
	if status != StatusResolved && status != StatusDismissed {
		return fmt.Errorf("report: invalid status %q", status)
	}

	const query = `UPDATE reports SET status = $1 WHERE id = $2`
	res, err := s.db.ExecContext(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("report: set status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("report: no report with id %s", id)
	}
	return nil
}
