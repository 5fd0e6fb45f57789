// Package report provides PostgreSQL-backed storage for abuse reports. Each
// report references a recorded conversation so moderators can review the
// transcript alongside the complaint.
package report

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// validReasons is the set of allowed reason values, matching the CHECK
// constraint on the abuse_reports table.
var validReasons = map[string]bool{
	"harassment": true,
	"spam":       true,
	"explicit":   true,
	"other":      true,
}

// ValidReason reports whether the reason value is accepted.
func ValidReason(reason string) bool {
	return validReasons[reason]
}

// Store manages abuse reports in PostgreSQL.
type Store struct {
	db *sql.DB
}

// Report is a single abuse report.
type Report struct {
	ID             int64
	ConversationID string
	ReporterAnonID string
	Reason         string
	Details        string
	CreatedAt      time.Time
}

// NewStore creates a new report store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts an abuse report. The reason is validated against the allowed
// set before insertion.
func (s *Store) Create(ctx context.Context, r *Report) error {
	if !validReasons[r.Reason] {
		return fmt.Errorf("report: invalid reason %q", r.Reason)
	}

	const query = `
		INSERT INTO abuse_reports (conversation_id, reporter_anon_id, reason, details)
		VALUES ($1, $2, $3, $4)`

	_, err := s.db.ExecContext(ctx, query,
		r.ConversationID,
		r.ReporterAnonID,
		r.Reason,
		r.Details,
	)
	if err != nil {
		return fmt.Errorf("report: insert: %w", err)
	}
	return nil
}

// List returns the most recent reports, newest first, capped at limit.
func (s *Store) List(ctx context.Context, limit int) ([]Report, error) {
	if limit <= 0 {
		limit = 100
	}

	const query = `
		SELECT id, conversation_id, reporter_anon_id, reason, details, created_at
		FROM abuse_reports
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("report: list: %w", err)
	}
	defer rows.Close()

	var reports []Report
	for rows.Next() {
		var r Report
		if err := rows.Scan(&r.ID, &r.ConversationID, &r.ReporterAnonID, &r.Reason, &r.Details, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("report: scan: %w", err)
		}
		reports = append(reports, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("report: iterate: %w", err)
	}
	return reports, nil
}

// CountRecent returns the number of reports referencing conversations that
// involve the given anonymous identity within the window. Useful for spotting
// repeat offenders.
func (s *Store) CountRecent(ctx context.Context, anonID string, window time.Duration) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM abuse_reports r
		JOIN conversations c ON c.id = r.conversation_id
		WHERE (c.anon_a = $1 OR c.anon_b = $1)
		  AND r.reporter_anon_id <> $1
		  AND r.created_at >= NOW() - $2::interval`

	var count int
	err := s.db.QueryRowContext(ctx, query, anonID, window.String()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("report: count recent: %w", err)
	}
	return count, nil
}
