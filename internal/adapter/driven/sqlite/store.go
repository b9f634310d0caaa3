package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ericfisherdev/prinsights/internal/domain/model"
	"github.com/ericfisherdev/prinsights/internal/domain/port/driven"
)

// Compile-time interface satisfaction checks.
var (
	_ driven.EntityStore     = (*Store)(nil)
	_ driven.AnalyticsReader = (*Store)(nil)
	_ driven.EntityWriter    = (*txWriter)(nil)
)

// Store is the SQLite implementation of the EntityStore and AnalyticsReader ports.
type Store struct {
	db *DB
}

// NewStore creates a new Store backed by the given DB.
func NewStore(db *DB) *Store {
	return &Store{db: db}
}

// Update runs fn against a writer bound to a single transaction on the writer
// connection. Errors returned by fn are passed through unchanged after rollback.
func (s *Store) Update(ctx context.Context, fn func(driven.EntityWriter) error) error {
	tx, err := s.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin transaction: %w", driven.ErrDatabase, err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback after commit is a no-op.

	if err := fn(&txWriter{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit transaction: %w", driven.ErrDatabase, err)
	}

	return nil
}

// Watermark returns the last extracted date for a project, or nil when the
// project has never completed an extraction.
func (s *Store) Watermark(ctx context.Context, organization, project string) (*time.Time, error) {
	const query = `
		SELECT last_extraction_date FROM extraction_metadata
		WHERE organization_name = ? AND project_name = ?
	`

	var raw string
	err := s.db.Reader.QueryRowContext(ctx, query, organization, project).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get watermark %s/%s: %w", driven.ErrDatabase, organization, project, err)
	}

	date, err := time.Parse(dateLayout, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: parse watermark %q: %w", driven.ErrDatabase, raw, err)
	}

	return &date, nil
}

// ThreadLastUpdated returns the most recent stored thread update for a PR.
func (s *Store) ThreadLastUpdated(ctx context.Context, pullRequestUID string) (*time.Time, error) {
	const query = `SELECT MAX(last_updated) FROM pr_threads WHERE pull_request_uid = ?`

	var raw sql.NullString
	if err := s.db.Reader.QueryRowContext(ctx, query, pullRequestUID).Scan(&raw); err != nil {
		return nil, fmt.Errorf("%w: get thread last updated for %s: %w", driven.ErrDatabase, pullRequestUID, err)
	}

	t, err := parseNullTime(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: parse thread last updated: %w", driven.ErrDatabase, err)
	}

	return t, nil
}

// ListRecentlyClosedPRs returns up to limit completed PRs, most recently
// closed first. Ties are broken by UID so the order is stable.
func (s *Store) ListRecentlyClosedPRs(ctx context.Context, limit int) ([]model.PRRef, error) {
	const query = `
		SELECT pull_request_uid, organization_name, project_name, repository_id, pull_request_id, closed_date
		FROM pull_requests
		WHERE status = 'completed'
		ORDER BY closed_date DESC, pull_request_uid
		LIMIT ?
	`

	rows, err := s.db.Reader.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: query recently closed PRs: %w", driven.ErrDatabase, err)
	}
	defer rows.Close()

	var refs []model.PRRef
	for rows.Next() {
		var ref model.PRRef
		var closed string
		if err := rows.Scan(&ref.UID, &ref.Organization, &ref.Project, &ref.RepositoryID, &ref.PullRequestID, &closed); err != nil {
			return nil, fmt.Errorf("%w: scan PR ref: %w", driven.ErrDatabase, err)
		}
		if ref.ClosedAt, err = parseTime(closed); err != nil {
			return nil, fmt.Errorf("%w: parse closed_date: %w", driven.ErrDatabase, err)
		}
		refs = append(refs, ref)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate PR refs: %w", driven.ErrDatabase, err)
	}

	return refs, nil
}

// Counts returns the number of rows in every entity table.
func (s *Store) Counts(ctx context.Context) (model.EntityCounts, error) {
	const query = `
		SELECT
			(SELECT COUNT(*) FROM organizations),
			(SELECT COUNT(*) FROM projects),
			(SELECT COUNT(*) FROM repositories),
			(SELECT COUNT(*) FROM users),
			(SELECT COUNT(*) FROM pull_requests),
			(SELECT COUNT(*) FROM reviewers),
			(SELECT COUNT(*) FROM pr_threads),
			(SELECT COUNT(*) FROM pr_comments)
	`

	var c model.EntityCounts
	err := s.db.Reader.QueryRowContext(ctx, query).Scan(
		&c.Organizations, &c.Projects, &c.Repositories, &c.Users,
		&c.PullRequests, &c.Reviewers, &c.Threads, &c.Comments,
	)
	if err != nil {
		return model.EntityCounts{}, fmt.Errorf("%w: count entities: %w", driven.ErrDatabase, err)
	}

	return c, nil
}
