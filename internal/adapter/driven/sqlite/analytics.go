package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"math"

	"github.com/ericfisherdev/prinsights/internal/domain/model"
	"github.com/ericfisherdev/prinsights/internal/domain/port/driven"
)

// ListCompletedPRs returns every completed PR with its reviewer IDs, ordered
// by closed date then UID.
func (s *Store) ListCompletedPRs(ctx context.Context) ([]model.CompletedPR, error) {
	const query = `
		SELECT p.pull_request_uid, p.repository_id, r.repository_name, p.user_id,
		       p.closed_date, p.cycle_time_minutes
		FROM pull_requests p
		JOIN repositories r ON r.repository_id = p.repository_id
		WHERE p.status = 'completed' AND p.closed_date IS NOT NULL
		ORDER BY p.closed_date, p.pull_request_uid
	`

	rows, err := s.db.Reader.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: query completed PRs: %w", driven.ErrDatabase, err)
	}
	defer rows.Close()

	var prs []model.CompletedPR
	index := make(map[string]int)
	for rows.Next() {
		pr, err := scanCompletedPR(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan completed PR: %w", driven.ErrDatabase, err)
		}
		index[pr.UID] = len(prs)
		prs = append(prs, *pr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate completed PRs: %w", driven.ErrDatabase, err)
	}

	if err := s.attachReviewers(ctx, prs, index); err != nil {
		return nil, err
	}

	return prs, nil
}

func (s *Store) attachReviewers(ctx context.Context, prs []model.CompletedPR, index map[string]int) error {
	const query = `
		SELECT rv.pull_request_uid, rv.user_id
		FROM reviewers rv
		JOIN pull_requests p ON p.pull_request_uid = rv.pull_request_uid
		WHERE p.status = 'completed'
		ORDER BY rv.pull_request_uid, rv.user_id
	`

	rows, err := s.db.Reader.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("%w: query reviewers: %w", driven.ErrDatabase, err)
	}
	defer rows.Close()

	for rows.Next() {
		var uid, userID string
		if err := rows.Scan(&uid, &userID); err != nil {
			return fmt.Errorf("%w: scan reviewer: %w", driven.ErrDatabase, err)
		}
		if i, ok := index[uid]; ok {
			prs[i].ReviewerIDs = append(prs[i].ReviewerIDs, userID)
		}
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: iterate reviewers: %w", driven.ErrDatabase, err)
	}
	return nil
}

func scanCompletedPR(s scanner) (*model.CompletedPR, error) {
	var pr model.CompletedPR
	var closed string
	var cycle sql.NullFloat64

	if err := s.Scan(&pr.UID, &pr.RepositoryID, &pr.RepositoryName, &pr.AuthorID, &closed, &cycle); err != nil {
		return nil, err
	}

	var err error
	pr.ClosedAt, err = parseTime(closed)
	if err != nil {
		return nil, fmt.Errorf("parse closed_date: %w", err)
	}
	if cycle.Valid {
		v := cycle.Float64
		pr.CycleTimeMinutes = &v
	}

	return &pr, nil
}

// PRStats computes the summary figures embedded in the insight prompt. The
// p90 figure is 90% of the maximum cycle time, not a true percentile.
func (s *Store) PRStats(ctx context.Context) (model.PRStats, error) {
	const query = `
		SELECT
			(SELECT COUNT(*) FROM pull_requests WHERE status = 'completed'),
			(SELECT MIN(closed_date) FROM pull_requests WHERE closed_date IS NOT NULL),
			(SELECT MAX(closed_date) FROM pull_requests WHERE closed_date IS NOT NULL),
			(SELECT AVG(cycle_time_minutes) FROM pull_requests WHERE cycle_time_minutes IS NOT NULL),
			(SELECT MAX(cycle_time_minutes) FROM pull_requests WHERE cycle_time_minutes IS NOT NULL),
			(SELECT COUNT(DISTINCT user_id) FROM pull_requests),
			(SELECT COUNT(*) FROM repositories)
	`

	var stats model.PRStats
	var minClosed, maxClosed sql.NullString
	var avgCycle, maxCycle sql.NullFloat64

	err := s.db.Reader.QueryRowContext(ctx, query).Scan(
		&stats.TotalPRs, &minClosed, &maxClosed, &avgCycle, &maxCycle,
		&stats.AuthorsCount, &stats.RepositoriesCount,
	)
	if err != nil {
		return model.PRStats{}, fmt.Errorf("%w: compute PR stats: %w", driven.ErrDatabase, err)
	}

	stats.DateRangeStart = dayOrNA(minClosed)
	stats.DateRangeEnd = dayOrNA(maxClosed)
	if avgCycle.Valid {
		stats.AvgCycleTimeMinutes = roundTo(avgCycle.Float64, 1)
	}
	if maxCycle.Valid {
		stats.P90CycleTimeMinutes = roundTo(maxCycle.Float64*0.9, 1)
	}

	return stats, nil
}

// FreshnessMarkers returns the latest closed date and the latest update
// (falling back to closed date) across all pull requests.
func (s *Store) FreshnessMarkers(ctx context.Context) (model.FreshnessMarkers, error) {
	const query = `
		SELECT MAX(closed_date), MAX(COALESCE(updated_at, closed_date))
		FROM pull_requests
	`

	var maxClosed, maxUpdated sql.NullString
	if err := s.db.Reader.QueryRowContext(ctx, query).Scan(&maxClosed, &maxUpdated); err != nil {
		return model.FreshnessMarkers{}, fmt.Errorf("%w: read freshness markers: %w", driven.ErrDatabase, err)
	}

	markers := model.FreshnessMarkers{
		MaxClosed:  model.EmptyDatasetMarker,
		MaxUpdated: model.EmptyDatasetMarker,
	}
	if maxClosed.Valid && maxClosed.String != "" {
		markers.MaxClosed = maxClosed.String
	}
	if maxUpdated.Valid && maxUpdated.String != "" {
		markers.MaxUpdated = maxUpdated.String
	}

	return markers, nil
}

func dayOrNA(ns sql.NullString) string {
	if !ns.Valid || len(ns.String) < len(dateLayout) {
		return "N/A"
	}
	return ns.String[:len(dateLayout)]
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
