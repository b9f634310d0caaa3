package driven

import (
	"context"
	"time"

	"github.com/ericfisherdev/prinsights/internal/domain/model"
)

// EntityWriter performs idempotent upserts within one transaction. Each
// upsert of a referencing entity upserts its parents first.
type EntityWriter interface {
	UpsertOrganization(ctx context.Context, name string) error
	UpsertProject(ctx context.Context, organization, project string) error
	UpsertRepository(ctx context.Context, repo model.Repository) error
	UpsertUser(ctx context.Context, user model.User) error
	// UpsertPullRequest upserts the PR's organization, project, repository,
	// author and reviewers before the PR itself.
	UpsertPullRequest(ctx context.Context, pr model.PullRequest) error
	UpsertThread(ctx context.Context, thread model.Thread) error
	// UpsertComment upserts the comment's author before the comment.
	UpsertComment(ctx context.Context, comment model.Comment) error
	// SetWatermark records the last successfully extracted date of a project.
	SetWatermark(ctx context.Context, organization, project string, date time.Time) error
}

// EntityStore defines the driven port for extracted entity persistence.
type EntityStore interface {
	// Update runs fn inside a single transaction. If fn returns an error
	// every write is rolled back.
	Update(ctx context.Context, fn func(EntityWriter) error) error
	// Watermark returns the last extracted date of a project, or nil.
	Watermark(ctx context.Context, organization, project string) (*time.Time, error)
	// ThreadLastUpdated returns the latest stored thread update for a PR, or nil.
	ThreadLastUpdated(ctx context.Context, pullRequestUID string) (*time.Time, error)
	// ListRecentlyClosedPRs returns completed PRs, most recently closed first.
	ListRecentlyClosedPRs(ctx context.Context, limit int) ([]model.PRRef, error)
	Counts(ctx context.Context) (model.EntityCounts, error)
}

// AnalyticsReader defines the read-only queries used to build derived artifacts.
type AnalyticsReader interface {
	// ListCompletedPRs returns completed PRs ordered by closed date.
	ListCompletedPRs(ctx context.Context) ([]model.CompletedPR, error)
	PRStats(ctx context.Context) (model.PRStats, error)
	FreshnessMarkers(ctx context.Context) (model.FreshnessMarkers, error)
}
