package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ericfisherdev/prinsights/internal/domain/model"
	"github.com/ericfisherdev/prinsights/internal/domain/port/driven"
)

// txWriter performs upserts inside one transaction. Every statement is an
// INSERT ... ON CONFLICT DO UPDATE so repeated calls leave the same rows.
type txWriter struct {
	tx *sql.Tx
}

func (w *txWriter) exec(ctx context.Context, what, query string, args ...any) error {
	if _, err := w.tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: %s: %w", driven.ErrDatabase, what, err)
	}
	return nil
}

// UpsertOrganization inserts the organization if it does not exist.
func (w *txWriter) UpsertOrganization(ctx context.Context, name string) error {
	const query = `
		INSERT INTO organizations (organization_name) VALUES (?)
		ON CONFLICT(organization_name) DO NOTHING
	`
	return w.exec(ctx, "upsert organization "+name, query, name)
}

// UpsertProject inserts the project and its organization.
func (w *txWriter) UpsertProject(ctx context.Context, organization, project string) error {
	if err := w.UpsertOrganization(ctx, organization); err != nil {
		return err
	}

	const query = `
		INSERT INTO projects (organization_name, project_name) VALUES (?, ?)
		ON CONFLICT(organization_name, project_name) DO NOTHING
	`
	return w.exec(ctx, fmt.Sprintf("upsert project %s/%s", organization, project), query, organization, project)
}

// UpsertRepository inserts the repository, its project and organization, and
// refreshes its display name.
func (w *txWriter) UpsertRepository(ctx context.Context, repo model.Repository) error {
	if err := w.UpsertProject(ctx, repo.Organization, repo.Project); err != nil {
		return err
	}

	name := repo.Name
	if name == "" {
		name = repo.ID
	}

	const query = `
		INSERT INTO repositories (repository_id, repository_name, organization_name, project_name)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(repository_id) DO UPDATE SET
			repository_name = excluded.repository_name
	`
	return w.exec(ctx, "upsert repository "+repo.ID, query, repo.ID, name, repo.Organization, repo.Project)
}

// UpsertUser inserts the user or refreshes its display fields. A missing email
// never erases a stored one.
func (w *txWriter) UpsertUser(ctx context.Context, user model.User) error {
	name := user.DisplayName
	if name == "" {
		name = "Unknown"
	}

	const query = `
		INSERT INTO users (user_id, display_name, email) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			display_name = excluded.display_name,
			email = COALESCE(excluded.email, users.email)
	`
	return w.exec(ctx, "upsert user "+user.ID, query, user.ID, name, nullString(user.Email))
}

// UpsertPullRequest normalizes the PR and writes it after its parents. Reviewer
// rows are upserted after the PR.
func (w *txWriter) UpsertPullRequest(ctx context.Context, pr model.PullRequest) error {
	if err := pr.Normalize(); err != nil {
		return fmt.Errorf("%w: invalid pull request: %w", driven.ErrDatabase, err)
	}

	if err := w.UpsertRepository(ctx, pr.Repository); err != nil {
		return err
	}
	if err := w.UpsertUser(ctx, pr.Author); err != nil {
		return err
	}

	var cycle any
	if pr.CycleTimeMinutes != nil {
		cycle = *pr.CycleTimeMinutes
	}

	const query = `
		INSERT INTO pull_requests (
			pull_request_uid, pull_request_id, organization_name, project_name, repository_id,
			user_id, title, description, status, creation_date, closed_date, cycle_time_minutes, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(pull_request_uid) DO UPDATE SET
			user_id = excluded.user_id,
			title = excluded.title,
			description = excluded.description,
			status = excluded.status,
			creation_date = excluded.creation_date,
			closed_date = excluded.closed_date,
			cycle_time_minutes = excluded.cycle_time_minutes,
			updated_at = excluded.updated_at
	`

	uid := pr.UID()
	if err := w.exec(ctx, "upsert pull request "+uid, query,
		uid, pr.PullRequestID, pr.Organization, pr.Project, pr.Repository.ID,
		pr.Author.ID, pr.Title, pr.Description, string(pr.Status),
		formatTime(pr.CreatedAt), formatTimePtr(pr.ClosedAt), cycle, formatTimePtr(pr.UpdatedAt),
	); err != nil {
		return err
	}

	const reviewerQuery = `
		INSERT INTO reviewers (pull_request_uid, user_id, vote) VALUES (?, ?, ?)
		ON CONFLICT(pull_request_uid, user_id) DO UPDATE SET
			vote = excluded.vote
	`
	for _, rv := range pr.Reviewers {
		if rv.User.ID == "" {
			continue
		}
		if err := w.UpsertUser(ctx, rv.User); err != nil {
			return err
		}
		if err := w.exec(ctx, "upsert reviewer "+rv.User.ID, reviewerQuery, uid, rv.User.ID, rv.Vote); err != nil {
			return err
		}
	}

	return nil
}

// UpsertThread writes a thread. Its pull request must already be stored.
func (w *txWriter) UpsertThread(ctx context.Context, thread model.Thread) error {
	status := thread.Status
	if status == "" {
		status = "unknown"
	}
	created := thread.CreatedAt
	if created.IsZero() {
		created = thread.LastUpdated
	}

	const query = `
		INSERT INTO pr_threads (
			pull_request_uid, thread_id, status, thread_context, last_updated, created_at, is_deleted
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(pull_request_uid, thread_id) DO UPDATE SET
			status = excluded.status,
			thread_context = excluded.thread_context,
			last_updated = excluded.last_updated,
			is_deleted = excluded.is_deleted
	`
	return w.exec(ctx, fmt.Sprintf("upsert thread %s/%s", thread.PullRequestUID, thread.ID), query,
		thread.PullRequestUID, thread.ID, status, nullString(thread.Context),
		formatTime(thread.LastUpdated), formatTime(created), boolInt(thread.IsDeleted),
	)
}

// UpsertComment writes a comment after upserting its author.
func (w *txWriter) UpsertComment(ctx context.Context, comment model.Comment) error {
	author := comment.Author
	if author.ID == "" {
		author.ID = "unknown"
	}
	if err := w.UpsertUser(ctx, author); err != nil {
		return err
	}

	commentType := comment.CommentType
	if commentType == "" {
		commentType = "text"
	}

	const query = `
		INSERT INTO pr_comments (
			pull_request_uid, thread_id, comment_id, author_id, content, comment_type,
			created_at, last_updated, is_deleted
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(pull_request_uid, thread_id, comment_id) DO UPDATE SET
			author_id = excluded.author_id,
			content = excluded.content,
			comment_type = excluded.comment_type,
			last_updated = excluded.last_updated,
			is_deleted = excluded.is_deleted
	`
	return w.exec(ctx, fmt.Sprintf("upsert comment %s/%s", comment.ThreadID, comment.ID), query,
		comment.PullRequestUID, comment.ThreadID, comment.ID, author.ID, nullString(comment.Content),
		commentType, formatTime(comment.CreatedAt), formatTimePtr(comment.LastUpdated), boolInt(comment.IsDeleted),
	)
}

// SetWatermark records the last successfully extracted date of a project.
func (w *txWriter) SetWatermark(ctx context.Context, organization, project string, date time.Time) error {
	if err := w.UpsertProject(ctx, organization, project); err != nil {
		return err
	}

	const query = `
		INSERT INTO extraction_metadata (organization_name, project_name, last_extraction_date)
		VALUES (?, ?, ?)
		ON CONFLICT(organization_name, project_name) DO UPDATE SET
			last_extraction_date = excluded.last_extraction_date
	`
	return w.exec(ctx, fmt.Sprintf("set watermark %s/%s", organization, project), query,
		organization, project, date.UTC().Format(dateLayout),
	)
}
