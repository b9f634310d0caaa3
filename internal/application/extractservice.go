// Package application contains the batch use cases: extraction, aggregation,
// forecasting and insight generation.
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ericfisherdev/prinsights/internal/domain/model"
	"github.com/ericfisherdev/prinsights/internal/domain/port/driven"
)

// CommentSettings controls the optional thread and comment extraction phase.
type CommentSettings struct {
	Enabled         bool
	MaxPRsPerRun    int
	MaxThreadsPerPR int // 0 means unlimited.
}

// ExtractSettings are the inputs of one extraction run.
type ExtractSettings struct {
	Organization string
	Projects     []string
	StartDate    *time.Time
	EndDate      *time.Time
	BackfillDays *int
	Comments     CommentSettings
}

// ExtractService drives per-project extraction from a PRSource into the
// EntityStore.
type ExtractService struct {
	source   driven.PRSource
	store    driven.EntityStore
	metrics  driven.RunMetrics
	settings ExtractSettings
	now      func() time.Time
}

// ExtractOption customises an ExtractService.
type ExtractOption func(*ExtractService)

// WithExtractClock overrides the clock used to resolve "today".
func WithExtractClock(now func() time.Time) ExtractOption {
	return func(s *ExtractService) { s.now = now }
}

// WithRunMetrics records per-project measurements on m.
func WithRunMetrics(m driven.RunMetrics) ExtractOption {
	return func(s *ExtractService) { s.metrics = m }
}

// NewExtractService creates a new ExtractService.
func NewExtractService(source driven.PRSource, store driven.EntityStore, settings ExtractSettings, opts ...ExtractOption) *ExtractService {
	s := &ExtractService{
		source:   source,
		store:    store,
		metrics:  nopMetrics{},
		settings: settings,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run extracts every configured project in order. A failed project is
// recorded and the remaining projects are still attempted. The returned
// error is non-nil only for run-level failures: the connection test,
// database errors and cancellation.
func (s *ExtractService) Run(ctx context.Context) (model.ExtractionSummary, error) {
	var summary model.ExtractionSummary

	if len(s.settings.Projects) == 0 {
		return summary, fmt.Errorf("%w: no projects configured", driven.ErrConfiguration)
	}

	first := s.settings.Projects[0]
	if err := s.source.TestConnection(ctx, first); err != nil {
		return summary, fmt.Errorf("test connection to %s: %w", first, err)
	}
	slog.Info("connection verified", "organization", s.settings.Organization, "project", first)

	for _, project := range s.settings.Projects {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		started := time.Now()
		result, err := s.extractProject(ctx, project)
		result.DurationS = time.Since(started).Seconds()
		if err != nil && (errors.Is(err, driven.ErrDatabase) || ctx.Err() != nil) {
			result.Status = model.ProjectStatusFailed
			result.Err = err
			summary.Projects = append(summary.Projects, result)
			if summary.FirstFatalError == nil {
				summary.FirstFatalError = err
			}
			return summary, err
		}

		if err != nil {
			result.Status = model.ProjectStatusFailed
			result.Err = err
			if summary.FirstFatalError == nil {
				summary.FirstFatalError = err
			}
			slog.Error("project extraction failed", "project", project, "error", err)
		} else {
			result.Status = model.ProjectStatusSuccess
			summary.TotalPRs += result.PRCount
		}

		s.metrics.ObserveProject(project, string(result.Status), result.PRCount, time.Since(started))
		summary.Projects = append(summary.Projects, result)
	}

	if !summary.Success() {
		return summary, nil
	}

	if s.settings.Comments.Enabled {
		stats, err := s.extractComments(ctx)
		if err != nil {
			return summary, err
		}
		summary.Comments = stats
		s.metrics.ObserveComments(stats.Threads, stats.Comments, stats.Capped)
		if stats.Capped {
			summary.Warnings = append(summary.Warnings,
				fmt.Sprintf("Comments extraction capped at %d PRs", s.settings.Comments.MaxPRsPerRun))
		}
	}

	return summary, nil
}

// extractProject fetches one project's window and commits it, watermark
// included, in a single transaction.
func (s *ExtractService) extractProject(ctx context.Context, project string) (model.ProjectResult, error) {
	org := s.settings.Organization
	result := model.ProjectResult{Project: project}

	watermark, err := s.store.Watermark(ctx, org, project)
	if err != nil {
		return result, err
	}

	window := ResolveWindow(WindowInputs{
		ExplicitStart: s.settings.StartDate,
		ExplicitEnd:   s.settings.EndDate,
		BackfillDays:  s.settings.BackfillDays,
		Watermark:     watermark,
		Today:         s.now(),
	})
	result.Start = window.Start.Format(time.DateOnly)
	result.End = window.End.Format(time.DateOnly)

	if window.Empty() {
		slog.Info("project already up to date", "project", project, "start", result.Start, "end", result.End)
		result.Skipped = true
		return result, nil
	}

	slog.Info("extracting project", "project", project, "start", result.Start, "end", result.End)

	prs, err := s.source.ListPullRequests(ctx, project, window)
	if err != nil {
		return result, fmt.Errorf("list pull requests for %s: %w", project, err)
	}

	valid := make([]model.PullRequest, 0, len(prs))
	for _, pr := range prs {
		if pr.Organization == "" {
			pr.Organization = org
		}
		if pr.Project == "" {
			pr.Project = project
		}
		if err := pr.Normalize(); err != nil {
			slog.Warn("skipping invalid pull request", "project", project, "error", err)
			continue
		}
		valid = append(valid, pr)
	}

	err = s.store.Update(ctx, func(w driven.EntityWriter) error {
		for _, pr := range valid {
			if err := w.UpsertPullRequest(ctx, pr); err != nil {
				return err
			}
		}
		return w.SetWatermark(ctx, org, project, window.End)
	})
	if err != nil {
		return result, fmt.Errorf("store project %s: %w", project, err)
	}

	result.PRCount = len(valid)
	slog.Info("project extracted", "project", project, "prs", result.PRCount)
	return result, nil
}

// extractComments fetches threads for the most recently closed PRs and
// commits them as one batch. Per-PR fetch failures are logged and skipped.
func (s *ExtractService) extractComments(ctx context.Context) (model.CommentStats, error) {
	var stats model.CommentStats
	limits := s.settings.Comments

	refs, err := s.store.ListRecentlyClosedPRs(ctx, limits.MaxPRsPerRun)
	if err != nil {
		return stats, err
	}
	stats.Capped = limits.MaxPRsPerRun > 0 && len(refs) >= limits.MaxPRsPerRun

	var batch []model.Thread
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		lastUpdated, err := s.store.ThreadLastUpdated(ctx, ref.UID)
		if err != nil {
			return stats, err
		}

		threads, err := s.source.GetPRThreads(ctx, ref.Project, ref.RepositoryID, ref.PullRequestID)
		if err != nil {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			slog.Warn("failed to extract comments", "pull_request_uid", ref.UID, "error", err)
			continue
		}

		if limits.MaxThreadsPerPR > 0 && len(threads) > limits.MaxThreadsPerPR {
			threads = threads[:limits.MaxThreadsPerPR]
		}

		for _, th := range threads {
			if lastUpdated != nil && !th.LastUpdated.After(*lastUpdated) {
				continue
			}
			th.PullRequestUID = ref.UID
			for i := range th.Comments {
				th.Comments[i].PullRequestUID = ref.UID
				th.Comments[i].ThreadID = th.ID
			}
			batch = append(batch, th)
			stats.Threads++
			stats.Comments += len(th.Comments)
		}
		stats.PRsProcessed++
	}

	err = s.store.Update(ctx, func(w driven.EntityWriter) error {
		for _, th := range batch {
			if err := w.UpsertThread(ctx, th); err != nil {
				return err
			}
			for _, c := range th.Comments {
				if err := w.UpsertComment(ctx, c); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("store comments: %w", err)
	}

	slog.Info("comments extracted",
		"threads", stats.Threads, "comments", stats.Comments, "prs", stats.PRsProcessed, "capped", stats.Capped)
	return stats, nil
}

type nopMetrics struct{}

func (nopMetrics) ObserveProject(string, string, int, time.Duration) {}
func (nopMetrics) ObserveComments(int, int, bool)                    {}
func (nopMetrics) SetRunStatus(string)                               {}
func (nopMetrics) Flush() error                                      { return nil }
