package ado

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/ericfisherdev/prinsights/internal/domain/model"
	"github.com/ericfisherdev/prinsights/internal/domain/port/driven"
)

// ListPullRequests returns every pull request closed within the window,
// paging with $top/$skip. Records that fail validation are logged and skipped.
func (c *Client) ListPullRequests(ctx context.Context, project string, window driven.Window) ([]model.PullRequest, error) {
	query := url.Values{}
	query.Set("searchCriteria.status", "all")
	query.Set("searchCriteria.queryTimeRangeType", "closed")
	query.Set("searchCriteria.minTime", window.Start.UTC().Format(time.RFC3339))
	// maxTime is exclusive; the window end date is inclusive.
	query.Set("searchCriteria.maxTime", window.End.UTC().AddDate(0, 0, 1).Format(time.RFC3339))
	query.Set("$top", strconv.Itoa(c.cfg.PageSize))

	prs := []model.PullRequest{}
	for skip := 0; ; skip += c.cfg.PageSize {
		query.Set("$skip", strconv.Itoa(skip))

		var page pullRequestPage
		if err := c.get(ctx, []string{project, "_apis", "git", "pullrequests"}, query, &page); err != nil {
			return nil, fmt.Errorf("%w: list pull requests for %s (skip %d): %w", driven.ErrExtraction, project, skip, err)
		}

		for _, rec := range page.Value {
			pr, err := rec.toPullRequest(c.cfg.Organization, project)
			if err != nil {
				slog.Warn("skipping invalid pull request record", "project", project, "error", err)
				continue
			}
			prs = append(prs, pr)
		}

		slog.Debug("azure devops page", "project", project, "skip", skip, "count", len(page.Value))
		if len(page.Value) < c.cfg.PageSize {
			break
		}
	}

	return prs, nil
}

// GetPRThreads returns the comment threads of one pull request.
func (c *Client) GetPRThreads(ctx context.Context, project, repositoryID string, pullRequestID int) ([]model.Thread, error) {
	segments := []string{project, "_apis", "git", "repositories", repositoryID, "pullRequests", strconv.Itoa(pullRequestID), "threads"}

	var page threadPage
	if err := c.get(ctx, segments, nil, &page); err != nil {
		return nil, fmt.Errorf("%w: list threads for %s/%s#%d: %w", driven.ErrExtraction, project, repositoryID, pullRequestID, err)
	}

	threads := make([]model.Thread, 0, len(page.Value))
	for _, rec := range page.Value {
		th, err := rec.toThread()
		if err != nil {
			slog.Warn("skipping invalid thread record", "pull_request", pullRequestID, "error", err)
			continue
		}
		threads = append(threads, th)
	}
	return threads, nil
}
