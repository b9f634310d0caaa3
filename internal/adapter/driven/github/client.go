// Package github implements the PRSource port using the go-github library.
// A project is a GitHub owner (organization or user); repository IDs are
// "owner/repo" full names.
package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v82/github"
	"github.com/gregjones/httpcache"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"

	"github.com/ericfisherdev/prinsights/internal/domain/model"
	"github.com/ericfisherdev/prinsights/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.PRSource = (*Client)(nil)

// Client implements the driven.PRSource port using the go-github library.
type Client struct {
	gh           *gh.Client
	organization string
	token        string // Stored for GraphQL Authorization header.
	graphqlURL   string // "https://api.github.com/graphql" in production; derived from baseURL in tests.
}

// NewClient creates a new GitHub API client with the following transport stack:
//  1. httpcache (ETag-based conditional request caching)
//  2. go-github-ratelimit (secondary rate limit middleware, sleeps on 429)
//  3. go-github (GitHub REST API client with PAT auth)
//
// organization is the label stored on every pull request UID.
func NewClient(token, organization string) *Client {
	cacheTransport := httpcache.NewMemoryCacheTransport()
	rateLimitClient := github_ratelimit.NewClient(cacheTransport)
	client := gh.NewClient(rateLimitClient).WithAuthToken(token)

	return &Client{
		gh:           client,
		organization: organization,
		token:        token,
		graphqlURL:   "https://api.github.com/graphql",
	}
}

// NewClientWithHTTPClient creates a Client with a custom http.Client and base URL.
// This constructor is intended for testing, allowing injection of an httptest server.
func NewClientWithHTTPClient(httpClient *http.Client, baseURL, organization, token string) (*Client, error) {
	client := gh.NewClient(httpClient)
	if token != "" {
		client = client.WithAuthToken(token)
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	client.BaseURL = u

	// Derive graphqlURL from baseURL so httptest servers can intercept GraphQL requests.
	graphqlU := *u
	graphqlU.Path = "/graphql"

	return &Client{
		gh:           client,
		organization: organization,
		token:        token,
		graphqlURL:   graphqlU.String(),
	}, nil
}

// TestConnection verifies the token and that the owner exists.
func (c *Client) TestConnection(ctx context.Context, owner string) error {
	user, resp, err := c.gh.Users.Get(ctx, owner)
	if err != nil {
		return fmt.Errorf("%w: fetching owner %s: %w", driven.ErrExtraction, owner, err)
	}

	logRateLimit(resp, "users/"+owner, 0, 1)
	slog.Info("connected to GitHub", "owner", user.GetLogin(), "type", user.GetType())
	return nil
}

// ListPullRequests returns the closed pull requests of every repository of
// owner whose close date falls inside the window.
func (c *Client) ListPullRequests(ctx context.Context, owner string, window driven.Window) ([]model.PullRequest, error) {
	repos, err := c.listRepositories(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", driven.ErrExtraction, err)
	}

	all := []model.PullRequest{}
	for _, repo := range repos {
		prs, err := c.listClosedPullRequests(ctx, owner, repo, window)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", driven.ErrExtraction, err)
		}
		all = append(all, prs...)
	}

	return all, nil
}

// listRepositories pages through the owner's repositories, trying the
// organization endpoint first and falling back to the user endpoint.
func (c *Client) listRepositories(ctx context.Context, owner string) ([]*gh.Repository, error) {
	orgOpts := &gh.RepositoryListByOrgOptions{
		Type:        "all",
		ListOptions: gh.ListOptions{PerPage: 100},
	}

	var repos []*gh.Repository
	for {
		page, resp, err := c.gh.Repositories.ListByOrg(ctx, owner, orgOpts)
		if err != nil {
			var ghErr *gh.ErrorResponse
			if errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusNotFound {
				return c.listUserRepositories(ctx, owner)
			}
			return nil, fmt.Errorf("listing repositories for %s (page %d): %w", owner, orgOpts.Page, err)
		}

		logRateLimit(resp, owner+"/repos", orgOpts.Page, len(page))
		repos = append(repos, page...)

		if resp.NextPage == 0 {
			break
		}
		orgOpts.Page = resp.NextPage
	}

	return activeRepositories(repos), nil
}

func (c *Client) listUserRepositories(ctx context.Context, owner string) ([]*gh.Repository, error) {
	opts := &gh.RepositoryListByUserOptions{
		Type:        "owner",
		ListOptions: gh.ListOptions{PerPage: 100},
	}

	var repos []*gh.Repository
	for {
		page, resp, err := c.gh.Repositories.ListByUser(ctx, owner, opts)
		if err != nil {
			return nil, fmt.Errorf("listing repositories for user %s (page %d): %w", owner, opts.Page, err)
		}

		logRateLimit(resp, owner+"/repos", opts.Page, len(page))
		repos = append(repos, page...)

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return activeRepositories(repos), nil
}

// activeRepositories drops archived repositories and forks.
func activeRepositories(repos []*gh.Repository) []*gh.Repository {
	out := make([]*gh.Repository, 0, len(repos))
	for _, r := range repos {
		if r.GetArchived() || r.GetFork() {
			continue
		}
		out = append(out, r)
	}
	return out
}

// listClosedPullRequests pages closed pull requests sorted by update time,
// newest first, and stops once a page reaches PRs last updated before the
// window. A PR cannot close after its last update.
func (c *Client) listClosedPullRequests(ctx context.Context, owner string, repo *gh.Repository, window driven.Window) ([]model.PullRequest, error) {
	repoFullName := owner + "/" + repo.GetName()
	start := window.Start.UTC()
	endExclusive := window.End.UTC().AddDate(0, 0, 1)

	opts := &gh.PullRequestListOptions{
		State:     "closed",
		Sort:      "updated",
		Direction: "desc",
		ListOptions: gh.ListOptions{
			PerPage: 100,
		},
	}

	var out []model.PullRequest

	for {
		prs, resp, err := c.gh.PullRequests.List(ctx, owner, repo.GetName(), opts)
		if err != nil {
			return nil, fmt.Errorf("listing pull requests for %s (page %d): %w", repoFullName, opts.Page, err)
		}

		logRateLimit(resp, repoFullName, opts.Page, len(prs))

		reachedOlder := false
		for _, pr := range prs {
			if pr.GetUpdatedAt().Time.Before(start) {
				reachedOlder = true
				break
			}
			closed := pr.GetClosedAt().Time
			if closed.Before(start) || !closed.Before(endExclusive) {
				continue
			}

			mapped := mapPullRequest(pr, c.organization, owner, repo)
			reviewers, err := c.fetchReviewers(ctx, owner, repo.GetName(), pr.GetNumber())
			if err != nil {
				return nil, err
			}
			mapped.Reviewers = reviewers
			out = append(out, mapped)
		}

		if reachedOlder || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return out, nil
}

// fetchReviewers returns one reviewer per submitted review author, carrying
// the vote of their latest decisive review.
func (c *Client) fetchReviewers(ctx context.Context, owner, repo string, prNumber int) ([]model.Reviewer, error) {
	opts := &gh.ListOptions{PerPage: 100}

	votes := make(map[string]int)
	var order []string

	for {
		reviews, resp, err := c.gh.PullRequests.ListReviews(ctx, owner, repo, prNumber, opts)
		if err != nil {
			return nil, fmt.Errorf("listing reviews for %s/%s#%d (page %d): %w", owner, repo, prNumber, opts.Page, err)
		}

		for _, r := range reviews {
			login := r.GetUser().GetLogin()
			if login == "" {
				continue
			}
			vote := reviewVote(r.GetState())
			if _, seen := votes[login]; !seen {
				order = append(order, login)
				votes[login] = vote
				continue
			}
			// A later comment-only review does not clear an earlier decision.
			if vote != 0 {
				votes[login] = vote
			}
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	reviewers := make([]model.Reviewer, 0, len(order))
	for _, login := range order {
		reviewers = append(reviewers, model.Reviewer{
			User: model.User{ID: login, DisplayName: login},
			Vote: votes[login],
		})
	}
	return reviewers, nil
}

// reviewVote maps a GitHub review state onto the Azure DevOps vote scale.
func reviewVote(state string) int {
	switch strings.ToUpper(state) {
	case "APPROVED":
		return 10
	case "CHANGES_REQUESTED":
		return -10
	default:
		return 0
	}
}

// logRateLimit logs the GitHub API rate limit status after each call.
func logRateLimit(resp *gh.Response, endpoint string, page, count int) {
	if resp == nil {
		return
	}

	slog.Debug("github api call",
		"endpoint", endpoint,
		"page", page,
		"count", count,
		"rate_remaining", resp.Rate.Remaining,
		"rate_limit", resp.Rate.Limit,
	)

	if resp.Rate.Limit > 0 && resp.Rate.Remaining < 100 {
		slog.Warn("github rate limit low",
			"remaining", resp.Rate.Remaining,
			"reset_in", time.Until(resp.Rate.Reset.Time).Round(time.Second),
		)
	}
}

// mapPullRequest converts a go-github PullRequest to a domain model PullRequest.
// It uses GetXxx() helper methods exclusively to avoid nil pointer panics.
func mapPullRequest(pr *gh.PullRequest, organization, owner string, repo *gh.Repository) model.PullRequest {
	status := model.PRStatusOpen
	if !pr.GetMergedAt().IsZero() {
		status = model.PRStatusCompleted
	} else if pr.GetState() == "closed" {
		status = model.PRStatusAbandoned
	}

	out := model.PullRequest{
		Organization: organization,
		Project:      owner,
		Repository: model.Repository{
			ID:   owner + "/" + repo.GetName(),
			Name: repo.GetName(),
		},
		PullRequestID: pr.GetNumber(),
		Title:         pr.GetTitle(),
		Description:   pr.GetBody(),
		Author: model.User{
			ID:          pr.GetUser().GetLogin(),
			DisplayName: pr.GetUser().GetLogin(),
			Email:       pr.GetUser().GetEmail(),
		},
		Status:    status,
		CreatedAt: pr.GetCreatedAt().Time,
	}

	if status == model.PRStatusCompleted {
		merged := pr.GetMergedAt().Time
		out.ClosedAt = &merged
	} else if closed := pr.GetClosedAt().Time; !closed.IsZero() {
		out.ClosedAt = &closed
	}
	if updated := pr.GetUpdatedAt().Time; !updated.IsZero() {
		out.UpdatedAt = &updated
	}

	return out
}

// splitRepo splits a "owner/repo" string into its two components.
func splitRepo(fullName string) (string, string, error) {
	parts := strings.SplitN(fullName, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo name %q: expected owner/repo", fullName)
	}
	return parts[0], parts[1], nil
}
