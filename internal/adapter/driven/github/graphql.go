package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ericfisherdev/prinsights/internal/domain/model"
	"github.com/ericfisherdev/prinsights/internal/domain/port/driven"
)

// graphqlHTTPClient is the HTTP client used for GraphQL requests.
// It enforces a 30-second timeout as a safety net alongside context cancellation.
var graphqlHTTPClient = &http.Client{Timeout: 30 * time.Second}

const reviewThreadsQuery = `query($owner: String!, $repo: String!, $pr: Int!, $after: String) {
	repository(owner: $owner, name: $repo) {
		pullRequest(number: $pr) {
			reviewThreads(first: 100, after: $after) {
				pageInfo {
					hasNextPage
					endCursor
				}
				nodes {
					id
					isResolved
					isOutdated
					path
					line
					comments(first: 100) {
						nodes {
							databaseId
							author { login }
							body
							createdAt
							updatedAt
						}
					}
				}
			}
		}
	}
}`

// graphqlRequest is the JSON body sent to the GitHub GraphQL API.
type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type reviewThreadNode struct {
	ID         string `json:"id"`
	IsResolved bool   `json:"isResolved"`
	IsOutdated bool   `json:"isOutdated"`
	Path       string `json:"path"`
	Line       *int   `json:"line"`
	Comments   struct {
		Nodes []struct {
			DatabaseID int64 `json:"databaseId"`
			Author     *struct {
				Login string `json:"login"`
			} `json:"author"`
			Body      string    `json:"body"`
			CreatedAt time.Time `json:"createdAt"`
			UpdatedAt time.Time `json:"updatedAt"`
		} `json:"nodes"`
	} `json:"comments"`
}

// graphqlResponse represents the expected shape of a GitHub GraphQL response
// for review threads.
type graphqlResponse struct {
	Data struct {
		Repository struct {
			PullRequest *struct {
				ReviewThreads struct {
					PageInfo struct {
						HasNextPage bool   `json:"hasNextPage"`
						EndCursor   string `json:"endCursor"`
					} `json:"pageInfo"`
					Nodes []reviewThreadNode `json:"nodes"`
				} `json:"reviewThreads"`
			} `json:"pullRequest"`
		} `json:"repository"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// GetPRThreads returns the review threads of a pull request with their
// comments, paging through the GraphQL reviewThreads connection.
func (c *Client) GetPRThreads(ctx context.Context, _ string, repositoryID string, pullRequestID int) ([]model.Thread, error) {
	if c.token == "" {
		return nil, fmt.Errorf("%w: review threads require a GitHub token", driven.ErrExtraction)
	}

	owner, repo, err := splitRepo(repositoryID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", driven.ErrExtraction, err)
	}

	threads := []model.Thread{}
	var after *string
	for {
		page, err := c.queryReviewThreads(ctx, owner, repo, pullRequestID, after)
		if err != nil {
			return nil, fmt.Errorf("%w: review threads for %s#%d: %w", driven.ErrExtraction, repositoryID, pullRequestID, err)
		}
		if page.Data.Repository.PullRequest == nil {
			return nil, fmt.Errorf("%w: pull request %s#%d not found", driven.ErrExtraction, repositoryID, pullRequestID)
		}

		rt := page.Data.Repository.PullRequest.ReviewThreads
		for _, node := range rt.Nodes {
			if th, ok := mapThread(node); ok {
				threads = append(threads, th)
			}
		}

		if !rt.PageInfo.HasNextPage || rt.PageInfo.EndCursor == "" {
			break
		}
		cursor := rt.PageInfo.EndCursor
		after = &cursor
	}

	return threads, nil
}

func (c *Client) queryReviewThreads(ctx context.Context, owner, repo string, prNumber int, after *string) (*graphqlResponse, error) {
	reqBody := graphqlRequest{
		Query: reviewThreadsQuery,
		Variables: map[string]any{
			"owner": owner,
			"repo":  repo,
			"pr":    prNumber,
			"after": after,
		},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.graphqlURL, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Authorization", fmt.Sprintf("bearer %s", c.token))
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := graphqlHTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	var gqlResp graphqlResponse
	if err := json.NewDecoder(resp.Body).Decode(&gqlResp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	if len(gqlResp.Errors) > 0 {
		return nil, errors.New(gqlResp.Errors[0].Message)
	}

	return &gqlResp, nil
}

// mapThread converts a GraphQL review thread to a domain Thread. Threads
// without comments carry no timestamps and are skipped.
func mapThread(node reviewThreadNode) (model.Thread, bool) {
	if node.ID == "" || len(node.Comments.Nodes) == 0 {
		slog.Debug("skipping empty review thread", "id", node.ID)
		return model.Thread{}, false
	}

	status := "active"
	if node.IsResolved {
		status = "fixed"
	}

	th := model.Thread{
		ID:     node.ID,
		Status: status,
	}

	if node.Path != "" {
		anchor := map[string]any{"filePath": node.Path}
		if node.Line != nil {
			anchor["line"] = *node.Line
		}
		if node.IsOutdated {
			anchor["outdated"] = true
		}
		if b, err := json.Marshal(anchor); err == nil {
			th.Context = string(b)
		}
	}

	for i, c := range node.Comments.Nodes {
		author := model.User{ID: "ghost", DisplayName: "ghost"}
		if c.Author != nil && c.Author.Login != "" {
			author = model.User{ID: c.Author.Login, DisplayName: c.Author.Login}
		}

		comment := model.Comment{
			ID:          strconv.FormatInt(c.DatabaseID, 10),
			ThreadID:    th.ID,
			Author:      author,
			Content:     c.Body,
			CommentType: "text",
			CreatedAt:   c.CreatedAt.UTC(),
		}
		if !c.UpdatedAt.IsZero() && c.UpdatedAt.After(c.CreatedAt) {
			updated := c.UpdatedAt.UTC()
			comment.LastUpdated = &updated
		}
		th.Comments = append(th.Comments, comment)

		if i == 0 || c.CreatedAt.Before(th.CreatedAt) {
			th.CreatedAt = c.CreatedAt.UTC()
		}
		last := c.UpdatedAt
		if last.Before(c.CreatedAt) {
			last = c.CreatedAt
		}
		if last.After(th.LastUpdated) {
			th.LastUpdated = last.UTC()
		}
	}

	return th, true
}
