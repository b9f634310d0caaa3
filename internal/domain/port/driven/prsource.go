package driven

import (
	"context"
	"time"

	"github.com/ericfisherdev/prinsights/internal/domain/model"
)

// Window is an inclusive range of calendar dates, both truncated to midnight UTC.
type Window struct {
	Start time.Time
	End   time.Time
}

// Empty reports whether the window contains no dates.
func (w Window) Empty() bool {
	return w.Start.After(w.End)
}

// PRSource defines the driven port for reading pull request activity from a
// remote system. All errors wrap ErrExtraction.
type PRSource interface {
	// TestConnection verifies credentials and that the project is reachable.
	TestConnection(ctx context.Context, project string) error
	// ListPullRequests returns pull requests closed within the window.
	ListPullRequests(ctx context.Context, project string, window Window) ([]model.PullRequest, error)
	// GetPRThreads returns the discussion threads of one pull request,
	// comments included.
	GetPRThreads(ctx context.Context, project, repositoryID string, pullRequestID int) ([]model.Thread, error)
}
