package sqlite

import (
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/prinsights/internal/domain/model"
)

// setupTestDB opens a named shared in-memory database with migrations
// applied. The name is derived from t.Name() so tests stay isolated.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	// WAL mode does not apply to in-memory databases.
	dsn := fmt.Sprintf(
		"file:%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=cache_size(-64000)",
		url.PathEscape(t.Name()),
	)

	db, err := openDSN(dsn, dsn)
	require.NoError(t, err, "open test db")

	if err := RunMigrations(db.Writer); err != nil {
		_ = db.Close()
		t.Fatalf("run migrations: %v", err)
	}

	t.Cleanup(func() { _ = db.Close() })

	return db
}

func ts(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func tsPtr(s string) *time.Time {
	t := ts(s)
	return &t
}

func makePR(repoID string, id int, status model.PRStatus, created string, closed *time.Time) model.PullRequest {
	return model.PullRequest{
		Organization:  "contoso",
		Project:       "web",
		Repository:    model.Repository{ID: repoID, Name: "repo-" + repoID},
		PullRequestID: id,
		Title:         fmt.Sprintf("PR %d", id),
		Author:        model.User{ID: "u-alice", DisplayName: "Alice", Email: "alice@contoso.com"},
		Status:        status,
		CreatedAt:     ts(created),
		ClosedAt:      closed,
		Reviewers: []model.Reviewer{
			{User: model.User{ID: "u-bob", DisplayName: "Bob"}, Vote: 10},
		},
	}
}
