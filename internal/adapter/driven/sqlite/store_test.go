package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/prinsights/internal/domain/model"
	"github.com/ericfisherdev/prinsights/internal/domain/port/driven"
)

func writeFixture(t *testing.T, store *Store) {
	t.Helper()
	ctx := context.Background()

	err := store.Update(ctx, func(w driven.EntityWriter) error {
		prs := []model.PullRequest{
			makePR("r1", 1, model.PRStatusCompleted, "2026-01-05T09:00:00Z", tsPtr("2026-01-05T10:30:00Z")),
			makePR("r1", 2, model.PRStatusAbandoned, "2026-01-06T09:00:00Z", tsPtr("2026-01-07T09:00:00Z")),
			makePR("r2", 3, model.PRStatusOpen, "2026-01-08T09:00:00Z", nil),
		}
		for _, pr := range prs {
			if err := w.UpsertPullRequest(ctx, pr); err != nil {
				return err
			}
		}

		uid := prs[0].UID()
		if err := w.UpsertThread(ctx, model.Thread{
			ID:             "7",
			PullRequestUID: uid,
			Status:         "active",
			LastUpdated:    ts("2026-01-05T10:00:00Z"),
			CreatedAt:      ts("2026-01-05T09:30:00Z"),
		}); err != nil {
			return err
		}
		return w.UpsertComment(ctx, model.Comment{
			ID:             "1",
			ThreadID:       "7",
			PullRequestUID: uid,
			Author:         model.User{ID: "u-carol", DisplayName: "Carol"},
			Content:        "looks good",
			CreatedAt:      ts("2026-01-05T09:30:00Z"),
		})
	})
	require.NoError(t, err)
}

func TestStore_Update_IsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	writeFixture(t, store)
	first, err := store.Counts(ctx)
	require.NoError(t, err)

	writeFixture(t, store)
	second, err := store.Counts(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, model.EntityCounts{
		Organizations: 1,
		Projects:      1,
		Repositories:  2,
		Users:         3,
		PullRequests:  3,
		Reviewers:     3,
		Threads:       1,
		Comments:      1,
	}, second)
}

func TestStore_UpsertPullRequest_DerivesCycleTime(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()
	writeFixture(t, store)

	prs, err := store.ListCompletedPRs(ctx)
	require.NoError(t, err)
	require.Len(t, prs, 1)

	require.NotNil(t, prs[0].CycleTimeMinutes)
	assert.InDelta(t, 90.0, *prs[0].CycleTimeMinutes, 0.001)
	assert.Equal(t, "repo-r1", prs[0].RepositoryName)
	assert.Equal(t, []string{"u-bob"}, prs[0].ReviewerIDs)
}

func TestStore_UpsertPullRequest_RefreshesDisplayFields(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()
	writeFixture(t, store)

	pr := makePR("r1", 1, model.PRStatusCompleted, "2026-01-05T09:00:00Z", tsPtr("2026-01-05T10:30:00Z"))
	pr.Author.DisplayName = "Alice Smith"
	pr.Author.Email = ""
	require.NoError(t, store.Update(ctx, func(w driven.EntityWriter) error {
		return w.UpsertPullRequest(ctx, pr)
	}))

	var name, email string
	err := db.Reader.QueryRowContext(ctx, `SELECT display_name, email FROM users WHERE user_id = 'u-alice'`).Scan(&name, &email)
	require.NoError(t, err)
	assert.Equal(t, "Alice Smith", name)
	assert.Equal(t, "alice@contoso.com", email)
}

func TestStore_UpsertPullRequest_RejectsTerminalWithoutClosedDate(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	pr := makePR("r1", 9, model.PRStatusCompleted, "2026-01-05T09:00:00Z", nil)
	err := store.Update(ctx, func(w driven.EntityWriter) error {
		return w.UpsertPullRequest(ctx, pr)
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, driven.ErrDatabase)
}

func TestStore_Update_RollsBackOnError(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.Update(ctx, func(w driven.EntityWriter) error {
		pr := makePR("r1", 1, model.PRStatusCompleted, "2026-01-05T09:00:00Z", tsPtr("2026-01-05T10:30:00Z"))
		if err := w.UpsertPullRequest(ctx, pr); err != nil {
			return err
		}
		if err := w.SetWatermark(ctx, "contoso", "web", ts("2026-01-14T00:00:00Z")); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	counts, err := store.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.EntityCounts{}, counts)

	wm, err := store.Watermark(ctx, "contoso", "web")
	require.NoError(t, err)
	assert.Nil(t, wm)
}

func TestStore_Watermark_RoundTrip(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	wm, err := store.Watermark(ctx, "contoso", "web")
	require.NoError(t, err)
	assert.Nil(t, wm)

	for _, day := range []string{"2026-01-10T00:00:00Z", "2026-01-14T00:00:00Z"} {
		require.NoError(t, store.Update(ctx, func(w driven.EntityWriter) error {
			return w.SetWatermark(ctx, "contoso", "web", ts(day))
		}))
	}

	wm, err = store.Watermark(ctx, "contoso", "web")
	require.NoError(t, err)
	require.NotNil(t, wm)
	assert.Equal(t, "2026-01-14", wm.Format("2006-01-02"))
}

func TestStore_ThreadLastUpdated(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()
	writeFixture(t, store)

	uid := model.PullRequestUID("contoso", "web", "r1", 1)
	got, err := store.ThreadLastUpdated(ctx, uid)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Equal(ts("2026-01-05T10:00:00Z")))

	none, err := store.ThreadLastUpdated(ctx, model.PullRequestUID("contoso", "web", "r2", 3))
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestStore_ThreadLastUpdated_KeepsFractionalSeconds(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()
	writeFixture(t, store)

	uid := model.PullRequestUID("contoso", "web", "r1", 1)
	fetched := ts("2026-01-07T10:30:45.1234567Z")
	err := store.Update(ctx, func(w driven.EntityWriter) error {
		return w.UpsertThread(ctx, model.Thread{
			ID:             "8",
			PullRequestUID: uid,
			Status:         "active",
			LastUpdated:    fetched,
			CreatedAt:      ts("2026-01-07T10:00:00Z"),
		})
	})
	require.NoError(t, err)

	got, err := store.ThreadLastUpdated(ctx, uid)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Equal(fetched), "stored %s, fetched %s", got, fetched)
	assert.False(t, fetched.After(*got))

	later := fetched.Add(time.Millisecond)
	assert.True(t, later.After(*got))
}

func TestStore_UpsertComment_UnknownThreadViolatesForeignKey(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()
	writeFixture(t, store)

	err := store.Update(ctx, func(w driven.EntityWriter) error {
		return w.UpsertComment(ctx, model.Comment{
			ID:             "2",
			ThreadID:       "does-not-exist",
			PullRequestUID: model.PullRequestUID("contoso", "web", "r1", 1),
			Author:         model.User{ID: "u-dave"},
			CreatedAt:      time.Now(),
		})
	})
	require.ErrorIs(t, err, driven.ErrDatabase)

	counts, err := store.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Comments)
	assert.Equal(t, 3, counts.Users, "author upsert rolled back with the comment")
}

func TestStore_ListRecentlyClosedPRs(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	require.NoError(t, store.Update(ctx, func(w driven.EntityWriter) error {
		for i, closed := range []string{"2026-01-03T00:00:00Z", "2026-01-09T00:00:00Z", "2026-01-06T00:00:00Z"} {
			pr := makePR("r1", i+1, model.PRStatusCompleted, "2026-01-01T00:00:00Z", tsPtr(closed))
			if err := w.UpsertPullRequest(ctx, pr); err != nil {
				return err
			}
		}
		return nil
	}))

	refs, err := store.ListRecentlyClosedPRs(ctx, 2)
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, 2, refs[0].PullRequestID)
	assert.Equal(t, 3, refs[1].PullRequestID)
	assert.Equal(t, "web", refs[0].Project)
	assert.Equal(t, "r1", refs[0].RepositoryID)
}

func TestStore_PRStatsAndFreshness(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	markers, err := store.FreshnessMarkers(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.EmptyDatasetMarker, markers.MaxClosed)
	assert.Equal(t, model.EmptyDatasetMarker, markers.MaxUpdated)

	writeFixture(t, store)

	stats, err := store.PRStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalPRs)
	assert.Equal(t, "2026-01-05", stats.DateRangeStart)
	assert.Equal(t, "2026-01-07", stats.DateRangeEnd)
	// Cycle times: 90 and 1440 minutes.
	assert.InDelta(t, 765.0, stats.AvgCycleTimeMinutes, 0.001)
	assert.InDelta(t, 1296.0, stats.P90CycleTimeMinutes, 0.001)
	assert.Equal(t, 1, stats.AuthorsCount)
	assert.Equal(t, 2, stats.RepositoriesCount)

	markers, err = store.FreshnessMarkers(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2026-01-07T09:00:00.000000000Z", markers.MaxClosed)
	assert.Equal(t, "2026-01-07T09:00:00.000000000Z", markers.MaxUpdated)
}
