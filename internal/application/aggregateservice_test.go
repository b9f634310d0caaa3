package application_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/prinsights/internal/application"
	"github.com/ericfisherdev/prinsights/internal/domain/model"
	"github.com/ericfisherdev/prinsights/internal/domain/port/driven"
)

type fakeInsights struct {
	written bool
	err     error
	calls   int
}

func (f *fakeInsights) Generate(_ context.Context) (bool, error) {
	f.calls++
	return f.written, f.err
}

func cycle(v float64) *float64 { return &v }

func closedPR(uid, repo, author, closed string, minutes *float64, reviewers ...string) model.CompletedPR {
	return model.CompletedPR{
		UID:              uid,
		RepositoryID:     "id-" + repo,
		RepositoryName:   repo,
		AuthorID:         author,
		ReviewerIDs:      reviewers,
		ClosedAt:         mustTime(closed),
		CycleTimeMinutes: minutes,
	}
}

// aggregateFixture spans three ISO weeks and two calendar years. The first
// PR closes in 2025 but belongs to ISO week 2026-W01.
func aggregateFixture() *mockReader {
	return &mockReader{prs: []model.CompletedPR{
		closedPR("pr-5", "api", "u-c", "2025-12-30T09:00:00Z", cycle(20000), "u-r1"),
		closedPR("pr-1", "web", "u-a", "2026-01-05T10:00:00Z", cycle(30), "u-r1"),
		closedPR("pr-2", "api", "u-b", "2026-01-06T10:00:00Z", cycle(120), "u-r1", "u-r2"),
		closedPR("pr-3", "api", "u-a", "2026-01-07T10:00:00Z", cycle(3000)),
		closedPR("pr-4", "api", "u-c", "2026-01-13T10:00:00Z", nil),
	}}
}

func fixedClock() func() time.Time {
	return clockAt("2026-01-21T08:00:00Z")
}

func readRollup(t *testing.T, store *memArtifacts, name string) model.WeeklyRollupFile {
	t.Helper()
	var file model.WeeklyRollupFile
	ok, err := store.ReadJSON(name, &file)
	require.NoError(t, err)
	require.True(t, ok, "rollup %s written", name)
	return file
}

func TestAggregateService_WeeklyRollups(t *testing.T) {
	artifacts := newMemArtifacts()
	svc := application.NewAggregateService(aggregateFixture(), artifacts, nil, nil,
		application.AggregateSettings{RunID: "run-1"})

	manifest, err := svc.Generate(context.Background())
	require.NoError(t, err)

	index := manifest.AggregateIndex.WeeklyRollups
	require.Len(t, index, 3)
	assert.Equal(t, model.RollupIndexEntry{
		Week: "2026-W01", Path: "aggregates/weekly_rollups/2026-W01.json",
		StartDate: "2025-12-29", EndDate: "2026-01-04",
	}, index[0])
	assert.Equal(t, "2026-W02", index[1].Week)
	assert.Equal(t, "2026-W03", index[2].Week)

	w02 := readRollup(t, artifacts, "aggregates/weekly_rollups/2026-W02.json")
	require.Len(t, w02.Rollups, 3)

	all := w02.Rollups[0]
	assert.Equal(t, model.ScopeAll, all.Scope)
	assert.Equal(t, 3, all.PRCount)
	assert.Equal(t, 2, all.AuthorsCount)
	assert.Equal(t, 2, all.ReviewersCount)
	require.NotNil(t, all.CycleTimeP50)
	assert.InDelta(t, 120, *all.CycleTimeP50, 1e-9)
	assert.InDelta(t, 2424, *all.CycleTimeP90, 1e-9)

	assert.Empty(t, all.RepositoryName)

	api := w02.Rollups[1]
	assert.Equal(t, "id-api", api.Scope)
	assert.Equal(t, "api", api.RepositoryName)
	assert.Equal(t, 2, api.PRCount)
	assert.InDelta(t, 1560, *api.CycleTimeP50, 1e-9)
	assert.InDelta(t, 2712, *api.CycleTimeP90, 1e-9)

	assert.Equal(t, "id-web", w02.Rollups[2].Scope)
	assert.Equal(t, "web", w02.Rollups[2].RepositoryName)
	assert.Equal(t, 1, w02.Rollups[2].ReviewersCount)

	w03 := readRollup(t, artifacts, "aggregates/weekly_rollups/2026-W03.json")
	assert.Equal(t, 1, w03.Rollups[0].PRCount)
	assert.Nil(t, w03.Rollups[0].CycleTimeP50, "no cycle times recorded")
}

func TestAggregateService_SameNamedRepositoriesStaySeparate(t *testing.T) {
	platformAPI := closedPR("pr-1", "api", "u-a", "2026-01-05T10:00:00Z", cycle(30))
	platformAPI.RepositoryID = "guid-1"
	billingAPI := closedPR("pr-2", "api", "u-b", "2026-01-06T10:00:00Z", cycle(60))
	billingAPI.RepositoryID = "guid-2"
	named := closedPR("pr-3", model.ScopeAll, "u-c", "2026-01-07T10:00:00Z", cycle(90))
	named.RepositoryID = "guid-3"

	artifacts := newMemArtifacts()
	_, err := application.NewAggregateService(
		&mockReader{prs: []model.CompletedPR{platformAPI, billingAPI, named}},
		artifacts, nil, nil, application.AggregateSettings{RunID: "run-1"},
	).Generate(context.Background())
	require.NoError(t, err)

	w02 := readRollup(t, artifacts, "aggregates/weekly_rollups/2026-W02.json")
	require.Len(t, w02.Rollups, 4)
	assert.Equal(t, model.ScopeAll, w02.Rollups[0].Scope)
	assert.Equal(t, 3, w02.Rollups[0].PRCount)

	for i, want := range []struct{ scope, name string }{
		{"guid-3", model.ScopeAll},
		{"guid-1", "api"},
		{"guid-2", "api"},
	} {
		got := w02.Rollups[i+1]
		assert.Equal(t, want.scope, got.Scope)
		assert.Equal(t, want.name, got.RepositoryName)
		assert.Equal(t, 1, got.PRCount)
	}
}

func TestAggregateService_Distributions(t *testing.T) {
	artifacts := newMemArtifacts()
	manifest, err := application.NewAggregateService(aggregateFixture(), artifacts, nil, nil,
		application.AggregateSettings{}).Generate(context.Background())
	require.NoError(t, err)

	require.Len(t, manifest.AggregateIndex.Distributions, 2)
	assert.Equal(t, "2025", manifest.AggregateIndex.Distributions[0].Year)
	assert.Equal(t, "aggregates/distributions/2026.json", manifest.AggregateIndex.Distributions[1].Path)

	var d2025, d2026 model.Distribution
	_, err = artifacts.ReadJSON("aggregates/distributions/2025.json", &d2025)
	require.NoError(t, err)
	_, err = artifacts.ReadJSON("aggregates/distributions/2026.json", &d2026)
	require.NoError(t, err)

	assert.Equal(t, 1, d2025.TotalPRs)
	assert.Equal(t, 1, d2025.CycleTimeBuckets["7d+"])
	assert.Equal(t, map[string]int{"2025-12": 1}, d2025.PRsByMonth)

	assert.Equal(t, 4, d2026.TotalPRs)
	assert.Equal(t, map[string]int{
		"0-1h": 1, "1-4h": 1, "4-24h": 0, "1-3d": 1, "3-7d": 0, "7d+": 0,
	}, d2026.CycleTimeBuckets)
	assert.Equal(t, "2026-01-01", d2026.StartDate)
	assert.Equal(t, "2026-12-31", d2026.EndDate)
}

func TestAggregateService_Coverage(t *testing.T) {
	manifest, err := application.NewAggregateService(aggregateFixture(), newMemArtifacts(), nil, nil,
		application.AggregateSettings{}).Generate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, model.Coverage{TotalPRs: 5, StartDate: "2025-12-30", EndDate: "2026-01-13"}, manifest.Coverage)
	assert.Equal(t, model.ManifestSchemaVersion, manifest.SchemaVersion)
}

func TestAggregateService_EmptyDataset(t *testing.T) {
	artifacts := newMemArtifacts()
	manifest, err := application.NewAggregateService(&mockReader{}, artifacts, nil, nil,
		application.AggregateSettings{RunID: "run-empty"}).Generate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{model.ManifestFileName}, artifacts.writes)
	assert.Zero(t, manifest.Coverage.TotalPRs)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(artifacts.files[model.ManifestFileName], &doc))
	index := doc["aggregate_index"].(map[string]any)
	assert.Equal(t, []any{}, index["weekly_rollups"])
	assert.Equal(t, []any{}, index["distributions"])
	assert.Equal(t, []any{}, doc["warnings"])
	assert.NotContains(t, doc["coverage"], "start_date")
}

func TestAggregateService_ManifestWrittenLast(t *testing.T) {
	artifacts := newMemArtifacts()
	_, err := application.NewAggregateService(aggregateFixture(), artifacts,
		application.NewForecastEngine(application.LinearForecaster{}, fixedClock()), &fakeInsights{written: true},
		application.AggregateSettings{Predictions: true, Insights: true}).Generate(context.Background())
	require.NoError(t, err)

	require.NotEmpty(t, artifacts.writes)
	assert.Equal(t, model.ManifestFileName, artifacts.writes[len(artifacts.writes)-1])
}

func TestAggregateService_FeatureFlags(t *testing.T) {
	tests := []struct {
		name            string
		settings        application.AggregateSettings
		insights        *fakeInsights
		failPredictions bool
		wantPredictions bool
		wantInsights    bool
		wantWarnings    []string
	}{
		{
			name:     "features disabled",
			insights: &fakeInsights{written: true},
		},
		{
			name:            "both written",
			settings:        application.AggregateSettings{Predictions: true, Insights: true},
			insights:        &fakeInsights{written: true},
			wantPredictions: true,
			wantInsights:    true,
		},
		{
			name:            "insights dry run writes no summary",
			settings:        application.AggregateSettings{Predictions: true, Insights: true},
			insights:        &fakeInsights{written: false},
			wantPredictions: true,
		},
		{
			name:         "insight failure becomes a warning",
			settings:     application.AggregateSettings{Insights: true},
			insights:     &fakeInsights{err: errors.New("rate limited")},
			wantWarnings: []string{"AI insights unavailable: rate limited"},
		},
		{
			name:            "prediction write failure becomes a warning",
			settings:        application.AggregateSettings{Predictions: true},
			insights:        &fakeInsights{},
			failPredictions: true,
			wantWarnings:    []string{"Predictions unavailable: disk full"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			artifacts := newMemArtifacts()
			if tc.failPredictions {
				artifacts.failOn["predictions/trends.json"] = errors.New("disk full")
			}

			svc := application.NewAggregateService(aggregateFixture(), artifacts,
				application.NewForecastEngine(application.LinearForecaster{}, fixedClock()), tc.insights, tc.settings)

			manifest, err := svc.Generate(context.Background())
			require.NoError(t, err)

			assert.Equal(t, tc.wantPredictions, manifest.Features.Predictions)
			assert.Equal(t, tc.wantInsights, manifest.Features.AIInsights)
			if tc.wantWarnings == nil {
				assert.Empty(t, manifest.Warnings)
			} else {
				assert.Equal(t, tc.wantWarnings, manifest.Warnings)
			}

			_, predicted := artifacts.files["predictions/trends.json"]
			assert.Equal(t, tc.wantPredictions, predicted)
			if !tc.settings.Insights {
				assert.Zero(t, tc.insights.calls)
			}
		})
	}
}

func TestAggregateService_ReaderFailure(t *testing.T) {
	artifacts := newMemArtifacts()
	_, err := application.NewAggregateService(&mockReader{err: errors.New("disk I/O error")}, artifacts, nil, nil,
		application.AggregateSettings{}).Generate(context.Background())

	require.ErrorIs(t, err, driven.ErrAggregation)
	assert.Empty(t, artifacts.writes)
}

func TestAggregateService_StubsRequireOptIn(t *testing.T) {
	artifacts := newMemArtifacts()
	_, err := application.NewAggregateService(aggregateFixture(), artifacts, nil, nil,
		application.AggregateSettings{Stubs: application.StubSettings{Enabled: true}}).Generate(context.Background())

	require.ErrorIs(t, err, driven.ErrStubGeneration)
	assert.Empty(t, artifacts.writes, "nothing written before the guard")
}

func TestAggregateService_StubsFillMissingFeatures(t *testing.T) {
	artifacts := newMemArtifacts()
	settings := application.AggregateSettings{
		Stubs: application.StubSettings{Enabled: true, Allowed: true, SeedBase: "org/project"},
	}

	manifest, err := application.NewAggregateService(aggregateFixture(), artifacts, nil, nil, settings,
		application.WithAggregateClock(fixedClock())).Generate(context.Background())
	require.NoError(t, err)

	assert.True(t, manifest.Features.Predictions)
	assert.True(t, manifest.Features.AIInsights)
	assert.Equal(t, []string{"Stub data: predictions and insights are synthetic (is_stub=true)"}, manifest.Warnings)

	var preds model.Predictions
	_, err = artifacts.ReadJSON("predictions/trends.json", &preds)
	require.NoError(t, err)
	assert.True(t, preds.IsStub)

	var summary model.InsightsSummary
	_, err = artifacts.ReadJSON("insights/summary.json", &summary)
	require.NoError(t, err)
	assert.True(t, summary.IsStub)
	assert.Len(t, summary.Insights, 3)
}

func TestAggregateService_StubsKeepRealOutput(t *testing.T) {
	artifacts := newMemArtifacts()
	settings := application.AggregateSettings{
		Predictions: true,
		Stubs:       application.StubSettings{Enabled: true, Allowed: true},
	}

	_, err := application.NewAggregateService(aggregateFixture(), artifacts,
		application.NewForecastEngine(application.LinearForecaster{}, fixedClock()), nil, settings,
		application.WithAggregateClock(fixedClock())).Generate(context.Background())
	require.NoError(t, err)

	var preds model.Predictions
	_, err = artifacts.ReadJSON("predictions/trends.json", &preds)
	require.NoError(t, err)
	assert.False(t, preds.IsStub, "real predictions are not overwritten")
}

func TestAggregateService_DeterministicOutput(t *testing.T) {
	run := func(clock string) map[string][]byte {
		artifacts := newMemArtifacts()
		_, err := application.NewAggregateService(aggregateFixture(), artifacts, nil, nil,
			application.AggregateSettings{RunID: "run-1"},
			application.WithAggregateClock(clockAt(clock))).Generate(context.Background())
		require.NoError(t, err)
		return artifacts.files
	}

	first := run("2026-01-21T08:00:00Z")
	second := run("2026-02-01T17:30:00Z")
	assert.Equal(t, first, second)
}
