package application

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"time"

	"github.com/ericfisherdev/prinsights/internal/domain/model"
	"github.com/ericfisherdev/prinsights/internal/domain/port/driven"
)

// Artifact paths relative to the dataset root.
const (
	weeklyRollupsDir   = "aggregates/weekly_rollups"
	distributionsDir   = "aggregates/distributions"
	predictionsFile    = "predictions/trends.json"
	insightsSummary    = "insights/summary.json"
	insightsCacheFile  = "insights/cache.json"
	insightsPromptFile = "insights/prompt.json"
)

// cycleBuckets are the distribution buckets in ascending order. Upper bounds
// are exclusive, in minutes.
var cycleBuckets = []struct {
	label string
	upper float64
}{
	{"0-1h", 60},
	{"1-4h", 4 * 60},
	{"4-24h", 24 * 60},
	{"1-3d", 3 * 24 * 60},
	{"3-7d", 7 * 24 * 60},
	{"7d+", 0},
}

// AggregateSettings control which optional artifacts are produced.
type AggregateSettings struct {
	RunID       string
	Predictions bool
	Insights    bool
	Stubs       StubSettings
}

// InsightRunner produces insights/summary.json. It reports whether the
// summary was written.
type InsightRunner interface {
	Generate(ctx context.Context) (bool, error)
}

// AggregateService recomputes every derived artifact from the entity store.
type AggregateService struct {
	reader    driven.AnalyticsReader
	artifacts driven.ArtifactStore
	forecast  *ForecastEngine
	insights  InsightRunner
	settings  AggregateSettings
	now       func() time.Time
}

// NewAggregateService creates a new AggregateService. forecast and insights
// may be nil when the corresponding feature is disabled.
func NewAggregateService(
	reader driven.AnalyticsReader,
	artifacts driven.ArtifactStore,
	forecast *ForecastEngine,
	insights InsightRunner,
	settings AggregateSettings,
	opts ...AggregateOption,
) *AggregateService {
	s := &AggregateService{
		reader:    reader,
		artifacts: artifacts,
		forecast:  forecast,
		insights:  insights,
		settings:  settings,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AggregateOption customises an AggregateService.
type AggregateOption func(*AggregateService)

// WithAggregateClock overrides the clock used for stub artifacts.
func WithAggregateClock(now func() time.Time) AggregateOption {
	return func(s *AggregateService) { s.now = now }
}

// Generate writes rollups, distributions, optional predictions and insights,
// and finally the manifest. Forecast and insight failures become manifest
// warnings; the matching feature flag stays false.
func (s *AggregateService) Generate(ctx context.Context) (model.Manifest, error) {
	manifest := model.Manifest{
		SchemaVersion: model.ManifestSchemaVersion,
		RunID:         s.settings.RunID,
		AggregateIndex: model.AggregateIndex{
			WeeklyRollups: []model.RollupIndexEntry{},
			Distributions: []model.DistributionIndexEntry{},
		},
		Warnings: []string{},
	}

	var stubs *StubGenerator
	if s.settings.Stubs.Enabled {
		gen, err := NewStubGenerator(s.settings.Stubs, s.now)
		if err != nil {
			return manifest, err
		}
		stubs = gen
	}

	prs, err := s.reader.ListCompletedPRs(ctx)
	if err != nil {
		return manifest, fmt.Errorf("%w: load completed PRs: %w", driven.ErrAggregation, err)
	}

	manifest.Coverage = coverage(prs)

	weeks := buildWeeklyRollups(prs)
	for _, wk := range weeks {
		name := path.Join(weeklyRollupsDir, wk.Week+".json")
		if err := s.artifacts.WriteJSON(name, wk); err != nil {
			return manifest, fmt.Errorf("%w: write rollup %s: %w", driven.ErrAggregation, wk.Week, err)
		}
		manifest.AggregateIndex.WeeklyRollups = append(manifest.AggregateIndex.WeeklyRollups, model.RollupIndexEntry{
			Week:      wk.Week,
			Path:      name,
			StartDate: wk.StartDate,
			EndDate:   wk.EndDate,
		})
	}

	for _, dist := range buildDistributions(prs) {
		name := path.Join(distributionsDir, dist.Year+".json")
		if err := s.artifacts.WriteJSON(name, dist); err != nil {
			return manifest, fmt.Errorf("%w: write distribution %s: %w", driven.ErrAggregation, dist.Year, err)
		}
		manifest.AggregateIndex.Distributions = append(manifest.AggregateIndex.Distributions, model.DistributionIndexEntry{
			Year:      dist.Year,
			Path:      name,
			StartDate: dist.StartDate,
			EndDate:   dist.EndDate,
		})
	}

	if s.settings.Predictions && s.forecast != nil {
		preds := s.forecast.Predict(weeklyMetrics(weeks))
		if err := s.artifacts.WriteJSON(predictionsFile, preds); err != nil {
			slog.Warn("predictions not written", "error", err)
			manifest.Warnings = append(manifest.Warnings, fmt.Sprintf("Predictions unavailable: %v", err))
		} else {
			manifest.Features.Predictions = true
		}
	}

	if s.settings.Insights && s.insights != nil {
		written, err := s.insights.Generate(ctx)
		switch {
		case err != nil:
			slog.Warn("insights not written", "error", err)
			manifest.Warnings = append(manifest.Warnings, fmt.Sprintf("AI insights unavailable: %v", err))
		case written:
			manifest.Features.AIInsights = true
		}
	}

	if stubs != nil {
		if err := s.writeStubs(&manifest, stubs); err != nil {
			return manifest, err
		}
	}

	if err := s.artifacts.WriteJSON(model.ManifestFileName, manifest); err != nil {
		return manifest, fmt.Errorf("%w: write manifest: %w", driven.ErrAggregation, err)
	}

	slog.Info("aggregates generated",
		"weekly_rollups", len(manifest.AggregateIndex.WeeklyRollups),
		"distributions", len(manifest.AggregateIndex.Distributions),
		"predictions", manifest.Features.Predictions,
		"ai_insights", manifest.Features.AIInsights,
	)
	return manifest, nil
}

// writeStubs fills in features the real engines did not produce.
func (s *AggregateService) writeStubs(manifest *model.Manifest, gen *StubGenerator) error {
	if !manifest.Features.Predictions {
		if err := s.artifacts.WriteJSON(predictionsFile, gen.Predictions()); err != nil {
			return fmt.Errorf("%w: write stub predictions: %w", driven.ErrStubGeneration, err)
		}
		manifest.Features.Predictions = true
	}
	if !manifest.Features.AIInsights {
		if err := s.artifacts.WriteJSON(insightsSummary, gen.Insights()); err != nil {
			return fmt.Errorf("%w: write stub insights: %w", driven.ErrStubGeneration, err)
		}
		manifest.Features.AIInsights = true
	}

	manifest.Warnings = append(manifest.Warnings, "Stub data: predictions and insights are synthetic (is_stub=true)")
	return nil
}

func coverage(prs []model.CompletedPR) model.Coverage {
	c := model.Coverage{TotalPRs: len(prs)}
	if len(prs) == 0 {
		return c
	}
	// prs are ordered by closed date.
	c.StartDate = prs[0].ClosedAt.UTC().Format(time.DateOnly)
	c.EndDate = prs[len(prs)-1].ClosedAt.UTC().Format(time.DateOnly)
	return c
}

type weekBucket struct {
	start time.Time
	label string
	prs   []model.CompletedPR
}

// buildWeeklyRollups groups PRs by the ISO week of their closed date and
// computes one rollup per scope. Weeks are returned in chronological order.
func buildWeeklyRollups(prs []model.CompletedPR) []model.WeeklyRollupFile {
	buckets := make(map[string]*weekBucket)
	for _, pr := range prs {
		label := isoWeekLabel(pr.ClosedAt)
		b, ok := buckets[label]
		if !ok {
			b = &weekBucket{start: isoWeekStart(pr.ClosedAt), label: label}
			buckets[label] = b
		}
		b.prs = append(b.prs, pr)
	}

	ordered := make([]*weekBucket, 0, len(buckets))
	for _, b := range buckets {
		ordered = append(ordered, b)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].start.Before(ordered[j].start) })

	files := make([]model.WeeklyRollupFile, 0, len(ordered))
	for _, b := range ordered {
		file := model.WeeklyRollupFile{
			Week:      b.label,
			StartDate: b.start.Format(time.DateOnly),
			EndDate:   b.start.AddDate(0, 0, 6).Format(time.DateOnly),
			Rollups:   []model.WeeklyRollup{rollup(model.ScopeAll, b.prs)},
		}

		byRepo := make(map[string][]model.CompletedPR)
		for _, pr := range b.prs {
			byRepo[pr.RepositoryID] = append(byRepo[pr.RepositoryID], pr)
		}
		repos := make([]model.WeeklyRollup, 0, len(byRepo))
		for id, repoPRs := range byRepo {
			r := rollup(id, repoPRs)
			r.RepositoryName = repoPRs[0].RepositoryName
			repos = append(repos, r)
		}
		sort.Slice(repos, func(i, j int) bool {
			if repos[i].RepositoryName != repos[j].RepositoryName {
				return repos[i].RepositoryName < repos[j].RepositoryName
			}
			return repos[i].Scope < repos[j].Scope
		})
		file.Rollups = append(file.Rollups, repos...)

		files = append(files, file)
	}

	return files
}

func rollup(scope string, prs []model.CompletedPR) model.WeeklyRollup {
	authors := make(map[string]struct{})
	reviewers := make(map[string]struct{})
	var cycles []float64

	for _, pr := range prs {
		authors[pr.AuthorID] = struct{}{}
		for _, id := range pr.ReviewerIDs {
			reviewers[id] = struct{}{}
		}
		if pr.CycleTimeMinutes != nil {
			cycles = append(cycles, *pr.CycleTimeMinutes)
		}
	}

	r := model.WeeklyRollup{
		Scope:          scope,
		PRCount:        len(prs),
		AuthorsCount:   len(authors),
		ReviewersCount: len(reviewers),
	}
	if len(cycles) > 0 {
		p50 := round2(quantile(cycles, 0.5))
		p90 := round2(quantile(cycles, 0.9))
		r.CycleTimeP50 = &p50
		r.CycleTimeP90 = &p90
	}
	return r
}

// weeklyMetrics extracts the all-scope history used for forecasting.
func weeklyMetrics(files []model.WeeklyRollupFile) []model.WeeklyMetric {
	out := make([]model.WeeklyMetric, 0, len(files))
	for _, f := range files {
		start, err := time.Parse(time.DateOnly, f.StartDate)
		if err != nil {
			continue
		}
		all := f.Rollups[0]
		out = append(out, model.WeeklyMetric{
			WeekStart:    start,
			PRCount:      all.PRCount,
			CycleTimeP50: all.CycleTimeP50,
		})
	}
	return out
}

// buildDistributions groups PRs by calendar year of their closed date.
func buildDistributions(prs []model.CompletedPR) []model.Distribution {
	byYear := make(map[int]*model.Distribution)
	for _, pr := range prs {
		closed := pr.ClosedAt.UTC()
		year := closed.Year()
		d, ok := byYear[year]
		if !ok {
			d = &model.Distribution{
				Year:             fmt.Sprintf("%04d", year),
				StartDate:        fmt.Sprintf("%04d-01-01", year),
				EndDate:          fmt.Sprintf("%04d-12-31", year),
				CycleTimeBuckets: make(map[string]int, len(cycleBuckets)),
				PRsByMonth:       make(map[string]int),
			}
			for _, b := range cycleBuckets {
				d.CycleTimeBuckets[b.label] = 0
			}
			byYear[year] = d
		}

		d.TotalPRs++
		d.PRsByMonth[closed.Format("2006-01")]++
		if pr.CycleTimeMinutes != nil {
			d.CycleTimeBuckets[bucketFor(*pr.CycleTimeMinutes)]++
		}
	}

	years := make([]int, 0, len(byYear))
	for y := range byYear {
		years = append(years, y)
	}
	sort.Ints(years)

	out := make([]model.Distribution, 0, len(years))
	for _, y := range years {
		out = append(out, *byYear[y])
	}
	return out
}

func bucketFor(minutes float64) string {
	for _, b := range cycleBuckets {
		if b.upper == 0 || minutes < b.upper {
			return b.label
		}
	}
	return cycleBuckets[len(cycleBuckets)-1].label
}
