package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gregjones/httpcache"
	"github.com/spf13/cobra"

	adoadapter "github.com/ericfisherdev/prinsights/internal/adapter/driven/ado"
	"github.com/ericfisherdev/prinsights/internal/adapter/driven/fsartifact"
	githubadapter "github.com/ericfisherdev/prinsights/internal/adapter/driven/github"
	"github.com/ericfisherdev/prinsights/internal/adapter/driven/metrics"
	sqliteadapter "github.com/ericfisherdev/prinsights/internal/adapter/driven/sqlite"
	"github.com/ericfisherdev/prinsights/internal/application"
	"github.com/ericfisherdev/prinsights/internal/config"
	"github.com/ericfisherdev/prinsights/internal/domain/model"
	"github.com/ericfisherdev/prinsights/internal/domain/port/driven"
)

type extractFlags struct {
	organization    string
	projects        string
	pat             string
	provider        string
	database        string
	startDate       string
	endDate         string
	backfillDays    int
	includeComments bool
	maxPRsPerRun    int
	maxThreadsPerPR int
	metricsTextfile string
	runID           string
}

func newExtractCmd(a *app) *cobra.Command {
	var f extractFlags

	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Extract closed pull requests into the SQLite database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f.apply(cmd, a.cfg)
			err := a.runExtract(cmd.Context())
			a.printStatus(err, "extract")
			return err
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.organization, "organization", "", "organization (Azure DevOps) or label (GitHub)")
	fl.StringVar(&f.projects, "projects", "", "comma-separated projects (Azure DevOps) or owners (GitHub)")
	fl.StringVar(&f.pat, "pat", "", "personal access token")
	fl.StringVar(&f.provider, "provider", config.DefaultProvider, "pull request source: ado or github")
	fl.StringVar(&f.database, "database", config.DefaultDatabase, "path to the SQLite database")
	fl.StringVar(&f.startDate, "start-date", "", "override start date (YYYY-MM-DD)")
	fl.StringVar(&f.endDate, "end-date", "", "override end date (YYYY-MM-DD)")
	fl.IntVar(&f.backfillDays, "backfill-days", 0, "re-extract the last N days, ignoring the watermark")
	fl.BoolVar(&f.includeComments, "include-comments", false, "extract review threads and comments")
	fl.IntVar(&f.maxPRsPerRun, "comments-max-prs-per-run", config.DefaultMaxPRsPerRun, "max PRs to fetch comments for per run")
	fl.IntVar(&f.maxThreadsPerPR, "comments-max-threads-per-pr", config.DefaultMaxThreadsPerPR, "max threads to keep per PR (0 = unlimited)")
	fl.StringVar(&f.metricsTextfile, "metrics-textfile", "", "write run metrics to this .prom file")
	fl.StringVar(&f.runID, "run-id", "", "run identifier (default: generated)")

	return cmd
}

// apply overlays explicitly set flags onto cfg.
func (f *extractFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	changed := cmd.Flags().Changed

	if changed("organization") {
		cfg.Organization = f.organization
	}
	if changed("projects") {
		cfg.Projects = config.SplitList(f.projects)
	}
	if changed("pat") {
		cfg.PAT = f.pat
	}
	if changed("provider") {
		cfg.Provider = f.provider
	}
	if changed("database") {
		cfg.Database = f.database
	}
	if changed("start-date") {
		cfg.DateRange.Start = f.startDate
	}
	if changed("end-date") {
		cfg.DateRange.End = f.endDate
	}
	if changed("backfill-days") {
		days := f.backfillDays
		cfg.BackfillDays = &days
	}
	if changed("include-comments") {
		cfg.Comments.Enabled = f.includeComments
	}
	if changed("comments-max-prs-per-run") {
		cfg.Comments.MaxPRsPerRun = f.maxPRsPerRun
	}
	if changed("comments-max-threads-per-pr") {
		cfg.Comments.MaxThreadsPerPR = f.maxThreadsPerPR
	}
	if changed("metrics-textfile") {
		cfg.MetricsTextfile = f.metricsTextfile
	}
	if changed("run-id") {
		cfg.RunID = f.runID
	}
}

// runExtract runs one extraction and always leaves run_summary.json in the
// artifacts directory, whatever the outcome.
func (a *app) runExtract(ctx context.Context) error {
	cfg := a.cfg
	started := time.Now()

	runID, err := resolveRunID(cfg.RunID)
	if err != nil {
		return err
	}

	artifacts := fsartifact.New(cfg.ArtifactsDir)
	runMetrics := metrics.NewTextfile(cfg.MetricsTextfile)
	info := application.RunInfo{
		ToolVersion:  version,
		RunID:        runID,
		Organization: cfg.Organization,
		Projects:     cfg.Projects,
		Today:        started.UTC(),
	}

	finish := func(summary model.RunSummary) {
		if err := artifacts.WriteJSON(application.RunSummaryFile, summary); err != nil {
			slog.Error("failed to write run summary", "error", err)
		}
		runMetrics.SetRunStatus(string(summary.FinalStatus))
		if err := runMetrics.Flush(); err != nil {
			slog.Error("failed to write metrics textfile", "path", cfg.MetricsTextfile, "error", err)
		}
	}
	timings := func(extract time.Duration) model.RunTimings {
		return model.RunTimings{
			TotalSeconds:   time.Since(started).Seconds(),
			ExtractSeconds: extract.Seconds(),
		}
	}

	if err := cfg.ValidateExtract(); err != nil {
		finish(application.MinimalRunSummary(info, model.RunStatusFailed, err.Error(), timings(0)))
		return err
	}
	info.StartDate, _ = cfg.StartDate()
	info.EndDate, _ = cfg.EndDate()

	slog.Info("extraction starting", "run_id", runID, "config", cfg)

	db, err := sqliteadapter.Open(cfg.Database)
	if err != nil {
		finish(application.MinimalRunSummary(info, model.RunStatusFailed, err.Error(), timings(0)))
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	source, err := newPRSource(cfg)
	if err != nil {
		finish(application.MinimalRunSummary(info, model.RunStatusFailed, err.Error(), timings(0)))
		return err
	}

	svc := application.NewExtractService(source, sqliteadapter.NewStore(db), application.ExtractSettings{
		Organization: cfg.Organization,
		Projects:     cfg.Projects,
		StartDate:    info.StartDate,
		EndDate:      info.EndDate,
		BackfillDays: cfg.BackfillDays,
		Comments: application.CommentSettings{
			Enabled:         cfg.Comments.Enabled,
			MaxPRsPerRun:    cfg.Comments.MaxPRsPerRun,
			MaxThreadsPerPR: cfg.Comments.MaxThreadsPerPR,
		},
	}, application.WithRunMetrics(runMetrics))

	extractStarted := time.Now()
	sum, runErr := svc.Run(ctx)
	elapsed := time.Since(extractStarted)

	var summary model.RunSummary
	switch {
	case errors.Is(runErr, context.Canceled) || ctx.Err() != nil:
		summary = application.MinimalRunSummary(info, model.RunStatusCancelled, "run interrupted", timings(elapsed))
	case runErr != nil && len(sum.Projects) == 0:
		summary = application.MinimalRunSummary(info, model.RunStatusFailed, runErr.Error(), timings(elapsed))
	default:
		summary = application.BuildRunSummary(info, sum, timings(elapsed))
		if runErr != nil {
			summary.FinalStatus = model.RunStatusFailed
		}
	}
	finish(summary)

	slog.Info("extraction finished",
		"run_id", runID,
		"status", summary.FinalStatus,
		"prs", summary.Counts.PRsFetched,
		"threads", summary.Counts.ThreadsFetched,
		"comments", summary.Counts.CommentsFetched,
		"duration", time.Since(started).Round(time.Millisecond),
	)

	if runErr != nil {
		return runErr
	}
	if summary.FinalStatus != model.RunStatusSuccess {
		return fmt.Errorf("%w: %s", driven.ErrExtraction, *summary.FirstFatalError)
	}
	return nil
}

// writeEarlySummary records a run that failed before its configuration
// could be loaded.
func (a *app) writeEarlySummary(cause error) {
	runID, err := resolveRunID("")
	if err != nil {
		runID = "unknown"
	}
	info := application.RunInfo{ToolVersion: version, RunID: runID, Today: time.Now().UTC()}
	summary := application.MinimalRunSummary(info, model.RunStatusFailed, cause.Error(), model.RunTimings{})
	if err := fsartifact.New(a.artifactsDir).WriteJSON(application.RunSummaryFile, summary); err != nil {
		slog.Error("failed to write run summary", "error", err)
	}
}

// newPRSource builds the configured remote pull request source.
func newPRSource(cfg *config.Config) (driven.PRSource, error) {
	switch cfg.Provider {
	case config.ProviderADO:
		return adoadapter.NewClient(adoadapter.Config{
			Organization: cfg.Organization,
			PAT:          cfg.PAT,
			BaseURL:      cfg.API.BaseURL,
			PageSize:     cfg.API.PageSize,
			MaxRetries:   cfg.API.MaxRetries,
			RetryDelay:   cfg.API.RetryDelay,
		}), nil
	case config.ProviderGitHub:
		if cfg.API.BaseURL == "" {
			return githubadapter.NewClient(cfg.PAT, cfg.Organization), nil
		}
		httpClient := &http.Client{Transport: httpcache.NewMemoryCacheTransport()}
		return githubadapter.NewClientWithHTTPClient(httpClient, cfg.API.BaseURL, cfg.Organization, cfg.PAT)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", driven.ErrConfiguration, cfg.Provider)
	}
}

// resolveRunID returns the configured run id or a new time-ordered UUID.
func resolveRunID(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	return id.String(), nil
}
