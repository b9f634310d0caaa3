package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ericfisherdev/prinsights/internal/adapter/driven/fsartifact"
	"github.com/ericfisherdev/prinsights/internal/adapter/driven/llm"
	sqliteadapter "github.com/ericfisherdev/prinsights/internal/adapter/driven/sqlite"
	"github.com/ericfisherdev/prinsights/internal/application"
	"github.com/ericfisherdev/prinsights/internal/config"
	"github.com/ericfisherdev/prinsights/internal/domain/model"
	"github.com/ericfisherdev/prinsights/internal/domain/port/driven"
)

type aggregateFlags struct {
	database          string
	output            string
	runID             string
	enablePredictions bool
	forecaster        string
	enableInsights    bool
	maxTokens         int
	cacheTTLHours     int
	dryRun            bool
	enableStubs       bool
	seedBase          string
}

func newAggregatesCmd(a *app) *cobra.Command {
	var f aggregateFlags

	cmd := &cobra.Command{
		Use:     "generate-aggregates",
		Aliases: []string{"build-aggregates"},
		Short:   "Build the dashboard dataset from the SQLite database",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f.apply(cmd, a.cfg)
			manifest, err := a.runAggregates(cmd.Context())
			a.printStatus(err, "generate-aggregates: %d weekly rollups, %d warnings",
				len(manifest.AggregateIndex.WeeklyRollups), len(manifest.Warnings))
			return err
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.database, "database", config.DefaultDatabase, "path to the SQLite database")
	fl.StringVar(&f.output, "output", config.DefaultOutputDir, "dataset output directory")
	fl.StringVar(&f.runID, "run-id", "", "run identifier recorded in the manifest (default: "+localRunID+")")
	fl.BoolVar(&f.enablePredictions, "enable-predictions", false, "write predictions/trends.json")
	fl.StringVar(&f.forecaster, "forecaster", config.DefaultForecaster, "forecaster: linear, weighted or auto")
	fl.BoolVar(&f.enableInsights, "enable-insights", false, "write insights/summary.json (requires OPENAI_API_KEY)")
	fl.IntVar(&f.maxTokens, "insights-max-tokens", config.DefaultMaxTokens, "maximum tokens for the insights response")
	fl.IntVar(&f.cacheTTLHours, "insights-cache-ttl-hours", config.DefaultCacheTTLHours, "insights cache lifetime in hours")
	fl.BoolVar(&f.dryRun, "insights-dry-run", false, "write the insights prompt without calling the model")
	fl.BoolVar(&f.enableStubs, "enable-ml-stubs", false, "fill missing ML artifacts with stub data (requires ALLOW_ML_STUBS=1)")
	fl.StringVar(&f.seedBase, "seed-base", "", "seed for stub data")

	return cmd
}

// apply overlays explicitly set flags onto cfg.
func (f *aggregateFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	changed := cmd.Flags().Changed

	if changed("database") {
		cfg.Database = f.database
	}
	if changed("output") {
		cfg.OutputDir = f.output
	}
	if changed("run-id") {
		cfg.RunID = f.runID
	}
	if changed("enable-predictions") {
		cfg.Predictions.Enabled = f.enablePredictions
	}
	if changed("forecaster") {
		cfg.Predictions.Forecaster = f.forecaster
	}
	if changed("enable-insights") {
		cfg.Insights.Enabled = f.enableInsights
	}
	if changed("insights-max-tokens") {
		cfg.Insights.MaxTokens = f.maxTokens
	}
	if changed("insights-cache-ttl-hours") {
		cfg.Insights.CacheTTLHours = f.cacheTTLHours
	}
	if changed("insights-dry-run") {
		cfg.Insights.DryRun = f.dryRun
	}
	if changed("enable-ml-stubs") {
		cfg.Stubs.Enabled = f.enableStubs
	}
	if changed("seed-base") {
		cfg.Stubs.SeedBase = f.seedBase
	}
}

// localRunID is the manifest run id when none is configured. It is fixed so
// that rebuilding an unchanged database reproduces the manifest byte for byte.
const localRunID = "local"

func (a *app) runAggregates(ctx context.Context) (model.Manifest, error) {
	cfg := a.cfg
	started := time.Now()

	if err := cfg.ValidateAggregates(); err != nil {
		return model.Manifest{}, err
	}
	if _, err := os.Stat(cfg.Database); errors.Is(err, fs.ErrNotExist) {
		return model.Manifest{}, fmt.Errorf("%w: database not found: %s", driven.ErrConfiguration, cfg.Database)
	}

	runID := cfg.RunID
	if runID == "" {
		runID = localRunID
	}

	db, err := sqliteadapter.Open(cfg.Database)
	if err != nil {
		return model.Manifest{}, err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	store := sqliteadapter.NewStore(db)
	artifacts := fsartifact.New(cfg.OutputDir)

	var engine *application.ForecastEngine
	if cfg.Predictions.Enabled {
		forecaster, err := application.NewForecaster(cfg.Predictions.Forecaster)
		if err != nil {
			return model.Manifest{}, fmt.Errorf("%w: %w", driven.ErrConfiguration, err)
		}
		engine = application.NewForecastEngine(forecaster, time.Now)
		slog.Info("predictions enabled", "forecaster", forecaster.Name())
	}

	var insights application.InsightRunner
	if cfg.Insights.Enabled {
		svc, err := newInsightService(cfg, store, artifacts)
		if err != nil {
			return model.Manifest{}, err
		}
		insights = svc
	}

	svc := application.NewAggregateService(store, artifacts, engine, insights, application.AggregateSettings{
		RunID:       runID,
		Predictions: cfg.Predictions.Enabled,
		Insights:    cfg.Insights.Enabled,
		Stubs: application.StubSettings{
			Enabled:  cfg.Stubs.Enabled,
			Allowed:  cfg.Stubs.Allowed,
			SeedBase: cfg.Stubs.SeedBase,
		},
	})

	manifest, err := svc.Generate(ctx)
	if err != nil {
		return manifest, err
	}

	slog.Info("dataset written",
		"run_id", runID,
		"output", artifacts.Root(),
		"duration", time.Since(started).Round(time.Millisecond),
	)
	return manifest, nil
}

// newInsightService wires the model client unless the run is a dry run.
func newInsightService(cfg *config.Config, reader driven.AnalyticsReader, artifacts driven.ArtifactStore) (*application.InsightService, error) {
	var generator driven.InsightGenerator
	if !cfg.Insights.DryRun {
		client, err := llm.NewOpenAI(llm.Config{
			BaseURL:    cfg.Insights.BaseURL,
			APIKey:     cfg.Insights.APIKey,
			Model:      cfg.Insights.Model,
			MaxRetries: cfg.API.MaxRetries,
		})
		if err != nil {
			return nil, err
		}
		generator = client
	}

	return application.NewInsightService(reader, generator, artifacts, application.InsightSettings{
		PromptVersion: cfg.Insights.PromptVersion,
		Model:         cfg.Insights.Model,
		MaxTokens:     cfg.Insights.MaxTokens,
		CacheTTL:      cfg.Insights.CacheTTL(),
		DryRun:        cfg.Insights.DryRun,
	}), nil
}
