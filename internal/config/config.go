// Package config loads prinsights configuration from a YAML file overlaid by
// environment variables. Command-line flags are applied on top by the caller.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ericfisherdev/prinsights/internal/domain/port/driven"
)

// Provider identifiers.
const (
	ProviderADO    = "ado"
	ProviderGitHub = "github"
)

// Default configuration values.
const (
	DefaultProvider        = ProviderADO
	DefaultDatabase        = "prinsights.sqlite"
	DefaultPageSize        = 100
	DefaultMaxRetries      = 3
	DefaultRetryDelay      = 5 * time.Second
	DefaultMaxPRsPerRun    = 100
	DefaultMaxThreadsPerPR = 50
	DefaultArtifactsDir    = "run_artifacts"
	DefaultOutputDir       = "dataset"
	DefaultForecaster      = "linear"
	DefaultInsightsModel   = "gpt-5-nano"
	DefaultMaxTokens       = 1000
	DefaultCacheTTLHours   = 24
	DefaultPromptVersion   = "phase5-v2"
)

const dateLayout = "2006-01-02"

// APIConfig tunes the remote PR source client.
type APIConfig struct {
	BaseURL    string        `yaml:"base_url"`
	PageSize   int           `yaml:"page_size"`
	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

// DateRange is an optional explicit extraction window, as YYYY-MM-DD strings.
type DateRange struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

// CommentsConfig controls thread and comment extraction.
type CommentsConfig struct {
	Enabled         bool `yaml:"enabled"`
	MaxPRsPerRun    int  `yaml:"max_prs_per_run"`
	MaxThreadsPerPR int  `yaml:"max_threads_per_pr"`
}

// PredictionsConfig controls trend forecasts.
type PredictionsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Forecaster string `yaml:"forecaster"`
}

// InsightsConfig controls narrative insights. APIKey is only read from
// OPENAI_API_KEY.
type InsightsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Model         string `yaml:"model"`
	BaseURL       string `yaml:"base_url"`
	MaxTokens     int    `yaml:"max_tokens"`
	CacheTTLHours int    `yaml:"cache_ttl_hours"`
	DryRun        bool   `yaml:"dry_run"`
	PromptVersion string `yaml:"prompt_version"`
	APIKey        string `yaml:"-"`
}

// CacheTTL returns the cache lifetime as a duration.
func (c InsightsConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLHours) * time.Hour
}

// StubsConfig controls synthetic ML artifacts. Allowed is only set by the
// ALLOW_ML_STUBS=1 environment guard.
type StubsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	SeedBase string `yaml:"seed_base"`
	Allowed  bool   `yaml:"-"`
}

// Config holds the application configuration.
type Config struct {
	Organization    string            `yaml:"organization"`
	Projects        []string          `yaml:"projects"`
	Provider        string            `yaml:"provider"`
	PAT             string            `yaml:"pat"`
	Database        string            `yaml:"database"`
	API             APIConfig         `yaml:"api"`
	DateRange       DateRange         `yaml:"date_range"`
	BackfillDays    *int              `yaml:"backfill_days"`
	Comments        CommentsConfig    `yaml:"comments"`
	ArtifactsDir    string            `yaml:"artifacts_dir"`
	MetricsTextfile string            `yaml:"metrics_textfile"`
	OutputDir       string            `yaml:"output_dir"`
	RunID           string            `yaml:"run_id"`
	Predictions     PredictionsConfig `yaml:"predictions"`
	Insights        InsightsConfig    `yaml:"insights"`
	Stubs           StubsConfig       `yaml:"stubs"`
}

// Default returns a Config populated with default values.
func Default() *Config {
	return &Config{
		Provider: DefaultProvider,
		Database: DefaultDatabase,
		API: APIConfig{
			PageSize:   DefaultPageSize,
			MaxRetries: DefaultMaxRetries,
			RetryDelay: DefaultRetryDelay,
		},
		Comments: CommentsConfig{
			MaxPRsPerRun:    DefaultMaxPRsPerRun,
			MaxThreadsPerPR: DefaultMaxThreadsPerPR,
		},
		ArtifactsDir: DefaultArtifactsDir,
		OutputDir:    DefaultOutputDir,
		Predictions:  PredictionsConfig{Forecaster: DefaultForecaster},
		Insights: InsightsConfig{
			Model:         DefaultInsightsModel,
			MaxTokens:     DefaultMaxTokens,
			CacheTTLHours: DefaultCacheTTLHours,
			PromptVersion: DefaultPromptVersion,
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty) and PRINSIGHTS_* environment variables, in that order.
// It does not validate; callers validate once flags are applied.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("%w: %w", driven.ErrConfiguration, err)
		}
	}

	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", driven.ErrConfiguration, err)
	}

	return cfg, nil
}

// loadFromFile unmarshals the file over cfg. Keys absent from the file keep
// their current values.
func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// loadFromEnv overlays environment variables onto cfg. Malformed numeric,
// boolean and duration values are errors.
func loadFromEnv(cfg *Config) error {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}

	setString("PRINSIGHTS_ORGANIZATION", &cfg.Organization)
	setString("PRINSIGHTS_PROVIDER", &cfg.Provider)
	setString("PRINSIGHTS_PAT", &cfg.PAT)
	setString("PRINSIGHTS_DATABASE", &cfg.Database)
	setString("PRINSIGHTS_API_BASE_URL", &cfg.API.BaseURL)
	setString("PRINSIGHTS_START_DATE", &cfg.DateRange.Start)
	setString("PRINSIGHTS_END_DATE", &cfg.DateRange.End)
	setString("PRINSIGHTS_ARTIFACTS_DIR", &cfg.ArtifactsDir)
	setString("PRINSIGHTS_METRICS_TEXTFILE", &cfg.MetricsTextfile)
	setString("PRINSIGHTS_OUTPUT_DIR", &cfg.OutputDir)
	setString("PRINSIGHTS_RUN_ID", &cfg.RunID)
	setString("PRINSIGHTS_FORECASTER", &cfg.Predictions.Forecaster)
	setString("PRINSIGHTS_INSIGHTS_MODEL", &cfg.Insights.Model)
	setString("PRINSIGHTS_INSIGHTS_BASE_URL", &cfg.Insights.BaseURL)
	setString("PRINSIGHTS_SEED_BASE", &cfg.Stubs.SeedBase)
	setString("OPENAI_API_KEY", &cfg.Insights.APIKey)

	if v, ok := os.LookupEnv("PRINSIGHTS_PROJECTS"); ok && v != "" {
		cfg.Projects = SplitList(v)
	}

	var errs []error
	for key, dst := range map[string]*int{
		"PRINSIGHTS_API_PAGE_SIZE":            &cfg.API.PageSize,
		"PRINSIGHTS_API_MAX_RETRIES":          &cfg.API.MaxRetries,
		"PRINSIGHTS_COMMENTS_MAX_PRS":         &cfg.Comments.MaxPRsPerRun,
		"PRINSIGHTS_COMMENTS_MAX_THREADS":     &cfg.Comments.MaxThreadsPerPR,
		"PRINSIGHTS_INSIGHTS_MAX_TOKENS":      &cfg.Insights.MaxTokens,
		"PRINSIGHTS_INSIGHTS_CACHE_TTL_HOURS": &cfg.Insights.CacheTTLHours,
	} {
		if v, ok := os.LookupEnv(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s has invalid integer %q", key, v))
				continue
			}
			*dst = n
		}
	}

	for key, dst := range map[string]*bool{
		"PRINSIGHTS_COMMENTS_ENABLED":    &cfg.Comments.Enabled,
		"PRINSIGHTS_PREDICTIONS_ENABLED": &cfg.Predictions.Enabled,
		"PRINSIGHTS_INSIGHTS_ENABLED":    &cfg.Insights.Enabled,
		"PRINSIGHTS_INSIGHTS_DRY_RUN":    &cfg.Insights.DryRun,
		"PRINSIGHTS_STUBS_ENABLED":       &cfg.Stubs.Enabled,
	} {
		if v, ok := os.LookupEnv(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s has invalid boolean %q", key, v))
				continue
			}
			*dst = b
		}
	}

	if v, ok := os.LookupEnv("PRINSIGHTS_API_RETRY_DELAY"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("PRINSIGHTS_API_RETRY_DELAY has invalid duration %q: %w", v, err))
		} else {
			cfg.API.RetryDelay = d
		}
	}

	if v, ok := os.LookupEnv("PRINSIGHTS_BACKFILL_DAYS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("PRINSIGHTS_BACKFILL_DAYS has invalid integer %q", v))
		} else {
			cfg.BackfillDays = &n
		}
	}

	cfg.Stubs.Allowed = os.Getenv("ALLOW_ML_STUBS") == "1"

	return errors.Join(errs...)
}

// SplitList splits a comma-separated value, dropping blanks.
func SplitList(v string) []string {
	out := []string{}
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// StartDate parses the configured start date, returning nil when unset.
func (c *Config) StartDate() (*time.Time, error) {
	return parseDate("date_range.start", c.DateRange.Start)
}

// EndDate parses the configured end date, returning nil when unset.
func (c *Config) EndDate() (*time.Time, error) {
	return parseDate("date_range.end", c.DateRange.End)
}

func parseDate(field, v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, v)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be YYYY-MM-DD, got %q", driven.ErrConfiguration, field, v)
	}
	return &t, nil
}

// ValidateExtract checks the settings the extract command needs.
func (c *Config) ValidateExtract() error {
	var errs []error

	if c.Organization == "" {
		errs = append(errs, errors.New("organization is required"))
	}
	if len(c.Projects) == 0 {
		errs = append(errs, errors.New("at least one project is required"))
	}
	if c.PAT == "" {
		errs = append(errs, errors.New("pat is required"))
	}
	if c.Provider != ProviderADO && c.Provider != ProviderGitHub {
		errs = append(errs, fmt.Errorf("provider must be %q or %q, got %q", ProviderADO, ProviderGitHub, c.Provider))
	}
	if c.Database == "" {
		errs = append(errs, errors.New("database is required"))
	}
	if c.API.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("api.page_size must be positive, got %d", c.API.PageSize))
	}
	if c.API.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("api.max_retries must not be negative, got %d", c.API.MaxRetries))
	}
	if c.BackfillDays != nil && *c.BackfillDays < 0 {
		errs = append(errs, fmt.Errorf("backfill_days must not be negative, got %d", *c.BackfillDays))
	}
	if c.Comments.MaxPRsPerRun < 0 || c.Comments.MaxThreadsPerPR < 0 {
		errs = append(errs, errors.New("comment limits must not be negative"))
	}

	start, err := c.StartDate()
	if err != nil {
		errs = append(errs, err)
	}
	end, err := c.EndDate()
	if err != nil {
		errs = append(errs, err)
	}
	if start != nil && end != nil && start.After(*end) {
		errs = append(errs, fmt.Errorf("start date %s is after end date %s", c.DateRange.Start, c.DateRange.End))
	}

	return wrapConfig(errs)
}

// ValidateAggregates checks the settings the generate-aggregates command needs.
func (c *Config) ValidateAggregates() error {
	var errs []error

	if c.Database == "" {
		errs = append(errs, errors.New("database is required"))
	}
	if c.OutputDir == "" {
		errs = append(errs, errors.New("output_dir is required"))
	}
	switch c.Predictions.Forecaster {
	case "linear", "weighted", "auto":
	default:
		errs = append(errs, fmt.Errorf("predictions.forecaster must be linear, weighted or auto, got %q", c.Predictions.Forecaster))
	}
	if c.Insights.Enabled {
		if !c.Insights.DryRun && c.Insights.APIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY is required for insights; set it or enable insights.dry_run"))
		}
		if c.Insights.MaxTokens <= 0 {
			errs = append(errs, fmt.Errorf("insights.max_tokens must be positive, got %d", c.Insights.MaxTokens))
		}
		if c.Insights.CacheTTLHours < 0 {
			errs = append(errs, fmt.Errorf("insights.cache_ttl_hours must not be negative, got %d", c.Insights.CacheTTLHours))
		}
	}

	return wrapConfig(errs)
}

func wrapConfig(errs []error) error {
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", driven.ErrConfiguration, err)
	}
	return nil
}

// LogValue implements slog.LogValuer. Secrets are redacted.
func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("provider", c.Provider),
		slog.String("organization", c.Organization),
		slog.Any("projects", c.Projects),
		slog.String("pat", redact(c.PAT)),
		slog.String("database", c.Database),
		slog.String("artifacts_dir", c.ArtifactsDir),
		slog.String("output_dir", c.OutputDir),
		slog.Bool("comments", c.Comments.Enabled),
		slog.Bool("predictions", c.Predictions.Enabled),
		slog.Bool("insights", c.Insights.Enabled),
		slog.String("openai_api_key", redact(c.Insights.APIKey)),
		slog.Bool("stubs", c.Stubs.Enabled),
	)
}

func redact(secret string) string {
	if secret == "" {
		return ""
	}
	return "[REDACTED]"
}
