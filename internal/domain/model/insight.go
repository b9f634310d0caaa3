package model

// InsightsSchemaVersion is the schema version of insights/summary.json.
const InsightsSchemaVersion = 1

// Insight is one narrative finding. ID is derived locally and never taken
// from the generator.
type Insight struct {
	ID               string          `json:"id"`
	Category         InsightCategory `json:"category"`
	Severity         InsightSeverity `json:"severity"`
	Title            string          `json:"title"`
	Description      string          `json:"description"`
	AffectedEntities []string        `json:"affected_entities"`
}

// InsightsSummary is the document written to insights/summary.json.
type InsightsSummary struct {
	SchemaVersion int       `json:"schema_version"`
	GeneratedAt   string    `json:"generated_at"`
	IsStub        bool      `json:"is_stub"`
	GeneratedBy   string    `json:"generated_by"`
	Insights      []Insight `json:"insights"`
}

// InsightCacheEntry is the document stored in insights/cache.json.
type InsightCacheEntry struct {
	CacheKey     string           `json:"cache_key"`
	CachedAt     string           `json:"cached_at"`
	InsightsData *InsightsSummary `json:"insights_data"`
}

// PromptArtifact is written instead of calling the generator during a dry run.
type PromptArtifact struct {
	Model       string `json:"model"`
	MaxTokens   int    `json:"max_tokens"`
	Prompt      string `json:"prompt"`
	GeneratedAt string `json:"generated_at"`
}

// PRStats are the aggregate figures embedded in the insight prompt. Field
// order is irrelevant to hashing; canonical encoding sorts keys.
type PRStats struct {
	TotalPRs            int     `json:"total_prs"`
	DateRangeStart      string  `json:"date_range_start"`
	DateRangeEnd        string  `json:"date_range_end"`
	AvgCycleTimeMinutes float64 `json:"avg_cycle_time_minutes"`
	P90CycleTimeMinutes float64 `json:"p90_cycle_time_minutes"`
	AuthorsCount        int     `json:"authors_count"`
	RepositoriesCount   int     `json:"repositories_count"`
}

// FreshnessMarkers identify the state of the pull request table. Empty
// datasets use EmptyDatasetMarker for both fields.
type FreshnessMarkers struct {
	MaxClosed  string
	MaxUpdated string
}

// EmptyDatasetMarker stands in for missing freshness markers.
const EmptyDatasetMarker = "empty-dataset"
