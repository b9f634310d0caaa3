package model

// ManifestSchemaVersion is the schema version of dataset-manifest.json.
const ManifestSchemaVersion = 1

// ManifestFileName is the manifest's name inside a dataset root.
const ManifestFileName = "dataset-manifest.json"

// Manifest indexes the artifacts of one aggregate run. It carries no
// timestamps so identical inputs produce identical bytes.
type Manifest struct {
	SchemaVersion  int            `json:"schema_version"`
	RunID          string         `json:"run_id"`
	Coverage       Coverage       `json:"coverage"`
	AggregateIndex AggregateIndex `json:"aggregate_index"`
	Features       Features       `json:"features"`
	Warnings       []string       `json:"warnings"`
}

// Coverage describes the span of completed pull requests in the dataset.
type Coverage struct {
	TotalPRs  int    `json:"total_prs"`
	StartDate string `json:"start_date,omitempty"`
	EndDate   string `json:"end_date,omitempty"`
}

// AggregateIndex lists the generated aggregate files.
type AggregateIndex struct {
	WeeklyRollups []RollupIndexEntry       `json:"weekly_rollups"`
	Distributions []DistributionIndexEntry `json:"distributions"`
}

// RollupIndexEntry points at one weekly rollup file.
type RollupIndexEntry struct {
	Week      string `json:"week"`
	Path      string `json:"path"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// DistributionIndexEntry points at one yearly distribution file.
type DistributionIndexEntry struct {
	Year      string `json:"year"`
	Path      string `json:"path"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// Features advertises optional artifacts that were actually written.
type Features struct {
	Predictions bool `json:"predictions"`
	AIInsights  bool `json:"ai_insights"`
}
