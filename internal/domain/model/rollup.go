package model

import "time"

// ScopeAll is the rollup scope covering every repository.
const ScopeAll = "all"

// WeeklyRollup summarises completed pull requests for one scope and ISO week.
// Repository scopes are keyed by repository id; RepositoryName is for display.
type WeeklyRollup struct {
	Scope          string   `json:"scope"`
	RepositoryName string   `json:"repository_name,omitempty"`
	PRCount        int      `json:"pr_count"`
	CycleTimeP50   *float64 `json:"cycle_time_p50"`
	CycleTimeP90   *float64 `json:"cycle_time_p90"`
	AuthorsCount   int      `json:"authors_count"`
	ReviewersCount int      `json:"reviewers_count"`
}

// WeeklyRollupFile is the document written for one ISO week. The first rollup
// always has scope ScopeAll; repository scopes follow ordered by name, then id.
type WeeklyRollupFile struct {
	Week      string         `json:"week"`
	StartDate string         `json:"start_date"`
	EndDate   string         `json:"end_date"`
	Rollups   []WeeklyRollup `json:"rollups"`
}

// Distribution summarises one calendar year of completed pull requests.
type Distribution struct {
	Year             string         `json:"year"`
	StartDate        string         `json:"start_date"`
	EndDate          string         `json:"end_date"`
	TotalPRs         int            `json:"total_prs"`
	CycleTimeBuckets map[string]int `json:"cycle_time_buckets"`
	PRsByMonth       map[string]int `json:"prs_by_month"`
}

// CompletedPR is the read model the aggregate engine consumes.
type CompletedPR struct {
	UID              string
	RepositoryID     string
	RepositoryName   string
	AuthorID         string
	ReviewerIDs      []string
	ClosedAt         time.Time
	CycleTimeMinutes *float64
}
