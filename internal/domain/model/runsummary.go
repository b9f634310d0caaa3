package model

// RunSummary is written to run_summary.json at the end of every extraction,
// whether it succeeded or not.
type RunSummary struct {
	ToolVersion      string                   `json:"tool_version"`
	RunID            string                   `json:"run_id"`
	Organization     string                   `json:"organization"`
	Projects         []string                 `json:"projects"`
	DateRangeStart   string                   `json:"date_range_start"`
	DateRangeEnd     string                   `json:"date_range_end"`
	Counts           RunCounts                `json:"counts"`
	Timings          RunTimings               `json:"timings"`
	Warnings         []string                 `json:"warnings"`
	FinalStatus      RunStatus                `json:"final_status"`
	PerProjectStatus map[string]ProjectStatus `json:"per_project_status"`
	FirstFatalError  *string                  `json:"first_fatal_error"`
}

// RunCounts are the entity counts of one run.
type RunCounts struct {
	PRsFetched      int `json:"prs_fetched"`
	ThreadsFetched  int `json:"threads_fetched"`
	CommentsFetched int `json:"comments_fetched"`
	PRsWithComments int `json:"prs_with_comments"`
}

// RunTimings are wall-clock durations in seconds.
type RunTimings struct {
	TotalSeconds   float64 `json:"total_seconds"`
	ExtractSeconds float64 `json:"extract_seconds"`
}

// ProjectResult is the outcome of extracting one project.
type ProjectResult struct {
	Project   string
	Status    ProjectStatus
	PRCount   int
	Skipped   bool // Window was empty; no API calls made.
	Start     string
	End       string
	Err       error
	DurationS float64
}

// CommentStats are the results of the comment extraction phase.
type CommentStats struct {
	Threads      int
	Comments     int
	PRsProcessed int
	Capped       bool
}

// ExtractionSummary is returned by the extraction orchestrator.
type ExtractionSummary struct {
	Projects        []ProjectResult
	TotalPRs        int
	Comments        CommentStats
	Warnings        []string
	FirstFatalError error
}

// Success reports whether every project succeeded.
func (s ExtractionSummary) Success() bool {
	for _, p := range s.Projects {
		if p.Status != ProjectStatusSuccess {
			return false
		}
	}
	return true
}
