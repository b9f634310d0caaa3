package driven

import "time"

// RunMetrics records batch-run measurements for export.
type RunMetrics interface {
	ObserveProject(project string, status string, prs int, duration time.Duration)
	ObserveComments(threads, comments int, capped bool)
	SetRunStatus(status string)
	// Flush writes the collected metrics to their destination.
	Flush() error
}
