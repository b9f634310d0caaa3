package application

import (
	"fmt"
	"time"

	"github.com/ericfisherdev/prinsights/internal/domain/model"
)

// RunSummaryFile is the run summary's name inside the artifacts directory.
const RunSummaryFile = "run_summary.json"

// RunInfo identifies an extraction run in its summary. A nil configured date
// is reported as Today.
type RunInfo struct {
	ToolVersion  string
	RunID        string
	Organization string
	Projects     []string
	StartDate    *time.Time
	EndDate      *time.Time
	Today        time.Time
}

func (i RunInfo) base(timings model.RunTimings) model.RunSummary {
	projects := i.Projects
	if projects == nil {
		projects = []string{}
	}
	return model.RunSummary{
		ToolVersion:      i.ToolVersion,
		RunID:            i.RunID,
		Organization:     i.Organization,
		Projects:         projects,
		DateRangeStart:   dayOrToday(i.StartDate, i.Today),
		DateRangeEnd:     dayOrToday(i.EndDate, i.Today),
		Timings:          timings,
		Warnings:         []string{},
		PerProjectStatus: map[string]model.ProjectStatus{},
	}
}

// BuildRunSummary reports the outcome of a completed extraction run.
func BuildRunSummary(info RunInfo, sum model.ExtractionSummary, timings model.RunTimings) model.RunSummary {
	out := info.base(timings)
	out.Counts = model.RunCounts{
		PRsFetched:      sum.TotalPRs,
		ThreadsFetched:  sum.Comments.Threads,
		CommentsFetched: sum.Comments.Comments,
		PRsWithComments: sum.Comments.PRsProcessed,
	}
	out.Warnings = append(out.Warnings, sum.Warnings...)

	for _, p := range sum.Projects {
		out.PerProjectStatus[p.Project] = p.Status
		if p.Status == model.ProjectStatusSuccess || out.FirstFatalError != nil {
			continue
		}
		msg := fmt.Sprintf("Extraction failed for project: %s", p.Project)
		if p.Err != nil {
			msg = p.Err.Error()
		}
		out.FirstFatalError = &msg
	}

	out.FinalStatus = model.RunStatusSuccess
	if !sum.Success() {
		out.FinalStatus = model.RunStatusFailed
	}
	return out
}

// MinimalRunSummary reports a run that ended before extraction produced a
// result, such as a configuration error or a cancellation.
func MinimalRunSummary(info RunInfo, status model.RunStatus, cause string, timings model.RunTimings) model.RunSummary {
	out := info.base(timings)
	out.FinalStatus = status
	out.FirstFatalError = &cause
	return out
}

func dayOrToday(t *time.Time, today time.Time) string {
	if t != nil {
		return t.Format(time.DateOnly)
	}
	return today.Format(time.DateOnly)
}
