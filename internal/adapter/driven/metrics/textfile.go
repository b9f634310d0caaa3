// Package metrics exports extraction run metrics in the Prometheus text
// format for the node_exporter textfile collector.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ericfisherdev/prinsights/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.RunMetrics = (*Textfile)(nil)

var runStatuses = []string{"success", "failed", "cancelled"}

// Textfile collects the metrics of one run in a private registry and writes
// them to a .prom file on Flush. An empty path disables the file.
type Textfile struct {
	reg  *prometheus.Registry
	path string
	now  func() time.Time

	projectDuration *prometheus.GaugeVec
	projectPRs      *prometheus.GaugeVec
	commentThreads  prometheus.Gauge
	commentComments prometheus.Gauge
	commentsCapped  prometheus.Gauge
	runStatus       *prometheus.GaugeVec
	lastRun         prometheus.Gauge
}

// NewTextfile creates a Textfile that writes to path.
func NewTextfile(path string) *Textfile {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Textfile{
		reg:  reg,
		path: path,
		now:  time.Now,
		projectDuration: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "prinsights_project_extraction_duration_seconds",
				Help: "Wall-clock time spent extracting one project",
			},
			[]string{"project", "status"},
		),
		projectPRs: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "prinsights_project_pull_requests",
				Help: "Pull requests extracted for one project in the last run",
			},
			[]string{"project"},
		),
		commentThreads: factory.NewGauge(prometheus.GaugeOpts{
			Name: "prinsights_comment_threads",
			Help: "Comment threads written in the last run",
		}),
		commentComments: factory.NewGauge(prometheus.GaugeOpts{
			Name: "prinsights_comments",
			Help: "Comments written in the last run",
		}),
		commentsCapped: factory.NewGauge(prometheus.GaugeOpts{
			Name: "prinsights_comments_capped",
			Help: "1 when comment extraction hit its per-run PR limit",
		}),
		runStatus: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "prinsights_run_status",
				Help: "1 for the final status of the last run, 0 otherwise",
			},
			[]string{"status"},
		),
		lastRun: factory.NewGauge(prometheus.GaugeOpts{
			Name: "prinsights_last_run_timestamp_seconds",
			Help: "Unix time the last run finished",
		}),
	}
}

// ObserveProject records the outcome of one project's extraction.
func (t *Textfile) ObserveProject(project, status string, prs int, d time.Duration) {
	t.projectDuration.WithLabelValues(project, status).Set(d.Seconds())
	t.projectPRs.WithLabelValues(project).Set(float64(prs))
}

// ObserveComments records the comment phase totals.
func (t *Textfile) ObserveComments(threads, comments int, capped bool) {
	t.commentThreads.Set(float64(threads))
	t.commentComments.Set(float64(comments))
	if capped {
		t.commentsCapped.Set(1)
	} else {
		t.commentsCapped.Set(0)
	}
}

// SetRunStatus marks status as the run's final status.
func (t *Textfile) SetRunStatus(status string) {
	for _, s := range runStatuses {
		t.runStatus.WithLabelValues(s).Set(0)
	}
	t.runStatus.WithLabelValues(status).Set(1)
	t.lastRun.Set(float64(t.now().Unix()))
}

// Flush writes the collected metrics to the textfile.
func (t *Textfile) Flush() error {
	if t.path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(t.path, t.reg); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// Registry exposes the underlying registry.
func (t *Textfile) Registry() *prometheus.Registry {
	return t.reg
}
