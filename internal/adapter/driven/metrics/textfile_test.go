package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findFamily(t *testing.T, families []*dto.MetricFamily, name string) *dto.MetricFamily {
	t.Helper()
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	t.Fatalf("metric family %s not gathered", name)
	return nil
}

func TestTextfile_ObserveProject(t *testing.T) {
	m := NewTextfile("")

	m.ObserveProject("web", "success", 12, 1500*time.Millisecond)
	m.ObserveProject("api", "failed", 0, 250*time.Millisecond)

	assert.InDelta(t, 1.5, testutil.ToFloat64(m.projectDuration.WithLabelValues("web", "success")), 1e-9)
	assert.InDelta(t, 12, testutil.ToFloat64(m.projectPRs.WithLabelValues("web")), 1e-9)
	assert.InDelta(t, 0, testutil.ToFloat64(m.projectPRs.WithLabelValues("api")), 1e-9)
}

func TestTextfile_RunStatusIsExclusive(t *testing.T) {
	m := NewTextfile("")
	m.now = func() time.Time { return time.Unix(1768982400, 0) }

	m.SetRunStatus("failed")
	m.SetRunStatus("success")

	families, err := m.Registry().Gather()
	require.NoError(t, err)

	status := findFamily(t, families, "prinsights_run_status")
	values := map[string]float64{}
	for _, metric := range status.GetMetric() {
		values[metric.GetLabel()[0].GetValue()] = metric.GetGauge().GetValue()
	}
	assert.Equal(t, map[string]float64{"success": 1, "failed": 0, "cancelled": 0}, values)

	last := findFamily(t, families, "prinsights_last_run_timestamp_seconds")
	assert.InDelta(t, 1768982400, last.GetMetric()[0].GetGauge().GetValue(), 1e-9)
}

func TestTextfile_Flush(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prinsights.prom")
	m := NewTextfile(path)

	m.ObserveComments(7, 19, true)
	m.SetRunStatus("success")
	require.NoError(t, m.Flush())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "prinsights_comment_threads 7")
	assert.Contains(t, string(data), "prinsights_comments 19")
	assert.Contains(t, string(data), "prinsights_comments_capped 1")
	assert.Contains(t, string(data), `prinsights_run_status{status="success"} 1`)
}

func TestTextfile_FlushDisabled(t *testing.T) {
	assert.NoError(t, NewTextfile("").Flush())
}
