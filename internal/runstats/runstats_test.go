package runstats

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_Counters(t *testing.T) {
	r := New()

	r.Request("graphql", 10*time.Millisecond, nil)
	r.Request("graphql", 10*time.Millisecond, errors.New("reset"))
	r.Request("graphql", 10*time.Millisecond, nil)
	r.Retry("graphql")
	r.Records("docker/cli", "prs", 50)
	r.Records("docker/cli", "prs", 7)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.requests.WithLabelValues("graphql", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.requests.WithLabelValues("graphql", OutcomeError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.retries.WithLabelValues("graphql")))
	assert.Equal(t, 57.0, testutil.ToFloat64(r.records.WithLabelValues("docker/cli", "prs")))
}

func TestRecorder_NilIsNoop(t *testing.T) {
	var r *Recorder

	assert.NotPanics(t, func() {
		r.Request("releases", time.Second, nil)
		r.Retry("releases")
		r.Records("a/b", "releases", 1)
		r.Stage("collect", time.Second)
	})
	assert.NoError(t, r.WriteTextfile(filepath.Join(t.TempDir(), "x.prom")))
}

func TestRecorder_WriteTextfile(t *testing.T) {
	r := New()
	r.Records("prometheus/prometheus", "workflow_runs", 3)
	r.Stage("derive", 1500*time.Millisecond)

	path := filepath.Join(t.TempDir(), "run_metrics.prom")
	require.NoError(t, r.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `velocity_records_collected_total{kind="workflow_runs",repo="prometheus/prometheus"} 3`)
	assert.Contains(t, string(data), `velocity_stage_duration_seconds{stage="derive"} 1.5`)
}
