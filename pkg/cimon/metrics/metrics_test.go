package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognicore/cimon/pkg/cimon"
	"github.com/cognicore/cimon/pkg/cimon/signal"
)

func sampleSummary() cimon.Summary {
	start := time.Date(2024, 5, 10, 6, 0, 0, 0, time.UTC)
	return cimon.Summary{
		RunID:         "01HXYZ",
		StartedAt:     start,
		FinishedAt:    start.Add(42 * time.Second),
		Sources:       3,
		SourcesFailed: 1,
		Collected:     20,
		Malformed:     1,
		Irrelevant:    4,
		Duplicates:    10,
		Persisted:     5,
		ByCategory: map[signal.Category]int{
			signal.CategoryProduct:     3,
			signal.CategoryAcquisition: 2,
		},
		Failures: []cimon.Failure{
			{Stage: cimon.StageCollect, Kind: cimon.KindQuotaExceeded, Source: "news:newsapi", Err: errors.New("rateLimited")},
		},
		State: cimon.StatePartial,
	}
}

func TestObserve(t *testing.T) {
	r := New()
	s := sampleSummary()
	r.Observe(s)

	assert.Equal(t, float64(s.FinishedAt.Unix()), testutil.ToFloat64(r.lastRun))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.lastSuccess), "partial runs do not count as success")
	assert.Equal(t, 42.0, testutil.ToFloat64(r.duration))
	assert.Equal(t, 20.0, testutil.ToFloat64(r.items.WithLabelValues("collected")))
	assert.Equal(t, 10.0, testutil.ToFloat64(r.items.WithLabelValues("duplicate")))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.persisted.WithLabelValues("Product")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.persisted.WithLabelValues("General")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.failures.WithLabelValues("quota_exceeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.sourcesFailed))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.state.WithLabelValues("partial")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.state.WithLabelValues("done")))

	s.State = cimon.StateDone
	s.Failures = nil
	r.Observe(s)
	assert.Equal(t, float64(s.FinishedAt.Unix()), testutil.ToFloat64(r.lastSuccess))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.failures.WithLabelValues("quota_exceeded")))
}

func TestWriteTextfile(t *testing.T) {
	r := New()
	r.Observe(sampleSummary())

	path := filepath.Join(t.TempDir(), "cimon.prom")
	require.NoError(t, r.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, "# HELP cimon_run_duration_seconds")
	assert.Contains(t, text, `cimon_run_items{outcome="persisted"} 5`)
	assert.True(t, strings.Contains(text, `cimon_run_signals_persisted{category="Acquisition"} 2`))
}
