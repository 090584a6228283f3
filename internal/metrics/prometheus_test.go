package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freedkr/bc3tree/internal/builder"
	"github.com/freedkr/bc3tree/internal/model"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestMetrics_ObserveParseAndBuild(t *testing.T) {
	m := New()

	m.ObserveParse(&model.ParseResult{
		Metadata: model.Metadata{RecordCounts: map[string]int{"C": 7, "D": 3}},
		Stats:    model.ParseStats{MalformedRecords: 1, UnknownRecords: 2},
	})
	m.ObserveBuild(&builder.BuildStats{Nodes: 6, CommittedRelations: 5, RejectedCycle: 1, MeasurementsAttached: 2})

	body := scrape(t, m)
	assert.Contains(t, body, `bc3tree_records_total{type="C"} 7`)
	assert.Contains(t, body, `bc3tree_records_total{type="D"} 3`)
	assert.Contains(t, body, `bc3tree_skipped_records_total{reason="unknown"} 2`)
	assert.Contains(t, body, `bc3tree_relations_total{result="committed"} 5`)
	assert.Contains(t, body, `bc3tree_relations_total{result="rejected_cycle"} 1`)
	assert.Contains(t, body, `bc3tree_measurements_total{result="attached"} 2`)
	assert.Contains(t, body, `bc3tree_tree_nodes_count 1`)
}

func TestMetrics_ObserveStageAndImports(t *testing.T) {
	m := New()

	m.ImportStarted()
	m.ObserveStage(StageParse, 20*time.Millisecond, nil)
	m.ObserveStage(StageBuild, 5*time.Millisecond, errors.New("boom"))
	m.ImportFinished("failed")

	body := scrape(t, m)
	assert.Contains(t, body, `bc3tree_stage_duration_seconds_count{result="success",stage="parse"} 1`)
	assert.Contains(t, body, `bc3tree_stage_duration_seconds_count{result="error",stage="build"} 1`)
	assert.Contains(t, body, `bc3tree_imports_total{status="failed"} 1`)
	assert.Contains(t, body, `bc3tree_imports_in_flight 0`)

	stages := m.Stages().GetMetrics()
	assert.Equal(t, int64(1), stages.SuccessCount)
	assert.Equal(t, int64(1), stages.ErrorCount)
	assert.Equal(t, "boom", stages.StageMetrics[StageBuild].LastError)
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveParse(&model.ParseResult{})
		m.ObserveBuild(&builder.BuildStats{})
		m.ObserveStage(StageParse, time.Millisecond, nil)
		m.ImportStarted()
		m.ImportFinished("completed")
	})
}
