package telemetry

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_ObserveEfficiency(t *testing.T) {
	r := NewRecorder()
	r.ObserveEfficiency("llama2-7b", "h100", "bf16", 0.41, 405.5)
	r.ObserveEfficiency("llama2-7b", "h100", "bf16", 0.43, 425.3)

	assert.InDelta(t, 0.43, testutil.ToFloat64(r.mfu.WithLabelValues("llama2-7b", "h100", "bf16")), 1e-9)
	assert.InDelta(t, 425.3, testutil.ToFloat64(r.tflopsPerAccel.WithLabelValues("llama2-7b", "h100", "bf16")), 1e-9)
	assert.Equal(t, 1, testutil.CollectAndCount(r.mfu))
}

func TestRecorder_RunFinished(t *testing.T) {
	r := NewRecorder()
	r.RunFinished("completed", 120)
	r.RunFinished("completed", 300)
	r.RunFinished("failed", 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.runs.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.runs.WithLabelValues("failed")))

	expected := `
# HELP trainmetrics_runs_total Training runs that reached a terminal status.
# TYPE trainmetrics_runs_total counter
trainmetrics_runs_total{status="completed"} 2
trainmetrics_runs_total{status="failed"} 1
`
	require.NoError(t, testutil.GatherAndCompare(r.Registry(), strings.NewReader(expected), "trainmetrics_runs_total"))
}

func TestRecorder_Handler(t *testing.T) {
	r := NewRecorder()
	r.ObserveEfficiency("gpt3-175b", "a100", "bf16", 0.52, 162.2)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, string(body), `trainmetrics_run_mfu_ratio{accelerator="a100",model="gpt3-175b",precision="bf16"} 0.52`)
}
