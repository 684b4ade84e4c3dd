package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/book-expert/voice-service/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_RecordsPipelineActivity(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.JobStarted()
	m.ObserveChunk(metrics.StatusSuccess, 200*time.Millisecond)
	m.ObserveChunk(metrics.StatusSuccess, 300*time.Millisecond)
	m.ObserveChunk("timeout", time.Second)
	m.ObserveStitch(50*time.Millisecond, 3*time.Second)

	count, err := testutil.GatherAndCount(reg, "voice_chunks_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "one series per status")

	expected := `
# HELP voice_jobs_active Number of currently running pipeline jobs
# TYPE voice_jobs_active gauge
voice_jobs_active 1
# HELP voice_generated_audio_seconds_total Total seconds of audio in generated artifacts
# TYPE voice_generated_audio_seconds_total counter
voice_generated_audio_seconds_total 3
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"voice_jobs_active", "voice_generated_audio_seconds_total"))

	m.JobFinished(metrics.StatusSuccess, 4*time.Second)

	count, err = testutil.GatherAndCount(reg, "voice_job_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	t.Parallel()

	var m *metrics.Metrics

	assert.NotPanics(t, func() {
		m.JobStarted()
		m.ObserveChunk(metrics.StatusError, time.Second)
		m.ObserveStitch(time.Second, time.Second)
		m.ObserveArtifact(time.Second)
		m.JobFinished(metrics.StatusError, time.Second)
	})
}

func TestHandler_ServesMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	metrics.New(reg).ObserveArtifact(time.Second)

	server := httptest.NewServer(metrics.Handler(reg))
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "voice_generated_audio_seconds_total 1")
}
