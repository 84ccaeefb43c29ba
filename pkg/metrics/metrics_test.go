package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docbro/docbro/pkg/upload"
)

func TestMetricsFollowReporterEvents(t *testing.T) {
	m := New()
	r := upload.NewReporter()
	m.Attach(r)

	r.Start("op-1", "upload /src -> proj")
	assert.InDelta(t, 1, testutil.ToFloat64(m.operationsStarted), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.activeOperations), 0)

	r.Update(upload.Update{
		OperationID:    "op-1",
		FilesProcessed: 3,
		FilesTotal:     3,
		BytesProcessed: 2048,
		BytesTotal:     2048,
	})
	r.Complete("op-1", true, "complete")

	assert.InDelta(t, 0, testutil.ToFloat64(m.activeOperations), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.operationsCompleted.WithLabelValues("complete")), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(m.operationsCompleted.WithLabelValues("failed")), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(m.filesProcessed), 0)
	assert.InDelta(t, 2048, testutil.ToFloat64(m.bytesProcessed), 0)
}

func TestMetricsFailureOutcome(t *testing.T) {
	m := New()
	r := upload.NewReporter()
	m.Attach(r)

	r.Start("op-1", "d")
	r.Complete("op-1", false, "failed")
	assert.InDelta(t, 1, testutil.ToFloat64(m.operationsCompleted.WithLabelValues("failed")), 0)
}

func TestMetricsHandler(t *testing.T) {
	m := New()
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)
}
