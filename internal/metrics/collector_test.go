package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorCounts(t *testing.T) {
	c := New()

	c.IncPacked(100)
	c.IncPacked(50)
	c.IncDropped()
	c.AddDiscarded(3)
	c.AddDiscarded(0)
	c.IncChunkUploaded(40)
	c.IncChunkSkipped()
	c.IncPage(false)
	c.IncPage(true)
	c.AddFetchedBytes(150)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.objectsTotal.WithLabelValues(StatusPacked)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.objectsTotal.WithLabelValues(StatusDropped)))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.objectsTotal.WithLabelValues(StatusDiscarded)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.chunksTotal.WithLabelValues(StatusUploaded)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.chunksTotal.WithLabelValues(StatusSkipped)))
	assert.Equal(t, 40.0, testutil.ToFloat64(c.bytesUploaded))
	assert.Equal(t, 150.0, testutil.ToFloat64(c.bytesFetched))

	s := c.GetProgressTracker().GetStatus()
	assert.Equal(t, int64(2), s.ObjectsPacked)
	assert.Equal(t, int64(150), s.PackedBytes)
	assert.Equal(t, int64(3), s.ObjectsDiscarded)
	assert.Equal(t, int64(1), s.PagesProcessed)
	assert.Equal(t, int64(1), s.PagesSkipped)
}

func TestCollectorInflightGauge(t *testing.T) {
	c := New()

	c.FetchStarted()
	c.FetchStarted()
	assert.Equal(t, 2.0, testutil.ToFloat64(c.inflightFetches))

	c.FetchFinished(10 * time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.inflightFetches))

	n, err := testutil.GatherAndCount(c.Registry(), "bucketzip_fetch_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCollectorsAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.IncDropped()
	assert.Zero(t, testutil.ToFloat64(b.objectsTotal.WithLabelValues(StatusDropped)))
}

func TestHandlerServesRegistry(t *testing.T) {
	c := New()
	c.IncChunkUploaded(10)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `bucketzip_chunks_total{status="uploaded"} 1`))
}
