package metrics

import (
	"net/http"
	"time"

	"bucketzip/internal/progress"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Object and chunk outcome labels
const (
	StatusPacked    = "packed"
	StatusDropped   = "dropped"
	StatusDiscarded = "discarded"
	StatusUploaded  = "uploaded"
	StatusSkipped   = "skipped"
	StatusProcessed = "processed"
)

// Collector collects and exposes metrics
type Collector struct {
	registry        *prometheus.Registry
	objectsTotal    *prometheus.CounterVec
	chunksTotal     *prometheus.CounterVec
	pagesTotal      *prometheus.CounterVec
	bytesFetched    prometheus.Counter
	bytesUploaded   prometheus.Counter
	inflightFetches prometheus.Gauge
	fetchDuration   prometheus.Histogram
	progressTracker *progress.Tracker
}

// New creates a new metrics collector backed by its own registry
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		objectsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bucketzip_objects_total",
				Help: "Source objects seen by the archiver, by outcome",
			},
			[]string{"status"},
		),
		chunksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bucketzip_chunks_total",
				Help: "Archive chunks closed, by outcome",
			},
			[]string{"status"},
		),
		pagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bucketzip_pages_total",
				Help: "Listing pages handled, by outcome",
			},
			[]string{"status"},
		),
		bytesFetched: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "bucketzip_fetched_bytes_total",
				Help: "Object content bytes downloaded from the source",
			},
		),
		bytesUploaded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "bucketzip_uploaded_bytes_total",
				Help: "Compressed archive bytes written to the destination",
			},
		),
		inflightFetches: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "bucketzip_inflight_fetches",
				Help: "Number of object fetches currently in flight",
			},
		),
		fetchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "bucketzip_fetch_duration_seconds",
				Help:    "Time taken to fetch one source object",
				Buckets: prometheus.DefBuckets,
			},
		),
		progressTracker: progress.NewTracker(),
	}

	c.registry.MustRegister(
		c.objectsTotal,
		c.chunksTotal,
		c.pagesTotal,
		c.bytesFetched,
		c.bytesUploaded,
		c.inflightFetches,
		c.fetchDuration,
	)

	return c
}

// IncPacked counts an object packed into a chunk
func (c *Collector) IncPacked(bytes int64) {
	c.objectsTotal.WithLabelValues(StatusPacked).Inc()
	c.progressTracker.AddPacked(bytes)
}

// IncDropped counts an object whose fetch failed
func (c *Collector) IncDropped() {
	c.objectsTotal.WithLabelValues(StatusDropped).Inc()
	c.progressTracker.AddDropped()
}

// AddDiscarded counts objects skipped by the resume cursor
func (c *Collector) AddDiscarded(n int) {
	if n <= 0 {
		return
	}
	c.objectsTotal.WithLabelValues(StatusDiscarded).Add(float64(n))
	c.progressTracker.AddDiscarded(n)
}

// IncChunkUploaded counts a chunk written to the destination
func (c *Collector) IncChunkUploaded(bytes int64) {
	c.chunksTotal.WithLabelValues(StatusUploaded).Inc()
	c.bytesUploaded.Add(float64(bytes))
	c.progressTracker.AddChunk(true)
}

// IncChunkSkipped counts a chunk that already existed
func (c *Collector) IncChunkSkipped() {
	c.chunksTotal.WithLabelValues(StatusSkipped).Inc()
	c.progressTracker.AddChunk(false)
}

// IncPage counts a page by outcome
func (c *Collector) IncPage(skipped bool) {
	status := StatusProcessed
	if skipped {
		status = StatusSkipped
	}
	c.pagesTotal.WithLabelValues(status).Inc()
	c.progressTracker.AddPage(skipped)
}

// AddFetchedBytes adds to total bytes fetched
func (c *Collector) AddFetchedBytes(bytes int64) {
	c.bytesFetched.Add(float64(bytes))
}

// FetchStarted marks a fetch as in flight
func (c *Collector) FetchStarted() {
	c.inflightFetches.Inc()
}

// FetchFinished records a completed fetch
func (c *Collector) FetchFinished(duration time.Duration) {
	c.inflightFetches.Dec()
	c.fetchDuration.Observe(duration.Seconds())
}

// Handler returns the HTTP handler exposing this collector's registry
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// StartServer starts the metrics HTTP server
func (c *Collector) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	return http.ListenAndServe(addr, mux)
}

// Registry returns the underlying registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// GetProgressTracker returns the progress tracker
func (c *Collector) GetProgressTracker() *progress.Tracker {
	return c.progressTracker
}
