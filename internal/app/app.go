package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"bucketzip/internal/archive"
	"bucketzip/internal/checkpoint"
	"bucketzip/internal/config"
	"bucketzip/internal/metrics"
	"bucketzip/internal/progress"
	"bucketzip/internal/storage"
	"bucketzip/internal/worker"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const manifestWriteTimeout = 30 * time.Second

// Archiver packs a source bucket into zip chunks in a destination bucket
type Archiver struct {
	cfg       *config.Config
	logger    *zap.Logger
	runID     string
	srcClient storage.Client
	dstClient storage.Client
	journal   checkpoint.Store
	metrics   *metrics.Collector
	workers   *worker.Pool
	source    *ObjectLister
	dest      *ObjectLister

	maxChunkBytes int64

	// set once the resume state is known
	uploaded *ChunkSet
	uploader *Uploader
}

// New creates the storage clients and journal described by cfg
func New(cfg *config.Config, logger *zap.Logger) (*Archiver, error) {
	srcClient, err := storage.NewClient(cfg.Source.StorageConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create source client: %w", err)
	}

	dstClient, err := storage.NewClient(cfg.Target.StorageConfig())
	if err != nil {
		srcClient.Close()
		return nil, fmt.Errorf("failed to create destination client: %w", err)
	}

	journal, err := checkpoint.Open(cfg.Archive.Journal)
	if err != nil {
		srcClient.Close()
		dstClient.Close()
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	return NewWithClients(cfg, logger, srcClient, dstClient, journal), nil
}

// NewWithClients creates an archiver over existing clients. The archiver
// takes ownership of them and of the journal.
func NewWithClients(cfg *config.Config, logger *zap.Logger, src, dst storage.Client, journal checkpoint.Store) *Archiver {
	runID := uuid.NewString()
	logger = logger.With(zap.String("run_id", runID))
	metricsCollector := metrics.New()

	workerPool := worker.NewPool(cfg.Archive.MaxWorkers, worker.Config{
		Retry: worker.RetryPolicy{
			Retries: cfg.Archive.Retries,
			Backoff: cfg.Archive.RetryBackoff(),
		},
	}, src, metricsCollector, logger.With(zap.String("component", "fetcher")))

	return &Archiver{
		cfg:       cfg,
		logger:    logger,
		runID:     runID,
		srcClient: src,
		dstClient: dst,
		journal:   journal,
		metrics:   metricsCollector,
		workers:   workerPool,
		source:    &ObjectLister{client: src, logger: logger.With(zap.String("component", "source"))},
		dest:      &ObjectLister{client: dst, logger: logger.With(zap.String("component", "destination"))},

		maxChunkBytes: cfg.Archive.MaxChunkBytes(),
	}
}

// Metrics returns the archiver's metrics collector
func (a *Archiver) Metrics() *metrics.Collector {
	return a.metrics
}

// Run archives every page of the source. On success the manifest lists every
// chunk; if the run stops early a manifest of the chunks stored so far is
// written so the next run can resume mid-page.
func (a *Archiver) Run(ctx context.Context) error {
	arc := a.cfg.Archive
	a.logger.Info("Starting archive run",
		zap.String("source", arc.SourceBucket),
		zap.String("destination", arc.DestBucket),
		zap.String("label", arc.Label),
		zap.String("prefix", arc.Prefix),
		zap.Int("workers", arc.MaxWorkers),
		zap.String("max_chunk_size", progress.FormatBytes(a.maxChunkBytes)),
		zap.Bool("dry_run", arc.DryRun),
	)

	if arc.MetricsAddr != "" {
		go func() {
			if err := a.metrics.StartServer(arc.MetricsAddr); err != nil {
				a.logger.Error("Failed to start metrics server", zap.Error(err))
			}
		}()
	}

	run := &checkpoint.RunRecord{
		ID:           a.runID,
		Label:        arc.Label,
		SourceBucket: arc.SourceBucket,
		DestBucket:   arc.DestBucket,
	}
	if err := a.journal.StartRun(ctx, run); err != nil {
		a.logger.Warn("Failed to journal run start", zap.Error(err))
	}

	err := a.run(ctx)
	a.finishRun(ctx, err)
	return err
}

func (a *Archiver) run(ctx context.Context) error {
	arc := a.cfg.Archive

	state, err := computeResumeState(ctx, a.dest, arc.DestBucket, arc.Label, a.logger)
	if err != nil {
		return fmt.Errorf("failed to compute resume state: %w", err)
	}
	a.uploaded = state.Uploaded
	a.uploader = &Uploader{
		client:   a.dstClient,
		bucket:   arc.DestBucket,
		label:    arc.Label,
		runID:    a.runID,
		uploaded: state.Uploaded,
		retry:    worker.RetryPolicy{Retries: arc.Retries, Backoff: arc.RetryBackoff()},
		journal:  a.journal,
		metrics:  a.metrics,
		logger:   a.logger.With(zap.String("component", "uploader")),
	}

	if state.Cursor.IsZero() {
		a.logger.Info("Starting from the beginning", zap.Int("uploaded_chunks", state.Uploaded.Len()))
	} else {
		a.logger.Info("Resuming from cursor",
			zap.Int("uploaded_chunks", state.Uploaded.Len()),
			zap.Int("page", state.Cursor.Page),
			zap.Int("chunk", state.Cursor.Chunk),
			zap.String("last_object", state.Cursor.LastObject),
		)
	}

	if arc.DryRun {
		return a.plan(ctx)
	}

	var display *progress.Display
	if arc.ShowProgress && progress.IsTerminalSupported() {
		display = progress.NewDisplay(a.metrics.GetProgressTracker(), 2*time.Second)
		display.Start()
	}

	manifest, runErr := a.archivePages(ctx, state.Cursor)

	if display != nil {
		display.Stop()
	}

	if runErr != nil {
		a.writePartialManifest(ctx, manifest)
		return runErr
	}

	if err := WriteManifest(ctx, a.dstClient, arc.DestBucket, arc.Label, manifest); err != nil {
		return err
	}
	a.logger.Info("Uploaded manifest",
		zap.Int("total_pages", manifest.TotalPages),
		zap.Int("chunks", len(manifest.Chunks)),
	)
	return nil
}

// archivePages walks the source listing one page at a time. The returned
// manifest holds every chunk accounted for so far, even on error.
func (a *Archiver) archivePages(ctx context.Context, cursor Cursor) (*Manifest, error) {
	arc := a.cfg.Archive
	pages := a.source.Pages(ctx, arc.SourceBucket, arc.Prefix, arc.PageSize)
	manifest := &Manifest{}

	for {
		page, err := pages.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		manifest.TotalPages = pages.Count()
		if err != nil {
			return manifest, err
		}

		if pageComplete(a.uploaded, cursor, page) {
			a.logger.Info("Skipping page as it is already fully uploaded", zap.Int("page", page.Number))
			manifest.Chunks = append(manifest.Chunks, a.uploaded.PageChunks(page.Number)...)
			a.metrics.IncPage(true)
			continue
		}

		var pageCursor *Cursor
		if !cursor.IsZero() && cursor.Page == page.Number {
			c := cursor
			pageCursor = &c
		}

		names, err := a.processPage(ctx, page, pageCursor)
		manifest.Chunks = append(manifest.Chunks, names...)
		if err != nil {
			return manifest, err
		}
		a.metrics.IncPage(false)
	}

	manifest.TotalPages = pages.Count()
	return manifest, nil
}

// writePartialManifest records the chunks stored before the run stopped. It
// runs even when ctx is cancelled.
func (a *Archiver) writePartialManifest(ctx context.Context, manifest *Manifest) {
	if manifest == nil || len(manifest.Chunks) == 0 {
		return
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), manifestWriteTimeout)
	defer cancel()

	arc := a.cfg.Archive
	if err := WriteManifest(writeCtx, a.dstClient, arc.DestBucket, arc.Label, manifest); err != nil {
		a.logger.Error("Failed to write partial manifest", zap.Error(err))
		return
	}
	a.logger.Info("Uploaded partial manifest",
		zap.Int("pages_reached", manifest.TotalPages),
		zap.Int("chunks", len(manifest.Chunks)),
	)
}

// plan lists every page and logs the chunks it would produce, judged from
// listed sizes. Nothing is fetched or uploaded.
func (a *Archiver) plan(ctx context.Context) error {
	arc := a.cfg.Archive
	pages := a.source.Pages(ctx, arc.SourceBucket, arc.Prefix, arc.PageSize)

	var chunks, existing, objects int
	var total int64

	for {
		page, err := pages.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}

		sizes := make([]int64, len(page.Objects))
		for i, obj := range page.Objects {
			sizes[i] = obj.Size
		}

		for _, c := range archive.Plan(page.Number, sizes, a.maxChunkBytes) {
			exists := a.uploaded.Has(c.Name)
			a.logger.Info("Would create chunk",
				zap.Int("page", page.Number),
				zap.String("name", c.Name),
				zap.Int("objects", c.Objects),
				zap.String("size", progress.FormatBytes(c.Bytes)),
				zap.Bool("exists", exists),
			)
			chunks++
			objects += c.Objects
			total += c.Bytes
			if exists {
				existing++
			}
		}
	}

	a.logger.Info("Dry run completed",
		zap.Int("pages", pages.Count()),
		zap.Int("objects", objects),
		zap.Int("chunks", chunks),
		zap.Int("existing_chunks", existing),
		zap.String("total_size", progress.FormatBytes(total)),
	)
	return nil
}

func (a *Archiver) finishRun(ctx context.Context, err error) {
	status := checkpoint.RunCompleted
	switch {
	case err != nil && ctx.Err() != nil:
		status = checkpoint.RunCancelled
	case err != nil:
		status = checkpoint.RunFailed
	}

	journalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), manifestWriteTimeout)
	defer cancel()
	if jerr := a.journal.FinishRun(journalCtx, a.runID, status, err); jerr != nil {
		a.logger.Warn("Failed to journal run end", zap.Error(jerr))
	}

	s := a.metrics.GetProgressTracker().GetStatus()
	fields := []zap.Field{
		zap.String("status", string(status)),
		zap.Int64("pages_processed", s.PagesProcessed),
		zap.Int64("pages_skipped", s.PagesSkipped),
		zap.Int64("objects_packed", s.ObjectsPacked),
		zap.Int64("objects_dropped", s.ObjectsDropped),
		zap.Int64("chunks_uploaded", s.ChunksUploaded),
		zap.Int64("chunks_skipped", s.ChunksSkipped),
		zap.String("packed_size", progress.FormatBytes(s.PackedBytes)),
	}
	if err != nil {
		a.logger.Error("Archive run stopped", append(fields, zap.Error(err))...)
		return
	}
	a.logger.Info("Archive run completed", fields...)
}

// Close releases the storage clients and the journal
func (a *Archiver) Close() error {
	return errors.Join(
		a.srcClient.Close(),
		a.dstClient.Close(),
		a.journal.Close(),
	)
}
