package app

import (
	"context"
	"fmt"

	"bucketzip/internal/archive"
	"bucketzip/internal/checkpoint"
	"bucketzip/internal/storage"
	"bucketzip/internal/worker"

	"go.uber.org/zap"
)

// pageComplete reports whether page can be skipped without fetching. Its
// chunks must run 1..k without gaps and the page must be known to have
// finished: either a later page already has chunks, or this is the cursor
// page and the cursor sits on the page's last object.
func pageComplete(uploaded *ChunkSet, cursor Cursor, page *Page) bool {
	k, ok := uploaded.Contiguous(page.Number)
	if !ok {
		return false
	}
	if uploaded.HasPageAfter(page.Number) {
		return true
	}
	if cursor.Page != page.Number || len(page.Objects) == 0 {
		return false
	}
	last := page.Objects[len(page.Objects)-1].Key
	return last == cursor.LastObject && k >= cursor.Chunk
}

func indexOfKey(objects []storage.ObjectInfo, key string) int {
	for i, obj := range objects {
		if obj.Key == key {
			return i
		}
	}
	return -1
}

// processPage fetches, packs and uploads one page. It returns the page's
// chunk names in manifest order, including those stored before an error.
func (a *Archiver) processPage(ctx context.Context, page *Page, cursor *Cursor) ([]string, error) {
	logger := a.logger.With(zap.Int("page", page.Number))
	objects := page.Objects

	var names []string
	opts := archive.BuilderOptions{
		Page:     page.Number,
		MaxBytes: a.maxChunkBytes,
		OnProgress: func(packed int) {
			logger.Info("Progress", zap.Int("objects_packed", packed))
		},
	}

	trimmed := 0
	if cursor != nil {
		for i := 1; i <= cursor.Chunk; i++ {
			if name := archive.ChunkName(page.Number, i); a.uploaded.Has(name) {
				names = append(names, name)
			}
		}
		opts.FirstIndex = cursor.Chunk + 1

		if idx := indexOfKey(objects, cursor.LastObject); idx >= 0 {
			trimmed = idx
			objects = objects[idx:]
			opts.ResumeAfter = cursor.LastObject
		} else {
			logger.Warn("Resume object not found in page listing, packing the whole page",
				zap.String("object", cursor.LastObject),
				zap.Int("first_chunk", opts.FirstIndex),
			)
		}

		logger.Info("Resuming page",
			zap.String("after", cursor.LastObject),
			zap.Int("first_chunk", opts.FirstIndex),
			zap.Int("objects", len(objects)),
		)
	} else {
		logger.Info("Processing page", zap.Int("objects", len(page.Objects)))
	}

	fetchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	builder := archive.NewBuilder(opts, func(c *archive.Chunk) error {
		if _, err := a.uploader.Upload(ctx, c); err != nil {
			return err
		}
		names = append(names, c.Name())
		return nil
	})

	var runErr error
	for r := range a.workers.Fetch(fetchCtx, a.cfg.Archive.SourceBucket, objects) {
		if runErr != nil {
			continue
		}

		switch r.Outcome {
		case worker.OutcomeFetched:
			before := builder.Packed()
			if err := builder.Add(r.Key, r.Content); err != nil {
				runErr = err
				cancel()
				continue
			}
			if builder.Packed() > before {
				a.metrics.IncPacked(int64(len(r.Content)))
			}

		case worker.OutcomeDropped:
			builder.Missing(r.Key)
			a.metrics.IncDropped()
			a.recordFailure(ctx, page.Number, r)

		case worker.OutcomeFatal:
			runErr = r.Err
			cancel()
		}
	}

	if runErr == nil {
		runErr = ctx.Err()
	}
	if runErr == nil {
		runErr = builder.Flush()
	}

	a.metrics.AddDiscarded(trimmed + builder.Discarded())

	if runErr != nil {
		return names, fmt.Errorf("page %d: %w", page.Number, runErr)
	}

	logger.Info("Finished page",
		zap.Int("objects_packed", builder.Packed()),
		zap.Int("objects_discarded", trimmed+builder.Discarded()),
		zap.Int("chunks", builder.Emitted()),
	)
	return names, nil
}

func (a *Archiver) recordFailure(ctx context.Context, page int, r worker.Result) {
	rec := &checkpoint.FailureRecord{
		RunID:    a.runID,
		Label:    a.cfg.Archive.Label,
		Bucket:   a.cfg.Archive.SourceBucket,
		Key:      r.Key,
		Page:     page,
		Attempts: r.Attempts,
	}
	if r.Err != nil {
		rec.LastError = r.Err.Error()
	}
	if err := a.journal.SaveFailure(ctx, rec); err != nil {
		a.logger.Warn("Failed to journal fetch failure", zap.String("key", r.Key), zap.Error(err))
	}
}
