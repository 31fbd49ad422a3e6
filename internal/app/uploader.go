package app

import (
	"bytes"
	"context"
	"fmt"

	"bucketzip/internal/archive"
	"bucketzip/internal/checkpoint"
	"bucketzip/internal/metrics"
	"bucketzip/internal/progress"
	"bucketzip/internal/storage"
	"bucketzip/internal/worker"

	"go.uber.org/zap"
)

// UploadOutcome classifies a successful Upload
type UploadOutcome int

const (
	// Uploaded means the chunk was written to the destination.
	Uploaded UploadOutcome = iota
	// Skipped means a chunk of the same name already existed.
	Skipped
)

func (o UploadOutcome) String() string {
	if o == Skipped {
		return "skipped"
	}
	return "uploaded"
}

// Uploader writes closed chunks under the label prefix of the destination
// bucket, skipping names already present.
type Uploader struct {
	client   storage.Client
	bucket   string
	label    string
	runID    string
	uploaded *ChunkSet
	retry    worker.RetryPolicy
	journal  checkpoint.Store
	metrics  *metrics.Collector
	logger   *zap.Logger
}

// Upload stores c unless its name is already known. Any error is fatal to
// the run.
func (u *Uploader) Upload(ctx context.Context, c *archive.Chunk) (UploadOutcome, error) {
	name := c.Name()
	logger := u.logger.With(
		zap.Int("page", c.Page),
		zap.Int("chunk", c.Index),
	)

	if u.uploaded.Has(name) {
		logger.Info("Skipped already uploaded chunk", zap.String("name", name))
		u.metrics.IncChunkSkipped()
		u.record(ctx, c, checkpoint.ChunkSkipped)
		return Skipped, nil
	}

	data := c.Bytes()
	key := chunkKey(u.label, name)
	attempts, err := worker.Retry(ctx, u.retry, logger, func() error {
		return u.client.PutObject(ctx, u.bucket, key, bytes.NewReader(data), int64(len(data)), storage.PutOptions{
			ContentType: archive.ContentType,
		})
	})
	if err != nil {
		return Uploaded, fmt.Errorf("upload %s after %d attempt(s): %w", key, attempts, err)
	}

	u.uploaded.Add(name)
	u.metrics.IncChunkUploaded(int64(len(data)))
	u.record(ctx, c, checkpoint.ChunkUploaded)

	logger.Info("Uploaded chunk",
		zap.String("key", key),
		zap.Int("objects", c.Len()),
		zap.String("content_size", progress.FormatBytes(c.Size())),
		zap.String("archive_size", progress.FormatBytes(int64(len(data)))),
	)
	return Uploaded, nil
}

func (u *Uploader) record(ctx context.Context, c *archive.Chunk, status checkpoint.ChunkStatus) {
	err := u.journal.SaveChunk(ctx, &checkpoint.ChunkRecord{
		RunID:   u.runID,
		Label:   u.label,
		Name:    c.Name(),
		Page:    c.Page,
		Index:   c.Index,
		Objects: c.Len(),
		Bytes:   c.Size(),
		Status:  status,
	})
	if err != nil {
		u.logger.Warn("Failed to journal chunk", zap.String("name", c.Name()), zap.Error(err))
	}
}
