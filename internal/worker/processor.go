package worker

import (
	"context"
	"time"

	"bucketzip/internal/metrics"
	"bucketzip/internal/progress"
	"bucketzip/internal/storage"

	"go.uber.org/zap"
)

// TaskProcessor fetches the content of individual objects
type TaskProcessor struct {
	config  Config
	client  storage.Client
	metrics *metrics.Collector
	logger  *zap.Logger
}

// Process fetches one object. Failures are logged and reported as dropped;
// they never abort the page. A cancelled context yields OutcomeFatal.
func (p *TaskProcessor) Process(ctx context.Context, task Task) Result {
	result := Result{Seq: task.Seq, Key: task.Key, Size: task.Size}

	if err := ctx.Err(); err != nil {
		result.Outcome = OutcomeFatal
		result.Err = err
		return result
	}

	p.logger.Debug("Fetching object",
		zap.String("key", task.Key),
		zap.String("size", progress.FormatBytes(task.Size)),
	)

	startTime := time.Now()
	p.metrics.FetchStarted()

	var content []byte
	attempts, err := Retry(ctx, p.config.Retry, p.logger.With(zap.String("key", task.Key)), func() error {
		data, err := storage.ReadAll(ctx, p.client, task.Bucket, task.Key)
		if err != nil {
			return err
		}
		content = data
		return nil
	})

	result.Duration = time.Since(startTime)
	result.Attempts = attempts
	p.metrics.FetchFinished(result.Duration)

	if err != nil {
		result.Err = err
		if ctx.Err() != nil {
			result.Outcome = OutcomeFatal
			return result
		}
		result.Outcome = OutcomeDropped
		p.logger.Warn("Failed to fetch object, dropping it",
			zap.String("key", task.Key),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		return result
	}

	result.Content = content
	result.Outcome = OutcomeFetched
	p.metrics.AddFetchedBytes(int64(len(content)))
	return result
}
