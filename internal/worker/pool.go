package worker

import (
	"context"
	"sync"

	"bucketzip/internal/metrics"
	"bucketzip/internal/storage"

	"go.uber.org/zap"
)

// Pool fetches object content with a bounded number of workers
type Pool struct {
	size    int
	config  Config
	client  storage.Client
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewPool creates a new worker pool
func NewPool(
	size int,
	config Config,
	client storage.Client,
	metricsCollector *metrics.Collector,
	logger *zap.Logger,
) *Pool {
	if size < 1 {
		size = 1
	}
	if config.Window < size {
		config.Window = size * 4
	}
	return &Pool{
		size:    size,
		config:  config,
		client:  client,
		metrics: metricsCollector,
		logger:  logger,
	}
}

// Fetch retrieves every object of a page with at most size fetches in flight
// and delivers the results in listing order, one per object. The channel is
// closed once all objects are delivered or ctx is cancelled. A consumer that
// stops early must cancel ctx and drain the channel.
func (p *Pool) Fetch(ctx context.Context, bucket string, objects []storage.ObjectInfo) <-chan Result {
	tasks := make(chan Task)
	results := make(chan Result, p.size)
	ordered := make(chan Result)
	slots := make(chan struct{}, p.config.Window)

	go p.dispatch(ctx, bucket, objects, tasks, slots)

	var wg sync.WaitGroup
	p.Start(ctx, tasks, results, &wg)
	go func() {
		wg.Wait()
		close(results)
	}()

	go p.sequence(ctx, results, ordered, slots)

	return ordered
}

// Start starts the workers
func (p *Pool) Start(ctx context.Context, tasks <-chan Task, results chan<- Result, wg *sync.WaitGroup) {
	for i := 0; i < p.size; i++ {
		wg.Add(1)
		go p.worker(ctx, i, tasks, results, wg)
	}
}

func (p *Pool) worker(ctx context.Context, id int, tasks <-chan Task, results chan<- Result, wg *sync.WaitGroup) {
	defer wg.Done()

	logger := p.logger.With(zap.Int("worker_id", id))

	processor := &TaskProcessor{
		config:  p.config,
		client:  p.client,
		metrics: p.metrics,
		logger:  logger,
	}

	for {
		select {
		case task, ok := <-tasks:
			if !ok {
				return
			}
			results <- processor.Process(ctx, task)

		case <-ctx.Done():
			logger.Debug("Worker stopped - context cancelled")
			return
		}
	}
}

// dispatch feeds tasks in listing order. A slot is taken per task and
// returned once its result has been delivered, bounding buffered content.
func (p *Pool) dispatch(ctx context.Context, bucket string, objects []storage.ObjectInfo, tasks chan<- Task, slots chan<- struct{}) {
	defer close(tasks)

	for i, obj := range objects {
		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			return
		}

		select {
		case tasks <- Task{Seq: i, Bucket: bucket, Key: obj.Key, Size: obj.Size}:
		case <-ctx.Done():
			return
		}
	}
}

// sequence re-orders completed results back into listing order.
func (p *Pool) sequence(ctx context.Context, results <-chan Result, ordered chan<- Result, slots <-chan struct{}) {
	defer close(ordered)

	pending := make(map[int]Result)
	next := 0
	stopped := false

	for r := range results {
		if stopped {
			continue
		}
		pending[r.Seq] = r

		for !stopped {
			head, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)

			select {
			case ordered <- head:
				<-slots
				next++
			case <-ctx.Done():
				stopped = true
			}
		}
	}
}
