package pipeline

import (
	"context"
	"sync"

	"logsentry/core"
	"logsentry/metrics"
	"logsentry/util/goroutine"

	"go.uber.org/zap"
)

// BatchResult summarizes a ProcessBatch call. Results holds one entry per
// processed event in input order.
type BatchResult struct {
	Results   []*core.ProcessResult
	Processed int
	Failed    int
	Skipped   int
}

// workerPool runs submitted tasks on a fixed set of goroutines until closed
type workerPool struct {
	tasks  chan func()
	wg     sync.WaitGroup
	logger *zap.SugaredLogger
}

func newWorkerPool(workers int, logger *zap.SugaredLogger) *workerPool {
	wp := &workerPool{
		tasks:  make(chan func(), workers),
		logger: logger,
	}
	for i := 0; i < workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
	return wp
}

func (wp *workerPool) worker(id int) {
	defer wp.wg.Done()
	for task := range wp.tasks {
		func() {
			defer goroutine.Recover("batch-worker", wp.logger)
			task()
		}()
	}
	wp.logger.Debugw("Batch worker stopped", "worker_id", id)
}

// submit blocks until a worker accepts task or ctx is done
func (wp *workerPool) submit(ctx context.Context, task func()) bool {
	select {
	case wp.tasks <- task:
		return true
	case <-ctx.Done():
		return false
	}
}

// stop closes the queue and waits for in-flight tasks
func (wp *workerPool) stop() {
	close(wp.tasks)
	wp.wg.Wait()
}

// ProcessBatch processes events independently on a worker pool. Invalid
// events count as Failed and never abort the batch. Once ctx is done no
// further events are submitted and the rest count as Skipped; events already
// handed to a worker run to completion.
func (o *Orchestrator) ProcessBatch(ctx context.Context, events []*core.Event) BatchResult {
	var batch BatchResult
	if len(events) == 0 {
		return batch
	}

	workers := o.workers
	if workers > len(events) {
		workers = len(events)
	}
	pool := newWorkerPool(workers, o.logger)
	slots := make([]*core.ProcessResult, len(events))
	// in-flight events finish even if the batch is cancelled
	workCtx := context.WithoutCancel(ctx)

	var (
		mu       sync.Mutex
		finished int
		crashed  int
	)
	for i, event := range events {
		if ctx.Err() != nil {
			batch.Skipped += len(events) - i
			break
		}
		if err := event.Validate(); err != nil {
			o.logger.Warnw("Skipping invalid event in batch", "index", i, "error", err)
			metrics.EventsProcessed.WithLabelValues("invalid").Inc()
			batch.Failed++
			continue
		}
		if o.limiter != nil {
			if err := o.limiter.Wait(ctx); err != nil {
				batch.Skipped += len(events) - i
				break
			}
		}

		accepted := pool.submit(ctx, func() {
			var result *core.ProcessResult
			err := goroutine.SafeCall("process-event", o.logger, func() error {
				result = o.ProcessEvent(workCtx, event)
				return nil
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil || result == nil {
				crashed++
				return
			}
			slots[i] = result
			finished++
		})
		if !accepted {
			batch.Skipped += len(events) - i
			break
		}
	}
	pool.stop()
	batch.Processed = finished
	batch.Failed += crashed

	if batch.Skipped > 0 {
		metrics.EventsProcessed.WithLabelValues("skipped").Add(float64(batch.Skipped))
		o.logger.Warnw("Batch cancelled before all events were submitted",
			"skipped", batch.Skipped, "error", ctx.Err())
	}

	batch.Results = make([]*core.ProcessResult, 0, batch.Processed)
	for _, r := range slots {
		if r != nil {
			batch.Results = append(batch.Results, r)
		}
	}
	return batch
}
