package processor

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// ReaderFactory opens the reader for worker i.
type ReaderFactory func(i int) (MessageReader, error)

// Pool runs independent workers, each with its own reader, against one queue.
type Pool struct {
	queue     string
	workers   int
	newReader ReaderFactory
	consume   ConsumeFunc
	metrics   MetricsRecorder
}

// NewPool creates a worker pool. workers below 1 is treated as 1.
func NewPool(queue string, workers int, newReader ReaderFactory, consume ConsumeFunc, m MetricsRecorder) *Pool {
	if workers < 1 {
		workers = 1
	}
	if m == nil {
		m = &NoOpMetrics{}
	}
	return &Pool{
		queue:     queue,
		workers:   workers,
		newReader: newReader,
		consume:   consume,
		metrics:   m,
	}
}

// Run starts the workers and blocks until all of them stop. A worker whose reader
// cannot be opened cancels the others.
func (p *Pool) Run(ctx context.Context) error {
	slog.Info("Starting worker pool", "queue", p.queue, "workers", p.workers)

	g, gctx := errgroup.WithContext(ctx)
	for i := range p.workers {
		g.Go(func() error {
			reader, err := p.newReader(i)
			if err != nil {
				return fmt.Errorf("worker %d: failed to open reader: %w", i, err)
			}
			defer reader.Close()

			return NewProcessorWithMetrics(p.queue, reader, p.consume, p.metrics).Run(gctx)
		})
	}
	err := g.Wait()

	slog.Info("Worker pool stopped", "queue", p.queue)
	return err
}
