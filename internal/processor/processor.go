package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/adamstauffer/cyphon/internal/consumer"
	"github.com/adamstauffer/cyphon/internal/document"
	"github.com/adamstauffer/cyphon/internal/retry"
)

// RedeliveryConfig is the default in-place retry policy for retryable failures.
// A retryable document is consumed again until it succeeds, because committing a
// later offset would also commit past it.
func RedeliveryConfig() retry.Config {
	return retry.Config{
		MaxRetries:     retry.Unlimited,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		BackoffFactor:  2.0,
	}
}

// Processor reads documents from one queue and hands them to a ConsumeFunc.
type Processor struct {
	queue    string
	reader   MessageReader
	consume  ConsumeFunc
	metrics  MetricsRecorder
	retryCfg retry.Config
}

// NewProcessor creates a processor with no-op metrics.
func NewProcessor(queue string, reader MessageReader, consume ConsumeFunc) *Processor {
	return NewProcessorWithMetrics(queue, reader, consume, nil)
}

// NewProcessorWithMetrics creates a processor with the provided metrics recorder.
// If m is nil, a no-op implementation is used.
func NewProcessorWithMetrics(queue string, reader MessageReader, consume ConsumeFunc, m MetricsRecorder) *Processor {
	if m == nil {
		m = &NoOpMetrics{}
	}
	return &Processor{
		queue:    queue,
		reader:   reader,
		consume:  consume,
		metrics:  m,
		retryCfg: RedeliveryConfig(),
	}
}

// SetRetryConfig replaces the retry policy for retryable failures.
func (p *Processor) SetRetryConfig(cfg retry.Config) {
	p.retryCfg = cfg
}

// Run reads, decodes and consumes documents until ctx is cancelled.
// Offsets are committed after the document has been handled, so a crash before the
// commit leads to redelivery. A retryable failure holds the loop on the same
// document; if the retry budget runs out, Run returns without committing it.
func (p *Processor) Run(ctx context.Context) error {
	slog.Info("Starting document processing loop", "queue", p.queue)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Document processing loop stopped", "queue", p.queue)
			return nil
		default:
			msg, err := p.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				slog.Error("Failed to read document", "queue", p.queue, "error", err)
				continue
			}

			p.metrics.RecordReceived()

			commit, err := p.handle(ctx, msg)
			if err != nil {
				return err
			}
			if !commit {
				continue
			}

			if err := p.reader.CommitMessage(ctx, msg); err != nil {
				slog.Error("Failed to commit offset", "queue", p.queue, "error", err)
			}
		}
	}
}

// handle processes one message and reports whether it should be committed.
// A non-nil error means the message could not be processed and nothing after it
// may be committed.
func (p *Processor) handle(ctx context.Context, msg *consumer.Message) (bool, error) {
	startTime := time.Now()

	doc, err := document.Decode(msg.Value, msg.ContentType)
	if err != nil {
		slog.Warn("Dropping malformed document",
			"queue", p.queue,
			"content_type", msg.ContentType,
			"error", err,
		)
		p.metrics.RecordDropped()
		return true, nil
	}

	attempt := 0
	err = retry.WithRetry(ctx, p.retryCfg, "consume "+doc.DocID, IsRetryable, func() error {
		if attempt > 0 {
			p.metrics.IncrementCustom("documents_retried")
		}
		attempt++
		return p.consume(ctx, doc)
	})
	switch {
	case err == nil:
		p.metrics.RecordProcessed(time.Since(startTime))
		return true, nil
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		return false, nil
	case IsRetryable(err):
		slog.Error("Document retries exhausted; stopping without commit",
			"queue", p.queue,
			"doc_id", doc.DocID,
			"collection", doc.Collection,
			"attempts", attempt,
			"error", err,
		)
		p.metrics.RecordError()
		return false, fmt.Errorf("document %s: %w", doc.DocID, err)
	default:
		slog.Error("Document processing failed",
			"queue", p.queue,
			"doc_id", doc.DocID,
			"collection", doc.Collection,
			"error", err,
		)
		p.metrics.RecordError()
		return true, nil
	}
}
