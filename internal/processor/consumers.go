package processor

import (
	"context"
	"errors"
	"fmt"

	"github.com/adamstauffer/cyphon/internal/document"
	"github.com/adamstauffer/cyphon/internal/munger"
	"github.com/adamstauffer/cyphon/internal/pipeline"
)

// Queue types.
const (
	QueueIngest = "ingest"
	QueueAlerts = "alerts"
)

// Consumers returns the consume function for each queue type. Both read the current
// pipeline from holder on every document, so a reload takes effect on the next one.
func Consumers(holder *pipeline.Holder, m MetricsRecorder) map[string]ConsumeFunc {
	if m == nil {
		m = &NoOpMetrics{}
	}
	return map[string]ConsumeFunc{
		QueueIngest: ingestConsumer(holder, m),
		QueueAlerts: alertsConsumer(holder, m),
	}
}

// Lookup returns the consume function for queue.
func Lookup(consumers map[string]ConsumeFunc, queue string) (ConsumeFunc, error) {
	fn, ok := consumers[queue]
	if !ok {
		return nil, fmt.Errorf("unknown queue type: %s", queue)
	}
	return fn, nil
}

// ingestConsumer runs documents through the chutes. Store failures are retried,
// since record stores are idempotent per document.
func ingestConsumer(holder *pipeline.Holder, m MetricsRecorder) ConsumeFunc {
	return func(ctx context.Context, doc *document.Document) error {
		res := holder.Get().Sifter.Process(ctx, doc)
		m.AddCustom("records_saved", uint64(len(res.RecordIDs)))
		if res.Matched == 0 && !res.UsedDefault {
			m.IncrementCustom("documents_unmatched")
		}
		if len(res.Errors) == 0 {
			return nil
		}
		err := errors.Join(res.Errors...)
		var storageErr *munger.StorageError
		if errors.As(err, &storageErr) {
			return &RetryableError{Err: err}
		}
		return err
	}
}

// alertsConsumer runs documents through the relevant watchdogs.
func alertsConsumer(holder *pipeline.Holder, m MetricsRecorder) ConsumeFunc {
	return func(ctx context.Context, doc *document.Document) error {
		res := holder.Get().Manager.Process(ctx, doc)
		m.AddCustom("alerts_created", uint64(len(res.Alerts)))
		m.AddCustom("alerts_suppressed", uint64(res.Suppressed))
		if len(res.Errors) == 0 {
			return nil
		}
		err := errors.Join(res.Errors...)
		if res.Retryable() {
			return &RetryableError{Err: err}
		}
		return err
	}
}
