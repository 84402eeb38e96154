// Package processor dispatches queued documents to the ingestion or alerting pipeline.
package processor

import (
	"context"
	"errors"

	"github.com/adamstauffer/cyphon/internal/consumer"
	"github.com/adamstauffer/cyphon/internal/document"
)

// MessageReader reads raw document messages from a queue.
type MessageReader interface {
	// ReadMessage reads the next message without committing it.
	ReadMessage(ctx context.Context) (*consumer.Message, error)

	// CommitMessage commits the offset for the given message.
	CommitMessage(ctx context.Context, msg *consumer.Message) error

	// Close closes the reader and releases resources.
	Close() error
}

// ConsumeFunc handles one decoded document.
//
// A nil error or a plain error commits the message. A *RetryableError makes the
// processor consume the same document again before reading anything after it.
type ConsumeFunc func(ctx context.Context, doc *document.Document) error

// RetryableError marks a failure that consuming the document again may fix.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return "retryable: " + e.Err.Error() }

func (e *RetryableError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is, or wraps, a *RetryableError.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}
