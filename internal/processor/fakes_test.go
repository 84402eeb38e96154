package processor

import (
	"context"
	"sync"
	"time"

	"github.com/adamstauffer/cyphon/internal/consumer"
)

// FakeReader is a test fake for MessageReader. Once its messages are exhausted it
// calls Cancel (when set) and blocks until ctx is done.
type FakeReader struct {
	Messages   []*consumer.Message
	CommitErr  error
	Cancel     context.CancelFunc
	ReadIndex  int
	Committed  []*consumer.Message
	ReadCalled int
	Closed     bool
}

func (f *FakeReader) ReadMessage(ctx context.Context) (*consumer.Message, error) {
	f.ReadCalled++
	if f.ReadIndex >= len(f.Messages) {
		if f.Cancel != nil {
			f.Cancel()
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}
	msg := f.Messages[f.ReadIndex]
	f.ReadIndex++
	return msg, nil
}

func (f *FakeReader) CommitMessage(ctx context.Context, msg *consumer.Message) error {
	if f.CommitErr != nil {
		return f.CommitErr
	}
	f.Committed = append(f.Committed, msg)
	return nil
}

func (f *FakeReader) Close() error {
	f.Closed = true
	return nil
}

// FakeMetrics is a test fake for MetricsRecorder that tracks calls.
type FakeMetrics struct {
	mu                 sync.Mutex
	ReceivedCount      int
	ProcessedCount     int
	DroppedCount       int
	ErrorCount         int
	CustomIncrements   map[string]uint64
	ProcessedLatencies []time.Duration
}

func NewFakeMetrics() *FakeMetrics {
	return &FakeMetrics{
		CustomIncrements: make(map[string]uint64),
	}
}

func (f *FakeMetrics) RecordReceived() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ReceivedCount++
}

func (f *FakeMetrics) RecordProcessed(latency time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ProcessedCount++
	f.ProcessedLatencies = append(f.ProcessedLatencies, latency)
}

func (f *FakeMetrics) RecordDropped() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DroppedCount++
}

func (f *FakeMetrics) RecordError() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ErrorCount++
}

func (f *FakeMetrics) IncrementCustom(name string) {
	f.AddCustom(name, 1)
}

func (f *FakeMetrics) AddCustom(name string, value uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CustomIncrements[name] += value
}
