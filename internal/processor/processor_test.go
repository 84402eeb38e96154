package processor

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/adamstauffer/cyphon/internal/alert"
	"github.com/adamstauffer/cyphon/internal/consumer"
	"github.com/adamstauffer/cyphon/internal/document"
	"github.com/adamstauffer/cyphon/internal/munger"
	"github.com/adamstauffer/cyphon/internal/pipeline"
	"github.com/adamstauffer/cyphon/internal/retry"
)

func jsonMessage(t *testing.T, data map[string]any) *consumer.Message {
	t.Helper()
	b, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	return &consumer.Message{Value: b, ContentType: document.ContentTypeJSON}
}

func fastRetry(maxRetries int) retry.Config {
	return retry.Config{MaxRetries: maxRetries, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, BackoffFactor: 1}
}

func TestProcessor_Run(t *testing.T) {
	ok := jsonMessage(t, map[string]any{"@uuid": "ok"})
	retryable := jsonMessage(t, map[string]any{"@uuid": "retry"})
	failing := jsonMessage(t, map[string]any{"@uuid": "fail"})
	malformed := &consumer.Message{Value: []byte("{not json"), ContentType: document.ContentTypeJSON}

	var (
		seen       []string
		retryCalls int
		reader     *FakeReader
	)
	consume := func(_ context.Context, doc *document.Document) error {
		seen = append(seen, doc.DocID)
		switch doc.DocID {
		case "retry":
			if len(reader.Committed) != 2 {
				t.Errorf("consuming retry with %d commits, want 2", len(reader.Committed))
			}
			retryCalls++
			if retryCalls < 3 {
				return &RetryableError{Err: alert.ErrLockTimeout}
			}
		case "fail":
			return errors.New("condense failed")
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	reader = &FakeReader{Messages: []*consumer.Message{ok, malformed, retryable, failing}, Cancel: cancel}
	m := NewFakeMetrics()
	p := NewProcessorWithMetrics("test", reader, consume, m)
	p.SetRetryConfig(fastRetry(retry.Unlimited))
	if err := p.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := strings.Join(seen, ","); got != "ok,retry,retry,retry,fail" {
		t.Errorf("consumed = %s, want ok,retry,retry,retry,fail", got)
	}
	want := []*consumer.Message{ok, malformed, retryable, failing}
	if len(reader.Committed) != len(want) {
		t.Fatalf("committed %d messages, want %d", len(reader.Committed), len(want))
	}
	for i := range want {
		if reader.Committed[i] != want[i] {
			t.Errorf("commit %d out of order", i)
		}
	}
	if m.ReceivedCount != 4 || m.ProcessedCount != 2 || m.DroppedCount != 1 || m.ErrorCount != 1 {
		t.Errorf("metrics = received %d, processed %d, dropped %d, errors %d; want 4, 2, 1, 1",
			m.ReceivedCount, m.ProcessedCount, m.DroppedCount, m.ErrorCount)
	}
	if m.CustomIncrements["documents_retried"] != 2 {
		t.Errorf("documents_retried = %d, want 2", m.CustomIncrements["documents_retried"])
	}
}

func TestProcessor_RunStopsWhenRetriesExhausted(t *testing.T) {
	stuck := jsonMessage(t, map[string]any{"@uuid": "stuck"})
	later := jsonMessage(t, map[string]any{"@uuid": "later"})

	var seen []string
	consume := func(_ context.Context, doc *document.Document) error {
		seen = append(seen, doc.DocID)
		if doc.DocID == "stuck" {
			return &RetryableError{Err: alert.ErrLockTimeout}
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	reader := &FakeReader{Messages: []*consumer.Message{stuck, later}, Cancel: cancel}
	p := NewProcessor("test", reader, consume)
	p.SetRetryConfig(fastRetry(1))

	err := p.Run(ctx)

	if !errors.Is(err, alert.ErrLockTimeout) {
		t.Errorf("Run() error = %v, want lock timeout", err)
	}
	if got := strings.Join(seen, ","); got != "stuck,stuck" {
		t.Errorf("consumed = %s, want stuck,stuck", got)
	}
	if len(reader.Committed) != 0 {
		t.Errorf("committed %d messages, want 0", len(reader.Committed))
	}
	if reader.ReadIndex != 1 {
		t.Errorf("read %d messages, want 1", reader.ReadIndex)
	}
}

func TestProcessor_RunCancelledDuringRetryDoesNotCommit(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stuck := jsonMessage(t, map[string]any{"@uuid": "stuck"})
	reader := &FakeReader{Messages: []*consumer.Message{stuck}}
	consume := func(context.Context, *document.Document) error {
		cancel()
		return &RetryableError{Err: alert.ErrLockTimeout}
	}
	p := NewProcessor("test", reader, consume)
	p.SetRetryConfig(fastRetry(retry.Unlimited))

	if err := p.Run(ctx); err != nil {
		t.Errorf("Run() error = %v", err)
	}
	if len(reader.Committed) != 0 {
		t.Errorf("committed %d messages, want 0", len(reader.Committed))
	}
}

func TestProcessor_RunStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reader := &FakeReader{Messages: []*consumer.Message{{Value: []byte(`{}`)}}}
	if err := NewProcessor("test", reader, nil).Run(ctx); err != nil {
		t.Errorf("Run() error = %v", err)
	}
	if reader.ReadCalled != 0 {
		t.Errorf("ReadCalled = %d, want 0", reader.ReadCalled)
	}
}

func TestIsRetryable(t *testing.T) {
	wrapped := errors.Join(errors.New("other"), &RetryableError{Err: alert.ErrLockTimeout})
	if !IsRetryable(wrapped) {
		t.Error("IsRetryable(joined) = false, want true")
	}
	if !errors.Is(wrapped, alert.ErrLockTimeout) {
		t.Error("RetryableError does not unwrap")
	}
	if IsRetryable(errors.New("plain")) {
		t.Error("IsRetryable(plain) = true, want false")
	}
}

// failingRecords is a RecordStore whose writes always fail.
type failingRecords struct{}

func (failingRecords) Save(context.Context, *munger.Record) (string, error) {
	return "", errors.New("connection refused")
}

func (failingRecords) FindByID(context.Context, string) (*munger.Record, error) {
	return nil, munger.ErrNotFound
}

// lockedStore is an alert store whose lock can never be acquired.
type lockedStore struct{ attempts atomic.Int32 }

func (s *lockedStore) WithLock(context.Context, alert.LockKey, func(context.Context, alert.Tx) error) error {
	s.attempts.Add(1)
	return alert.ErrLockTimeout
}

func (s *lockedStore) Get(context.Context, string) (*alert.Alert, error) {
	return nil, alert.ErrNotFound
}

func newHolder(t *testing.T, deps pipeline.Deps) *pipeline.Holder {
	t.Helper()
	cfg, err := pipeline.LoadFile("../pipeline/testdata/pipeline.yaml")
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	p, err := pipeline.Compile(cfg, deps)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	p.Manager.SetRetryConfig(retry.Config{MaxRetries: 1, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, BackoffFactor: 1})
	return pipeline.NewHolder(p, 1)
}

func opsMail(id string) *document.Document {
	return document.New(map[string]any{
		"from":    "alice@ops.example.com",
		"to":      "oncall",
		"subject": "[CRIT-111] disk full",
	}, id, "imap.inbox")
}

func TestConsumers_Ingest(t *testing.T) {
	ctx := context.Background()
	records := munger.NewMemoryStore()
	m := NewFakeMetrics()
	consume, err := Lookup(Consumers(newHolder(t, pipeline.Deps{Records: records, Alerts: alert.NewMemoryStore(0)}), m), QueueIngest)
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}

	if err := consume(ctx, opsMail("mail-1")); err != nil {
		t.Fatalf("consume() error = %v", err)
	}
	if err := consume(ctx, document.New(map[string]any{"message": "cron ran"}, "log-1", "syslog.auth")); err != nil {
		t.Fatalf("consume() error = %v", err)
	}

	if records.Len() != 2 {
		t.Errorf("records = %d, want 2", records.Len())
	}
	if m.CustomIncrements["records_saved"] != 2 {
		t.Errorf("records_saved = %d, want 2", m.CustomIncrements["records_saved"])
	}
}

func TestConsumers_IngestStorageFailureIsRetryable(t *testing.T) {
	consumers := Consumers(newHolder(t, pipeline.Deps{Records: failingRecords{}, Alerts: alert.NewMemoryStore(0)}), nil)

	err := consumers[QueueIngest](context.Background(), opsMail("mail-1"))

	if !IsRetryable(err) {
		t.Fatalf("consume() error = %v, want retryable", err)
	}
	var storageErr *munger.StorageError
	if !errors.As(err, &storageErr) {
		t.Errorf("consume() error = %v, want *munger.StorageError", err)
	}
}

func TestConsumers_Alerts(t *testing.T) {
	ctx := context.Background()
	alerts := alert.NewMemoryStore(0)
	m := NewFakeMetrics()
	consume := Consumers(newHolder(t, pipeline.Deps{Records: munger.NewMemoryStore(), Alerts: alerts}), m)[QueueAlerts]

	for _, id := range []string{"mail-1", "mail-2"} {
		if err := consume(ctx, opsMail(id)); err != nil {
			t.Fatalf("consume(%s) error = %v", id, err)
		}
	}

	all := alerts.All()
	if len(all) != 1 {
		t.Fatalf("alerts = %d, want 1", len(all))
	}
	if all[0].Level != alert.Critical || all[0].Incidents != 2 {
		t.Errorf("alert = %s with %d incidents, want CRITICAL with 2", all[0].Level, all[0].Incidents)
	}
	if m.CustomIncrements["alerts_created"] != 1 || m.CustomIncrements["alerts_suppressed"] != 1 {
		t.Errorf("custom metrics = %v", m.CustomIncrements)
	}
}

func TestConsumers_AlertsLockTimeoutIsRetryable(t *testing.T) {
	store := &lockedStore{}
	consume := Consumers(newHolder(t, pipeline.Deps{Records: munger.NewMemoryStore(), Alerts: store}), nil)[QueueAlerts]

	err := consume(context.Background(), opsMail("mail-1"))

	if !IsRetryable(err) || !errors.Is(err, alert.ErrLockTimeout) {
		t.Errorf("consume() error = %v, want retryable lock timeout", err)
	}
	if got := store.attempts.Load(); got != 2 {
		t.Errorf("lock attempts = %d, want 2", got)
	}
}

func TestLookup_Unknown(t *testing.T) {
	if _, err := Lookup(map[string]ConsumeFunc{}, "billing"); err == nil || err.Error() != "unknown queue type: billing" {
		t.Errorf("Lookup() error = %v", err)
	}
}

func TestPool_Run(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	const workers = 3
	readers := make([]*FakeReader, workers)
	for i := range readers {
		readers[i] = &FakeReader{Messages: []*consumer.Message{
			jsonMessage(t, map[string]any{"@uuid": "a"}),
			jsonMessage(t, map[string]any{"@uuid": "b"}),
		}}
	}

	var consumed atomic.Int32
	consume := func(context.Context, *document.Document) error {
		if consumed.Add(1) == 2*workers {
			cancel()
		}
		return nil
	}

	pool := NewPool("ingest", workers, func(i int) (MessageReader, error) { return readers[i], nil }, consume, nil)
	if err := pool.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	for i, r := range readers {
		if !r.Closed {
			t.Errorf("reader %d was not closed", i)
		}
		if len(r.Committed) != 2 {
			t.Errorf("reader %d committed %d messages, want 2", i, len(r.Committed))
		}
	}
}

func TestPool_ReaderFailureStopsWorkers(t *testing.T) {
	healthy := &FakeReader{}
	pool := NewPool("alerts", 2, func(i int) (MessageReader, error) {
		if i == 1 {
			return nil, errors.New("broker unavailable")
		}
		return healthy, nil
	}, nil, nil)

	err := pool.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "worker 1") {
		t.Errorf("Run() error = %v, want worker 1 failure", err)
	}
}
