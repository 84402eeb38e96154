// Package metrics collects per-worker pipeline counters and publishes them to Redis
// so every worker's state can be read from one place.
package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// KeyPrefix is the Redis key prefix for worker metrics.
	KeyPrefix = "metrics:"
	// TTL is how long metrics stay in Redis if not refreshed.
	TTL = 2 * time.Minute
	// DefaultReportInterval is the default interval for writing metrics to Redis.
	DefaultReportInterval = 30 * time.Second
)

// Snapshot is the serialized state of one worker's counters.
type Snapshot struct {
	Service     string    `json:"service"`
	StartedAt   time.Time `json:"started_at"`
	LastUpdated time.Time `json:"last_updated"`
	Status      string    `json:"status"` // "healthy" or "stale"

	DocumentsReceived  uint64 `json:"documents_received"`
	DocumentsProcessed uint64 `json:"documents_processed"`
	DocumentsDropped   uint64 `json:"documents_dropped"`
	ProcessingErrors   uint64 `json:"processing_errors"`

	DocumentsPerSecond     float64 `json:"documents_per_second"`
	AvgProcessingLatencyNs float64 `json:"avg_processing_latency_ns"`

	Counters map[string]uint64 `json:"counters,omitempty"`
}

// Collector accumulates counters in memory and flushes them to Redis periodically.
type Collector struct {
	service        string
	redis          *redis.Client
	startedAt      time.Time
	reportInterval time.Duration

	received  atomic.Uint64
	processed atomic.Uint64
	dropped   atomic.Uint64
	errors    atomic.Uint64

	latencyTotalNs atomic.Uint64
	latencyCount   atomic.Uint64

	// guarded by rateMu; only the reporting goroutine writes them
	rateMu        sync.Mutex
	lastReport    time.Time
	lastProcessed uint64

	countersMu sync.RWMutex
	counters   map[string]*atomic.Uint64

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewCollector creates a collector for the named service. A nil client keeps the
// counters in memory only.
func NewCollector(service string, client *redis.Client) *Collector {
	now := time.Now().UTC()
	return &Collector{
		service:        service,
		redis:          client,
		startedAt:      now,
		reportInterval: DefaultReportInterval,
		lastReport:     now,
		counters:       make(map[string]*atomic.Uint64),
		stopCh:         make(chan struct{}),
	}
}

// SetReportInterval sets the interval for writing metrics to Redis.
func (c *Collector) SetReportInterval(interval time.Duration) {
	if interval > 0 {
		c.reportInterval = interval
	}
}

// Start begins the periodic flush. It returns immediately.
func (c *Collector) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.reportInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				c.flush(context.Background())
				return
			case <-c.stopCh:
				c.flush(context.Background())
				return
			case <-ticker.C:
				c.flush(ctx)
			}
		}
	}()
}

// Stop stops the periodic flush after a final write.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

// RecordReceived counts a document pulled from the queue.
func (c *Collector) RecordReceived() { c.received.Add(1) }

// RecordProcessed counts a handled document and its latency.
func (c *Collector) RecordProcessed(latency time.Duration) {
	c.processed.Add(1)
	c.latencyTotalNs.Add(uint64(latency.Nanoseconds()))
	c.latencyCount.Add(1)
}

// RecordDropped counts a payload that could not be decoded.
func (c *Collector) RecordDropped() { c.dropped.Add(1) }

// RecordError counts a processing failure.
func (c *Collector) RecordError() { c.errors.Add(1) }

// IncrementCustom increments a named counter.
func (c *Collector) IncrementCustom(name string) { c.counter(name).Add(1) }

// AddCustom adds a value to a named counter.
func (c *Collector) AddCustom(name string, value uint64) { c.counter(name).Add(value) }

func (c *Collector) counter(name string) *atomic.Uint64 {
	c.countersMu.RLock()
	ctr, ok := c.counters[name]
	c.countersMu.RUnlock()
	if ok {
		return ctr
	}

	c.countersMu.Lock()
	defer c.countersMu.Unlock()
	if ctr, ok = c.counters[name]; !ok {
		ctr = &atomic.Uint64{}
		c.counters[name] = ctr
	}
	return ctr
}

// Snapshot returns the current counters without writing to Redis.
func (c *Collector) Snapshot() *Snapshot {
	now := time.Now().UTC()
	processed := c.processed.Load()

	c.rateMu.Lock()
	elapsed := now.Sub(c.lastReport).Seconds()
	last := c.lastProcessed
	c.rateMu.Unlock()

	var rate float64
	if elapsed > 0 && processed >= last {
		rate = float64(processed-last) / elapsed
	}

	var avgLatency float64
	if n := c.latencyCount.Load(); n > 0 {
		avgLatency = float64(c.latencyTotalNs.Load()) / float64(n)
	}

	c.countersMu.RLock()
	counters := make(map[string]uint64, len(c.counters))
	for name, ctr := range c.counters {
		counters[name] = ctr.Load()
	}
	c.countersMu.RUnlock()

	return &Snapshot{
		Service:                c.service,
		StartedAt:              c.startedAt,
		LastUpdated:            now,
		Status:                 "healthy",
		DocumentsReceived:      c.received.Load(),
		DocumentsProcessed:     processed,
		DocumentsDropped:       c.dropped.Load(),
		ProcessingErrors:       c.errors.Load(),
		DocumentsPerSecond:     rate,
		AvgProcessingLatencyNs: avgLatency,
		Counters:               counters,
	}
}

func (c *Collector) flush(ctx context.Context) {
	snap := c.Snapshot()

	c.rateMu.Lock()
	c.lastReport = snap.LastUpdated
	c.lastProcessed = snap.DocumentsProcessed
	c.rateMu.Unlock()

	if c.redis == nil {
		return
	}

	data, err := json.Marshal(snap)
	if err != nil {
		slog.Error("Failed to marshal metrics", "service", c.service, "error", err)
		return
	}

	key := KeyPrefix + c.service
	if err := c.redis.Set(ctx, key, data, TTL).Err(); err != nil {
		slog.Error("Failed to write metrics to Redis", "service", c.service, "error", err)
		return
	}
	slog.Debug("Metrics written to Redis", "service", c.service, "key", key)
}

// Reader reads worker metrics back from Redis.
type Reader struct {
	redis *redis.Client
}

// NewReader creates a new metrics reader.
func NewReader(client *redis.Client) *Reader {
	return &Reader{redis: client}
}

// Get retrieves the metrics of one service. Metrics older than TTL are reported as stale.
func (r *Reader) Get(ctx context.Context, service string) (*Snapshot, error) {
	data, err := r.redis.Get(ctx, KeyPrefix+service).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("no metrics found for service: %s", service)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read metrics: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metrics: %w", err)
	}
	if time.Since(snap.LastUpdated) > TTL {
		snap.Status = "stale"
	}
	return &snap, nil
}

// Services lists the service names that currently have metrics in Redis, sorted.
func (r *Reader) Services(ctx context.Context) ([]string, error) {
	var names []string
	iter := r.redis.Scan(ctx, 0, KeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		names = append(names, strings.TrimPrefix(iter.Val(), KeyPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to list metrics keys: %w", err)
	}
	sort.Strings(names)
	return names, nil
}
