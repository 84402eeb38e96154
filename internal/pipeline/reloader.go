package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultPollInterval is how often a Reloader checks the snapshot version.
const DefaultPollInterval = 5 * time.Second

// Holder gives concurrent readers the current pipeline and lets a reloader swap it.
type Holder struct {
	mu       sync.RWMutex
	pipeline *Pipeline
	version  int64
}

// NewHolder creates a holder with an initial pipeline.
func NewHolder(p *Pipeline, version int64) *Holder {
	return &Holder{pipeline: p, version: version}
}

// Get returns the current pipeline.
func (h *Holder) Get() *Pipeline {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.pipeline
}

// Version returns the version of the current pipeline.
func (h *Holder) Version() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.version
}

// Swap replaces the current pipeline.
func (h *Holder) Swap(p *Pipeline, version int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pipeline = p
	h.version = version
}

// ConfigSource provides versioned configurations. SnapshotLoader implements it.
type ConfigSource interface {
	GetVersion(ctx context.Context) (int64, error)
	LoadConfig(ctx context.Context) (*Config, error)
}

// CompileFunc builds a pipeline from a configuration.
type CompileFunc func(cfg *Config) (*Pipeline, error)

// Reloader polls a ConfigSource and swaps in a freshly compiled pipeline when the
// version changes. A configuration that fails to load or compile leaves the current
// pipeline in place.
type Reloader struct {
	source       ConfigSource
	compile      CompileFunc
	holder       *Holder
	pollInterval time.Duration
}

// NewReloader creates a reloader.
func NewReloader(source ConfigSource, compile CompileFunc, holder *Holder, pollInterval time.Duration) *Reloader {
	return &Reloader{
		source:       source,
		compile:      compile,
		holder:       holder,
		pollInterval: pollInterval,
	}
}

// Start polls in a background goroutine until ctx is cancelled.
func (r *Reloader) Start(ctx context.Context) {
	slog.Info("Starting pipeline version poller",
		"poll_interval", r.pollInterval,
		"initial_version", r.holder.Version(),
	)
	go r.pollLoop(ctx)
}

func (r *Reloader) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Pipeline version poller stopped")
			return
		case <-ticker.C:
			if _, err := r.ReloadNow(ctx); err != nil {
				slog.Error("Failed to reload pipeline", "error", err)
			}
		}
	}
}

// ReloadNow checks the version once and reloads if it changed. It reports whether
// a new pipeline was installed.
func (r *Reloader) ReloadNow(ctx context.Context) (bool, error) {
	version, err := r.source.GetVersion(ctx)
	if err != nil {
		return false, err
	}
	current := r.holder.Version()
	if version == current {
		return false, nil
	}

	slog.Info("Pipeline version changed, reloading",
		"old_version", current,
		"new_version", version,
	)

	cfg, err := r.source.LoadConfig(ctx)
	if err != nil {
		return false, err
	}
	p, err := r.compile(cfg)
	if err != nil {
		return false, err
	}
	r.holder.Swap(p, version)

	slog.Info("Pipeline reloaded successfully",
		"version", version,
		"chutes", len(p.Sifter.Chutes()),
		"watchdogs", len(p.Manager.Watchdogs),
	)
	return true, nil
}
