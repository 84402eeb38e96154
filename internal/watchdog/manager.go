package watchdog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/adamstauffer/cyphon/internal/alert"
	"github.com/adamstauffer/cyphon/internal/document"
	"github.com/adamstauffer/cyphon/internal/retry"
)

// Result summarizes what a Manager did with one document.
type Result struct {
	Alerts     []*alert.Alert
	Suppressed int
	Errors     []error
}

// Retryable reports whether any watchdog failed with a retryable error.
func (r Result) Retryable() bool {
	for _, err := range r.Errors {
		if errors.Is(err, alert.ErrLockTimeout) {
			return true
		}
	}
	return false
}

// Manager fans documents out to the watchdogs relevant to their source.
type Manager struct {
	Watchdogs []*Watchdog
	Sources   map[string][]string // collection -> categories

	retryCfg retry.Config
}

// NewManager creates a Manager. sources maps each collection to its categories.
func NewManager(watchdogs []*Watchdog, sources map[string][]string) *Manager {
	if sources == nil {
		sources = map[string][]string{}
	}
	return &Manager{
		Watchdogs: watchdogs,
		Sources:   sources,
		retryCfg:  retry.DefaultConfig(),
	}
}

// SetRetryConfig overrides the lock-timeout retry policy.
func (m *Manager) SetRetryConfig(cfg retry.Config) {
	m.retryCfg = cfg
}

// FindRelevant returns the enabled watchdogs that apply to source: unscoped ones and
// those sharing a category with it.
func (m *Manager) FindRelevant(source string) []*Watchdog {
	categories := make(map[string]bool)
	for _, c := range m.Sources[source] {
		categories[c] = true
	}

	var out []*Watchdog
	for _, w := range m.Watchdogs {
		if !w.Enabled {
			continue
		}
		if len(w.Categories) == 0 {
			out = append(out, w)
			continue
		}
		for _, c := range w.Categories {
			if categories[c] {
				out = append(out, w)
				break
			}
		}
	}
	return out
}

// Process runs doc through every relevant watchdog. A failing watchdog does not stop
// the others; lock timeouts are retried before being reported.
func (m *Manager) Process(ctx context.Context, doc *document.Document) Result {
	var res Result
	for _, w := range m.FindRelevant(doc.Collection) {
		var (
			outcome Outcome
			created *alert.Alert
		)
		op := fmt.Sprintf("watchdog_%s_%s", w.Name, doc.DocID)
		err := retry.WithRetry(ctx, m.retryCfg, op, isLockTimeout, func() error {
			var err error
			outcome, created, err = w.Evaluate(ctx, doc)
			return err
		})
		if err != nil {
			slog.Error("Watchdog failed to process document",
				"watchdog", w.Name,
				"doc_id", doc.DocID,
				"collection", doc.Collection,
				"error", err,
			)
			res.Errors = append(res.Errors, err)
			continue
		}

		switch outcome {
		case Persisted:
			res.Alerts = append(res.Alerts, created)
		case Suppressed:
			res.Suppressed++
		}
	}
	return res
}

func isLockTimeout(err error) bool {
	return errors.Is(err, alert.ErrLockTimeout)
}
