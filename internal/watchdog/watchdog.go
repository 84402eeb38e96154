// Package watchdog evaluates documents against ranked triggers and persists the
// resulting alerts, suppressing repeats through an optional muzzle.
package watchdog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/adamstauffer/cyphon/internal/alert"
	"github.com/adamstauffer/cyphon/internal/document"
	"github.com/adamstauffer/cyphon/internal/events"
)

// Outcome is the terminal state of one Watchdog evaluation.
type Outcome int

const (
	NoAlert    Outcome = iota // disabled, or no trigger matched
	Suppressed                // muzzled; a prior alert's incidents was incremented
	Persisted                 // a new alert was inserted
)

func (o Outcome) String() string {
	switch o {
	case Suppressed:
		return "suppressed"
	case Persisted:
		return "persisted"
	default:
		return "no_alert"
	}
}

// Watchdog raises alerts for the documents its triggers match.
type Watchdog struct {
	Name       string
	Enabled    bool
	Triggers   []*Trigger // sorted by rank
	Muzzle     *Muzzle    // optional
	Categories []string   // empty means every source

	store alert.Store
	bus   *events.Bus
	now   func() time.Time
}

// Option configures a Watchdog.
type Option func(*Watchdog)

// WithMuzzle attaches a muzzle.
func WithMuzzle(m *Muzzle) Option {
	return func(w *Watchdog) { w.Muzzle = m }
}

// WithCategories restricts the watchdog to sources in any of the categories.
func WithCategories(categories ...string) Option {
	return func(w *Watchdog) { w.Categories = categories }
}

// WithBus publishes AlertCreated on bus after each committed insert.
func WithBus(bus *events.Bus) Option {
	return func(w *Watchdog) { w.bus = bus }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(w *Watchdog) { w.now = now }
}

// NewWatchdog creates an enabled watchdog. Triggers are validated and sorted by rank.
func NewWatchdog(name string, triggers []*Trigger, store alert.Store, opts ...Option) (*Watchdog, error) {
	if name == "" {
		return nil, fmt.Errorf("watchdog name cannot be empty")
	}
	if store == nil {
		return nil, fmt.Errorf("watchdog %s: store cannot be nil", name)
	}
	sorted, err := sortTriggers(name, triggers)
	if err != nil {
		return nil, err
	}

	w := &Watchdog{
		Name:     name,
		Enabled:  true,
		Triggers: sorted,
		store:    store,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Inspect returns the level of the first trigger, in rank order, whose sieve matches data.
func (w *Watchdog) Inspect(data map[string]any) (alert.Level, bool) {
	for _, t := range w.Triggers {
		if t.Sieve.IsMatch(data) {
			return t.Level, true
		}
	}
	return "", false
}

// Process evaluates doc and returns the alert it persisted, or nil when no trigger
// matched or the muzzle suppressed it.
func (w *Watchdog) Process(ctx context.Context, doc *document.Document) (*alert.Alert, error) {
	_, a, err := w.Evaluate(ctx, doc)
	return a, err
}

// Evaluate is Process with the outcome reported.
//
// The muzzle check and the insert run in one Store.WithLock unit of work keyed on
// (source, level, watchdog), so concurrent duplicates serialize and the later ones
// observe the alert the first one inserted.
func (w *Watchdog) Evaluate(ctx context.Context, doc *document.Document) (Outcome, *alert.Alert, error) {
	if !w.Enabled {
		return NoAlert, nil, nil
	}
	level, ok := w.Inspect(doc.Data)
	if !ok {
		return NoAlert, nil, nil
	}

	key := alert.LockKey{Source: doc.Collection, Level: level, Watchdog: w.Name}
	var (
		created *alert.Alert
		muzzled bool
	)
	err := w.store.WithLock(ctx, key, func(ctx context.Context, tx alert.Tx) error {
		created, muzzled = nil, false
		now := w.now()
		candidate := &alert.Alert{
			Level:     level,
			Watchdog:  w.Name,
			Source:    doc.Collection,
			DocID:     doc.DocID,
			Data:      doc.Data,
			Incidents: 1,
			CreatedAt: now,
		}

		matched, err := w.Muzzle.IsMatch(ctx, tx, candidate, now)
		if err != nil {
			return err
		}
		if matched {
			muzzled = true
			return nil
		}

		if err := tx.Insert(ctx, candidate); err != nil {
			return err
		}
		created = candidate
		return nil
	})
	if err != nil {
		if errors.Is(err, alert.ErrDuplicateAlert) {
			slog.Error("Duplicate alert insert despite lock, check lock scope",
				"watchdog", w.Name,
				"level", level,
				"collection", doc.Collection,
				"doc_id", doc.DocID,
				"error", err,
			)
		}
		return NoAlert, nil, fmt.Errorf("watchdog %s: %w", w.Name, err)
	}

	if muzzled {
		return Suppressed, nil, nil
	}

	slog.Info("Created alert",
		"alert_id", created.ID,
		"watchdog", w.Name,
		"level", level,
		"collection", doc.Collection,
		"doc_id", doc.DocID,
	)
	if w.bus != nil {
		w.bus.Publish(ctx, events.NewAlertCreated(created))
	}
	return Persisted, created, nil
}
