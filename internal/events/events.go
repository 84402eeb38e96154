// Package events defines the alert.created event and the in-process bus that delivers it.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/adamstauffer/cyphon/internal/alert"
)

// SchemaVersion is the current AlertCreated schema version.
const SchemaVersion = 1

// AlertCreated is emitted after a new alert has been committed.
type AlertCreated struct {
	AlertID       string `json:"alert_id"`
	SchemaVersion int    `json:"schema_version"`
	Level         string `json:"level"`
	Watchdog      string `json:"watchdog"`
	Source        string `json:"source"`
	DocID         string `json:"doc_id"`
	Incidents     int    `json:"incidents"`
	CreatedAt     int64  `json:"created_at"` // Unix milliseconds
}

// NewAlertCreated builds the event for a persisted alert.
func NewAlertCreated(a *alert.Alert) *AlertCreated {
	return &AlertCreated{
		AlertID:       a.ID,
		SchemaVersion: SchemaVersion,
		Level:         string(a.Level),
		Watchdog:      a.Watchdog,
		Source:        a.Source,
		DocID:         a.DocID,
		Incidents:     a.Incidents,
		CreatedAt:     a.CreatedAt.UnixMilli(),
	}
}

// Time returns CreatedAt as a time.Time.
func (e *AlertCreated) Time() time.Time {
	return time.UnixMilli(e.CreatedAt).UTC()
}

// Handler receives AlertCreated events.
type Handler interface {
	HandleAlertCreated(ctx context.Context, evt *AlertCreated) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, evt *AlertCreated) error

func (f HandlerFunc) HandleAlertCreated(ctx context.Context, evt *AlertCreated) error {
	return f(ctx, evt)
}

// Bus delivers events synchronously, on the publisher's goroutine, to every handler
// in subscription order. A handler error is logged and does not stop delivery.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
}

// NewBus creates a bus with no subscribers.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe appends h to the delivery list.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish delivers evt to all handlers and returns the number that failed.
func (b *Bus) Publish(ctx context.Context, evt *AlertCreated) int {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	failed := 0
	for i, h := range handlers {
		if err := h.HandleAlertCreated(ctx, evt); err != nil {
			failed++
			slog.Error("Alert created handler failed",
				"handler_index", i,
				"alert_id", evt.AlertID,
				"watchdog", evt.Watchdog,
				"error", err,
			)
		}
	}
	return failed
}
