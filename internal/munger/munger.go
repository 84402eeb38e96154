// Package munger condenses documents and persists the normalized records.
package munger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/adamstauffer/cyphon/internal/condenser"
	"github.com/adamstauffer/cyphon/internal/document"
)

// ErrNotFound is returned by RecordStore.FindByID for an unknown id.
var ErrNotFound = errors.New("record not found")

// Record is a normalized document stored by a Munger.
type Record struct {
	ID         string
	Distillery string // destination the munger writes to
	DocID      string
	Collection string
	Platform   string
	Data       map[string]any
	CreatedAt  time.Time
}

// RecordStore persists normalized records.
//
// Save must be idempotent on (Distillery, Collection, DocID): saving a duplicate
// returns the id of the record already stored instead of writing a second one.
type RecordStore interface {
	Save(ctx context.Context, rec *Record) (string, error)
	FindByID(ctx context.Context, id string) (*Record, error)
}

// StorageError wraps a RecordStore failure with the munger and document involved.
type StorageError struct {
	Munger string
	DocID  string
	Err    error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("munger %s: failed to store document %s: %v", e.Munger, e.DocID, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Platform adjusts raw data for the system that produced it before condensing.
type Platform interface {
	Name() string
	Prepare(data map[string]any) map[string]any
}

// Munger binds a condenser to a destination store.
type Munger struct {
	Name       string
	Distillery string
	Condenser  *condenser.Condenser
	Store      RecordStore
}

// New creates a Munger.
func New(name, distillery string, c *condenser.Condenser, store RecordStore) (*Munger, error) {
	if name == "" {
		return nil, fmt.Errorf("munger name cannot be empty")
	}
	if distillery == "" {
		return nil, fmt.Errorf("munger %s: distillery cannot be empty", name)
	}
	if c == nil {
		return nil, fmt.Errorf("munger %s: condenser cannot be nil", name)
	}
	if store == nil {
		return nil, fmt.Errorf("munger %s: store cannot be nil", name)
	}
	return &Munger{Name: name, Distillery: distillery, Condenser: c, Store: store}, nil
}

// Process condenses doc and saves the result, returning the store-assigned id.
// platform may be nil.
func (m *Munger) Process(ctx context.Context, doc *document.Document, platform Platform) (string, error) {
	data := doc.Data
	var platformName string
	if platform != nil {
		data = platform.Prepare(data)
		platformName = platform.Name()
	}

	bottle, err := m.Condenser.Process(data)
	if err != nil {
		return "", fmt.Errorf("munger %s: failed to condense document %s: %w", m.Name, doc.DocID, err)
	}

	id, err := m.Store.Save(ctx, &Record{
		Distillery: m.Distillery,
		DocID:      doc.DocID,
		Collection: doc.Collection,
		Platform:   platformName,
		Data:       bottle,
	})
	if err != nil {
		return "", &StorageError{Munger: m.Name, DocID: doc.DocID, Err: err}
	}

	slog.Debug("Saved record",
		"munger", m.Name,
		"record_id", id,
		"doc_id", doc.DocID,
		"collection", doc.Collection,
	)
	return id, nil
}
