// Package chute routes documents to mungers through sieves.
package chute

import (
	"context"
	"fmt"
	"slices"

	"github.com/adamstauffer/cyphon/internal/document"
	"github.com/adamstauffer/cyphon/internal/munger"
	"github.com/adamstauffer/cyphon/internal/sieve"
)

// Chute sends documents that pass its sieve to its munger.
type Chute struct {
	Name     string
	Sieve    *sieve.Sieve // nil matches every document
	Munger   *munger.Munger
	Platform munger.Platform // optional
	Enabled  bool
	Sources  []string // collections the chute serves; empty serves all
}

// New creates an enabled chute.
func New(name string, s *sieve.Sieve, m *munger.Munger, platform munger.Platform) (*Chute, error) {
	if name == "" {
		return nil, fmt.Errorf("chute name cannot be empty")
	}
	if m == nil {
		return nil, fmt.Errorf("chute %s: munger cannot be nil", name)
	}
	return &Chute{Name: name, Sieve: s, Munger: m, Platform: platform, Enabled: true}, nil
}

// AppliesTo reports whether the chute serves documents from collection.
func (c *Chute) AppliesTo(collection string) bool {
	return len(c.Sources) == 0 || slices.Contains(c.Sources, collection)
}

// Matches reports whether the chute is enabled and its sieve accepts the data.
func (c *Chute) Matches(data map[string]any) bool {
	return c.Enabled && c.Sieve.IsMatch(data)
}

// Process munges doc if it matches. matched is false when the chute is disabled
// or the sieve rejects the document; the id is empty in both cases.
func (c *Chute) Process(ctx context.Context, doc *document.Document) (id string, matched bool, err error) {
	if !c.Matches(doc.Data) {
		return "", false, nil
	}
	id, err = c.Munger.Process(ctx, doc, c.Platform)
	if err != nil {
		return "", true, fmt.Errorf("chute %s: %w", c.Name, err)
	}
	return id, true, nil
}
