package chute

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/adamstauffer/cyphon/internal/document"
	"github.com/adamstauffer/cyphon/internal/munger"
)

// DefaultMaxConcurrency bounds the number of chutes processed at once per document.
const DefaultMaxConcurrency = 8

// Counter counts named events.
type Counter interface {
	IncrementCustom(name string)
}

type noopCounter struct{}

func (noopCounter) IncrementCustom(string) {}

// Result summarizes what a Sifter did with one document.
type Result struct {
	RecordIDs   []string
	Matched     int
	UsedDefault bool
	Errors      []error
}

type fallbackMunger struct {
	munger  *munger.Munger
	enabled bool
}

// Sifter runs a document through every chute of its source and falls back to the
// source's default munger when none of them matched.
type Sifter struct {
	chutes         []*Chute
	fallback       fallbackMunger
	sourceDefaults map[string]fallbackMunger
	maxConcurrency int
	counter        Counter
}

// SifterOption configures a Sifter.
type SifterOption func(*Sifter)

// WithDefaultMunger sets the fallback munger and whether the fallback is enabled.
// enabled with a nil munger is allowed; the missing munger is reported per document.
func WithDefaultMunger(m *munger.Munger, enabled bool) SifterOption {
	return func(s *Sifter) {
		s.fallback = fallbackMunger{munger: m, enabled: enabled}
	}
}

// WithSourceDefault overrides the fallback munger for documents from source.
func WithSourceDefault(source string, m *munger.Munger, enabled bool) SifterOption {
	return func(s *Sifter) {
		s.sourceDefaults[source] = fallbackMunger{munger: m, enabled: enabled}
	}
}

// WithMaxConcurrency bounds concurrent chute processing; values below 1 are ignored.
func WithMaxConcurrency(n int) SifterOption {
	return func(s *Sifter) {
		if n > 0 {
			s.maxConcurrency = n
		}
	}
}

// WithCounter sets the counter for fallback and failure events.
func WithCounter(c Counter) SifterOption {
	return func(s *Sifter) {
		if c != nil {
			s.counter = c
		}
	}
}

// NewSifter creates a Sifter over chutes.
func NewSifter(chutes []*Chute, opts ...SifterOption) *Sifter {
	s := &Sifter{
		chutes:         chutes,
		sourceDefaults: make(map[string]fallbackMunger),
		maxConcurrency: DefaultMaxConcurrency,
		counter:        noopCounter{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Chutes returns the chutes the sifter dispatches to.
func (s *Sifter) Chutes() []*Chute { return s.chutes }

// Process runs doc through all enabled chutes serving doc.Collection concurrently. A failing chute does not
// stop the others; its error is logged and returned in Result.Errors.
func (s *Sifter) Process(ctx context.Context, doc *document.Document) Result {
	var (
		mu  sync.Mutex
		res Result
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxConcurrency)
	for _, c := range s.chutes {
		if !c.Enabled || !c.AppliesTo(doc.Collection) {
			continue
		}
		g.Go(func() error {
			id, matched, err := c.Process(gctx, doc)

			mu.Lock()
			defer mu.Unlock()
			if matched {
				res.Matched++
			}
			if err != nil {
				slog.Error("Chute failed to process document",
					"chute", c.Name,
					"doc_id", doc.DocID,
					"collection", doc.Collection,
					"error", err,
				)
				s.counter.IncrementCustom("chute_errors")
				res.Errors = append(res.Errors, err)
				return nil
			}
			if matched {
				res.RecordIDs = append(res.RecordIDs, id)
			}
			return nil
		})
	}
	_ = g.Wait()

	if res.Matched == 0 {
		s.runDefault(ctx, doc, &res)
	}
	return res
}

func (s *Sifter) defaultFor(collection string) fallbackMunger {
	if f, ok := s.sourceDefaults[collection]; ok {
		return f
	}
	return s.fallback
}

func (s *Sifter) runDefault(ctx context.Context, doc *document.Document, res *Result) {
	def := s.defaultFor(doc.Collection)
	if !def.enabled {
		return
	}
	if def.munger == nil {
		slog.Error("Default munger is not configured",
			"doc_id", doc.DocID,
			"collection", doc.Collection,
		)
		s.counter.IncrementCustom("default_munger_missing")
		return
	}

	res.UsedDefault = true
	id, err := def.munger.Process(ctx, doc, nil)
	if err != nil {
		slog.Error("Default munger failed to process document",
			"munger", def.munger.Name,
			"doc_id", doc.DocID,
			"error", err,
		)
		s.counter.IncrementCustom("default_munger_errors")
		res.Errors = append(res.Errors, err)
		return
	}
	s.counter.IncrementCustom("default_munger_used")
	res.RecordIDs = append(res.RecordIDs, id)
}
