package watchdog

import (
	"fmt"
	"sort"

	"github.com/adamstauffer/cyphon/internal/alert"
	"github.com/adamstauffer/cyphon/internal/sieve"
)

// Trigger raises an alert of Level when its sieve matches. Lower ranks are tried first.
type Trigger struct {
	Sieve *sieve.Sieve
	Level alert.Level
	Rank  int
}

// sortTriggers validates and returns a rank-ordered copy of triggers.
// A watchdog may use each rank and each sieve once.
func sortTriggers(watchdog string, triggers []*Trigger) ([]*Trigger, error) {
	ranks := make(map[int]bool, len(triggers))
	sieves := make(map[string]bool, len(triggers))

	out := make([]*Trigger, 0, len(triggers))
	for _, t := range triggers {
		if t == nil || t.Sieve == nil {
			return nil, fmt.Errorf("watchdog %s: trigger needs a sieve", watchdog)
		}
		if _, err := alert.ParseLevel(string(t.Level)); err != nil {
			return nil, fmt.Errorf("watchdog %s: %w", watchdog, err)
		}
		if ranks[t.Rank] {
			return nil, fmt.Errorf("watchdog %s: duplicate trigger rank %d", watchdog, t.Rank)
		}
		if sieves[t.Sieve.Name] {
			return nil, fmt.Errorf("watchdog %s: duplicate trigger sieve %s", watchdog, t.Sieve.Name)
		}
		ranks[t.Rank] = true
		sieves[t.Sieve.Name] = true
		out = append(out, t)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	return out, nil
}
