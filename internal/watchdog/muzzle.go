package watchdog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/adamstauffer/cyphon/internal/alert"
	"github.com/adamstauffer/cyphon/internal/document"
	"github.com/adamstauffer/cyphon/internal/sieve"
)

// TimeUnit is the unit of a muzzle's time interval.
type TimeUnit string

const (
	Seconds TimeUnit = "s"
	Minutes TimeUnit = "m"
	Hours   TimeUnit = "h"
	Days    TimeUnit = "d"
)

var unitDurations = map[TimeUnit]time.Duration{
	Seconds: time.Second,
	Minutes: time.Minute,
	Hours:   time.Hour,
	Days:    24 * time.Hour,
}

// Muzzle suppresses alerts that repeat a recent alert of the same watchdog, source
// and level, counting them as incidents of the oldest one instead.
type Muzzle struct {
	MatchingFields string // comma-separated field paths
	TimeInterval   int
	TimeUnit       TimeUnit
	Enabled        bool

	fields []string
}

// NewMuzzle validates the interval and unit and parses the field list.
func NewMuzzle(matchingFields string, interval int, unit TimeUnit, enabled bool) (*Muzzle, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("muzzle time interval must be positive, got %d", interval)
	}
	unit = TimeUnit(strings.ToLower(strings.TrimSpace(string(unit))))
	if _, ok := unitDurations[unit]; !ok {
		return nil, fmt.Errorf("unknown muzzle time unit: %s", unit)
	}
	return &Muzzle{
		MatchingFields: matchingFields,
		TimeInterval:   interval,
		TimeUnit:       unit,
		Enabled:        enabled,
		fields:         parseFields(matchingFields),
	}, nil
}

func parseFields(s string) []string {
	var fields []string
	for _, f := range strings.Split(s, ",") {
		if f = strings.TrimSpace(f); f != "" {
			fields = append(fields, f)
		}
	}
	return fields
}

// Fields returns the parsed matching field paths.
func (m *Muzzle) Fields() []string {
	out := make([]string, len(m.fields))
	copy(out, m.fields)
	return out
}

// Window returns the look-back duration.
func (m *Muzzle) Window() time.Duration {
	return time.Duration(m.TimeInterval) * unitDurations[m.TimeUnit]
}

// IsMatch looks for a prior alert that candidate repeats. On a match it increments the
// oldest matching alert's incidents through tx and returns true. It must run inside
// the Store.WithLock unit of work that would also insert candidate.
func (m *Muzzle) IsMatch(ctx context.Context, tx alert.Tx, candidate *alert.Alert, now time.Time) (bool, error) {
	if m == nil || !m.Enabled {
		return false, nil
	}

	prior, err := tx.FindRecent(ctx, alert.RecentQuery{
		Source:   candidate.Source,
		Level:    candidate.Level,
		Watchdog: candidate.Watchdog,
		Since:    now.Add(-m.Window()),
	})
	if err != nil {
		return false, fmt.Errorf("failed to query recent alerts: %w", err)
	}

	for _, a := range prior {
		if !m.fieldsMatch(a.Data, candidate.Data) {
			continue
		}
		incidents, err := tx.IncrementIncidents(ctx, a.ID)
		if err != nil {
			return false, fmt.Errorf("failed to increment incidents for alert %s: %w", a.ID, err)
		}
		slog.Debug("Muzzled duplicate alert",
			"alert_id", a.ID,
			"watchdog", candidate.Watchdog,
			"level", candidate.Level,
			"doc_id", candidate.DocID,
			"incidents", incidents,
		)
		return true, nil
	}
	return false, nil
}

// fieldsMatch requires every configured field to be equal. A missing field reads as
// nil, so it equals another missing field or an explicit null.
func (m *Muzzle) fieldsMatch(prior, candidate map[string]any) bool {
	for _, f := range m.fields {
		pv, _ := document.Lookup(prior, f)
		cv, _ := document.Lookup(candidate, f)
		if !sieve.Equal(pv, cv) {
			return false
		}
	}
	return true
}
