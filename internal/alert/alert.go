// Package alert defines alerts and the transactional store the watchdogs write them to.
package alert

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrLockTimeout is returned when the lock for a LockKey could not be acquired in time.
	// It is retryable.
	ErrLockTimeout = errors.New("alert lock acquisition timed out")

	// ErrDuplicateAlert is returned when an insert collides with an existing alert.
	ErrDuplicateAlert = errors.New("duplicate alert")

	// ErrNotFound is returned for an unknown alert id.
	ErrNotFound = errors.New("alert not found")
)

// Level is an alert severity.
type Level string

const (
	Critical Level = "CRITICAL"
	High     Level = "HIGH"
	Medium   Level = "MEDIUM"
	Low      Level = "LOW"
	Info     Level = "INFO"
)

var levelRanks = map[Level]int{
	Critical: 0,
	High:     1,
	Medium:   2,
	Low:      3,
	Info:     4,
}

// ParseLevel parses a level name case-insensitively.
func ParseLevel(s string) (Level, error) {
	l := Level(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := levelRanks[l]; !ok {
		return "", fmt.Errorf("unknown alert level: %s", s)
	}
	return l, nil
}

// Rank orders levels from most (0) to least severe. Unknown levels rank last.
func (l Level) Rank() int {
	if r, ok := levelRanks[l]; ok {
		return r
	}
	return len(levelRanks)
}

func (l Level) String() string { return string(l) }

// Alert is a persisted watchdog match.
type Alert struct {
	ID        string
	Level     Level
	Watchdog  string
	Source    string // collection the document came from
	DocID     string
	Data      map[string]any
	Incidents int
	CreatedAt time.Time
}

// LockKey scopes the exclusive lock held while deduplicating and inserting an alert.
type LockKey struct {
	Source   string
	Level    Level
	Watchdog string
}

func (k LockKey) String() string {
	return k.Source + "|" + string(k.Level) + "|" + k.Watchdog
}

// RecentQuery selects prior alerts for deduplication.
type RecentQuery struct {
	Source   string
	Level    Level
	Watchdog string
	Since    time.Time // inclusive
}

// Tx is the view of the store available while a LockKey is held.
type Tx interface {
	// FindRecent returns alerts matching q, oldest first; ties are ordered by id.
	FindRecent(ctx context.Context, q RecentQuery) ([]*Alert, error)

	// Insert persists a new alert, assigning ID and CreatedAt when empty.
	Insert(ctx context.Context, a *Alert) error

	// IncrementIncidents adds one occurrence to an alert and returns the new count.
	IncrementIncidents(ctx context.Context, id string) (int, error)
}

// Store persists alerts.
type Store interface {
	// WithLock runs fn as a single unit of work while holding an exclusive lock on key.
	// Changes made through tx are committed only if fn returns nil.
	WithLock(ctx context.Context, key LockKey, fn func(ctx context.Context, tx Tx) error) error

	// Get returns the alert with the given id.
	Get(ctx context.Context, id string) (*Alert, error)
}
