package alert

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultLockTimeout bounds how long MemoryStore.WithLock waits for a key.
const DefaultLockTimeout = 5 * time.Second

// MemoryStore is an in-process Store. Each LockKey is guarded by its own lock;
// rows are shared and guarded separately.
type MemoryStore struct {
	lockTimeout time.Duration

	locksMu sync.Mutex
	locks   map[LockKey]*keyLock

	mu     sync.RWMutex
	alerts map[string]*Alert
}

// NewMemoryStore creates an empty MemoryStore. A non-positive lockTimeout uses DefaultLockTimeout.
func NewMemoryStore(lockTimeout time.Duration) *MemoryStore {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return &MemoryStore{
		lockTimeout: lockTimeout,
		locks:       make(map[LockKey]*keyLock),
		alerts:      make(map[string]*Alert),
	}
}

// keyLock is the lock for one LockKey. refs counts callers holding or waiting on
// it; the entry is removed when the last one leaves.
type keyLock struct {
	ch   chan struct{}
	refs int
}

func (s *MemoryStore) acquireRef(key LockKey) *keyLock {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		s.locks[key] = l
	}
	l.refs++
	return l
}

func (s *MemoryStore) releaseRef(key LockKey, l *keyLock) {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, key)
	}
}

// lockCount returns the number of keys with a live lock entry.
func (s *MemoryStore) lockCount() int {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	return len(s.locks)
}

// WithLock implements Store. Writes are buffered in the tx and applied only when fn succeeds.
func (s *MemoryStore) WithLock(ctx context.Context, key LockKey, fn func(ctx context.Context, tx Tx) error) error {
	l := s.acquireRef(key)
	defer s.releaseRef(key, l)

	timer := time.NewTimer(s.lockTimeout)
	defer timer.Stop()
	select {
	case l.ch <- struct{}{}:
	case <-timer.C:
		return fmt.Errorf("%w: %s", ErrLockTimeout, key)
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-l.ch }()

	tx := &memoryTx{store: s, pending: make(map[string]*Alert)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.commit()
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id string) (*Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyAlert(a), nil
}

// All returns every stored alert, oldest first.
func (s *MemoryStore) All() []*Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Alert, 0, len(s.alerts))
	for _, a := range s.alerts {
		out = append(out, copyAlert(a))
	}
	sortOldestFirst(out)
	return out
}

// Put stores an alert directly, bypassing locking. Used to seed fixtures.
func (s *MemoryStore) Put(a *Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts[a.ID] = copyAlert(a)
}

type memoryTx struct {
	store   *MemoryStore
	pending map[string]*Alert // inserted or updated rows, keyed by id
	order   []string
}

func (tx *memoryTx) FindRecent(_ context.Context, q RecentQuery) ([]*Alert, error) {
	rows := make(map[string]*Alert)
	tx.store.mu.RLock()
	for id, a := range tx.store.alerts {
		rows[id] = a
	}
	tx.store.mu.RUnlock()
	for id, a := range tx.pending {
		rows[id] = a
	}

	var out []*Alert
	for _, a := range rows {
		if a.Source == q.Source && a.Level == q.Level && a.Watchdog == q.Watchdog && !a.CreatedAt.Before(q.Since) {
			out = append(out, copyAlert(a))
		}
	}
	sortOldestFirst(out)
	return out, nil
}

func (tx *memoryTx) Insert(_ context.Context, a *Alert) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if a.Incidents < 1 {
		a.Incidents = 1
	}

	tx.store.mu.RLock()
	_, exists := tx.store.alerts[a.ID]
	tx.store.mu.RUnlock()
	if _, pending := tx.pending[a.ID]; exists || pending {
		return fmt.Errorf("%w: id %s", ErrDuplicateAlert, a.ID)
	}

	tx.pending[a.ID] = copyAlert(a)
	tx.order = append(tx.order, a.ID)
	return nil
}

func (tx *memoryTx) IncrementIncidents(_ context.Context, id string) (int, error) {
	if a, ok := tx.pending[id]; ok {
		a.Incidents++
		return a.Incidents, nil
	}

	tx.store.mu.RLock()
	a, ok := tx.store.alerts[id]
	tx.store.mu.RUnlock()
	if !ok {
		return 0, ErrNotFound
	}
	updated := copyAlert(a)
	updated.Incidents++
	tx.pending[id] = updated
	tx.order = append(tx.order, id)
	return updated.Incidents, nil
}

func (tx *memoryTx) commit() error {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	for _, id := range tx.order {
		tx.store.alerts[id] = tx.pending[id]
	}
	return nil
}

func copyAlert(a *Alert) *Alert {
	cp := *a
	return &cp
}

func sortOldestFirst(alerts []*Alert) {
	sort.Slice(alerts, func(i, j int) bool {
		if !alerts[i].CreatedAt.Equal(alerts[j].CreatedAt) {
			return alerts[i].CreatedAt.Before(alerts[j].CreatedAt)
		}
		return alerts[i].ID < alerts[j].ID
	})
}
