package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/adamstauffer/cyphon/internal/alert"
)

// DefaultLockTimeout bounds how long AlertStore.WithLock waits for the advisory lock.
const DefaultLockTimeout = 5 * time.Second

const alertColumns = `id, level, watchdog, source, doc_id, data, incidents, created_at`

// AlertStore implements alert.Store with a transaction-scoped advisory lock per LockKey.
type AlertStore struct {
	db          *DB
	lockTimeout time.Duration
}

var _ alert.Store = (*AlertStore)(nil)

// NewAlertStore creates an AlertStore. A non-positive lockTimeout uses DefaultLockTimeout.
func NewAlertStore(db *DB, lockTimeout time.Duration) *AlertStore {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return &AlertStore{db: db, lockTimeout: lockTimeout}
}

// WithLock implements alert.Store. It runs fn in a transaction holding
// pg_advisory_xact_lock on the key; the lock is released on commit or rollback.
func (s *AlertStore) WithLock(ctx context.Context, key alert.LockKey, fn func(ctx context.Context, tx alert.Tx) error) (err error) {
	tx, err := s.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	// set_config(..., true) is SET LOCAL and accepts a bind parameter.
	if _, err = tx.ExecContext(ctx, `SELECT set_config('lock_timeout', $1, true)`,
		fmt.Sprintf("%dms", s.lockTimeout.Milliseconds())); err != nil {
		return mapAlertError(err, "failed to set lock timeout")
	}
	if _, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key.String()); err != nil {
		return mapAlertError(err, fmt.Sprintf("failed to acquire lock %s", key))
	}

	if err = fn(ctx, &alertTx{tx: tx}); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return mapAlertError(err, "failed to commit transaction")
	}
	return nil
}

// Get implements alert.Store.
func (s *AlertStore) Get(ctx context.Context, id string) (*alert.Alert, error) {
	row := s.db.conn.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = $1`, id)
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) || pqCode(err) == codeInvalidText {
		return nil, alert.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	return a, nil
}

type alertTx struct {
	tx *sql.Tx
}

func (t *alertTx) FindRecent(ctx context.Context, q alert.RecentQuery) ([]*alert.Alert, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+alertColumns+`
		FROM alerts
		WHERE source = $1 AND level = $2 AND watchdog = $3 AND created_at >= $4
		ORDER BY created_at ASC, id ASC
	`, q.Source, string(q.Level), q.Watchdog, q.Since)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*alert.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating alerts: %w", err)
	}
	return alerts, nil
}

func (t *alertTx) Insert(ctx context.Context, a *alert.Alert) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if a.Incidents < 1 {
		a.Incidents = 1
	}
	data, err := marshalData(a.Data)
	if err != nil {
		return err
	}

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO alerts (`+alertColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, a.ID, string(a.Level), a.Watchdog, a.Source, a.DocID, data, a.Incidents, a.CreatedAt)
	if err != nil {
		return mapAlertError(err, "failed to insert alert")
	}
	return nil
}

func (t *alertTx) IncrementIncidents(ctx context.Context, id string) (int, error) {
	var incidents int
	err := t.tx.QueryRowContext(ctx,
		`UPDATE alerts SET incidents = incidents + 1 WHERE id = $1 RETURNING incidents`, id,
	).Scan(&incidents)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, alert.ErrNotFound
	}
	if err != nil {
		return 0, mapAlertError(err, "failed to increment incidents")
	}
	return incidents, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAlert(row scanner) (*alert.Alert, error) {
	var (
		a     alert.Alert
		level string
		data  []byte
	)
	if err := row.Scan(&a.ID, &level, &a.Watchdog, &a.Source, &a.DocID, &data, &a.Incidents, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.Level = alert.Level(level)
	a.Data = unmarshalData(data, "alert_id", a.ID)
	return &a, nil
}

func mapAlertError(err error, msg string) error {
	switch pqCode(err) {
	case codeLockNotAvailable, codeDeadlockDetected, codeSerializationFail:
		return fmt.Errorf("%s: %w: %v", msg, alert.ErrLockTimeout, err)
	case codeUniqueViolation:
		return fmt.Errorf("%s: %w: %v", msg, alert.ErrDuplicateAlert, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}
