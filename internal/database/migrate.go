package database

import (
	"context"
	"fmt"
	"log/slog"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS alerts (
		id         UUID PRIMARY KEY,
		level      TEXT NOT NULL,
		watchdog   TEXT NOT NULL,
		source     TEXT NOT NULL,
		doc_id     TEXT NOT NULL,
		data       JSONB,
		incidents  INTEGER NOT NULL DEFAULT 1 CHECK (incidents >= 1),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS alerts_recent_idx ON alerts (source, level, watchdog, created_at)`,
	`CREATE TABLE IF NOT EXISTS records (
		id         UUID PRIMARY KEY,
		distillery TEXT NOT NULL,
		collection TEXT NOT NULL,
		doc_id     TEXT,
		platform   TEXT,
		data       JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (distillery, collection, doc_id)
	)`,
}

// Migrate creates the alerts and records tables if they do not exist.
func (db *DB) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement %d: %w", i, err)
		}
	}
	slog.Info("Database schema is up to date", "statements", len(schema))
	return nil
}
