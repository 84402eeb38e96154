package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/adamstauffer/cyphon/internal/munger"
)

// RecordStore implements munger.RecordStore on the records table.
type RecordStore struct {
	db *DB
}

var _ munger.RecordStore = (*RecordStore)(nil)

// NewRecordStore creates a RecordStore.
func NewRecordStore(db *DB) *RecordStore {
	return &RecordStore{db: db}
}

// Save implements munger.RecordStore. A duplicate (distillery, collection, doc_id)
// returns the id of the stored record. Records without a doc_id are stored with a
// NULL doc_id and never collide.
func (s *RecordStore) Save(ctx context.Context, rec *munger.Record) (string, error) {
	data, err := marshalData(rec.Data)
	if err != nil {
		return "", err
	}
	if !data.Valid {
		data = sql.NullString{String: "{}", Valid: true}
	}
	docID := sql.NullString{String: rec.DocID, Valid: rec.DocID != ""}
	platform := sql.NullString{String: rec.Platform, Valid: rec.Platform != ""}

	var id string
	err = s.db.conn.QueryRowContext(ctx, `
		INSERT INTO records (id, distillery, collection, doc_id, platform, data)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (distillery, collection, doc_id) DO NOTHING
		RETURNING id
	`, uuid.New().String(), rec.Distillery, rec.Collection, docID, platform, data).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("failed to insert record: %w", err)
	}

	// Conflict: the record already exists.
	err = s.db.conn.QueryRowContext(ctx, `
		SELECT id FROM records
		WHERE distillery = $1 AND collection = $2 AND doc_id = $3
	`, rec.Distillery, rec.Collection, rec.DocID).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("failed to look up existing record: %w", err)
	}
	slog.Debug("Record already exists, skipping",
		"record_id", id,
		"distillery", rec.Distillery,
		"doc_id", rec.DocID,
	)
	return id, nil
}

// FindByID implements munger.RecordStore.
func (s *RecordStore) FindByID(ctx context.Context, id string) (*munger.Record, error) {
	var (
		rec      munger.Record
		docID    sql.NullString
		platform sql.NullString
		data     []byte
	)
	err := s.db.conn.QueryRowContext(ctx, `
		SELECT id, distillery, collection, doc_id, platform, data, created_at
		FROM records WHERE id = $1
	`, id).Scan(&rec.ID, &rec.Distillery, &rec.Collection, &docID, &platform, &data, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) || pqCode(err) == codeInvalidText {
		return nil, munger.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	rec.DocID = docID.String
	rec.Platform = platform.String
	rec.Data = unmarshalData(data, "record_id", rec.ID)
	return &rec, nil
}
