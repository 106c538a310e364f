package consent

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresStore persists consent records in the consent_records table.
// Preferences are stored as a JSONB column keyed by category.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgresStore backed by db.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, subjectID string) (*Record, error) {
	const q = `SELECT preferences FROM consent_records WHERE subject_id = $1`
	var raw []byte
	if err := s.db.QueryRowContext(ctx, q, subjectID).Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get consent record: %w", err)
	}
	rec := &Record{SubjectID: subjectID, Preferences: make(map[Category]bool)}
	if err := json.Unmarshal(raw, &rec.Preferences); err != nil {
		return nil, fmt.Errorf("decode consent preferences: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) Put(ctx context.Context, rec *Record) error {
	raw, err := json.Marshal(rec.Preferences)
	if err != nil {
		return fmt.Errorf("encode consent preferences: %w", err)
	}
	const q = `
		INSERT INTO consent_records (subject_id, preferences, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (subject_id)
		DO UPDATE SET preferences = EXCLUDED.preferences, updated_at = NOW()`
	if _, err := s.db.ExecContext(ctx, q, rec.SubjectID, raw); err != nil {
		return fmt.Errorf("upsert consent record: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, subjectID string) error {
	const q = `DELETE FROM consent_records WHERE subject_id = $1`
	if _, err := s.db.ExecContext(ctx, q, subjectID); err != nil {
		return fmt.Errorf("delete consent record: %w", err)
	}
	return nil
}
