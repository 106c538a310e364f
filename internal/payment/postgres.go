package payment

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresStore persists payment profiles in the payment_profiles table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgresStore backed by db.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, subjectID string) (*Profile, error) {
	const q = `SELECT subject_id, customer_id, created_at FROM payment_profiles WHERE subject_id = $1`
	p := &Profile{}
	if err := s.db.QueryRowContext(ctx, q, subjectID).Scan(&p.SubjectID, &p.CustomerID, &p.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get payment profile: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) Put(ctx context.Context, p *Profile) error {
	const q = `
		INSERT INTO payment_profiles (subject_id, customer_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (subject_id)
		DO UPDATE SET customer_id = EXCLUDED.customer_id`
	if _, err := s.db.ExecContext(ctx, q, p.SubjectID, p.CustomerID, p.CreatedAt); err != nil {
		return fmt.Errorf("upsert payment profile: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, subjectID string) error {
	const q = `DELETE FROM payment_profiles WHERE subject_id = $1`
	if _, err := s.db.ExecContext(ctx, q, subjectID); err != nil {
		return fmt.Errorf("delete payment profile: %w", err)
	}
	return nil
}
