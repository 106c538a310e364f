package retention

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
)

// PostgresDirectory reads and updates subject classifications in the
// members table owned by the membership service.
type PostgresDirectory struct {
	db *sql.DB
}

// NewPostgresDirectory creates a postgres-backed subject directory.
func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

// ListMinors returns subjects currently classified as minors.
func (d *PostgresDirectory) ListMinors(ctx context.Context) ([]Subject, error) {
	const q = `SELECT id, birth_date, data_classification FROM members WHERE data_classification = $1`
	rows, err := d.db.QueryContext(ctx, q, string(ClassificationMinor))
	if err != nil {
		return nil, fmt.Errorf("failed to list minor subjects: %w", err)
	}
	defer rows.Close()

	var subjects []Subject
	for rows.Next() {
		var (
			s              Subject
			classification string
		)
		if err := rows.Scan(&s.ID, &s.BirthDate, &classification); err != nil {
			return nil, fmt.Errorf("failed to scan subject: %w", err)
		}
		s.Classification = Classification(classification)
		subjects = append(subjects, s)
	}
	return subjects, rows.Err()
}

// SetClassification updates a subject's data-handling classification.
func (d *PostgresDirectory) SetClassification(ctx context.Context, subjectID string, c Classification) error {
	res, err := d.db.ExecContext(ctx, `UPDATE members SET data_classification = $1 WHERE id = $2`, string(c), subjectID)
	if err != nil {
		return fmt.Errorf("failed to update classification for %s: %w", subjectID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("subject %s not found", subjectID)
	}
	return nil
}

// MemoryDirectory is an in-memory SubjectDirectory for development and
// tests.
type MemoryDirectory struct {
	mu       sync.RWMutex
	subjects map[string]Subject
}

// NewMemoryDirectory creates an empty in-memory directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{subjects: make(map[string]Subject)}
}

// Put adds or replaces a subject.
func (d *MemoryDirectory) Put(s Subject) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subjects[s.ID] = s
}

// ListMinors returns subjects currently classified as minors.
func (d *MemoryDirectory) ListMinors(ctx context.Context) ([]Subject, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var minors []Subject
	for _, s := range d.subjects {
		if s.Classification == ClassificationMinor {
			minors = append(minors, s)
		}
	}
	return minors, nil
}

// SetClassification updates a subject's data-handling classification.
func (d *MemoryDirectory) SetClassification(ctx context.Context, subjectID string, c Classification) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.subjects[subjectID]
	if !ok {
		return fmt.Errorf("subject %s not found", subjectID)
	}
	s.Classification = c
	d.subjects[subjectID] = s
	return nil
}
