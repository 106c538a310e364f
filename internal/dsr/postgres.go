package dsr

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresRepository is the production Repository backed by the
// subject_requests table. The in-flight guard is enforced by a partial
// unique index on (subject_id, kind) WHERE status IN
// ('pending','processing'), so concurrent duplicate creation loses the
// race at the database rather than in application code.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a postgres-backed request repository.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// uniqueViolation is the postgres error code raised by the in-flight index.
const uniqueViolation = "23505"

// Create stores a new request, enforcing the in-flight guard.
func (r *PostgresRepository) Create(ctx context.Context, req *DataSubjectRequest) error {
	const q = `INSERT INTO subject_requests (id, subject_id, kind, status, created_at, expires_at, result_payload, failure_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.db.ExecContext(ctx, q,
		req.ID, req.SubjectID, string(req.Kind), string(req.Status),
		req.CreatedAt, req.ExpiresAt, []byte(req.ResultPayload), req.FailureReason)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
		return ErrDuplicateInFlight
	}
	if err != nil {
		return fmt.Errorf("failed to insert subject request: %w", err)
	}
	return nil
}

const selectColumns = `id, subject_id, kind, status, created_at, expires_at, result_payload, failure_reason`

func scanRequest(row interface{ Scan(...interface{}) error }) (*DataSubjectRequest, error) {
	var (
		req     DataSubjectRequest
		kind    string
		status  string
		payload []byte
	)
	if err := row.Scan(&req.ID, &req.SubjectID, &kind, &status, &req.CreatedAt, &req.ExpiresAt, &payload, &req.FailureReason); err != nil {
		return nil, err
	}
	req.Kind = Kind(kind)
	req.Status = Status(status)
	req.ResultPayload = payload
	return &req, nil
}

// Get retrieves a request by ID.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*DataSubjectRequest, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM subject_requests WHERE id = $1`, id)
	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load subject request %s: %w", id, err)
	}
	return req, nil
}

// FindInFlight returns the subject's in-flight request of the given kind.
func (r *PostgresRepository) FindInFlight(ctx context.Context, subjectID string, kind Kind) (*DataSubjectRequest, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM subject_requests
		 WHERE subject_id = $1 AND kind = $2 AND status IN ('pending', 'processing')
		 ORDER BY created_at DESC LIMIT 1`, subjectID, string(kind))
	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find in-flight request: %w", err)
	}
	return req, nil
}

// Update persists a changed request.
func (r *PostgresRepository) Update(ctx context.Context, req *DataSubjectRequest) error {
	const q = `UPDATE subject_requests
		SET status = $2, expires_at = $3, result_payload = $4, failure_reason = $5
		WHERE id = $1`
	res, err := r.db.ExecContext(ctx, q, req.ID, string(req.Status), req.ExpiresAt, []byte(req.ResultPayload), req.FailureReason)
	if err != nil {
		return fmt.Errorf("failed to update subject request %s: %w", req.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPending returns IDs of requests awaiting processing, oldest first.
func (r *PostgresRepository) ListPending(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM subject_requests WHERE status = 'pending' ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending requests: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListExpiredExports returns IDs of expired completed exports still
// holding a payload.
func (r *PostgresRepository) ListExpiredExports(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM subject_requests
		 WHERE kind = 'export' AND status = 'completed'
		   AND expires_at IS NOT NULL AND expires_at <= $1
		   AND result_payload IS NOT NULL`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired exports: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// PurgeExportPayload drops a stored payload.
func (r *PostgresRepository) PurgeExportPayload(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE subject_requests SET result_payload = NULL WHERE id = $1 AND result_payload IS NOT NULL`, id)
	if err != nil {
		return false, fmt.Errorf("failed to purge export payload %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
