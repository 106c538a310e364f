package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/campfirehq/rosterly/internal/tracing"
	"github.com/google/uuid"
)

// PostgresStore is the production Store backed by the audit_events table.
// Requires the lib/pq driver to be registered by the caller.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a postgres-backed audit store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Record appends an event to the log.
func (s *PostgresStore) Record(ctx context.Context, entry Entry) (_ *AuditEvent, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "audit_events", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	if err := validateEntry(entry); err != nil {
		return nil, err
	}

	meta := entry.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	ev := &AuditEvent{
		ID:           uuid.New().String(),
		ActorID:      optional(entry.ActorID),
		Action:       entry.Action,
		ResourceType: entry.ResourceType,
		ResourceID:   optional(entry.ResourceID),
		Metadata:     meta,
		OccurredAt:   time.Now().UTC(),
	}

	const q = `INSERT INTO audit_events (id, actor_id, action, resource_type, resource_id, metadata, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := s.db.ExecContext(ctx, q, ev.ID, ev.ActorID, string(ev.Action), ev.ResourceType, ev.ResourceID, metaJSON, ev.OccurredAt); err != nil {
		return nil, fmt.Errorf("failed to insert audit event: %w", err)
	}
	return ev, nil
}

// Query returns matching events, newest first.
func (s *PostgresStore) Query(ctx context.Context, filter Filter) (_ []*AuditEvent, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "audit_events", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	var (
		where []string
		args  []interface{}
	)
	add := func(clause string, v interface{}) {
		args = append(args, v)
		where = append(where, clause+"$"+strconv.Itoa(len(args)))
	}

	if filter.ActorID != "" {
		add("actor_id = ", filter.ActorID)
	}
	if filter.Action != "" {
		add("action = ", string(filter.Action))
	}
	if filter.ResourceType != "" {
		add("resource_type = ", filter.ResourceType)
	}
	if !filter.From.IsZero() {
		add("occurred_at >= ", filter.From)
	}
	if !filter.To.IsZero() {
		add("occurred_at <= ", filter.To)
	}

	q := `SELECT id, actor_id, action, resource_type, resource_id, metadata, occurred_at FROM audit_events`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY occurred_at DESC, id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		q += " LIMIT $" + strconv.Itoa(len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		q += " OFFSET $" + strconv.Itoa(len(args))
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var results []*AuditEvent
	for rows.Next() {
		var (
			ev       AuditEvent
			action   string
			metaJSON []byte
		)
		if err := rows.Scan(&ev.ID, &ev.ActorID, &action, &ev.ResourceType, &ev.ResourceID, &metaJSON, &ev.OccurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		ev.Action = Action(action)
		if err := json.Unmarshal(metaJSON, &ev.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata for %s: %w", ev.ID, err)
		}
		results = append(results, &ev)
	}
	return results, rows.Err()
}

// DeleteBefore removes events older than cutoff.
func (s *PostgresStore) DeleteBefore(ctx context.Context, cutoff time.Time) (_ int64, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "audit_events", tracing.DBOperationDelete)
	defer func() { endSpan(err) }()

	res, err := s.db.ExecContext(ctx, `DELETE FROM audit_events WHERE occurred_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete audit events: %w", err)
	}
	return res.RowsAffected()
}
