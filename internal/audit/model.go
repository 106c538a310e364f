// Package audit provides an append-only log of sensitive actions for
// compliance review, incident response, and data-subject reporting.
package audit

import (
	"time"
)

// Action identifies a sensitive operation recorded in the audit trail.
type Action string

// Actions recorded by the governance subsystem. The set is closed so that
// export consumers can rely on a stable vocabulary.
const (
	ActionViewAuditLog       Action = "view_audit_log"
	ActionExportAuditLog     Action = "export_audit_log"
	ActionUnsubscribe        Action = "unsubscribe"
	ActionConsentChange      Action = "consent_change"
	ActionAgeOutTransition   Action = "age_out_transition"
	ActionRetentionRun       Action = "retention_run"
	ActionTempCleanupRun     Action = "temp_cleanup_run"
	ActionRequestCreated     Action = "subject_request_created"
	ActionRequestCompleted   Action = "subject_request_completed"
	ActionRequestFailed      Action = "subject_request_failed"
	ActionDataDeletion       Action = "subject_data_deletion"
	ActionForbiddenAttempt   Action = "forbidden_attempt"
	ActionCacheInvalidation  Action = "cache_invalidation"
)

// ValidActions is the allowed action vocabulary for audit entries.
var ValidActions = map[Action]bool{
	ActionViewAuditLog:      true,
	ActionExportAuditLog:    true,
	ActionUnsubscribe:       true,
	ActionConsentChange:     true,
	ActionAgeOutTransition:  true,
	ActionRetentionRun:      true,
	ActionTempCleanupRun:    true,
	ActionRequestCreated:    true,
	ActionRequestCompleted:  true,
	ActionRequestFailed:     true,
	ActionDataDeletion:      true,
	ActionForbiddenAttempt:  true,
	ActionCacheInvalidation: true,
}

// AuditEvent is a single immutable entry in the audit trail. Events are
// never updated or deleted by normal code paths; only an explicitly
// registered retention policy may prune them.
//
// The JSON field names are part of the external contract (audit query
// responses and export payloads depend on them) and must not change.
type AuditEvent struct {
	ID           string            `json:"id"`
	ActorID      *string           `json:"actorId"`
	Action       Action            `json:"action"`
	ResourceType string            `json:"resourceType"`
	ResourceID   *string           `json:"resourceId"`
	Metadata     map[string]string `json:"metadata"`
	OccurredAt   time.Time         `json:"occurredAt"`
}

// Entry is the input for recording an audit event. Empty ActorID or
// ResourceID are stored as null.
type Entry struct {
	ActorID      string
	Action       Action
	ResourceType string
	ResourceID   string
	Metadata     map[string]string
}
