// Package dsr manages data-subject requests: export and deletion requests
// move through a pending → processing → completed/failed lifecycle, export
// payloads carry a bounded download window, and deletion completeness is
// verifiable across every governed data category.
package dsr

import (
	"encoding/json"
	"errors"
	"time"
)

// Kind is the type of data-subject request.
type Kind string

const (
	// KindExport asks for a copy of the subject's data.
	KindExport Kind = "export"
	// KindDeletion asks for erasure of the subject's data.
	KindDeletion Kind = "deletion"
)

// Status is a request's lifecycle state. Transitions are one-directional
// except pending ↔ processing (retry).
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"

	// StatusExpired is a read-time view of a completed export whose
	// download window has closed. It is never stored.
	StatusExpired Status = "expired"
)

// Typed outcomes for callers. Download distinguishes all three absence
// modes; conflating them is a contract violation.
var (
	ErrNotFound          = errors.New("subject request not found")
	ErrNotReady          = errors.New("subject request not ready for download")
	ErrExpired           = errors.New("subject request download window has expired")
	ErrDuplicateInFlight = errors.New("an in-flight request of this kind already exists for the subject")
	ErrInvalidKind       = errors.New("kind must be export or deletion")
	ErrInvalidTransition = errors.New("invalid request status transition")
)

// DataSubjectRequest is a formal export or deletion request. The JSON
// field names are part of the external contract (download payload and API
// responses depend on them).
type DataSubjectRequest struct {
	ID        string     `json:"id"`
	SubjectID string     `json:"subjectId"`
	Kind      Kind       `json:"kind"`
	Status    Status     `json:"status"`
	CreatedAt time.Time  `json:"createdAt"`
	// ExpiresAt is set only when an export request completes; it bounds the
	// download window. Deletion requests never expire.
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	// ResultPayload is present only when completed, and only for exports.
	// It is never partially persisted.
	ResultPayload json.RawMessage `json:"resultPayload,omitempty"`
	// FailureReason records why a request moved to failed.
	FailureReason string `json:"failureReason,omitempty"`
}

// EffectiveStatus returns the request's status as observed at read time:
// a completed export past its download window reads as expired without
// any stored transition.
func (r *DataSubjectRequest) EffectiveStatus(now time.Time) Status {
	if r.Status == StatusCompleted && r.ExpiresAt != nil && !now.Before(*r.ExpiresAt) {
		return StatusExpired
	}
	return r.Status
}

// InFlight reports whether the request is still being worked on.
func (r *DataSubjectRequest) InFlight() bool {
	return r.Status == StatusPending || r.Status == StatusProcessing
}
