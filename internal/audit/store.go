package audit

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrInvalidAction is returned when an entry carries an action outside
	// the allowed vocabulary.
	ErrInvalidAction = errors.New("action is not in the allowed set")
	// ErrInvalidResourceType is returned when an entry has no resource type.
	ErrInvalidResourceType = errors.New("resource type cannot be empty")
)

// DefaultQueryWindow is the time range callers apply when no explicit
// range is given. Enforced by calling convention, not by the stores.
const DefaultQueryWindow = 30 * 24 * time.Hour

// Filter narrows an audit query. Zero values mean "no constraint" except
// for From/To, which callers default to the last DefaultQueryWindow.
type Filter struct {
	ActorID      string
	Action       Action
	ResourceType string
	From         time.Time
	To           time.Time
	Limit        int
	Offset       int
}

// WithDefaults returns a copy of the filter with the default query window
// applied relative to now when no lower bound was given.
func (f Filter) WithDefaults(now time.Time) Filter {
	if f.From.IsZero() {
		f.From = now.Add(-DefaultQueryWindow)
	}
	if f.To.IsZero() {
		f.To = now
	}
	return f
}

// Matches reports whether an event satisfies the filter's field and time
// constraints. Limit and Offset are applied by the stores, not here.
func (f Filter) Matches(ev *AuditEvent) bool {
	if f.ActorID != "" && (ev.ActorID == nil || *ev.ActorID != f.ActorID) {
		return false
	}
	if f.Action != "" && ev.Action != f.Action {
		return false
	}
	if f.ResourceType != "" && ev.ResourceType != f.ResourceType {
		return false
	}
	if !f.From.IsZero() && ev.OccurredAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && ev.OccurredAt.After(f.To) {
		return false
	}
	return true
}

// Store is the persistence contract for the audit trail.
type Store interface {
	// Record appends an event and returns the stored entry.
	Record(ctx context.Context, entry Entry) (*AuditEvent, error)

	// Query returns events matching the filter, newest first, honoring
	// Limit and Offset.
	Query(ctx context.Context, filter Filter) ([]*AuditEvent, error)

	// DeleteBefore removes events older than cutoff and returns the count.
	// Only retention policies explicitly targeting audit data call this.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

func validateEntry(entry Entry) error {
	if !ValidActions[entry.Action] {
		return ErrInvalidAction
	}
	if entry.ResourceType == "" {
		return ErrInvalidResourceType
	}
	return nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
