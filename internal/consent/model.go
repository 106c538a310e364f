// Package consent tracks per-subject communication preferences and handles
// token-verified unsubscribe operations. Preferences are mutated only by the
// subject through a verified token, or by policy-driven age-out and deletion.
package consent

import (
	"context"
	"errors"
)

// Category is a communication category a subject can opt out of.
type Category string

const (
	CategoryNewsletter Category = "newsletter"
	CategoryEvents     Category = "events"
	CategoryReminders  Category = "reminders"
)

// Categories is the closed set of communication categories, in the order
// they are applied and exported.
var Categories = []Category{CategoryNewsletter, CategoryEvents, CategoryReminders}

// ValidCategory reports whether c is a known communication category.
func ValidCategory(c Category) bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// StandardDefaults are the preferences applied when a subject moves from
// minor protections to standard handling. Marketing stays off until the
// subject opts in; operational messages are on.
var StandardDefaults = map[Category]bool{
	CategoryNewsletter: false,
	CategoryEvents:     true,
	CategoryReminders:  true,
}

// Record holds one subject's communication preferences.
type Record struct {
	SubjectID   string            `json:"subjectId"`
	Preferences map[Category]bool `json:"preferences"`
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (r *Record) Clone() *Record {
	prefs := make(map[Category]bool, len(r.Preferences))
	for k, v := range r.Preferences {
		prefs[k] = v
	}
	return &Record{SubjectID: r.SubjectID, Preferences: prefs}
}

// ErrNotFound indicates no consent record exists for the subject.
var ErrNotFound = errors.New("consent: record not found")

// ErrUnknownCategory indicates a category outside the fixed set.
var ErrUnknownCategory = errors.New("consent: unknown communication category")

// Store persists consent records.
type Store interface {
	Get(ctx context.Context, subjectID string) (*Record, error)
	// Put upserts the record.
	Put(ctx context.Context, rec *Record) error
	// Delete removes the subject's record entirely. Deleting a missing
	// record is not an error.
	Delete(ctx context.Context, subjectID string) error
}
