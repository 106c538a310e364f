// Package retention enforces time-based data retention across the governed
// data categories: named policies select expired records and purge,
// anonymize, or transition them on a schedule.
package retention

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ActionKind is the pruning action a policy applies to expired records.
type ActionKind string

const (
	// ActionPurge deletes the record outright.
	ActionPurge ActionKind = "purge"
	// ActionAnonymize strips identifying fields but keeps the record.
	ActionAnonymize ActionKind = "anonymize"
	// ActionTransition moves the record to another handling classification.
	ActionTransition ActionKind = "transition"
)

// ErrRecordGone signals that another actor already handled the record.
// Overlapping runs are expected; Apply implementations return this so the
// engine treats the record as done rather than failed.
var ErrRecordGone = errors.New("record already handled")

// Policy pairs a data category with an expiry predicate and a pruning
// action. Policies are declared at process-configuration time and never
// mutated at runtime.
type Policy struct {
	// Name uniquely identifies the policy within the engine.
	Name string
	// Category names the data category the policy scans.
	Category string
	// Action declares what Apply does, for reporting and audit metadata.
	Action ActionKind
	// Ephemeral marks categories of derived/temporary data that are cleaned
	// on a tighter cadence via CleanupTemporaryData instead of RunAll.
	Ephemeral bool
	// Select returns the IDs of records whose age/state predicate has
	// expired as of now.
	Select func(ctx context.Context, now time.Time) ([]string, error)
	// Apply performs the declared action on a single record.
	Apply func(ctx context.Context, id string) error
}

func (p Policy) validate() error {
	if p.Name == "" {
		return errors.New("policy name is required")
	}
	if p.Category == "" {
		return fmt.Errorf("policy %s: category is required", p.Name)
	}
	switch p.Action {
	case ActionPurge, ActionAnonymize, ActionTransition:
	default:
		return fmt.Errorf("policy %s: unknown action %q", p.Name, p.Action)
	}
	if p.Select == nil || p.Apply == nil {
		return fmt.Errorf("policy %s: Select and Apply are required", p.Name)
	}
	return nil
}

// RecordError reports a single record that failed within a policy run.
type RecordError struct {
	RecordID     string `json:"recordId"`
	ErrorMessage string `json:"errorMessage"`
}

// PolicyRunResult is the outcome of one policy execution. Results are
// scoped to a single run and never accumulated across runs; the audit log
// is the durable trail.
type PolicyRunResult struct {
	PolicyName     string        `json:"policyName"`
	ProcessedCount int           `json:"processedCount"`
	Errors         []RecordError `json:"errors"`
	// FatalError is set when candidate selection itself failed and the
	// policy could not run. Per-record errors never appear here.
	FatalError string `json:"fatalError,omitempty"`
}
