// Package payment manages the link between subjects and their Stripe
// customer records, and exposes that data as a governed category for
// export and deletion.
package payment

import (
	"context"
	"errors"
	"time"
)

// Profile links a subject to their payment-provider customer record.
// Card data itself lives with the provider and is never stored here.
type Profile struct {
	SubjectID  string    `json:"subjectId"`
	CustomerID string    `json:"customerId"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ErrNotFound indicates no payment profile exists for the subject.
var ErrNotFound = errors.New("payment: profile not found")

// Store persists payment profiles.
type Store interface {
	Get(ctx context.Context, subjectID string) (*Profile, error)
	Put(ctx context.Context, p *Profile) error
	// Delete removes the subject's profile. Deleting a missing profile is
	// not an error.
	Delete(ctx context.Context, subjectID string) error
}
