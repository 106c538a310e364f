package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// Service exposes payment profiles as a governed data category.
type Service struct {
	store  Store
	client Client
	logger *slog.Logger
}

// NewService creates a payment governance service.
func NewService(store Store, client Client, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, client: client, logger: logger}
}

// Name identifies payment data as a governed category for subject requests.
func (s *Service) Name() string { return "payment_profile" }

// Export serializes the subject's payment profile. Only the customer link
// and its age are ours to export; card data lives with the provider.
func (s *Service) Export(ctx context.Context, subjectID string) (json.RawMessage, error) {
	p, err := s.store.Get(ctx, subjectID)
	if err == ErrNotFound {
		return json.RawMessage(`{}`), nil
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(p)
}

// Delete removes the provider-side customer first, then the local profile.
// A customer already gone at the provider counts as deleted; any other
// provider error leaves the local profile in place so a retry can finish
// the job.
func (s *Service) Delete(ctx context.Context, subjectID string) error {
	p, err := s.store.Get(ctx, subjectID)
	if err == ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}

	if _, err := s.client.DeleteCustomer(p.CustomerID); err != nil && !IsNotFound(err) {
		return fmt.Errorf("delete provider customer %s: %w", p.CustomerID, err)
	}
	return s.store.Delete(ctx, subjectID)
}

// Scan reports whether a payment profile still exists for the subject.
func (s *Service) Scan(ctx context.Context, subjectID string) (bool, error) {
	_, err := s.store.Get(ctx, subjectID)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
