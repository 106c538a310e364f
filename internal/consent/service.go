package consent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/campfirehq/rosterly/internal/audit"
)

// Invalidator marks cached read data stale after a consent mutation.
// Failures are logged, never propagated: staleness is the accepted
// fallback, bounded by each entry's TTL.
type Invalidator interface {
	Invalidate(ctx context.Context, tags ...string) error
}

// Confirmation reports the outcome of an unsubscribe. Repeating the same
// token yields the same confirmation with AlreadyApplied set.
type Confirmation struct {
	SubjectID string `json:"subjectId"`
	// Categories lists the communication categories now disabled.
	Categories []Category `json:"categories"`
	// AlreadyApplied is true when the state was already as requested.
	AlreadyApplied bool `json:"alreadyApplied"`
}

// ServiceConfig configures the consent service.
type ServiceConfig struct {
	Store  Store
	Tokens *TokenService
	// Audit receives one event per unsubscribe and consent change. Optional.
	Audit audit.Store
	// Cache, when set, is invalidated after every consent mutation. Optional.
	Cache Invalidator
	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Service applies token-verified unsubscribes and policy-driven consent
// changes.
type Service struct {
	config ServiceConfig
}

// NewService creates a consent service.
func NewService(config ServiceConfig) *Service {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Service{config: config}
}

// CacheTag returns the invalidation tag for a subject's consent data.
func CacheTag(subjectID string) string {
	return "consent:" + subjectID
}

// ApplyUnsubscribe validates the token and disables communication for the
// resolved subject. When category is empty every category is disabled;
// otherwise only the named one. The token is validated before any mutation.
// Calling twice with the same token succeeds both times and leaves the same
// state, and every call produces an audit event.
func (s *Service) ApplyUnsubscribe(ctx context.Context, token string, category Category) (*Confirmation, error) {
	subjectID, err := s.config.Tokens.Validate(token)
	if err != nil {
		return nil, err
	}
	if category != "" && !ValidCategory(category) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}

	rec, err := s.config.Store.Get(ctx, subjectID)
	if err == ErrNotFound {
		rec = &Record{SubjectID: subjectID, Preferences: make(map[Category]bool)}
		err = nil
	}
	if err != nil {
		return nil, fmt.Errorf("load consent record: %w", err)
	}

	targets := Categories
	if category != "" {
		targets = []Category{category}
	}

	changed := false
	for _, c := range targets {
		if enabled, ok := rec.Preferences[c]; !ok || enabled {
			rec.Preferences[c] = false
			changed = true
		}
	}
	if changed {
		if err := s.config.Store.Put(ctx, rec); err != nil {
			return nil, fmt.Errorf("store consent record: %w", err)
		}
		s.invalidate(ctx, subjectID)
	}

	scope := "all"
	if category != "" {
		scope = string(category)
	}
	audit.Record(ctx, s.config.Audit, audit.Entry{
		ActorID:      subjectID,
		Action:       audit.ActionUnsubscribe,
		ResourceType: "consent_record",
		ResourceID:   subjectID,
		Metadata: map[string]string{
			"category":        scope,
			"already_applied": fmt.Sprintf("%t", !changed),
		},
	})

	return &Confirmation{
		SubjectID:      subjectID,
		Categories:     targets,
		AlreadyApplied: !changed,
	}, nil
}

// ApplyStandardDefaults replaces the subject's preferences with the
// standard post-minor defaults. Used by the age-out monitor when a subject
// crosses the age threshold.
func (s *Service) ApplyStandardDefaults(ctx context.Context, subjectID string) error {
	rec := &Record{SubjectID: subjectID, Preferences: make(map[Category]bool)}
	for c, enabled := range StandardDefaults {
		rec.Preferences[c] = enabled
	}
	if err := s.config.Store.Put(ctx, rec); err != nil {
		return fmt.Errorf("apply standard consent defaults: %w", err)
	}
	s.invalidate(ctx, subjectID)

	audit.Record(ctx, s.config.Audit, audit.Entry{
		Action:       audit.ActionConsentChange,
		ResourceType: "consent_record",
		ResourceID:   subjectID,
		Metadata:     map[string]string{"reason": "age_out_standard_defaults"},
	})
	return nil
}

func (s *Service) invalidate(ctx context.Context, subjectID string) {
	if s.config.Cache == nil {
		return
	}
	if err := s.config.Cache.Invalidate(ctx, CacheTag(subjectID)); err != nil {
		s.config.Logger.WarnContext(ctx, "cache invalidation failed",
			"tag", CacheTag(subjectID),
			"error", err,
		)
	}
}

// Name identifies consent data as a governed category for subject requests.
func (s *Service) Name() string { return "consent" }

// Export serializes the subject's consent preferences.
func (s *Service) Export(ctx context.Context, subjectID string) (json.RawMessage, error) {
	rec, err := s.config.Store.Get(ctx, subjectID)
	if err == ErrNotFound {
		return json.RawMessage(`{}`), nil
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(rec.Preferences)
}

// Delete removes the subject's consent record.
func (s *Service) Delete(ctx context.Context, subjectID string) error {
	if err := s.config.Store.Delete(ctx, subjectID); err != nil {
		return err
	}
	s.invalidate(ctx, subjectID)
	return nil
}

// Scan reports whether a consent record still exists for the subject.
func (s *Service) Scan(ctx context.Context, subjectID string) (bool, error) {
	_, err := s.config.Store.Get(ctx, subjectID)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ParseCategory validates a category name from an external request body.
func ParseCategory(raw string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(raw)))
	if c == "" {
		return "", nil
	}
	if !ValidCategory(c) {
		return "", fmt.Errorf("unknown communication category %q", raw)
	}
	return c, nil
}
