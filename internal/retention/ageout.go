package retention

import (
	"context"
	"log/slog"
	"time"

	"github.com/campfirehq/rosterly/internal/audit"
)

// Classification is a subject's data-handling classification.
type Classification string

const (
	// ClassificationMinor applies heightened protections to the subject's data.
	ClassificationMinor Classification = "minor"
	// ClassificationStandard is the default adult classification.
	ClassificationStandard Classification = "standard"
)

// DefaultAgeThresholdYears is the legal age threshold at which minor
// protections lift.
const DefaultAgeThresholdYears = 13

// Subject is the directory view of a governed individual.
type Subject struct {
	ID             string
	BirthDate      time.Time
	Classification Classification
}

// SubjectDirectory exposes the subject records the monitor scans and
// transitions.
type SubjectDirectory interface {
	// ListMinors returns subjects currently classified as minors.
	ListMinors(ctx context.Context) ([]Subject, error)

	// SetClassification updates a subject's data-handling classification.
	SetClassification(ctx context.Context, subjectID string, c Classification) error
}

// ConsentUpdater lifts minor-protection communication defaults when a
// subject ages out. Optional collaborator.
type ConsentUpdater interface {
	ApplyStandardDefaults(ctx context.Context, subjectID string) error
}

// MonitorConfig configures the age-out monitor.
type MonitorConfig struct {
	Directory SubjectDirectory
	// Consent, when set, has its standard defaults applied per transition.
	Consent ConsentUpdater
	// Audit receives one event per transitioned subject. Optional.
	Audit audit.Store
	// Logger defaults to slog.Default.
	Logger *slog.Logger
	// ThresholdYears defaults to DefaultAgeThresholdYears.
	ThresholdYears int
	// Now is injectable for tests.
	Now func() time.Time
}

// AgeOutResult reports one monitor run.
type AgeOutResult struct {
	Scanned      int           `json:"scanned"`
	Transitioned int           `json:"transitioned"`
	Errors       []RecordError `json:"errors"`
}

// Monitor detects subjects crossing the legal age threshold and
// transitions their data-handling classification from minor to standard.
// Intended for weekly cadence; safe under repeated or overlapping runs.
type Monitor struct {
	config MonitorConfig
}

// NewMonitor creates an age-out monitor.
func NewMonitor(config MonitorConfig) *Monitor {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.ThresholdYears == 0 {
		config.ThresholdYears = DefaultAgeThresholdYears
	}
	if config.Now == nil {
		config.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Monitor{config: config}
}

// ProcessAgeOuts scans minor-classified subjects and transitions every
// one who has reached the age threshold. Subjects already marked
// standard are never re-transitioned, so invoking the monitor twice in
// the same day transitions each subject exactly once.
func (m *Monitor) ProcessAgeOuts(ctx context.Context) (AgeOutResult, error) {
	now := m.config.Now()
	result := AgeOutResult{}

	minors, err := m.config.Directory.ListMinors(ctx)
	if err != nil {
		return result, err
	}
	result.Scanned = len(minors)

	for _, subject := range minors {
		if subject.Classification != ClassificationMinor {
			continue
		}
		if !hasReachedAge(subject.BirthDate, now, m.config.ThresholdYears) {
			continue
		}

		if err := m.config.Directory.SetClassification(ctx, subject.ID, ClassificationStandard); err != nil {
			result.Errors = append(result.Errors, RecordError{RecordID: subject.ID, ErrorMessage: err.Error()})
			continue
		}
		if m.config.Consent != nil {
			if err := m.config.Consent.ApplyStandardDefaults(ctx, subject.ID); err != nil {
				// Classification already moved; record the consent residue
				// but do not roll back.
				result.Errors = append(result.Errors, RecordError{RecordID: subject.ID, ErrorMessage: err.Error()})
			}
		}
		result.Transitioned++

		audit.Record(ctx, m.config.Audit, audit.Entry{
			Action:       audit.ActionAgeOutTransition,
			ResourceType: "subject",
			ResourceID:   subject.ID,
			Metadata: map[string]string{
				"from": string(ClassificationMinor),
				"to":   string(ClassificationStandard),
			},
		})
	}

	m.config.Logger.Info("age-out run finished",
		"scanned", result.Scanned,
		"transitioned", result.Transitioned,
		"errors", len(result.Errors),
	)
	return result, nil
}

// hasReachedAge reports whether a subject born on birthDate is at least
// years old as of now. A subject turning exactly years today qualifies.
func hasReachedAge(birthDate, now time.Time, years int) bool {
	return !birthDate.AddDate(years, 0, 0).After(now)
}
