package retention

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/campfirehq/rosterly/internal/audit"
)

// fakeDirectory is an in-memory subject directory.
type fakeDirectory struct {
	mu       sync.Mutex
	subjects map[string]*Subject
	failIDs  map[string]bool
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		subjects: make(map[string]*Subject),
		failIDs:  make(map[string]bool),
	}
}

func (d *fakeDirectory) add(id string, birth time.Time, c Classification) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subjects[id] = &Subject{ID: id, BirthDate: birth, Classification: c}
}

func (d *fakeDirectory) ListMinors(ctx context.Context) ([]Subject, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var minors []Subject
	for _, s := range d.subjects {
		if s.Classification == ClassificationMinor {
			minors = append(minors, *s)
		}
	}
	return minors, nil
}

func (d *fakeDirectory) SetClassification(ctx context.Context, id string, c Classification) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failIDs[id] {
		return errors.New("directory write failed")
	}
	s, ok := d.subjects[id]
	if !ok {
		return errors.New("subject not found")
	}
	s.Classification = c
	return nil
}

func ageOutNow() time.Time {
	return time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
}

func TestMonitor_TransitionsSubjectsPastThreshold(t *testing.T) {
	dir := newFakeDirectory()
	// Turned 13 two days ago.
	dir.add("aged-out", ageOutNow().AddDate(-13, 0, -2), ClassificationMinor)
	// Still 12.
	dir.add("still-minor", ageOutNow().AddDate(-13, 0, 10), ClassificationMinor)

	store := audit.NewMemoryStore()
	m := NewMonitor(MonitorConfig{Directory: dir, Audit: store, Now: ageOutNow})

	result, err := m.ProcessAgeOuts(context.Background())
	if err != nil {
		t.Fatalf("ProcessAgeOuts() error = %v", err)
	}
	if result.Scanned != 2 {
		t.Errorf("Scanned = %d, want 2", result.Scanned)
	}
	if result.Transitioned != 1 {
		t.Errorf("Transitioned = %d, want 1", result.Transitioned)
	}

	if dir.subjects["aged-out"].Classification != ClassificationStandard {
		t.Error("aged-out subject should be standard")
	}
	if dir.subjects["still-minor"].Classification != ClassificationMinor {
		t.Error("still-minor subject should remain minor")
	}

	events, err := store.Query(context.Background(), audit.Filter{Action: audit.ActionAgeOutTransition})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 age-out audit event, got %d", len(events))
	}
	if events[0].ResourceID == nil || *events[0].ResourceID != "aged-out" {
		t.Errorf("audit event resourceId = %v, want aged-out", events[0].ResourceID)
	}
}

func TestMonitor_ExactlyThresholdBirthdayToday(t *testing.T) {
	dir := newFakeDirectory()
	// Exactly 13 years old as of now.
	dir.add("birthday", ageOutNow().AddDate(-13, 0, 0), ClassificationMinor)

	m := NewMonitor(MonitorConfig{Directory: dir, Now: ageOutNow})

	result, err := m.ProcessAgeOuts(context.Background())
	if err != nil {
		t.Fatalf("ProcessAgeOuts() error = %v", err)
	}
	if result.Transitioned != 1 {
		t.Errorf("Transitioned = %d, want 1 for exact-threshold birthday", result.Transitioned)
	}

	// Invoked again the same day: the subject is no longer a minor and is
	// transitioned exactly once in total.
	result, err = m.ProcessAgeOuts(context.Background())
	if err != nil {
		t.Fatalf("second ProcessAgeOuts() error = %v", err)
	}
	if result.Transitioned != 0 {
		t.Errorf("second run Transitioned = %d, want 0", result.Transitioned)
	}
	if result.Scanned != 0 {
		t.Errorf("second run Scanned = %d, want 0", result.Scanned)
	}
}

func TestMonitor_DirectoryFailureRecordedPerSubject(t *testing.T) {
	dir := newFakeDirectory()
	dir.add("ok", ageOutNow().AddDate(-14, 0, 0), ClassificationMinor)
	dir.add("stuck", ageOutNow().AddDate(-14, 0, 0), ClassificationMinor)
	dir.failIDs["stuck"] = true

	m := NewMonitor(MonitorConfig{Directory: dir, Now: ageOutNow})

	result, err := m.ProcessAgeOuts(context.Background())
	if err != nil {
		t.Fatalf("ProcessAgeOuts() error = %v", err)
	}
	if result.Transitioned != 1 {
		t.Errorf("Transitioned = %d, want 1", result.Transitioned)
	}
	if len(result.Errors) != 1 || result.Errors[0].RecordID != "stuck" {
		t.Errorf("Errors = %v, want one for 'stuck'", result.Errors)
	}
}

func TestHasReachedAge(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		birth time.Time
		want  bool
	}{
		{"birthday today", time.Date(2013, 6, 1, 0, 0, 0, 0, time.UTC), true},
		{"birthday tomorrow", time.Date(2013, 6, 2, 0, 0, 0, 0, time.UTC), false},
		{"well past", time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := hasReachedAge(tt.birth, now, 13); got != tt.want {
				t.Errorf("hasReachedAge(%v) = %v, want %v", tt.birth, got, tt.want)
			}
		})
	}
}
