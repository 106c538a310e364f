package dsr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/campfirehq/rosterly/internal/audit"
)

// Category is one governed data category. Deletion across categories is
// not transactional; Scan exists as the compensating control so deletion
// completeness stays verifiable afterwards.
type Category interface {
	// Name identifies the category in payloads and verification results.
	Name() string
	// Export returns the subject's data in this category as a JSON document.
	Export(ctx context.Context, subjectID string) (json.RawMessage, error)
	// Delete erases the subject's data in this category.
	Delete(ctx context.Context, subjectID string) error
	// Scan reports whether any residual data remains for the subject.
	Scan(ctx context.Context, subjectID string) (bool, error)
}

// ArtifactStore keeps completed export payloads in object storage.
// Optional; uploads are best-effort and never gate completion. Delete
// must treat an absent object as success so the expired-export cleanup
// policy stays idempotent.
type ArtifactStore interface {
	Put(ctx context.Context, requestID string, payload []byte) (key string, err error)
	Delete(ctx context.Context, requestID string) error
}

// ArtifactPresigner is implemented by artifact stores that can mint
// time-limited download links for stored export payloads.
type ArtifactPresigner interface {
	PresignDownload(ctx context.Context, requestID string) (url string, expires time.Time, err error)
}

// DefaultExportWindow is the download validity window for completed
// export requests.
const DefaultExportWindow = 7 * 24 * time.Hour

// ServiceConfig configures the request workflow.
type ServiceConfig struct {
	Repo       Repository
	Categories []Category
	// Audit receives one event per state-changing operation. Optional.
	Audit audit.Store
	// Artifacts, when set, receives completed export payloads.
	Artifacts ArtifactStore
	// ExportWindow defaults to DefaultExportWindow.
	ExportWindow time.Duration
	// Logger defaults to slog.Default.
	Logger *slog.Logger
	// Now is injectable for tests.
	Now func() time.Time
}

// Service runs the data-subject request workflow.
type Service struct {
	config ServiceConfig
}

// NewService creates a request workflow service.
func NewService(config ServiceConfig) *Service {
	if config.ExportWindow == 0 {
		config.ExportWindow = DefaultExportWindow
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Now == nil {
		config.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{config: config}
}

// Create submits a new request for the subject. A concurrent duplicate of
// the same kind coalesces onto the existing in-flight request; the second
// return value reports whether a new request was created.
func (s *Service) Create(ctx context.Context, subjectID string, kind Kind) (*DataSubjectRequest, bool, error) {
	if kind != KindExport && kind != KindDeletion {
		return nil, false, ErrInvalidKind
	}
	if subjectID == "" {
		return nil, false, errors.New("subject ID is required")
	}

	req := &DataSubjectRequest{
		ID:        uuid.New().String(),
		SubjectID: subjectID,
		Kind:      kind,
		Status:    StatusPending,
		CreatedAt: s.config.Now(),
	}

	err := s.config.Repo.Create(ctx, req)
	if errors.Is(err, ErrDuplicateInFlight) {
		existing, findErr := s.config.Repo.FindInFlight(ctx, subjectID, kind)
		if findErr != nil {
			// The duplicate resolved between the two calls; surface the
			// original conflict so the caller simply retries.
			return nil, false, err
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	audit.Record(ctx, s.config.Audit, audit.Entry{
		ActorID:      subjectID,
		Action:       audit.ActionRequestCreated,
		ResourceType: "subject_request",
		ResourceID:   req.ID,
		Metadata:     map[string]string{"kind": string(kind)},
	})
	return req, true, nil
}

// Process advances one request through processing to its terminal state.
// A pending or stalled processing request is accepted (pending ↔
// processing retry); the processing transition is always persisted before
// any gathering starts, so a request can never appear to jump straight
// from pending to completed.
func (s *Service) Process(ctx context.Context, id string) (*DataSubjectRequest, error) {
	req, err := s.config.Repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status != StatusPending && req.Status != StatusProcessing {
		return req, ErrInvalidTransition
	}

	req.Status = StatusProcessing
	if err := s.config.Repo.Update(ctx, req); err != nil {
		return nil, err
	}

	switch req.Kind {
	case KindExport:
		return s.processExport(ctx, req)
	case KindDeletion:
		return s.processDeletion(ctx, req)
	default:
		return req, ErrInvalidKind
	}
}

// ProcessPending processes every request still awaiting work, oldest
// first. A failure on one request is logged and does not stop the rest.
// Returns the number of requests that reached a terminal status.
func (s *Service) ProcessPending(ctx context.Context) (int, error) {
	ids, err := s.config.Repo.ListPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending requests: %w", err)
	}

	processed := 0
	for _, id := range ids {
		if _, err := s.Process(ctx, id); err != nil {
			s.config.Logger.Error("background processing failed",
				"request_id", id, "error", err)
			continue
		}
		processed++
	}
	return processed, nil
}

// exportEnvelope is the shape of a completed export payload.
type exportEnvelope struct {
	SubjectID   string                     `json:"subjectId"`
	GeneratedAt time.Time                  `json:"generatedAt"`
	Categories  map[string]json.RawMessage `json:"categories"`
}

func (s *Service) processExport(ctx context.Context, req *DataSubjectRequest) (*DataSubjectRequest, error) {
	gathered := make(map[string]json.RawMessage, len(s.config.Categories))
	for _, cat := range s.config.Categories {
		doc, err := cat.Export(ctx, req.SubjectID)
		if err != nil {
			// An incomplete export must never be persisted as complete.
			return s.markFailed(ctx, req, fmt.Sprintf("export of category %s failed: %v", cat.Name(), err))
		}
		gathered[cat.Name()] = doc
	}

	payload, err := json.Marshal(exportEnvelope{
		SubjectID:   req.SubjectID,
		GeneratedAt: s.config.Now(),
		Categories:  gathered,
	})
	if err != nil {
		return s.markFailed(ctx, req, fmt.Sprintf("payload serialization failed: %v", err))
	}

	expires := s.config.Now().Add(s.config.ExportWindow)
	req.Status = StatusCompleted
	req.ResultPayload = payload
	req.ExpiresAt = &expires
	if err := s.config.Repo.Update(ctx, req); err != nil {
		return nil, err
	}

	if s.config.Artifacts != nil {
		if key, err := s.config.Artifacts.Put(ctx, req.ID, payload); err != nil {
			s.config.Logger.Warn("export artifact upload failed", "request_id", req.ID, "error", err)
		} else {
			s.config.Logger.Info("export artifact stored", "request_id", req.ID, "key", key)
		}
	}

	audit.Record(ctx, s.config.Audit, audit.Entry{
		ActorID:      req.SubjectID,
		Action:       audit.ActionRequestCompleted,
		ResourceType: "subject_request",
		ResourceID:   req.ID,
		Metadata: map[string]string{
			"kind":      string(KindExport),
			"expiresAt": expires.Format(time.RFC3339),
		},
	})
	return req, nil
}

func (s *Service) processDeletion(ctx context.Context, req *DataSubjectRequest) (*DataSubjectRequest, error) {
	var failures []string
	var deleted []string
	for _, cat := range s.config.Categories {
		if err := cat.Delete(ctx, req.SubjectID); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", cat.Name(), err))
			continue
		}
		deleted = append(deleted, cat.Name())
	}

	if len(failures) > 0 {
		// Committed deletions in other categories stay committed; the
		// failure reason names what still holds data.
		return s.markFailed(ctx, req, "deletion incomplete: "+joinReasons(failures))
	}

	req.Status = StatusCompleted
	if err := s.config.Repo.Update(ctx, req); err != nil {
		return nil, err
	}

	audit.Record(ctx, s.config.Audit, audit.Entry{
		ActorID:      req.SubjectID,
		Action:       audit.ActionDataDeletion,
		ResourceType: "subject_request",
		ResourceID:   req.ID,
		Metadata: map[string]string{
			"kind":       string(KindDeletion),
			"categories": joinReasons(deleted),
		},
	})
	return req, nil
}

func (s *Service) markFailed(ctx context.Context, req *DataSubjectRequest, reason string) (*DataSubjectRequest, error) {
	req.Status = StatusFailed
	req.FailureReason = reason
	req.ResultPayload = nil
	if err := s.config.Repo.Update(ctx, req); err != nil {
		return nil, err
	}
	s.config.Logger.Error("subject request failed", "request_id", req.ID, "kind", req.Kind, "reason", reason)

	audit.Record(ctx, s.config.Audit, audit.Entry{
		ActorID:      req.SubjectID,
		Action:       audit.ActionRequestFailed,
		ResourceType: "subject_request",
		ResourceID:   req.ID,
		Metadata: map[string]string{
			"kind":   string(req.Kind),
			"reason": reason,
		},
	})
	return req, nil
}

// Download returns the export payload for the requesting subject. The
// three absence modes stay distinguishable: ErrNotFound (no such request
// for this subject), ErrNotReady (not yet completed or failed), and
// ErrExpired (download window closed).
func (s *Service) Download(ctx context.Context, id, subjectID string) (json.RawMessage, error) {
	req, err := s.config.Repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	// A request belonging to another subject reads as absent so request
	// IDs do not leak existence across subjects.
	if req.SubjectID != subjectID || req.Kind != KindExport {
		return nil, ErrNotFound
	}

	switch req.EffectiveStatus(s.config.Now()) {
	case StatusCompleted:
		return req.ResultPayload, nil
	case StatusExpired:
		return nil, ErrExpired
	default:
		return nil, ErrNotReady
	}
}

// Get returns the subject's view of a request, with the lazy expired
// status applied on read. A request belonging to another subject reads as
// absent.
func (s *Service) Get(ctx context.Context, id, subjectID string) (*DataSubjectRequest, error) {
	req, err := s.config.Repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.SubjectID != subjectID {
		return nil, ErrNotFound
	}
	view := *req
	view.Status = req.EffectiveStatus(s.config.Now())
	return &view, nil
}

// DownloadURL returns a presigned object-storage link for a completed,
// unexpired export, or "" when the artifact store is absent, cannot
// presign, or the request holds no downloadable payload. req should be
// the effective-status view returned by Get.
func (s *Service) DownloadURL(ctx context.Context, req *DataSubjectRequest) string {
	presigner, ok := s.config.Artifacts.(ArtifactPresigner)
	if !ok {
		return ""
	}
	if req.Kind != KindExport || req.Status != StatusCompleted {
		return ""
	}
	url, _, err := presigner.PresignDownload(ctx, req.ID)
	if err != nil {
		s.config.Logger.Warn("failed to presign export download", "request_id", req.ID, "error", err)
		return ""
	}
	return url
}

// VerifyDeletion re-scans every governed category for residual records
// keyed by the subject's identifier and returns the category names where
// residue was found. Read-only.
func (s *Service) VerifyDeletion(ctx context.Context, subjectID string) ([]string, error) {
	var residues []string
	var scanErrs []error
	for _, cat := range s.config.Categories {
		found, err := cat.Scan(ctx, subjectID)
		if err != nil {
			scanErrs = append(scanErrs, fmt.Errorf("scan of %s failed: %w", cat.Name(), err))
			continue
		}
		if found {
			residues = append(residues, cat.Name())
		}
	}
	return residues, errors.Join(scanErrs...)
}

func joinReasons(parts []string) string {
	return strings.Join(parts, "; ")
}
