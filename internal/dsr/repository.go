package dsr

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Repository persists data-subject requests. Create must atomically
// enforce the single-in-flight guard per (subject, kind) so concurrent
// duplicate submissions cannot both succeed.
type Repository interface {
	// Create stores a new request. Returns ErrDuplicateInFlight when an
	// in-flight request of the same kind already exists for the subject.
	Create(ctx context.Context, req *DataSubjectRequest) error

	// Get retrieves a request by ID. Returns ErrNotFound if absent.
	Get(ctx context.Context, id string) (*DataSubjectRequest, error)

	// FindInFlight returns the subject's in-flight request of the given
	// kind, or ErrNotFound.
	FindInFlight(ctx context.Context, subjectID string, kind Kind) (*DataSubjectRequest, error)

	// Update persists a changed request. Returns ErrNotFound if absent.
	Update(ctx context.Context, req *DataSubjectRequest) error

	// ListPending returns IDs of requests awaiting processing, oldest
	// first.
	ListPending(ctx context.Context) ([]string, error)

	// ListExpiredExports returns IDs of completed export requests whose
	// download window closed before now and whose payload is still stored.
	ListExpiredExports(ctx context.Context, now time.Time) ([]string, error)

	// PurgeExportPayload drops the stored payload of a request. Returns
	// true when a payload was actually removed.
	PurgeExportPayload(ctx context.Context, id string) (bool, error)
}

// MemoryRepository is an in-memory Repository for tests and development.
// Thread-safe via Mutex; the in-flight index is updated under the same
// lock as the request map, which is what makes Create's guard atomic.
type MemoryRepository struct {
	mu       sync.Mutex
	requests map[string]*DataSubjectRequest
	// (subjectID, kind) -> request ID, present only while in flight.
	inFlight map[inFlightKey]string
}

type inFlightKey struct {
	subjectID string
	kind      Kind
}

// NewMemoryRepository creates a new in-memory request repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		requests: make(map[string]*DataSubjectRequest),
		inFlight: make(map[inFlightKey]string),
	}
}

// Create stores a new request, enforcing the in-flight guard.
func (r *MemoryRepository) Create(ctx context.Context, req *DataSubjectRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := inFlightKey{req.SubjectID, req.Kind}
	if _, exists := r.inFlight[key]; exists {
		return ErrDuplicateInFlight
	}

	stored := *req
	r.requests[req.ID] = &stored
	if stored.InFlight() {
		r.inFlight[key] = req.ID
	}
	return nil
}

// Get retrieves a request by ID.
func (r *MemoryRepository) Get(ctx context.Context, id string) (*DataSubjectRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	reqCopy := *req
	return &reqCopy, nil
}

// FindInFlight returns the subject's in-flight request of the given kind.
func (r *MemoryRepository) FindInFlight(ctx context.Context, subjectID string, kind Kind) (*DataSubjectRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.inFlight[inFlightKey{subjectID, kind}]
	if !ok {
		return nil, ErrNotFound
	}
	reqCopy := *r.requests[id]
	return &reqCopy, nil
}

// Update persists a changed request and maintains the in-flight index.
func (r *MemoryRepository) Update(ctx context.Context, req *DataSubjectRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.requests[req.ID]; !ok {
		return ErrNotFound
	}
	stored := *req
	r.requests[req.ID] = &stored

	key := inFlightKey{req.SubjectID, req.Kind}
	if stored.InFlight() {
		r.inFlight[key] = req.ID
	} else if r.inFlight[key] == req.ID {
		delete(r.inFlight, key)
	}
	return nil
}

// ListPending returns IDs of requests awaiting processing, oldest first.
func (r *MemoryRepository) ListPending(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var pending []*DataSubjectRequest
	for _, req := range r.requests {
		if req.Status == StatusPending {
			pending = append(pending, req)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})

	ids := make([]string, 0, len(pending))
	for _, req := range pending {
		ids = append(ids, req.ID)
	}
	return ids, nil
}

// ListExpiredExports returns IDs of expired completed exports still
// holding a payload.
func (r *MemoryRepository) ListExpiredExports(ctx context.Context, now time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []string
	for id, req := range r.requests {
		if req.Kind != KindExport || req.Status != StatusCompleted {
			continue
		}
		if req.ExpiresAt == nil || now.Before(*req.ExpiresAt) {
			continue
		}
		if len(req.ResultPayload) == 0 {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// PurgeExportPayload drops a stored payload.
func (r *MemoryRepository) PurgeExportPayload(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[id]
	if !ok || len(req.ResultPayload) == 0 {
		return false, nil
	}
	req.ResultPayload = nil
	return true, nil
}
