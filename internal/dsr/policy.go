package dsr

import (
	"context"
	"time"

	"github.com/campfirehq/rosterly/internal/retention"
)

// ExpiredExportCleanupPolicy returns the ephemeral retention policy that
// purges payloads of completed export requests whose download window has
// closed. When an artifact store is configured (nil is allowed) its copy
// of the payload is deleted before the database row is purged, so an
// object-storage failure leaves the record selectable for the next run.
// Re-running against already-purged data selects nothing, and a payload
// another run purged first reports as already handled.
func ExpiredExportCleanupPolicy(repo Repository, artifacts ArtifactStore) retention.Policy {
	return retention.Policy{
		Name:      "expired_export_payloads",
		Category:  "subject_request_exports",
		Action:    retention.ActionPurge,
		Ephemeral: true,
		Select: func(ctx context.Context, now time.Time) ([]string, error) {
			return repo.ListExpiredExports(ctx, now)
		},
		Apply: func(ctx context.Context, id string) error {
			if artifacts != nil {
				if err := artifacts.Delete(ctx, id); err != nil {
					return err
				}
			}
			purged, err := repo.PurgeExportPayload(ctx, id)
			if err != nil {
				return err
			}
			if !purged {
				return retention.ErrRecordGone
			}
			return nil
		},
	}
}
