package retention

import (
	"context"
	"time"

	"github.com/campfirehq/rosterly/internal/audit"
)

// AuditLogRetentionPolicy returns the policy that prunes audit events
// older than maxAge. The log is pruned as one range rather than per
// event: the candidate is the cutoff timestamp, selected only while
// expired events remain, so a re-run against a pruned log selects
// nothing.
func AuditLogRetentionPolicy(store audit.Store, maxAge time.Duration) Policy {
	return Policy{
		Name:     "audit_log_retention",
		Category: "audit_events",
		Action:   ActionPurge,
		Select: func(ctx context.Context, now time.Time) ([]string, error) {
			cutoff := now.Add(-maxAge)
			expired, err := store.Query(ctx, audit.Filter{To: cutoff, Limit: 1})
			if err != nil {
				return nil, err
			}
			if len(expired) == 0 {
				return nil, nil
			}
			return []string{cutoff.Format(time.RFC3339Nano)}, nil
		},
		Apply: func(ctx context.Context, id string) error {
			cutoff, err := time.Parse(time.RFC3339Nano, id)
			if err != nil {
				return err
			}
			deleted, err := store.DeleteBefore(ctx, cutoff)
			if err != nil {
				return err
			}
			if deleted == 0 {
				return ErrRecordGone
			}
			return nil
		},
	}
}
