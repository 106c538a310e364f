package audit

import (
	"context"
	"log/slog"
)

// Record writes an audit event without ever failing the caller. The
// governed action has already succeeded or failed on its own; audit-log
// unavailability must not take the primary feature down with it, so a
// failed write is reported to operational diagnostics and dropped.
//
// Callers that need the fail-closed contract use Store.Record directly.
func Record(ctx context.Context, store Store, entry Entry) {
	if store == nil {
		return
	}
	if _, err := store.Record(ctx, entry); err != nil {
		slog.ErrorContext(ctx, "audit write failed",
			"action", entry.Action,
			"resource_type", entry.ResourceType,
			"resource_id", entry.ResourceID,
			"error", err,
		)
	}
}
