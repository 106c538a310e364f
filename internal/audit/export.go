package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"time"
)

// exportColumns is the stable column order of the CSV export. External
// consumers parse by position; do not reorder.
var exportColumns = []string{
	"actor",
	"action",
	"resourceType",
	"resourceId",
	"timestamp",
	"metadata",
}

// ExportCSV renders events matching the filter as a CSV document, newest
// first. Metadata is serialized as a JSON object in the final column;
// encoding/csv applies RFC 4180 quoting, so embedded delimiters, quotes,
// and newlines in metadata survive a round trip.
func ExportCSV(ctx context.Context, store Store, filter Filter) ([]byte, error) {
	events, err := store.Query(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events for export: %w", err)
	}

	buf := new(bytes.Buffer)
	writer := csv.NewWriter(buf)

	if err := writer.Write(exportColumns); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, ev := range events {
		meta := ev.Metadata
		if meta == nil {
			meta = map[string]string{}
		}
		// json.Marshal sorts map keys, keeping the column byte-stable
		// between exports of the same event.
		metaJSON, err := json.Marshal(meta)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize metadata for %s: %w", ev.ID, err)
		}

		row := []string{
			deref(ev.ActorID),
			string(ev.Action),
			ev.ResourceType,
			deref(ev.ResourceID),
			ev.OccurredAt.Format(time.RFC3339),
			string(metaJSON),
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}
	return buf.Bytes(), nil
}

// ExportFilename returns the attachment filename for an export, encoding
// the query's date range.
func ExportFilename(from, to time.Time) string {
	return fmt.Sprintf("audit_%s_%s.csv", from.Format("2006-01-02"), to.Format("2006-01-02"))
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
