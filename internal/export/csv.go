// Package export renders the lap ledger as CSV for download. One row per
// lap; timestamps appear both human-readable (RFC 3339) and as epoch
// milliseconds so spreadsheets and scripts can consume the same file.
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/svommelab/lapcounter/internal/ledger"
)

// header is the fixed CSV column set.
var header = []string{
	"session_id",
	"session_started_at",
	"session_started_at_ms",
	"session_ended_at",
	"session_ended_at_ms",
	"lap_timestamp",
	"lap_timestamp_ms",
	"duration_ms",
	"source",
}

// WriteCSV streams every session's laps from store to w as CSV,
// most-recent-session-first. Sessions without laps contribute no rows.
func WriteCSV(ctx context.Context, store ledger.Store, w io.Writer) error {
	sessions, err := store.ListSessionsWithLaps(ctx)
	if err != nil {
		return fmt.Errorf("export: list sessions: %w", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("export: write header: %w", err)
	}

	for _, sess := range sessions {
		endedAt, endedAtMS := "", ""
		if sess.EndedAt != nil {
			endedAt = sess.EndedAt.UTC().Format(time.RFC3339)
			endedAtMS = strconv.FormatInt(sess.EndedAt.UnixMilli(), 10)
		}
		for _, lap := range sess.Laps {
			row := []string{
				strconv.FormatInt(sess.ID, 10),
				sess.StartedAt.UTC().Format(time.RFC3339),
				strconv.FormatInt(sess.StartedAt.UnixMilli(), 10),
				endedAt,
				endedAtMS,
				lap.Timestamp.UTC().Format(time.RFC3339),
				strconv.FormatInt(lap.Timestamp.UnixMilli(), 10),
				strconv.FormatInt(lap.Duration.Milliseconds(), 10),
				lap.Source,
			}
			if err := cw.Write(row); err != nil {
				return fmt.Errorf("export: write lap row: %w", err)
			}
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("export: flush: %w", err)
	}
	return nil
}
