// Package export writes status intervals to Parquet files for analytics tools.
package export

import (
	"fmt"
	"os"
	"time"

	"jira-status-etl/internal/history"

	"github.com/parquet-go/parquet-go"
)

// IntervalRecord is one issue_status_history row in Parquet form.
type IntervalRecord struct {
	ID       int64  `parquet:"id,snappy"`
	IssueKey string `parquet:"issue_key,snappy,dict"`
	Status   string `parquet:"status,snappy,dict"`

	// EnteredAt is stored as TIMESTAMP with nanosecond precision
	EnteredAt time.Time `parquet:"entered_at,snappy"`

	// ExitedAt is null while the interval is open
	ExitedAt *time.Time `parquet:"exited_at,optional,snappy"`

	DurationMinutes *float64 `parquet:"duration_minutes,optional,snappy"`
}

// ConvertIntervals maps store rows to Parquet records.
func ConvertIntervals(rows []history.Interval) []IntervalRecord {
	out := make([]IntervalRecord, 0, len(rows))
	for _, iv := range rows {
		rec := IntervalRecord{
			ID:              iv.ID,
			IssueKey:        iv.IssueKey,
			Status:          iv.Status,
			EnteredAt:       iv.EnteredAt.UTC(),
			DurationMinutes: iv.DurationMinutes,
		}
		if iv.ExitedAt != nil {
			exited := iv.ExitedAt.UTC()
			rec.ExitedAt = &exited
		}
		out = append(out, rec)
	}
	return out
}

// WriteIntervalsParquet writes records to outputPath, replacing any existing file.
func WriteIntervalsParquet(data []IntervalRecord, outputPath string) (err error) {
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close output file: %w", cerr)
		}
	}()

	// Schema is derived from the IntervalRecord struct tags
	writer := parquet.NewGenericWriter[IntervalRecord](file)

	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return fmt.Errorf("failed to write data to parquet file: %w", err)
	}
	// Close flushes the final row group and footer
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finalize parquet file: %w", err)
	}
	return nil
}
