package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"jira-status-etl/internal/history"
)

// IntervalFilter narrows ListIntervals. Zero values match everything.
type IntervalFilter struct {
	IssueKey string
	Status   string
	OpenOnly bool
	// EnteredFrom and EnteredTo bound entered_at, inclusive.
	EnteredFrom time.Time
	EnteredTo   time.Time
	Limit       int
}

// Stats summarizes table contents for status output.
type Stats struct {
	Intervals     int64
	OpenIntervals int64
	Issues        int64
}

// ListIntervals returns rows ordered by issue, entry time and status.
func (s *Store) ListIntervals(ctx context.Context, f IntervalFilter) ([]history.Interval, error) {
	var (
		where []string
		args  []any
	)
	if f.IssueKey != "" {
		where = append(where, "issue_key = ?")
		args = append(args, f.IssueKey)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.OpenOnly {
		where = append(where, "exited_at IS NULL")
	}
	if !f.EnteredFrom.IsZero() {
		where = append(where, "entered_at >= ?")
		args = append(args, s.timeArg(f.EnteredFrom))
	}
	if !f.EnteredTo.IsZero() {
		where = append(where, "entered_at <= ?")
		args = append(args, s.timeArg(f.EnteredTo))
	}

	q := `SELECT id, issue_key, status, entered_at, exited_at, duration_minutes FROM ` + intervalsTable
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY issue_key, entered_at, status"
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("list intervals: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []history.Interval
	for rows.Next() {
		var (
			iv        history.Interval
			entered   nullTime
			exited    nullTime
			durMinute *float64
		)
		if err := rows.Scan(&iv.ID, &iv.IssueKey, &iv.Status, &entered, &exited, &durMinute); err != nil {
			return nil, fmt.Errorf("scan interval: %w", err)
		}
		iv.EnteredAt = entered.Time
		iv.ExitedAt = exited.ptr()
		iv.DurationMinutes = durMinute
		out = append(out, iv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list intervals: %w", err)
	}
	return out, nil
}

// Stats counts rows in the interval table.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	q := `SELECT COUNT(*),
		COALESCE(SUM(CASE WHEN exited_at IS NULL THEN 1 ELSE 0 END), 0),
		COUNT(DISTINCT issue_key)
		FROM ` + intervalsTable
	if err := s.db.QueryRowContext(ctx, q).Scan(&st.Intervals, &st.OpenIntervals, &st.Issues); err != nil {
		return st, fmt.Errorf("interval stats: %w", err)
	}
	return st, nil
}
