package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"jira-status-etl/internal/history"
)

// intervalTx applies one issue's changes inside a database transaction.
type intervalTx struct {
	tx    *sql.Tx
	store *Store
}

var _ history.Tx = (*intervalTx)(nil)

func (t *intervalTx) Commit() error {
	return t.tx.Commit()
}

func (t *intervalTx) Rollback() error {
	return t.tx.Rollback()
}

// FindLatestOpen returns the most recently entered open row, or nil.
func (t *intervalTx) FindLatestOpen(ctx context.Context, issueKey, status string) (*history.Interval, error) {
	q := t.store.rebind(`SELECT id, issue_key, status, entered_at
		FROM ` + intervalsTable + `
		WHERE issue_key = ? AND status = ? AND exited_at IS NULL
		ORDER BY entered_at DESC
		LIMIT 1`)

	var (
		iv      history.Interval
		entered nullTime
	)
	err := t.tx.QueryRowContext(ctx, q, issueKey, status).Scan(&iv.ID, &iv.IssueKey, &iv.Status, &entered)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find open %s/%s: %w", issueKey, status, err)
	}
	iv.EnteredAt = entered.Time
	return &iv, nil
}

// InsertIfAbsent inserts an open row unless the natural key already exists.
func (t *intervalTx) InsertIfAbsent(ctx context.Context, issueKey, status string, enteredAt time.Time) (bool, error) {
	var q string
	switch t.store.backend {
	case MySQL:
		// affected rows is 0 when the duplicate-key branch leaves the row untouched
		q = `INSERT INTO ` + intervalsTable + ` (issue_key, status, entered_at)
			VALUES (?, ?, ?)
			ON DUPLICATE KEY UPDATE id = id`
	default:
		q = `INSERT INTO ` + intervalsTable + ` (issue_key, status, entered_at)
			VALUES (?, ?, ?)
			ON CONFLICT (issue_key, status, entered_at) DO NOTHING`
	}

	res, err := t.tx.ExecContext(ctx, t.store.rebind(q), issueKey, status, t.store.timeArg(enteredAt))
	if err != nil {
		return false, fmt.Errorf("insert %s/%s at %s: %w", issueKey, status, enteredAt.Format(time.RFC3339), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert %s/%s: rows affected: %w", issueKey, status, err)
	}
	return n > 0, nil
}

// BackfillOpen inserts the row if needed and returns the open row for the pair.
func (t *intervalTx) BackfillOpen(ctx context.Context, issueKey, status string, enteredAt time.Time) (*history.Interval, error) {
	if _, err := t.InsertIfAbsent(ctx, issueKey, status, enteredAt); err != nil {
		return nil, err
	}
	// nil when the natural key exists but that row is already closed
	return t.FindLatestOpen(ctx, issueKey, status)
}

// CloseInterval sets exit time and duration on an open row. It returns
// history.ErrIntervalNotOpen when the row is already closed or exitedAt is
// not after the entry.
func (t *intervalTx) CloseInterval(ctx context.Context, iv *history.Interval, exitedAt time.Time) error {
	exitedAt = exitedAt.UTC()
	minutes := history.DurationMinutes(iv.EnteredAt, exitedAt)

	q := t.store.rebind(`UPDATE ` + intervalsTable + `
		SET exited_at = ?, duration_minutes = ?
		WHERE id = ? AND exited_at IS NULL AND entered_at < ?`)

	exitArg := t.store.timeArg(exitedAt)
	res, err := t.tx.ExecContext(ctx, q, exitArg, minutes, iv.ID, exitArg)
	if err != nil {
		return fmt.Errorf("close %s/%s: %w", iv.IssueKey, iv.Status, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("close %s/%s: rows affected: %w", iv.IssueKey, iv.Status, err)
	}
	if n == 0 {
		return fmt.Errorf("close %s/%s (id %d): %w", iv.IssueKey, iv.Status, iv.ID, history.ErrIntervalNotOpen)
	}

	iv.ExitedAt = &exitedAt
	iv.DurationMinutes = &minutes
	return nil
}
