package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"jira-status-etl/internal/history"
)

// Watermark returns the last successful run end for job.
func (s *Store) Watermark(ctx context.Context, job string) (time.Time, error) {
	q := s.rebind(`SELECT last_run FROM ` + metadataTable + ` WHERE etl_name = ?`)

	var last nullTime
	err := s.db.QueryRowContext(ctx, q, job).Scan(&last)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, fmt.Errorf("job %q: %w", job, history.ErrWatermarkNotFound)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("read watermark for %q: %w", job, err)
	}
	return last.Time, nil
}

// SetWatermark updates an existing watermark row. It never creates one.
func (s *Store) SetWatermark(ctx context.Context, job string, at time.Time) error {
	q := s.rebind(`UPDATE ` + metadataTable + ` SET last_run = ? WHERE etl_name = ?`)

	res, err := s.db.ExecContext(ctx, q, s.timeArg(at), job)
	if err != nil {
		return fmt.Errorf("update watermark for %q: %w", job, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update watermark for %q: rows affected: %w", job, err)
	}
	if n > 0 {
		return nil
	}

	// MySQL reports changed rows, so an unchanged value also yields 0.
	if _, err := s.Watermark(ctx, job); err != nil {
		return err
	}
	return nil
}

// SeedWatermark creates the watermark row for job unless it exists.
// It reports whether a row was inserted.
func (s *Store) SeedWatermark(ctx context.Context, job string, at time.Time) (bool, error) {
	var q string
	switch s.backend {
	case MySQL:
		q = `INSERT INTO ` + metadataTable + ` (etl_name, last_run) VALUES (?, ?)
			ON DUPLICATE KEY UPDATE etl_name = etl_name`
	default:
		q = `INSERT INTO ` + metadataTable + ` (etl_name, last_run) VALUES (?, ?)
			ON CONFLICT (etl_name) DO NOTHING`
	}

	res, err := s.db.ExecContext(ctx, s.rebind(q), job, s.timeArg(at))
	if err != nil {
		return false, fmt.Errorf("seed watermark for %q: %w", job, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("seed watermark for %q: rows affected: %w", job, err)
	}
	return n > 0, nil
}

// Watermarks lists every job's watermark.
func (s *Store) Watermarks(ctx context.Context) (map[string]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT etl_name, last_run FROM `+metadataTable+` ORDER BY etl_name`)
	if err != nil {
		return nil, fmt.Errorf("list watermarks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]time.Time)
	for rows.Next() {
		var (
			name string
			last nullTime
		)
		if err := rows.Scan(&name, &last); err != nil {
			return nil, fmt.Errorf("scan watermark: %w", err)
		}
		out[name] = last.Time
	}
	return out, rows.Err()
}
