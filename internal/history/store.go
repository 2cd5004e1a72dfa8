package history

import (
	"context"
	"errors"
	"time"
)

// ErrWatermarkNotFound is returned when no watermark row exists for a job.
// Watermarks are seeded out-of-band; the engine never creates one.
var ErrWatermarkNotFound = errors.New("watermark not found")

// ErrIntervalNotOpen is returned by CloseInterval when the target row is already
// closed, missing, or would end at or before its start.
var ErrIntervalNotOpen = errors.New("interval not open or exit not after entry")

// ChangeFeed yields issues with their changelog, one page at a time.
// Pages are addressed by offset so a feed can be restarted anywhere.
type ChangeFeed interface {
	FetchPage(ctx context.Context, window Window, offset, limit int) (*Page, error)
}

// Store persists intervals and the run watermark.
type Store interface {
	// Begin opens the transaction that one issue's reconciliation runs in.
	Begin(ctx context.Context) (Tx, error)
	// Watermark returns the last successful run end for job.
	Watermark(ctx context.Context, job string) (time.Time, error)
	// SetWatermark overwrites the watermark for job.
	SetWatermark(ctx context.Context, job string, at time.Time) error
}

// IntervalWriter is the set of interval operations available inside a transaction.
type IntervalWriter interface {
	// FindLatestOpen returns the most recently entered open interval, or nil.
	FindLatestOpen(ctx context.Context, issueKey, status string) (*Interval, error)
	// InsertIfAbsent opens an interval. A natural-key conflict is a silent no-op
	// and reports false.
	InsertIfAbsent(ctx context.Context, issueKey, status string, enteredAt time.Time) (bool, error)
	// BackfillOpen inserts (issueKey, status, enteredAt) if absent and returns the
	// latest open interval for the pair afterwards, or nil.
	BackfillOpen(ctx context.Context, issueKey, status string, enteredAt time.Time) (*Interval, error)
	// CloseInterval sets exited_at and duration_minutes on an open interval.
	// Implementations must refuse to close at or before EnteredAt.
	CloseInterval(ctx context.Context, iv *Interval, exitedAt time.Time) error
}

// Tx is a unit of work committed once per issue.
type Tx interface {
	IntervalWriter
	Commit() error
	Rollback() error
}
