package history

import (
	"time"
)

// StatusField is the changelog field name that carries workflow transitions.
const StatusField = "status"

// Interval is one contiguous period an issue spent in one tracked status.
// An Interval without ExitedAt is open: the issue is still in that status.
type Interval struct {
	ID              int64
	IssueKey        string
	Status          string
	EnteredAt       time.Time
	ExitedAt        *time.Time
	DurationMinutes *float64
}

// IsOpen reports whether the interval has not been closed yet.
func (iv Interval) IsOpen() bool {
	return iv.ExitedAt == nil
}

// Duration returns the closed length of the interval, or zero while open.
func (iv Interval) Duration() time.Duration {
	if iv.ExitedAt == nil {
		return 0
	}
	return iv.ExitedAt.Sub(iv.EnteredAt)
}

// DurationMinutes is the canonical minute count stored alongside a closed interval.
func DurationMinutes(enteredAt, exitedAt time.Time) float64 {
	return exitedAt.Sub(enteredAt).Minutes()
}

// ChangeEvent is a single field change taken from an issue changelog.
type ChangeEvent struct {
	ChangedAt time.Time
	Field     string
	From      string
	To        string
}

// IssueChanges bundles an issue with the change events attributable to it.
// Events are in feed-delivery order, which is not necessarily chronological.
type IssueChanges struct {
	Key       string
	CreatedAt time.Time
	Events    []ChangeEvent
}

// Page is one slice of the change feed.
type Page struct {
	Issues []IssueChanges
	Total  int
}

// Window is the processing range. Both ends are inclusive.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}
