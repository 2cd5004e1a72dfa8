package history

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/rs/zerolog/log"
)

// ReconcileIssue applies one issue's status transitions inside a single
// transaction. Events are sorted by time (stable, so ties keep feed order)
// and anything outside the window is dropped before touching the store.
func (e *Engine) ReconcileIssue(ctx context.Context, window Window, issue IssueChanges) (Counts, error) {
	var c Counts
	events := e.statusEvents(window, issue, &c)
	if len(events) == 0 {
		return c, nil
	}

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return Counts{}, fmt.Errorf("begin transaction for %s: %w", issue.Key, err)
	}

	for _, ev := range events {
		if err := e.apply(ctx, tx, issue, ev, &c); err != nil {
			_ = tx.Rollback()
			return Counts{}, fmt.Errorf("reconcile %s %q -> %q at %s: %w",
				issue.Key, ev.From, ev.To, ev.ChangedAt.Format("2006-01-02T15:04:05Z07:00"), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Counts{}, fmt.Errorf("commit %s: %w", issue.Key, err)
	}

	log.Debug().
		Str("issue", issue.Key).
		Int("status_events", c.StatusEvents).
		Int("opened", c.Opened).
		Int("closed", c.Closed).
		Msg("Issue reconciled")
	return c, nil
}

// statusEvents returns the issue's in-window status changes in chronological order.
func (e *Engine) statusEvents(window Window, issue IssueChanges, c *Counts) []ChangeEvent {
	c.Events += len(issue.Events)

	sorted := slices.Clone(issue.Events)
	slices.SortStableFunc(sorted, func(a, b ChangeEvent) int {
		return a.ChangedAt.Compare(b.ChangedAt)
	})

	out := sorted[:0]
	for _, ev := range sorted {
		if !strings.EqualFold(ev.Field, StatusField) {
			continue
		}
		if !window.Contains(ev.ChangedAt) {
			c.OutOfWindow++
			continue
		}
		ev.ChangedAt = ev.ChangedAt.UTC()
		out = append(out, ev)
	}
	c.StatusEvents += len(out)
	return out
}

func (e *Engine) apply(ctx context.Context, tx IntervalWriter, issue IssueChanges, ev ChangeEvent, c *Counts) error {
	if e.opts.Tracked.Contains(ev.From) {
		if err := e.closeFrom(ctx, tx, issue, ev, c); err != nil {
			return err
		}
	}
	if e.opts.Tracked.Contains(ev.To) {
		if err := e.openTo(ctx, tx, issue, ev, c); err != nil {
			return err
		}
	}
	return nil
}

// closeFrom ends the latest open interval of the status being left.
func (e *Engine) closeFrom(ctx context.Context, tx IntervalWriter, issue IssueChanges, ev ChangeEvent, c *Counts) error {
	t := ev.ChangedAt
	iv, err := tx.FindLatestOpen(ctx, issue.Key, ev.From)
	if err != nil {
		return fmt.Errorf("find open %q: %w", ev.From, err)
	}

	// The entry into Open predates the changelog window; creation time is the
	// only lower bound available. Never backfill at or after the transition,
	// the row could not be closed and would stay open forever.
	if iv == nil && ev.From == OpenStatus && !issue.CreatedAt.IsZero() && issue.CreatedAt.Before(t) {
		iv, err = tx.BackfillOpen(ctx, issue.Key, OpenStatus, issue.CreatedAt.UTC())
		if err != nil {
			return fmt.Errorf("backfill %q: %w", OpenStatus, err)
		}
		if iv != nil {
			c.Backfilled++
		}
	}

	if iv == nil {
		return nil
	}

	if !t.After(iv.EnteredAt) {
		c.SkippedCloses++
		log.Debug().
			Str("issue", issue.Key).
			Str("status", ev.From).
			Time("entered_at", iv.EnteredAt).
			Time("changed_at", t).
			Msg("Skipping close at or before interval start")
		return nil
	}

	if err := tx.CloseInterval(ctx, iv, t); err != nil {
		return fmt.Errorf("close %q: %w", ev.From, err)
	}
	c.Closed++
	return nil
}

// openTo records entry into the target status.
func (e *Engine) openTo(ctx context.Context, tx IntervalWriter, issue IssueChanges, ev ChangeEvent, c *Counts) error {
	t := ev.ChangedAt
	cur, err := tx.FindLatestOpen(ctx, issue.Key, ev.To)
	if err != nil {
		return fmt.Errorf("find open %q: %w", ev.To, err)
	}

	if cur != nil && !cur.EnteredAt.Equal(t) {
		if cur.EnteredAt.After(t) {
			// A later entry is already open; this event is older news.
			c.Stale++
			return nil
		}
		// Re-entry while still open: the exit was never observed.
		if err := tx.CloseInterval(ctx, cur, t); err != nil {
			return fmt.Errorf("close superseded %q: %w", ev.To, err)
		}
		c.Superseded++
	}

	inserted, err := tx.InsertIfAbsent(ctx, issue.Key, ev.To, t)
	if err != nil {
		return fmt.Errorf("open %q: %w", ev.To, err)
	}
	if inserted {
		c.Opened++
	} else {
		c.Duplicates++
	}
	return nil
}
