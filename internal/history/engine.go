// Package history rebuilds per-status residency intervals from issue changelogs.
//
// The Engine pages through a ChangeFeed and reconciles every status transition
// against a Store, one transaction per issue. All writes are idempotent, so a
// crashed or repeated run converges on the same rows once re-run.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
)

// WindowPolicy decides where a run's processing window starts.
type WindowPolicy string

const (
	// WindowBuffered re-scans a fixed trailing buffer ending now. The watermark is
	// recorded but never moves the window.
	WindowBuffered WindowPolicy = "buffered"
	// WindowSinceWatermark starts one buffer before the last successful run, which
	// lets the job catch up after an outage longer than the buffer.
	WindowSinceWatermark WindowPolicy = "since-watermark"
)

// ParseWindowPolicy validates a policy name. An empty name is WindowBuffered.
func ParseWindowPolicy(s string) (WindowPolicy, error) {
	switch WindowPolicy(s) {
	case "", WindowBuffered:
		return WindowBuffered, nil
	case WindowSinceWatermark:
		return WindowSinceWatermark, nil
	default:
		return "", fmt.Errorf("unknown window policy %q (want %q or %q)", s, WindowBuffered, WindowSinceWatermark)
	}
}

const (
	DefaultJobName  = "status_etl"
	DefaultLookback = 48 * time.Hour
	DefaultPageSize = 50
)

// Options configures an Engine. Zero values fall back to the defaults above.
type Options struct {
	JobName  string
	Lookback time.Duration
	PageSize int
	Tracked  StatusSet
	Policy   WindowPolicy
	// Now is the clock used to compute the window.
	Now func() time.Time
	// RunID tags log lines; a ULID is generated when empty.
	RunID string
}

// Counts tallies what reconciliation did.
type Counts struct {
	Events        int
	StatusEvents  int
	OutOfWindow   int
	Opened        int
	Duplicates    int
	Closed        int
	SkippedCloses int
	Backfilled    int
	Superseded    int
	Stale         int
}

func (c *Counts) add(o Counts) {
	c.Events += o.Events
	c.StatusEvents += o.StatusEvents
	c.OutOfWindow += o.OutOfWindow
	c.Opened += o.Opened
	c.Duplicates += o.Duplicates
	c.Closed += o.Closed
	c.SkippedCloses += o.SkippedCloses
	c.Backfilled += o.Backfilled
	c.Superseded += o.Superseded
	c.Stale += o.Stale
}

// RunSummary describes a finished run.
type RunSummary struct {
	RunID             string
	Window            Window
	PreviousWatermark time.Time
	Pages             int
	Issues            int
	Counts
}

// Engine drives the feed and reconciles intervals into the store.
type Engine struct {
	feed  ChangeFeed
	store Store
	opts  Options
}

// NewEngine wires an Engine to its collaborators.
func NewEngine(feed ChangeFeed, store Store, opts Options) *Engine {
	if opts.JobName == "" {
		opts.JobName = DefaultJobName
	}
	if opts.Lookback <= 0 {
		opts.Lookback = DefaultLookback
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.Tracked.Len() == 0 {
		opts.Tracked = NewStatusSet(DefaultTrackedStatuses...)
	}
	if opts.Policy == "" {
		opts.Policy = WindowBuffered
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{feed: feed, store: store, opts: opts}
}

// Window reads the watermark and computes the processing window for a run
// starting now. It returns the watermark alongside the window.
func (e *Engine) Window(ctx context.Context) (Window, time.Time, error) {
	wm, err := e.store.Watermark(ctx, e.opts.JobName)
	if err != nil {
		return Window{}, time.Time{}, fmt.Errorf("read watermark for %q: %w", e.opts.JobName, err)
	}
	return e.windowAt(e.opts.Now().UTC(), wm), wm, nil
}

func (e *Engine) windowAt(now, watermark time.Time) Window {
	start := now.Add(-e.opts.Lookback)
	if e.opts.Policy == WindowSinceWatermark && !watermark.IsZero() {
		if s := watermark.UTC().Add(-e.opts.Lookback); s.Before(start) {
			start = s
		}
	}
	return Window{Start: start, End: now}
}

// Run executes one full pass: window, pagination, per-issue reconciliation and
// finally the watermark. The watermark is only written after every page has
// been committed; any error leaves it untouched.
func (e *Engine) Run(ctx context.Context) (*RunSummary, error) {
	runID := e.opts.RunID
	if runID == "" {
		runID = ulid.Make().String()
	}
	logger := log.With().Str("run_id", runID).Str("job", e.opts.JobName).Logger()

	window, wm, err := e.Window(ctx)
	if err != nil {
		return nil, err
	}

	summary := &RunSummary{RunID: runID, Window: window, PreviousWatermark: wm}
	logger.Info().
		Time("from", window.Start).
		Time("to", window.End).
		Time("last_run", wm).
		Str("policy", string(e.opts.Policy)).
		Msg("ETL running")

	offset := 0
	for {
		page, err := e.feed.FetchPage(ctx, window, offset, e.opts.PageSize)
		if err != nil {
			return summary, fmt.Errorf("fetch page at offset %d: %w", offset, err)
		}
		if len(page.Issues) == 0 {
			break
		}
		summary.Pages++

		for _, issue := range page.Issues {
			if err := ctx.Err(); err != nil {
				return summary, err
			}
			counts, err := e.ReconcileIssue(ctx, window, issue)
			if err != nil {
				return summary, err
			}
			summary.Issues++
			summary.add(counts)
		}

		offset += len(page.Issues)
		logger.Debug().Int("offset", offset).Int("total", page.Total).Msg("Page reconciled")
		if offset >= page.Total {
			break
		}
	}

	if err := e.store.SetWatermark(ctx, e.opts.JobName, window.End); err != nil {
		return summary, fmt.Errorf("advance watermark for %q: %w", e.opts.JobName, err)
	}

	logger.Info().
		Int("pages", summary.Pages).
		Int("issues", summary.Issues).
		Int("status_events", summary.StatusEvents).
		Int("opened", summary.Opened).
		Int("closed", summary.Closed).
		Int("skipped_closes", summary.SkippedCloses).
		Int("backfilled", summary.Backfilled).
		Int("superseded", summary.Superseded).
		Msg("ETL completed successfully")
	return summary, nil
}
