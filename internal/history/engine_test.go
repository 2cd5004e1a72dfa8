package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC)

// hoursAgo returns a timestamp relative to testNow.
func hoursAgo(h float64) time.Time {
	return testNow.Add(-time.Duration(h * float64(time.Hour)))
}

func transition(t time.Time, from, to string) ChangeEvent {
	return ChangeEvent{ChangedAt: t, Field: "status", From: from, To: to}
}

func newTestEngine(feed ChangeFeed, store Store) *Engine {
	return NewEngine(feed, store, Options{
		Now:      func() time.Time { return testNow },
		PageSize: 2,
		RunID:    "test",
	})
}

func assertNoOverlap(t *testing.T, rows []Interval) {
	t.Helper()
	open := map[[2]string]int{}
	for _, r := range rows {
		if r.IsOpen() {
			open[[2]string{r.IssueKey, r.Status}]++
			continue
		}
		assert.True(t, r.EnteredAt.Before(*r.ExitedAt), "%s/%s closes at or before entry", r.IssueKey, r.Status)
		require.NotNil(t, r.DurationMinutes)
		assert.Equal(t, r.ExitedAt.Sub(r.EnteredAt).Minutes(), *r.DurationMinutes)
	}
	for k, n := range open {
		assert.LessOrEqual(t, n, 1, "%v has %d open intervals", k, n)
	}
}

func TestEngine_OpenBackfillFromCreation(t *testing.T) {
	created := hoursAgo(24 * 30)
	t1 := hoursAgo(10)
	store := newMemStore(DefaultJobName, time.Time{})
	feed := &pagedFeed{issues: []IssueChanges{{
		Key:       "BUG-1",
		CreatedAt: created,
		Events:    []ChangeEvent{transition(t1, "Open", "Moved To Product")},
	}}}

	summary, err := newTestEngine(feed, store).Run(context.Background())
	require.NoError(t, err)

	open := store.rowsFor("BUG-1", "Open")
	require.Len(t, open, 1)
	assert.Equal(t, created, open[0].EnteredAt)
	require.NotNil(t, open[0].ExitedAt)
	assert.Equal(t, t1, *open[0].ExitedAt)
	assert.Equal(t, t1.Sub(created).Minutes(), *open[0].DurationMinutes)

	mtp := store.rowsFor("BUG-1", "Moved To Product")
	require.Len(t, mtp, 1)
	assert.Equal(t, t1, mtp[0].EnteredAt)
	assert.True(t, mtp[0].IsOpen())

	assert.Equal(t, 1, summary.Backfilled)
	assert.Equal(t, 1, summary.Closed)
	assert.Equal(t, 1, summary.Opened)
}

func TestEngine_NoBackfillWhenCreatedAfterTransition(t *testing.T) {
	t1 := hoursAgo(10)
	store := newMemStore(DefaultJobName, time.Time{})
	feed := &pagedFeed{issues: []IssueChanges{{
		Key:       "BUG-1",
		CreatedAt: t1,
		Events:    []ChangeEvent{transition(t1, "Open", "Moved To Engg")},
	}}}

	_, err := newTestEngine(feed, store).Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, store.rowsFor("BUG-1", "Open"))
	assert.Len(t, store.rowsFor("BUG-1", "Moved To Engg"), 1)
}

func TestEngine_UntrackedTargetClosesSource(t *testing.T) {
	t0, t1 := hoursAgo(20), hoursAgo(5)
	store := newMemStore(DefaultJobName, time.Time{})
	feed := &pagedFeed{issues: []IssueChanges{{
		Key:       "BUG-2",
		CreatedAt: hoursAgo(100),
		Events: []ChangeEvent{
			transition(t0, "Moved To Engg", "Engg Review In Progress"),
			transition(t1, "Engg Review In Progress", "Resolved"),
		},
	}}}

	_, err := newTestEngine(feed, store).Run(context.Background())
	require.NoError(t, err)

	rows := store.rowsFor("BUG-2", "Engg Review In Progress")
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].ExitedAt)
	assert.Equal(t, t1, *rows[0].ExitedAt)
	assert.Empty(t, store.rowsFor("BUG-2", "Resolved"))
	// Moved To Engg was never seen opening inside the window.
	assert.Empty(t, store.rowsFor("BUG-2", "Moved To Engg"))
}

func TestEngine_SortsUnorderedEvents(t *testing.T) {
	t1, t2 := hoursAgo(8), hoursAgo(2)
	events := []ChangeEvent{
		transition(t2, "Needs More Info", "Moved To Engg"),
		transition(t1, "Moved To Product", "Needs More Info"),
	}
	store := newMemStore(DefaultJobName, time.Time{})
	feed := &pagedFeed{issues: []IssueChanges{{Key: "BUG-3", CreatedAt: hoursAgo(100), Events: events}}}

	_, err := newTestEngine(feed, store).Run(context.Background())
	require.NoError(t, err)

	nmi := store.rowsFor("BUG-3", "Needs More Info")
	require.Len(t, nmi, 1)
	require.NotNil(t, nmi[0].ExitedAt, "interval must be closed once events are sorted")
	assert.Equal(t, t1, nmi[0].EnteredAt)
	assert.Equal(t, t2, *nmi[0].ExitedAt)
	assert.Greater(t, *nmi[0].DurationMinutes, 0.0)

	// The caller's slice keeps its delivery order.
	assert.Equal(t, t2, events[0].ChangedAt)
	assertNoOverlap(t, store.snapshot())
}

func TestEngine_StableOrderOnTies(t *testing.T) {
	t1 := hoursAgo(3)
	store := newMemStore(DefaultJobName, time.Time{})
	feed := &pagedFeed{issues: []IssueChanges{{
		Key:       "BUG-4",
		CreatedAt: hoursAgo(100),
		Events: []ChangeEvent{
			transition(hoursAgo(6), "Open", "Moved To Product"),
			transition(t1, "Moved To Product", "Moved To Engg"),
			{ChangedAt: t1, Field: "assignee", From: "a", To: "b"},
			transition(t1, "Moved To Engg", "Needs More Info"),
		},
	}}}

	_, err := newTestEngine(feed, store).Run(context.Background())
	require.NoError(t, err)

	// Moved To Engg opens and is skipped for closing at the same instant.
	mte := store.rowsFor("BUG-4", "Moved To Engg")
	require.Len(t, mte, 1)
	assert.True(t, mte[0].IsOpen())
	nmi := store.rowsFor("BUG-4", "Needs More Info")
	require.Len(t, nmi, 1)
	assert.Equal(t, t1, nmi[0].EnteredAt)
}

func TestEngine_SkipsCloseAtOrBeforeEntry(t *testing.T) {
	t1 := hoursAgo(4)
	store := newMemStore(DefaultJobName, time.Time{})
	feed := &pagedFeed{issues: []IssueChanges{{
		Key:       "BUG-5",
		CreatedAt: hoursAgo(100),
		Events: []ChangeEvent{
			transition(t1, "Moved To Product", "Moved To Engg"),
			transition(t1, "Moved To Engg", "Resolved"),
		},
	}}}

	summary, err := newTestEngine(feed, store).Run(context.Background())
	require.NoError(t, err)

	rows := store.rowsFor("BUG-5", "Moved To Engg")
	require.Len(t, rows, 1)
	assert.True(t, rows[0].IsOpen())
	assert.Equal(t, 1, summary.SkippedCloses)
}

func TestEngine_IgnoresEventsOutsideWindow(t *testing.T) {
	store := newMemStore(DefaultJobName, time.Time{})
	feed := &pagedFeed{issues: []IssueChanges{{
		Key:       "BUG-6",
		CreatedAt: hoursAgo(500),
		Events: []ChangeEvent{
			transition(hoursAgo(49), "Moved To Product", "Moved To Engg"),
			transition(testNow.Add(time.Minute), "Moved To Engg", "Needs More Info"),
			transition(hoursAgo(48), "Moved To Engg", "PST Review In Progress"),
		},
	}}}

	summary, err := newTestEngine(feed, store).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.OutOfWindow)
	assert.Empty(t, store.rowsFor("BUG-6", "Moved To Engg"))
	assert.Empty(t, store.rowsFor("BUG-6", "Needs More Info"))
	// The window start is inclusive.
	assert.Len(t, store.rowsFor("BUG-6", "PST Review In Progress"), 1)
}

func TestEngine_Idempotent(t *testing.T) {
	issues := []IssueChanges{
		{
			Key:       "BUG-7",
			CreatedAt: hoursAgo(300),
			Events: []ChangeEvent{
				transition(hoursAgo(30), "Open", "Moved To Product"),
				transition(hoursAgo(20), "Moved To Product", "Needs More Info"),
				transition(hoursAgo(10), "Needs More Info", "Moved To Product"),
				transition(hoursAgo(5), "Moved To Product", "Open"),
			},
		},
		{
			Key:       "BUG-8",
			CreatedAt: hoursAgo(12),
			Events: []ChangeEvent{
				transition(hoursAgo(11), "Open", "Engg Review In Progress"),
				{ChangedAt: hoursAgo(9), Field: "priority", From: "Low", To: "High"},
			},
		},
		{Key: "BUG-9", CreatedAt: hoursAgo(1)},
	}
	store := newMemStore(DefaultJobName, time.Time{})
	engine := newTestEngine(&pagedFeed{issues: issues}, store)

	_, err := engine.Run(context.Background())
	require.NoError(t, err)
	first := store.snapshot()

	second, err := engine.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first, store.snapshot())
	assert.Zero(t, second.Opened)
	assert.Zero(t, second.Closed)
	assertNoOverlap(t, store.snapshot())
}

func TestEngine_ReentryClosesPreviousOpen(t *testing.T) {
	t1, t2 := hoursAgo(10), hoursAgo(2)
	store := newMemStore(DefaultJobName, time.Time{})
	feed := &pagedFeed{issues: []IssueChanges{{
		Key:       "BUG-10",
		CreatedAt: hoursAgo(100),
		Events: []ChangeEvent{
			transition(t1, "Resolved", "Moved To Engg"),
			// The exit from Moved To Engg was never recorded.
			transition(t2, "Reopened", "Moved To Engg"),
		},
	}}}

	summary, err := newTestEngine(feed, store).Run(context.Background())
	require.NoError(t, err)

	rows := store.rowsFor("BUG-10", "Moved To Engg")
	require.Len(t, rows, 2)
	require.NotNil(t, rows[0].ExitedAt)
	assert.Equal(t, t2, *rows[0].ExitedAt)
	assert.True(t, rows[1].IsOpen())
	assert.Equal(t, 1, summary.Superseded)
	assertNoOverlap(t, store.snapshot())
}

func TestEngine_LateEarlierEntryIsStale(t *testing.T) {
	t1, t2, t3 := hoursAgo(20), hoursAgo(15), hoursAgo(10)
	store := newMemStore(DefaultJobName, time.Time{})
	feed := &pagedFeed{issues: []IssueChanges{{
		Key:       "BUG-11",
		CreatedAt: hoursAgo(100),
		Events:    []ChangeEvent{transition(t3, "Resolved", "Moved To Engg")},
	}}}

	_, err := newTestEngine(feed, store).Run(context.Background())
	require.NoError(t, err)

	// An earlier visit shows up in the changelog after the first run.
	feed.issues[0].Events = []ChangeEvent{
		transition(t1, "Resolved", "Moved To Engg"),
		transition(t2, "Moved To Engg", "Resolved"),
		transition(t3, "Resolved", "Moved To Engg"),
	}

	summary, err := newTestEngine(feed, store).Run(context.Background())
	require.NoError(t, err)

	rows := store.rowsFor("BUG-11", "Moved To Engg")
	require.Len(t, rows, 1)
	assert.Equal(t, t3, rows[0].EnteredAt)
	assert.True(t, rows[0].IsOpen())
	assert.Equal(t, 1, summary.Stale)
	assert.Equal(t, 1, summary.SkippedCloses)
	assert.Equal(t, 0, summary.Opened)
	assertNoOverlap(t, store.snapshot())
}

func TestEngine_PaginationStopsAtTotal(t *testing.T) {
	var issues []IssueChanges
	for _, key := range []string{"A-1", "A-2", "A-3", "A-4", "A-5"} {
		issues = append(issues, IssueChanges{
			Key:       key,
			CreatedAt: hoursAgo(100),
			Events:    []ChangeEvent{transition(hoursAgo(1), "Open", "Moved To Product")},
		})
	}
	feed := &pagedFeed{issues: issues}
	store := newMemStore(DefaultJobName, time.Time{})

	summary, err := newTestEngine(feed, store).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int{0, 2, 4}, feed.calls)
	assert.Equal(t, 3, summary.Pages)
	assert.Equal(t, 5, summary.Issues)
	assert.Equal(t, 5, store.commits)
}

func TestEngine_PaginationStopsOnEmptyPage(t *testing.T) {
	feed := &pagedFeed{
		issues: []IssueChanges{{Key: "A-1"}, {Key: "A-2"}},
		total:  10, // overstated by the tracker
	}
	store := newMemStore(DefaultJobName, time.Time{})

	summary, err := newTestEngine(feed, store).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int{0, 2}, feed.calls)
	assert.Equal(t, 1, summary.Pages)
	assert.Equal(t, testNow, store.watermarks[DefaultJobName])
}

func TestEngine_FeedFailureLeavesWatermark(t *testing.T) {
	prev := hoursAgo(24)
	feed := &pagedFeed{err: errors.New("connection refused")}
	store := newMemStore(DefaultJobName, prev)

	_, err := newTestEngine(feed, store).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, prev, store.watermarks[DefaultJobName])
}

func TestEngine_WatermarkFailureThenRerun(t *testing.T) {
	prev := hoursAgo(24)
	issues := []IssueChanges{{
		Key:       "BUG-11",
		CreatedAt: hoursAgo(200),
		Events: []ChangeEvent{
			transition(hoursAgo(10), "Open", "Needs More Info"),
			transition(hoursAgo(3), "Needs More Info", "Moved To Engg"),
		},
	}}
	store := newMemStore(DefaultJobName, prev)
	store.setWatermarkErr = errors.New("disk full")
	engine := newTestEngine(&pagedFeed{issues: issues}, store)

	_, err := engine.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, prev, store.watermarks[DefaultJobName], "watermark must not move on failure")
	afterCrash := store.snapshot()
	require.Len(t, afterCrash, 3, "interval writes committed before the watermark")

	_, err = engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, afterCrash, store.snapshot())
	assert.Equal(t, testNow, store.watermarks[DefaultJobName])
}

func TestEngine_FailedIssueRollsBackOnlyItself(t *testing.T) {
	issues := []IssueChanges{
		{Key: "OK-1", CreatedAt: hoursAgo(50), Events: []ChangeEvent{transition(hoursAgo(2), "Open", "Moved To Engg")}},
		{Key: "BAD-1", CreatedAt: hoursAgo(50), Events: []ChangeEvent{transition(hoursAgo(2), "Open", "Moved To Engg")}},
	}
	store := newMemStore(DefaultJobName, time.Time{})
	store.insertErr["BAD-1"] = errors.New("constraint violation")

	_, err := newTestEngine(&pagedFeed{issues: issues}, store).Run(context.Background())
	require.Error(t, err)

	assert.Len(t, store.rowsFor("OK-1", "Moved To Engg"), 1)
	assert.Empty(t, store.rowsFor("BAD-1", "Open"))
	assert.Empty(t, store.rowsFor("BAD-1", "Moved To Engg"))
	assert.Equal(t, 1, store.commits)
	assert.Equal(t, 1, store.rollbacks)
	assert.True(t, store.watermarks[DefaultJobName].IsZero())
}

func TestEngine_MissingWatermark(t *testing.T) {
	feed := &pagedFeed{}
	store := newMemStore("other_job", time.Time{})

	_, err := newTestEngine(feed, store).Run(context.Background())
	require.ErrorIs(t, err, ErrWatermarkNotFound)
	assert.Empty(t, feed.calls)
}

func TestEngine_CustomTrackedStatuses(t *testing.T) {
	store := newMemStore(DefaultJobName, time.Time{})
	feed := &pagedFeed{issues: []IssueChanges{{
		Key:       "BUG-12",
		CreatedAt: hoursAgo(100),
		Events: []ChangeEvent{
			transition(hoursAgo(6), "To Do", "In Progress"),
			transition(hoursAgo(2), "In Progress", "Moved To Engg"),
		},
	}}}
	engine := NewEngine(feed, store, Options{
		Now:     func() time.Time { return testNow },
		Tracked: NewStatusSet("In Progress"),
	})

	_, err := engine.Run(context.Background())
	require.NoError(t, err)

	rows := store.rowsFor("BUG-12", "In Progress")
	require.Len(t, rows, 1)
	assert.False(t, rows[0].IsOpen())
	assert.Empty(t, store.rowsFor("BUG-12", "Moved To Engg"))
}

func TestEngine_Window(t *testing.T) {
	wm := hoursAgo(24 * 7)
	tests := []struct {
		name      string
		policy    WindowPolicy
		watermark time.Time
		wantStart time.Time
	}{
		{"buffered ignores watermark", WindowBuffered, wm, hoursAgo(48)},
		{"since watermark widens", WindowSinceWatermark, wm, wm.Add(-48 * time.Hour)},
		{"since recent watermark", WindowSinceWatermark, hoursAgo(1), hoursAgo(49)},
		{"since future watermark keeps buffer", WindowSinceWatermark, testNow.Add(time.Hour), hoursAgo(48)},
		{"since zero watermark keeps buffer", WindowSinceWatermark, time.Time{}, hoursAgo(48)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore(DefaultJobName, tt.watermark)
			engine := NewEngine(&pagedFeed{}, store, Options{
				Now:    func() time.Time { return testNow },
				Policy: tt.policy,
			})
			w, got, err := engine.Window(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.wantStart, w.Start)
			assert.Equal(t, testNow, w.End)
			assert.Equal(t, tt.watermark, got)
		})
	}
}

func TestParseWindowPolicy(t *testing.T) {
	p, err := ParseWindowPolicy("")
	require.NoError(t, err)
	assert.Equal(t, WindowBuffered, p)

	p, err = ParseWindowPolicy("since-watermark")
	require.NoError(t, err)
	assert.Equal(t, WindowSinceWatermark, p)

	_, err = ParseWindowPolicy("forever")
	assert.Error(t, err)
}

func TestStatusSet(t *testing.T) {
	s := NewStatusSet("Open", "", "Needs More Info", "Open")
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, []string{"Open", "Needs More Info"}, s.Names())
	assert.True(t, s.Contains("Open"))
	assert.False(t, s.Contains("open"), "matching is exact")
	assert.False(t, s.Contains(""))
}
