package history

import (
	"context"
	"errors"
	"slices"
	"sort"
	"time"
)

// memStore is a transactional in-memory Store. Each Tx works on a copy of the
// committed rows and only publishes them on Commit.
type memStore struct {
	rows       []Interval
	nextID     int64
	watermarks map[string]time.Time

	setWatermarkErr error
	insertErr       map[string]error // by issue key

	begins, commits, rollbacks int
}

func newMemStore(job string, wm time.Time) *memStore {
	return &memStore{
		nextID:     1,
		watermarks: map[string]time.Time{job: wm},
		insertErr:  map[string]error{},
	}
}

func (s *memStore) Begin(ctx context.Context) (Tx, error) {
	s.begins++
	return &memTx{store: s, rows: cloneRows(s.rows), nextID: s.nextID}, nil
}

func (s *memStore) Watermark(ctx context.Context, job string) (time.Time, error) {
	wm, ok := s.watermarks[job]
	if !ok {
		return time.Time{}, ErrWatermarkNotFound
	}
	return wm, nil
}

func (s *memStore) SetWatermark(ctx context.Context, job string, at time.Time) error {
	if s.setWatermarkErr != nil {
		err := s.setWatermarkErr
		s.setWatermarkErr = nil
		return err
	}
	if _, ok := s.watermarks[job]; !ok {
		return ErrWatermarkNotFound
	}
	s.watermarks[job] = at
	return nil
}

// snapshot returns committed rows sorted by natural key, without surrogate ids.
func (s *memStore) snapshot() []Interval {
	out := cloneRows(s.rows)
	for i := range out {
		out[i].ID = 0
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IssueKey != out[j].IssueKey {
			return out[i].IssueKey < out[j].IssueKey
		}
		if out[i].Status != out[j].Status {
			return out[i].Status < out[j].Status
		}
		return out[i].EnteredAt.Before(out[j].EnteredAt)
	})
	return out
}

func (s *memStore) rowsFor(issue, status string) []Interval {
	var out []Interval
	for _, r := range s.snapshot() {
		if r.IssueKey == issue && r.Status == status {
			out = append(out, r)
		}
	}
	return out
}

type memTx struct {
	store  *memStore
	rows   []Interval
	nextID int64
	done   bool
}

func (tx *memTx) FindLatestOpen(ctx context.Context, issueKey, status string) (*Interval, error) {
	var latest *Interval
	for i := range tx.rows {
		r := &tx.rows[i]
		if r.IssueKey != issueKey || r.Status != status || !r.IsOpen() {
			continue
		}
		if latest == nil || r.EnteredAt.After(latest.EnteredAt) {
			latest = r
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (tx *memTx) InsertIfAbsent(ctx context.Context, issueKey, status string, enteredAt time.Time) (bool, error) {
	if err := tx.store.insertErr[issueKey]; err != nil {
		return false, err
	}
	for _, r := range tx.rows {
		if r.IssueKey == issueKey && r.Status == status && r.EnteredAt.Equal(enteredAt) {
			return false, nil
		}
	}
	tx.rows = append(tx.rows, Interval{ID: tx.nextID, IssueKey: issueKey, Status: status, EnteredAt: enteredAt})
	tx.nextID++
	return true, nil
}

func (tx *memTx) BackfillOpen(ctx context.Context, issueKey, status string, enteredAt time.Time) (*Interval, error) {
	if _, err := tx.InsertIfAbsent(ctx, issueKey, status, enteredAt); err != nil {
		return nil, err
	}
	return tx.FindLatestOpen(ctx, issueKey, status)
}

func (tx *memTx) CloseInterval(ctx context.Context, iv *Interval, exitedAt time.Time) error {
	for i := range tx.rows {
		r := &tx.rows[i]
		if r.ID != iv.ID {
			continue
		}
		if !r.IsOpen() || !exitedAt.After(r.EnteredAt) {
			return ErrIntervalNotOpen
		}
		exit := exitedAt
		d := DurationMinutes(r.EnteredAt, exitedAt)
		r.ExitedAt = &exit
		r.DurationMinutes = &d
		return nil
	}
	return ErrIntervalNotOpen
}

func (tx *memTx) Commit() error {
	if tx.done {
		return errors.New("transaction already finished")
	}
	tx.done = true
	tx.store.rows = tx.rows
	tx.store.nextID = tx.nextID
	tx.store.commits++
	return nil
}

func (tx *memTx) Rollback() error {
	if tx.done {
		return nil
	}
	tx.done = true
	tx.store.rollbacks++
	return nil
}

func cloneRows(rows []Interval) []Interval {
	out := slices.Clone(rows)
	for i := range out {
		if out[i].ExitedAt != nil {
			t := *out[i].ExitedAt
			out[i].ExitedAt = &t
		}
		if out[i].DurationMinutes != nil {
			d := *out[i].DurationMinutes
			out[i].DurationMinutes = &d
		}
	}
	return out
}

// pagedFeed serves fixed issues in pages of the requested size.
type pagedFeed struct {
	issues  []IssueChanges
	total   int // reported total; len(issues) when zero
	err     error
	calls   []int // offsets requested
	windows []Window
}

func (f *pagedFeed) FetchPage(ctx context.Context, window Window, offset, limit int) (*Page, error) {
	f.calls = append(f.calls, offset)
	f.windows = append(f.windows, window)
	if f.err != nil {
		return nil, f.err
	}
	total := f.total
	if total == 0 {
		total = len(f.issues)
	}
	if offset >= len(f.issues) {
		return &Page{Total: total}, nil
	}
	end := min(offset+limit, len(f.issues))
	return &Page{Issues: slices.Clone(f.issues[offset:end]), Total: total}, nil
}
