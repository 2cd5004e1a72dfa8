// Package report aggregates stored status intervals into time-in-status
// figures and renders them as tables, CSV or JSON.
package report

import (
	"slices"
	"sort"
	"time"

	"jira-status-etl/internal/history"
)

// StatusSummary is the residency aggregate for one status.
type StatusSummary struct {
	Status        string  `json:"status"`
	Intervals     int     `json:"intervals"`
	Closed        int     `json:"closed"`
	Open          int     `json:"open"`
	Issues        int     `json:"issues"`
	TotalMinutes  float64 `json:"totalMinutes"`
	MeanMinutes   float64 `json:"meanMinutes"`
	MedianMinutes float64 `json:"medianMinutes"`
	// OpenAgeMinutes is the summed age of open intervals as of the report time.
	OpenAgeMinutes float64 `json:"openAgeMinutes"`
}

// IntervalRow is one interval prepared for display.
type IntervalRow struct {
	IssueKey  string     `json:"issueKey"`
	Status    string     `json:"status"`
	EnteredAt time.Time  `json:"enteredAt"`
	ExitedAt  *time.Time `json:"exitedAt,omitempty"`
	Minutes   float64    `json:"minutes"`
	Open      bool       `json:"open"`
}

// Summarize groups rows by status. Mean and median cover closed intervals
// only. Statuses listed in order come first, the rest alphabetically.
func Summarize(rows []history.Interval, order []string, now time.Time) []StatusSummary {
	type acc struct {
		sum       StatusSummary
		durations []float64
		issues    map[string]struct{}
	}
	byStatus := make(map[string]*acc)

	for _, iv := range rows {
		a, ok := byStatus[iv.Status]
		if !ok {
			a = &acc{sum: StatusSummary{Status: iv.Status}, issues: make(map[string]struct{})}
			byStatus[iv.Status] = a
		}
		a.sum.Intervals++
		a.issues[iv.IssueKey] = struct{}{}

		if iv.IsOpen() {
			a.sum.Open++
			if now.After(iv.EnteredAt) {
				a.sum.OpenAgeMinutes += history.DurationMinutes(iv.EnteredAt, now)
			}
			continue
		}
		minutes := closedMinutes(iv)
		a.sum.Closed++
		a.sum.TotalMinutes += minutes
		a.durations = append(a.durations, minutes)
	}

	out := make([]StatusSummary, 0, len(byStatus))
	for _, a := range byStatus {
		a.sum.Issues = len(a.issues)
		if a.sum.Closed > 0 {
			a.sum.MeanMinutes = a.sum.TotalMinutes / float64(a.sum.Closed)
			a.sum.MedianMinutes = Median(a.durations)
		}
		out = append(out, a.sum)
	}

	rank := func(s string) int {
		if i := slices.Index(order, s); i >= 0 {
			return i
		}
		return len(order)
	}
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := rank(out[i].Status), rank(out[j].Status)
		if ri != rj {
			return ri < rj
		}
		return out[i].Status < out[j].Status
	})
	return out
}

// Rows converts intervals for per-issue output. Open intervals report their
// age as of now.
func Rows(rows []history.Interval, now time.Time) []IntervalRow {
	out := make([]IntervalRow, 0, len(rows))
	for _, iv := range rows {
		r := IntervalRow{
			IssueKey:  iv.IssueKey,
			Status:    iv.Status,
			EnteredAt: iv.EnteredAt,
			ExitedAt:  iv.ExitedAt,
			Open:      iv.IsOpen(),
		}
		switch {
		case !r.Open:
			r.Minutes = closedMinutes(iv)
		case now.After(iv.EnteredAt):
			r.Minutes = history.DurationMinutes(iv.EnteredAt, now)
		}
		out = append(out, r)
	}
	return out
}

// closedMinutes prefers the stored duration and falls back to the timestamps.
func closedMinutes(iv history.Interval) float64 {
	if iv.DurationMinutes != nil {
		return *iv.DurationMinutes
	}
	return history.DurationMinutes(iv.EnteredAt, *iv.ExitedAt)
}

// Median finds the median value in a slice of floats.
func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	// Work on a copy to avoid mutating the original
	temp := slices.Clone(values)
	slices.Sort(temp)

	n := len(temp)
	if n%2 == 1 {
		return temp[n/2]
	}
	return (temp[n/2-1] + temp[n/2]) / 2.0
}
