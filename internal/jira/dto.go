package jira

import (
	"fmt"
	"time"
)

// SearchResponse is the top-level container for Jira search results.
type SearchResponse struct {
	StartAt    int        `json:"startAt"`
	MaxResults int        `json:"maxResults"`
	Total      int        `json:"total"`
	Issues     []IssueDTO `json:"issues"`
}

// IssueDTO represents a single issue in the Jira search response.
type IssueDTO struct {
	Key       string        `json:"key"`
	Fields    FieldsDTO     `json:"fields"`
	Changelog *ChangelogDTO `json:"changelog,omitempty"`
}

// FieldsDTO contains the specific fields we care about.
type FieldsDTO struct {
	IssueType struct {
		Name string `json:"name"`
	} `json:"issuetype"`
	Status struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"status"`
	Created string `json:"created"`
	Updated string `json:"updated"`
}

// ChangelogDTO contains historical transitions embedded in a search result.
type ChangelogDTO struct {
	StartAt    int          `json:"startAt"`
	MaxResults int          `json:"maxResults"`
	Total      int          `json:"total"`
	Histories  []HistoryDTO `json:"histories"`
}

// Truncated reports whether the embedded changelog is missing entries.
func (c *ChangelogDTO) Truncated() bool {
	return c != nil && c.Total > len(c.Histories)
}

// ChangelogPageDTO is one page of /issue/{key}/changelog.
type ChangelogPageDTO struct {
	StartAt    int          `json:"startAt"`
	MaxResults int          `json:"maxResults"`
	Total      int          `json:"total"`
	IsLast     bool         `json:"isLast"`
	Values     []HistoryDTO `json:"values"`
}

// HistoryDTO is a single entry in the changelog.
type HistoryDTO struct {
	ID      string    `json:"id"`
	Created string    `json:"created"`
	Items   []ItemDTO `json:"items"`
}

// ItemDTO is a single field change within a history entry.
type ItemDTO struct {
	Field      string `json:"field"`
	FromString string `json:"fromString"`
	ToString   string `json:"toString"`
	From       string `json:"from"` // ID
	To         string `json:"to"`   // ID
}

var timeLayouts = []string{
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05-0700",
	time.RFC3339Nano,
}

// ParseTime parses a Jira timestamp. The strict Jira layout is tried first,
// then RFC 3339 for proxies and fixtures that normalise offsets.
func ParseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised jira timestamp %q", s)
}
