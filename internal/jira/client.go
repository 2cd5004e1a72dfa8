package jira

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnauthorized is returned for 401/403 responses.
	ErrUnauthorized = errors.New("jira authentication failed (401/403), check JIRA_USER/JIRA_API_TOKEN or JIRA_TOKEN")
	// ErrRateLimited is returned for 429 responses.
	ErrRateLimited = errors.New("jira rate limit exceeded (429)")
)

// StatusError is returned for any other non-200 response.
type StatusError struct {
	StatusCode int
	Endpoint   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("jira API returned status %d for %s", e.StatusCode, e.Endpoint)
}

// Client is the subset of the Jira REST API the change feed needs.
type Client interface {
	// SearchIssuesWithHistory runs a JQL search with the changelog expanded.
	SearchIssuesWithHistory(ctx context.Context, jql string, startAt, maxResults int) (*SearchResponse, error)
	// GetChangelog pages through an issue's full changelog. Used when the
	// changelog embedded in a search result is truncated.
	GetChangelog(ctx context.Context, issueKey string, startAt, maxResults int) (*ChangelogPageDTO, error)
}

// Config holds the connection, authentication and query settings for Jira.
type Config struct {
	BaseURL string
	// APIVersion selects /rest/api/{2,3}. Cloud uses 3, Data Center 2.
	APIVersion string

	// Jira Cloud basic auth
	User     string
	APIToken string

	// Data Center personal access token; takes precedence over basic auth.
	Token string

	ProjectKey string
	IssueType  string

	// FullChangelog fetches the remaining changelog pages when a search result
	// embeds a truncated changelog.
	FullChangelog bool

	RequestDelay time.Duration
	Timeout      time.Duration
}

// NewClient creates a Jira client based on the provided configuration.
func NewClient(cfg Config) Client {
	return NewSearchClient(cfg, nil)
}
