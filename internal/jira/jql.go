package jira

import (
	"fmt"
	"strings"
	"time"
)

// jqlTimeLayout is the minute-precision format JQL accepts for date comparisons.
const jqlTimeLayout = "2006-01-02 15:04"

// BuildJQL scopes the search to one project and issue type, updated since the
// given instant. JQL reads the timestamp at minute precision in the Jira
// user's time zone, so the search can start early (zones ahead of UTC) or late
// (zones behind UTC). Events are filtered against the window again.
func BuildJQL(projectKey, issueType string, since time.Time) string {
	clauses := []string{
		fmt.Sprintf("project = %s", quoteJQL(projectKey)),
		fmt.Sprintf("updated >= %s", quoteJQL(since.UTC().Format(jqlTimeLayout))),
	}
	if issueType != "" {
		clauses = append(clauses, fmt.Sprintf("issuetype = %s", quoteJQL(issueType)))
	}
	return strings.Join(clauses, " AND ") + " ORDER BY created ASC"
}

func quoteJQL(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}
