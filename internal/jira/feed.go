package jira

import (
	"context"
	"fmt"

	"jira-status-etl/internal/history"

	"github.com/rs/zerolog/log"
)

const changelogPageSize = 100

// Feed adapts the Jira search API to history.ChangeFeed.
type Feed struct {
	client Client
	cfg    Config
}

var _ history.ChangeFeed = (*Feed)(nil)

// NewFeed creates a change feed for cfg.ProjectKey and cfg.IssueType.
func NewFeed(client Client, cfg Config) *Feed {
	return &Feed{client: client, cfg: cfg}
}

// FetchPage runs the window's search at offset and converts each issue.
func (f *Feed) FetchPage(ctx context.Context, window history.Window, offset, limit int) (*history.Page, error) {
	jql := BuildJQL(f.cfg.ProjectKey, f.cfg.IssueType, window.Start)
	resp, err := f.client.SearchIssuesWithHistory(ctx, jql, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("search issues: %w", err)
	}

	page := &history.Page{
		Total:  resp.Total,
		Issues: make([]history.IssueChanges, 0, len(resp.Issues)),
	}
	for _, dto := range resp.Issues {
		if f.cfg.FullChangelog && dto.Changelog.Truncated() {
			if err := f.completeChangelog(ctx, &dto); err != nil {
				return nil, err
			}
		}
		page.Issues = append(page.Issues, TransformIssue(dto))
	}
	return page, nil
}

// completeChangelog replaces a truncated embedded changelog with the full one.
func (f *Feed) completeChangelog(ctx context.Context, dto *IssueDTO) error {
	log.Debug().
		Str("issue", dto.Key).
		Int("embedded", len(dto.Changelog.Histories)).
		Int("total", dto.Changelog.Total).
		Msg("Embedded changelog truncated, fetching full history")

	var histories []HistoryDTO
	startAt := 0
	for {
		page, err := f.client.GetChangelog(ctx, dto.Key, startAt, changelogPageSize)
		if err != nil {
			return fmt.Errorf("fetch changelog for %s at %d: %w", dto.Key, startAt, err)
		}
		histories = append(histories, page.Values...)
		startAt += len(page.Values)
		if page.IsLast || len(page.Values) == 0 || startAt >= page.Total {
			break
		}
	}

	dto.Changelog = &ChangelogDTO{Total: len(histories), MaxResults: len(histories), Histories: histories}
	return nil
}

// TransformIssue converts a Jira issue and its changelog into change events,
// one per history item, in delivery order. Entries with an unparseable
// timestamp are skipped; an unparseable creation time leaves CreatedAt zero.
func TransformIssue(dto IssueDTO) history.IssueChanges {
	issue := history.IssueChanges{Key: dto.Key}

	created, err := ParseTime(dto.Fields.Created)
	if err != nil {
		log.Warn().Err(err).Str("issue", dto.Key).Msg("Issue creation time unusable, Open backfill disabled")
	} else {
		issue.CreatedAt = created
	}

	if dto.Changelog == nil {
		return issue
	}

	for _, h := range dto.Changelog.Histories {
		ts, err := ParseTime(h.Created)
		if err != nil {
			log.Warn().Err(err).Str("issue", dto.Key).Str("history", h.ID).Msg("Skipping changelog entry with invalid timestamp")
			continue
		}
		for _, item := range h.Items {
			if item.Field == "" {
				continue
			}
			issue.Events = append(issue.Events, history.ChangeEvent{
				ChangedAt: ts,
				Field:     item.Field,
				From:      item.FromString,
				To:        item.ToString,
			})
		}
	}
	return issue
}
