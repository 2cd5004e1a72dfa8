package jira

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const searchFields = "created,updated,status,issuetype"

type searchClient struct {
	cfg         Config
	httpClient  *http.Client
	lastRequest time.Time
}

// NewSearchClient returns a Client talking to cfg.BaseURL. A nil httpClient
// gets a default one with the configured timeout.
func NewSearchClient(cfg Config, httpClient *http.Client) Client {
	if cfg.APIVersion == "" {
		cfg.APIVersion = "3"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 90 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &searchClient{cfg: cfg, httpClient: httpClient}
}

func (c *searchClient) throttle(ctx context.Context) error {
	if c.cfg.RequestDelay <= 0 {
		c.lastRequest = time.Now()
		return nil
	}

	elapsed := time.Since(c.lastRequest)
	if elapsed < c.cfg.RequestDelay {
		wait := c.cfg.RequestDelay - elapsed
		log.Debug().Dur("wait", wait).Msg("Throttling Jira request")
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	c.lastRequest = time.Now()
	return nil
}

func (c *searchClient) authenticateRequest(req *http.Request) {
	// 1. Personal Access Token (Data Center)
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
		return
	}

	// 2. Basic auth with an API token (Cloud)
	if c.cfg.User != "" || c.cfg.APIToken != "" {
		req.SetBasicAuth(c.cfg.User, c.cfg.APIToken)
	}
}

func (c *searchClient) apiURL(path string, params url.Values) string {
	u := fmt.Sprintf("%s/rest/api/%s/%s", c.cfg.BaseURL, c.cfg.APIVersion, path)
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

func (c *searchClient) SearchIssuesWithHistory(ctx context.Context, jql string, startAt, maxResults int) (*SearchResponse, error) {
	params := url.Values{}
	params.Set("jql", jql)
	params.Set("startAt", strconv.Itoa(startAt))
	params.Set("maxResults", strconv.Itoa(maxResults))
	params.Set("fields", searchFields)
	params.Set("expand", "changelog")

	log.Debug().Str("jql", jql).Int("startAt", startAt).Int("maxResults", maxResults).Msg("Requesting issues from Jira")

	var result SearchResponse
	if err := c.getJSON(ctx, "search", params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *searchClient) GetChangelog(ctx context.Context, issueKey string, startAt, maxResults int) (*ChangelogPageDTO, error) {
	params := url.Values{}
	params.Set("startAt", strconv.Itoa(startAt))
	params.Set("maxResults", strconv.Itoa(maxResults))

	log.Debug().Str("issue", issueKey).Int("startAt", startAt).Msg("Requesting changelog page from Jira")

	var result ChangelogPageDTO
	if err := c.getJSON(ctx, "issue/"+url.PathEscape(issueKey)+"/changelog", params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *searchClient) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	if err := c.throttle(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL(path, params), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	c.authenticateRequest(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("jira request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return ErrUnauthorized
		case http.StatusTooManyRequests:
			if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
				return fmt.Errorf("%w: retry after %s seconds", ErrRateLimited, retryAfter)
			}
			return ErrRateLimited
		default:
			return &StatusError{StatusCode: resp.StatusCode, Endpoint: path}
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode Jira %s response: %w", path, err)
	}
	return nil
}
