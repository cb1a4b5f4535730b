package splunk

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/telhawk-systems/sekripgabut/internal/logging"
	"github.com/telhawk-systems/sekripgabut/internal/runctx"
)

const (
	jobsPath = "/services/search/jobs"

	// DefaultPollInterval is the fixed wait between job status checks.
	DefaultPollInterval = 3 * time.Second
	// DefaultPageSize is used by FetchAll when no page size is given.
	DefaultPageSize = 1000
)

// normalizeQuery prefixes bare SPL with the search command, as the jobs
// endpoint rejects queries that start with neither "search" nor a pipe.
func normalizeQuery(q string) string {
	q = strings.TrimSpace(q)
	if strings.HasPrefix(q, "search ") || strings.HasPrefix(q, "|") {
		return q
	}
	return "search " + q
}

// SubmitSearch creates a search job and returns its SID.
func (c *Client) SubmitSearch(ctx context.Context, sr SearchRequest) (string, error) {
	form := url.Values{}
	form.Set("search", normalizeQuery(sr.Query))
	form.Set("earliest_time", sr.Earliest)
	latest := sr.Latest
	if latest == "" {
		latest = "now"
	}
	form.Set("latest_time", latest)
	if sr.AdhocSearchLevel != "" {
		form.Set("adhoc_search_level", sr.AdhocSearchLevel)
	}
	if sr.ExecMode != "" {
		form.Set("exec_mode", sr.ExecMode)
	}

	c.logger.DebugContext(ctx, "submitting search job",
		logging.Query(form.Get("search")),
		logging.Range(sr.Earliest, latest))

	resp, err := c.Do(ctx, http.MethodPost, jobsPath, form, sr.AdditionalParams)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", &SubmissionError{StatusCode: resp.StatusCode, Body: string(resp.Body)}
	}

	data, err := DecodeJSON(resp.Body)
	if err != nil {
		return "", &SubmissionError{StatusCode: resp.StatusCode, Body: string(resp.Body), Reason: "undecodable response"}
	}
	sidVal, _ := Extract("sid", data)
	sid := asString(sidVal)
	if sid == "" {
		return "", &SubmissionError{StatusCode: resp.StatusCode, Body: string(resp.Body), Reason: "no sid returned"}
	}

	c.logger.InfoContext(ctx, "search job created", logging.SID(sid))
	return sid, nil
}

// JobStatus fetches a single observation of the job.
func (c *Client) JobStatus(ctx context.Context, sid string) (*JobStatus, error) {
	data, err := c.get(ctx, jobPath(sid), nil, nil)
	if err != nil {
		return nil, err
	}
	content, err := Extract("entry[0].content", data)
	if err != nil {
		return nil, err
	}
	m, ok := content.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("job %s: response has no entry content", sid)
	}
	status := contentStatus(m)
	if status.SID == "" {
		status.SID = sid
	}
	return status, nil
}

// WaitForJob polls every interval until the job is done or failed. There is
// no deadline of its own; cancel ctx to give up.
func (c *Client) WaitForJob(ctx context.Context, sid string, interval time.Duration) (*JobStatus, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	for {
		status, err := c.JobStatus(ctx, sid)
		if err != nil {
			return nil, err
		}
		if status.Failed() {
			return status, fmt.Errorf("job %s: %w", sid, ErrJobFailed)
		}
		if status.IsDone {
			c.logger.InfoContext(ctx, "search job done",
				logging.SID(sid), logging.EventCount(status.EventCount))
			return status, nil
		}

		c.logger.DebugContext(ctx, "search job in progress",
			logging.SID(sid),
			logging.State(string(status.DispatchState)),
			logging.Progress(status.DoneProgress))

		if err := runctx.Sleep(ctx, interval); err != nil {
			return nil, err
		}
	}
}

// ResultsPage fetches count rows starting at offset. A 204 yields
// ErrResultsNotReady, which is not the same as an empty page.
func (c *Client) ResultsPage(ctx context.Context, sid string, offset, count int, params map[string]string) (*ResultsPage, error) {
	q := url.Values{}
	q.Set("offset", strconv.Itoa(offset))
	q.Set("count", strconv.Itoa(count))

	path := jobPath(sid) + "/results"
	resp, err := c.Do(ctx, http.MethodGet, path, q, params)
	if err != nil {
		return nil, err
	}
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNoContent:
		return nil, ErrResultsNotReady
	default:
		return nil, &RequestError{Method: http.MethodGet, Path: path, StatusCode: resp.StatusCode, Body: string(resp.Body)}
	}

	data, err := DecodeJSON(resp.Body)
	if err != nil {
		return nil, err
	}

	page := &ResultsPage{Offset: offset, Count: count}
	if rows, _ := Extract("results", data); rows != nil {
		if list, ok := rows.([]any); ok {
			page.Results = make([]map[string]any, 0, len(list))
			for _, r := range list {
				if m, ok := r.(map[string]any); ok {
					page.Results = append(page.Results, m)
				}
			}
		}
	}
	if msgs, _ := Extract("messages", data); msgs != nil {
		if list, ok := msgs.([]any); ok {
			for _, raw := range list {
				if m, ok := raw.(map[string]any); ok {
					page.Messages = append(page.Messages, Message{Type: asString(m["type"]), Text: asString(m["text"])})
				}
			}
		}
	}
	page.HasMore = count > 0 && len(page.Results) == count
	return page, nil
}

// FetchAll pages through every result row. Not-ready responses are retried
// after retryDelay; a short or empty page ends the stream.
func (c *Client) FetchAll(ctx context.Context, sid string, pageSize int, retryDelay time.Duration) ([]map[string]any, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if retryDelay <= 0 {
		retryDelay = DefaultPollInterval
	}

	var all []map[string]any
	offset := 0
	for {
		page, err := c.ResultsPage(ctx, sid, offset, pageSize, nil)
		if errors.Is(err, ErrResultsNotReady) {
			c.logger.DebugContext(ctx, "results not ready, retrying", logging.SID(sid), logging.Offset(offset))
			if err := runctx.Sleep(ctx, retryDelay); err != nil {
				return all, err
			}
			continue
		}
		if err != nil {
			return all, err
		}

		all = append(all, page.Results...)
		c.logger.DebugContext(ctx, "fetched results page",
			logging.SID(sid), logging.Offset(offset), logging.EventCount(len(all)))

		if !page.HasMore {
			return all, nil
		}
		offset += pageSize
	}
}

// Search submits sr, waits for it and returns every result row.
func (c *Client) Search(ctx context.Context, sr SearchRequest, pageSize int) ([]map[string]any, error) {
	sid, err := c.SubmitSearch(ctx, sr)
	if err != nil {
		return nil, err
	}
	if _, err := c.WaitForJob(ctx, sid, DefaultPollInterval); err != nil {
		return nil, err
	}
	return c.FetchAll(ctx, sid, pageSize, DefaultPollInterval)
}

// ListJobs returns every job the token can see.
func (c *Client) ListJobs(ctx context.Context) ([]JobEntry, error) {
	data, err := c.get(ctx, jobsPath, nil, nil)
	if err != nil {
		return nil, err
	}
	raw, err := Extract("entry[*].{name: name, content: content}", data)
	if err != nil {
		return nil, err
	}
	list, _ := raw.([]any)
	jobs := make([]JobEntry, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		content, _ := m["content"].(map[string]any)
		entry := JobEntry{Search: asString(m["name"])}
		if content != nil {
			entry.JobStatus = *contentStatus(content)
		}
		jobs = append(jobs, entry)
	}
	return jobs, nil
}
