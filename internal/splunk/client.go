// Package splunk talks to the management port's REST API: search jobs,
// results paging and server introspection.
package splunk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/jmespath/go-jmespath"

	"github.com/telhawk-systems/sekripgabut/internal/logging"
	"github.com/telhawk-systems/sekripgabut/internal/runctx"
)

// Client is a thin REST client bound to one RunContext.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *logging.Logger
}

// NewClient creates a Client from rc.
func NewClient(rc *runctx.RunContext) *Client {
	logger := rc.Logger
	if logger == nil {
		logger = logging.Default()
	}
	httpClient := rc.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: runctx.DefaultTimeout}
	}
	return &Client{
		baseURL: strings.TrimRight(rc.BaseURL, "/"),
		token:   rc.Token,
		client:  httpClient,
		logger:  logger,
	}
}

// Logger returns the logger the client was built with.
func (c *Client) Logger() *logging.Logger { return c.logger }

// Response is a raw exchange result.
type Response struct {
	StatusCode int
	Body       []byte
}

// Do performs one request. GET parameters go in the query string, POST
// parameters are form-encoded. output_mode=json is always sent, and extra
// params override the defaults. Transport failures are returned as
// *RequestError; the status code is left for the caller to judge.
func (c *Client) Do(ctx context.Context, method, path string, params url.Values, extra map[string]string) (*Response, error) {
	values := url.Values{}
	for k, vs := range params {
		values[k] = append([]string(nil), vs...)
	}
	values.Set("output_mode", "json")
	for k, v := range extra {
		values.Set(k, v)
	}

	endpoint := c.baseURL + path
	var body io.Reader
	if method == http.MethodPost {
		body = strings.NewReader(values.Encode())
	} else {
		endpoint += "?" + values.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, &RequestError{Method: method, Path: path, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &RequestError{Method: method, Path: path, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &RequestError{Method: method, Path: path, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response: %w", err)}
	}
	return &Response{StatusCode: resp.StatusCode, Body: data}, nil
}

// get issues a GET and requires a 200.
func (c *Client) get(ctx context.Context, path string, params url.Values, extra map[string]string) (any, error) {
	resp, err := c.Do(ctx, http.MethodGet, path, params, extra)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &RequestError{Method: http.MethodGet, Path: path, StatusCode: resp.StatusCode, Body: string(resp.Body)}
	}
	return DecodeJSON(resp.Body)
}

// DecodeJSON decodes a response body into generic values, keeping the
// shape JMESPath expects.
func DecodeJSON(body []byte) (any, error) {
	var data any
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return data, nil
}

// Extract evaluates a JMESPath expression against decoded JSON.
func Extract(expr string, data any) (any, error) {
	out, err := jmespath.Search(expr, data)
	if err != nil {
		return nil, fmt.Errorf("jmespath %q: %w", expr, err)
	}
	return out, nil
}

func jobPath(sid string) string {
	return "/services/search/jobs/" + url.PathEscape(sid)
}
