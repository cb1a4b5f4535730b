// Package notable updates Enterprise Security notable events through the
// notable_update endpoint.
package notable

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/telhawk-systems/sekripgabut/internal/logging"
	"github.com/telhawk-systems/sekripgabut/internal/runctx"
	"github.com/telhawk-systems/sekripgabut/internal/splunk"
)

const updatePath = "/services/notable_update"

// StatusClosed is the ES status ID for a closed notable.
const StatusClosed = 5

// Batch is one notable_update call. Set exactly one of EventIDs or SearchID.
type Batch struct {
	EventIDs         []string
	SearchID         string
	Status           int
	Owner            string
	Urgency          string
	Disposition      string
	Comment          string
	AdditionalParams map[string]string
}

// ValidationError is returned before any request is sent.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid notable update: " + e.Reason
}

// Validate checks the addressing mode.
func (b Batch) Validate() error {
	hasIDs := len(b.EventIDs) > 0
	hasSID := b.SearchID != ""
	switch {
	case !hasIDs && !hasSID:
		return &ValidationError{Reason: "either event IDs or a search ID must be provided"}
	case hasIDs && hasSID:
		return &ValidationError{Reason: "event IDs and search ID are mutually exclusive"}
	}
	return nil
}

// form builds the request body. Empty values are left out.
func (b Batch) form() url.Values {
	form := url.Values{}
	for _, id := range b.EventIDs {
		if id != "" {
			form.Add("ruleUIDs", id)
		}
	}
	set := func(k, v string) {
		if v != "" {
			form.Set(k, v)
		}
	}
	set("searchID", b.SearchID)
	if b.Status != 0 {
		form.Set("status", strconv.Itoa(b.Status))
	}
	set("newOwner", b.Owner)
	set("urgency", b.Urgency)
	set("disposition", b.Disposition)
	set("comment", b.Comment)
	return form
}

// UpdateResult is the backend's verdict on a batch.
type UpdateResult struct {
	Success      bool   `json:"success"`
	SuccessCount int    `json:"success_count"`
	FailureCount int    `json:"failure_count"`
	Message      string `json:"message"`
	Details      any    `json:"details,omitempty"`
}

// Failed reports a partial or total failure.
func (r *UpdateResult) Failed() bool {
	return !r.Success || r.FailureCount > 0
}

// Submitter posts closure batches.
type Submitter struct {
	client *splunk.Client
	logger *logging.Logger
}

// NewSubmitter creates a Submitter bound to rc.
func NewSubmitter(rc *runctx.RunContext) *Submitter {
	c := splunk.NewClient(rc)
	return &Submitter{client: c, logger: c.Logger()}
}

const resultExpr = `{success: success, success_count: success_count, failure_count: failure_count, message: message, details: details}`

// Update sends b. A non-2xx status comes back as *splunk.RequestError; a
// partial failure is not an error, inspect the result.
func (s *Submitter) Update(ctx context.Context, b Batch) (*UpdateResult, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}

	target := slog.Int("event_ids", len(b.EventIDs))
	if b.SearchID != "" {
		target = logging.SID(b.SearchID)
	}
	s.logger.DebugContext(ctx, "sending notable update", target, logging.Status(b.Status))

	resp, err := s.client.Do(ctx, http.MethodPost, updatePath, b.form(), b.AdditionalParams)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		s.logger.ErrorContext(ctx, "notable update rejected", logging.Status(resp.StatusCode), slog.String("body", string(resp.Body)))
		return nil, &splunk.RequestError{Method: http.MethodPost, Path: updatePath, StatusCode: resp.StatusCode, Body: string(resp.Body)}
	}

	data, err := splunk.DecodeJSON(resp.Body)
	if err != nil {
		return nil, err
	}
	raw, err := splunk.Extract(resultExpr, data)
	if err != nil {
		return nil, err
	}
	fields, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("notable update: unexpected response shape")
	}

	result := &UpdateResult{
		Success:      toBool(fields["success"]),
		SuccessCount: toInt(fields["success_count"]),
		FailureCount: toInt(fields["failure_count"]),
		Message:      toString(fields["message"]),
		Details:      fields["details"],
	}
	s.logger.DebugContext(ctx, "notable update done",
		slog.Bool("success", result.Success),
		slog.Int("success_count", result.SuccessCount),
		slog.Int("failure_count", result.FailureCount))
	return result, nil
}

// CloseOptions are the optional fields carried by a closure.
type CloseOptions struct {
	Owner            string
	Urgency          string
	Disposition      string
	Comment          string
	AdditionalParams map[string]string
}

func (o CloseOptions) batch() Batch {
	return Batch{
		Status:           StatusClosed,
		Owner:            o.Owner,
		Urgency:          o.Urgency,
		Disposition:      o.Disposition,
		Comment:          o.Comment,
		AdditionalParams: o.AdditionalParams,
	}
}

// CloseEvents closes the given event IDs.
func (s *Submitter) CloseEvents(ctx context.Context, ids []string, opts CloseOptions) (*UpdateResult, error) {
	b := opts.batch()
	b.EventIDs = ids
	return s.Update(ctx, b)
}

// CloseSearch closes every notable returned by the search job sid.
func (s *Submitter) CloseSearch(ctx context.Context, sid string, opts CloseOptions) (*UpdateResult, error) {
	b := opts.batch()
	b.SearchID = sid
	return s.Update(ctx, b)
}

func toBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, _ := strconv.ParseBool(t)
		return b
	case float64:
		return t != 0
	}
	return false
}

func toInt(v any) int {
	switch t := v.(type) {
	case float64:
		return int(t)
	case string:
		n, _ := strconv.Atoi(t)
		return n
	}
	return 0
}

func toString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}
