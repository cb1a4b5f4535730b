package splunk

import (
	"errors"
	"fmt"
)

var (
	// ErrResultsNotReady is returned for a 204 from the results endpoint.
	// The job has not produced results yet; retry the same offset.
	ErrResultsNotReady = errors.New("search results not ready")

	// ErrJobFailed is returned when a job reports isFailed or dispatchState FAILED.
	ErrJobFailed = errors.New("search job failed")
)

// SubmissionError reports a search job that could not be created.
type SubmissionError struct {
	StatusCode int
	Body       string
	Reason     string
}

func (e *SubmissionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("search submission failed: %s (status %d): %s", e.Reason, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("search submission failed with status %d: %s", e.StatusCode, e.Body)
}

// RequestError reports a non-2xx response or a transport failure.
type RequestError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
	Err        error
}

func (e *RequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v", e.Method, e.Path, e.Err)
	}
	return fmt.Sprintf("%s %s failed with status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

func (e *RequestError) Unwrap() error { return e.Err }
