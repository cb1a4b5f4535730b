package splunk

import (
	"strconv"
	"strings"
)

// DispatchState is the backend's job lifecycle state.
type DispatchState string

const (
	StateQueued     DispatchState = "QUEUED"
	StateParsing    DispatchState = "PARSING"
	StateRunning    DispatchState = "RUNNING"
	StateFinalizing DispatchState = "FINALIZING"
	StateDone       DispatchState = "DONE"
	StateFailed     DispatchState = "FAILED"
	StatePaused     DispatchState = "PAUSED"
)

// Terminal reports whether no further transitions will happen.
func (s DispatchState) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// JobStatus is one observation of a search job.
type JobStatus struct {
	SID           string        `json:"sid"`
	DispatchState DispatchState `json:"dispatch_state"`
	IsDone        bool          `json:"is_done"`
	IsFailed      bool          `json:"is_failed"`
	EventCount    int           `json:"event_count"`
	ResultCount   int           `json:"result_count"`
	DoneProgress  float64       `json:"done_progress"`
}

// Failed reports whether the job ended unsuccessfully.
func (s *JobStatus) Failed() bool {
	return s.IsFailed || s.DispatchState == StateFailed
}

// JobEntry is a row of the job listing.
type JobEntry struct {
	JobStatus
	Search string `json:"search"`
}

// SearchRequest describes a new search job.
type SearchRequest struct {
	Query            string
	Earliest         string
	Latest           string
	ExecMode         string // "normal", "blocking" or "oneshot"; empty lets the backend decide
	AdhocSearchLevel string // "fast", "smart" or "verbose"
	AdditionalParams map[string]string
}

// Message is a diagnostic the backend attaches to a results page.
type Message struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ResultsPage is one window of a finished job's results.
type ResultsPage struct {
	Offset   int
	Count    int
	Results  []map[string]any
	Messages []Message
	// HasMore is true when the page was full, so another page may follow.
	HasMore bool
}

func contentStatus(content map[string]any) *JobStatus {
	return &JobStatus{
		SID:           asString(content["sid"]),
		DispatchState: DispatchState(strings.ToUpper(asString(content["dispatchState"]))),
		IsDone:        asBool(content["isDone"]),
		IsFailed:      asBool(content["isFailed"]),
		EventCount:    asInt(content["eventCount"]),
		ResultCount:   asInt(content["resultCount"]),
		DoneProgress:  asFloat(content["doneProgress"]),
	}
}

// The backend is inconsistent about scalar types across versions, so
// numbers and booleans may arrive as strings.

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

func asBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		b, err := strconv.ParseBool(t)
		return err == nil && b
	default:
		return false
	}
}

func asFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	default:
		return 0
	}
}

func asInt(v any) int {
	return int(asFloat(v))
}
