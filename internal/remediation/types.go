package remediation

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/telhawk-systems/sekripgabut/internal/timerange"
)

var (
	// ErrHalted stops a run after the backend reported failed closures.
	ErrHalted = errors.New("remediation halted: backend reported failed closures")
	// ErrNoEarliest means no start time was given and none could be found.
	ErrNoEarliest = errors.New("no earliest notable time found")
)

// Mode selects how a range's events are closed.
type Mode string

const (
	// ModeStream pages through results and closes each page as it arrives.
	ModeStream Mode = "stream"
	// ModeSnapshot collects a range's event IDs first, then closes them in batches.
	ModeSnapshot Mode = "snapshot"
	// ModeSearchID closes everything a search job returned by its SID.
	ModeSearchID Mode = "sid"
)

// ParseMode accepts the mode names plus "v2", the old name for sid mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "stream":
		return ModeStream, nil
	case "snapshot", "file":
		return ModeSnapshot, nil
	case "sid", "v2":
		return ModeSearchID, nil
	default:
		return "", fmt.Errorf("unknown mode %q (want stream, snapshot or sid)", s)
	}
}

// RangeState is a range's position in the processing state machine.
type RangeState string

const (
	StatePending    RangeState = "PENDING"
	StateSearching  RangeState = "SEARCHING"
	StateProcessing RangeState = "PROCESSING"
	StateRetry      RangeState = "RETRY"
	StateDone       RangeState = "DONE"
	StateFailed     RangeState = "FAILED"
)

// Progress tracks one range in memory. TotalProcessed and PaginationOffset
// restart on every pass; the counts persist for the range.
type Progress struct {
	TotalEventCount  int
	TotalProcessed   int
	SuccessCount     int
	FailureCount     int
	PaginationOffset int
	Pass             int
}

func (p *Progress) newPass() {
	p.Pass++
	p.TotalProcessed = 0
	p.PaginationOffset = 0
}

// RangeSummary is the outcome of one range.
type RangeSummary struct {
	Range       timerange.TimeRange `json:"-"`
	Earliest    string              `json:"earliest,omitempty"`
	Latest      string              `json:"latest,omitempty"`
	State       RangeState          `json:"state"`
	SID         string              `json:"sid,omitempty"`
	EventCount  int                 `json:"event_count"`
	Processed   int                 `json:"processed"`
	Successes   int                 `json:"successes"`
	Failures    int                 `json:"failures"`
	Passes      int                 `json:"passes"`
	Discrepancy bool                `json:"discrepancy,omitempty"`
	File        string              `json:"file,omitempty"`
	Error       string              `json:"error,omitempty"`
}

func newRangeSummary(r timerange.TimeRange) *RangeSummary {
	rs := &RangeSummary{Range: r, State: StatePending}
	if !r.Start.IsZero() {
		rs.Earliest = r.Earliest()
		rs.Latest = r.Latest()
	}
	return rs
}

// RunSummary aggregates every range of a run.
type RunSummary struct {
	RunID       string         `json:"run_id"`
	Mode        Mode           `json:"mode"`
	Started     time.Time      `json:"started"`
	Finished    time.Time      `json:"finished"`
	Ranges      []RangeSummary `json:"ranges"`
	TotalEvents int            `json:"total_events"`
	Processed   int            `json:"processed"`
	Successes   int            `json:"successes"`
	Failures    int            `json:"failures"`
	Halted      bool           `json:"halted"`
	Error       string         `json:"error,omitempty"`
}

func (s *RunSummary) add(rs *RangeSummary) {
	s.Ranges = append(s.Ranges, *rs)
	s.TotalEvents += rs.EventCount
	s.Processed += rs.Processed
	s.Successes += rs.Successes
	s.Failures += rs.Failures
}

// FailedRanges counts ranges that ended in FAILED.
func (s *RunSummary) FailedRanges() int {
	n := 0
	for _, r := range s.Ranges {
		if r.State == StateFailed {
			n++
		}
	}
	return n
}
