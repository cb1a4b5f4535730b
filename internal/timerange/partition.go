package timerange

import (
	"fmt"
	"strings"
	"time"
)

// Layout is the backend's earliest_time/latest_time parameter format.
const Layout = "2006-01-02T15:04:05"

// Granularity selects the window length used by Split.
type Granularity int

const (
	Weekly Granularity = iota
	Daily
)

// ParseGranularity accepts "daily" or "weekly" in any case.
func ParseGranularity(s string) (Granularity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "weekly", "":
		return Weekly, nil
	case "daily":
		return Daily, nil
	default:
		return Weekly, fmt.Errorf("unknown granularity %q (want daily or weekly)", s)
	}
}

func (g Granularity) String() string {
	if g == Daily {
		return "daily"
	}
	return "weekly"
}

func (g Granularity) step() time.Duration {
	if g == Daily {
		return 24 * time.Hour
	}
	return 7 * 24 * time.Hour
}

// TimeRange is an inclusive window [Start, End] with second precision.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Earliest renders Start for the earliest_time parameter.
func (r TimeRange) Earliest() string { return r.Start.Format(Layout) }

// Latest renders End for the latest_time parameter.
func (r TimeRange) Latest() string { return r.End.Format(Layout) }

// FileStem names the range's snapshot file, e.g. "2024-01-01_2024-01-07".
func (r TimeRange) FileStem() string {
	return r.Start.Format("2006-01-02") + "_" + r.End.Format("2006-01-02")
}

func (r TimeRange) String() string {
	return r.Earliest() + " - " + r.Latest()
}

// Partition parses both bounds and splits the span.
func Partition(start, end string, g Granularity, now time.Time) ([]TimeRange, error) {
	s, err := Parse(start, now)
	if err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}
	e, err := Parse(end, now)
	if err != nil {
		return nil, fmt.Errorf("end: %w", err)
	}
	return Split(s, e, g), nil
}

// Split walks from start to end in windows of one week (or day) minus one
// second. An end that is not midnight is rounded up to the next midnight, and
// the last window is clipped to one second before end. Consecutive windows are
// one second apart. Every window carries start's location.
func Split(start, end time.Time, g Granularity) []TimeRange {
	start = start.Truncate(time.Second)
	end = end.Truncate(time.Second)

	if h, m, sec := end.Clock(); h != 0 || m != 0 || sec != 0 {
		y, mo, d := end.Date()
		end = time.Date(y, mo, d+1, 0, 0, 0, 0, end.Location())
	}

	loc := start.Location()
	var ranges []TimeRange
	for cur := start; cur.Before(end); {
		last := cur.Add(g.step() - time.Second)
		if !last.Before(end) {
			last = end.Add(-time.Second)
		}
		ranges = append(ranges, TimeRange{Start: cur.In(loc), End: last.In(loc)})
		cur = last.Add(time.Second)
	}
	return ranges
}
