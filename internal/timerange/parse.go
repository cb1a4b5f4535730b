// Package timerange parses operator time expressions and splits long spans
// into contiguous daily or weekly windows.
package timerange

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ParseError reports an input that matched none of the accepted forms.
type ParseError struct {
	Input string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid date format: %q", e.Input)
}

var relativePattern = regexp.MustCompile(`^([+-]?\d+)([smhdw])(?:@(w[0-6]|d))?$`)

// epochPattern wants nine or more integer digits, so a bare year or yyyymmdd
// is not mistaken for a 1970 timestamp.
var epochPattern = regexp.MustCompile(`^(\d{9,})(?:\.(\d{1,9})\d*)?$`)

// layouts are tried in order. time.Parse accepts a fractional second after the
// seconds field even when the layout omits it.
var layouts = []string{
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05",
	"2006/01/02:15:04:05",
	"2006-01-02",
}

var units = map[string]time.Duration{
	"s": time.Second,
	"m": time.Minute,
	"h": time.Hour,
	"d": 24 * time.Hour,
	"w": 7 * 24 * time.Hour,
}

// Parse resolves input relative to now. Accepted forms:
//
//	now
//	-1d, -2w@w1, +3h, -1d@d      (relative, @wN snaps to weekday N, 0 = Monday)
//	2024-06-15T09:50:07.000+07:00, 2024-06-15T09:50:07, 2024/06/15:00:00:00
//	2024-06-15, 2024-06-15T24:00:00
//	1718445007.000               (epoch seconds, as returned by tstats; 9+ digits)
//
// Timestamps without an offset are UTC.
func Parse(input string, now time.Time) (time.Time, error) {
	s := strings.TrimSpace(input)
	now = now.UTC()

	if strings.EqualFold(s, "now") {
		return now, nil
	}

	if m := relativePattern.FindStringSubmatch(s); m != nil {
		n, err := strconv.ParseInt(m[1], 10, 64)
		unit := units[m[2]]
		if err != nil || n > math.MaxInt64/int64(unit) || n < -math.MaxInt64/int64(unit) {
			return time.Time{}, &ParseError{Input: input}
		}
		t := now.Add(time.Duration(n) * unit)
		return snap(t, m[3]), nil
	}

	if m := epochPattern.FindStringSubmatch(s); m != nil {
		sec, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return time.Time{}, &ParseError{Input: input}
		}
		var nsec int64
		if m[2] != "" {
			frac := m[2] + strings.Repeat("0", 9-len(m[2]))
			nsec, _ = strconv.ParseInt(frac, 10, 64)
		}
		return time.Unix(sec, nsec).UTC(), nil
	}

	if date, ok := strings.CutSuffix(s, "T24:00:00"); ok {
		d, err := time.Parse("2006-01-02", date)
		if err != nil {
			return time.Time{}, &ParseError{Input: input}
		}
		return d.AddDate(0, 0, 1), nil
	}

	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, &ParseError{Input: input}
}

// snap applies a relative-time anchor: "wN" moves to 00:00 of weekday N in
// the same Monday-based week, "d" to 00:00 of the same day.
func snap(t time.Time, anchor string) time.Time {
	if anchor == "" {
		return t
	}
	y, mo, d := t.Date()
	midnight := time.Date(y, mo, d, 0, 0, 0, 0, t.Location())
	if anchor == "d" {
		return midnight
	}
	target := int(anchor[1] - '0')
	monday := (int(t.Weekday()) + 6) % 7
	return midnight.AddDate(0, 0, target-monday)
}
