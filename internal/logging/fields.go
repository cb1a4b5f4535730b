package logging

import (
	"log/slog"
	"time"
)

// Common field names for consistent logging across commands.
const (
	FieldRunID      = "run_id"
	FieldSID        = "sid"
	FieldEarliest   = "earliest"
	FieldLatest     = "latest"
	FieldEventCount = "event_count"
	FieldOffset     = "offset"
	FieldState      = "state"
	FieldPath       = "path"
	FieldStatus     = "status"
	FieldDuration   = "duration_ms"
	FieldError      = "error"
	FieldQuery      = "query"
	FieldProgress   = "done_progress"
	FieldMode       = "mode"
)

// SID returns a slog attribute for a search job ID.
func SID(sid string) slog.Attr {
	return slog.String(FieldSID, sid)
}

// Range returns the earliest/latest pair as a group attribute.
func Range(earliest, latest string) slog.Attr {
	return slog.Group("range",
		slog.String(FieldEarliest, earliest),
		slog.String(FieldLatest, latest),
	)
}

// EventCount returns a slog attribute for an event count.
func EventCount(n int) slog.Attr {
	return slog.Int(FieldEventCount, n)
}

// Offset returns a slog attribute for a pagination offset.
func Offset(n int) slog.Attr {
	return slog.Int(FieldOffset, n)
}

// State returns a slog attribute for a state machine state.
func State(s string) slog.Attr {
	return slog.String(FieldState, s)
}

// Path returns a slog attribute for a file system or HTTP path.
func Path(path string) slog.Attr {
	return slog.String(FieldPath, path)
}

// Status returns a slog attribute for the HTTP status code.
func Status(code int) slog.Attr {
	return slog.Int(FieldStatus, code)
}

// Duration returns a slog attribute for an elapsed duration in milliseconds.
func Duration(d time.Duration) slog.Attr {
	return slog.Int64(FieldDuration, d.Milliseconds())
}

// Error returns a slog attribute for an error.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "")
	}
	return slog.String(FieldError, err.Error())
}

// Query returns a slog attribute for a search query string.
func Query(query string) slog.Attr {
	return slog.String(FieldQuery, query)
}

// Progress returns a slog attribute for a job's doneProgress fraction.
func Progress(p float64) slog.Attr {
	return slog.Float64(FieldProgress, p)
}

// Mode returns a slog attribute for the remediation mode.
func Mode(mode string) slog.Attr {
	return slog.String(FieldMode, mode)
}
