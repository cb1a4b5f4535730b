// Package snapshot reads and writes the per-range JSON files used by the
// fetch-to-file workflow.
package snapshot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/telhawk-systems/sekripgabut/internal/logging"
	"github.com/telhawk-systems/sekripgabut/internal/timerange"
)

// Mode selects how WriteBatch treats an existing file.
type Mode int

const (
	Overwrite Mode = iota
	Append
)

var errNotArray = errors.New("appended JSON data must be a list")

// ErrUnsafeDir is returned by ResetDir for a directory it will not remove.
var ErrUnsafeDir = errors.New("refusing to reset directory")

// WriteBatch writes rows to path as an indented JSON array. In Append mode
// an existing array is extended: old elements first, then rows. It reports
// success instead of returning an error; failures are logged.
func WriteBatch(rows any, path string, mode Mode) bool {
	if err := writeBatch(rows, path, mode); err != nil {
		logging.Default().Error("failed to write JSON file", logging.Path(path), logging.Error(err))
		return false
	}
	return true
}

func writeBatch(rows any, path string, mode Mode) error {
	switch mode {
	case Overwrite:
		return writeJSON(path, rows)
	case Append:
	default:
		return fmt.Errorf("unknown write mode %d", mode)
	}

	incoming, err := asArray(rows)
	if err != nil {
		return err
	}

	existing, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if len(bytes.TrimSpace(existing)) == 0 {
		return writeJSON(path, incoming)
	}

	var current []json.RawMessage
	if err := json.Unmarshal(existing, &current); err != nil {
		return fmt.Errorf("%s: %w", path, errNotArray)
	}
	return writeJSON(path, append(current, incoming...))
}

// asArray round-trips rows through JSON so any slice type is accepted.
func asArray(rows any) ([]json.RawMessage, error) {
	data, err := json.Marshal(rows)
	if err != nil {
		return nil, err
	}
	var out []json.RawMessage
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, errNotArray
	}
	return out, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadRecords loads the JSON array in path, or every regular file in path
// when it is a directory.
func ReadRecords(path string) ([]map[string]any, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return readFile(path)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	var all []map[string]any
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		records, err := readFile(filepath.Join(path, e.Name()))
		if err != nil {
			return nil, err
		}
		all = append(all, records...)
	}
	return all, nil
}

func readFile(path string) ([]map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var records []map[string]any
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return records, nil
}

// EventIDs pulls event_id from each record. Older exports wrap the row as
// {"result": {"event_id": ...}}; both shapes are accepted.
func EventIDs(records []map[string]any) []string {
	ids := make([]string, 0, len(records))
	for _, r := range records {
		if id, ok := r["event_id"].(string); ok && id != "" {
			ids = append(ids, id)
			continue
		}
		if inner, ok := r["result"].(map[string]any); ok {
			if id, ok := inner["event_id"].(string); ok && id != "" {
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// ReadEventIDs is ReadRecords followed by EventIDs.
func ReadEventIDs(path string) ([]string, error) {
	records, err := ReadRecords(path)
	if err != nil {
		return nil, err
	}
	return EventIDs(records), nil
}

// ResetDir removes dir and creates it again, empty. It refuses the empty
// path, the filesystem root, and any directory holding the working or home
// directory.
func ResetDir(dir string) error {
	if err := checkResettable(dir); err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	return os.MkdirAll(dir, 0o755)
}

func checkResettable(dir string) error {
	if dir == "" {
		return fmt.Errorf("%w: empty path", ErrUnsafeDir)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	if abs == filepath.Dir(abs) {
		return fmt.Errorf("%w: %s is the filesystem root", ErrUnsafeDir, dir)
	}

	var protected []string
	if wd, err := os.Getwd(); err == nil {
		protected = append(protected, wd)
	}
	if home, err := os.UserHomeDir(); err == nil {
		protected = append(protected, home)
	}
	abs = resolve(abs)
	for _, p := range protected {
		if contains(abs, resolve(p)) {
			return fmt.Errorf("%w: %s contains %s", ErrUnsafeDir, dir, p)
		}
	}
	return nil
}

func resolve(p string) string {
	if r, err := filepath.EvalSymlinks(p); err == nil {
		return r
	}
	return p
}

// contains reports whether p is parent itself or lies below it.
func contains(parent, p string) bool {
	rel, err := filepath.Rel(parent, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// FileName is the snapshot path for r inside dir.
func FileName(dir string, r timerange.TimeRange) string {
	return filepath.Join(dir, r.FileStem()+".json")
}
