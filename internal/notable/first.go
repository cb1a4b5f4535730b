package notable

import (
	"context"
	"fmt"

	"github.com/telhawk-systems/sekripgabut/internal/splunk"
)

// FirstNotableQuery finds the oldest indexed notable.
const FirstNotableQuery = "| tstats earliest(_time) AS _time WHERE index=notable"

// Searcher runs a search to completion.
type Searcher interface {
	Search(ctx context.Context, sr splunk.SearchRequest, pageSize int) ([]map[string]any, error)
}

// FirstNotableTime returns the _time of the oldest notable in
// [earliest, latest], or "" when the index has nothing in that window.
func FirstNotableTime(ctx context.Context, searcher Searcher, earliest, latest string) (string, error) {
	if latest == "" {
		latest = "now"
	}
	rows, err := searcher.Search(ctx, splunk.SearchRequest{
		Query:    FirstNotableQuery,
		Earliest: earliest,
		Latest:   latest,
	}, 10)
	if err != nil {
		return "", fmt.Errorf("failed to find first notable time: %w", err)
	}
	if len(rows) == 0 {
		return "", nil
	}
	return toString(rows[0]["_time"]), nil
}
