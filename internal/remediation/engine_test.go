package remediation

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/sekripgabut/internal/config"
	"github.com/telhawk-systems/sekripgabut/internal/logging"
	"github.com/telhawk-systems/sekripgabut/internal/metrics"
	"github.com/telhawk-systems/sekripgabut/internal/notable"
	"github.com/telhawk-systems/sekripgabut/internal/runctx"
	"github.com/telhawk-systems/sekripgabut/internal/snapshot"
	"github.com/telhawk-systems/sekripgabut/internal/splunk"
	"github.com/telhawk-systems/sekripgabut/internal/timerange"
)

var fixedNow = time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)

func newEngine(s *fakeSearcher, c *fakeCloser, opts Options) *Engine {
	rc := &runctx.RunContext{Logger: logging.Discard(), RunID: "run-test"}
	opts.Now = func() time.Time { return fixedNow }
	opts.PollInterval = time.Millisecond
	opts.NotReadyDelay = time.Millisecond
	return New(rc, s, c, opts)
}

// one weekly range
const (
	oneStart = "2024-01-01"
	oneEnd   = "2024-01-07"
	twoEnd   = "2024-01-14"
)

func TestStream_PagesUntilEventCount(t *testing.T) {
	s := &fakeSearcher{jobs: []fakeJob{{
		eventCount: 5000,
		pages:      [][]map[string]any{rows(3000), rows(2000), {}},
	}}}
	c := &fakeCloser{}
	e := newEngine(s, c, Options{Mode: ModeStream, PageSize: 3000})

	sum, err := e.Run(context.Background(), oneStart, oneEnd)
	require.NoError(t, err)
	require.Len(t, sum.Ranges, 1)

	rs := sum.Ranges[0]
	assert.Equal(t, StateDone, rs.State)
	assert.Equal(t, 5000, rs.EventCount)
	assert.Equal(t, 5000, rs.Processed)
	assert.Equal(t, 5000, rs.Successes)
	assert.Equal(t, 1, rs.Passes)
	assert.False(t, rs.Discrepancy)

	require.Len(t, s.pages, 2, "third page must not be fetched")
	assert.Equal(t, 0, s.pages[0].offset)
	assert.Equal(t, 3000, s.pages[1].offset)
	assert.Len(t, s.submits, 1)
	assert.Equal(t, UnclosedQuery, s.submits[0].Query)
	assert.Equal(t, "2024-01-01T00:00:00", s.submits[0].Earliest)
	assert.Equal(t, "2024-01-06T23:59:59", s.submits[0].Latest)
	assert.Equal(t, 5000, c.closedIDs())

	assert.Equal(t, "run-test", sum.RunID)
	assert.Equal(t, 5000, sum.Processed)
	assert.False(t, sum.Halted)
}

func TestStream_FailureHalts(t *testing.T) {
	s := &fakeSearcher{jobs: []fakeJob{{
		eventCount: 10,
		pages:      [][]map[string]any{rows(5), rows(5)},
	}}}
	c := &fakeCloser{results: []*notable.UpdateResult{
		{Success: true, SuccessCount: 2, FailureCount: 3, Message: "3 events failed"},
	}}
	e := newEngine(s, c, Options{Mode: ModeStream, PageSize: 5})

	sum, err := e.Run(context.Background(), oneStart, twoEnd)
	require.ErrorIs(t, err, ErrHalted)
	assert.True(t, sum.Halted)
	require.Len(t, sum.Ranges, 1, "no further ranges after a halt")
	assert.Equal(t, StateFailed, sum.Ranges[0].State)
	assert.Equal(t, 3, sum.Failures)
	assert.Len(t, s.pages, 1, "no further pages after a halt")
	assert.Len(t, c.calls, 1)
	assert.Len(t, s.submits, 1)
}

func TestStream_SuccessFalseHalts(t *testing.T) {
	s := &fakeSearcher{jobs: []fakeJob{{eventCount: 2, pages: [][]map[string]any{rows(2)}}}}
	c := &fakeCloser{results: []*notable.UpdateResult{{Success: false, Message: "permission denied"}}}
	e := newEngine(s, c, Options{PageSize: 5})

	sum, err := e.Run(context.Background(), oneStart, oneEnd)
	require.ErrorIs(t, err, ErrHalted)
	assert.True(t, sum.Halted)
}

func TestStream_RetryPass(t *testing.T) {
	s := &fakeSearcher{jobs: []fakeJob{
		// the backend drops rows while closures land; the page runs short
		{eventCount: 8, pages: [][]map[string]any{rows(3), rows(2)}},
		{eventCount: 3, pages: [][]map[string]any{rows(3)}},
	}}
	c := &fakeCloser{}
	rec := metrics.New("stream")
	e := newEngine(s, c, Options{PageSize: 3, MaxPasses: 5, Metrics: rec})

	sum, err := e.Run(context.Background(), oneStart, oneEnd)
	require.NoError(t, err)

	rs := sum.Ranges[0]
	assert.Equal(t, StateDone, rs.State)
	assert.Equal(t, 2, rs.Passes)
	assert.Equal(t, 8, rs.EventCount)
	assert.Equal(t, 8, rs.Processed)
	assert.False(t, rs.Discrepancy)
	assert.Len(t, s.submits, 2, "retry resubmits the search")
	assert.Equal(t, "sid-1", s.pages[len(s.pages)-1].sid)
	assert.Equal(t, 0, s.pages[len(s.pages)-1].offset, "retry starts from offset 0")
}

func TestStream_RetryPassesBounded(t *testing.T) {
	s := &fakeSearcher{jobs: []fakeJob{{eventCount: 10, pages: [][]map[string]any{rows(2)}}}}
	c := &fakeCloser{}
	e := newEngine(s, c, Options{PageSize: 3, MaxPasses: 3})

	sum, err := e.Run(context.Background(), oneStart, oneEnd)
	require.NoError(t, err)

	rs := sum.Ranges[0]
	assert.Equal(t, StateDone, rs.State)
	assert.True(t, rs.Discrepancy)
	assert.Equal(t, 3, rs.Passes)
	assert.Len(t, s.submits, 3)
}

func TestStream_RetryFindsNothingLeft(t *testing.T) {
	s := &fakeSearcher{jobs: []fakeJob{
		{eventCount: 6, pages: [][]map[string]any{rows(2)}},
		{eventCount: 0},
	}}
	e := newEngine(s, &fakeCloser{}, Options{PageSize: 3})

	sum, err := e.Run(context.Background(), oneStart, oneEnd)
	require.NoError(t, err)
	assert.Equal(t, StateDone, sum.Ranges[0].State)
	assert.Equal(t, 2, sum.Ranges[0].Passes)
	assert.False(t, sum.Ranges[0].Discrepancy)
}

func TestStream_NoEvents(t *testing.T) {
	s := &fakeSearcher{jobs: []fakeJob{{eventCount: 0}}}
	c := &fakeCloser{}
	e := newEngine(s, c, Options{})

	sum, err := e.Run(context.Background(), oneStart, twoEnd)
	require.NoError(t, err)
	require.Len(t, sum.Ranges, 2)
	for _, rs := range sum.Ranges {
		assert.Equal(t, StateDone, rs.State)
	}
	assert.Empty(t, s.pages)
	assert.Empty(t, c.calls)
}

func TestStream_EmptyPageWithEvents(t *testing.T) {
	s := &fakeSearcher{jobs: []fakeJob{{
		eventCount: 4,
		pages:      [][]map[string]any{{{"other": "x"}}},
		messages:   []splunk.Message{{Type: "WARN", Text: "field event_id not found"}},
	}}}
	c := &fakeCloser{}
	e := newEngine(s, c, Options{PageSize: 3})

	sum, err := e.Run(context.Background(), oneStart, oneEnd)
	require.NoError(t, err)
	assert.Equal(t, StateDone, sum.Ranges[0].State)
	assert.True(t, sum.Ranges[0].Discrepancy)
	assert.Empty(t, c.calls)
}

func TestStream_NotReadyRetriesSameOffset(t *testing.T) {
	s := &fakeSearcher{notReady: 2, jobs: []fakeJob{{eventCount: 2, pages: [][]map[string]any{rows(2)}}}}
	rec := metrics.New("stream")
	e := newEngine(s, &fakeCloser{}, Options{PageSize: 3, Metrics: rec})

	sum, err := e.Run(context.Background(), oneStart, oneEnd)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Processed)
	require.Len(t, s.pages, 1)
	assert.Equal(t, 0, s.pages[0].offset)
}

func TestStream_CloseErrorAborts(t *testing.T) {
	s := &fakeSearcher{jobs: []fakeJob{{eventCount: 2, pages: [][]map[string]any{rows(2)}}}}
	boom := &splunk.RequestError{Method: "POST", Path: "/services/notable_update", Err: errors.New("connection reset")}
	c := &fakeCloser{errs: map[int]error{0: boom}}
	e := newEngine(s, c, Options{PageSize: 3})

	sum, err := e.Run(context.Background(), oneStart, twoEnd)
	var re *splunk.RequestError
	require.ErrorAs(t, err, &re)
	assert.False(t, sum.Halted)
	require.Len(t, sum.Ranges, 1)
	assert.Equal(t, StateFailed, sum.Ranges[0].State)
	assert.NotEmpty(t, sum.Error)
}

func TestStream_SearchErrorAborts(t *testing.T) {
	s := &fakeSearcher{
		jobs:       []fakeJob{{eventCount: 1}},
		submitErrs: map[int]error{0: &splunk.SubmissionError{StatusCode: 400, Body: "bad"}},
	}
	e := newEngine(s, &fakeCloser{}, Options{})

	sum, err := e.Run(context.Background(), oneStart, twoEnd)
	var se *splunk.SubmissionError
	require.ErrorAs(t, err, &se)
	assert.Len(t, sum.Ranges, 1)
}

func TestStream_JobFailedAborts(t *testing.T) {
	s := &fakeSearcher{jobs: []fakeJob{{waitErr: splunk.ErrJobFailed}}}
	e := newEngine(s, &fakeCloser{}, Options{})

	_, err := e.Run(context.Background(), oneStart, oneEnd)
	assert.ErrorIs(t, err, splunk.ErrJobFailed)
}

func TestRun_DiscoversEarliest(t *testing.T) {
	s := &fakeSearcher{firstTime: "1704067200.000", jobs: []fakeJob{{eventCount: 0}}}
	e := newEngine(s, &fakeCloser{}, Options{})

	sum, err := e.Run(context.Background(), "", "2024-01-15")
	require.NoError(t, err)
	assert.Equal(t, notable.FirstNotableQuery, s.submits[0].Query)
	require.Len(t, sum.Ranges, 2)
	assert.Equal(t, "2024-01-01T00:00:00", sum.Ranges[0].Earliest)
	assert.Equal(t, "2024-01-14T23:59:59", sum.Ranges[1].Latest)
}

func TestRun_NoEarliest(t *testing.T) {
	s := &fakeSearcher{}
	e := newEngine(s, &fakeCloser{}, Options{})

	sum, err := e.Run(context.Background(), "", "now")
	require.ErrorIs(t, err, ErrNoEarliest)
	assert.Empty(t, sum.Ranges)
}

func TestRun_BadTime(t *testing.T) {
	e := newEngine(&fakeSearcher{}, &fakeCloser{}, Options{})
	_, err := e.Run(context.Background(), "last tuesday", "now")
	var pe *timerange.ParseError
	assert.ErrorAs(t, err, &pe)
}

func TestRun_Cancelled(t *testing.T) {
	s := &fakeSearcher{jobs: []fakeJob{{eventCount: 0}}}
	e := newEngine(s, &fakeCloser{}, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Run(ctx, oneStart, twoEnd)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, s.submits)
}

func TestSnapshot_IsolatesRangeFailures(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "unclosed-notables")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stale.json"), []byte("[]"), 0o644))

	s := &fakeSearcher{
		jobs:       []fakeJob{{eventCount: 5, pages: [][]map[string]any{rows(5)}}},
		submitErrs: map[int]error{0: errors.New("search head unavailable")},
	}
	c := &fakeCloser{}
	e := newEngine(s, c, Options{Mode: ModeSnapshot, BatchSize: 2, SnapshotDir: dir, WriteSnapshots: true})

	sum, err := e.Run(context.Background(), oneStart, twoEnd)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 ranges failed")
	require.Len(t, sum.Ranges, 2)

	assert.Equal(t, StateFailed, sum.Ranges[0].State)
	assert.NotEmpty(t, sum.Ranges[0].Error)
	assert.Equal(t, StateDone, sum.Ranges[1].State)
	assert.Equal(t, 5, sum.Ranges[1].Successes)

	require.Len(t, c.calls, 3)
	assert.Len(t, c.calls[0].ids, 2)
	assert.Len(t, c.calls[2].ids, 1)
	assert.Equal(t, UnclosedIDsQuery, s.submits[1].Query)

	_, err = os.Stat(filepath.Join(dir, "stale.json"))
	assert.True(t, os.IsNotExist(err), "snapshot dir is recreated")
	ids, err := snapshot.ReadEventIDs(filepath.Join(dir, "2024-01-08_2024-01-13.json"))
	require.NoError(t, err)
	assert.Len(t, ids, 5)
}

func TestSnapshot_PartialBatchFailureKeepsGoing(t *testing.T) {
	s := &fakeSearcher{jobs: []fakeJob{{eventCount: 4, pages: [][]map[string]any{rows(4)}}}}
	c := &fakeCloser{results: []*notable.UpdateResult{{Success: true, SuccessCount: 1, FailureCount: 1}}}
	e := newEngine(s, c, Options{Mode: ModeSnapshot, BatchSize: 2})

	sum, err := e.Run(context.Background(), oneStart, oneEnd)
	require.Error(t, err)
	assert.Len(t, c.calls, 2)
	assert.Equal(t, 3, sum.Successes)
	assert.Equal(t, 1, sum.Failures)
	assert.False(t, sum.Halted)
}

func TestSnapshot_FromPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ids.json")
	require.True(t, snapshot.WriteBatch(rows(5), path, snapshot.Overwrite))

	s := &fakeSearcher{}
	c := &fakeCloser{}
	e := newEngine(s, c, Options{Mode: ModeSnapshot, BatchSize: 8000, FromPath: path})

	sum, err := e.Run(context.Background(), "", "")
	require.NoError(t, err)
	assert.Empty(t, s.submits)
	require.Len(t, c.calls, 1)
	assert.Len(t, c.calls[0].ids, 5)
	assert.Equal(t, 5, sum.Successes)
	assert.Equal(t, path, sum.Ranges[0].File)
}

func TestSnapshot_FromPathMissing(t *testing.T) {
	e := newEngine(&fakeSearcher{}, &fakeCloser{}, Options{Mode: ModeSnapshot, FromPath: filepath.Join(t.TempDir(), "nope")})
	sum, err := e.Run(context.Background(), "", "")
	require.Error(t, err)
	assert.Equal(t, StateFailed, sum.Ranges[0].State)
}

func TestSearchID_ClosesUntilCount(t *testing.T) {
	s := &fakeSearcher{jobs: []fakeJob{{eventCount: 10}}}
	c := &fakeCloser{results: []*notable.UpdateResult{
		{Success: true, SuccessCount: 6},
		{Success: true, SuccessCount: 4},
	}}
	e := newEngine(s, c, Options{Mode: ModeSearchID})

	sum, err := e.Run(context.Background(), oneStart, oneEnd)
	require.NoError(t, err)
	require.Len(t, c.calls, 2)
	assert.Equal(t, "sid-0", c.calls[0].sid)
	assert.Equal(t, 10, sum.Processed)
	assert.Equal(t, StateDone, sum.Ranges[0].State)
	assert.Equal(t, "smart", s.submits[0].AdhocSearchLevel)
}

func TestSearchID_StopsWithoutProgress(t *testing.T) {
	s := &fakeSearcher{jobs: []fakeJob{{eventCount: 10}}}
	c := &fakeCloser{results: []*notable.UpdateResult{{Success: true, SuccessCount: 3}, {Success: true}}}
	e := newEngine(s, c, Options{Mode: ModeSearchID})

	sum, err := e.Run(context.Background(), oneStart, oneEnd)
	require.NoError(t, err)
	assert.Len(t, c.calls, 2)
	assert.True(t, sum.Ranges[0].Discrepancy)
	assert.Equal(t, 3, sum.Processed)
}

func TestSearchID_FailureHalts(t *testing.T) {
	s := &fakeSearcher{jobs: []fakeJob{{eventCount: 10}}}
	c := &fakeCloser{results: []*notable.UpdateResult{{Success: true, SuccessCount: 7, FailureCount: 3}}}
	e := newEngine(s, c, Options{Mode: ModeSearchID})

	sum, err := e.Run(context.Background(), oneStart, twoEnd)
	require.ErrorIs(t, err, ErrHalted)
	assert.Len(t, sum.Ranges, 1)
}

func TestFetchUnclosedToFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	s := &fakeSearcher{jobs: []fakeJob{
		{eventCount: 3, pages: [][]map[string]any{rows(3)}},
		{eventCount: 0},
	}}
	c := &fakeCloser{}
	e := newEngine(s, c, Options{SnapshotDir: dir})

	sum, err := e.FetchUnclosedToFile(context.Background(), oneStart, twoEnd)
	require.NoError(t, err)
	assert.Empty(t, c.calls)
	require.Len(t, sum.Ranges, 2)

	ids, err := snapshot.ReadEventIDs(sum.Ranges[0].File)
	require.NoError(t, err)
	assert.Len(t, ids, 3)

	data, err := os.ReadFile(sum.Ranges[1].File)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}

func TestFetchUnclosedToFile_FailedRangeReturnsError(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	s := &fakeSearcher{
		jobs:       []fakeJob{{eventCount: 2, pages: [][]map[string]any{rows(2)}}},
		submitErrs: map[int]error{0: errors.New("search head unavailable")},
	}
	e := newEngine(s, &fakeCloser{}, Options{SnapshotDir: dir})

	sum, err := e.FetchUnclosedToFile(context.Background(), oneStart, twoEnd)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 ranges failed")
	assert.Contains(t, err.Error(), "search head unavailable")
	assert.Equal(t, err.Error(), sum.Error)

	require.Len(t, sum.Ranges, 2)
	assert.Equal(t, StateFailed, sum.Ranges[0].State)
	assert.Empty(t, sum.Ranges[0].File)
	assert.Equal(t, StateDone, sum.Ranges[1].State)
	assert.FileExists(t, sum.Ranges[1].File)
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in   string
		want Mode
	}{
		{"", ModeStream},
		{"stream", ModeStream},
		{"Snapshot", ModeSnapshot},
		{"sid", ModeSearchID},
		{"v2", ModeSearchID},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
	_, err := ParseMode("turbo")
	assert.Error(t, err)
}

func TestOptionsFromConfig(t *testing.T) {
	rc := config.Default().Remediation
	rc.Mode = "sid"
	rc.Granularity = "daily"
	rc.Owner = "soc"

	opts, err := OptionsFromConfig(rc)
	require.NoError(t, err)
	assert.Equal(t, ModeSearchID, opts.Mode)
	assert.Equal(t, timerange.Daily, opts.Granularity)
	assert.Equal(t, 3000, opts.PageSize)
	assert.Equal(t, "soc", opts.Close.Owner)

	rc.Granularity = "hourly"
	_, err = OptionsFromConfig(rc)
	assert.Error(t, err)
}

func TestOptionsDefaults(t *testing.T) {
	e := New(&runctx.RunContext{}, &fakeSearcher{}, &fakeCloser{}, Options{})
	opts := e.Options()
	assert.Equal(t, ModeStream, opts.Mode)
	assert.Equal(t, 3000, opts.PageSize)
	assert.Equal(t, 8000, opts.BatchSize)
	assert.Equal(t, 5, opts.MaxPasses)
	assert.Equal(t, 3*time.Second, opts.PollInterval)
}
