package remediation

import (
	"context"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/telhawk-systems/sekripgabut/internal/notable"
	"github.com/telhawk-systems/sekripgabut/internal/splunk"
)

type fakeJob struct {
	eventCount int
	pages      [][]map[string]any
	messages   []splunk.Message
	waitErr    error
}

type pageCall struct {
	sid    string
	offset int
	count  int
}

// fakeSearcher hands out jobs in submission order. Once the queue runs dry
// the last job is reused.
type fakeSearcher struct {
	jobs       []fakeJob
	submitErrs map[int]error
	notReady   int
	firstTime  string

	submits []splunk.SearchRequest
	pages   []pageCall
	bySID   map[string]fakeJob
}

func (f *fakeSearcher) SubmitSearch(_ context.Context, sr splunk.SearchRequest) (string, error) {
	n := len(f.submits)
	f.submits = append(f.submits, sr)
	if err := f.submitErrs[n]; err != nil {
		return "", err
	}
	if f.bySID == nil {
		f.bySID = map[string]fakeJob{}
	}
	job := f.jobs[min(n, len(f.jobs)-1)]
	sid := fmt.Sprintf("sid-%d", n)
	f.bySID[sid] = job
	return sid, nil
}

func (f *fakeSearcher) WaitForJob(_ context.Context, sid string, _ time.Duration) (*splunk.JobStatus, error) {
	job := f.bySID[sid]
	if job.waitErr != nil {
		return nil, job.waitErr
	}
	return &splunk.JobStatus{SID: sid, IsDone: true, DispatchState: splunk.StateDone, EventCount: job.eventCount}, nil
}

func (f *fakeSearcher) ResultsPage(_ context.Context, sid string, offset, count int, _ map[string]string) (*splunk.ResultsPage, error) {
	if f.notReady > 0 {
		f.notReady--
		return nil, splunk.ErrResultsNotReady
	}
	f.pages = append(f.pages, pageCall{sid: sid, offset: offset, count: count})
	job := f.bySID[sid]
	page := &splunk.ResultsPage{Offset: offset, Count: count, Messages: job.messages}
	if idx := offset / count; idx < len(job.pages) {
		page.Results = job.pages[idx]
	}
	page.HasMore = len(page.Results) == count
	return page, nil
}

func (f *fakeSearcher) FetchAll(_ context.Context, sid string, _ int, _ time.Duration) ([]map[string]any, error) {
	var all []map[string]any
	for _, p := range f.bySID[sid].pages {
		all = append(all, p...)
	}
	return all, nil
}

func (f *fakeSearcher) Search(_ context.Context, sr splunk.SearchRequest, _ int) ([]map[string]any, error) {
	f.submits = append(f.submits, sr)
	if f.firstTime == "" {
		return nil, nil
	}
	return []map[string]any{{"_time": f.firstTime}}, nil
}

type closeCall struct {
	ids []string
	sid string
}

// fakeCloser succeeds for every ID unless a scripted result is queued.
type fakeCloser struct {
	results []*notable.UpdateResult
	errs    map[int]error

	calls []closeCall
}

func (f *fakeCloser) next(n int, call closeCall) (*notable.UpdateResult, error) {
	idx := len(f.calls)
	f.calls = append(f.calls, call)
	if err := f.errs[idx]; err != nil {
		return nil, err
	}
	if idx < len(f.results) && f.results[idx] != nil {
		return f.results[idx], nil
	}
	return &notable.UpdateResult{Success: true, SuccessCount: n}, nil
}

func (f *fakeCloser) CloseEvents(_ context.Context, ids []string, _ notable.CloseOptions) (*notable.UpdateResult, error) {
	return f.next(len(ids), closeCall{ids: ids})
}

func (f *fakeCloser) CloseSearch(_ context.Context, sid string, _ notable.CloseOptions) (*notable.UpdateResult, error) {
	return f.next(0, closeCall{sid: sid})
}

func (f *fakeCloser) closedIDs() int {
	n := 0
	for _, c := range f.calls {
		n += len(c.ids)
	}
	return n
}

func rows(n int) []map[string]any {
	out := make([]map[string]any, n)
	for i := range out {
		out[i] = map[string]any{"event_id": gofakeit.UUID() + "@@notable@@" + gofakeit.LetterN(16)}
	}
	return out
}
