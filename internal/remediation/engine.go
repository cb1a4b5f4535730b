// Package remediation closes unclosed notable events across a long time span.
// The span is cut into daily or weekly ranges which are processed one at a
// time.
package remediation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/telhawk-systems/sekripgabut/internal/config"
	"github.com/telhawk-systems/sekripgabut/internal/logging"
	"github.com/telhawk-systems/sekripgabut/internal/metrics"
	"github.com/telhawk-systems/sekripgabut/internal/notable"
	"github.com/telhawk-systems/sekripgabut/internal/runctx"
	"github.com/telhawk-systems/sekripgabut/internal/snapshot"
	"github.com/telhawk-systems/sekripgabut/internal/splunk"
	"github.com/telhawk-systems/sekripgabut/internal/timerange"
)

const (
	// UnclosedQuery matches notables that are neither suppressed nor closed.
	UnclosedQuery = "search `notable` | search (NOT `suppression` AND NOT status=5)"
	// UnclosedIDsQuery is UnclosedQuery reduced to the event_id column.
	UnclosedIDsQuery = UnclosedQuery + " | table event_id"
)

// Searcher is the part of the search job client the engine needs.
type Searcher interface {
	SubmitSearch(ctx context.Context, sr splunk.SearchRequest) (string, error)
	WaitForJob(ctx context.Context, sid string, interval time.Duration) (*splunk.JobStatus, error)
	ResultsPage(ctx context.Context, sid string, offset, count int, params map[string]string) (*splunk.ResultsPage, error)
	FetchAll(ctx context.Context, sid string, pageSize int, retryDelay time.Duration) ([]map[string]any, error)
	Search(ctx context.Context, sr splunk.SearchRequest, pageSize int) ([]map[string]any, error)
}

// Closer submits closures.
type Closer interface {
	CloseEvents(ctx context.Context, ids []string, opts notable.CloseOptions) (*notable.UpdateResult, error)
	CloseSearch(ctx context.Context, sid string, opts notable.CloseOptions) (*notable.UpdateResult, error)
}

// Options tune a run. Zero values fall back to the defaults.
type Options struct {
	Mode          Mode
	Granularity   timerange.Granularity
	PageSize      int
	BatchSize     int
	PollInterval  time.Duration
	NotReadyDelay time.Duration
	MaxPasses     int
	Close         notable.CloseOptions

	// SnapshotDir receives one JSON file per range in snapshot mode when
	// WriteSnapshots is set. The directory is recreated at run start.
	SnapshotDir    string
	WriteSnapshots bool
	// FromPath skips searching in snapshot mode and closes the event IDs
	// found in an existing snapshot file or directory.
	FromPath string

	Metrics *metrics.Recorder
	Now     func() time.Time
}

// OptionsFromConfig maps the remediation section of the config file.
func OptionsFromConfig(c config.RemediationConfig) (Options, error) {
	mode, err := ParseMode(c.Mode)
	if err != nil {
		return Options{}, err
	}
	g, err := timerange.ParseGranularity(c.Granularity)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Mode:          mode,
		Granularity:   g,
		PageSize:      c.PageSize,
		BatchSize:     c.BatchSize,
		PollInterval:  c.PollInterval,
		NotReadyDelay: c.NotReadyDelay,
		MaxPasses:     c.MaxPasses,
		Close:         notable.CloseOptions{Owner: c.Owner, Comment: c.Comment},
		SnapshotDir:   c.SnapshotDir,
	}, nil
}

func (o Options) withDefaults() Options {
	d := config.Default().Remediation
	if o.Mode == "" {
		o.Mode = ModeStream
	}
	if o.PageSize <= 0 {
		o.PageSize = d.PageSize
	}
	if o.BatchSize <= 0 {
		o.BatchSize = d.BatchSize
	}
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	if o.NotReadyDelay <= 0 {
		o.NotReadyDelay = d.NotReadyDelay
	}
	if o.MaxPasses <= 0 {
		o.MaxPasses = d.MaxPasses
	}
	if o.SnapshotDir == "" {
		o.SnapshotDir = d.SnapshotDir
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Engine drives one remediation run.
type Engine struct {
	rc       *runctx.RunContext
	logger   *logging.Logger
	searcher Searcher
	closer   Closer
	opts     Options
}

// New creates an Engine.
func New(rc *runctx.RunContext, searcher Searcher, closer Closer, opts Options) *Engine {
	logger := rc.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Engine{
		rc:       rc,
		logger:   logger,
		searcher: searcher,
		closer:   closer,
		opts:     opts.withDefaults(),
	}
}

// Options returns the effective options after defaults were applied.
func (e *Engine) Options() Options { return e.opts }

// Run closes every unclosed notable in [earliest, latest]. An empty earliest
// starts at the oldest indexed notable.
//
// Stream and sid modes stop at the first failed closure and return ErrHalted;
// transport and search errors also abort. Snapshot mode records a failed
// range and moves on. The summary is returned in every case.
func (e *Engine) Run(ctx context.Context, earliest, latest string) (*RunSummary, error) {
	ctx = e.rc.Context(ctx)
	summary := e.newSummary()

	if e.opts.Mode == ModeSnapshot && e.opts.FromPath != "" {
		err := e.runFromPath(ctx, summary)
		return e.finish(ctx, summary, err)
	}

	ranges, err := e.partition(ctx, earliest, latest)
	if err != nil {
		return e.finish(ctx, summary, err)
	}
	if e.opts.Mode == ModeSnapshot && e.opts.WriteSnapshots {
		if err := snapshot.ResetDir(e.opts.SnapshotDir); err != nil {
			return e.finish(ctx, summary, fmt.Errorf("failed to prepare %s: %w", e.opts.SnapshotDir, err))
		}
		e.logger.InfoContext(ctx, "snapshot directory reset", logging.Path(e.opts.SnapshotDir))
	}

	var lastErr error
	for i, r := range ranges {
		if err := ctx.Err(); err != nil {
			return e.finish(ctx, summary, err)
		}
		e.logger.InfoContext(ctx, "processing range",
			logging.Range(r.Earliest(), r.Latest()),
			slog.Int("index", i+1), slog.Int("of", len(ranges)))

		rs := newRangeSummary(r)
		switch e.opts.Mode {
		case ModeSnapshot:
			err = e.processSnapshot(ctx, rs)
		case ModeSearchID:
			err = e.processSearchID(ctx, rs)
		default:
			err = e.processStream(ctx, rs)
		}
		if err != nil {
			rs.Error = err.Error()
		}
		summary.add(rs)
		e.opts.Metrics.RangeFinished(string(rs.State))
		e.logRange(ctx, rs)

		if err == nil {
			continue
		}
		if e.opts.Mode == ModeSnapshot && ctx.Err() == nil {
			e.logger.ErrorContext(ctx, "range failed, continuing",
				logging.Range(rs.Earliest, rs.Latest), logging.Error(err))
			lastErr = err
			continue
		}
		return e.finish(ctx, summary, err)
	}

	if lastErr != nil {
		return e.finish(ctx, summary, fmt.Errorf("%d of %d ranges failed, last: %w", summary.FailedRanges(), len(ranges), lastErr))
	}
	return e.finish(ctx, summary, nil)
}

// FetchUnclosedToFile writes each range's unclosed event IDs to the snapshot
// directory without closing anything. A failed range does not stop the
// others, but the run still returns an error naming how many failed.
func (e *Engine) FetchUnclosedToFile(ctx context.Context, earliest, latest string) (*RunSummary, error) {
	ctx = e.rc.Context(ctx)
	summary := e.newSummary()

	ranges, err := e.partition(ctx, earliest, latest)
	if err != nil {
		return e.finish(ctx, summary, err)
	}
	if err := snapshot.ResetDir(e.opts.SnapshotDir); err != nil {
		return e.finish(ctx, summary, fmt.Errorf("failed to prepare %s: %w", e.opts.SnapshotDir, err))
	}

	var lastErr error
	for _, r := range ranges {
		if err := ctx.Err(); err != nil {
			return e.finish(ctx, summary, err)
		}
		rs := newRangeSummary(r)
		rows, err := e.collect(ctx, rs)
		if err != nil {
			rs.Error = err.Error()
			e.transition(ctx, rs, StateFailed)
			e.logger.ErrorContext(ctx, "range failed, continuing",
				logging.Range(rs.Earliest, rs.Latest), logging.Error(err))
			lastErr = err
		} else {
			rs.File = snapshot.FileName(e.opts.SnapshotDir, r)
			if !snapshot.WriteBatch(rows, rs.File, snapshot.Overwrite) {
				e.logger.WarnContext(ctx, "failed to write results for range", logging.Range(rs.Earliest, rs.Latest))
				rs.File = ""
			}
			e.transition(ctx, rs, StateDone)
		}
		summary.add(rs)
		e.opts.Metrics.RangeFinished(string(rs.State))
		e.logRange(ctx, rs)
	}

	if lastErr != nil {
		return e.finish(ctx, summary, fmt.Errorf("%d of %d ranges failed, last: %w", summary.FailedRanges(), len(ranges), lastErr))
	}
	e.logger.InfoContext(ctx, "all files saved", logging.Path(e.opts.SnapshotDir))
	return e.finish(ctx, summary, nil)
}

func (e *Engine) newSummary() *RunSummary {
	return &RunSummary{
		RunID:   e.rc.RunID,
		Mode:    e.opts.Mode,
		Started: e.opts.Now(),
	}
}

func (e *Engine) finish(ctx context.Context, s *RunSummary, err error) (*RunSummary, error) {
	s.Finished = e.opts.Now()
	if err != nil {
		s.Error = err.Error()
		s.Halted = errors.Is(err, ErrHalted)
	}
	e.opts.Metrics.RunFinished(err == nil)
	e.logger.InfoContext(ctx, "run finished",
		logging.Mode(string(s.Mode)),
		slog.Int("ranges", len(s.Ranges)),
		slog.Int("total_events", s.TotalEvents),
		slog.Int("processed", s.Processed),
		slog.Int("successes", s.Successes),
		slog.Int("failures", s.Failures),
		slog.Bool("halted", s.Halted),
		logging.Duration(s.Finished.Sub(s.Started)))
	return s, err
}

// partition resolves earliest (discovering it when empty) and splits the span.
func (e *Engine) partition(ctx context.Context, earliest, latest string) ([]timerange.TimeRange, error) {
	if latest == "" {
		latest = "now"
	}
	if earliest == "" {
		e.logger.InfoContext(ctx, "finding the first indexed notable event time")
		first, err := notable.FirstNotableTime(ctx, e.searcher, "", "now")
		if err != nil {
			return nil, err
		}
		if first == "" {
			e.logger.WarnContext(ctx, "no notable event times found, nothing to do")
			return nil, ErrNoEarliest
		}
		e.logger.InfoContext(ctx, "first indexed notable event time found", slog.String(logging.FieldEarliest, first))
		earliest = first
	}

	ranges, err := timerange.Partition(earliest, latest, e.opts.Granularity, e.opts.Now())
	if err != nil {
		return nil, err
	}
	e.logger.InfoContext(ctx, "generated date ranges",
		slog.Int("count", len(ranges)),
		slog.String("granularity", e.opts.Granularity.String()))
	return ranges, nil
}

func (e *Engine) transition(ctx context.Context, rs *RangeSummary, to RangeState) {
	e.logger.DebugContext(ctx, "range state change",
		logging.Range(rs.Earliest, rs.Latest),
		slog.String("from", string(rs.State)),
		logging.State(string(to)))
	rs.State = to
}

func (e *Engine) logRange(ctx context.Context, rs *RangeSummary) {
	attrs := []any{
		logging.Range(rs.Earliest, rs.Latest),
		logging.State(string(rs.State)),
		logging.EventCount(rs.EventCount),
		slog.Int("processed", rs.Processed),
		slog.Int("successes", rs.Successes),
		slog.Int("failures", rs.Failures),
		slog.Int("passes", rs.Passes),
	}
	if rs.Discrepancy {
		e.logger.WarnContext(ctx, "range finished with unprocessed events", attrs...)
		return
	}
	e.logger.InfoContext(ctx, "range finished", attrs...)
}

// search submits query for rs's range and waits for it to complete.
func (e *Engine) search(ctx context.Context, rs *RangeSummary, sr splunk.SearchRequest) (string, *splunk.JobStatus, error) {
	e.transition(ctx, rs, StateSearching)
	sr.Earliest = rs.Earliest
	sr.Latest = rs.Latest

	started := time.Now()
	sid, err := e.searcher.SubmitSearch(ctx, sr)
	if err != nil {
		return "", nil, fmt.Errorf("failed to submit search: %w", err)
	}
	rs.SID = sid
	status, err := e.searcher.WaitForJob(ctx, sid, e.opts.PollInterval)
	if err != nil {
		return sid, nil, fmt.Errorf("failed waiting for job %s: %w", sid, err)
	}
	e.opts.Metrics.SearchFinished(time.Since(started))
	return sid, status, nil
}

// page fetches one results page, retrying while the job reports not ready.
func (e *Engine) page(ctx context.Context, sid string, offset int) (*splunk.ResultsPage, error) {
	for {
		page, err := e.searcher.ResultsPage(ctx, sid, offset, e.opts.PageSize, nil)
		if errors.Is(err, splunk.ErrResultsNotReady) {
			e.opts.Metrics.NotReady()
			e.logger.DebugContext(ctx, "results not ready, retrying", logging.SID(sid), logging.Offset(offset))
			if err := runctx.Sleep(ctx, e.opts.NotReadyDelay); err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to fetch results at offset %d: %w", offset, err)
		}
		e.opts.Metrics.PageFetched()
		return page, nil
	}
}

// closeIDs submits ids as one batch and folds the result into rs.
func (e *Engine) closeIDs(ctx context.Context, rs *RangeSummary, ids []string) (*notable.UpdateResult, error) {
	started := time.Now()
	res, err := e.closer.CloseEvents(ctx, ids, e.opts.Close)
	if err != nil {
		return nil, fmt.Errorf("failed to close %d notable events: %w", len(ids), err)
	}
	e.opts.Metrics.Closed(res.SuccessCount, res.FailureCount, time.Since(started))
	rs.Successes += res.SuccessCount
	rs.Failures += res.FailureCount
	return res, nil
}

func (e *Engine) logRejected(ctx context.Context, res *notable.UpdateResult) {
	e.logger.ErrorContext(ctx, "backend reported failed closures",
		slog.Bool("success", res.Success),
		slog.Int("failure_count", res.FailureCount),
		slog.String("message", res.Message),
		slog.Any("details", res.Details))
}
