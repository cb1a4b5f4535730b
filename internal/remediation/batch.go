package remediation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/telhawk-systems/sekripgabut/internal/logging"
	"github.com/telhawk-systems/sekripgabut/internal/snapshot"
	"github.com/telhawk-systems/sekripgabut/internal/splunk"
	"github.com/telhawk-systems/sekripgabut/internal/timerange"
)

// collect runs the event_id search for rs's range and returns every row.
func (e *Engine) collect(ctx context.Context, rs *RangeSummary) ([]map[string]any, error) {
	rs.Passes = 1
	sid, status, err := e.search(ctx, rs, splunk.SearchRequest{Query: UnclosedIDsQuery})
	if err != nil {
		return nil, err
	}
	rs.EventCount = status.EventCount
	e.opts.Metrics.Found(status.EventCount)
	if status.EventCount == 0 && status.ResultCount == 0 {
		return []map[string]any{}, nil
	}

	rows, err := e.searcher.FetchAll(ctx, sid, e.opts.PageSize, e.opts.NotReadyDelay)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch results for job %s: %w", sid, err)
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	if len(rows) > rs.EventCount {
		rs.EventCount = len(rows)
	}
	return rows, nil
}

// processSnapshot collects the range's IDs, optionally saves them, then
// closes them in BatchSize chunks.
func (e *Engine) processSnapshot(ctx context.Context, rs *RangeSummary) error {
	rows, err := e.collect(ctx, rs)
	if err != nil {
		e.transition(ctx, rs, StateFailed)
		return err
	}

	if e.opts.WriteSnapshots {
		path := snapshot.FileName(e.opts.SnapshotDir, rs.Range)
		if snapshot.WriteBatch(rows, path, snapshot.Overwrite) {
			rs.File = path
			e.logger.InfoContext(ctx, "result saved", logging.Path(path))
		} else {
			e.logger.WarnContext(ctx, "failed to write results for range", logging.Range(rs.Earliest, rs.Latest))
		}
	}

	ids := snapshot.EventIDs(rows)
	if len(ids) == 0 {
		e.logger.InfoContext(ctx, "no unclosed notable events in range")
		e.transition(ctx, rs, StateDone)
		return nil
	}
	if len(ids) < rs.EventCount {
		rs.Discrepancy = true
	}

	e.transition(ctx, rs, StateProcessing)
	if err := e.closeBatches(ctx, rs, ids); err != nil {
		e.transition(ctx, rs, StateFailed)
		return err
	}
	e.transition(ctx, rs, StateDone)
	return nil
}

// runFromPath closes the IDs stored in an existing snapshot file or directory.
func (e *Engine) runFromPath(ctx context.Context, summary *RunSummary) error {
	rs := newRangeSummary(timerange.TimeRange{})
	rs.File = e.opts.FromPath
	rs.Passes = 1

	ids, err := snapshot.ReadEventIDs(e.opts.FromPath)
	if err != nil {
		e.transition(ctx, rs, StateFailed)
		rs.Error = err.Error()
		summary.add(rs)
		return fmt.Errorf("failed to read %s: %w", e.opts.FromPath, err)
	}
	rs.EventCount = len(ids)
	e.opts.Metrics.Found(len(ids))
	if len(ids) == 0 {
		e.logger.WarnContext(ctx, "no valid event IDs found in the input", logging.Path(e.opts.FromPath))
		e.transition(ctx, rs, StateDone)
		summary.add(rs)
		return nil
	}

	e.transition(ctx, rs, StateProcessing)
	err = e.closeBatches(ctx, rs, ids)
	if err != nil {
		rs.Error = err.Error()
		e.transition(ctx, rs, StateFailed)
	} else {
		e.transition(ctx, rs, StateDone)
	}
	summary.add(rs)
	e.opts.Metrics.RangeFinished(string(rs.State))
	e.logRange(ctx, rs)
	return err
}

// closeBatches closes ids in BatchSize chunks. A failed chunk is logged and
// the rest still go out; the joined error reports every failure.
func (e *Engine) closeBatches(ctx context.Context, rs *RangeSummary, ids []string) error {
	total := (len(ids) + e.opts.BatchSize - 1) / e.opts.BatchSize
	var errs []error

	for n, start := 1, 0; start < len(ids); n, start = n+1, start+e.opts.BatchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+e.opts.BatchSize, len(ids))
		batch := ids[start:end]
		e.logger.InfoContext(ctx, "processing batch",
			slog.Int("batch", n), slog.Int("of", total), slog.Int("size", len(batch)))

		res, err := e.closeIDs(ctx, rs, batch)
		rs.Processed += len(batch)
		if err != nil {
			e.logger.ErrorContext(ctx, "batch failed", slog.Int("batch", n), logging.Error(err))
			errs = append(errs, err)
			continue
		}
		if res.Failed() {
			e.logRejected(ctx, res)
			errs = append(errs, fmt.Errorf("batch %d: %d of %d failed: %s", n, res.FailureCount, len(batch), res.Message))
		}
	}
	return errors.Join(errs...)
}
