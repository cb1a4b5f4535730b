package remediation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/telhawk-systems/sekripgabut/internal/logging"
	"github.com/telhawk-systems/sekripgabut/internal/splunk"
)

// processSearchID closes the range's notables by search ID, repeating the
// call until the closed count reaches the job's event count.
func (e *Engine) processSearchID(ctx context.Context, rs *RangeSummary) error {
	rs.Passes = 1
	sid, status, err := e.search(ctx, rs, splunk.SearchRequest{
		Query:            UnclosedQuery,
		AdhocSearchLevel: "smart",
	})
	if err != nil {
		e.transition(ctx, rs, StateFailed)
		return err
	}
	rs.EventCount = status.EventCount
	e.opts.Metrics.Found(status.EventCount)
	if status.EventCount == 0 {
		e.logger.InfoContext(ctx, "no unclosed notable events in range", logging.SID(sid))
		e.transition(ctx, rs, StateDone)
		return nil
	}

	e.transition(ctx, rs, StateProcessing)
	for rs.Processed < rs.EventCount {
		started := time.Now()
		res, err := e.closer.CloseSearch(ctx, sid, e.opts.Close)
		if err != nil {
			e.transition(ctx, rs, StateFailed)
			return fmt.Errorf("failed to close notables for job %s: %w", sid, err)
		}
		e.opts.Metrics.Closed(res.SuccessCount, res.FailureCount, time.Since(started))
		rs.Successes += res.SuccessCount
		rs.Failures += res.FailureCount
		rs.Processed += res.SuccessCount

		if res.Failed() {
			e.logRejected(ctx, res)
			e.transition(ctx, rs, StateFailed)
			return fmt.Errorf("range %s: %w", rs.Earliest, ErrHalted)
		}
		if res.SuccessCount == 0 {
			e.logger.WarnContext(ctx, "close by search ID made no progress",
				logging.SID(sid), logging.EventCount(rs.EventCount), slog.Int("closed", rs.Processed))
			rs.Discrepancy = true
			break
		}
		e.logger.InfoContext(ctx, "closed notable events by search ID",
			logging.SID(sid), slog.Int("closed", res.SuccessCount), slog.Int("total_closed", rs.Processed))
	}

	e.transition(ctx, rs, StateDone)
	return nil
}
