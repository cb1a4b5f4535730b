package remediation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/telhawk-systems/sekripgabut/internal/logging"
	"github.com/telhawk-systems/sekripgabut/internal/snapshot"
	"github.com/telhawk-systems/sekripgabut/internal/splunk"
)

// processStream pages through the range's unclosed notables, closing each
// page as it arrives. A short page before eventCount is reached starts a
// new pass with a fresh search; the exclusion predicate skips whatever was
// already closed.
func (e *Engine) processStream(ctx context.Context, rs *RangeSummary) error {
	var p Progress

	for {
		p.newPass()
		rs.Passes = p.Pass

		sid, status, err := e.search(ctx, rs, splunk.SearchRequest{Query: UnclosedQuery})
		if err != nil {
			e.transition(ctx, rs, StateFailed)
			return err
		}
		p.TotalEventCount = status.EventCount
		if p.Pass == 1 {
			rs.EventCount = status.EventCount
			e.opts.Metrics.Found(status.EventCount)
		}
		if status.EventCount == 0 {
			e.logger.InfoContext(ctx, "no unclosed notable events in range", logging.SID(sid))
			e.transition(ctx, rs, StateDone)
			return nil
		}

		e.transition(ctx, rs, StateProcessing)
		short, err := e.streamPass(ctx, rs, sid, &p)
		if err != nil || !short {
			return err
		}

		if p.Pass >= e.opts.MaxPasses {
			e.logger.WarnContext(ctx, "retry passes exhausted",
				logging.SID(sid),
				slog.Int("passes", p.Pass),
				logging.EventCount(p.TotalEventCount),
				slog.Int("processed", p.TotalProcessed))
			rs.Discrepancy = true
			e.transition(ctx, rs, StateDone)
			return nil
		}

		e.logger.InfoContext(ctx, "short page before all events were processed, searching again",
			logging.SID(sid),
			logging.EventCount(p.TotalEventCount),
			slog.Int("processed", p.TotalProcessed),
			slog.Int("next_pass", p.Pass+1))
		e.opts.Metrics.RetryPass()
		e.transition(ctx, rs, StateRetry)
	}
}

// streamPass runs the page loop for one search job. It reports short=true
// when the job ran out of rows before eventCount events were processed. The
// range is left DONE or FAILED unless a retry is needed.
func (e *Engine) streamPass(ctx context.Context, rs *RangeSummary, sid string, p *Progress) (short bool, err error) {
	for {
		page, err := e.page(ctx, sid, p.PaginationOffset)
		if err != nil {
			e.transition(ctx, rs, StateFailed)
			return false, err
		}

		ids := snapshot.EventIDs(page.Results)
		if len(ids) == 0 {
			for _, m := range page.Messages {
				e.logger.WarnContext(ctx, "backend message", slog.String("type", m.Type), slog.String("text", m.Text))
			}
			e.logger.WarnContext(ctx, "no event IDs returned before event count was reached",
				logging.SID(sid), logging.Offset(p.PaginationOffset),
				logging.EventCount(p.TotalEventCount), slog.Int("processed", p.TotalProcessed))
			rs.Discrepancy = true
			e.transition(ctx, rs, StateDone)
			return false, nil
		}

		res, err := e.closeIDs(ctx, rs, ids)
		if err != nil {
			e.transition(ctx, rs, StateFailed)
			return false, err
		}
		p.SuccessCount += res.SuccessCount
		p.FailureCount += res.FailureCount
		p.TotalProcessed += len(ids)
		rs.Processed += len(ids)

		if res.Failed() {
			e.logRejected(ctx, res)
			e.transition(ctx, rs, StateFailed)
			return false, fmt.Errorf("range %s: %w", rs.Earliest, ErrHalted)
		}

		e.logger.InfoContext(ctx, "closed page of notable events",
			logging.SID(sid), logging.Offset(p.PaginationOffset),
			slog.Int("closed", res.SuccessCount),
			slog.Int("processed", p.TotalProcessed),
			logging.EventCount(p.TotalEventCount))

		p.PaginationOffset += e.opts.PageSize

		if p.TotalProcessed >= p.TotalEventCount {
			e.transition(ctx, rs, StateDone)
			return false, nil
		}
		if len(page.Results) < e.opts.PageSize {
			return true, nil
		}
	}
}
