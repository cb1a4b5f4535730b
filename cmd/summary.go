package cmd

import (
	"fmt"
	"strconv"

	"github.com/telhawk-systems/sekripgabut/internal/remediation"
	"github.com/telhawk-systems/sekripgabut/pkg/output"
)

func printSummary(format string, s *remediation.RunSummary) error {
	if ok, err := output.Structured(format, s); ok {
		return err
	}

	if len(s.Ranges) > 0 {
		table := output.NewTable([]string{"Earliest", "Latest", "State", "Events", "Processed", "Closed", "Failed", "Passes", "Note"})
		for _, r := range s.Ranges {
			note := r.File
			if r.Discrepancy {
				note = "unprocessed events remain"
			}
			if r.Error != "" {
				note = r.Error
			}
			table.AddRow(
				r.Earliest,
				r.Latest,
				string(r.State),
				strconv.Itoa(r.EventCount),
				strconv.Itoa(r.Processed),
				strconv.Itoa(r.Successes),
				strconv.Itoa(r.Failures),
				strconv.Itoa(r.Passes),
				note,
			)
		}
		table.Render()
		output.Info("")
	}

	msg := fmt.Sprintf("Run %s (%s): %d ranges, %d events, %d processed, %d closed, %d failed",
		s.RunID, s.Mode, len(s.Ranges), s.TotalEvents, s.Processed, s.Successes, s.Failures)
	switch {
	case s.Halted:
		output.Error("%s, halted", msg)
	case s.Error != "":
		output.Warn("%s", msg)
	default:
		output.Success("%s", msg)
	}
	return nil
}
