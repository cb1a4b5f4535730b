package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/sekripgabut/internal/notable"
	"github.com/telhawk-systems/sekripgabut/internal/remediation"
	"github.com/telhawk-systems/sekripgabut/internal/splunk"
	"github.com/telhawk-systems/sekripgabut/internal/timerange"
	"github.com/telhawk-systems/sekripgabut/pkg/output"
)

var esCmd = &cobra.Command{
	Use:   "es",
	Short: "Enterprise Security notable operations",
}

var esFirstNotableCmd = &cobra.Command{
	Use:   "first-notable-index",
	Short: "Find the oldest indexed notable event time",
	RunE: func(cmd *cobra.Command, args []string) error {
		rc, err := backend(cmd)
		if err != nil {
			return err
		}
		earliest, _ := cmd.Flags().GetString("earliest")
		latest, _ := cmd.Flags().GetString("latest")

		first, err := notable.FirstNotableTime(cmd.Context(), splunk.NewClient(rc), earliest, latest)
		if err != nil {
			return err
		}
		if first == "" {
			output.Warn("No notable event times found within the specified range")
			return nil
		}

		result := map[string]string{"_time": first}
		if t, err := timerange.Parse(first, time.Now()); err == nil {
			result["time"] = t.UTC().Format(time.RFC3339)
		}
		if ok, err := output.Structured(outputFormat(cmd), result); ok {
			return err
		}
		output.Success("First notable index time: %s", first)
		if v, ok := result["time"]; ok {
			output.Info("  %s", v)
		}
		return nil
	},
}

var esWeeklyUnclosedCmd = &cobra.Command{
	Use:   "weekly-unclosed-notable",
	Short: "Save each range's unclosed notable event IDs to JSON files",
	Long: `Search unclosed notables range by range and write one JSON file per range
to --path (recreated on every run). Nothing is closed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := remediation.OptionsFromConfig(cfg.Remediation)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("path") {
			opts.SnapshotDir, _ = cmd.Flags().GetString("path")
		}
		if cmd.Flags().Changed("granularity") {
			g, _ := cmd.Flags().GetString("granularity")
			if opts.Granularity, err = timerange.ParseGranularity(g); err != nil {
				return err
			}
		}

		rc, err := backend(cmd)
		if err != nil {
			return err
		}
		earliest, _ := cmd.Flags().GetString("earliest")
		latest, _ := cmd.Flags().GetString("latest")

		summary, runErr := newEngine(rc, opts).FetchUnclosedToFile(cmd.Context(), earliest, latest)
		if summary != nil {
			if err := printSummary(outputFormat(cmd), summary); err != nil {
				return err
			}
		}
		return runErr
	},
}

var esCloseNotableCmd = &cobra.Command{
	Use:   "close-notable [event_id...]",
	Short: "Close notable events by event ID or search ID",
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := batchFromFlags(cmd, args)
		if err != nil {
			return err
		}
		b.Status = notable.StatusClosed
		return runUpdate(cmd, b)
	},
}

var esUpdateNotableCmd = &cobra.Command{
	Use:   "update-notable [event_id...]",
	Short: "Update status, owner, urgency or comment of notable events",
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := batchFromFlags(cmd, args)
		if err != nil {
			return err
		}
		b.Status, _ = cmd.Flags().GetInt("status")
		b.Urgency, _ = cmd.Flags().GetString("urgency")
		b.Disposition, _ = cmd.Flags().GetString("disposition")
		return runUpdate(cmd, b)
	},
}

func batchFromFlags(cmd *cobra.Command, args []string) (notable.Batch, error) {
	sid, _ := cmd.Flags().GetString("sid")
	owner, _ := cmd.Flags().GetString("owner")
	comment, _ := cmd.Flags().GetString("comment")
	if owner == "" {
		owner = cfg.Remediation.Owner
	}
	if comment == "" {
		comment = cfg.Remediation.Comment
	}

	b := notable.Batch{EventIDs: args, SearchID: sid, Owner: owner, Comment: comment}
	return b, b.Validate()
}

func runUpdate(cmd *cobra.Command, b notable.Batch) error {
	rc, err := backend(cmd)
	if err != nil {
		return err
	}
	res, err := notable.NewSubmitter(rc).Update(cmd.Context(), b)
	if err != nil {
		return fmt.Errorf("failed to update notable events: %w", err)
	}
	if ok, err := output.Structured(outputFormat(cmd), res); ok {
		return err
	}
	if res.Failed() {
		output.Error("%d updated, %d failed: %s", res.SuccessCount, res.FailureCount, res.Message)
		return fmt.Errorf("backend reported %d failed updates", res.FailureCount)
	}
	output.Success("%d notable events updated", res.SuccessCount)
	if res.Message != "" {
		output.Info("%s", res.Message)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(esCmd)
	esCmd.AddCommand(esFirstNotableCmd, esWeeklyUnclosedCmd, esCloseNotableCmd, esUpdateNotableCmd)

	esFirstNotableCmd.Flags().String("earliest", "", "start time to search")
	esFirstNotableCmd.Flags().String("latest", "now", "end time to search")

	esWeeklyUnclosedCmd.Flags().String("earliest", "", "start time (default: first indexed notable)")
	esWeeklyUnclosedCmd.Flags().String("latest", "now", "end time")
	esWeeklyUnclosedCmd.Flags().String("path", "unclosed-notables", "output directory, recreated on each run")
	esWeeklyUnclosedCmd.Flags().String("granularity", "weekly", "range size: weekly or daily")

	for _, c := range []*cobra.Command{esCloseNotableCmd, esUpdateNotableCmd} {
		c.Flags().String("sid", "", "address notables by search ID instead of event IDs")
		c.Flags().String("owner", "", "new owner")
		c.Flags().String("comment", "", "comment to record")
	}
	esUpdateNotableCmd.Flags().Int("status", 0, "new status ID (5 = closed)")
	esUpdateNotableCmd.Flags().String("urgency", "", "new urgency: informational, low, medium, high, critical")
	esUpdateNotableCmd.Flags().String("disposition", "", "new disposition, e.g. disposition:1")
}
