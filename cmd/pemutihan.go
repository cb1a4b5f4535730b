package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/sekripgabut/internal/logging"
	"github.com/telhawk-systems/sekripgabut/internal/metrics"
	"github.com/telhawk-systems/sekripgabut/internal/notable"
	"github.com/telhawk-systems/sekripgabut/internal/remediation"
	"github.com/telhawk-systems/sekripgabut/internal/runctx"
	"github.com/telhawk-systems/sekripgabut/internal/splunk"
	"github.com/telhawk-systems/sekripgabut/internal/timerange"
)

var pemutihanCmd = &cobra.Command{
	Use:   "pemutihan [v2]",
	Short: "Bulk-close unclosed notable events",
	Long: `Close every unclosed, unsuppressed notable event between --earliest and
--latest. The span is split into weekly (or daily) ranges handled one at a
time.

Modes:
  stream    page through each range's results and close page by page (default)
  snapshot  collect each range's event IDs, optionally save them under --path,
            then close in batches; --from-path closes IDs from saved files
  sid       close each range by search ID ("v2" is an alias)

Without --earliest the run starts at the oldest indexed notable.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := remediation.OptionsFromConfig(cfg.Remediation)
		if err != nil {
			return err
		}
		if err := applyPemutihanFlags(cmd, args, &opts); err != nil {
			return err
		}

		rc, err := backend(cmd)
		if err != nil {
			return err
		}

		rec := metrics.New(string(opts.Mode))
		opts.Metrics = rec
		engine := newEngine(rc, opts)

		earliest, _ := cmd.Flags().GetString("earliest")
		latest, _ := cmd.Flags().GetString("latest")

		summary, runErr := engine.Run(cmd.Context(), earliest, latest)
		if err := rec.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			rc.Logger.Warn("failed to write metrics textfile", logging.Path(cfg.Metrics.Textfile), logging.Error(err))
		}
		if summary != nil {
			if err := printSummary(outputFormat(cmd), summary); err != nil {
				return err
			}
		}
		return runErr
	},
}

func newEngine(rc *runctx.RunContext, opts remediation.Options) *remediation.Engine {
	return remediation.New(rc, splunk.NewClient(rc), notable.NewSubmitter(rc), opts)
}

func applyPemutihanFlags(cmd *cobra.Command, args []string, opts *remediation.Options) error {
	flags := cmd.Flags()

	if len(args) == 1 {
		if args[0] != "v2" {
			return fmt.Errorf("unknown pemutihan version %q (only v2 is supported)", args[0])
		}
		opts.Mode = remediation.ModeSearchID
	}
	if flags.Changed("mode") {
		if len(args) == 1 {
			return fmt.Errorf("v2 and --mode are mutually exclusive")
		}
		m, _ := flags.GetString("mode")
		mode, err := remediation.ParseMode(m)
		if err != nil {
			return err
		}
		opts.Mode = mode
	}
	if flags.Changed("granularity") {
		g, _ := flags.GetString("granularity")
		gran, err := timerange.ParseGranularity(g)
		if err != nil {
			return err
		}
		opts.Granularity = gran
	}
	if flags.Changed("page-size") {
		opts.PageSize, _ = flags.GetInt("page-size")
	}
	if flags.Changed("batch-size") {
		opts.BatchSize, _ = flags.GetInt("batch-size")
	}
	if flags.Changed("max-passes") {
		opts.MaxPasses, _ = flags.GetInt("max-passes")
	}
	if flags.Changed("owner") {
		opts.Close.Owner, _ = flags.GetString("owner")
	}
	if flags.Changed("comment") {
		opts.Close.Comment, _ = flags.GetString("comment")
	}
	if flags.Changed("path") {
		opts.SnapshotDir, _ = flags.GetString("path")
		opts.WriteSnapshots = true
	}
	if flags.Changed("from-path") {
		opts.FromPath, _ = flags.GetString("from-path")
		if !flags.Changed("mode") {
			opts.Mode = remediation.ModeSnapshot
		}
	}
	if opts.FromPath != "" && opts.Mode != remediation.ModeSnapshot {
		return fmt.Errorf("--from-path only applies to snapshot mode")
	}
	if opts.WriteSnapshots && opts.Mode != remediation.ModeSnapshot {
		return fmt.Errorf("--path only applies to snapshot mode")
	}
	return nil
}

func init() {
	rootCmd.AddCommand(pemutihanCmd)
	addPemutihanFlags(pemutihanCmd)
}

func addPemutihanFlags(c *cobra.Command) {
	f := c.Flags()
	f.String("mode", "stream", "remediation mode: stream, snapshot, sid")
	f.String("earliest", "", "start time (default: first indexed notable)")
	f.String("latest", "now", "end time")
	f.String("granularity", "weekly", "range size: weekly or daily")
	f.String("path", "", "save each range's event IDs to this directory (snapshot mode)")
	f.String("from-path", "", "close event IDs from an existing snapshot file or directory")
	f.Int("page-size", 3000, "results per page in stream mode")
	f.Int("batch-size", 8000, "event IDs per closure in snapshot mode")
	f.Int("max-passes", 5, "search passes per range before giving up")
	f.String("owner", "", "new owner for closed notables")
	f.String("comment", "", "comment recorded on closed notables")
}
