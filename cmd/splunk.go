package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/sekripgabut/internal/splunk"
	"github.com/telhawk-systems/sekripgabut/pkg/output"
)

var splunkCmd = &cobra.Command{
	Use:   "splunk",
	Short: "Splunk Enterprise operations",
}

var splunkInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show full server info",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := splunkClient(cmd)
		if err != nil {
			return err
		}
		info, err := client.ServerInfo(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to get server info: %w", err)
		}
		if ok, err := output.Structured(outputFormat(cmd), info); ok {
			return err
		}
		return output.JSON(info)
	},
}

var splunkVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the server version",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := splunkClient(cmd)
		if err != nil {
			return err
		}
		version, err := client.Version(cmd.Context())
		if err != nil {
			return err
		}
		if ok, err := output.Structured(outputFormat(cmd), map[string]string{"version": version}); ok {
			return err
		}
		output.Info("%s", version)
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search job operations",
}

var searchJobsCmd = &cobra.Command{
	Use:     "jobs",
	Aliases: []string{"ls"},
	Short:   "List search jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := splunkClient(cmd)
		if err != nil {
			return err
		}
		jobs, err := client.ListJobs(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list jobs: %w", err)
		}
		if ok, err := output.Structured(outputFormat(cmd), jobs); ok {
			return err
		}
		if len(jobs) == 0 {
			output.Info("No search jobs found")
			return nil
		}
		table := output.NewTable([]string{"SID", "State", "Done", "Events", "Search"})
		for _, j := range jobs {
			table.AddRow(j.SID, string(j.DispatchState), strconv.FormatBool(j.IsDone), strconv.Itoa(j.EventCount), truncate(j.Search, 60))
		}
		table.Render()
		return nil
	},
}

var searchJobCmd = &cobra.Command{
	Use:   "job <sid>",
	Short: "Show one search job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := splunkClient(cmd)
		if err != nil {
			return err
		}
		status, err := client.JobStatus(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if ok, err := output.Structured(outputFormat(cmd), status); ok {
			return err
		}
		output.Info("SID:        %s", status.SID)
		output.Info("State:      %s", status.DispatchState)
		output.Info("Done:       %t (%.0f%%)", status.IsDone, status.DoneProgress*100)
		output.Info("Events:     %d", status.EventCount)
		output.Info("Results:    %d", status.ResultCount)
		return nil
	},
}

var searchResultsCmd = &cobra.Command{
	Use:   "results <sid>",
	Short: "Fetch one page of a job's results",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := splunkClient(cmd)
		if err != nil {
			return err
		}
		offset, _ := cmd.Flags().GetInt("offset")
		count, _ := cmd.Flags().GetInt("count")

		page, err := client.ResultsPage(cmd.Context(), args[0], offset, count, nil)
		if err != nil {
			return err
		}
		for _, m := range page.Messages {
			output.Warn("%s: %s", m.Type, m.Text)
		}
		if err := output.JSON(page.Results); err != nil {
			return err
		}
		if page.HasMore {
			output.Info("More results available, next --offset %d", offset+count)
		}
		return nil
	},
}

var searchRunCmd = &cobra.Command{
	Use:   "run <query>",
	Short: "Run a search to completion and print every result row",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := splunkClient(cmd)
		if err != nil {
			return err
		}
		earliest, _ := cmd.Flags().GetString("earliest")
		latest, _ := cmd.Flags().GetString("latest")
		count, _ := cmd.Flags().GetInt("count")

		rows, err := client.Search(cmd.Context(), splunk.SearchRequest{
			Query:    args[0],
			Earliest: earliest,
			Latest:   latest,
		}, count)
		if err != nil {
			return err
		}
		if ok, err := output.Structured(outputFormat(cmd), rows); ok {
			return err
		}
		if err := output.JSON(rows); err != nil {
			return err
		}
		output.Success("%d results", len(rows))
		return nil
	},
}

func splunkClient(cmd *cobra.Command) (*splunk.Client, error) {
	rc, err := backend(cmd)
	if err != nil {
		return nil, err
	}
	return splunk.NewClient(rc), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func init() {
	rootCmd.AddCommand(splunkCmd)
	splunkCmd.AddCommand(splunkInfoCmd, splunkVersionCmd, searchCmd)
	searchCmd.AddCommand(searchJobsCmd, searchJobCmd, searchResultsCmd, searchRunCmd)

	searchResultsCmd.Flags().Int("offset", 0, "first result to return")
	searchResultsCmd.Flags().Int("count", splunk.DefaultPageSize, "results per page")

	searchRunCmd.Flags().String("earliest", "-24h", "earliest time")
	searchRunCmd.Flags().String("latest", "now", "latest time")
	searchRunCmd.Flags().Int("count", splunk.DefaultPageSize, "results per page while fetching")
}
