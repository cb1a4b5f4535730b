package cmd

import (
	"github.com/spf13/cobra"

	"github.com/telhawk-systems/sekripgabut/internal/config"
	"github.com/telhawk-systems/sekripgabut/pkg/output"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration file helpers",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("path")
		if err := config.WriteStarter(path); err != nil {
			return err
		}
		output.Success("Wrote %s", path)
		output.Info("Set auth.token and splunk.base_url before running other commands.")
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the loaded configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		src := cfg.Path()
		if src == "" {
			src = "defaults and environment"
		}
		output.Success("Configuration OK (%s)", src)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd, configValidateCmd)
	configInitCmd.Flags().String("path", "config.yaml", "where to write the file")
}
