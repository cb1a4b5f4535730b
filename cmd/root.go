// Package cmd wires the sekripgabut commands.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/telhawk-systems/sekripgabut/internal/config"
	"github.com/telhawk-systems/sekripgabut/internal/logging"
	"github.com/telhawk-systems/sekripgabut/internal/runctx"
	"github.com/telhawk-systems/sekripgabut/internal/token"
	"github.com/telhawk-systems/sekripgabut/pkg/output"
)

var (
	cfgFile string
	cfg     *config.Config
	logger  *logging.Logger
	closers []io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "sekripgabut",
	Short: "Splunk Enterprise Security automation toolkit",
	Long: `sekripgabut automates Splunk Enterprise Security chores from the terminal.

Query notable events, page through search results, and bulk-close
unclosed notables across long time spans, split into weekly or daily
ranges.`,
	Version:       "0.2.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. SIGINT and SIGTERM cancel the context so
// polling loops stop promptly.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer closeAll()

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		if logger != nil {
			logger.Critical("command failed", logging.Error(err))
		}
		output.Error("%v", err)
	}
	return err
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml, then $HOME/.sekripgabut/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level override: debug, info, warn, error")
	rootCmd.PersistentFlags().String("output", "text", "output format: text, json, yaml")
}

func initConfig() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: Could not load .env: %v\n", err)
	}

	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not load config: %v\n", err)
		cfg = config.Default()
	}
}

func closeAll() {
	for _, c := range closers {
		_ = c.Close()
	}
	closers = nil
}

// setupLogger builds the process logger from config and the --log-level
// flag, teeing to the configured log file.
func setupLogger(cmd *cobra.Command) (*logging.Logger, error) {
	if logger != nil {
		return logger, nil
	}

	level := cfg.Logging.Level
	if flag, _ := cmd.Flags().GetString("log-level"); flag != "" {
		level = flag
	}

	opts := logging.Options{Level: logging.ParseLevel(level), Format: cfg.Logging.Format}
	if cfg.Logging.File != "" {
		w, c, err := logging.OpenFile(cfg.Logging.File)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		opts.Output = w
		closers = append(closers, c)
	}

	logger = logging.NewWithOptions(opts)
	logging.SetDefault(logger)
	return logger, nil
}

// backend validates the config and builds the RunContext used by every
// command that talks to the REST API.
func backend(cmd *cobra.Command) (*runctx.RunContext, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	l, err := setupLogger(cmd)
	if err != nil {
		return nil, err
	}
	if err := token.Check(cfg.Auth.Token, time.Now()); err != nil {
		return nil, err
	}
	rc := runctx.New(cfg, l)
	l.Debug("run context ready",
		logging.Path(cfg.Path()),
		slog.String("base_url", rc.BaseURL),
		logging.Mode(cfg.Remediation.Mode))
	return rc, nil
}

func outputFormat(cmd *cobra.Command) string {
	f, _ := cmd.Flags().GetString("output")
	return f
}
