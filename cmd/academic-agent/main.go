// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the academic-agent CLI.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/pdiddy/academic-agent/internal/config"
	"github.com/pdiddy/academic-agent/internal/eventlog"
	"github.com/pdiddy/academic-agent/internal/failure"
)

// version is set at build time via ldflags.
var version = "dev"

var (
	// engine holds the engine settings loaded before every command.
	engine *viper.Viper

	logger = zap.NewNop()
)

// rootCmd is the base command for the academic-agent CLI.
var rootCmd = &cobra.Command{
	Use:   "academic-agent",
	Short: "Automated academic literature research",
	Long: `academic-agent turns a research question into a ranked bibliography and a
library of verbatim quotes. A run generates database queries, searches the
bibliographic APIs (and, with the browser enabled, publisher databases through
the DBIS portal), deduplicates and ranks the candidates, downloads the PDFs,
extracts quotes and writes the reports into runs/<run_id>/.

Runs checkpoint after every phase. A run halted by a critical health metric,
a failure or Ctrl-C continues with "academic-agent resume <run_id>".`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Root().PersistentFlags()

		level, _ := flags.GetString("log-level")
		l, err := eventlog.NewLogger(level, os.Stderr)
		if err != nil {
			return failure.New(failure.KindFatalConfig, "cli", err).WithAction("use one of debug, info, warn, error")
		}
		logger = l

		cfgFile, _ := flags.GetString("config")
		v, used, err := config.NewViper(cfgFile)
		if err != nil {
			return err
		}
		if err := v.BindPFlag("runs_dir", flags.Lookup("runs-dir")); err != nil {
			return err
		}
		if used != "" {
			logger.Debug("using config file", zap.String("path", used))
		}
		engine = v
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "engine config file (default: ./academic-agent.yaml or ~/.config/academic-agent/academic-agent.yaml)")
	rootCmd.PersistentFlags().String("runs-dir", "runs", "parent directory of run directories")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("env-file", ".env", "dotenv file with credentials")
	rootCmd.PersistentFlags().String("secrets-dir", ".secrets/", "directory of one-file-per-key secrets")
}

func main() {
	os.Exit(execute(os.Args[1:]))
}

// execute runs the CLI with args and returns the process exit code.
func execute(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(ctx)
	_ = logger.Sync()
	return exitCode(err, os.Stderr)
}
